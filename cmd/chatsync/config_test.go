package main

import (
	"path/filepath"
	"testing"
	"time"

	chatsync "github.com/chatsync-io/chatsync-go"
	"github.com/stretchr/testify/require"
)

func TestSetConfigValue(t *testing.T) {
	t.Run("should set known fields", func(t *testing.T) {
		req := require.New(t)
		cfg := &Config{}
		req.NoError(setConfigValue(cfg, "default.base_url", "http://chat.local:5001"))
		req.NoError(setConfigValue(cfg, "default.timeout", "5s"))
		req.NoError(setConfigValue(cfg, "default.log_level", "debug"))
		req.Equal("http://chat.local:5001", cfg.Default.BaseURL)
		req.Equal("5s", cfg.Default.Timeout)
		req.Equal("debug", cfg.Default.LogLevel)
	})

	t.Run("should reject bad keys and values", func(t *testing.T) {
		cfg := &Config{}
		require.Error(t, setConfigValue(cfg, "base_url", "x"))
		require.Error(t, setConfigValue(cfg, "server.base_url", "x"))
		require.Error(t, setConfigValue(cfg, "default.color", "x"))
		require.Error(t, setConfigValue(cfg, "default.timeout", "soon"))
		require.Empty(t, cfg.Default.Timeout)
		require.Error(t, setConfigValue(cfg, "realtime.reconnect", "sometimes"))
		require.Error(t, setConfigValue(cfg, "realtime.url", "x"))
		require.Nil(t, cfg.Realtime.Reconnect)
	})

	t.Run("should set the realtime reconnect switch", func(t *testing.T) {
		cfg := &Config{}
		require.NoError(t, setConfigValue(cfg, "realtime.reconnect", "false"))
		require.NotNil(t, cfg.Realtime.Reconnect)
		require.False(t, *cfg.Realtime.Reconnect)
	})
}

func TestConfigFile(t *testing.T) {
	req := require.New(t)
	t.Setenv("CHATSYNC_HOME", t.TempDir())

	cfg, err := loadConfig()
	req.NoError(err)
	req.Equal(Config{}, *cfg)

	req.NoError(setConfigValue(cfg, "default.realtime_url", "ws://chat.local/ws"))
	req.NoError(setConfigValue(cfg, "realtime.reconnect", "off"))
	req.NoError(saveConfig(cfg))

	path, err := configPath()
	req.NoError(err)
	reread, err := readConfig(path)
	req.NoError(err)
	req.Equal("ws://chat.local/ws", reread.Default.RealtimeURL)
	req.NotNil(reread.Realtime.Reconnect)
	req.False(*reread.Realtime.Reconnect)

	session, err := sessionPath()
	req.NoError(err)
	req.Equal(filepath.Dir(path), filepath.Dir(session))
}

func TestMergeSettings(t *testing.T) {
	cfg := &Config{Default: ConfigDefault{BaseURL: "http://file", Timeout: "10s", LogLevel: "info"}}

	t.Run("should fall back to defaults", func(t *testing.T) {
		s, err := mergeSettings(&Config{}, envConfig{}, "", "")
		require.NoError(t, err)
		require.Equal(t, chatsync.DefaultBaseURL, s.BaseURL)
		require.Equal(t, chatsync.DefaultTimeout, s.Timeout)
	})

	t.Run("should prefer flags over env over file", func(t *testing.T) {
		req := require.New(t)
		s, err := mergeSettings(cfg, envConfig{BaseURL: "http://env", Timeout: "3s"}, "", "")
		req.NoError(err)
		req.Equal("http://env", s.BaseURL)
		req.Equal(3*time.Second, s.Timeout)
		req.Equal("info", s.LogLevel)

		s, err = mergeSettings(cfg, envConfig{BaseURL: "http://env"}, "http://flag", "debug")
		req.NoError(err)
		req.Equal("http://flag", s.BaseURL)
		req.Equal("debug", s.LogLevel)
		req.Equal(10*time.Second, s.Timeout)
	})

	t.Run("should reconnect unless turned off", func(t *testing.T) {
		req := require.New(t)
		off := false
		s, err := mergeSettings(&Config{}, envConfig{}, "", "")
		req.NoError(err)
		req.True(s.Reconnect)
		req.True(realtimeConfig(s).AutoReconnect)

		withFile := &Config{Realtime: ConfigRealtime{Reconnect: &off}}
		s, err = mergeSettings(withFile, envConfig{}, "", "")
		req.NoError(err)
		req.False(s.Reconnect)
		req.False(realtimeConfig(s).AutoReconnect)

		s, err = mergeSettings(withFile, envConfig{Reconnect: "true"}, "", "")
		req.NoError(err)
		req.True(s.Reconnect)

		_, err = mergeSettings(&Config{}, envConfig{Reconnect: "maybe"}, "", "")
		req.Error(err)
	})

	t.Run("should reject an invalid timeout", func(t *testing.T) {
		_, err := mergeSettings(&Config{}, envConfig{Timeout: "later"}, "", "")
		require.Error(t, err)
	})
}

func TestParseSeedUser(t *testing.T) {
	name, email, password, err := parseSeedUser("Ann:a@x.com:p:with:colons")
	require.NoError(t, err)
	require.Equal(t, "Ann", name)
	require.Equal(t, "a@x.com", email)
	require.Equal(t, "p:with:colons", password)

	for _, bad := range []string{"Ann", "Ann:a@x.com", "Ann::p", "Ann:a@x.com:"} {
		_, _, _, err := parseSeedUser(bad)
		require.Error(t, err, bad)
	}
}
