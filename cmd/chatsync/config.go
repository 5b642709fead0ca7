package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.chatsync/config.toml.
type Config struct {
	Default  ConfigDefault  `toml:"default"`
	Realtime ConfigRealtime `toml:"realtime"`
}

// ConfigDefault holds connection settings.
type ConfigDefault struct {
	BaseURL     string `toml:"base_url"`
	RealtimeURL string `toml:"realtime_url"`
	Timeout     string `toml:"timeout"`
	LogLevel    string `toml:"log_level"`
}

// ConfigRealtime holds realtime channel settings.
type ConfigRealtime struct {
	// Reconnect re-establishes a dropped channel and rejoins its room.
	// Unset means enabled.
	Reconnect *bool `toml:"reconnect,omitempty"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the CLI home (CHATSYNC_HOME or ~/.chatsync), creating it
// if needed.
func configDir() (string, error) {
	dir := os.Getenv("CHATSYNC_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".chatsync")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func sessionPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return readConfig(path)
}

func readConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		return setDefaultValue(cfg, field, value)
	case "realtime":
		if field != "reconnect" {
			return fmt.Errorf("unknown field %q in section [realtime]", field)
		}
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("reconnect must be true or false: %w", err)
		}
		cfg.Realtime.Reconnect = &on
		return nil
	default:
		return fmt.Errorf("unknown config section %q (valid: default, realtime)", section)
	}
}

func setDefaultValue(cfg *Config, field, value string) error {
	switch field {
	case "base_url":
		cfg.Default.BaseURL = value
	case "realtime_url":
		cfg.Default.RealtimeURL = value
	case "timeout":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("timeout must be a duration like 30s: %w", err)
		}
		cfg.Default.Timeout = value
	case "log_level":
		cfg.Default.LogLevel = value
	default:
		return fmt.Errorf("unknown field %q in section [default]", field)
	}
	return nil
}

// ============================================================================
// config command
// ============================================================================

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatsync configuration",
	Long:  "View or modify the CLI configuration stored in ~/.chatsync/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No configuration file found. Run 'chatsync config set default.base_url <url>' to create one.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: chatsync config set default.base_url http://localhost:5001",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
