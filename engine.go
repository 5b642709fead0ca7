package chatsync

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

//go:generate go run go.uber.org/mock/mockgen -destination=mock_engine_test.go -package=chatsync . MessageAPI,RoomChannel

// MessageAPI is the message half of the REST API. *MessagesClient implements it.
type MessageAPI interface {
	History(ctx context.Context, chatID string) ([]Message, error)
	Send(ctx context.Context, chatID, content string) (Message, error)
}

// RoomChannel is the part of the realtime channel the engine drives.
// *RealtimeChannel implements it.
type RoomChannel interface {
	SwitchRoom(ctx context.Context, old, next string) error
	LeaveRoom(ctx context.Context, chatID string) error
	SendMessage(ctx context.Context, chatID string, msg Message) error
	OnMessage(h func(Message)) (unsubscribe func())
}

const inboxSize = 256

// SyncEngine owns the message list of the active conversation. History
// results are applied only when no other conversation was selected since the
// fetch started; realtime events go through a single consumer goroutine and
// are applied only to the conversation they belong to.
type SyncEngine struct {
	api  MessageAPI
	room RoomChannel
	auth *AuthSession
	log  zerolog.Logger

	// selectMu keeps room switches in selection order.
	selectMu sync.Mutex

	mu         sync.Mutex
	active     string
	generation uint64
	messages   []Message
	seen       map[string]struct{}

	inbox       chan Message
	updates     chan struct{}
	done        chan struct{}
	stopped     chan struct{}
	unsubscribe func()
	closeOnce   sync.Once
}

// NewSyncEngine subscribes to room and starts the inbound consumer. Call Close
// to stop it.
func NewSyncEngine(api MessageAPI, room RoomChannel, auth *AuthSession, log zerolog.Logger) *SyncEngine {
	e := &SyncEngine{
		api:     api,
		room:    room,
		auth:    auth,
		log:     log.With().Str("component", "engine").Logger(),
		seen:    make(map[string]struct{}),
		inbox:   make(chan Message, inboxSize),
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	e.unsubscribe = room.OnMessage(e.ReceiveRealtime)
	go e.consume()
	return e
}

// Active returns the selected conversation id, or "" when none.
func (e *SyncEngine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Messages returns a snapshot of the active list.
func (e *SyncEngine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Message(nil), e.messages...)
}

// Updates receives a value after the active list or selection changes.
// Notifications coalesce.
func (e *SyncEngine) Updates() <-chan struct{} {
	return e.updates
}

// SelectConversation makes conv active, moves the realtime subscription to its
// room and loads its history. A realtime failure is logged and does not stop
// the history load.
func (e *SyncEngine) SelectConversation(ctx context.Context, conv Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("%w: conversation without id", ErrInvalidInput)
	}

	e.selectMu.Lock()
	e.mu.Lock()
	old := e.active
	e.active = conv.ID
	e.generation++
	e.messages = nil
	e.seen = make(map[string]struct{})
	e.mu.Unlock()
	e.notify()

	if err := e.room.SwitchRoom(ctx, old, conv.ID); err != nil {
		e.log.Warn().Err(err).Str("chat", conv.ID).Msg("room switch failed, realtime updates unavailable")
	}
	e.selectMu.Unlock()

	return e.LoadHistory(ctx, conv.ID)
}

// LoadHistory fetches the full history of chatID and installs it if chatID is
// still the active conversation of the same selection. Superseded results are
// discarded silently.
func (e *SyncEngine) LoadHistory(ctx context.Context, chatID string) error {
	e.mu.Lock()
	gen := e.generation
	active := e.active
	e.mu.Unlock()
	if active == "" {
		return ErrNoActiveConversation
	}
	if active != chatID {
		e.log.Debug().Str("chat", chatID).Str("active", active).Msg("history requested for inactive conversation")
		return nil
	}

	history, err := e.api.History(ctx, chatID)

	e.mu.Lock()
	if e.generation != gen || e.active != chatID {
		e.mu.Unlock()
		e.log.Debug().Str("chat", chatID).Msg("discarding stale history")
		return nil
	}
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("load history: %w", err)
	}

	// Realtime events that arrived during the fetch are kept.
	// Messages without an id cannot be told apart and are all kept.
	seen := make(map[string]struct{}, len(history)+len(e.messages))
	merged := lo.Filter(append(history, e.messages...), func(m Message, _ int) bool {
		if m.Chat != "" && m.Chat != chatID {
			return false
		}
		if m.ID == "" {
			return true
		}
		if _, dup := seen[m.ID]; dup {
			return false
		}
		seen[m.ID] = struct{}{}
		return true
	})
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].CreatedAt.Before(merged[j].CreatedAt) })
	e.messages = merged
	e.seen = seen
	e.mu.Unlock()

	e.log.Debug().Str("chat", chatID).Int("count", len(merged)).Msg("history applied")
	e.notify()
	return nil
}

// ReceiveRealtime queues an inbound message for the consumer. It is the
// handler registered on the room channel.
func (e *SyncEngine) ReceiveRealtime(msg Message) {
	select {
	case e.inbox <- msg:
	case <-e.done:
	}
}

// Send persists content in the active conversation, appends the stored
// message and broadcasts it to the room. The broadcast is best effort.
func (e *SyncEngine) Send(ctx context.Context, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	chatID := e.Active()
	if chatID == "" {
		return Message{}, ErrNoActiveConversation
	}
	if _, err := e.auth.Current(); err != nil {
		return Message{}, err
	}

	msg, err := e.api.Send(ctx, chatID, content)
	if err != nil {
		return Message{}, fmt.Errorf("send message: %w", err)
	}
	if msg.Chat == "" {
		msg.Chat = chatID
	}

	e.mu.Lock()
	applied := e.active == msg.Chat && e.insertLocked(msg)
	e.mu.Unlock()
	if applied {
		e.notify()
	}

	if err := e.room.SendMessage(ctx, msg.Chat, msg); err != nil {
		e.log.Warn().Err(err).Str("chat", msg.Chat).Msg("broadcast failed")
	}
	return msg, nil
}

// Close leaves the joined room, drops the message handler and stops the
// consumer. The engine cannot be reused.
func (e *SyncEngine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		e.unsubscribe()
		close(e.done)
		<-e.stopped

		e.selectMu.Lock()
		defer e.selectMu.Unlock()
		e.mu.Lock()
		active := e.active
		e.active = ""
		e.generation++
		e.messages = nil
		e.seen = make(map[string]struct{})
		e.mu.Unlock()

		if active != "" {
			err = e.room.LeaveRoom(ctx, active)
		}
	})
	return err
}

func (e *SyncEngine) consume() {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			return
		case msg := <-e.inbox:
			e.apply(msg)
		}
	}
}

func (e *SyncEngine) apply(msg Message) {
	e.mu.Lock()
	if e.active == "" || msg.Chat != e.active {
		e.mu.Unlock()
		e.log.Debug().Str("chat", msg.Chat).Msg("dropping message for inactive conversation")
		return
	}
	applied := e.insertLocked(msg)
	e.mu.Unlock()
	if applied {
		e.notify()
	}
}

// insertLocked adds msg in creation order after any message with the same
// timestamp. It reports false for a duplicate id.
func (e *SyncEngine) insertLocked(msg Message) bool {
	if msg.ID != "" {
		if _, dup := e.seen[msg.ID]; dup {
			return false
		}
		e.seen[msg.ID] = struct{}{}
	}
	idx := sort.Search(len(e.messages), func(i int) bool {
		return e.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	e.messages = slices.Insert(e.messages, idx, msg)
	return true
}

func (e *SyncEngine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}
