// Package chat holds the live-event and in-room chat persistence plus its
// HTTP surface. Messages are append-only and ordered by server receipt
// time; no edit or delete.
package chat

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openmentor/livesession/internal/domain"
)

var ErrEventNotFound = errors.New("event not found")

// Store persists live events and their chat history.
type Store interface {
	CreateEvent(ev *domain.LiveEvent) error
	GetEvent(id string) (*domain.LiveEvent, bool)
	ListEvents(status string) []*domain.LiveEvent
	AppendMessage(eventID string, msg *domain.ChatMessage) error
	Messages(eventID string) []*domain.ChatMessage
}

// MemoryStore keeps everything in process memory. Chat alongside a live
// session is best-effort; losing it on restart mirrors losing the rooms.
type MemoryStore struct {
	mu       sync.RWMutex
	events   map[string]*domain.LiveEvent
	messages map[string][]*domain.ChatMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]*domain.LiveEvent),
		messages: make(map[string][]*domain.ChatMessage),
	}
}

// NewEventID mirrors the id scheme of the events table.
func NewEventID() string { return "live_" + uuid.NewString() }

// NewMessageID mirrors the id scheme of the chat table.
func NewMessageID() string { return "msg_" + uuid.NewString() }

func (s *MemoryStore) CreateEvent(ev *domain.LiveEvent) error {
	if ev.Title == "" {
		return domain.ErrTitleEmpty
	}
	if ev.ID == "" {
		ev.ID = NewEventID()
	}
	now := time.Now()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	if ev.Status == "" {
		ev.Status = domain.EventScheduled
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[ev.ID]; exists {
		return fmt.Errorf("event %s already exists", ev.ID)
	}
	s.events[ev.ID] = ev
	return nil
}

func (s *MemoryStore) GetEvent(id string) (*domain.LiveEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	return ev, ok
}

func (s *MemoryStore) ListEvents(status string) []*domain.LiveEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.LiveEvent, 0, len(s.events))
	for _, ev := range s.events {
		if status != "" && status != "all" && ev.Status != status {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// AppendMessage stamps the receipt time under the lock, so CreatedAt
// order and slice order agree even with concurrent senders.
func (s *MemoryStore) AppendMessage(eventID string, msg *domain.ChatMessage) error {
	if msg.Content == "" && msg.FileURL == "" {
		return domain.ErrContentEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		return ErrEventNotFound
	}
	if msg.ID == "" {
		msg.ID = NewMessageID()
	}
	msg.EventID = eventID
	msg.CreatedAt = time.Now()
	if msg.Type == "" {
		msg.Type = "text"
	}
	s.messages[eventID] = append(s.messages[eventID], msg)
	return nil
}

// Messages returns history in receipt order. An unknown or empty event
// yields an empty slice, not an error: a new room simply has no history.
func (s *MemoryStore) Messages(eventID string) []*domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[eventID]
	out := make([]*domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}
