package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmentor/livesession/internal/domain"
)

func TestCreateEventAssignsIDAndDefaults(t *testing.T) {
	s := NewMemoryStore()

	ev := &domain.LiveEvent{Title: "Weekly sync"}
	require.NoError(t, s.CreateEvent(ev))
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, domain.EventScheduled, ev.Status)

	got, ok := s.GetEvent(ev.ID)
	require.True(t, ok)
	assert.Equal(t, "Weekly sync", got.Title)

	err := s.CreateEvent(&domain.LiveEvent{})
	assert.ErrorIs(t, err, domain.ErrTitleEmpty)
}

func TestListEventsFiltersByStatus(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateEvent(&domain.LiveEvent{Title: "a", Status: domain.EventLive}))
	require.NoError(t, s.CreateEvent(&domain.LiveEvent{Title: "b", Status: domain.EventEnded}))

	assert.Len(t, s.ListEvents(""), 2)
	assert.Len(t, s.ListEvents("all"), 2)
	assert.Len(t, s.ListEvents(domain.EventLive), 1)
	assert.Empty(t, s.ListEvents(domain.EventScheduled))
}

func TestMessagesKeepReceiptOrder(t *testing.T) {
	s := NewMemoryStore()
	ev := &domain.LiveEvent{Title: "t"}
	require.NoError(t, s.CreateEvent(ev))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(ev.ID, &domain.ChatMessage{
			SenderName: "alice",
			Content:    fmt.Sprintf("m%d", i),
		}))
	}

	msgs := s.Messages(ev.ID)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.Content)
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}
}

func TestEmptyHistoryIsNotAnError(t *testing.T) {
	s := NewMemoryStore()
	assert.Empty(t, s.Messages("never-created"))

	ev := &domain.LiveEvent{Title: "fresh"}
	require.NoError(t, s.CreateEvent(ev))
	assert.Empty(t, s.Messages(ev.ID))
}

func TestAppendValidation(t *testing.T) {
	s := NewMemoryStore()
	ev := &domain.LiveEvent{Title: "t"}
	require.NoError(t, s.CreateEvent(ev))

	err := s.AppendMessage("ghost", &domain.ChatMessage{Content: "x"})
	assert.ErrorIs(t, err, ErrEventNotFound)

	err = s.AppendMessage(ev.ID, &domain.ChatMessage{})
	assert.ErrorIs(t, err, domain.ErrContentEmpty)

	// A file post with no text content is fine.
	require.NoError(t, s.AppendMessage(ev.ID, &domain.ChatMessage{Type: "file", FileURL: "https://x/y.pdf"}))
}

func TestConcurrentAppendsAllLand(t *testing.T) {
	s := NewMemoryStore()
	ev := &domain.LiveEvent{Title: "t"}
	require.NoError(t, s.CreateEvent(ev))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.AppendMessage(ev.ID, &domain.ChatMessage{Content: fmt.Sprintf("m%d", i)})
		}(i)
	}
	wg.Wait()

	msgs := s.Messages(ev.ID)
	require.Len(t, msgs, 20)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "slice order must agree with receipt time")
	}
}

func TestSenderRateLimiter(t *testing.T) {
	rl := NewSenderRateLimiter(3, 200*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("alice"))
	}
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"), "limits are per sender")

	time.Sleep(250 * time.Millisecond)
	assert.True(t, rl.Allow("alice"), "window slides")
}
