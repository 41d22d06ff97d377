package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openmentor/livesession/internal/domain"
	"github.com/openmentor/livesession/internal/restclient"
)

const DefaultChatPollInterval = 10 * time.Second

// ChatChannel is the participant view of the in-room chat: poll-backed
// history plus best-effort sends with optimistic local append.
type ChatChannel struct {
	client   *restclient.Client
	eventID  string
	interval time.Duration
	onUpdate func([]domain.ChatMessage)

	mu   sync.Mutex
	msgs []domain.ChatMessage
}

func NewChatChannel(client *restclient.Client, eventID string, interval time.Duration) *ChatChannel {
	if interval <= 0 {
		interval = DefaultChatPollInterval
	}
	return &ChatChannel{client: client, eventID: eventID, interval: interval}
}

// OnUpdate registers the view refresh callback.
func (c *ChatChannel) OnUpdate(fn func([]domain.ChatMessage)) { c.onUpdate = fn }

// CreateEvent creates the live event whose id becomes the signaling room.
func CreateEvent(ctx context.Context, client *restclient.Client, title, description string, startAt time.Time, status string) (string, error) {
	code, body, err := client.Post(ctx, "/live/events", map[string]any{
		"title":       title,
		"description": description,
		"startAt":     startAt.Format(time.RFC3339),
		"status":      status,
	})
	if err != nil {
		return "", err
	}
	if code != http.StatusCreated {
		return "", fmt.Errorf("create event: status %d", code)
	}
	var resp struct {
		Data domain.LiveEvent `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return resp.Data.ID, nil
}

// LoadHistory fetches prior messages. Idempotent and poll-safe; an empty
// room yields an empty history, not an error.
func (c *ChatChannel) LoadHistory(ctx context.Context) error {
	status, body, err := c.client.Get(ctx, "/live/events/"+c.eventID+"/chat")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("load history: status %d", status)
	}
	var resp struct {
		Data []domain.ChatMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}

	// Server-acknowledged order replaces the local view wholesale, so
	// every participant converges on the same ordering.
	c.mu.Lock()
	c.msgs = resp.Data
	c.mu.Unlock()
	if c.onUpdate != nil {
		c.onUpdate(resp.Data)
	}
	return nil
}

// Start polls history until ctx is done.
func (c *ChatChannel) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.LoadHistory(ctx); err != nil {
					log.Debug().Err(err).Str("module", "client.chat").Msg("poll failed")
				}
			}
		}
	}()
}

// Send posts a message. On success the message is appended optimistically
// to the local view; on failure it is simply not added. Chat is
// best-effort alongside the session, not authoritative state.
func (c *ChatChannel) Send(ctx context.Context, content string) error {
	status, body, err := c.client.Post(ctx, "/live/events/"+c.eventID+"/chat", map[string]any{
		"content": content,
		"type":    "text",
	})
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("send: status %d", status)
	}
	var resp struct {
		Data domain.ChatMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}

	c.mu.Lock()
	c.msgs = append(c.msgs, resp.Data)
	snapshot := make([]domain.ChatMessage, len(c.msgs))
	copy(snapshot, c.msgs)
	c.mu.Unlock()
	if c.onUpdate != nil {
		c.onUpdate(snapshot)
	}
	return nil
}

// Messages snapshots the local view in display order.
func (c *ChatChannel) Messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ChatMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}
