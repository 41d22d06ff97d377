package domain

import (
	"errors"
	"time"
)

// Live event statuses as stored by the events API.
const (
	EventScheduled = "scheduled"
	EventLive      = "live"
	EventEnded     = "ended"
)

var (
	ErrTitleEmpty   = errors.New("event title empty")
	ErrContentEmpty = errors.New("message content empty")
)

// LiveEvent is the room/event record whose ID doubles as the signaling RoomID.
type LiveEvent struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	Status      string     `json:"status"`
	MeetingLink string     `json:"meeting_link,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ChatMessage is an event-scoped, append-only message ordered by server
// receipt time. Voice and file posts carry the optional FileURL/Duration.
type ChatMessage struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	SenderID   UserID    `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	FileURL    string    `json:"file_url,omitempty"`
	Duration   int       `json:"duration,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
