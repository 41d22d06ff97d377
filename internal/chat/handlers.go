package chat

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/openmentor/livesession/internal/domain"
	"github.com/openmentor/livesession/internal/relay"
)

// Controller serves the live events + chat REST surface consumed by the
// Session Chat Channel.
type Controller struct {
	Store   Store
	Auth    relay.Authenticator
	Limiter *SenderRateLimiter
}

func NewController(store Store, auth relay.Authenticator, limiter *SenderRateLimiter) *Controller {
	return &Controller{Store: store, Auth: auth, Limiter: limiter}
}

func credentialFrom(c *gin.Context) relay.Credential {
	cred := relay.Credential{DevKey: c.GetHeader("X-Dev-Key")}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		cred.Token = strings.TrimPrefix(h, "Bearer ")
	}
	return cred
}

// Protect rejects requests without a valid credential.
func (ctl *Controller) Protect() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := ctl.Auth.Authenticate(c.Request.Context(), credentialFrom(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
			return
		}
		c.Set("user_id", string(uid))
		c.Next()
	}
}

// OptionalAuth resolves identity when present but lets the request
// through either way. History reads are world-readable inside a session.
func (ctl *Controller) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid, err := ctl.Auth.Authenticate(c.Request.Context(), credentialFrom(c)); err == nil {
			c.Set("user_id", string(uid))
		}
		c.Next()
	}
}

type createEventRequest struct {
	ProjectID   string `json:"projectId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StartAt     string `json:"startAt"`
	EndAt       string `json:"endAt"`
	Status      string `json:"status"`
	MeetingLink string `json:"meetingLink"`
}

func parseWhen(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func (ctl *Controller) CreateEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "title is required"})
		return
	}

	ev := &domain.LiveEvent{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		StartAt:     parseWhen(req.StartAt),
		EndAt:       parseWhen(req.EndAt),
		Status:      req.Status,
		MeetingLink: req.MeetingLink,
	}
	if err := ctl.Store.CreateEvent(ev); err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("create event")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not create event"})
		return
	}

	log.Info().Str("module", "chat").Str("event", ev.ID).Str("title", ev.Title).Msg("event created")
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": ev})
}

func (ctl *Controller) ListEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": ctl.Store.ListEvents(c.Query("status"))})
}

func (ctl *Controller) GetChat(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": ctl.Store.Messages(c.Param("id"))})
}

type postChatRequest struct {
	Content  string `json:"content"`
	Type     string `json:"type"`
	FileURL  string `json:"fileUrl"`
	Duration int    `json:"duration"`
}

func (ctl *Controller) PostChat(c *gin.Context) {
	eventID := c.Param("id")
	uid := domain.UserID(c.GetString("user_id"))

	if ctl.Limiter != nil && !ctl.Limiter.Allow(uid) {
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "too many messages"})
		return
	}

	var req postChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "bad payload"})
		return
	}

	msg := &domain.ChatMessage{
		SenderID:   uid,
		SenderName: string(uid),
		Content:    req.Content,
		Type:       req.Type,
		FileURL:    req.FileURL,
		Duration:   req.Duration,
	}
	if err := ctl.Store.AppendMessage(eventID, msg); err != nil {
		switch err {
		case ErrEventNotFound:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "event not found"})
		case domain.ErrContentEmpty:
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "content is required"})
		default:
			log.Error().Err(err).Str("module", "chat").Str("event", eventID).Msg("append message")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not save message"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": msg})
}
