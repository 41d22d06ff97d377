package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmentor/livesession/internal/domain"
	"github.com/openmentor/livesession/internal/relay"
)

func testRouter(t *testing.T) (*gin.Engine, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	auth := relay.DevKeyAuthenticator{Key: "dev", User: "dev-user"}
	ctl := NewController(store, auth, NewSenderRateLimiter(100, time.Minute))

	r := gin.New()
	api := r.Group("/api/live")
	api.GET("/events", ctl.OptionalAuth(), ctl.ListEvents)
	api.POST("/events", ctl.Protect(), ctl.CreateEvent)
	api.GET("/events/:id/chat", ctl.OptionalAuth(), ctl.GetChat)
	api.POST("/events/:id/chat", ctl.Protect(), ctl.PostChat)
	return r, store
}

func doJSON(r *gin.Engine, method, path string, body any, devKey string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if devKey != "" {
		req.Header.Set("X-Dev-Key", devKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateEventEndpoint(t *testing.T) {
	r, _ := testRouter(t)

	w := doJSON(r, http.MethodPost, "/api/live/events", gin.H{
		"title":       "Mentorship kickoff",
		"description": "intro call",
		"startAt":     time.Now().Format(time.RFC3339),
		"status":      "live",
	}, "dev")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Success bool             `json:"success"`
		Data    domain.LiveEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data.ID, "event id becomes the signaling roomId")
	assert.Equal(t, "live", resp.Data.Status)
}

func TestCreateEventRequiresAuth(t *testing.T) {
	r, _ := testRouter(t)

	w := doJSON(r, http.MethodPost, "/api/live/events", gin.H{"title": "x"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(r, http.MethodPost, "/api/live/events", gin.H{"title": "x"}, "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPostThenGetChatReturnsHelloLast(t *testing.T) {
	r, store := testRouter(t)

	ev := &domain.LiveEvent{ID: "evt-1", Title: "t"}
	require.NoError(t, store.CreateEvent(ev))
	require.NoError(t, store.AppendMessage("evt-1", &domain.ChatMessage{SenderName: "bob", Content: "earlier"}))

	w := doJSON(r, http.MethodPost, "/api/live/events/evt-1/chat", gin.H{"content": "hello", "type": "text"}, "dev")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodGet, "/api/live/events/evt-1/chat", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                 `json:"success"`
		Data    []domain.ChatMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data)
	last := resp.Data[len(resp.Data)-1]
	assert.Equal(t, "hello", last.Content)
	assert.Equal(t, domain.UserID("dev-user"), last.SenderID)
}

func TestGetChatOnUnknownEventIsEmptyList(t *testing.T) {
	r, _ := testRouter(t)

	w := doJSON(r, http.MethodGet, "/api/live/events/nope/chat", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []domain.ChatMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data)
}

func TestPostChatToUnknownEventIs404(t *testing.T) {
	r, _ := testRouter(t)

	w := doJSON(r, http.MethodPost, "/api/live/events/nope/chat", gin.H{"content": "x"}, "dev")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostChatRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := NewMemoryStore()
	require.NoError(t, store.CreateEvent(&domain.LiveEvent{ID: "evt-1", Title: "t"}))
	ctl := NewController(store, relay.DevKeyAuthenticator{Key: "dev", User: "dev-user"}, NewSenderRateLimiter(2, time.Minute))

	r := gin.New()
	r.POST("/api/live/events/:id/chat", ctl.Protect(), ctl.PostChat)

	for i := 0; i < 2; i++ {
		w := doJSON(r, http.MethodPost, "/api/live/events/evt-1/chat", gin.H{"content": "x"}, "dev")
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := doJSON(r, http.MethodPost, "/api/live/events/evt-1/chat", gin.H{"content": "x"}, "dev")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestListEventsFilter(t *testing.T) {
	r, store := testRouter(t)
	require.NoError(t, store.CreateEvent(&domain.LiveEvent{Title: "a", Status: domain.EventLive}))
	require.NoError(t, store.CreateEvent(&domain.LiveEvent{Title: "b", Status: domain.EventEnded}))

	w := doJSON(r, http.MethodGet, "/api/live/events?status=live", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []domain.LiveEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "a", resp.Data[0].Title)
}
