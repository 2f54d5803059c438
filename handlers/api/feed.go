package api

import (
	"bufio"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"svcpanel/models"
	"svcpanel/utils"
)

// SettingsEvent is pushed to feed subscribers after every committed write
type SettingsEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Settings  models.Settings `json:"settings"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Time      time.Time       `json:"time"`
}

// FeedHandler fans settings changes out over SSE and WebSocket
type FeedHandler struct {
	subscribers map[string]chan SettingsEvent
	mu          sync.RWMutex
	keepAlive   time.Duration
}

func NewFeedHandler() *FeedHandler {
	return &FeedHandler{
		subscribers: make(map[string]chan SettingsEvent),
		keepAlive:   30 * time.Second,
	}
}

// Subscribe registers a new subscriber and returns its id and channel
func (h *FeedHandler) Subscribe() (string, <-chan SettingsEvent) {
	id := uuid.New().String()
	ch := make(chan SettingsEvent, 10)

	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (h *FeedHandler) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

func (h *FeedHandler) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast sends a settings record to all subscribers. Slow subscribers
// miss the event rather than block the writer.
func (h *FeedHandler) Broadcast(stored models.StoredSettings) {
	event := SettingsEvent{
		ID:        uuid.New().String(),
		Type:      "settings.updated",
		Settings:  stored.Settings,
		UpdatedAt: stored.UpdatedAt,
		Time:      time.Now(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	utils.Log.Debug("Broadcasting settings to %d subscribers", len(h.subscribers))

	for id, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			utils.Log.Warn("Feed channel full for subscriber %s", id)
		}
	}
}

// Close drops every subscriber, ending their streams
func (h *FeedHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}

// HandleSSE streams settings events as Server-Sent Events
func (h *FeedHandler) HandleSSE(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	id, events := h.Subscribe()
	utils.Log.Info("SSE subscriber connected: %s", id)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer func() {
			h.Unsubscribe(id)
			utils.Log.Info("SSE subscriber disconnected: %s", id)
		}()

		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()

		w.WriteString(": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				w.WriteString("event: " + event.Type + "\n")
				w.WriteString("data: " + string(data) + "\n\n")
				if err := w.Flush(); err != nil {
					return
				}

			case <-ticker.C:
				w.WriteString(": keepalive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))

	return nil
}

// UpgradeWebSocket rejects plain HTTP requests to the websocket route
func (h *FeedHandler) UpgradeWebSocket(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleWebSocket pushes settings events as JSON messages
func (h *FeedHandler) HandleWebSocket(c *websocket.Conn) {
	id, events := h.Subscribe()

	defer func() {
		h.Unsubscribe(id)
		c.Close()
		utils.Log.Info("WebSocket subscriber disconnected: %s", id)
	}()

	utils.Log.Info("WebSocket subscriber connected: %s", id)

	// Reads only detect the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				utils.Log.Error("Failed to send WebSocket event: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
