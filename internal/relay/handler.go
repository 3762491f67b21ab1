package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/skywisej/qr-music-card-maker/internal/models"
	"github.com/skywisej/qr-music-card-maker/internal/server"
)

const (
	maxRequestBody    = 4 << 10
	heartbeatInterval = 15 * time.Second
	eventName         = "request"
)

// Handler serves a [Hub] over HTTP: JSON publishes and Server-Sent Events subscriptions.
type Handler struct {
	hub       *Hub
	limiter   *server.RateLimiter
	heartbeat time.Duration
}

// NewHandler serves hub, limiting publishes per requester with limiter (nil disables the limit).
func NewHandler(hub *Hub, limiter *server.RateLimiter) *Handler {
	return &Handler{hub: hub, limiter: limiter, heartbeat: heartbeatInterval}
}

// Register mounts the relay routes on router.
func (h *Handler) Register(router *server.BasicRouter) {
	router.HandleFunc(http.MethodPost, "/relay/{channel}/publish", h.publish)
	router.HandleFunc(http.MethodGet, "/relay/{channel}/subscribe", h.subscribe)
	router.HandleFunc(http.MethodGet, "/health", h.health)
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")

	var req models.RelayRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := req.RequesterID
	if key == "" {
		key = server.ClientIP(r)
	}
	if h.limiter != nil && !h.limiter.Allow(key) {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	delivered := h.hub.Publish(channel, req)
	h.hub.logger.Info("relayed", "channel", channel, "id", req.ID, "action", req.Action, "requester", req.RequesterID, "subscribers", delivered)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"id": req.ID, "delivered": delivered})
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	channel := r.PathValue("channel")
	sub, cancel := h.hub.Subscribe(channel)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	h.hub.logger.Info("host subscribed", "channel", channel, "remote", server.ClientIP(r))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.hub.logger.Info("host unsubscribed", "channel", channel)
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case req, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(req)
			if err != nil {
				h.hub.logger.Error("failed to encode request", "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", req.ID, eventName, data)
			flusher.Flush()
		}
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
