package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quantfolio/advisor/internal/progress"
)

// runStatusMessage is the wire form of a progress update.
type runStatusMessage struct {
	RunID     string `json:"runId"`
	Milestone string `json:"milestone"`
	Percent   int    `json:"percent"`
	Message   string `json:"message"`
}

// RunStatusHub fans pipeline progress out to websocket subscribers. Slow
// subscribers drop updates rather than stall the pipeline.
type RunStatusHub struct {
	mu          sync.RWMutex
	subscribers map[chan runStatusMessage]struct{}
	log         zerolog.Logger
}

// NewRunStatusHub creates a run status hub.
func NewRunStatusHub(log zerolog.Logger) *RunStatusHub {
	return &RunStatusHub{
		subscribers: make(map[chan runStatusMessage]struct{}),
		log:         log.With().Str("component", "run_status_hub").Logger(),
	}
}

// Callback returns a progress callback that broadcasts to the hub. Safe to
// pass into a run even when no subscriber is connected.
func (h *RunStatusHub) Callback() progress.Callback {
	return func(u progress.Update) {
		h.Broadcast(u)
	}
}

// Broadcast delivers an update to every connected subscriber.
func (h *RunStatusHub) Broadcast(u progress.Update) {
	msg := runStatusMessage{
		RunID:     u.RunID,
		Milestone: string(u.Milestone),
		Percent:   u.Percent,
		Message:   u.Message,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			// Subscriber buffer full, drop this update for them.
		}
	}
}

func (h *RunStatusHub) subscribe() chan runStatusMessage {
	ch := make(chan runStatusMessage, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *RunStatusHub) unsubscribe(ch chan runStatusMessage) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

// SubscriberCount reports connected websocket clients.
func (h *RunStatusHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HandleWS handles GET /api/runs/ws, streaming run progress as JSON frames.
func (h *RunStatusHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	h.log.Debug().Int("subscribers", h.SubscriberCount()).Msg("Run status subscriber connected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Run status subscriber write failed, disconnecting")
				return
			}
		}
	}
}
