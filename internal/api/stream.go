package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/miradorstack/mirador-sentry/internal/hub"
	"github.com/miradorstack/mirador-sentry/internal/models"
)

const (
	// DefaultKeepAlive is the idle period after which a ping is sent.
	DefaultKeepAlive = 15 * time.Second
	// PingEvent is the type of keep-alive messages.
	PingEvent = "ping"

	wsWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// pump delivers events from sub until ctx ends or the subscription closes.
// When no event arrives within keepAlive, ping is called instead.
func pump(ctx context.Context, sub *hub.Subscription, keepAlive time.Duration, send func(models.Event) error, ping func() error) error {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, keepAlive)
		event, err := sub.Next(waitCtx)
		cancel()
		switch {
		case err == nil:
			if err := send(event); err != nil {
				return err
			}
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			if err := ping(); err != nil {
				return err
			}
		case errors.Is(err, hub.ErrSubscriptionClosed):
			return nil
		default:
			return err
		}
	}
}

func (h *HTTPHandler) streamSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	sub, err := h.backend.Subscribe()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer h.backend.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("event stream opened", slog.String("transport", "sse"), slog.String("subscriber", sub.ID()))
	err = pump(r.Context(), sub, h.keepAlive,
		func(event models.Event) error {
			data, err := json.Marshal(event)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
		func() error {
			if _, err := fmt.Fprint(w, "event: ping\ndata: {}\n\n"); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
	)
	if err != nil {
		h.logger.Debug("event stream ended", slog.String("transport", "sse"), slog.Any("error", err))
	}
	h.logger.Info("event stream closed", slog.String("transport", "sse"), slog.String("subscriber", sub.ID()))
}

func (h *HTTPHandler) streamWebSocket(w http.ResponseWriter, r *http.Request) {
	sub, err := h.backend.Subscribe()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer h.backend.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Inbound frames are discarded; a read error means the peer went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Info("event stream opened", slog.String("transport", "websocket"), slog.String("subscriber", sub.ID()))
	err = pump(ctx, sub, h.keepAlive,
		func(event models.Event) error {
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return err
			}
			return conn.WriteJSON(event)
		},
		func() error {
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return err
			}
			return conn.WriteJSON(map[string]string{"type": PingEvent})
		},
	)
	if err != nil {
		h.logger.Debug("event stream ended", slog.String("transport", "websocket"), slog.Any("error", err))
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	h.logger.Info("event stream closed", slog.String("transport", "websocket"), slog.String("subscriber", sub.ID()))
}
