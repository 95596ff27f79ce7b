package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"forwardnet/core/events"

	"nhooyr.io/websocket"
)

const wsWriteTimeout = 10 * time.Second

// handleEventsWS streams hub envelopes to the client. A cursor query
// parameter replays history from that sequence before live delivery.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog, err := s.hub.Subscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	for _, envelope := range backlog {
		if err := writeEnvelope(ctx, conn, envelope); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEnvelope(ctx, conn, envelope); err != nil {
				return err
			}
		}
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, envelope events.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
