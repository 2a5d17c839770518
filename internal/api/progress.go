package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/nanostyle/internal/apperr"
	"github.com/ashureev/nanostyle/internal/domain"
	"github.com/ashureev/nanostyle/internal/identity"
	"github.com/ashureev/nanostyle/internal/telemetry"
)

const (
	progressWriteTimeout = 5 * time.Second
	progressPingInterval = 30 * time.Second
)

type sessionSnapshot struct {
	SessionID     string               `json:"sessionId"`
	Status        domain.Status        `json:"status"`
	QuestionIndex domain.QuestionIndex `json:"questionIndex"`
}

// progressMessage is one frame on the progress socket.
type progressMessage struct {
	Type    string                 `json:"type"`
	Session *sessionSnapshot       `json:"session,omitempty"`
	Event   *telemetry.FunnelEvent `json:"event,omitempty"`
}

// Progress streams the lifecycle events of the cookie's session over a
// WebSocket, starting with a snapshot of its current state.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" || h.progress == nil {
		Error(w, r, apperr.New(apperr.CodeSessionNotFound))
		return
	}
	s, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		Error(w, r, err)
		return
	}

	sub := h.progress.Subscribe(sessionID)
	defer sub.Close()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("Failed to accept progress WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close progress websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	// Clients only listen; CloseRead cancels ctx when they go away.
	ctx := ws.CloseRead(r.Context())

	snapshot := progressMessage{Type: "snapshot", Session: &sessionSnapshot{
		SessionID:     s.SessionID,
		Status:        s.Status,
		QuestionIndex: s.QuestionIndex,
	}}
	if err := writeProgress(ctx, ws, snapshot); err != nil {
		return
	}

	ping := time.NewTicker(progressPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Progress watcher disconnected", "session_id", sessionID)
			return
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, progressWriteTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				// Session reset or expired.
				_ = ws.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if err := writeProgress(ctx, ws, progressMessage{Type: "event", Event: &ev}); err != nil {
				return
			}
		}
	}
}

func writeProgress(ctx context.Context, ws *websocket.Conn, msg progressMessage) error {
	ctx, cancel := context.WithTimeout(ctx, progressWriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws, msg); err != nil {
		if ctx.Err() == nil {
			slog.Debug("Progress write failed", "error", err)
		}
		return err
	}
	return nil
}
