package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/evolab/gactl/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamMessage is pushed whenever new rows arrive or the running flag flips.
// Reset tells the client to drop rows it has, the progress file was cleared.
type streamMessage struct {
	Rows    []model.ProgressRow `json:"rows"`
	Running bool                `json:"running"`
	Reset   bool                `json:"reset,omitempty"`
}

func (s *Server) handleStream(c *gin.Context) {
	since, err := queryInt(c, "since", 0)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ctx := c.Request.Context()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(ctx, "failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	// fsnotify wakes the loop early, the ticker covers platforms where
	// watching fails and flips of the running flag
	var changes <-chan struct{}
	if w, err := s.progress.Watch(); err != nil {
		slog.WarnContext(ctx, "progress watch unavailable, polling", "error", err)
	} else {
		defer w.Close()
		changes = w.Changes()
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// the client sends nothing, reading only detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	sent := since
	first := true
	var wasRunning bool
	for {
		all, err := s.progress.Rows(0)
		if err != nil {
			slog.WarnContext(ctx, "reading progress", "error", err)
			all = []model.ProgressRow{}
		}
		msg := streamMessage{Running: s.sup.Status().Running}
		if len(all) < sent {
			sent = 0
			msg.Reset = true
		}
		msg.Rows = all[sent:]

		if first || msg.Reset || len(msg.Rows) > 0 || msg.Running != wasRunning {
			_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := ws.WriteJSON(msg); err != nil {
				slog.DebugContext(ctx, "websocket client gone", "error", err)
				return
			}
			sent += len(msg.Rows)
			wasRunning = msg.Running
			first = false
		}

		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case <-changes:
		case <-ticker.C:
		}
	}
}
