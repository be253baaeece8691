package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/examly/examportal-backend/internal/middleware"
	"github.com/examly/examportal-backend/internal/response"
	"github.com/examly/examportal-backend/internal/service"
	"github.com/examly/examportal-backend/internal/signal"
	"github.com/examly/examportal-backend/internal/websocket"
)

// WSHandler streams proctoring signals from the exam client. The
// aggregator state lives in the hub, not the connection, so a dropped
// and re-opened socket keeps its warning count.
type WSHandler struct {
	tracker  *service.ProctorTracker
	attempts *service.AttemptService
	hub      *signal.Hub
	upgrader gorilla.Upgrader
	log      zerolog.Logger
}

// NewWSHandler creates a new WSHandler. allowedOrigins empty means all
// origins are accepted (dev default).
func NewWSHandler(
	tracker *service.ProctorTracker,
	attempts *service.AttemptService,
	hub *signal.Hub,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		tracker:  tracker,
		attempts: attempts,
		hub:      hub,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// SignalStream godoc
// GET /ws/v1/user/exams/:exam_id/attempts/:attempt_id/signals?token=...
func (h *WSHandler) SignalStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.attempts.AuthorizeAttempt(c.Request.Context(), attemptID, claims.UserID); err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	agg := h.hub.Get(examID, attemptID)

	// Writes race between the read loop and the grace-delayed
	// termination notifier.
	var writeMu sync.Mutex
	write := func(v interface{}) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := websocket.WriteTyped(conn, v); err != nil {
			h.log.Debug().Err(err).Msg("WebSocket write failed")
		}
	}

	agg.SetNotifier(func(reason string) {
		write(websocket.TerminatedResponse{Event: websocket.EventTerminated, Reason: reason})
	})
	defer agg.SetNotifier(nil)

	ctx := c.Request.Context()
	for {
		var envelope map[string]interface{}
		if err := websocket.ReadJSON(conn, &envelope); err != nil {
			return // Client went away; the heartbeat timeout covers the rest.
		}

		action, _ := envelope["action"].(string)
		switch websocket.Action(action) {
		case websocket.ActionPing:
			// A ping doubles as a liveness heartbeat.
			alive, err := h.tracker.Heartbeat(ctx, examID, attemptID, time.Now())
			if err != nil {
				h.log.Warn().Err(err).Msg("WS heartbeat failed")
			}
			write(websocket.PongResponse{Event: websocket.EventPong, Alive: alive})

		case websocket.ActionSignal:
			kindStr, _ := envelope["kind"].(string)
			kind := signal.Kind(kindStr)
			if !kind.Valid() {
				write(websocket.ErrorResponse{Event: websocket.EventError, Error: "unknown signal kind"})
				continue
			}

			warning := agg.Observe(kind)
			if warning == nil {
				continue // Debounced or monitoring disabled.
			}

			if _, err := h.tracker.RecordWarning(ctx, examID, attemptID); err != nil {
				h.log.Warn().Err(err).Msg("Failed to record warning on session")
			}

			write(websocket.WarningResponse{
				Event:     websocket.EventWarning,
				Kind:      string(warning.Kind),
				Count:     warning.Count,
				Remaining: warning.Remaining,
			})

		default:
			write(websocket.ErrorResponse{Event: websocket.EventError, Error: "unknown action"})
		}
	}
}
