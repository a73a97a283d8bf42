package handler

import (
	"context"
	"net/http"
	"time"

	"token-ledger/internal/adapter/http/middleware"
	"token-ledger/internal/core/ports"
	"token-ledger/pkg/apperror"
	"token-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// StreamHandler pushes the caller's balance events over a websocket.
type StreamHandler struct {
	subscriber ports.EventSubscriber
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// NewStreamHandler creates a new StreamHandler. allowedOrigins empty accepts
// any origin.
func NewStreamHandler(subscriber ports.EventSubscriber, allowedOrigins []string, log zerolog.Logger) *StreamHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &StreamHandler{
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return len(origins) == 0 || origins[r.Header.Get("Origin")]
			},
		},
		log: log,
	}
}

// Stream handles GET /api/v1/wallets/stream.
func (h *StreamHandler) Stream(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.subscriber.Subscribe(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("balance subscription failed")
		response.Error(c, apperror.InternalError(err))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Warn().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.log.Debug().Str("user_id", userID).Msg("balance stream opened")

	// The read side only handles pongs and notices the client going away.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(streamWriteWait))
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				h.log.Debug().Err(err).Str("user_id", userID).Msg("balance stream write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
