package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mbellido/agentpay/internal/application/orchestrator"
	"github.com/mbellido/agentpay/pkg/domain"
	"github.com/mbellido/agentpay/pkg/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for MVP
	},
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
	}
}

// HandleRunStream streams lifecycle events for a specific run
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	eventChan := make(chan domain.Event, 10)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	handler := func(ctx context.Context, event domain.Event) error {
		select {
		case eventChan <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Channel full, skip event
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	if err := h.eventBus.Subscribe(ctx, orchestrator.RunEventsTopic, handler); err != nil {
		h.logger.Error("failed to subscribe to run events",
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			// Only forward events belonging to this run
			if event.RunID != runID {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}
