package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/margin/backend/internal/annotations"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultHeartbeatInterval = 25 * time.Second

type streamEventPayload struct {
	PaperID      string    `json:"paperId"`
	AnnotationID string    `json:"annotationId,omitempty"`
	ParentID     string    `json:"parentId,omitempty"`
	Version      int64     `json:"version,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
}

// handlePaperStream pushes committed annotation changes for one paper as server-sent events.
func (h *httpHandler) handlePaperStream(c *gin.Context) {
	paperID, err := annotations.NewPaperID(c.Param("paperId"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	ctx := c.Request.Context()
	messages, cleanup := h.realtime.Subscribe(ctx, paperID.String())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	h.logger.Debug("paper stream opened", zap.String("paper_id", paperID.String()))
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-messages:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, streamEventPayload{
				PaperID:      message.PaperID,
				AnnotationID: message.AnnotationID,
				ParentID:     message.ParentID,
				Version:      message.Version,
				Timestamp:    message.Timestamp.UTC(),
				Source:       realtimeSourceBackend,
			})
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, streamEventPayload{
				PaperID:   paperID.String(),
				Timestamp: tick.UTC(),
				Source:    realtimeSourceBackend,
			})
			return true
		}
	})
	h.logger.Debug("paper stream closed", zap.String("paper_id", paperID.String()))
}
