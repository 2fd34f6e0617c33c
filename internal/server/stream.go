package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/configledger/internal/configs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type changeEventPayload struct {
	Category    configs.Category     `json:"category"`
	EventType   string               `json:"event_type"`
	SnapshotIDs []configs.SnapshotID `json:"snapshot_ids"`
	Timestamp   time.Time            `json:"timestamp"`
	Source      string               `json:"source"`
}

type heartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// handleEvents streams change events as server-sent events. Repeated or
// comma separated category parameters narrow the feed.
func (h *httpHandler) handleEvents(c *gin.Context) {
	categories := make([]configs.Category, 0)
	for _, value := range c.QueryArray("category") {
		for _, raw := range strings.Split(value, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			category, err := h.service.Registry().Resolve(raw)
			if err != nil {
				h.respondError(c, err)
				return
			}
			categories = append(categories, category)
		}
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, categories)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Debug("change feed subscribed",
		zap.Int("categories", len(categories)),
		zap.String("request_id", c.GetString(requestIDContextKey)),
	)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(event.EventType, changeEventPayload{
				Category:    event.Category,
				EventType:   event.EventType,
				SnapshotIDs: event.SnapshotIDs,
				Timestamp:   event.Timestamp.UTC(),
				Source:      realtimeSourceBackend,
			})
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatPayload{Timestamp: tick.UTC(), Source: realtimeSourceBackend})
			return true
		}
	})
}
