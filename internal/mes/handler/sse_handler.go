package handler

import (
	"fmt"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/middleware"
	"github.com/ericaxiaweilin/EngHub/internal/shared/sse"
	"github.com/gin-gonic/gin"
)

// SSEHandler 车间看板事件流
type SSEHandler struct {
	hub       *sse.Hub
	heartbeat time.Duration
}

func NewSSEHandler(hub *sse.Hub) *SSEHandler {
	return &SSEHandler{hub: hub, heartbeat: 30 * time.Second}
}

// Stream GET /api/v1/mes/events?factory=F01&token=xxx
// factory 缺省取令牌所属工厂，两者都为空时接收全部工厂事件
func (h *SSEHandler) Stream(c *gin.Context) {
	userID := middleware.UserID(c)
	factory := c.DefaultQuery("factory", middleware.Factory(c))
	clientID := fmt.Sprintf("%s_%d", userID, time.Now().UnixNano())

	client := &sse.Client{
		ID:      clientID,
		UserID:  userID,
		Factory: factory,
		Events:  make(chan sse.Event, 64),
	}
	h.hub.Register(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteString("event: connected\ndata: {\"client_id\":\"" + clientID + "\"}\n\n")
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			h.hub.Unregister(clientID)
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			c.Writer.WriteString(fmt.Sprintf("event: %s\ndata: %s\n\n", event.EventType, event.Data))
			c.Writer.Flush()
		case <-heartbeat.C:
			c.Writer.WriteString(": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}
