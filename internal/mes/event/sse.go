package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ericaxiaweilin/EngHub/internal/shared/sse"
)

// HubPublisher 推送到SSE看板
type HubPublisher struct {
	hub *sse.Hub
}

func NewHubPublisher(hub *sse.Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Type, err)
	}
	p.hub.Broadcast(e.Factory, sse.Event{EventType: e.Type, Data: string(data)})
	return nil
}
