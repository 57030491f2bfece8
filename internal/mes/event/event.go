// Package event 领域事件：提交后推送给SSE看板与下游(成本核算等)订阅方。
package event

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 事件类型，同时作为 NATS 主题后缀
const (
	WorkOrderCreated   = "workorder.created"
	WorkOrderReleased  = "workorder.released"
	WorkOrderStarted   = "workorder.started"
	WorkOrderHeld      = "workorder.held"
	WorkOrderResumed   = "workorder.resumed"
	WorkOrderSplit     = "workorder.split"
	WorkOrderUpdated   = "workorder.updated"
	WorkOrderCompleted = "workorder.completed"
	WorkOrderCancelled = "workorder.cancelled"

	ReportCreated = "report.created"
	ReportAmended = "report.amended"

	LedgerInbound  = "ledger.inbound"
	LedgerOutbound = "ledger.outbound"
	LedgerReserved = "ledger.reserved"
	LedgerAdjusted = "ledger.adjusted"
	CountSubmitted = "count.submitted"

	InspectionCreated  = "inspection.created"
	InspectionResolved = "inspection.resolved"
	DefectCreated      = "defect.created"
	DefectDisposed     = "defect.disposed"
	DefectClosed       = "defect.closed"
	CATriggered        = "ca.triggered"
	CACompleted        = "ca.completed"
)

// Event 领域事件
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Factory    string                 `json:"factory,omitempty"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	EntityCode string                 `json:"entity_code,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// New 构造事件
func New(typ, factory, entityType, entityID, entityCode string, data map[string]interface{}) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       typ,
		Factory:    factory,
		EntityType: entityType,
		EntityID:   entityID,
		EntityCode: entityCode,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher 事件发布
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi 依次发布到多个目标，汇总错误
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errList []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Recorder 记录发布的事件，供测试断言
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events 已记录的事件
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types 已记录的事件类型，按发布顺序
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
