package event

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ericaxiaweilin/EngHub/internal/shared/feishu"
	"go.uber.org/zap/zaptest"
)

type fakeSender struct {
	mu    sync.Mutex
	cards []feishu.InteractiveCard
	chats []string
	err   error
}

func (f *fakeSender) SendCard(_ context.Context, chatID string, card feishu.InteractiveCard) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.cards = append(f.cards, card)
	f.chats = append(f.chats, chatID)
	return "om_1", nil
}

func TestFeishuNotifierFiltersEvents(t *testing.T) {
	sender := &fakeSender{}
	n := NewFeishuNotifier(sender, "oc_quality", zaptest.NewLogger(t))
	ctx := context.Background()

	events := []Event{
		New(WorkOrderCreated, "F01", "work_order", "wo-1", "WO-1", nil),
		New(DefectCreated, "F01", "defect", "d-1", "DEF-1", map[string]interface{}{"severity": "minor", "quantity": 2}),
		New(DefectCreated, "F01", "defect", "d-2", "DEF-2", map[string]interface{}{"severity": "critical", "quantity": 1, "batch_code": "B-1"}),
		New(CATriggered, "F01", "corrective_action", "ca-1", "OCAP-1", map[string]interface{}{"defect_code": "DEF-2", "reason": "critical"}),
	}
	for _, e := range events {
		if err := n.Publish(ctx, e); err != nil {
			t.Fatalf("publish %s: %v", e.Type, err)
		}
	}
	n.Wait()

	if len(sender.cards) != 2 {
		t.Fatalf("expected alerts for the critical defect and the CA only, got %d", len(sender.cards))
	}
	titles := sender.cards[0].Header.Title.Content + "|" + sender.cards[1].Header.Title.Content
	if !strings.Contains(titles, "DEF-2") || !strings.Contains(titles, "OCAP-1") {
		t.Fatalf("unexpected alert titles %q", titles)
	}
	if sender.chats[0] != "oc_quality" {
		t.Fatalf("unexpected chat %q", sender.chats[0])
	}
}

func TestFeishuNotifierFailureDoesNotPropagate(t *testing.T) {
	sender := &fakeSender{err: errors.New("bot removed")}
	n := NewFeishuNotifier(sender, "oc_quality", zaptest.NewLogger(t))
	err := n.Publish(context.Background(), New(CATriggered, "F01", "corrective_action", "ca-1", "OCAP-1", nil))
	n.Wait()
	if err != nil {
		t.Fatalf("delivery failure must not fail the publish: %v", err)
	}
}
