package event

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ericaxiaweilin/EngHub/internal/shared/sse"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSPublisherSubject(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "")
	e := New(WorkOrderCompleted, "F01", "work_order", "wo-1", "WO-F01-20240101-0001", map[string]interface{}{"good_qty": 90})
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(conn.subjects) != 1 || conn.subjects[0] != "mes.workorder.completed" {
		t.Fatalf("unexpected subjects %v", conn.subjects)
	}
	var decoded Event
	if err := json.Unmarshal(conn.payloads[0], &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.EntityID != "wo-1" || decoded.Factory != "F01" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	broken := NewNATSPublisher(&fakeConn{err: errors.New("no responders")}, "mes")
	m := Multi{broken, rec}
	err := m.Publish(context.Background(), New(DefectCreated, "F01", "defect", "d-1", "", nil))
	if err == nil || !strings.Contains(err.Error(), "no responders") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if got := rec.Types(); len(got) != 1 || got[0] != DefectCreated {
		t.Fatalf("later publishers must still receive the event, got %v", got)
	}
}

func TestHubPublisherFiltersByFactory(t *testing.T) {
	hub := sse.NewHub(zaptest.NewLogger(t))
	f01 := &sse.Client{ID: "c1", Factory: "F01", Events: make(chan sse.Event, 4)}
	f02 := &sse.Client{ID: "c2", Factory: "F02", Events: make(chan sse.Event, 4)}
	hub.Register(f01)
	hub.Register(f02)

	p := NewHubPublisher(hub)
	if err := p.Publish(context.Background(), New(CATriggered, "F01", "defect", "d-1", "", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-f01.Events:
		if ev.EventType != CATriggered {
			t.Fatalf("unexpected event %s", ev.EventType)
		}
	default:
		t.Fatal("F01 client should receive the event")
	}
	select {
	case ev := <-f02.Events:
		t.Fatalf("F02 client should not receive %s", ev.EventType)
	default:
	}
}
