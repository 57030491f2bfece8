package service

import (
	"errors"
	"testing"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/event"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
)

func TestEscalationRules(t *testing.T) {
	tests := []struct {
		name     string
		severity domain.Severity
		typ      domain.DefectType
		qty      int64
		want     bool
		reason   string
	}{
		{"critical single", domain.SeverityCritical, domain.DefectFunction, 1, true, domain.ReasonCritical},
		{"minor bulk", domain.SeverityMinor, domain.DefectAppearance, 100, false, ""},
		{"major under threshold", domain.SeverityMajor, domain.DefectDimension, 4, false, ""},
		{"major at threshold", domain.SeverityMajor, domain.DefectDimension, 5, true, domain.ReasonMajorOverLimit},
		{"process issue", domain.SeverityMinor, domain.DefectProcess, 3, true, domain.ReasonProcessMaterial},
		{"process under analysis qty", domain.SeverityMinor, domain.DefectProcess, 2, false, ""},
		{"major process issue under major threshold", domain.SeverityMajor, domain.DefectProcess, 3, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			res, err := h.svc.Defect.Create(h.ctx, CreateDefectRequest{
				Severity: tt.severity, Type: tt.typ, Quantity: tt.qty, StationID: "ST-1",
			}, testUser)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if res.Escalated != tt.want {
				t.Fatalf("escalated=%v, want %v", res.Escalated, tt.want)
			}
			if !tt.want {
				if res.CorrectiveAction != nil || res.Defect.CAStatus != domain.CAPending {
					t.Fatalf("unexpected corrective action %+v", res.CorrectiveAction)
				}
				return
			}
			ca := res.CorrectiveAction
			if ca.TriggerReason != tt.reason || ca.Status != domain.CATriggered || ca.DefectID != res.Defect.ID {
				t.Fatalf("unexpected corrective action %+v", ca)
			}
			if res.Defect.CAStatus != domain.CATriggered {
				t.Fatalf("defect CA status %s", res.Defect.CAStatus)
			}
			if !hasEvent(h.events, event.CATriggered) {
				t.Fatalf("missing ca event in %v", h.events.Types())
			}
		})
	}
}

func TestCreateDefectRequiresLink(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Defect.Create(h.ctx, CreateDefectRequest{Severity: domain.SeverityMinor, Quantity: 1}, testUser)
	expectKind(t, err, domain.KindMissingRequiredLink)
	_, err = h.svc.Defect.Create(h.ctx, CreateDefectRequest{Severity: "fatal", Quantity: 1, StationID: "ST-1"}, testUser)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestSeverityChangeEscalatesOnce(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Defect.Create(h.ctx, CreateDefectRequest{Severity: domain.SeverityMinor, Type: domain.DefectAppearance, Quantity: 2, StationID: "ST-1"}, testUser)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	up, err := h.svc.Defect.UpdateSeverity(h.ctx, res.Defect.ID, domain.SeverityCritical, testUser)
	if err != nil || !up.Escalated {
		t.Fatalf("expected escalation on upgrade: %v", err)
	}
	again, err := h.svc.Defect.UpdateSeverity(h.ctx, res.Defect.ID, domain.SeverityCritical, testUser)
	if err != nil || again.Escalated {
		t.Fatalf("second evaluation must not create another case: %v", err)
	}
	cas, err := h.svc.Defect.ListCorrectiveActions(h.ctx, repository.CAListParams{})
	if err != nil || cas.Total != 1 {
		t.Fatalf("expected one corrective action, got %d (%v)", cas.Total, err)
	}
}

func TestCorrectiveActionLifecycle(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Defect.Create(h.ctx, CreateDefectRequest{Severity: domain.SeverityCritical, Quantity: 1, StationID: "ST-1"}, testUser)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	caID := res.CorrectiveAction.ID

	_, err = h.svc.Defect.CompleteCorrectiveAction(h.ctx, caID, CompleteCorrectiveActionRequest{RootCause: "x", Action: "y"}, testUser)
	expectKind(t, err, domain.KindIllegalStateTransition)

	started, err := h.svc.Defect.StartCorrectiveAction(h.ctx, caID, StartCorrectiveActionRequest{}, testUser)
	if err != nil || started.Status != domain.CAInProgress || started.OwnerID != testUser {
		t.Fatalf("start: %+v %v", started, err)
	}
	_, err = h.svc.Defect.CompleteCorrectiveAction(h.ctx, caID, CompleteCorrectiveActionRequest{RootCause: " "}, testUser)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected root cause to be required, got %v", err)
	}
	done, err := h.svc.Defect.CompleteCorrectiveAction(h.ctx, caID, CompleteCorrectiveActionRequest{RootCause: "worn fixture", Action: "replace fixture"}, testUser)
	if err != nil || done.Status != domain.CACompleted {
		t.Fatalf("complete: %v", err)
	}
	d, err := h.svc.Defect.Get(h.ctx, res.Defect.ID)
	if err != nil || d.CAStatus != domain.CACompleted {
		t.Fatalf("defect CA status not synced: %v", err)
	}
	linked, err := h.svc.Defect.CorrectiveActionFor(h.ctx, d.ID)
	if err != nil || linked.ID != caID {
		t.Fatalf("corrective action lookup: %v", err)
	}
}

func TestDispositionStatusFlow(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Defect.Create(h.ctx, CreateDefectRequest{Severity: domain.SeverityMinor, Quantity: 5, StationID: "ST-1"}, testUser)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := res.Defect.ID

	_, err = h.svc.Defect.Close(h.ctx, id, "", testUser)
	expectKind(t, err, domain.KindIllegalStateTransition)

	zero := int64(0)
	_, err = h.svc.Defect.SubmitDisposition(h.ctx, id, SubmitDispositionRequest{Disposition: domain.DispositionRework, Quantity: &zero}, testUser)
	expectKind(t, err, domain.KindInvalidDispositionQuantity)

	eff, err := h.svc.Defect.SubmitDisposition(h.ctx, id, SubmitDispositionRequest{Disposition: domain.DispositionRework}, testUser)
	if err != nil {
		t.Fatalf("rework: %v", err)
	}
	if eff.Scrap() || eff.Defect.Status != domain.DefectInProgress || eff.Quantity != 5 {
		t.Fatalf("unexpected effect %+v", eff)
	}
	closed, err := h.svc.Defect.Close(h.ctx, id, "reworked", testUser)
	if err != nil || closed.Status != domain.DefectClosed || closed.ClosedAt == nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDefectStatistics(t *testing.T) {
	h := newHarness(t)
	for _, req := range []CreateDefectRequest{
		{Severity: domain.SeverityMinor, Type: domain.DefectAppearance, Quantity: 1, StationID: "ST-1"},
		{Severity: domain.SeverityMinor, Type: domain.DefectAppearance, Quantity: 1, StationID: "ST-2"},
		{Severity: domain.SeverityMajor, Type: domain.DefectDimension, Quantity: 1, StationID: "ST-1"},
	} {
		if _, err := h.svc.Defect.Create(h.ctx, req, testUser); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	stats, err := h.svc.Defect.Statistics(h.ctx, repository.DefectListParams{})
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	counts := map[string]int64{}
	for _, g := range stats.ByType {
		counts[g.Key] = g.Count
	}
	if counts["appearance"] != 2 || counts["dimension"] != 1 {
		t.Fatalf("unexpected by-type counts %v", counts)
	}
	if len(stats.ByStation) != 2 {
		t.Fatalf("expected 2 stations, got %+v", stats.ByStation)
	}
	list, err := h.svc.Defect.List(h.ctx, repository.DefectListParams{StationID: "ST-1"})
	if err != nil || list.Total != 2 {
		t.Fatalf("station filter: %d %v", list.Total, err)
	}
}
