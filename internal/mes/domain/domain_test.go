package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNextWorkOrderStatus(t *testing.T) {
	tests := []struct {
		from   WorkOrderStatus
		action WorkOrderAction
		want   WorkOrderStatus
		ok     bool
	}{
		{WOStatusPending, WOActionRelease, WOStatusReleased, true},
		{WOStatusReleased, WOActionRelease, WOStatusReleased, false},
		{WOStatusReleased, WOActionStart, WOStatusInProgress, true},
		{WOStatusPending, WOActionStart, WOStatusPending, false},
		{WOStatusInProgress, WOActionComplete, WOStatusCompleted, true},
		{WOStatusOnHold, WOActionComplete, WOStatusOnHold, false},
		{WOStatusPending, WOActionCancel, WOStatusCancelled, true},
		{WOStatusInProgress, WOActionCancel, WOStatusCancelled, true},
		{WOStatusCompleted, WOActionCancel, WOStatusCompleted, false},
		{WOStatusInProgress, WOActionHold, WOStatusOnHold, true},
		{WOStatusOnHold, WOActionResume, WOStatusInProgress, true},
		{WOStatusReleased, WOActionSplit, WOStatusReleased, true},
		{WOStatusInProgress, WOActionSplit, WOStatusInProgress, false},
		{WOStatusInProgress, WOActionUpdate, WOStatusInProgress, false},
		{WOStatusReleased, WOActionReport, WOStatusInProgress, true},
		{WOStatusOnHold, WOActionReport, WOStatusOnHold, false},
	}
	for _, tt := range tests {
		got, ok := NextWorkOrderStatus(tt.from, tt.action)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("%s --%s--> got (%s, %v), want (%s, %v)", tt.from, tt.action, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSplitAllowedBoundary(t *testing.T) {
	half := decimal.RequireFromString("0.5")
	if !SplitAllowed(1000, 500, half) {
		t.Fatal("expected 500 of 1000 to be allowed")
	}
	if SplitAllowed(1000, 499, half) {
		t.Fatal("expected 499 of 1000 to be rejected")
	}
	if SplitAllowed(1000, 1000, half) {
		t.Fatal("expected split leaving zero remainder to be rejected")
	}
	if SplitAllowed(1, 1, half) {
		t.Fatal("expected split of a single unit to be rejected")
	}
}

func TestCountersConserved(t *testing.T) {
	c := Counters{Planned: 100, Completed: 50, Good: 40, Defect: 5, Scrap: 5}
	if !c.Conserved() {
		t.Fatal("expected counters to be conserved")
	}
	if c.Apply(CounterDelta{Scrap: 1}).Conserved() {
		t.Fatal("expected scrap overflow to break conservation")
	}
	if c.Apply(CounterDelta{Completed: 51}).Conserved() {
		t.Fatal("expected completed above planned to break conservation")
	}
}

func TestCountersMoveToScrap(t *testing.T) {
	full := Counters{Planned: 100, Completed: 10, Good: 8, Defect: 2}
	cases := []struct {
		name  string
		from  Counters
		qty   int64
		want  Counters
		moved int64
	}{
		{"from defect", full, 2, Counters{Planned: 100, Completed: 10, Good: 8, Scrap: 2}, 2},
		{"spills into good", full, 3, Counters{Planned: 100, Completed: 10, Good: 7, Scrap: 3}, 3},
		{"capped at completed", full, 12, Counters{Planned: 100, Completed: 10, Scrap: 10}, 10},
		{"no output yet", Counters{Planned: 100}, 3, Counters{Planned: 100}, 0},
	}
	for _, tc := range cases {
		got, moved := tc.from.MoveToScrap(tc.qty)
		if got != tc.want || moved != tc.moved {
			t.Fatalf("%s: got %+v moved %d, want %+v moved %d", tc.name, got, moved, tc.want, tc.moved)
		}
		if !got.Conserved() {
			t.Fatalf("%s: counters not conserved %+v", tc.name, got)
		}
	}
}

func TestEscalationReason(t *testing.T) {
	th := EscalationThresholds{
		MajorMinQty:    5,
		AnalysisTypes:  []DefectType{DefectProcess, DefectMaterial},
		AnalysisMinQty: 3,
	}
	tests := []struct {
		sev    Severity
		typ    DefectType
		qty    int64
		reason string
		ok     bool
	}{
		{SeverityCritical, DefectOther, 1, ReasonCritical, true},
		{SeverityMajor, DefectOther, 5, ReasonMajorOverLimit, true},
		{SeverityMajor, DefectOther, 4, "", false},
		{SeverityMinor, DefectProcess, 3, ReasonProcessMaterial, true},
		{SeverityMinor, DefectMaterial, 2, "", false},
		{SeverityMajor, DefectMaterial, 4, "", false},
		{SeverityMajor, DefectProcess, 3, "", false},
		{SeverityMajor, DefectProcess, 5, ReasonMajorOverLimit, true},
		{SeverityCritical, DefectProcess, 3, ReasonCritical, true},
		{SeverityMinor, DefectAppearance, 100, "", false},
		{SeverityObservation, DefectFunction, 100, "", false},
	}
	for _, tt := range tests {
		reason, ok := EscalationReason(tt.sev, tt.typ, tt.qty, th)
		if reason != tt.reason || ok != tt.ok {
			t.Fatalf("%s/%s/%d: got (%q, %v), want (%q, %v)", tt.sev, tt.typ, tt.qty, reason, ok, tt.reason, tt.ok)
		}
	}
}

func TestDispositionResultingStatus(t *testing.T) {
	if DispositionScrap.ResultingStatus() != DefectResolved {
		t.Fatal("scrap should resolve the defect")
	}
	for _, d := range []Disposition{DispositionRework, DispositionRepair, DispositionConcession, DispositionReturn} {
		if d.ResultingStatus() != DefectInProgress {
			t.Fatalf("%s should leave the defect in progress", d)
		}
	}
	if Disposition("melt").Valid() {
		t.Fatal("unknown disposition should be invalid")
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("outbound: %w", NewError(KindInsufficientStock, "material", "M-1", "", "outbound", "need 2500, have 2000"))
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatal("expected wrapped error to match ErrInsufficientStock")
	}
	if errors.Is(err, ErrInvalidSplit) {
		t.Fatal("expected kinds to differ")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindInsufficientStock {
		t.Fatalf("KindOf = %s, %v", kind, ok)
	}
	var de *Error
	if !errors.As(err, &de) || de.ID != "M-1" || de.Op != "outbound" {
		t.Fatalf("expected context to survive wrapping, got %+v", de)
	}
}

func TestStationAcceptsRelease(t *testing.T) {
	for _, s := range []StationStatus{StationFault, StationBroken, StationMaintenance} {
		if s.AcceptsRelease() {
			t.Fatalf("%s should block release", s)
		}
	}
	for _, s := range []StationStatus{StationRunning, StationIdle} {
		if !s.AcceptsRelease() {
			t.Fatalf("%s should allow release", s)
		}
	}
}
