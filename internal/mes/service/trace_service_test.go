package service

import (
	"testing"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
)

func TestTraceBatch(t *testing.T) {
	h := newHarness(t)
	wo, b, res := reportedWorkOrder(t, h)
	if _, err := h.svc.Defect.Create(h.ctx, CreateDefectRequest{
		Severity: domain.SeverityMinor, Type: domain.DefectMaterial, Quantity: 1,
		WorkOrderID: wo.ID, BatchCode: b.BatchCode,
	}, testUser); err != nil {
		t.Fatalf("create defect: %v", err)
	}

	trace, err := h.svc.Trace.Batch(h.ctx, b.BatchCode)
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if len(trace.Transactions) != 2 {
		t.Fatalf("expected inbound and production outbound, got %d", len(trace.Transactions))
	}
	if len(trace.Reports) != 1 || trace.Reports[0].ID != res.Report.ID {
		t.Fatalf("expected the consuming report, got %+v", trace.Reports)
	}
	if len(trace.Defects) != 1 || trace.Inspections == nil {
		t.Fatalf("unexpected trace %+v", trace)
	}

	_, err = h.svc.Trace.Batch(h.ctx, "NOPE")
	expectKind(t, err, domain.KindNotFound)
}

func TestTraceHistory(t *testing.T) {
	h := newHarness(t)
	wo, _, _ := reportedWorkOrder(t, h)
	logs, err := h.svc.Trace.History(h.ctx, entity.EntityWorkOrder, wo.ID, repository.Page{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if logs.Total < 2 || logs.Page != 1 {
		t.Fatalf("expected create and release entries, got %+v", logs)
	}
}

func TestDailySummary(t *testing.T) {
	h := newHarness(t)
	h.inbound("B-1", "500", "2", day1)
	wo := h.releasedWorkOrder(100)
	for _, r := range []CreateReportRequest{
		{WorkOrderID: wo.ID, ProducedQty: 10, QualifiedQty: 8, RejectedQty: 2, Shift: domain.ShiftDay,
			RejectionReasons: []entity.RejectionReason{{Reason: "scratch", Quantity: 2}}},
		{WorkOrderID: wo.ID, ProducedQty: 10, QualifiedQty: 10, Shift: domain.ShiftNight},
		{WorkOrderID: wo.ID, ProducedQty: 5, QualifiedQty: 5, ReportType: domain.ReportSpecial, Remark: "试产"},
	} {
		if _, err := h.svc.Loop.ReportProduction(h.ctx, r, testUser); err != nil {
			t.Fatalf("report: %v", err)
		}
	}

	daily, err := h.svc.Reporting.DailySummary(h.ctx, "F01", "")
	if err != nil {
		t.Fatalf("daily summary: %v", err)
	}
	if daily.Date != "2026-03-02" || len(daily.Lines) != 2 {
		t.Fatalf("expected two shift lines, got %+v", daily)
	}
	if daily.ProducedQty != 20 || daily.QualifiedQty != 18 || !daily.FirstPassRate.Equal(dec("0.9")) {
		t.Fatalf("unexpected totals %+v", daily)
	}

	list, err := h.svc.Reporting.List(h.ctx, repository.ReportListParams{WorkOrderID: wo.ID})
	if err != nil || list.Total != 3 {
		t.Fatalf("expected 3 reports, got %+v, %v", list, err)
	}
}

func TestReportWithoutMasterData(t *testing.T) {
	h := newHarness(t)
	h.inbound("B-1", "500", "2", day1)
	wo := h.releasedWorkOrder(100)
	h.svc.Reporting.masterData = nil

	_, err := h.svc.Loop.ReportProduction(h.ctx, CreateReportRequest{WorkOrderID: wo.ID, ProducedQty: 1, QualifiedQty: 1}, testUser)
	expectKind(t, err, domain.KindCollaboratorUnavailable)
	if got := h.workOrder(wo.ID); got.CompletedQty != 0 || got.Status != domain.WOStatusReleased {
		t.Fatalf("work order must be unchanged, got %+v", got.Counters())
	}
}
