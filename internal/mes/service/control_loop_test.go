package service

import (
	"errors"
	"testing"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/mes/event"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
)

// reportedWorkOrder 已下达工单，库存 500，报工 10 件（9 合格 1 不良）
func reportedWorkOrder(t *testing.T, h *harness) (*entity.WorkOrder, *entity.InventoryBatch, *ReportResult) {
	t.Helper()
	b := h.inbound("B-1", "500", "2", day1)
	wo := h.releasedWorkOrder(100)
	res, err := h.svc.Loop.ReportProduction(h.ctx, CreateReportRequest{
		WorkOrderID: wo.ID, ProducedQty: 10, QualifiedQty: 9, RejectedQty: 1,
		RejectionReasons: []entity.RejectionReason{{Reason: "scratch", Quantity: 1}},
	}, testUser)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	return res.WorkOrder, b, res
}

func TestReportProductionUpdatesCountersAndLedger(t *testing.T) {
	h := newHarness(t)
	wo, b, res := reportedWorkOrder(t, h)

	if wo.Status != domain.WOStatusInProgress || wo.ActualStart == nil {
		t.Fatalf("first report should start the work order, got %s", wo.Status)
	}
	if wo.CompletedQty != 10 || wo.GoodQty != 9 || wo.DefectQty != 1 {
		t.Fatalf("unexpected counters %+v", wo.Counters())
	}
	if res.Report.BOMVersion != "V1" || len(res.Report.Materials) != 1 {
		t.Fatalf("report should record the BOM used: %+v", res.Report)
	}
	if len(res.Transactions) != 1 || !res.Transactions[0].Quantity.Equal(dec("-20")) {
		t.Fatalf("expected one outbound of 20, got %+v", res.Transactions)
	}
	tx := res.Transactions[0]
	if tx.WorkOrderID != wo.ID || tx.ReferenceType != RefReport || tx.ReferenceID != res.Report.ID {
		t.Fatalf("outbound not linked to report: %+v", tx)
	}
	if got := h.batch(b.ID); !got.AvailableQty.Equal(dec("480")) {
		t.Fatalf("expected 480 left, got %s", got.AvailableQty)
	}
	for _, typ := range []string{event.ReportCreated, event.LedgerOutbound, event.WorkOrderStarted} {
		if !hasEvent(h.events, typ) {
			t.Fatalf("missing %s in %v", typ, h.events.Types())
		}
	}
}

func TestReportProductionRollsBackOnShortage(t *testing.T) {
	h := newHarness(t)
	b := h.inbound("B-1", "5", "2", day1)
	wo := h.releasedWorkOrder(100)

	_, err := h.svc.Loop.ReportProduction(h.ctx, CreateReportRequest{WorkOrderID: wo.ID, ProducedQty: 10, QualifiedQty: 10}, testUser)
	expectKind(t, err, domain.KindInsufficientStock)

	got := h.workOrder(wo.ID)
	if got.Status != domain.WOStatusReleased || got.CompletedQty != 0 {
		t.Fatalf("work order changed despite rollback: %s %d", got.Status, got.CompletedQty)
	}
	if gb := h.batch(b.ID); !gb.AvailableQty.Equal(dec("5")) {
		t.Fatalf("batch changed despite rollback: %s", gb.AvailableQty)
	}
	reports, err := h.svc.Reporting.List(h.ctx, repository.ReportListParams{WorkOrderID: wo.ID})
	if err != nil || reports.Total != 0 {
		t.Fatalf("expected no saved report, got %d (%v)", reports.Total, err)
	}
}

func TestReportProductionValidation(t *testing.T) {
	h := newHarness(t)
	h.inbound("B-1", "500", "2", day1)
	wo := h.releasedWorkOrder(10)

	tests := []struct {
		name string
		req  CreateReportRequest
		kind domain.Kind
	}{
		{"qualified plus rejected over produced", CreateReportRequest{ProducedQty: 5, QualifiedQty: 5, RejectedQty: 1}, domain.KindInvalidArgument},
		{"reasons do not add up", CreateReportRequest{ProducedQty: 5, QualifiedQty: 3, RejectedQty: 2,
			RejectionReasons: []entity.RejectionReason{{Reason: "dent", Quantity: 1}}}, domain.KindInvalidArgument},
		{"over planned without override", CreateReportRequest{ProducedQty: 11, QualifiedQty: 11}, domain.KindInvalidArgument},
		{"rework without original", CreateReportRequest{ReportType: domain.ReportRework, ProducedQty: 2, QualifiedQty: 2}, domain.KindMissingRequiredLink},
	}
	for _, tt := range tests {
		tt.req.WorkOrderID = wo.ID
		_, err := h.svc.Loop.ReportProduction(h.ctx, tt.req, testUser)
		var de *domain.Error
		if !errors.As(err, &de) || de.Kind != tt.kind {
			t.Fatalf("%s: expected %s, got %v", tt.name, tt.kind, err)
		}
	}
	if got := h.workOrder(wo.ID); got.CompletedQty != 0 {
		t.Fatalf("rejected reports changed counters: %d", got.CompletedQty)
	}
}

func TestReportOverrideRaisesPlan(t *testing.T) {
	h := newHarness(t)
	h.inbound("B-1", "500", "2", day1)
	wo := h.releasedWorkOrder(10)
	res, err := h.svc.Loop.ReportProduction(h.ctx, CreateReportRequest{
		WorkOrderID: wo.ID, ProducedQty: 12, QualifiedQty: 12, Override: true,
	}, testUser)
	if err != nil {
		t.Fatalf("override report: %v", err)
	}
	if res.WorkOrder.PlannedQty != 12 || res.WorkOrder.CompletedQty != 12 {
		t.Fatalf("expected plan raised to 12, got %d/%d", res.WorkOrder.PlannedQty, res.WorkOrder.CompletedQty)
	}
}

func TestAdditionalAndSpecialReports(t *testing.T) {
	h := newHarness(t)
	b := h.inbound("B-1", "500", "2", day1)
	wo := h.releasedWorkOrder(10)

	res, err := h.svc.Loop.ReportProduction(h.ctx, CreateReportRequest{
		WorkOrderID: wo.ID, ReportType: domain.ReportAdditional,
		Materials: []AdditionalMaterial{{MaterialID: testMaterial, Quantity: dec("7")}},
	}, testUser)
	if err != nil {
		t.Fatalf("additional: %v", err)
	}
	if res.WorkOrder.CompletedQty != 0 || len(res.Transactions) != 1 {
		t.Fatalf("additional draw should only move stock: %+v", res.WorkOrder.Counters())
	}
	res, err = h.svc.Loop.ReportProduction(h.ctx, CreateReportRequest{
		WorkOrderID: wo.ID, ReportType: domain.ReportSpecial, ProducedQty: 3, QualifiedQty: 3,
	}, testUser)
	if err != nil {
		t.Fatalf("special: %v", err)
	}
	if res.WorkOrder.CompletedQty != 0 || len(res.Transactions) != 0 {
		t.Fatalf("special report should have no effect, got %+v", res)
	}
	if got := h.batch(b.ID); !got.AvailableQty.Equal(dec("493")) {
		t.Fatalf("expected 493, got %s", got.AvailableQty)
	}
}

func TestReworkReportDoesNotCountTowardsPlan(t *testing.T) {
	h := newHarness(t)
	original, b, _ := reportedWorkOrder(t, h)
	rework := h.releasedWorkOrder(5)
	res, err := h.svc.Loop.ReportProduction(h.ctx, CreateReportRequest{
		WorkOrderID: rework.ID, ReportType: domain.ReportRework, ProducedQty: 2, QualifiedQty: 2,
		OriginalWorkOrderID: original.ID,
	}, testUser)
	if err != nil {
		t.Fatalf("rework: %v", err)
	}
	if res.WorkOrder.ReworkQty != 2 || res.WorkOrder.CompletedQty != 0 {
		t.Fatalf("unexpected rework counters %+v rework=%d", res.WorkOrder.Counters(), res.WorkOrder.ReworkQty)
	}
	// 返工同样按 BOM 领料
	if res.Report.BOMVersion != "V1" || len(res.Transactions) != 1 || !res.Transactions[0].Quantity.Equal(dec("-4")) {
		t.Fatalf("rework should draw 2 x BOM, got bom=%q txs=%+v", res.Report.BOMVersion, res.Transactions)
	}
	if got := h.batch(b.ID); !got.AvailableQty.Equal(dec("476")) {
		t.Fatalf("expected 476 left after rework draw, got %s", got.AvailableQty)
	}
	if got := h.workOrder(original.ID); got.CompletedQty != 10 {
		t.Fatalf("original work order changed: %d", got.CompletedQty)
	}
}

func TestAmendWithinWindowCompensatesLedger(t *testing.T) {
	h := newHarness(t)
	wo, b, res := reportedWorkOrder(t, h)
	h.advance(23 * time.Hour)

	amended, err := h.svc.Loop.AmendReport(h.ctx, res.Report.ID, AmendReportRequest{
		ProducedQty: 8, QualifiedQty: 8, Reason: "double counted",
	}, testUser)
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if amended.WorkOrder.CompletedQty != 8 || amended.WorkOrder.GoodQty != 8 || amended.WorkOrder.DefectQty != 0 {
		t.Fatalf("unexpected counters after amendment %+v", amended.WorkOrder.Counters())
	}
	if len(amended.Transactions) != 1 {
		t.Fatalf("expected one compensating transaction, got %d", len(amended.Transactions))
	}
	comp := amended.Transactions[0]
	if comp.TxType != domain.TxReturnIn || !comp.Quantity.Equal(dec("4")) || comp.ReferenceID != res.Report.ID {
		t.Fatalf("unexpected compensation %+v", comp)
	}
	if got := h.batch(b.ID); !got.AvailableQty.Equal(dec("484")) {
		t.Fatalf("expected 484 after compensation, got %s", got.AvailableQty)
	}
	if amended.Amendment.OldProducedQty != 10 || amended.Report.AmendCount != 1 {
		t.Fatalf("amendment not recorded: %+v", amended.Amendment)
	}

	h.advance(2 * time.Hour)
	_, err = h.svc.Loop.AmendReport(h.ctx, res.Report.ID, AmendReportRequest{
		ProducedQty: 9, QualifiedQty: 9, Reason: "recount",
	}, testUser)
	expectKind(t, err, domain.KindAmendmentWindowExpired)
	if got := h.workOrder(wo.ID); got.CompletedQty != 8 {
		t.Fatalf("expired amendment changed counters: %d", got.CompletedQty)
	}

	c, err := h.svc.Reporting.AddComment(h.ctx, res.Report.ID, "late note", testUser)
	if err != nil || c.Content != "late note" {
		t.Fatalf("comments stay allowed after the window: %v", err)
	}
}

func TestAmendUpwardsDrawsMoreMaterial(t *testing.T) {
	h := newHarness(t)
	_, b, res := reportedWorkOrder(t, h)
	amended, err := h.svc.Loop.AmendReport(h.ctx, res.Report.ID, AmendReportRequest{
		ProducedQty: 12, QualifiedQty: 11, RejectedQty: 1, Reason: "missed tray",
	}, testUser)
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if len(amended.Transactions) != 1 || !amended.Transactions[0].Quantity.Equal(dec("-4")) {
		t.Fatalf("expected extra outbound of 4, got %+v", amended.Transactions)
	}
	if got := h.batch(b.ID); !got.AvailableQty.Equal(dec("476")) {
		t.Fatalf("expected 476, got %s", got.AvailableQty)
	}
}

func TestAmendRejectedOnCompletedWorkOrder(t *testing.T) {
	h := newHarness(t)
	wo, _, res := reportedWorkOrder(t, h)
	if _, err := h.svc.WorkOrder.Complete(h.ctx, wo.ID, testUser); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err := h.svc.Loop.AmendReport(h.ctx, res.Report.ID, AmendReportRequest{ProducedQty: 9, QualifiedQty: 9, Reason: "x"}, testUser)
	expectKind(t, err, domain.KindIllegalStateTransition)
}

func inProcessInspection(t *testing.T, h *harness, wo *entity.WorkOrder, batchSize int) *entity.Inspection {
	t.Helper()
	in, err := h.svc.Loop.CreateInspection(h.ctx, CreateInspectionRequest{
		Type: "ipqc", WorkOrderID: wo.ID, BatchSize: batchSize,
	}, testUser)
	if err != nil {
		t.Fatalf("create inspection: %v", err)
	}
	return in
}

func TestInspectionPassCreatesNoDefect(t *testing.T) {
	h := newHarness(t)
	wo := h.releasedWorkOrder(100)
	in := inProcessInspection(t, h, wo, 20)
	if in.SampleSize != 5 || in.Ac != 2 || in.Re != 3 || in.AQLLevel != "1.0" || in.WorkOrderCode != wo.Code {
		t.Fatalf("unexpected plan %+v", in)
	}
	res, err := h.svc.Loop.SubmitInspectionResult(h.ctx, in.ID, SubmitInspectionRequest{DefectiveQty: 2}, testUser)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Inspection.Status != domain.InspectionPassed || res.Defect != nil {
		t.Fatalf("expected pass without defect, got %s %+v", res.Inspection.Status, res.Defect)
	}
	defects, err := h.svc.Defect.List(h.ctx, repository.DefectListParams{})
	if err != nil || defects.Total != 0 {
		t.Fatalf("expected no defects, got %d (%v)", defects.Total, err)
	}
}

func TestInspectionFailCreatesExactlyOneDefect(t *testing.T) {
	h := newHarness(t)
	wo := h.releasedWorkOrder(100)
	in := inProcessInspection(t, h, wo, 20)

	res, err := h.svc.Loop.SubmitInspectionResult(h.ctx, in.ID, SubmitInspectionRequest{DefectiveQty: 3, DefectCategory: "visual"}, testUser)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Inspection.Status != domain.InspectionFailed || res.Defect == nil {
		t.Fatalf("expected failed with defect, got %s", res.Inspection.Status)
	}
	d := res.Defect
	if d.InspectionID != in.ID || !d.AutoCreated || d.Quantity != 3 || d.Type != domain.DefectAppearance || d.WorkOrderID != wo.ID {
		t.Fatalf("unexpected defect %+v", d)
	}
	if res.Inspection.DefectID != d.ID {
		t.Fatalf("inspection not linked to defect")
	}

	_, err = h.svc.Loop.SubmitInspectionResult(h.ctx, in.ID, SubmitInspectionRequest{DefectiveQty: 3}, testUser)
	expectKind(t, err, domain.KindAlreadyResolved)

	again, err := h.svc.Defect.AutoCreateFromInspection(h.ctx, DefectTrigger{InspectionID: in.ID, InspectionCode: in.Code, Quantity: 3}, testUser)
	if err != nil || again.Defect.ID != d.ID {
		t.Fatalf("auto creation must be idempotent: %v", err)
	}
	defects, err := h.svc.Defect.List(h.ctx, repository.DefectListParams{})
	if err != nil || defects.Total != 1 {
		t.Fatalf("expected exactly one defect, got %d (%v)", defects.Total, err)
	}
}

func TestInspectionRequiresLinks(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Loop.CreateInspection(h.ctx, CreateInspectionRequest{Type: "iqc", BatchSize: 10}, testUser)
	expectKind(t, err, domain.KindMissingRequiredLink)
	_, err = h.svc.Loop.CreateInspection(h.ctx, CreateInspectionRequest{Type: "fqc", BatchSize: 10}, testUser)
	expectKind(t, err, domain.KindMissingRequiredLink)
	_, err = h.svc.Loop.CreateInspection(h.ctx, CreateInspectionRequest{Type: "fqc", WorkOrderID: "missing", BatchSize: 10}, testUser)
	expectKind(t, err, domain.KindNotFound)
}

func TestIncomingInspectionReleasesOrQuarantinesBatch(t *testing.T) {
	h := newHarness(t)
	receive := day1
	for _, tc := range []struct {
		code      string
		defective int
		want      domain.BatchStatus
	}{
		{"B-GOOD", 0, domain.BatchAvailable},
		{"B-BAD", 4, domain.BatchQuarantine},
	} {
		if _, err := h.svc.Inventory.Inbound(h.ctx, InboundRequest{
			MaterialID: testMaterial, WarehouseID: testWarehouse, BatchCode: tc.code,
			Quantity: dec("20"), UnitCost: dec("1"), ReceiveDate: &receive, Status: domain.BatchQCHold,
		}, testUser); err != nil {
			t.Fatalf("inbound: %v", err)
		}
		in, err := h.svc.Loop.CreateInspection(h.ctx, CreateInspectionRequest{Type: "iqc", BatchCode: tc.code, BatchSize: 20}, testUser)
		if err != nil {
			t.Fatalf("create iqc: %v", err)
		}
		if in.MaterialID != testMaterial {
			t.Fatalf("material should come from the batch, got %q", in.MaterialID)
		}
		res, err := h.svc.Loop.SubmitInspectionResult(h.ctx, in.ID, SubmitInspectionRequest{DefectiveQty: tc.defective}, testUser)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if res.Batch == nil || res.Batch.Status != tc.want {
			t.Fatalf("%s: expected %s, got %+v", tc.code, tc.want, res.Batch)
		}
	}
}

func TestAssociateWorkOrderOnlyForIncoming(t *testing.T) {
	h := newHarness(t)
	wo := h.releasedWorkOrder(10)
	ipqc := inProcessInspection(t, h, wo, 10)
	_, err := h.svc.Loop.AssociateWorkOrder(h.ctx, ipqc.ID, wo.ID, testUser)
	expectKind(t, err, domain.KindInvalidAssociation)

	iqc, err := h.svc.Loop.CreateInspection(h.ctx, CreateInspectionRequest{Type: "iqc", MaterialID: testMaterial, BatchSize: 10}, testUser)
	if err != nil {
		t.Fatalf("create iqc: %v", err)
	}
	linked, err := h.svc.Loop.AssociateWorkOrder(h.ctx, iqc.ID, wo.ID, testUser)
	if err != nil || linked.WorkOrderID != wo.ID {
		t.Fatalf("associate: %v", err)
	}
}

func TestScrapDispositionFeedsLedgerAndWorkOrder(t *testing.T) {
	h := newHarness(t)
	b := h.inbound("B-1", "500", "2", day1)
	wo := h.releasedWorkOrder(100)
	// 良品 + 不良 = 完工，报废只能从不良（及良品）中转出
	if _, err := h.svc.Loop.ReportProduction(h.ctx, CreateReportRequest{
		WorkOrderID: wo.ID, ProducedQty: 10, QualifiedQty: 8, RejectedQty: 2,
		RejectionReasons: []entity.RejectionReason{{Reason: "burr", Quantity: 2}},
	}, testUser); err != nil {
		t.Fatalf("report: %v", err)
	}
	created, err := h.svc.Defect.Create(h.ctx, CreateDefectRequest{
		Severity: domain.SeverityMinor, Type: domain.DefectAppearance, Quantity: 3,
		WorkOrderID: wo.ID, BatchID: b.ID, BatchCode: b.BatchCode,
	}, testUser)
	if err != nil {
		t.Fatalf("create defect: %v", err)
	}

	qty := int64(4)
	_, err = h.svc.Loop.SubmitDisposition(h.ctx, created.Defect.ID, SubmitDispositionRequest{Disposition: domain.DispositionScrap, Quantity: &qty}, testUser)
	expectKind(t, err, domain.KindInvalidDispositionQuantity)

	res, err := h.svc.Loop.SubmitDisposition(h.ctx, created.Defect.ID, SubmitDispositionRequest{Disposition: domain.DispositionScrap}, testUser)
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if res.Defect.Status != domain.DefectResolved || res.Defect.DispositionQty != 3 {
		t.Fatalf("unexpected defect %+v", res.Defect)
	}
	if res.Transaction == nil || res.Transaction.TxType != domain.TxScrapOut || res.Transaction.ReferenceType != RefDefect {
		t.Fatalf("expected scrap outbound, got %+v", res.Transaction)
	}
	if res.WorkOrder == nil {
		t.Fatal("expected work order feedback")
	}
	if c := res.WorkOrder.Counters(); c.Completed != 10 || c.Good != 7 || c.Defect != 0 || c.Scrap != 3 || !c.Conserved() {
		t.Fatalf("expected 10 completed / 7 good / 0 defect / 3 scrap, got %+v", c)
	}
	if got := h.batch(b.ID); !got.AvailableQty.Equal(dec("477")) {
		t.Fatalf("expected 477 after BOM draw and scrap, got %s", got.AvailableQty)
	}

	closed, err := h.svc.Defect.Close(h.ctx, created.Defect.ID, "done", testUser)
	if err != nil || closed.Status != domain.DefectClosed {
		t.Fatalf("close: %v", err)
	}
	_, err = h.svc.Loop.SubmitDisposition(h.ctx, created.Defect.ID, SubmitDispositionRequest{Disposition: domain.DispositionScrap}, testUser)
	expectKind(t, err, domain.KindIllegalStateTransition)
}

func TestScrapDispositionBeforeAnyReport(t *testing.T) {
	h := newHarness(t)
	b := h.inbound("B-1", "500", "2", day1)
	wo := h.releasedWorkOrder(100)
	created, err := h.svc.Defect.Create(h.ctx, CreateDefectRequest{
		Severity: domain.SeverityMinor, Type: domain.DefectAppearance, Quantity: 3,
		WorkOrderID: wo.ID, BatchID: b.ID, BatchCode: b.BatchCode,
	}, testUser)
	if err != nil {
		t.Fatalf("create defect: %v", err)
	}
	res, err := h.svc.Loop.SubmitDisposition(h.ctx, created.Defect.ID, SubmitDispositionRequest{Disposition: domain.DispositionScrap}, testUser)
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if res.Transaction == nil || !h.batch(b.ID).AvailableQty.Equal(dec("497")) {
		t.Fatalf("scrap should still leave the ledger, got %+v", res.Transaction)
	}
	if c := h.workOrder(wo.ID).Counters(); c.Scrap != 0 || c.Completed != 0 {
		t.Fatalf("nothing reported yet, counters must stay zero: %+v", c)
	}
}

func TestCompleteWorkOrderReceivesFinishedGoods(t *testing.T) {
	h := newHarness(t)
	wo, _, _ := reportedWorkOrder(t, h)
	res, err := h.svc.Loop.CompleteWorkOrder(h.ctx, wo.ID, CompleteWorkOrderRequest{WarehouseID: "FG-1", UnitCost: dec("35")}, testUser)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.WorkOrder.Status != domain.WOStatusCompleted || res.Inbound == nil {
		t.Fatalf("unexpected completion %+v", res)
	}
	in := res.Inbound
	if in.Batch.MaterialID != testProduct || !in.Batch.Quantity.Equal(dec("9")) || in.Transaction.TxType != domain.TxProductionIn {
		t.Fatalf("unexpected finished goods inbound %+v", in.Batch)
	}
	_, err = h.svc.Loop.ReportProduction(h.ctx, CreateReportRequest{WorkOrderID: wo.ID, ReportType: domain.ReportSpecial, ProducedQty: 1, QualifiedQty: 1}, testUser)
	expectKind(t, err, domain.KindIllegalStateTransition)
	if !hasEvent(h.events, event.WorkOrderCompleted) {
		t.Fatalf("missing completion event")
	}
}

func TestReserveForWorkOrderFeedsReport(t *testing.T) {
	h := newHarness(t)
	h.inbound("B-OLD", "15", "1", day1)
	newer := h.inbound("B-NEW", "100", "1", day2)
	wo := h.releasedWorkOrder(100)

	// 预留按先进先出：旧批次 15，新批次 5
	res, err := h.svc.Loop.ReserveForWorkOrder(h.ctx, ReserveRequest{WorkOrderID: wo.ID, MaterialID: testMaterial, Quantity: dec("20")}, testUser)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.WarehouseID != testWarehouse {
		t.Fatalf("warehouse should default to the work order's, got %q", res.WarehouseID)
	}
	rep, err := h.svc.Loop.ReportProduction(h.ctx, CreateReportRequest{WorkOrderID: wo.ID, ProducedQty: 10, QualifiedQty: 10}, testUser)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	tx := rep.Transactions[0]
	if tx.ReservationID != res.ID {
		t.Fatalf("report outbound should consume the reservation")
	}
	for _, l := range tx.Lines {
		if !l.FromReserved {
			t.Fatalf("expected reserved lines only, got %+v", tx.Lines)
		}
	}
	if got := h.batch(newer.ID); !got.AvailableQty.Equal(dec("95")) || !got.ReservedQty.IsZero() || !got.Quantity.Equal(dec("95")) {
		t.Fatalf("unexpected newer batch %s/%s", got.AvailableQty, got.ReservedQty)
	}
	if _, err := h.svc.WorkOrder.Complete(h.ctx, wo.ID, testUser); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err = h.svc.Loop.ReserveForWorkOrder(h.ctx, ReserveRequest{WorkOrderID: wo.ID, MaterialID: testMaterial, Quantity: dec("1")}, testUser)
	expectKind(t, err, domain.KindIllegalStateTransition)
}
