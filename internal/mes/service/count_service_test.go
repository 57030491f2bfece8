package service

import (
	"bytes"
	"testing"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestCountFlowAppliesAdjustments(t *testing.T) {
	h := newHarness(t)
	a := h.inbound("B-A", "100", "1", day1)
	b := h.inbound("B-B", "50", "1", day2)

	count, err := h.svc.Count.Create(h.ctx, CreateCountRequest{WarehouseID: testWarehouse}, testUser)
	if err != nil {
		t.Fatalf("create count: %v", err)
	}
	if count.Status != domain.CountDraft || len(count.Items) != 2 || !count.TotalSystem.Equal(dec("150")) {
		t.Fatalf("unexpected snapshot %+v", count)
	}

	count, err = h.svc.Count.SubmitCountResult(h.ctx, count.ID, SubmitCountRequest{Items: []CountResultItem{
		{BatchCode: "B-A", CountedQty: dec("97")},
		{BatchID: b.ID, CountedQty: dec("52")},
	}}, testUser)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if count.Status != domain.CountPendingApproval || !count.TotalDifference.Equal(dec("-1")) {
		t.Fatalf("expected pending approval with diff -1, got %s %s", count.Status, count.TotalDifference)
	}

	res, err := h.svc.Loop.ApplyCountAdjustments(h.ctx, count.ID, testUser)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Count.Status != domain.CountCompleted || len(res.Transactions) != 2 {
		t.Fatalf("expected completed count with 2 adjustments, got %s %d", res.Count.Status, len(res.Transactions))
	}
	for _, tx := range res.Transactions {
		if tx.ReferenceType != RefCount || tx.ReferenceID != count.ID {
			t.Fatalf("adjustment not linked to count: %+v", tx)
		}
	}
	if got := h.batch(a.ID); !got.Quantity.Equal(dec("97")) {
		t.Fatalf("B-A expected 97, got %s", got.Quantity)
	}
	if got := h.batch(b.ID); !got.Quantity.Equal(dec("52")) {
		t.Fatalf("B-B expected 52, got %s", got.Quantity)
	}

	if _, err := h.svc.Loop.ApplyCountAdjustments(h.ctx, count.ID, testUser); err == nil {
		t.Fatal("applying twice must fail")
	} else {
		expectKind(t, err, domain.KindIllegalStateTransition)
	}
}

func TestCountWithoutDifferenceCompletesDirectly(t *testing.T) {
	h := newHarness(t)
	h.inbound("B-A", "100", "1", day1)
	count, err := h.svc.Count.Create(h.ctx, CreateCountRequest{WarehouseID: testWarehouse}, testUser)
	if err != nil {
		t.Fatalf("create count: %v", err)
	}
	count, err = h.svc.Count.SubmitCountResult(h.ctx, count.ID, SubmitCountRequest{Items: []CountResultItem{
		{BatchCode: "B-A", CountedQty: dec("100")},
	}}, testUser)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if count.Status != domain.CountCompleted {
		t.Fatalf("expected completed, got %s", count.Status)
	}
}

func TestCountOffsettingDifferencesStillNeedApproval(t *testing.T) {
	h := newHarness(t)
	h.inbound("B-A", "100", "1", day1)
	h.inbound("B-B", "100", "1", day2)
	count, err := h.svc.Count.Create(h.ctx, CreateCountRequest{WarehouseID: testWarehouse}, testUser)
	if err != nil {
		t.Fatalf("create count: %v", err)
	}
	count, err = h.svc.Count.SubmitCountResult(h.ctx, count.ID, SubmitCountRequest{Items: []CountResultItem{
		{BatchCode: "B-A", CountedQty: dec("105")},
		{BatchCode: "B-B", CountedQty: dec("95")},
	}}, testUser)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !count.TotalSystem.Equal(dec("200")) || !count.TotalCounted.Equal(dec("200")) || !count.TotalDifference.IsZero() {
		t.Fatalf("expected 200/200/0, got %s/%s/%s", count.TotalSystem, count.TotalCounted, count.TotalDifference)
	}
	if count.Status != domain.CountPendingApproval {
		t.Fatalf("per-batch differences must go to approval, got %s", count.Status)
	}
}

func TestCountSubmitValidation(t *testing.T) {
	h := newHarness(t)
	h.inbound("B-A", "100", "1", day1)
	count, err := h.svc.Count.Create(h.ctx, CreateCountRequest{WarehouseID: testWarehouse}, testUser)
	if err != nil {
		t.Fatalf("create count: %v", err)
	}
	tests := []struct {
		name  string
		items []CountResultItem
	}{
		{"negative", []CountResultItem{{BatchCode: "B-A", CountedQty: dec("-1")}}},
		{"unknown batch", []CountResultItem{{BatchCode: "B-X", CountedQty: dec("1")}}},
		{"counted twice", []CountResultItem{{BatchCode: "B-A", CountedQty: dec("1")}, {BatchCode: "B-A", CountedQty: dec("2")}}},
		{"found without material", []CountResultItem{{CountedQty: dec("3")}}},
	}
	for _, tt := range tests {
		_, err := h.svc.Count.SubmitCountResult(h.ctx, count.ID, SubmitCountRequest{Items: tt.items}, testUser)
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		expectKind(t, err, domain.KindInvalidArgument)
	}
	if _, err := h.svc.Count.Create(h.ctx, CreateCountRequest{}, testUser); err == nil {
		t.Fatal("warehouse is required")
	}
}

func TestCancelCount(t *testing.T) {
	h := newHarness(t)
	b := h.inbound("B-A", "100", "1", day1)
	count, err := h.svc.Count.Create(h.ctx, CreateCountRequest{WarehouseID: testWarehouse}, testUser)
	if err != nil {
		t.Fatalf("create count: %v", err)
	}
	if _, err := h.svc.Count.Cancel(h.ctx, count.ID, "盘点计划调整", testUser); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = h.svc.Count.SubmitCountResult(h.ctx, count.ID, SubmitCountRequest{Items: []CountResultItem{
		{BatchCode: "B-A", CountedQty: dec("90")},
	}}, testUser)
	expectKind(t, err, domain.KindIllegalStateTransition)
	if got := h.batch(b.ID); !got.Quantity.Equal(dec("100")) {
		t.Fatalf("cancelled count must not touch the ledger, got %s", got.Quantity)
	}

	list, err := h.svc.Count.List(h.ctx, repository.CountListParams{Status: string(domain.CountCancelled)})
	if err != nil || list.Total != 1 {
		t.Fatalf("expected one cancelled count, got %+v, %v", list, err)
	}
}

func TestCountSheetRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.inbound("B-A", "100", "1", day1)
	count, err := h.svc.Count.Create(h.ctx, CreateCountRequest{WarehouseID: testWarehouse}, testUser)
	if err != nil {
		t.Fatalf("create count: %v", err)
	}
	f, filename, err := h.svc.Count.ExportCountSheet(h.ctx, count.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filename != count.Code+".xlsx" {
		t.Fatalf("unexpected filename %q", filename)
	}
	// 模拟现场填写实盘数量
	if err := f.SetCellValue(f.GetSheetName(0), "F2", "98"); err != nil {
		t.Fatalf("fill sheet: %v", err)
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	reopened, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	items, err := ParseCountSheet(reopened)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 1 || items[0].BatchCode != "B-A" || !items[0].CountedQty.Equal(dec("98")) {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestParseCountTSV(t *testing.T) {
	content := "物料ID\t物料编码\t批次号\t实盘数量\r\n" +
		"M-1\t螺丝\tB-A\t12.5\r\n" +
		"\r\n" +
		"M-2\t\"垫片\"\t\t3\r\n"
	encoded, err := simplifiedchinese.GBK.NewEncoder().String(content)
	if err != nil {
		t.Fatalf("encode gbk: %v", err)
	}
	items, err := ParseCountTSV(bytes.NewReader([]byte(encoded)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[1].MaterialCode != "垫片" || !items[1].CountedQty.Equal(dec("3")) {
		t.Fatalf("unexpected second item %+v", items[1])
	}

	bad, _ := simplifiedchinese.GBK.NewEncoder().String("h\nM-1\tX\tB-A\tabc\n")
	if _, err := ParseCountTSV(bytes.NewReader([]byte(bad))); err == nil {
		t.Fatal("expected invalid quantity error")
	}
}

func TestCountSummary(t *testing.T) {
	c := &entity.InventoryCount{Items: []entity.InventoryCountItem{
		{Direction: domain.AdjustIncrease},
		{Direction: domain.AdjustDecrease},
		{Direction: domain.AdjustDecrease},
		{},
	}}
	s := CountSummary(c)
	if s["increase_lines"] != 1 || s["decrease_lines"] != 2 || s["items"] != 4 {
		t.Fatalf("unexpected summary %v", s)
	}
}
