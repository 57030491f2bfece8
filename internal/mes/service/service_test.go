package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/mes/collaborator"
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/mes/event"
	"github.com/ericaxiaweilin/EngHub/internal/mes/policy"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/ericaxiaweilin/EngHub/internal/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const (
	testUser      = "u-001"
	testWarehouse = "WH-1"
	testProduct   = "P-100"
	testMaterial  = "M-1"
)

type harness struct {
	t      *testing.T
	ctx    context.Context
	db     *gorm.DB
	svc    *Services
	static *collaborator.Static
	events *event.Recorder
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.SetupTestDB(t)
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		db:     db,
		static: collaborator.NewStatic(),
		events: &event.Recorder{},
		now:    time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	h.static.PutBOM(collaborator.BOM{
		ProductID: testProduct,
		Version:   "V1",
		Items: []collaborator.BOMItem{
			{MaterialID: testMaterial, MaterialCode: "MAT-1", PerUnitQty: decimal.NewFromInt(2), Unit: "pcs"},
		},
	})
	h.svc = NewServices(Deps{
		DB:          db,
		Repos:       repository.NewRepositories(db),
		Policy:      policy.Default(),
		MasterData:  h.static,
		Equipment:   h.static,
		Events:      h.events,
		Logger:      zaptest.NewLogger(t),
		FactoryCode: "F01",
	})
	h.svc.SetClock(func() time.Time { return h.now })
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func expectKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != kind {
		t.Fatalf("expected %s, got %v", kind, err)
	}
}

// createWorkOrder 建工单，station 为空时不查设备
func (h *harness) createWorkOrder(planned int64, station string) *entity.WorkOrder {
	h.t.Helper()
	wo, err := h.svc.WorkOrder.Create(h.ctx, CreateWorkOrderRequest{
		ProductID:   testProduct,
		ProductCode: "PRD-100",
		ProductName: "Controller board",
		WarehouseID: testWarehouse,
		PlannedQty:  planned,
		StationID:   station,
	}, testUser)
	if err != nil {
		h.t.Fatalf("create work order: %v", err)
	}
	return wo
}

func (h *harness) releasedWorkOrder(planned int64) *entity.WorkOrder {
	h.t.Helper()
	wo := h.createWorkOrder(planned, "ST-1")
	wo, err := h.svc.WorkOrder.Release(h.ctx, wo.ID, testUser)
	if err != nil {
		h.t.Fatalf("release: %v", err)
	}
	return wo
}

func (h *harness) inbound(batchCode, qty, cost string, receive time.Time) *entity.InventoryBatch {
	h.t.Helper()
	res, err := h.svc.Inventory.Inbound(h.ctx, InboundRequest{
		MaterialID:   testMaterial,
		MaterialCode: "MAT-1",
		WarehouseID:  testWarehouse,
		BatchCode:    batchCode,
		Quantity:     dec(qty),
		UnitCost:     dec(cost),
		ReceiveDate:  &receive,
		Reference:    Reference{Type: RefPO, ID: "po-1", Code: "PO-1"},
	}, testUser)
	if err != nil {
		h.t.Fatalf("inbound %s: %v", batchCode, err)
	}
	return res.Batch
}

func (h *harness) batch(id string) *entity.InventoryBatch {
	h.t.Helper()
	b, err := h.svc.Inventory.GetBatch(h.ctx, id)
	if err != nil {
		h.t.Fatalf("get batch: %v", err)
	}
	return b
}

func (h *harness) workOrder(id string) *entity.WorkOrder {
	h.t.Helper()
	wo, err := h.svc.WorkOrder.Get(h.ctx, id)
	if err != nil {
		h.t.Fatalf("get work order: %v", err)
	}
	return wo
}

func hasEvent(r *event.Recorder, typ string) bool {
	for _, got := range r.Types() {
		if got == typ {
			return true
		}
	}
	return false
}
