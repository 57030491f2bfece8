package service

import (
	"context"
	"strings"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/shared/database"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ControlLoop 跨域编排。各服务只返回结果对象（计划、触发、处置效果），
// 由这里转交下一个服务，同一事务内全部生效或全部回滚。
type ControlLoop struct {
	uow database.UnitOfWork
	s   *Services
	log *zap.Logger
}

func NewControlLoop(uow database.UnitOfWork, s *Services, log *zap.Logger) *ControlLoop {
	return &ControlLoop{uow: uow, s: s, log: log}
}

// ReportResult 报工结果
type ReportResult struct {
	Report       *entity.ProductionReport       `json:"report"`
	WorkOrder    *entity.WorkOrder              `json:"work_order"`
	Transactions []*entity.InventoryTransaction `json:"transactions"`
}

// ReportProduction 报工 → 工单计数器 → 按 BOM 出库
func (l *ControlLoop) ReportProduction(ctx context.Context, req CreateReportRequest, userID string) (*ReportResult, error) {
	var res *ReportResult
	err := l.uow.WithTx(ctx, func(ctx context.Context) error {
		wo, err := l.s.WorkOrder.Lock(ctx, req.WorkOrderID)
		if err != nil {
			return err
		}
		plan, err := l.s.Reporting.Prepare(ctx, wo, req, userID)
		if err != nil {
			return err
		}
		if plan.Report.ReportType == domain.ReportRework {
			if _, err := l.s.WorkOrder.Get(ctx, plan.Report.OriginalWorkOrderID); err != nil {
				return err
			}
		}
		if err := l.s.WorkOrder.ApplyReport(ctx, wo, plan.Delta, ApplyOptions{
			Override: req.Override, Source: plan.Report.Code, UserID: userID,
		}); err != nil {
			return err
		}
		if err := l.s.Reporting.Save(ctx, plan); err != nil {
			return err
		}
		res = &ReportResult{Report: plan.Report, WorkOrder: wo, Transactions: []*entity.InventoryTransaction{}}
		ref := Reference{Type: RefReport, ID: plan.Report.ID, Code: plan.Report.Code}
		for _, c := range plan.Consumption {
			tx, err := l.consume(ctx, wo, plan.WarehouseID, c.MaterialID, c.Quantity, ref, userID)
			if err != nil {
				return err
			}
			res.Transactions = append(res.Transactions, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("production reported",
		zap.String("report", res.Report.Code), zap.String("work_order", res.WorkOrder.Code),
		zap.String("status", string(res.WorkOrder.Status)), zap.Int("outbound", len(res.Transactions)))
	return res, nil
}

// consume 工单领料出库，优先消耗该工单的预留
func (l *ControlLoop) consume(ctx context.Context, wo *entity.WorkOrder, warehouseID, materialID string, qty decimal.Decimal, ref Reference, userID string) (*entity.InventoryTransaction, error) {
	reservationID := ""
	res, err := l.s.Inventory.ActiveReservation(ctx, wo.ID, materialID, warehouseID)
	if err != nil {
		return nil, err
	}
	if res != nil {
		reservationID = res.ID
	}
	return l.s.Inventory.Outbound(ctx, OutboundRequest{
		MaterialID:    materialID,
		WarehouseID:   warehouseID,
		Quantity:      qty,
		TxType:        domain.TxProductionOut,
		WorkOrderID:   wo.ID,
		ReservationID: reservationID,
		Reference:     ref,
	}, userID)
}

// AmendResult 报工修正结果
type AmendResult struct {
	Report       *entity.ProductionReport       `json:"report"`
	Amendment    *entity.ReportAmendment        `json:"amendment"`
	WorkOrder    *entity.WorkOrder              `json:"work_order"`
	Delta        domain.CounterDelta            `json:"delta"`
	Transactions []*entity.InventoryTransaction `json:"transactions"`
}

// AmendReport 修正报工：先锁工单再锁报工，与新报工串行；
// 超出窗口在任何写入之前失败。
func (l *ControlLoop) AmendReport(ctx context.Context, reportID string, req AmendReportRequest, userID string) (*AmendResult, error) {
	current, err := l.s.Reporting.Get(ctx, reportID)
	if err != nil {
		return nil, err
	}
	var res *AmendResult
	err = l.uow.WithTx(ctx, func(ctx context.Context) error {
		wo, err := l.s.WorkOrder.Lock(ctx, current.WorkOrderID)
		if err != nil {
			return err
		}
		report, err := l.s.Reporting.LockReport(ctx, reportID)
		if err != nil {
			return err
		}
		plan, err := l.s.Reporting.PrepareAmendment(ctx, report, req, userID)
		if err != nil {
			return err
		}
		if err := l.s.WorkOrder.ApplyReport(ctx, wo, plan.Delta, ApplyOptions{
			Override: report.Override, Amendment: true, Source: report.Code, UserID: userID,
		}); err != nil {
			return err
		}
		res = &AmendResult{Report: report, Amendment: plan.Amendment, WorkOrder: wo, Delta: plan.Delta, Transactions: []*entity.InventoryTransaction{}}
		ref := Reference{Type: RefReport, ID: report.ID, Code: report.Code}
		for _, adj := range plan.Adjustments {
			var tx *entity.InventoryTransaction
			if adj.Delta.IsPositive() {
				tx, err = l.consume(ctx, wo, plan.WarehouseID, adj.MaterialID, adj.Delta, ref, userID)
			} else {
				tx, err = l.s.Inventory.Restore(ctx, RestoreRequest{
					MaterialID:  adj.MaterialID,
					WarehouseID: plan.WarehouseID,
					Quantity:    adj.Delta.Neg(),
					WorkOrderID: wo.ID,
					Reference:   ref,
					Remark:      plan.Amendment.Reason,
				}, userID)
			}
			if err != nil {
				return err
			}
			res.Transactions = append(res.Transactions, tx)
		}
		return l.s.Reporting.SaveAmendment(ctx, plan)
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("production report amended",
		zap.String("report", res.Report.Code), zap.Int64("completed_delta", res.Delta.Completed),
		zap.Int("compensating", len(res.Transactions)))
	return res, nil
}

// CreateInspection 建检验单，补全工单、批次上的追溯信息
func (l *ControlLoop) CreateInspection(ctx context.Context, req CreateInspectionRequest, userID string) (*entity.Inspection, error) {
	if req.WorkOrderID != "" {
		wo, err := l.s.WorkOrder.Get(ctx, req.WorkOrderID)
		if err != nil {
			return nil, err
		}
		req.WorkOrderCode = wo.Code
		if req.StationID == "" {
			req.StationID = wo.StationID
		}
		if req.FactoryCode == "" {
			req.FactoryCode = wo.FactoryCode
		}
	}
	if code := strings.TrimSpace(req.BatchCode); code != "" {
		b, err := l.s.Inventory.FindBatchByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		req.BatchID = b.ID
		if req.MaterialID == "" {
			req.MaterialID = b.MaterialID
			req.MaterialCode = b.MaterialCode
		}
		if req.SupplierID == "" {
			req.SupplierID = b.SupplierID
		}
	}
	return l.s.Inspection.Create(ctx, req, userID)
}

// AssociateWorkOrder 来料检验关联工单
func (l *ControlLoop) AssociateWorkOrder(ctx context.Context, inspectionID, workOrderID, userID string) (*entity.Inspection, error) {
	if workOrderID == "" {
		return nil, domain.NewError(domain.KindMissingRequiredLink, entity.EntityInspection, inspectionID, "", "associate_work_order",
			"work_order_id is required")
	}
	wo, err := l.s.WorkOrder.Get(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	return l.s.Inspection.AssociateWorkOrder(ctx, inspectionID, wo, userID)
}

// InspectionResult 检验判定及其级联结果
type InspectionResult struct {
	*InspectionOutcome
	Defect           *entity.Defect           `json:"defect,omitempty"`
	CorrectiveAction *entity.CorrectiveAction `json:"corrective_action,omitempty"`
	Batch            *entity.InventoryBatch   `json:"batch,omitempty"`
}

// SubmitInspectionResult 判定 → 不合格自动建缺陷 → 升级纠正措施；来料检验同时处理待检批次
func (l *ControlLoop) SubmitInspectionResult(ctx context.Context, id string, req SubmitInspectionRequest, userID string) (*InspectionResult, error) {
	var res *InspectionResult
	err := l.uow.WithTx(ctx, func(ctx context.Context) error {
		outcome, err := l.s.Inspection.SubmitResult(ctx, id, req, userID)
		if err != nil {
			return err
		}
		res = &InspectionResult{InspectionOutcome: outcome}
		in := outcome.Inspection
		if outcome.DefectTrigger != nil {
			dr, err := l.s.Defect.AutoCreateFromInspection(ctx, *outcome.DefectTrigger, userID)
			if err != nil {
				return err
			}
			if err := l.s.Inspection.LinkDefect(ctx, in, dr.Defect.ID); err != nil {
				return err
			}
			res.Defect, res.CorrectiveAction = dr.Defect, dr.CorrectiveAction
		}
		if in.Type == domain.InspectionIncoming && (in.BatchID != "" || in.BatchCode != "") {
			b, changed, err := l.s.Inventory.ApplyInspectionVerdict(ctx, in.BatchID, in.BatchCode, in.Status == domain.InspectionPassed, in.Code, userID)
			if err != nil {
				return err
			}
			if changed {
				res.Batch = b
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	fields := []zap.Field{zap.String("inspection", res.Inspection.Code), zap.String("status", string(res.Inspection.Status))}
	if res.Defect != nil {
		fields = append(fields, zap.String("defect", res.Defect.Code))
	}
	if res.CorrectiveAction != nil {
		fields = append(fields, zap.String("corrective_action", res.CorrectiveAction.Code))
	}
	l.log.Info("inspection result submitted", fields...)
	return res, nil
}

// DispositionResult 处置及其台账、工单回写
type DispositionResult struct {
	Defect      *entity.Defect               `json:"defect"`
	Transaction *entity.InventoryTransaction `json:"transaction,omitempty"`
	WorkOrder   *entity.WorkOrder            `json:"work_order,omitempty"`
}

// SubmitDisposition 处置缺陷；报废时从关联批次报废出库，并回写工单报废数
func (l *ControlLoop) SubmitDisposition(ctx context.Context, defectID string, req SubmitDispositionRequest, userID string) (*DispositionResult, error) {
	var res *DispositionResult
	err := l.uow.WithTx(ctx, func(ctx context.Context) error {
		effect, err := l.s.Defect.SubmitDisposition(ctx, defectID, req, userID)
		if err != nil {
			return err
		}
		res = &DispositionResult{Defect: effect.Defect}
		if !effect.Scrap() {
			return nil
		}
		d := effect.Defect
		if effect.BatchID != "" || effect.BatchCode != "" {
			tx, err := l.s.Inventory.ScrapFromBatch(ctx, ScrapRequest{
				BatchID:     effect.BatchID,
				BatchCode:   effect.BatchCode,
				Quantity:    decimal.NewFromInt(effect.Quantity),
				WorkOrderID: effect.WorkOrderID,
				Reference:   Reference{Type: RefDefect, ID: d.ID, Code: d.Code},
				Remark:      req.Remark,
			}, userID)
			if err != nil {
				return err
			}
			res.Transaction = tx
		}
		if effect.WorkOrderID != "" {
			wo, err := l.s.WorkOrder.ApplyScrapFeedback(ctx, effect.WorkOrderID, effect.Quantity, d.Code, userID)
			if err != nil {
				return err
			}
			res.WorkOrder = wo
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type CompleteWorkOrderRequest struct {
	WarehouseID string          `json:"warehouse_id"` // 非空时良品入成品仓
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// CompletionResult 完工结果
type CompletionResult struct {
	WorkOrder *entity.WorkOrder `json:"work_order"`
	Inbound   *InboundResult    `json:"inbound,omitempty"`
}

// CompleteWorkOrder 完工，可选把良品数量做成品入库
func (l *ControlLoop) CompleteWorkOrder(ctx context.Context, id string, req CompleteWorkOrderRequest, userID string) (*CompletionResult, error) {
	var res *CompletionResult
	err := l.uow.WithTx(ctx, func(ctx context.Context) error {
		wo, err := l.s.WorkOrder.Complete(ctx, id, userID)
		if err != nil {
			return err
		}
		res = &CompletionResult{WorkOrder: wo}
		if req.WarehouseID == "" || wo.GoodQty <= 0 {
			return nil
		}
		materialCode := wo.ProductCode
		if materialCode == "" {
			materialCode = wo.ProductID
		}
		res.Inbound, err = l.s.Inventory.Inbound(ctx, InboundRequest{
			MaterialID:   wo.ProductID,
			MaterialCode: materialCode,
			MaterialName: wo.ProductName,
			WarehouseID:  req.WarehouseID,
			Quantity:     decimal.NewFromInt(wo.GoodQty),
			UnitCost:     req.UnitCost,
			TxType:       domain.TxProductionIn,
			SourceType:   RefWO,
			SourceID:     wo.ID,
			WorkOrderID:  wo.ID,
			Reference:    Reference{Type: RefWO, ID: wo.ID, Code: wo.Code},
		}, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReserveForWorkOrder 为未结束的工单预留物料
func (l *ControlLoop) ReserveForWorkOrder(ctx context.Context, req ReserveRequest, userID string) (*entity.Reservation, error) {
	var res *entity.Reservation
	err := l.uow.WithTx(ctx, func(ctx context.Context) error {
		wo, err := l.s.WorkOrder.Lock(ctx, req.WorkOrderID)
		if err != nil {
			return err
		}
		if wo.Status.Terminal() {
			return domain.IllegalTransition(entity.EntityWorkOrder, wo.ID, string(wo.Status), "reserve")
		}
		if req.WarehouseID == "" {
			req.WarehouseID = wo.WarehouseID
		}
		res, err = l.s.Inventory.Reserve(ctx, req, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CountAdjustmentResult 盘点调整结果
type CountAdjustmentResult struct {
	Count        *entity.InventoryCount         `json:"count"`
	Transactions []*entity.InventoryTransaction `json:"transactions"`
}

// ApplyCountAdjustments 审批通过后把盘点差异逐行写入台账
func (l *ControlLoop) ApplyCountAdjustments(ctx context.Context, countID, userID string) (*CountAdjustmentResult, error) {
	var res *CountAdjustmentResult
	err := l.uow.WithTx(ctx, func(ctx context.Context) error {
		count, err := l.s.Count.LockPending(ctx, countID)
		if err != nil {
			return err
		}
		res = &CountAdjustmentResult{Count: count, Transactions: []*entity.InventoryTransaction{}}
		ref := Reference{Type: RefCount, ID: count.ID, Code: count.Code}
		for _, item := range count.Items {
			if item.Difference.IsZero() {
				continue
			}
			tx, err := l.s.Inventory.Adjust(ctx, AdjustRequest{
				BatchID:      item.BatchID,
				MaterialID:   item.MaterialID,
				MaterialCode: item.MaterialCode,
				WarehouseID:  count.WarehouseID,
				Delta:        item.Difference,
				Reference:    ref,
				Remark:       "盘点调整",
			}, userID)
			if err != nil {
				return err
			}
			res.Transactions = append(res.Transactions, tx)
		}
		return l.s.Count.MarkApplied(ctx, count, len(res.Transactions), userID)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
