package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/mes/event"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/ericaxiaweilin/EngHub/internal/shared/database"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 交易引用类型
const (
	RefReport  = "REPORT"
	RefCount   = "COUNT"
	RefDefect  = "DEFECT"
	RefWO      = "WO"
	RefPO      = "PO"
	RefManual  = "MANUAL"
	batchRetry = 3
)

// InventoryService 批次台账：入库、先进先出出库、预留、回冲
type InventoryService struct {
	*core
	batches      *repository.BatchRepository
	txs          *repository.TransactionRepository
	reservations *repository.ReservationRepository
}

func NewInventoryService(c *core, batches *repository.BatchRepository, txs *repository.TransactionRepository, reservations *repository.ReservationRepository) *InventoryService {
	return &InventoryService{core: c, batches: batches, txs: txs, reservations: reservations}
}

// Reference 交易关联的业务单据
type Reference struct {
	Type string `json:"reference_type"`
	ID   string `json:"reference_id"`
	Code string `json:"reference_code"`
}

type InboundRequest struct {
	MaterialID   string             `json:"material_id" binding:"required"`
	MaterialCode string             `json:"material_code"`
	MaterialName string             `json:"material_name"`
	WarehouseID  string             `json:"warehouse_id" binding:"required"`
	LocationID   string             `json:"location_id"`
	BatchCode    string             `json:"batch_code"` // 已有批次则累加
	Quantity     decimal.Decimal    `json:"quantity"`
	UnitCost     decimal.Decimal    `json:"unit_cost"`
	Unit         string             `json:"unit"`
	ReceiveDate  *time.Time         `json:"receive_date"`
	TxType       domain.TxType      `json:"tx_type"` // 默认 purchase_in
	Status       domain.BatchStatus `json:"status"`  // 默认 available；待检收货用 qc_hold
	SupplierID   string             `json:"supplier_id"`
	SourceType   string             `json:"source_type"`
	SourceID     string             `json:"source_id"`
	WorkOrderID  string             `json:"work_order_id"`
	Reference    Reference          `json:"reference"`
	Remark       string             `json:"remark"`
}

// InboundResult 入库结果
type InboundResult struct {
	Batch       *entity.InventoryBatch       `json:"batch"`
	Transaction *entity.InventoryTransaction `json:"transaction"`
}

// Inbound 入库：新建批次（未给批次号时自动生成）或累加到已有批次
func (s *InventoryService) Inbound(ctx context.Context, req InboundRequest, userID string) (*InboundResult, error) {
	if req.MaterialID == "" || req.WarehouseID == "" {
		return nil, domain.InvalidArgument(entity.EntityBatch, "inbound", "material_id and warehouse_id are required")
	}
	if req.Quantity.IsNegative() || req.UnitCost.IsNegative() {
		return nil, domain.InvalidArgument(entity.EntityBatch, "inbound", "quantity and unit_cost must not be negative")
	}
	if req.TxType == "" {
		req.TxType = domain.TxPurchaseIn
	}
	if !req.TxType.Valid() || !req.TxType.Inbound() {
		return nil, domain.InvalidArgument(entity.EntityBatch, "inbound", fmt.Sprintf("%q is not an inbound transaction type", req.TxType))
	}
	if req.Status == "" {
		req.Status = domain.BatchAvailable
	}
	if !req.Status.Valid() || req.Status == domain.BatchReserved {
		return nil, domain.InvalidArgument(entity.EntityBatch, "inbound", fmt.Sprintf("invalid initial batch status %q", req.Status))
	}
	if req.MaterialCode == "" {
		req.MaterialCode = req.MaterialID
	}

	var res *InboundResult
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		var batch *entity.InventoryBatch
		if req.BatchCode != "" {
			existing, err := s.batches.FindCodeForUpdate(ctx, req.BatchCode)
			switch {
			case err == nil:
				if existing.MaterialID != req.MaterialID || existing.WarehouseID != req.WarehouseID {
					return domain.NewError(domain.KindInvalidArgument, entity.EntityBatch, existing.ID, string(existing.Status), "inbound",
						fmt.Sprintf("batch %s belongs to material %s in warehouse %s", existing.BatchCode, existing.MaterialID, existing.WarehouseID))
				}
				if existing.Quantity.Add(req.Quantity).IsPositive() {
					existing.UnitCost = existing.Quantity.Mul(existing.UnitCost).Add(req.Quantity.Mul(req.UnitCost)).
						DivRound(existing.Quantity.Add(req.Quantity), 4)
				}
				existing.Quantity = existing.Quantity.Add(req.Quantity)
				existing.AvailableQty = existing.AvailableQty.Add(req.Quantity)
				existing.RefreshStatus()
				if err := s.batches.Update(ctx, existing); err != nil {
					return errs.Wrapf(err, "update batch %s", existing.BatchCode)
				}
				batch = existing
			case errors.Is(err, repository.ErrNotFound):
			default:
				return errs.Wrapf(err, "load batch %s", req.BatchCode)
			}
		}
		if batch == nil {
			var err error
			if batch, err = s.createBatch(ctx, req, now); err != nil {
				return err
			}
		}

		tx := &entity.InventoryTransaction{
			ID:            uuid.New().String(),
			MaterialID:    req.MaterialID,
			MaterialCode:  req.MaterialCode,
			WarehouseID:   req.WarehouseID,
			TxType:        req.TxType,
			Quantity:      req.Quantity,
			Amount:        req.Quantity.Mul(req.UnitCost).Round(4),
			WorkOrderID:   req.WorkOrderID,
			ReferenceType: req.Reference.Type,
			ReferenceID:   req.Reference.ID,
			ReferenceCode: req.Reference.Code,
			Remark:        req.Remark,
			CreatedBy:     userID,
			CreatedAt:     now,
		}
		tx.Lines = []entity.InventoryTransactionLine{{
			ID:            uuid.New().String(),
			TransactionID: tx.ID,
			Seq:           1,
			BatchID:       batch.ID,
			BatchCode:     batch.BatchCode,
			Quantity:      req.Quantity,
			UnitCost:      req.UnitCost,
		}}
		if err := s.txs.Create(ctx, tx); err != nil {
			return errs.Wrap(err, "create inbound transaction")
		}
		s.publish(ctx, s.ledgerEvent(event.LedgerInbound, tx))
		res = &InboundResult{Batch: batch, Transaction: tx}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// createBatch 新建批次。自动生成的批次号撞上唯一索引时在保存点内重试。
func (s *InventoryService) createBatch(ctx context.Context, req InboundRequest, now time.Time) (*entity.InventoryBatch, error) {
	receive := now
	if req.ReceiveDate != nil {
		receive = req.ReceiveDate.UTC()
	}
	unit := req.Unit
	if unit == "" {
		unit = "pcs"
	}
	batch := &entity.InventoryBatch{
		MaterialID:   req.MaterialID,
		MaterialCode: req.MaterialCode,
		MaterialName: req.MaterialName,
		WarehouseID:  req.WarehouseID,
		LocationID:   req.LocationID,
		Quantity:     req.Quantity,
		AvailableQty: req.Quantity,
		ReservedQty:  decimal.Zero,
		UnitCost:     req.UnitCost,
		Unit:         unit,
		ReceiveDate:  receive,
		Status:       req.Status,
		SupplierID:   req.SupplierID,
		SourceType:   req.SourceType,
		SourceID:     req.SourceID,
		CreatedAt:    now,
	}
	if req.BatchCode != "" {
		batch.ID = uuid.New().String()
		batch.BatchCode = req.BatchCode
		if err := s.batches.Create(ctx, batch); err != nil {
			return nil, errs.Wrapf(err, "create batch %s", batch.BatchCode)
		}
		return batch, nil
	}

	var lastErr error
	for attempt := 1; attempt <= batchRetry; attempt++ {
		batch.ID = uuid.New().String()
		batch.BatchCode = BatchCode(req.MaterialCode, receive)
		lastErr = database.Savepoint(ctx, s.db, func(ctx context.Context) error {
			return s.batches.Create(ctx, batch)
		})
		if lastErr == nil {
			return batch, nil
		}
		if !errors.Is(lastErr, gorm.ErrDuplicatedKey) {
			return nil, errs.Wrap(lastErr, "create batch")
		}
		s.log.Warn("batch code collision, regenerating",
			zap.String("batch_code", batch.BatchCode), zap.Int("attempt", attempt))
	}
	return nil, errs.Wrapf(lastErr, "create batch after %d attempts", batchRetry)
}

type OutboundRequest struct {
	MaterialID    string          `json:"material_id" binding:"required"`
	WarehouseID   string          `json:"warehouse_id" binding:"required"`
	Quantity      decimal.Decimal `json:"quantity"`
	TxType        domain.TxType   `json:"tx_type"` // 默认 production_out
	WorkOrderID   string          `json:"work_order_id"`
	ReservationID string          `json:"reservation_id"` // 先消耗该预留
	Reference     Reference       `json:"reference"`
	Remark        string          `json:"remark"`
}

// allocation 一个批次的分配
type allocation struct {
	batch        *entity.InventoryBatch
	qty          decimal.Decimal
	fromReserved bool
	resLine      *entity.ReservationLine
}

// Outbound 先进先出出库，全有或全无。
// 引用预留时先消耗预留落到的批次，余量再按先进先出取可用量。
func (s *InventoryService) Outbound(ctx context.Context, req OutboundRequest, userID string) (*entity.InventoryTransaction, error) {
	if req.MaterialID == "" || req.WarehouseID == "" {
		return nil, domain.InvalidArgument(entity.EntityBatch, "outbound", "material_id and warehouse_id are required")
	}
	if !req.Quantity.IsPositive() {
		return nil, domain.InvalidArgument(entity.EntityBatch, "outbound", "quantity must be positive")
	}
	if req.TxType == "" {
		req.TxType = domain.TxProductionOut
	}
	if !req.TxType.Valid() || req.TxType.Inbound() {
		return nil, domain.InvalidArgument(entity.EntityBatch, "outbound", fmt.Sprintf("%q is not an outbound transaction type", req.TxType))
	}

	var tx *entity.InventoryTransaction
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		remaining := req.Quantity
		var allocs []allocation
		var res *entity.Reservation

		if req.ReservationID != "" {
			var err error
			if res, err = s.reservations.FindForUpdate(ctx, req.ReservationID); err != nil {
				return loadErr(err, entity.EntityReservation, req.ReservationID)
			}
			if res.Status != domain.ReservationActive || res.MaterialID != req.MaterialID || res.WarehouseID != req.WarehouseID {
				return domain.NewError(domain.KindInvalidArgument, entity.EntityReservation, res.ID, string(res.Status), "outbound",
					"reservation is not active for this material and warehouse")
			}
			ids := make([]string, 0, len(res.Lines))
			for _, l := range res.Lines {
				ids = append(ids, l.BatchID)
			}
			locked, err := s.batches.LockByIDs(ctx, ids)
			if err != nil {
				return errs.Wrap(err, "lock reserved batches")
			}
			byID := indexBatches(locked)
			for i := range res.Lines {
				line := &res.Lines[i]
				left := line.Quantity.Sub(line.ConsumedQty)
				b := byID[line.BatchID]
				if !remaining.IsPositive() || !left.IsPositive() || b == nil {
					continue
				}
				take := decimal.Min(left, remaining, b.ReservedQty)
				if !take.IsPositive() {
					continue
				}
				allocs = append(allocs, allocation{batch: b, qty: take, fromReserved: true, resLine: line})
				remaining = remaining.Sub(take)
			}
		}

		if remaining.IsPositive() {
			candidates, err := s.batches.LockAllocatable(ctx, req.MaterialID, req.WarehouseID)
			if err != nil {
				return errs.Wrap(err, "lock batches")
			}
			// 同一批次可能已按预留分配，复用同一对象保证数量一致
			seen := map[string]*entity.InventoryBatch{}
			for _, a := range allocs {
				seen[a.batch.ID] = a.batch
			}
			available := decimal.Zero
			for i := range candidates {
				b := &candidates[i]
				if prior, ok := seen[b.ID]; ok {
					b = prior
				}
				available = available.Add(b.AvailableQty)
				if !remaining.IsPositive() || !b.AvailableQty.IsPositive() {
					continue
				}
				take := decimal.Min(b.AvailableQty, remaining)
				allocs = append(allocs, allocation{batch: b, qty: take})
				remaining = remaining.Sub(take)
			}
			if remaining.IsPositive() {
				return domain.NewError(domain.KindInsufficientStock, entity.EntityBatch, req.MaterialID, "", "outbound",
					fmt.Sprintf("requested %s in %s, available %s", req.Quantity, req.WarehouseID, available.Add(sumAllocated(allocs, true))))
			}
		}

		var err error
		tx, err = s.applyOutbound(ctx, req, allocs, userID)
		if err != nil {
			return err
		}
		if res != nil {
			if err := s.consumeReservation(ctx, res, allocs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *InventoryService) applyOutbound(ctx context.Context, req OutboundRequest, allocs []allocation, userID string) (*entity.InventoryTransaction, error) {
	now := s.now()
	tx := &entity.InventoryTransaction{
		ID:            uuid.New().String(),
		MaterialID:    req.MaterialID,
		WarehouseID:   req.WarehouseID,
		TxType:        req.TxType,
		Quantity:      req.Quantity.Neg(),
		WorkOrderID:   req.WorkOrderID,
		ReservationID: req.ReservationID,
		ReferenceType: req.Reference.Type,
		ReferenceID:   req.Reference.ID,
		ReferenceCode: req.Reference.Code,
		Remark:        req.Remark,
		CreatedBy:     userID,
		CreatedAt:     now,
	}
	amount := decimal.Zero
	updated := map[string]bool{}
	for i, a := range allocs {
		b := a.batch
		if a.fromReserved {
			b.ReservedQty = b.ReservedQty.Sub(a.qty)
		} else {
			b.AvailableQty = b.AvailableQty.Sub(a.qty)
		}
		b.Quantity = b.Quantity.Sub(a.qty)
		if tx.MaterialCode == "" {
			tx.MaterialCode = b.MaterialCode
		}
		amount = amount.Add(a.qty.Mul(b.UnitCost))
		tx.Lines = append(tx.Lines, entity.InventoryTransactionLine{
			ID:            uuid.New().String(),
			TransactionID: tx.ID,
			Seq:           i + 1,
			BatchID:       b.ID,
			BatchCode:     b.BatchCode,
			Quantity:      a.qty,
			UnitCost:      b.UnitCost,
			FromReserved:  a.fromReserved,
		})
		updated[b.ID] = true
	}
	for _, a := range allocs {
		b := a.batch
		if !updated[b.ID] {
			continue
		}
		updated[b.ID] = false
		if !b.Balanced() {
			return nil, domain.NewError(domain.KindInsufficientStock, entity.EntityBatch, b.ID, string(b.Status), "outbound",
				fmt.Sprintf("batch %s would become unbalanced", b.BatchCode))
		}
		b.RefreshStatus()
		if err := s.batches.Update(ctx, b); err != nil {
			return nil, errs.Wrapf(err, "update batch %s", b.BatchCode)
		}
	}
	tx.Amount = amount.Neg().Round(4)
	if err := s.txs.Create(ctx, tx); err != nil {
		return nil, errs.Wrap(err, "create outbound transaction")
	}
	s.log.Debug("outbound",
		zap.String("material_id", req.MaterialID), zap.String("quantity", req.Quantity.String()),
		zap.Int("batches", len(allocs)), zap.String("reference", req.Reference.Code))
	s.publish(ctx, s.ledgerEvent(event.LedgerOutbound, tx))
	return tx, nil
}

func (s *InventoryService) consumeReservation(ctx context.Context, res *entity.Reservation, allocs []allocation) error {
	for _, a := range allocs {
		if a.resLine == nil {
			continue
		}
		a.resLine.ConsumedQty = a.resLine.ConsumedQty.Add(a.qty)
		res.ConsumedQty = res.ConsumedQty.Add(a.qty)
		if err := s.reservations.UpdateLine(ctx, a.resLine); err != nil {
			return errs.Wrap(err, "update reservation line")
		}
	}
	if !res.Remaining().IsPositive() {
		res.Status = domain.ReservationConsumed
	}
	return errs.Wrap(s.reservations.Update(ctx, res), "update reservation")
}

type ScrapRequest struct {
	BatchID     string          `json:"batch_id"`
	BatchCode   string          `json:"batch_code"`
	Quantity    decimal.Decimal `json:"quantity"`
	WorkOrderID string          `json:"work_order_id"`
	Reference   Reference       `json:"reference"`
	Remark      string          `json:"remark"`
}

// ScrapFromBatch 从指定批次报废出库，不受批次冻结/待检状态限制
func (s *InventoryService) ScrapFromBatch(ctx context.Context, req ScrapRequest, userID string) (*entity.InventoryTransaction, error) {
	if !req.Quantity.IsPositive() {
		return nil, domain.InvalidArgument(entity.EntityBatch, "scrap", "quantity must be positive")
	}
	var tx *entity.InventoryTransaction
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.lockBatch(ctx, req.BatchID, req.BatchCode)
		if err != nil {
			return err
		}
		if b.AvailableQty.LessThan(req.Quantity) {
			return domain.NewError(domain.KindInsufficientStock, entity.EntityBatch, b.ID, string(b.Status), "scrap",
				fmt.Sprintf("batch %s available %s, requested %s", b.BatchCode, b.AvailableQty, req.Quantity))
		}
		tx, err = s.applyOutbound(ctx, OutboundRequest{
			MaterialID:  b.MaterialID,
			WarehouseID: b.WarehouseID,
			Quantity:    req.Quantity,
			TxType:      domain.TxScrapOut,
			WorkOrderID: req.WorkOrderID,
			Reference:   req.Reference,
			Remark:      req.Remark,
		}, []allocation{{batch: b, qty: req.Quantity}}, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

type RestoreRequest struct {
	MaterialID  string
	WarehouseID string
	Quantity    decimal.Decimal
	WorkOrderID string
	Reference   Reference // 原出库所引用的单据
	Remark      string
}

// Restore 回冲：把某单据此前出库的数量按相反顺序退回原批次（后出先退）
func (s *InventoryService) Restore(ctx context.Context, req RestoreRequest, userID string) (*entity.InventoryTransaction, error) {
	if !req.Quantity.IsPositive() {
		return nil, domain.InvalidArgument(entity.EntityBatch, "restore", "quantity must be positive")
	}
	var tx *entity.InventoryTransaction
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		history, err := s.txs.FindByReference(ctx, req.Reference.Type, req.Reference.ID)
		if err != nil {
			return errs.Wrap(err, "load reference transactions")
		}
		// 按出库顺序排列每个批次的净消耗
		var order []string
		net := map[string]decimal.Decimal{}
		for _, h := range history {
			if h.MaterialID != req.MaterialID || h.WarehouseID != req.WarehouseID {
				continue
			}
			for _, l := range h.Lines {
				if h.TxType.Inbound() {
					net[l.BatchID] = net[l.BatchID].Sub(l.Quantity)
					continue
				}
				if _, ok := net[l.BatchID]; !ok {
					order = append(order, l.BatchID)
				}
				net[l.BatchID] = net[l.BatchID].Add(l.Quantity)
			}
		}
		total := decimal.Zero
		for _, id := range order {
			total = total.Add(net[id])
		}
		if total.LessThan(req.Quantity) {
			return domain.NewError(domain.KindInvalidArgument, entity.EntityBatch, req.MaterialID, "", "restore",
				fmt.Sprintf("reference %s consumed %s, cannot restore %s", req.Reference.Code, total, req.Quantity))
		}

		locked, err := s.batches.LockByIDs(ctx, order)
		if err != nil {
			return errs.Wrap(err, "lock batches")
		}
		byID := indexBatches(locked)
		now := s.now()
		tx = &entity.InventoryTransaction{
			ID:            uuid.New().String(),
			MaterialID:    req.MaterialID,
			WarehouseID:   req.WarehouseID,
			TxType:        domain.TxReturnIn,
			Quantity:      req.Quantity,
			WorkOrderID:   req.WorkOrderID,
			ReferenceType: req.Reference.Type,
			ReferenceID:   req.Reference.ID,
			ReferenceCode: req.Reference.Code,
			Remark:        req.Remark,
			CreatedBy:     userID,
			CreatedAt:     now,
		}
		remaining := req.Quantity
		amount := decimal.Zero
		for i := len(order) - 1; i >= 0 && remaining.IsPositive(); i-- {
			b := byID[order[i]]
			give := decimal.Min(net[order[i]], remaining)
			if b == nil || !give.IsPositive() {
				continue
			}
			b.Quantity = b.Quantity.Add(give)
			b.AvailableQty = b.AvailableQty.Add(give)
			b.RefreshStatus()
			if err := s.batches.Update(ctx, b); err != nil {
				return errs.Wrapf(err, "update batch %s", b.BatchCode)
			}
			if tx.MaterialCode == "" {
				tx.MaterialCode = b.MaterialCode
			}
			amount = amount.Add(give.Mul(b.UnitCost))
			tx.Lines = append(tx.Lines, entity.InventoryTransactionLine{
				ID:            uuid.New().String(),
				TransactionID: tx.ID,
				Seq:           len(tx.Lines) + 1,
				BatchID:       b.ID,
				BatchCode:     b.BatchCode,
				Quantity:      give,
				UnitCost:      b.UnitCost,
			})
			remaining = remaining.Sub(give)
		}
		tx.Amount = amount.Round(4)
		if err := s.txs.Create(ctx, tx); err != nil {
			return errs.Wrap(err, "create restore transaction")
		}
		s.publish(ctx, s.ledgerEvent(event.LedgerInbound, tx))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

type ReserveRequest struct {
	WorkOrderID string          `json:"work_order_id" binding:"required"`
	MaterialID  string          `json:"material_id" binding:"required"`
	WarehouseID string          `json:"warehouse_id" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// Reserve 为工单预留物料，不移动实物；可用量转为预留量，全有或全无
func (s *InventoryService) Reserve(ctx context.Context, req ReserveRequest, userID string) (*entity.Reservation, error) {
	if req.WorkOrderID == "" || req.MaterialID == "" || req.WarehouseID == "" {
		return nil, domain.InvalidArgument(entity.EntityReservation, "reserve", "work_order_id, material_id and warehouse_id are required")
	}
	if !req.Quantity.IsPositive() {
		return nil, domain.InvalidArgument(entity.EntityReservation, "reserve", "quantity must be positive")
	}
	var res *entity.Reservation
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		candidates, err := s.batches.LockAllocatable(ctx, req.MaterialID, req.WarehouseID)
		if err != nil {
			return errs.Wrap(err, "lock batches")
		}
		now := s.now()
		res = &entity.Reservation{
			ID:          uuid.New().String(),
			WorkOrderID: req.WorkOrderID,
			MaterialID:  req.MaterialID,
			WarehouseID: req.WarehouseID,
			Quantity:    req.Quantity,
			ConsumedQty: decimal.Zero,
			Status:      domain.ReservationActive,
			CreatedBy:   userID,
			CreatedAt:   now,
		}
		remaining := req.Quantity
		var touched []*entity.InventoryBatch
		available := decimal.Zero
		for i := range candidates {
			b := &candidates[i]
			available = available.Add(b.AvailableQty)
			if !remaining.IsPositive() || !b.AvailableQty.IsPositive() {
				continue
			}
			take := decimal.Min(b.AvailableQty, remaining)
			b.AvailableQty = b.AvailableQty.Sub(take)
			b.ReservedQty = b.ReservedQty.Add(take)
			touched = append(touched, b)
			res.Lines = append(res.Lines, entity.ReservationLine{
				ID:            uuid.New().String(),
				ReservationID: res.ID,
				Seq:           len(res.Lines) + 1,
				BatchID:       b.ID,
				BatchCode:     b.BatchCode,
				Quantity:      take,
				ConsumedQty:   decimal.Zero,
			})
			remaining = remaining.Sub(take)
		}
		if remaining.IsPositive() {
			return domain.NewError(domain.KindInsufficientStock, entity.EntityReservation, req.MaterialID, "", "reserve",
				fmt.Sprintf("requested %s in %s, available %s", req.Quantity, req.WarehouseID, available))
		}
		for _, b := range touched {
			b.RefreshStatus()
			if err := s.batches.Update(ctx, b); err != nil {
				return errs.Wrapf(err, "update batch %s", b.BatchCode)
			}
		}
		if err := s.reservations.Create(ctx, res); err != nil {
			return errs.Wrap(err, "create reservation")
		}
		if err := s.record(ctx, repository.Entry{
			EntityType: entity.EntityReservation, EntityID: res.ID,
			Action: "reserve", ToStatus: string(res.Status),
			Content:    fmt.Sprintf("%s x %s @ %s", req.MaterialID, req.Quantity, req.WarehouseID),
			Metadata:   map[string]interface{}{"work_order_id": req.WorkOrderID},
			OperatorID: userID,
		}); err != nil {
			return err
		}
		s.publish(ctx, event.New(event.LedgerReserved, s.factory, entity.EntityReservation, res.ID, "", map[string]interface{}{
			"work_order_id": req.WorkOrderID, "material_id": req.MaterialID, "quantity": req.Quantity,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ActiveReservation 工单在某物料上仍有余量的预留，没有则返回 nil
func (s *InventoryService) ActiveReservation(ctx context.Context, workOrderID, materialID, warehouseID string) (*entity.Reservation, error) {
	items, err := s.reservations.FindByWorkOrder(ctx, workOrderID)
	if err != nil {
		return nil, errs.Wrap(err, "load reservations")
	}
	for i := range items {
		r := &items[i]
		if r.Status == domain.ReservationActive && r.MaterialID == materialID && r.WarehouseID == warehouseID && r.Remaining().IsPositive() {
			return r, nil
		}
	}
	return nil, nil
}

func (s *InventoryService) Reservations(ctx context.Context, workOrderID string) ([]entity.Reservation, error) {
	items, err := s.reservations.FindByWorkOrder(ctx, workOrderID)
	return items, errs.Wrap(err, "load reservations")
}

// SetBatchStatus 冻结、隔离、待检放行等状态调整；已预留数量不受影响
func (s *InventoryService) SetBatchStatus(ctx context.Context, batchCode string, status domain.BatchStatus, reason, userID string) (*entity.InventoryBatch, error) {
	if !status.Valid() || status == domain.BatchReserved {
		return nil, domain.InvalidArgument(entity.EntityBatch, "set_status", fmt.Sprintf("cannot set status %q", status))
	}
	var b *entity.InventoryBatch
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if b, err = s.lockBatch(ctx, "", batchCode); err != nil {
			return err
		}
		from := b.Status
		b.Status = status
		b.RefreshStatus()
		if err := s.batches.Update(ctx, b); err != nil {
			return errs.Wrapf(err, "update batch %s", b.BatchCode)
		}
		return s.record(ctx, repository.Entry{
			EntityType: entity.EntityBatch, EntityID: b.ID, EntityCode: b.BatchCode,
			Action: "set_status", FromStatus: string(from), ToStatus: string(b.Status),
			Content: reason, OperatorID: userID,
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// StockSummary 物料在仓库的库存汇总
type StockSummary struct {
	MaterialID  string                `json:"material_id"`
	WarehouseID string                `json:"warehouse_id"`
	Total       decimal.Decimal       `json:"total"`
	Available   decimal.Decimal       `json:"available"` // 仅可分配批次
	Reserved    decimal.Decimal       `json:"reserved"`
	QCHold      decimal.Decimal       `json:"qc_hold"`
	Frozen      decimal.Decimal       `json:"frozen"`
	Quarantine  decimal.Decimal       `json:"quarantine"`
	BatchCount  int64                 `json:"batch_count"`
	ByStatus    []repository.StockRow `json:"by_status"`
}

func (s *InventoryService) Stock(ctx context.Context, materialID, warehouseID string) (*StockSummary, error) {
	rows, err := s.batches.StockByStatus(ctx, materialID, warehouseID)
	if err != nil {
		return nil, errs.Wrap(err, "query stock")
	}
	sum := &StockSummary{MaterialID: materialID, WarehouseID: warehouseID, ByStatus: rows}
	for _, r := range rows {
		sum.Total = sum.Total.Add(r.Quantity)
		sum.Reserved = sum.Reserved.Add(r.ReservedQty)
		sum.BatchCount += r.BatchCount
		switch r.Status {
		case domain.BatchAvailable, domain.BatchReserved:
			sum.Available = sum.Available.Add(r.AvailableQty)
		case domain.BatchQCHold:
			sum.QCHold = sum.QCHold.Add(r.AvailableQty)
		case domain.BatchFrozen:
			sum.Frozen = sum.Frozen.Add(r.AvailableQty)
		case domain.BatchQuarantine:
			sum.Quarantine = sum.Quarantine.Add(r.AvailableQty)
		}
	}
	return sum, nil
}

// CheckAvailable 可用量是否足够
func (s *InventoryService) CheckAvailable(ctx context.Context, materialID, warehouseID string, qty decimal.Decimal) (bool, decimal.Decimal, error) {
	sum, err := s.Stock(ctx, materialID, warehouseID)
	if err != nil {
		return false, decimal.Zero, err
	}
	return sum.Available.GreaterThanOrEqual(qty), sum.Available, nil
}

func (s *InventoryService) GetBatch(ctx context.Context, id string) (*entity.InventoryBatch, error) {
	b, err := s.batches.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, entity.EntityBatch, id)
	}
	return b, nil
}

func (s *InventoryService) FindBatchByCode(ctx context.Context, code string) (*entity.InventoryBatch, error) {
	b, err := s.batches.FindByCode(ctx, code)
	if err != nil {
		return nil, loadErr(err, entity.EntityBatch, code)
	}
	return b, nil
}

func (s *InventoryService) ListBatches(ctx context.Context, params repository.BatchListParams) (*ListResult[entity.InventoryBatch], error) {
	items, total, err := s.batches.List(ctx, params)
	if err != nil {
		return nil, errs.Wrap(err, "list batches")
	}
	return newListResult(items, total, params.Page), nil
}

func (s *InventoryService) ListTransactions(ctx context.Context, params repository.TxListParams) (*ListResult[entity.InventoryTransaction], error) {
	items, total, err := s.txs.List(ctx, params)
	if err != nil {
		return nil, errs.Wrap(err, "list transactions")
	}
	return newListResult(items, total, params.Page), nil
}

func (s *InventoryService) TransactionsByReference(ctx context.Context, refType, refID string) ([]entity.InventoryTransaction, error) {
	items, err := s.txs.FindByReference(ctx, refType, refID)
	return items, errs.Wrap(err, "load reference transactions")
}

func (s *InventoryService) lockBatch(ctx context.Context, id, code string) (*entity.InventoryBatch, error) {
	var (
		b   *entity.InventoryBatch
		err error
	)
	switch {
	case id != "":
		b, err = s.batches.FindForUpdate(ctx, id)
	case code != "":
		b, err = s.batches.FindCodeForUpdate(ctx, code)
		id = code
	default:
		return nil, domain.NewError(domain.KindMissingRequiredLink, entity.EntityBatch, "", "", "lock", "batch id or code is required")
	}
	if err != nil {
		return nil, loadErr(err, entity.EntityBatch, id)
	}
	return b, nil
}

func (s *InventoryService) ledgerEvent(typ string, tx *entity.InventoryTransaction) event.Event {
	lines := make([]map[string]interface{}, 0, len(tx.Lines))
	for _, l := range tx.Lines {
		lines = append(lines, map[string]interface{}{
			"batch_code": l.BatchCode, "quantity": l.Quantity, "unit_cost": l.UnitCost,
		})
	}
	return event.New(typ, s.factory, "transaction", tx.ID, tx.ReferenceCode, map[string]interface{}{
		"tx_type":       tx.TxType,
		"material_id":   tx.MaterialID,
		"warehouse_id":  tx.WarehouseID,
		"quantity":      tx.Quantity,
		"amount":        tx.Amount,
		"work_order_id": tx.WorkOrderID,
		"lines":         lines,
	})
}

func indexBatches(items []entity.InventoryBatch) map[string]*entity.InventoryBatch {
	out := make(map[string]*entity.InventoryBatch, len(items))
	for i := range items {
		out[items[i].ID] = &items[i]
	}
	return out
}

func sumAllocated(allocs []allocation, reserved bool) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		if a.fromReserved == reserved {
			total = total.Add(a.qty)
		}
	}
	return total
}

// AdjustRequest 盘点调整，Delta 为有符号差异
type AdjustRequest struct {
	BatchID      string
	MaterialID   string
	MaterialCode string
	WarehouseID  string
	Delta        decimal.Decimal
	Reference    Reference
	Remark       string
}

// Adjust 盘盈 adjustment_in / 盘亏 adjustment_out。
// 盘盈且没有批次时新建批次；盘亏只能扣减可用量。
func (s *InventoryService) Adjust(ctx context.Context, req AdjustRequest, userID string) (*entity.InventoryTransaction, error) {
	if req.Delta.IsZero() {
		return nil, domain.InvalidArgument(entity.EntityBatch, "adjust", "delta must not be zero")
	}
	if req.BatchID == "" {
		if req.Delta.IsNegative() {
			return nil, domain.NewError(domain.KindMissingRequiredLink, entity.EntityBatch, "", "", "adjust",
				"a decrease must name the batch it applies to")
		}
		res, err := s.Inbound(ctx, InboundRequest{
			MaterialID:   req.MaterialID,
			MaterialCode: req.MaterialCode,
			WarehouseID:  req.WarehouseID,
			Quantity:     req.Delta,
			TxType:       domain.TxAdjustmentIn,
			SourceType:   req.Reference.Type,
			SourceID:     req.Reference.ID,
			Reference:    req.Reference,
			Remark:       req.Remark,
		}, userID)
		if err != nil {
			return nil, err
		}
		return res.Transaction, nil
	}

	var tx *entity.InventoryTransaction
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.lockBatch(ctx, req.BatchID, "")
		if err != nil {
			return err
		}
		if req.Delta.IsNegative() {
			qty := req.Delta.Neg()
			if b.AvailableQty.LessThan(qty) {
				return domain.NewError(domain.KindInsufficientStock, entity.EntityBatch, b.ID, string(b.Status), "adjust",
					fmt.Sprintf("batch %s available %s, adjustment needs %s", b.BatchCode, b.AvailableQty, qty))
			}
			tx, err = s.applyOutbound(ctx, OutboundRequest{
				MaterialID:  b.MaterialID,
				WarehouseID: b.WarehouseID,
				Quantity:    qty,
				TxType:      domain.TxAdjustmentOut,
				Reference:   req.Reference,
				Remark:      req.Remark,
			}, []allocation{{batch: b, qty: qty}}, userID)
			if err != nil {
				return err
			}
			s.publish(ctx, s.ledgerEvent(event.LedgerAdjusted, tx))
			return nil
		}

		b.Quantity = b.Quantity.Add(req.Delta)
		b.AvailableQty = b.AvailableQty.Add(req.Delta)
		b.RefreshStatus()
		if err := s.batches.Update(ctx, b); err != nil {
			return errs.Wrapf(err, "update batch %s", b.BatchCode)
		}
		tx = &entity.InventoryTransaction{
			ID:            uuid.New().String(),
			MaterialID:    b.MaterialID,
			MaterialCode:  b.MaterialCode,
			WarehouseID:   b.WarehouseID,
			TxType:        domain.TxAdjustmentIn,
			Quantity:      req.Delta,
			Amount:        req.Delta.Mul(b.UnitCost).Round(4),
			ReferenceType: req.Reference.Type,
			ReferenceID:   req.Reference.ID,
			ReferenceCode: req.Reference.Code,
			Remark:        req.Remark,
			CreatedBy:     userID,
			CreatedAt:     s.now(),
		}
		tx.Lines = []entity.InventoryTransactionLine{{
			ID:            uuid.New().String(),
			TransactionID: tx.ID,
			Seq:           1,
			BatchID:       b.ID,
			BatchCode:     b.BatchCode,
			Quantity:      req.Delta,
			UnitCost:      b.UnitCost,
		}}
		if err := s.txs.Create(ctx, tx); err != nil {
			return errs.Wrap(err, "create adjustment transaction")
		}
		s.publish(ctx, s.ledgerEvent(event.LedgerAdjusted, tx))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ApplyInspectionVerdict 来料检验判定后处理待检批次：合格放行，不合格隔离。
// 批次不在待检状态时不做处理，返回 false。
func (s *InventoryService) ApplyInspectionVerdict(ctx context.Context, batchID, batchCode string, passed bool, inspectionCode, userID string) (*entity.InventoryBatch, bool, error) {
	var (
		b       *entity.InventoryBatch
		changed bool
	)
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if b, err = s.lockBatch(ctx, batchID, batchCode); err != nil {
			return err
		}
		if b.Status != domain.BatchQCHold {
			return nil
		}
		from := b.Status
		b.Status = domain.BatchQuarantine
		if passed {
			b.Status = domain.BatchAvailable
			b.RefreshStatus()
		}
		if err := s.batches.Update(ctx, b); err != nil {
			return errs.Wrapf(err, "update batch %s", b.BatchCode)
		}
		changed = true
		return s.record(ctx, repository.Entry{
			EntityType: entity.EntityBatch, EntityID: b.ID, EntityCode: b.BatchCode,
			Action: "inspection_verdict", FromStatus: string(from), ToStatus: string(b.Status),
			Content: inspectionCode, OperatorID: userID,
		})
	})
	if err != nil {
		return nil, false, err
	}
	return b, changed, nil
}
