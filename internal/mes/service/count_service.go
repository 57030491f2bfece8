package service

import (
	"context"
	"fmt"

	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/mes/event"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CountService 盘点：快照账面 → 录入实盘 → 审批后按差异调整台账
type CountService struct {
	*core
	repo    *repository.CountRepository
	batches *repository.BatchRepository
}

func NewCountService(c *core, repo *repository.CountRepository, batches *repository.BatchRepository) *CountService {
	return &CountService{core: c, repo: repo, batches: batches}
}

type CreateCountRequest struct {
	WarehouseID string   `json:"warehouse_id" binding:"required"`
	MaterialIDs []string `json:"material_ids"` // 为空则盘全仓
	Remark      string   `json:"remark"`
}

// Create 建盘点单并快照仓库内非零批次的账面数量
func (s *CountService) Create(ctx context.Context, req CreateCountRequest, userID string) (*entity.InventoryCount, error) {
	if req.WarehouseID == "" {
		return nil, domain.InvalidArgument(entity.EntityCount, "create", "warehouse_id is required")
	}
	var count *entity.InventoryCount
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		code, err := s.codes.Count(ctx, req.WarehouseID, now)
		if err != nil {
			return err
		}
		batches, err := s.batches.FindByWarehouse(ctx, req.WarehouseID, req.MaterialIDs)
		if err != nil {
			return errs.Wrap(err, "snapshot batches")
		}
		count = &entity.InventoryCount{
			ID:          uuid.New().String(),
			Code:        code,
			WarehouseID: req.WarehouseID,
			Status:      domain.CountDraft,
			Remark:      req.Remark,
			CreatedBy:   userID,
			CreatedAt:   now,
		}
		for _, b := range batches {
			if b.Quantity.IsZero() {
				continue
			}
			count.Items = append(count.Items, entity.InventoryCountItem{
				ID:           uuid.New().String(),
				CountID:      count.ID,
				Seq:          len(count.Items) + 1,
				MaterialID:   b.MaterialID,
				MaterialCode: b.MaterialCode,
				BatchID:      b.ID,
				BatchCode:    b.BatchCode,
				SystemQty:    b.Quantity,
				CountedQty:   b.Quantity,
			})
			count.TotalSystem = count.TotalSystem.Add(b.Quantity)
		}
		count.TotalCounted = count.TotalSystem
		if err := s.repo.Create(ctx, count); err != nil {
			return errs.Wrapf(err, "create count %s", code)
		}
		return s.record(ctx, repository.Entry{
			EntityType: entity.EntityCount, EntityID: count.ID, EntityCode: count.Code,
			Action: "create", ToStatus: string(count.Status),
			Content: fmt.Sprintf("快照 %d 个批次", len(count.Items)), OperatorID: userID,
		})
	})
	if err != nil {
		return nil, err
	}
	return count, nil
}

// CountResultItem 一行实盘结果；SystemQty 为空时取快照
type CountResultItem struct {
	MaterialID   string           `json:"material_id"`
	MaterialCode string           `json:"material_code"`
	BatchID      string           `json:"batch_id"`
	BatchCode    string           `json:"batch_code"`
	SystemQty    *decimal.Decimal `json:"system_qty"`
	CountedQty   decimal.Decimal  `json:"counted_qty"`
}

type SubmitCountRequest struct {
	Items []CountResultItem `json:"items" binding:"required"`
}

// SubmitCountResult 录入实盘结果。提交的明细即为最终明细；
// 有差异进入待审批，全部一致直接完成。
func (s *CountService) SubmitCountResult(ctx context.Context, id string, req SubmitCountRequest, userID string) (*entity.InventoryCount, error) {
	if len(req.Items) == 0 {
		return nil, domain.InvalidArgument(entity.EntityCount, "submit", "items are required")
	}
	var count *entity.InventoryCount
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if count, err = s.repo.FindForUpdate(ctx, id); err != nil {
			return loadErr(err, entity.EntityCount, id)
		}
		if count.Status != domain.CountDraft {
			return domain.IllegalTransition(entity.EntityCount, count.ID, string(count.Status), "submit")
		}
		byBatch := map[string]entity.InventoryCountItem{}
		for _, it := range count.Items {
			byBatch[it.BatchID] = it
			byBatch["code:"+it.BatchCode] = it
		}

		items := make([]entity.InventoryCountItem, 0, len(req.Items))
		seen := map[string]bool{}
		totalSystem, totalCounted := decimal.Zero, decimal.Zero
		differing := 0
		for i, in := range req.Items {
			if in.CountedQty.IsNegative() {
				return domain.NewError(domain.KindInvalidArgument, entity.EntityCount, count.ID, string(count.Status), "submit",
					fmt.Sprintf("line %d: counted quantity must not be negative", i+1))
			}
			item := entity.InventoryCountItem{
				ID:           uuid.New().String(),
				CountID:      count.ID,
				Seq:          i + 1,
				MaterialID:   in.MaterialID,
				MaterialCode: in.MaterialCode,
				BatchID:      in.BatchID,
				BatchCode:    in.BatchCode,
				CountedQty:   in.CountedQty,
			}
			snap, ok := byBatch[in.BatchID]
			if !ok && in.BatchCode != "" {
				snap, ok = byBatch["code:"+in.BatchCode]
			}
			if ok && snap.BatchID != "" {
				if seen[snap.BatchID] {
					return domain.NewError(domain.KindInvalidArgument, entity.EntityCount, count.ID, string(count.Status), "submit",
						fmt.Sprintf("batch %s counted twice", snap.BatchCode))
				}
				seen[snap.BatchID] = true
				item.BatchID, item.BatchCode = snap.BatchID, snap.BatchCode
				item.MaterialID, item.MaterialCode = snap.MaterialID, snap.MaterialCode
				item.SystemQty = snap.SystemQty
			} else if in.BatchID != "" || in.BatchCode != "" {
				return domain.NewError(domain.KindInvalidArgument, entity.EntityCount, count.ID, string(count.Status), "submit",
					fmt.Sprintf("line %d: batch %s%s is not part of this count", i+1, in.BatchID, in.BatchCode))
			}
			if in.SystemQty != nil {
				item.SystemQty = *in.SystemQty
			}
			if item.MaterialID == "" {
				return domain.NewError(domain.KindInvalidArgument, entity.EntityCount, count.ID, string(count.Status), "submit",
					fmt.Sprintf("line %d: material_id is required for a batch found during counting", i+1))
			}
			item.Difference = item.CountedQty.Sub(item.SystemQty)
			switch {
			case item.Difference.IsPositive():
				item.Direction = domain.AdjustIncrease
			case item.Difference.IsNegative():
				item.Direction = domain.AdjustDecrease
			}
			if !item.Difference.IsZero() {
				differing++
			}
			totalSystem = totalSystem.Add(item.SystemQty)
			totalCounted = totalCounted.Add(item.CountedQty)
			items = append(items, item)
		}

		if err := s.repo.ReplaceItems(ctx, count.ID, items); err != nil {
			return errs.Wrap(err, "replace count items")
		}
		now := s.now()
		from := count.Status
		count.Items = items
		// 差异合计为带符号的 实盘 - 账面；盈亏相抵时仍需审批
		totalDiff := totalCounted.Sub(totalSystem)
		count.TotalSystem, count.TotalCounted, count.TotalDifference = totalSystem, totalCounted, totalDiff
		count.SubmittedBy, count.SubmittedAt = userID, &now
		if differing == 0 {
			count.Status = domain.CountCompleted
		} else {
			count.Status = domain.CountPendingApproval
		}
		if err := s.repo.Update(ctx, count); err != nil {
			return errs.Wrapf(err, "update count %s", count.Code)
		}
		if err := s.record(ctx, repository.Entry{
			EntityType: entity.EntityCount, EntityID: count.ID, EntityCode: count.Code,
			Action: "submit", FromStatus: string(from), ToStatus: string(count.Status),
			Content: fmt.Sprintf("差异合计 %s，差异行 %d", totalDiff, differing), OperatorID: userID,
		}); err != nil {
			return err
		}
		s.publish(ctx, event.New(event.CountSubmitted, s.factory, entity.EntityCount, count.ID, count.Code, map[string]interface{}{
			"warehouse_id": count.WarehouseID, "status": count.Status, "total_difference": totalDiff,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return count, nil
}

// LockPending 加锁读取待审批盘点单，供调整时使用
func (s *CountService) LockPending(ctx context.Context, id string) (*entity.InventoryCount, error) {
	count, err := s.repo.FindForUpdate(ctx, id)
	if err != nil {
		return nil, loadErr(err, entity.EntityCount, id)
	}
	if count.Status != domain.CountPendingApproval {
		return nil, domain.IllegalTransition(entity.EntityCount, count.ID, string(count.Status), "apply_adjustments")
	}
	return count, nil
}

// MarkApplied 调整全部入账后完成盘点单
func (s *CountService) MarkApplied(ctx context.Context, count *entity.InventoryCount, adjusted int, userID string) error {
	now := s.now()
	from := count.Status
	count.Status = domain.CountCompleted
	count.ApprovedBy, count.ApprovedAt = userID, &now
	if err := s.repo.Update(ctx, count); err != nil {
		return errs.Wrapf(err, "update count %s", count.Code)
	}
	return s.record(ctx, repository.Entry{
		EntityType: entity.EntityCount, EntityID: count.ID, EntityCode: count.Code,
		Action: "apply_adjustments", FromStatus: string(from), ToStatus: string(count.Status),
		Content: fmt.Sprintf("生成 %d 笔调整", adjusted), OperatorID: userID,
	})
}

// Cancel 草稿或待审批的盘点单可取消，不产生调整
func (s *CountService) Cancel(ctx context.Context, id, reason, userID string) (*entity.InventoryCount, error) {
	var count *entity.InventoryCount
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if count, err = s.repo.FindForUpdate(ctx, id); err != nil {
			return loadErr(err, entity.EntityCount, id)
		}
		if count.Status != domain.CountDraft && count.Status != domain.CountPendingApproval {
			return domain.IllegalTransition(entity.EntityCount, count.ID, string(count.Status), "cancel")
		}
		from := count.Status
		count.Status = domain.CountCancelled
		if err := s.repo.Update(ctx, count); err != nil {
			return errs.Wrapf(err, "update count %s", count.Code)
		}
		return s.record(ctx, repository.Entry{
			EntityType: entity.EntityCount, EntityID: count.ID, EntityCode: count.Code,
			Action: "cancel", FromStatus: string(from), ToStatus: string(count.Status),
			Content: reason, OperatorID: userID,
		})
	})
	if err != nil {
		return nil, err
	}
	return count, nil
}

func (s *CountService) Get(ctx context.Context, id string) (*entity.InventoryCount, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, entity.EntityCount, id)
	}
	return c, nil
}

func (s *CountService) List(ctx context.Context, params repository.CountListParams) (*ListResult[entity.InventoryCount], error) {
	items, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, errs.Wrap(err, "list counts")
	}
	return newListResult(items, total, params.Page), nil
}
