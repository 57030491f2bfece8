package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/mes/collaborator"
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/mes/event"
	"github.com/ericaxiaweilin/EngHub/internal/mes/policy"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WorkOrderService 工单状态机，工单计数器的唯一写入方
type WorkOrderService struct {
	*core
	repo      *repository.WorkOrderRepository
	equipment collaborator.Equipment
	policy    *policy.Policy
}

func NewWorkOrderService(c *core, repo *repository.WorkOrderRepository, equipment collaborator.Equipment, p *policy.Policy) *WorkOrderService {
	return &WorkOrderService{core: c, repo: repo, equipment: equipment, policy: p}
}

type CreateWorkOrderRequest struct {
	FactoryCode  string                   `json:"factory_code"`
	ProductID    string                   `json:"product_id" binding:"required"`
	ProductCode  string                   `json:"product_code"`
	ProductName  string                   `json:"product_name"`
	RoutingID    string                   `json:"routing_id"`
	BOMVersion   string                   `json:"bom_version"`
	WarehouseID  string                   `json:"warehouse_id"`
	PlannedQty   int64                    `json:"planned_qty" binding:"required,gt=0"`
	Priority     domain.WorkOrderPriority `json:"priority"`
	PlannedStart *time.Time               `json:"planned_start"`
	DueDate      *time.Time               `json:"due_date"`
	StationID    string                   `json:"station_id"`
	Remark       string                   `json:"remark"`
	SourceType   string                   `json:"source_type"` // planning / manual
	SourceID     string                   `json:"source_id"`
}

// Create 创建工单，初始状态 pending
func (s *WorkOrderService) Create(ctx context.Context, req CreateWorkOrderRequest, userID string) (*entity.WorkOrder, error) {
	if strings.TrimSpace(req.ProductID) == "" {
		return nil, domain.InvalidArgument(entity.EntityWorkOrder, "create", "product_id is required")
	}
	if req.PlannedQty <= 0 {
		return nil, domain.InvalidArgument(entity.EntityWorkOrder, "create", "planned_qty must be positive")
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, domain.InvalidArgument(entity.EntityWorkOrder, "create", fmt.Sprintf("unknown priority %q", req.Priority))
	}
	if req.SourceType == "" {
		req.SourceType = "manual"
	}

	var wo *entity.WorkOrder
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		factory := s.factoryOr(req.FactoryCode)
		code, err := s.codes.WorkOrder(ctx, factory, now)
		if err != nil {
			return err
		}
		wo = &entity.WorkOrder{
			ID:           uuid.New().String(),
			Code:         code,
			FactoryCode:  factory,
			ProductID:    req.ProductID,
			ProductCode:  req.ProductCode,
			ProductName:  req.ProductName,
			RoutingID:    req.RoutingID,
			BOMVersion:   req.BOMVersion,
			WarehouseID:  req.WarehouseID,
			PlannedQty:   req.PlannedQty,
			Status:       domain.WOStatusPending,
			Priority:     req.Priority,
			PlannedStart: req.PlannedStart,
			DueDate:      req.DueDate,
			StationID:    req.StationID,
			Remark:       req.Remark,
			SourceType:   req.SourceType,
			SourceID:     req.SourceID,
			CreatedBy:    userID,
			CreatedAt:    now,
		}
		if err := s.repo.Create(ctx, wo); err != nil {
			return errs.Wrap(err, "create work order")
		}
		if err := s.record(ctx, repository.Entry{
			EntityType: entity.EntityWorkOrder, EntityID: wo.ID, EntityCode: wo.Code,
			Action: "create", ToStatus: string(wo.Status),
			Content:    fmt.Sprintf("计划数量 %d", wo.PlannedQty),
			OperatorID: userID,
		}); err != nil {
			return err
		}
		s.publish(ctx, s.woEvent(event.WorkOrderCreated, wo, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wo, nil
}

func (s *WorkOrderService) Get(ctx context.Context, id string) (*entity.WorkOrder, error) {
	wo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, entity.EntityWorkOrder, id)
	}
	return wo, nil
}

func (s *WorkOrderService) List(ctx context.Context, params repository.WOListParams) (*ListResult[entity.WorkOrder], error) {
	items, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, errs.Wrap(err, "list work orders")
	}
	return newListResult(items, total, params.Page), nil
}

// Lock 加锁读取工单，须在事务中调用
func (s *WorkOrderService) Lock(ctx context.Context, id string) (*entity.WorkOrder, error) {
	wo, err := s.repo.FindForUpdate(ctx, id)
	if err != nil {
		return nil, loadErr(err, entity.EntityWorkOrder, id)
	}
	return wo, nil
}

// transition 通用状态迁移：加锁、校验、修改、写日志、提交后发事件
func (s *WorkOrderService) transition(ctx context.Context, id string, action domain.WorkOrderAction, userID, content, eventType string,
	mutate func(ctx context.Context, wo *entity.WorkOrder, now time.Time) error) (*entity.WorkOrder, error) {
	var wo *entity.WorkOrder
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if wo, err = s.Lock(ctx, id); err != nil {
			return err
		}
		from := wo.Status
		next, ok := domain.NextWorkOrderStatus(from, action)
		if !ok {
			return domain.IllegalTransition(entity.EntityWorkOrder, wo.ID, string(from), string(action))
		}
		now := s.now()
		if mutate != nil {
			if err := mutate(ctx, wo, now); err != nil {
				return err
			}
		}
		wo.Status = next
		if err := s.repo.Update(ctx, wo); err != nil {
			return errs.Wrapf(err, "%s work order %s", action, wo.Code)
		}
		if err := s.record(ctx, repository.Entry{
			EntityType: entity.EntityWorkOrder, EntityID: wo.ID, EntityCode: wo.Code,
			Action: string(action), FromStatus: string(from), ToStatus: string(next),
			Content: content, OperatorID: userID,
		}); err != nil {
			return err
		}
		s.log.Info("work order transition",
			zap.String("work_order", wo.Code), zap.String("action", string(action)),
			zap.String("from", string(from)), zap.String("to", string(next)))
		if eventType != "" {
			s.publish(ctx, s.woEvent(eventType, wo, map[string]interface{}{"from": from}))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wo, nil
}

// Release 下达：先查询工位设备状态，故障/损坏/维护中则拒绝，工单保持 pending
func (s *WorkOrderService) Release(ctx context.Context, id, userID string) (*entity.WorkOrder, error) {
	return s.transition(ctx, id, domain.WOActionRelease, userID, "", event.WorkOrderReleased,
		func(ctx context.Context, wo *entity.WorkOrder, _ time.Time) error {
			if wo.StationID == "" || s.equipment == nil {
				return nil
			}
			st, err := s.equipment.GetStationStatus(ctx, wo.StationID)
			if err != nil {
				return err
			}
			if !st.AcceptsRelease() {
				return domain.NewError(domain.KindEquipmentUnavailable, entity.EntityWorkOrder, wo.ID,
					string(wo.Status), string(domain.WOActionRelease),
					fmt.Sprintf("station %s is %s", wo.StationID, st))
			}
			return nil
		})
}

// Start 开工
func (s *WorkOrderService) Start(ctx context.Context, id, userID string) (*entity.WorkOrder, error) {
	return s.transition(ctx, id, domain.WOActionStart, userID, "", event.WorkOrderStarted,
		func(_ context.Context, wo *entity.WorkOrder, now time.Time) error {
			wo.ActualStart = &now
			return nil
		})
}

// Complete 完工，要求已有完工数量
func (s *WorkOrderService) Complete(ctx context.Context, id, userID string) (*entity.WorkOrder, error) {
	return s.transition(ctx, id, domain.WOActionComplete, userID, "", event.WorkOrderCompleted,
		func(_ context.Context, wo *entity.WorkOrder, now time.Time) error {
			if wo.CompletedQty <= 0 {
				e := domain.IllegalTransition(entity.EntityWorkOrder, wo.ID, string(wo.Status), string(domain.WOActionComplete))
				e.Detail = "completed_qty must be positive"
				return e
			}
			wo.ActualComplete = &now
			return nil
		})
}

// Cancel 取消，已扣减的库存不回冲
func (s *WorkOrderService) Cancel(ctx context.Context, id, reason, userID string) (*entity.WorkOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.InvalidArgument(entity.EntityWorkOrder, "cancel", "reason is required")
	}
	return s.transition(ctx, id, domain.WOActionCancel, userID, reason, event.WorkOrderCancelled,
		func(_ context.Context, wo *entity.WorkOrder, _ time.Time) error {
			wo.CancelReason = reason
			return nil
		})
}

// Hold 暂停
func (s *WorkOrderService) Hold(ctx context.Context, id, reason, userID string) (*entity.WorkOrder, error) {
	return s.transition(ctx, id, domain.WOActionHold, userID, reason, event.WorkOrderHeld, nil)
}

// Resume 恢复
func (s *WorkOrderService) Resume(ctx context.Context, id, userID string) (*entity.WorkOrder, error) {
	return s.transition(ctx, id, domain.WOActionResume, userID, "", event.WorkOrderResumed, nil)
}

type UpdateWorkOrderRequest struct {
	PlannedQty   *int64                    `json:"planned_qty"`
	PlannedStart *time.Time                `json:"planned_start"`
	DueDate      *time.Time                `json:"due_date"`
	Priority     *domain.WorkOrderPriority `json:"priority"`
	StationID    *string                   `json:"station_id"`
	Remark       *string                   `json:"remark"`
}

// Update 部分字段更新，仅 pending/released 可改
func (s *WorkOrderService) Update(ctx context.Context, id string, req UpdateWorkOrderRequest, userID string) (*entity.WorkOrder, error) {
	var changed []string
	return s.transition(ctx, id, domain.WOActionUpdate, userID, "", event.WorkOrderUpdated,
		func(ctx context.Context, wo *entity.WorkOrder, _ time.Time) error {
			if req.PlannedQty != nil {
				if *req.PlannedQty <= 0 || *req.PlannedQty < wo.CompletedQty {
					return domain.InvalidArgument(entity.EntityWorkOrder, "update",
						fmt.Sprintf("planned_qty %d must be positive and not below completed_qty %d", *req.PlannedQty, wo.CompletedQty))
				}
				wo.PlannedQty = *req.PlannedQty
				changed = append(changed, "planned_qty")
			}
			if req.Priority != nil {
				if !req.Priority.Valid() {
					return domain.InvalidArgument(entity.EntityWorkOrder, "update", fmt.Sprintf("unknown priority %q", *req.Priority))
				}
				wo.Priority = *req.Priority
				changed = append(changed, "priority")
			}
			if req.PlannedStart != nil {
				wo.PlannedStart = req.PlannedStart
				changed = append(changed, "planned_start")
			}
			if req.DueDate != nil {
				wo.DueDate = req.DueDate
				changed = append(changed, "due_date")
			}
			if req.StationID != nil {
				wo.StationID = *req.StationID
				changed = append(changed, "station_id")
			}
			if req.Remark != nil {
				wo.Remark = *req.Remark
				changed = append(changed, "remark")
			}
			return s.record(ctx, repository.Entry{
				EntityType: entity.EntityWorkOrder, EntityID: wo.ID, EntityCode: wo.Code,
				Action: "update_fields", Content: strings.Join(changed, ","), OperatorID: userID,
			})
		})
}

type SplitRequest struct {
	Quantity int64  `json:"quantity" binding:"required,gt=0"`
	Remark   string `json:"remark"`
}

// SplitResult 拆分结果：原工单保留拆分数量，新工单承接余量
type SplitResult struct {
	Original *entity.WorkOrder `json:"original"`
	Child    *entity.WorkOrder `json:"child"`
}

// Split 拆分，拆分数量不少于计划数的一半且两侧均为正
func (s *WorkOrderService) Split(ctx context.Context, id string, req SplitRequest, userID string) (*SplitResult, error) {
	var child *entity.WorkOrder
	original, err := s.transition(ctx, id, domain.WOActionSplit, userID, "", event.WorkOrderSplit,
		func(ctx context.Context, wo *entity.WorkOrder, now time.Time) error {
			if !domain.SplitAllowed(wo.PlannedQty, req.Quantity, s.policy.SplitMinRatio) {
				return domain.NewError(domain.KindInvalidSplit, entity.EntityWorkOrder, wo.ID, string(wo.Status),
					string(domain.WOActionSplit),
					fmt.Sprintf("split %d of planned %d: need at least %s of planned and a positive remainder",
						req.Quantity, wo.PlannedQty, s.policy.SplitMinRatio.Mul(decimal.NewFromInt(100)).String()+"%"))
			}
			remainder := wo.PlannedQty - req.Quantity
			code, err := s.codes.WorkOrder(ctx, wo.FactoryCode, now)
			if err != nil {
				return err
			}
			child = &entity.WorkOrder{
				ID:           uuid.New().String(),
				Code:         code,
				FactoryCode:  wo.FactoryCode,
				ProductID:    wo.ProductID,
				ProductCode:  wo.ProductCode,
				ProductName:  wo.ProductName,
				RoutingID:    wo.RoutingID,
				BOMVersion:   wo.BOMVersion,
				WarehouseID:  wo.WarehouseID,
				PlannedQty:   remainder,
				Status:       domain.WOStatusPending,
				Priority:     wo.Priority,
				PlannedStart: wo.PlannedStart,
				DueDate:      wo.DueDate,
				StationID:    wo.StationID,
				Remark:       req.Remark,
				ParentID:     wo.ID,
				SourceType:   "split",
				SourceID:     wo.Code,
				CreatedBy:    userID,
				CreatedAt:    now,
			}
			if err := s.repo.Create(ctx, child); err != nil {
				return errs.Wrap(err, "create split work order")
			}
			wo.PlannedQty = req.Quantity
			if err := s.record(ctx, repository.Entry{
				EntityType: entity.EntityWorkOrder, EntityID: child.ID, EntityCode: child.Code,
				Action: "create", ToStatus: string(child.Status),
				Content:    fmt.Sprintf("由 %s 拆分，数量 %d", wo.Code, remainder),
				OperatorID: userID,
			}); err != nil {
				return err
			}
			s.publish(ctx, s.woEvent(event.WorkOrderCreated, child, map[string]interface{}{"parent_id": wo.ID}))
			return nil
		})
	if err != nil {
		return nil, err
	}
	return &SplitResult{Original: original, Child: child}, nil
}

// ApplyOptions 计数器变更选项
type ApplyOptions struct {
	Override  bool   // 允许超计划报工，计划数随之上调
	Amendment bool   // 报工修正，可回减计数器
	Source    string // 报工单号等
	UserID    string
}

// ApplyReport 按报工（或修正）增量更新计数器；首次报工自动开工。
// wo 必须已由 Lock 在同一事务中锁定。
func (s *WorkOrderService) ApplyReport(ctx context.Context, wo *entity.WorkOrder, delta domain.CounterDelta, opts ApplyOptions) error {
	from := wo.Status
	op := string(domain.WOActionReport)
	next := from
	if opts.Amendment {
		op = "amend"
		if from.Terminal() {
			return domain.IllegalTransition(entity.EntityWorkOrder, wo.ID, string(from), op)
		}
	} else {
		var ok bool
		if next, ok = domain.NextWorkOrderStatus(from, domain.WOActionReport); !ok {
			return domain.IllegalTransition(entity.EntityWorkOrder, wo.ID, string(from), op)
		}
	}

	counters := wo.Counters().Apply(delta)
	overridden := false
	if counters.Completed > counters.Planned {
		if !opts.Override {
			return domain.NewError(domain.KindInvalidArgument, entity.EntityWorkOrder, wo.ID, string(from), op,
				fmt.Sprintf("completed %d would exceed planned %d", counters.Completed, counters.Planned))
		}
		counters.Planned = counters.Completed
		overridden = true
	}
	if !counters.Conserved() {
		return domain.NewError(domain.KindInvalidArgument, entity.EntityWorkOrder, wo.ID, string(from), op,
			fmt.Sprintf("counters would break good+defect+scrap <= completed <= planned: %+v", counters))
	}

	now := s.now()
	if overridden {
		if err := s.record(ctx, repository.Entry{
			EntityType: entity.EntityWorkOrder, EntityID: wo.ID, EntityCode: wo.Code,
			Action: "override", Content: fmt.Sprintf("计划数 %d -> %d (%s)", wo.PlannedQty, counters.Planned, opts.Source),
			OperatorID: opts.UserID,
		}); err != nil {
			return err
		}
	}
	wo.SetCounters(counters)
	wo.ReworkQty += delta.Rework
	if next != from {
		wo.Status = next
		wo.ActualStart = &now
		if err := s.record(ctx, repository.Entry{
			EntityType: entity.EntityWorkOrder, EntityID: wo.ID, EntityCode: wo.Code,
			Action: string(domain.WOActionStart), FromStatus: string(from), ToStatus: string(next),
			Content: "首次报工自动开工 " + opts.Source, OperatorID: opts.UserID,
		}); err != nil {
			return err
		}
		s.publish(ctx, s.woEvent(event.WorkOrderStarted, wo, map[string]interface{}{"from": from, "auto": true}))
	}
	if err := s.repo.Update(ctx, wo); err != nil {
		return errs.Wrapf(err, "update work order %s counters", wo.Code)
	}
	return nil
}

// ApplyScrapFeedback 报废处置回写工单：数量从不良（不足时从良品）转入报废，
// 不改变完工数。超出已报工数量的部分不回写，只留日志。终态工单不再变更数量。
func (s *WorkOrderService) ApplyScrapFeedback(ctx context.Context, workOrderID string, qty int64, source, userID string) (*entity.WorkOrder, error) {
	wo, err := s.Lock(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	if wo.Status.Terminal() {
		return wo, s.record(ctx, repository.Entry{
			EntityType: entity.EntityWorkOrder, EntityID: wo.ID, EntityCode: wo.Code,
			Action: "feedback_skipped", FromStatus: string(wo.Status), ToStatus: string(wo.Status),
			Content: fmt.Sprintf("%s: scrap %d", source, qty), OperatorID: userID,
		})
	}
	counters, moved := wo.Counters().MoveToScrap(qty)
	if moved < qty {
		s.log.Warn("scrap feedback clamped",
			zap.String("work_order", wo.Code), zap.String("source", source),
			zap.Int64("requested", qty), zap.Int64("applied", moved))
	}
	if moved == 0 {
		return wo, s.record(ctx, repository.Entry{
			EntityType: entity.EntityWorkOrder, EntityID: wo.ID, EntityCode: wo.Code,
			Action: "feedback_skipped", FromStatus: string(wo.Status), ToStatus: string(wo.Status),
			Content: fmt.Sprintf("%s: scrap %d, no reported output to move", source, qty), OperatorID: userID,
		})
	}
	wo.SetCounters(counters)
	if err := s.repo.Update(ctx, wo); err != nil {
		return nil, errs.Wrapf(err, "update work order %s counters", wo.Code)
	}
	return wo, s.record(ctx, repository.Entry{
		EntityType: entity.EntityWorkOrder, EntityID: wo.ID, EntityCode: wo.Code,
		Action: "defect_feedback", Content: fmt.Sprintf("%s: scrap %d of %d", source, moved, qty), OperatorID: userID,
	})
}

// Progress 工单进度
type Progress struct {
	WorkOrder      *entity.WorkOrder  `json:"work_order"`
	RemainingQty   int64              `json:"remaining_qty"`
	CompletionRate decimal.Decimal    `json:"completion_rate"` // completed / planned
	YieldRate      decimal.Decimal    `json:"yield_rate"`      // good / completed
	Children       []entity.WorkOrder `json:"children"`
}

func (s *WorkOrderService) Progress(ctx context.Context, id string) (*Progress, error) {
	wo, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := s.repo.FindChildren(ctx, wo.ID)
	if err != nil {
		return nil, errs.Wrap(err, "load split children")
	}
	p := &Progress{
		WorkOrder:      wo,
		RemainingQty:   wo.PlannedQty - wo.CompletedQty,
		CompletionRate: ratio(wo.CompletedQty, wo.PlannedQty),
		YieldRate:      ratio(wo.GoodQty, wo.CompletedQty),
		Children:       children,
	}
	return p, nil
}

func (s *WorkOrderService) StatusSummary(ctx context.Context, factoryCode string) ([]repository.StatusCount, error) {
	rows, err := s.repo.CountByStatus(ctx, factoryCode)
	return rows, errs.Wrap(err, "count work orders by status")
}

func (s *WorkOrderService) woEvent(typ string, wo *entity.WorkOrder, extra map[string]interface{}) event.Event {
	data := map[string]interface{}{
		"status":        wo.Status,
		"product_id":    wo.ProductID,
		"planned_qty":   wo.PlannedQty,
		"completed_qty": wo.CompletedQty,
		"good_qty":      wo.GoodQty,
		"defect_qty":    wo.DefectQty,
		"scrap_qty":     wo.ScrapQty,
	}
	for k, v := range extra {
		data[k] = v
	}
	return event.New(typ, wo.FactoryCode, entity.EntityWorkOrder, wo.ID, wo.Code, data)
}

func ratio(num, den int64) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), 4)
}
