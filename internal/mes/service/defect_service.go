package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/mes/event"
	"github.com/ericaxiaweilin/EngHub/internal/mes/policy"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefectService 缺陷记录、升级规则、处置与纠正措施
type DefectService struct {
	*core
	repo   *repository.DefectRepository
	cas    *repository.CorrectiveActionRepository
	policy *policy.Policy
}

func NewDefectService(c *core, repo *repository.DefectRepository, cas *repository.CorrectiveActionRepository, p *policy.Policy) *DefectService {
	return &DefectService{core: c, repo: repo, cas: cas, policy: p}
}

type CreateDefectRequest struct {
	FactoryCode  string            `json:"factory_code"`
	Type         domain.DefectType `json:"type"`
	Severity     domain.Severity   `json:"severity"`
	Quantity     int64             `json:"quantity" binding:"required"`
	Description  string            `json:"description"`
	InspectionID string            `json:"inspection_id"`
	WorkOrderID  string            `json:"work_order_id"`
	MaterialID   string            `json:"material_id"`
	BatchID      string            `json:"batch_id"`
	BatchCode    string            `json:"batch_code"`
	WarehouseID  string            `json:"warehouse_id"`
	StationID    string            `json:"station_id"`
}

// DefectResult 建单或改严重度的结果；CorrectiveAction 仅在本次升级时非空
type DefectResult struct {
	Defect           *entity.Defect           `json:"defect"`
	CorrectiveAction *entity.CorrectiveAction `json:"corrective_action,omitempty"`
	Escalated        bool                     `json:"escalated"`
}

// Create 人工登记缺陷，至少要有一个来源追溯
func (s *DefectService) Create(ctx context.Context, req CreateDefectRequest, userID string) (*DefectResult, error) {
	if req.Type == "" {
		req.Type = s.policy.DefaultDefectType
	}
	if req.Severity == "" {
		req.Severity = s.policy.DefaultSeverity
	}
	if !req.Type.Valid() {
		return nil, domain.InvalidArgument(entity.EntityDefect, "create", fmt.Sprintf("unknown defect type %q", req.Type))
	}
	if !req.Severity.Valid() {
		return nil, domain.InvalidArgument(entity.EntityDefect, "create", fmt.Sprintf("unknown severity %q", req.Severity))
	}
	if req.Quantity <= 0 {
		return nil, domain.InvalidArgument(entity.EntityDefect, "create", "quantity must be positive")
	}
	d := &entity.Defect{
		FactoryCode:  s.factoryOr(req.FactoryCode),
		Type:         req.Type,
		Severity:     req.Severity,
		Quantity:     req.Quantity,
		Description:  req.Description,
		InspectionID: req.InspectionID,
		WorkOrderID:  req.WorkOrderID,
		MaterialID:   req.MaterialID,
		BatchID:      req.BatchID,
		BatchCode:    req.BatchCode,
		WarehouseID:  req.WarehouseID,
		StationID:    req.StationID,
		ReportedBy:   userID,
	}
	if !d.HasLink() {
		return nil, domain.NewError(domain.KindMissingRequiredLink, entity.EntityDefect, "", "", "create",
			"one of inspection, work order, material, batch or station is required")
	}
	var res *DefectResult
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.create(ctx, d, userID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AutoCreateFromInspection 不合格检验自动建缺陷。每个检验单至多一条，重复调用返回已有记录。
func (s *DefectService) AutoCreateFromInspection(ctx context.Context, t DefectTrigger, userID string) (*DefectResult, error) {
	var res *DefectResult
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.FindAutoByInspection(ctx, t.InspectionID)
		switch {
		case err == nil:
			res = &DefectResult{Defect: existing}
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return errs.Wrapf(err, "find defect for inspection %s", t.InspectionCode)
		}
		d := &entity.Defect{
			FactoryCode:  s.factoryOr(t.FactoryCode),
			Type:         s.policy.DefectTypeFor(t.Category),
			Severity:     s.policy.DefaultSeverity,
			Quantity:     t.Quantity,
			Description:  fmt.Sprintf("检验单 %s 判定不合格", t.InspectionCode),
			InspectionID: t.InspectionID,
			AutoCreated:  true,
			WorkOrderID:  t.WorkOrderID,
			MaterialID:   t.MaterialID,
			BatchID:      t.BatchID,
			BatchCode:    t.BatchCode,
			StationID:    t.StationID,
			ReportedBy:   userID,
		}
		res, err = s.create(ctx, d, userID, d.Quantity > 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *DefectService) create(ctx context.Context, d *entity.Defect, userID string, escalate bool) (*DefectResult, error) {
	now := s.now()
	code, err := s.codes.Defect(ctx, d.FactoryCode, now)
	if err != nil {
		return nil, err
	}
	d.ID = uuid.New().String()
	d.Code = code
	d.Status = domain.DefectOpen
	d.CAStatus = domain.CAPending
	d.CreatedAt = now
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, errs.Wrapf(err, "create defect %s", code)
	}
	if err := s.record(ctx, repository.Entry{
		EntityType: entity.EntityDefect, EntityID: d.ID, EntityCode: d.Code,
		Action: "create", ToStatus: string(d.Status),
		Content:    fmt.Sprintf("%s/%s x%d", d.Type, d.Severity, d.Quantity),
		Metadata:   map[string]interface{}{"inspection_id": d.InspectionID, "auto": d.AutoCreated},
		OperatorID: userID,
	}); err != nil {
		return nil, err
	}
	s.publish(ctx, s.defectEvent(event.DefectCreated, d, nil))

	res := &DefectResult{Defect: d}
	if escalate {
		ca, err := s.escalate(ctx, d, userID)
		if err != nil {
			return nil, err
		}
		res.CorrectiveAction, res.Escalated = ca, ca != nil
	}
	return res, nil
}

// escalate 按升级规则评估一次；已触发的缺陷不重复建案
func (s *DefectService) escalate(ctx context.Context, d *entity.Defect, userID string) (*entity.CorrectiveAction, error) {
	if d.CAStatus != domain.CAPending {
		return nil, nil
	}
	reason, ok := domain.EscalationReason(d.Severity, d.Type, d.Quantity, s.policy.Escalation)
	if !ok {
		return nil, nil
	}
	now := s.now()
	code, err := s.codes.CorrectiveAction(ctx, d.FactoryCode, now)
	if err != nil {
		return nil, err
	}
	ca := &entity.CorrectiveAction{
		ID:            uuid.New().String(),
		Code:          code,
		DefectID:      d.ID,
		DefectCode:    d.Code,
		FactoryCode:   d.FactoryCode,
		TriggerReason: reason,
		Status:        domain.CATriggered,
		CreatedAt:     now,
	}
	if err := s.cas.Create(ctx, ca); err != nil {
		return nil, errs.Wrapf(err, "create corrective action for %s", d.Code)
	}
	d.CAStatus = domain.CATriggered
	d.CAReason = reason
	d.CATriggeredAt = &now
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, errs.Wrapf(err, "update defect %s", d.Code)
	}
	if err := s.record(ctx, repository.Entry{
		EntityType: entity.EntityDefect, EntityID: d.ID, EntityCode: d.Code,
		Action: "escalate", FromStatus: string(domain.CAPending), ToStatus: string(domain.CATriggered),
		Content: reason + " → " + ca.Code, OperatorID: userID,
	}); err != nil {
		return nil, err
	}
	s.log.Info("corrective action triggered",
		zap.String("defect", d.Code), zap.String("ca", ca.Code), zap.String("reason", reason))
	s.publish(ctx, event.New(event.CATriggered, ca.FactoryCode, entity.EntityCorrectiveAction, ca.ID, ca.Code, map[string]interface{}{
		"defect_id": d.ID, "defect_code": d.Code, "reason": reason, "severity": d.Severity, "quantity": d.Quantity,
	}))
	return ca, nil
}

// UpdateSeverity 调整严重度并重新评估升级
func (s *DefectService) UpdateSeverity(ctx context.Context, id string, severity domain.Severity, userID string) (*DefectResult, error) {
	if !severity.Valid() {
		return nil, domain.InvalidArgument(entity.EntityDefect, "update_severity", fmt.Sprintf("unknown severity %q", severity))
	}
	var res *DefectResult
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		d, err := s.Lock(ctx, id)
		if err != nil {
			return err
		}
		if d.Status == domain.DefectClosed || d.Status == domain.DefectCancelled {
			return domain.IllegalTransition(entity.EntityDefect, d.ID, string(d.Status), "update_severity")
		}
		from := d.Severity
		d.Severity = severity
		if err := s.repo.Update(ctx, d); err != nil {
			return errs.Wrapf(err, "update defect %s", d.Code)
		}
		if err := s.record(ctx, repository.Entry{
			EntityType: entity.EntityDefect, EntityID: d.ID, EntityCode: d.Code,
			Action: "update_severity", Content: fmt.Sprintf("%s -> %s", from, severity), OperatorID: userID,
		}); err != nil {
			return err
		}
		ca, err := s.escalate(ctx, d, userID)
		if err != nil {
			return err
		}
		res = &DefectResult{Defect: d, CorrectiveAction: ca, Escalated: ca != nil}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type SubmitDispositionRequest struct {
	Disposition domain.Disposition `json:"disposition" binding:"required"`
	Quantity    *int64             `json:"quantity"` // 为空取缺陷全部数量
	WarehouseID string             `json:"warehouse_id"`
	Remark      string             `json:"remark"`
}

// DispositionEffect 处置结果，由编排层转为台账和工单动作
type DispositionEffect struct {
	Defect      *entity.Defect
	Disposition domain.Disposition
	Quantity    int64
	WorkOrderID string
	BatchID     string
	BatchCode   string
	WarehouseID string
}

// Scrap 报废处置
func (e *DispositionEffect) Scrap() bool {
	return e.Disposition == domain.DispositionScrap
}

// SubmitDisposition 提交处置。报废直接结案，其余处置进入处理中。
func (s *DefectService) SubmitDisposition(ctx context.Context, id string, req SubmitDispositionRequest, userID string) (*DispositionEffect, error) {
	if !req.Disposition.Valid() {
		return nil, domain.InvalidArgument(entity.EntityDefect, "submit_disposition", fmt.Sprintf("unknown disposition %q", req.Disposition))
	}
	var effect *DispositionEffect
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		d, err := s.Lock(ctx, id)
		if err != nil {
			return err
		}
		if !d.Status.AcceptsDisposition() {
			return domain.IllegalTransition(entity.EntityDefect, d.ID, string(d.Status), "submit_disposition")
		}
		qty := d.Quantity
		if req.Quantity != nil {
			qty = *req.Quantity
		}
		if qty <= 0 || qty > d.Quantity {
			return domain.NewError(domain.KindInvalidDispositionQuantity, entity.EntityDefect, d.ID, string(d.Status), "submit_disposition",
				fmt.Sprintf("disposition quantity %d outside 1..%d", qty, d.Quantity))
		}
		now := s.now()
		from := d.Status
		d.Disposition = req.Disposition
		d.DispositionQty = qty
		d.DispositionBy = userID
		d.DispositionAt = &now
		d.DispositionRemark = req.Remark
		d.Status = req.Disposition.ResultingStatus()
		if req.WarehouseID != "" {
			d.WarehouseID = req.WarehouseID
		}
		if err := s.repo.Update(ctx, d); err != nil {
			return errs.Wrapf(err, "update defect %s", d.Code)
		}
		if err := s.record(ctx, repository.Entry{
			EntityType: entity.EntityDefect, EntityID: d.ID, EntityCode: d.Code,
			Action: "submit_disposition", FromStatus: string(from), ToStatus: string(d.Status),
			Content: fmt.Sprintf("%s x%d %s", d.Disposition, qty, req.Remark), OperatorID: userID,
		}); err != nil {
			return err
		}
		s.publish(ctx, s.defectEvent(event.DefectDisposed, d, map[string]interface{}{"disposition": d.Disposition, "disposition_qty": qty}))
		effect = &DispositionEffect{
			Defect:      d,
			Disposition: d.Disposition,
			Quantity:    qty,
			WorkOrderID: d.WorkOrderID,
			BatchID:     d.BatchID,
			BatchCode:   d.BatchCode,
			WarehouseID: d.WarehouseID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return effect, nil
}

// Close 处置完成后结案
func (s *DefectService) Close(ctx context.Context, id, remark, userID string) (*entity.Defect, error) {
	var d *entity.Defect
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if d, err = s.Lock(ctx, id); err != nil {
			return err
		}
		if d.Status != domain.DefectInProgress && d.Status != domain.DefectResolved {
			return domain.IllegalTransition(entity.EntityDefect, d.ID, string(d.Status), "close")
		}
		now := s.now()
		from := d.Status
		d.Status = domain.DefectClosed
		d.ClosedAt = &now
		if err := s.repo.Update(ctx, d); err != nil {
			return errs.Wrapf(err, "update defect %s", d.Code)
		}
		if err := s.record(ctx, repository.Entry{
			EntityType: entity.EntityDefect, EntityID: d.ID, EntityCode: d.Code,
			Action: "close", FromStatus: string(from), ToStatus: string(d.Status),
			Content: remark, OperatorID: userID,
		}); err != nil {
			return err
		}
		s.publish(ctx, s.defectEvent(event.DefectClosed, d, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

type StartCorrectiveActionRequest struct {
	OwnerID string `json:"owner_id"`
}

// StartCorrectiveAction triggered → in_progress，同步缺陷上的状态
func (s *DefectService) StartCorrectiveAction(ctx context.Context, id string, req StartCorrectiveActionRequest, userID string) (*entity.CorrectiveAction, error) {
	return s.advanceCA(ctx, id, domain.CAInProgress, userID, func(ca *entity.CorrectiveAction, now time.Time) error {
		ca.OwnerID = req.OwnerID
		if ca.OwnerID == "" {
			ca.OwnerID = userID
		}
		ca.StartedAt = &now
		return nil
	})
}

type CompleteCorrectiveActionRequest struct {
	RootCause string `json:"root_cause" binding:"required"`
	Action    string `json:"action" binding:"required"`
}

// CompleteCorrectiveAction in_progress → completed，需要根因和措施
func (s *DefectService) CompleteCorrectiveAction(ctx context.Context, id string, req CompleteCorrectiveActionRequest, userID string) (*entity.CorrectiveAction, error) {
	return s.advanceCA(ctx, id, domain.CACompleted, userID, func(ca *entity.CorrectiveAction, now time.Time) error {
		if strings.TrimSpace(req.RootCause) == "" || strings.TrimSpace(req.Action) == "" {
			return domain.NewError(domain.KindInvalidArgument, entity.EntityCorrectiveAction, ca.ID, string(ca.Status), "complete",
				"root_cause and action are required")
		}
		ca.RootCause = req.RootCause
		ca.Action = req.Action
		ca.CompletedAt = &now
		return nil
	})
}

func (s *DefectService) advanceCA(ctx context.Context, id string, target domain.CAStatus, userID string, mutate func(*entity.CorrectiveAction, time.Time) error) (*entity.CorrectiveAction, error) {
	var ca *entity.CorrectiveAction
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if ca, err = s.cas.FindForUpdate(ctx, id); err != nil {
			return loadErr(err, entity.EntityCorrectiveAction, id)
		}
		if !domain.NextCAStatus(ca.Status, target) {
			return domain.IllegalTransition(entity.EntityCorrectiveAction, ca.ID, string(ca.Status), string(target))
		}
		now := s.now()
		if err := mutate(ca, now); err != nil {
			return err
		}
		from := ca.Status
		ca.Status = target
		if err := s.cas.Update(ctx, ca); err != nil {
			return errs.Wrapf(err, "update corrective action %s", ca.Code)
		}
		d, err := s.Lock(ctx, ca.DefectID)
		if err != nil {
			return err
		}
		d.CAStatus = target
		if err := s.repo.Update(ctx, d); err != nil {
			return errs.Wrapf(err, "update defect %s", d.Code)
		}
		if err := s.record(ctx, repository.Entry{
			EntityType: entity.EntityCorrectiveAction, EntityID: ca.ID, EntityCode: ca.Code,
			Action: string(target), FromStatus: string(from), ToStatus: string(target),
			Content: d.Code, OperatorID: userID,
		}); err != nil {
			return err
		}
		if target == domain.CACompleted {
			s.publish(ctx, event.New(event.CACompleted, ca.FactoryCode, entity.EntityCorrectiveAction, ca.ID, ca.Code, map[string]interface{}{
				"defect_id": d.ID, "root_cause": ca.RootCause, "action": ca.Action,
			}))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ca, nil
}

func (s *DefectService) Get(ctx context.Context, id string) (*entity.Defect, error) {
	d, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, entity.EntityDefect, id)
	}
	return d, nil
}

func (s *DefectService) Lock(ctx context.Context, id string) (*entity.Defect, error) {
	d, err := s.repo.FindForUpdate(ctx, id)
	if err != nil {
		return nil, loadErr(err, entity.EntityDefect, id)
	}
	return d, nil
}

func (s *DefectService) List(ctx context.Context, params repository.DefectListParams) (*ListResult[entity.Defect], error) {
	items, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, errs.Wrap(err, "list defects")
	}
	return newListResult(items, total, params.Page), nil
}

// DefectStatistics 缺陷分布
type DefectStatistics struct {
	ByType        []repository.GroupCount `json:"by_type"`
	BySeverity    []repository.GroupCount `json:"by_severity"`
	ByStatus      []repository.GroupCount `json:"by_status"`
	ByStation     []repository.GroupCount `json:"by_station"`
	ByDisposition []repository.GroupCount `json:"by_disposition"`
}

func (s *DefectService) Statistics(ctx context.Context, params repository.DefectListParams) (*DefectStatistics, error) {
	out := &DefectStatistics{}
	groups := []struct {
		column string
		dst    *[]repository.GroupCount
	}{
		{"type", &out.ByType},
		{"severity", &out.BySeverity},
		{"status", &out.ByStatus},
		{"station_id", &out.ByStation},
		{"disposition", &out.ByDisposition},
	}
	for _, g := range groups {
		rows, err := s.repo.CountBy(ctx, g.column, params)
		if err != nil {
			return nil, errs.Wrapf(err, "count defects by %s", g.column)
		}
		if rows == nil {
			rows = []repository.GroupCount{}
		}
		*g.dst = rows
	}
	return out, nil
}

func (s *DefectService) GetCorrectiveAction(ctx context.Context, id string) (*entity.CorrectiveAction, error) {
	ca, err := s.cas.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, entity.EntityCorrectiveAction, id)
	}
	return ca, nil
}

// CorrectiveActionFor 缺陷对应的纠正措施，未升级时返回 nil
func (s *DefectService) CorrectiveActionFor(ctx context.Context, defectID string) (*entity.CorrectiveAction, error) {
	ca, err := s.cas.FindByDefect(ctx, defectID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, "load corrective action")
	}
	return ca, nil
}

func (s *DefectService) ListCorrectiveActions(ctx context.Context, params repository.CAListParams) (*ListResult[entity.CorrectiveAction], error) {
	items, total, err := s.cas.List(ctx, params)
	if err != nil {
		return nil, errs.Wrap(err, "list corrective actions")
	}
	return newListResult(items, total, params.Page), nil
}

func (s *DefectService) defectEvent(typ string, d *entity.Defect, extra map[string]interface{}) event.Event {
	data := map[string]interface{}{
		"type":          d.Type,
		"severity":      d.Severity,
		"quantity":      d.Quantity,
		"status":        d.Status,
		"inspection_id": d.InspectionID,
		"work_order_id": d.WorkOrderID,
		"batch_code":    d.BatchCode,
		"station_id":    d.StationID,
	}
	for k, v := range extra {
		data[k] = v
	}
	return event.New(typ, d.FactoryCode, entity.EntityDefect, d.ID, d.Code, data)
}
