package service

import (
	"context"
	"errors"
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
)

// ReportingService 报工校验与记录。
// 只产出计划（计数器增量、物料消耗），由编排层交给工单和台账执行。
type ReportingService struct {
	*core
	repo       *repository.ReportRepository
	masterData collaborator.MasterData
	policy     *policy.Policy
}

func NewReportingService(c *core, repo *repository.ReportRepository, masterData collaborator.MasterData, p *policy.Policy) *ReportingService {
	return &ReportingService{core: c, repo: repo, masterData: masterData, policy: p}
}

// AdditionalMaterial 补料明细
type AdditionalMaterial struct {
	MaterialID   string          `json:"material_id" binding:"required"`
	MaterialCode string          `json:"material_code"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
}

type CreateReportRequest struct {
	WorkOrderID         string                   `json:"work_order_id"`
	StationID           string                   `json:"station_id"`
	OperatorID          string                   `json:"operator_id"`
	Shift               domain.Shift             `json:"shift"`
	ReportType          domain.ReportType        `json:"report_type"`
	ProducedQty         int64                    `json:"produced_qty"`
	QualifiedQty        int64                    `json:"qualified_qty"`
	RejectedQty         int64                    `json:"rejected_qty"`
	RejectionReasons    []entity.RejectionReason `json:"rejection_reasons"`
	OriginalWorkOrderID string                   `json:"original_work_order_id"`
	Materials           []AdditionalMaterial     `json:"materials"`
	WarehouseID         string                   `json:"warehouse_id"`
	Override            bool                     `json:"override"`
	ReportDate          string                   `json:"report_date"`
	Remark              string                   `json:"remark"`
}

// ConsumptionLine 一种物料的出库数量
type ConsumptionLine struct {
	MaterialID   string          `json:"material_id"`
	MaterialCode string          `json:"material_code"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// ReportPlan 报工校验结果
type ReportPlan struct {
	Report      *entity.ProductionReport
	Delta       domain.CounterDelta
	Consumption []ConsumptionLine
	WarehouseID string
}

// Prepare 校验报工并计算计数器增量和物料消耗；wo 已在事务中锁定。
// 先校验工单状态，再访问主数据。
func (s *ReportingService) Prepare(ctx context.Context, wo *entity.WorkOrder, req CreateReportRequest, userID string) (*ReportPlan, error) {
	if _, ok := domain.NextWorkOrderStatus(wo.Status, domain.WOActionReport); !ok {
		return nil, domain.IllegalTransition(entity.EntityWorkOrder, wo.ID, string(wo.Status), string(domain.WOActionReport))
	}
	if req.ReportType == "" {
		req.ReportType = domain.ReportNormal
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	code, err := s.codes.Report(ctx, wo.Code, now)
	if err != nil {
		return nil, err
	}
	date := req.ReportDate
	if date == "" {
		date = now.Format("2006-01-02")
	}
	report := &entity.ProductionReport{
		ID:                  uuid.New().String(),
		Code:                code,
		WorkOrderID:         wo.ID,
		WorkOrderCode:       wo.Code,
		OriginalWorkOrderID: req.OriginalWorkOrderID,
		FactoryCode:         wo.FactoryCode,
		StationID:           req.StationID,
		OperatorID:          req.OperatorID,
		Shift:               req.Shift,
		ReportType:          req.ReportType,
		ReportDate:          date,
		ProducedQty:         req.ProducedQty,
		QualifiedQty:        req.QualifiedQty,
		RejectedQty:         req.RejectedQty,
		RejectionReasons:    req.RejectionReasons,
		Override:            req.Override,
		Remark:              req.Remark,
		CreatedBy:           userID,
		CreatedAt:           now,
	}
	if report.StationID == "" {
		report.StationID = wo.StationID
	}
	if report.OperatorID == "" {
		report.OperatorID = userID
	}

	plan := &ReportPlan{Report: report, Delta: report.Delta(), WarehouseID: req.WarehouseID}
	if plan.WarehouseID == "" {
		plan.WarehouseID = wo.WarehouseID
	}

	switch req.ReportType {
	case domain.ReportNormal, domain.ReportRework:
		bom, err := s.billOfMaterials(ctx, wo.ProductID, wo.BOMVersion)
		if err != nil {
			return nil, err
		}
		report.BOMVersion = bom.Version
		produced := decimal.NewFromInt(req.ProducedQty)
		for _, item := range bom.Items {
			qty := item.PerUnitQty.Mul(produced).Round(4)
			if !qty.IsPositive() {
				continue
			}
			report.Materials = append(report.Materials, entity.ReportMaterial{
				ID:           uuid.New().String(),
				ReportID:     report.ID,
				MaterialID:   item.MaterialID,
				MaterialCode: item.MaterialCode,
				PerUnitQty:   item.PerUnitQty,
				Quantity:     qty,
				Unit:         item.Unit,
				CreatedAt:    now,
			})
		}
	case domain.ReportAdditional:
		for _, m := range req.Materials {
			report.Materials = append(report.Materials, entity.ReportMaterial{
				ID:           uuid.New().String(),
				ReportID:     report.ID,
				MaterialID:   m.MaterialID,
				MaterialCode: m.MaterialCode,
				Quantity:     m.Quantity,
				Unit:         m.Unit,
				CreatedAt:    now,
			})
		}
	}
	for _, m := range report.Materials {
		plan.Consumption = append(plan.Consumption, ConsumptionLine{MaterialID: m.MaterialID, MaterialCode: m.MaterialCode, Quantity: m.Quantity})
	}
	if len(plan.Consumption) > 0 && plan.WarehouseID == "" {
		return nil, domain.NewError(domain.KindMissingRequiredLink, entity.EntityReport, "", "", "create",
			"warehouse_id is required when the report consumes material")
	}
	report.WarehouseID = plan.WarehouseID
	return plan, nil
}

func (s *ReportingService) validate(req CreateReportRequest) error {
	invalid := func(detail string) error {
		return domain.InvalidArgument(entity.EntityReport, "create", detail)
	}
	if !req.ReportType.Valid() {
		return invalid(fmt.Sprintf("unknown report type %q", req.ReportType))
	}
	if req.Shift != "" && !req.Shift.Valid() {
		return invalid(fmt.Sprintf("unknown shift %q", req.Shift))
	}
	if err := validateQuantities(req.ProducedQty, req.QualifiedQty, req.RejectedQty, req.RejectionReasons); err != nil {
		return invalid(err.Error())
	}
	switch req.ReportType {
	case domain.ReportNormal:
		if req.ProducedQty <= 0 {
			return invalid("produced_qty must be positive")
		}
	case domain.ReportRework:
		if req.ProducedQty <= 0 {
			return invalid("produced_qty must be positive")
		}
		if strings.TrimSpace(req.OriginalWorkOrderID) == "" {
			return domain.NewError(domain.KindMissingRequiredLink, entity.EntityReport, "", "", "create",
				"rework report must reference the original work order")
		}
	case domain.ReportAdditional:
		if req.ProducedQty != 0 || req.QualifiedQty != 0 || req.RejectedQty != 0 {
			return invalid("additional material report does not carry produced quantities")
		}
		if len(req.Materials) == 0 {
			return invalid("additional material report requires materials")
		}
		for _, m := range req.Materials {
			if m.MaterialID == "" || !m.Quantity.IsPositive() {
				return invalid("each material needs material_id and a positive quantity")
			}
		}
	}
	return nil
}

func validateQuantities(produced, qualified, rejected int64, reasons []entity.RejectionReason) error {
	if produced < 0 || qualified < 0 || rejected < 0 {
		return errors.New("quantities must not be negative")
	}
	if qualified+rejected > produced {
		return fmt.Errorf("qualified %d + rejected %d exceeds produced %d", qualified, rejected, produced)
	}
	if len(reasons) > 0 {
		var sum int64
		for _, r := range reasons {
			if r.Quantity < 0 {
				return errors.New("rejection reason quantity must not be negative")
			}
			sum += r.Quantity
		}
		if sum != rejected {
			return fmt.Errorf("rejection reasons total %d, rejected %d", sum, rejected)
		}
	}
	return nil
}

func (s *ReportingService) billOfMaterials(ctx context.Context, productID, version string) (*collaborator.BOM, error) {
	if s.masterData == nil {
		return nil, domain.CollaboratorUnavailable("master_data", "get_bill_of_materials", errors.New("not configured"))
	}
	bom, err := s.masterData.GetBillOfMaterials(ctx, productID, version)
	if err != nil {
		return nil, err
	}
	return bom, nil
}

// Save 写入报工（含物料明细）
func (s *ReportingService) Save(ctx context.Context, plan *ReportPlan) error {
	r := plan.Report
	if err := s.repo.Create(ctx, r); err != nil {
		return errs.Wrapf(err, "create report %s", r.Code)
	}
	if err := s.record(ctx, repository.Entry{
		EntityType: entity.EntityReport, EntityID: r.ID, EntityCode: r.Code,
		Action:     "create",
		Content:    fmt.Sprintf("%s 产出%d 合格%d 不良%d", r.ReportType, r.ProducedQty, r.QualifiedQty, r.RejectedQty),
		Metadata:   map[string]interface{}{"work_order_id": r.WorkOrderID, "bom_version": r.BOMVersion},
		OperatorID: r.CreatedBy,
	}); err != nil {
		return err
	}
	s.publish(ctx, s.reportEvent(event.ReportCreated, r, plan.Delta))
	return nil
}

func (s *ReportingService) Get(ctx context.Context, id string) (*entity.ProductionReport, error) {
	r, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, entity.EntityReport, id)
	}
	return r, nil
}

// LockReport 加锁读取报工；调用方须先锁定所属工单
func (s *ReportingService) LockReport(ctx context.Context, id string) (*entity.ProductionReport, error) {
	r, err := s.repo.FindForUpdate(ctx, id)
	if err != nil {
		return nil, loadErr(err, entity.EntityReport, id)
	}
	return r, nil
}

type AmendReportRequest struct {
	ProducedQty      int64                    `json:"produced_qty"`
	QualifiedQty     int64                    `json:"qualified_qty"`
	RejectedQty      int64                    `json:"rejected_qty"`
	RejectionReasons []entity.RejectionReason `json:"rejection_reasons"`
	Reason           string                   `json:"reason" binding:"required"`
}

// MaterialAdjustment 修正引起的物料差额：正数补出库，负数回冲
type MaterialAdjustment struct {
	MaterialID   string          `json:"material_id"`
	MaterialCode string          `json:"material_code"`
	Delta        decimal.Decimal `json:"delta"`
}

// AmendPlan 修正计划
type AmendPlan struct {
	Report      *entity.ProductionReport
	Amendment   *entity.ReportAmendment
	Delta       domain.CounterDelta
	Adjustments []MaterialAdjustment
	WarehouseID string
}

// PrepareAmendment 校验修正窗口并计算差额；report 已加锁。
// 窗口外返回 AmendmentWindowExpired，此时不会产生任何写入。
func (s *ReportingService) PrepareAmendment(ctx context.Context, report *entity.ProductionReport, req AmendReportRequest, userID string) (*AmendPlan, error) {
	now := s.now()
	age := now.Sub(report.CreatedAt)
	if age > s.policy.AmendmentWindow {
		return nil, domain.NewError(domain.KindAmendmentWindowExpired, entity.EntityReport, report.ID, string(report.ReportType), "amend",
			fmt.Sprintf("created %s ago, window %s; only comments are allowed", age.Truncate(time.Second), s.policy.AmendmentWindow))
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, domain.InvalidArgument(entity.EntityReport, "amend", "reason is required")
	}
	if report.ReportType == domain.ReportAdditional {
		return nil, domain.NewError(domain.KindInvalidArgument, entity.EntityReport, report.ID, string(report.ReportType), "amend",
			"additional material reports carry no quantities to amend")
	}
	if err := validateQuantities(req.ProducedQty, req.QualifiedQty, req.RejectedQty, req.RejectionReasons); err != nil {
		return nil, domain.NewError(domain.KindInvalidArgument, entity.EntityReport, report.ID, "", "amend", err.Error())
	}
	if report.ReportType != domain.ReportSpecial && req.ProducedQty <= 0 {
		return nil, domain.NewError(domain.KindInvalidArgument, entity.EntityReport, report.ID, "", "amend", "produced_qty must be positive")
	}

	amendment := &entity.ReportAmendment{
		ID:              uuid.New().String(),
		ReportID:        report.ID,
		Reason:          strings.TrimSpace(req.Reason),
		OldProducedQty:  report.ProducedQty,
		OldQualifiedQty: report.QualifiedQty,
		OldRejectedQty:  report.RejectedQty,
		NewProducedQty:  req.ProducedQty,
		NewQualifiedQty: req.QualifiedQty,
		NewRejectedQty:  req.RejectedQty,
		AmendedBy:       userID,
		CreatedAt:       now,
	}
	before := report.Delta()
	report.ProducedQty = req.ProducedQty
	report.QualifiedQty = req.QualifiedQty
	report.RejectedQty = req.RejectedQty
	report.RejectionReasons = req.RejectionReasons
	report.AmendCount++

	plan := &AmendPlan{
		Report:      report,
		Amendment:   amendment,
		Delta:       report.Delta().Sub(before),
		WarehouseID: report.WarehouseID,
	}
	produced := decimal.NewFromInt(req.ProducedQty)
	for i := range report.Materials {
		m := &report.Materials[i]
		qty := m.PerUnitQty.Mul(produced).Round(4)
		diff := qty.Sub(m.Quantity)
		m.Quantity = qty
		if diff.IsZero() {
			continue
		}
		plan.Adjustments = append(plan.Adjustments, MaterialAdjustment{MaterialID: m.MaterialID, MaterialCode: m.MaterialCode, Delta: diff})
	}
	return plan, nil
}

// SaveAmendment 写回报工、物料明细和修正记录
func (s *ReportingService) SaveAmendment(ctx context.Context, plan *AmendPlan) error {
	r := plan.Report
	if err := s.repo.Update(ctx, r); err != nil {
		return errs.Wrapf(err, "update report %s", r.Code)
	}
	for i := range r.Materials {
		if err := s.repo.UpdateMaterial(ctx, &r.Materials[i]); err != nil {
			return errs.Wrapf(err, "update report %s material %s", r.Code, r.Materials[i].MaterialID)
		}
	}
	if err := s.repo.CreateAmendment(ctx, plan.Amendment); err != nil {
		return errs.Wrapf(err, "create amendment for %s", r.Code)
	}
	a := plan.Amendment
	if err := s.record(ctx, repository.Entry{
		EntityType: entity.EntityReport, EntityID: r.ID, EntityCode: r.Code,
		Action: "amend",
		Content: fmt.Sprintf("产出 %d->%d 合格 %d->%d 不良 %d->%d: %s",
			a.OldProducedQty, a.NewProducedQty, a.OldQualifiedQty, a.NewQualifiedQty, a.OldRejectedQty, a.NewRejectedQty, a.Reason),
		OperatorID: a.AmendedBy,
	}); err != nil {
		return err
	}
	s.publish(ctx, s.reportEvent(event.ReportAmended, r, plan.Delta))
	return nil
}

// AddComment 追加备注，任何时候都允许，不改变数量
func (s *ReportingService) AddComment(ctx context.Context, reportID, content, userID string) (*entity.ReportComment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.InvalidArgument(entity.EntityReport, "comment", "content is required")
	}
	var comment *entity.ReportComment
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.FindByID(ctx, reportID)
		if err != nil {
			return loadErr(err, entity.EntityReport, reportID)
		}
		comment = &entity.ReportComment{
			ID:        uuid.New().String(),
			ReportID:  r.ID,
			Content:   content,
			CreatedBy: userID,
			CreatedAt: s.now(),
		}
		if err := s.repo.CreateComment(ctx, comment); err != nil {
			return errs.Wrap(err, "create report comment")
		}
		return s.record(ctx, repository.Entry{
			EntityType: entity.EntityReport, EntityID: r.ID, EntityCode: r.Code,
			Action: "comment", Content: content, OperatorID: userID,
		})
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

func (s *ReportingService) List(ctx context.Context, params repository.ReportListParams) (*ListResult[entity.ProductionReport], error) {
	items, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, errs.Wrap(err, "list reports")
	}
	return newListResult(items, total, params.Page), nil
}

// DailyLine 工位班次日报
type DailyLine struct {
	repository.DailySummaryRow
	FirstPassRate decimal.Decimal `json:"first_pass_rate"`
}

// DailyReport 生产日报
type DailyReport struct {
	Date          string          `json:"date"`
	FactoryCode   string          `json:"factory_code"`
	Lines         []DailyLine     `json:"lines"`
	ProducedQty   int64           `json:"produced_qty"`
	QualifiedQty  int64           `json:"qualified_qty"`
	RejectedQty   int64           `json:"rejected_qty"`
	FirstPassRate decimal.Decimal `json:"first_pass_rate"`
}

// DailySummary 当日正常报工按工位、班次汇总，直通率 = 合格 / 产出
func (s *ReportingService) DailySummary(ctx context.Context, factoryCode, date string) (*DailyReport, error) {
	if date == "" {
		date = s.now().Format("2006-01-02")
	}
	rows, err := s.repo.DailySummary(ctx, factoryCode, date)
	if err != nil {
		return nil, errs.Wrap(err, "daily summary")
	}
	out := &DailyReport{Date: date, FactoryCode: factoryCode, Lines: make([]DailyLine, 0, len(rows))}
	for _, row := range rows {
		out.Lines = append(out.Lines, DailyLine{DailySummaryRow: row, FirstPassRate: ratio(row.QualifiedQty, row.ProducedQty)})
		out.ProducedQty += row.ProducedQty
		out.QualifiedQty += row.QualifiedQty
		out.RejectedQty += row.RejectedQty
	}
	out.FirstPassRate = ratio(out.QualifiedQty, out.ProducedQty)
	return out, nil
}

func (s *ReportingService) reportEvent(typ string, r *entity.ProductionReport, delta domain.CounterDelta) event.Event {
	return event.New(typ, r.FactoryCode, entity.EntityReport, r.ID, r.Code, map[string]interface{}{
		"work_order_id": r.WorkOrderID,
		"report_type":   r.ReportType,
		"produced_qty":  r.ProducedQty,
		"qualified_qty": r.QualifiedQty,
		"rejected_qty":  r.RejectedQty,
		"bom_version":   r.BOMVersion,
		"delta":         delta,
	})
}
