package repository

import (
	"context"

	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/shared/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReportRepository 报工仓库
type ReportRepository struct {
	base
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{base{db: db}}
}

// Create 连同物料明细一起写入
func (r *ReportRepository) Create(ctx context.Context, report *entity.ProductionReport) error {
	return r.conn(ctx).Create(report).Error
}

func (r *ReportRepository) FindByID(ctx context.Context, id string) (*entity.ProductionReport, error) {
	var report entity.ProductionReport
	err := r.conn(ctx).
		Preload("Materials").
		Preload("Amendments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).First(&report).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &report, nil
}

// FindForUpdate 加锁读取报工及其物料明细
func (r *ReportRepository) FindForUpdate(ctx context.Context, id string) (*entity.ProductionReport, error) {
	var report entity.ProductionReport
	err := database.ForUpdate(r.conn(ctx)).Where("id = ?", id).First(&report).Error
	if err != nil {
		return nil, notFound(err)
	}
	if err := r.conn(ctx).Where("report_id = ?", id).Order("material_id").Find(&report.Materials).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

// Update 仅更新报工主表
func (r *ReportRepository) Update(ctx context.Context, report *entity.ProductionReport) error {
	return r.conn(ctx).Omit(clause.Associations).Save(report).Error
}

func (r *ReportRepository) UpdateMaterial(ctx context.Context, m *entity.ReportMaterial) error {
	return r.conn(ctx).Save(m).Error
}

func (r *ReportRepository) CreateAmendment(ctx context.Context, a *entity.ReportAmendment) error {
	return r.conn(ctx).Create(a).Error
}

func (r *ReportRepository) CreateComment(ctx context.Context, c *entity.ReportComment) error {
	return r.conn(ctx).Create(c).Error
}

type ReportListParams struct {
	FactoryCode string
	WorkOrderID string
	StationID   string
	ReportType  string
	ReportDate  string
	Shift       string
	OperatorID  string
	Page
}

func (r *ReportRepository) List(ctx context.Context, params ReportListParams) ([]entity.ProductionReport, int64, error) {
	query := r.conn(ctx).Model(&entity.ProductionReport{})
	if params.FactoryCode != "" {
		query = query.Where("factory_code = ?", params.FactoryCode)
	}
	if params.WorkOrderID != "" {
		query = query.Where("work_order_id = ?", params.WorkOrderID)
	}
	if params.StationID != "" {
		query = query.Where("station_id = ?", params.StationID)
	}
	if params.ReportType != "" {
		query = query.Where("report_type = ?", params.ReportType)
	}
	if params.ReportDate != "" {
		query = query.Where("report_date = ?", params.ReportDate)
	}
	if params.Shift != "" {
		query = query.Where("shift = ?", params.Shift)
	}
	if params.OperatorID != "" {
		query = query.Where("operator_id = ?", params.OperatorID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := params.normalize()
	var items []entity.ProductionReport
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error
	return items, total, err
}

// FindByIDs 批量读取报工
func (r *ReportRepository) FindByIDs(ctx context.Context, ids []string) ([]entity.ProductionReport, error) {
	var items []entity.ProductionReport
	if len(ids) == 0 {
		return items, nil
	}
	err := r.conn(ctx).Where("id IN ?", ids).Order("created_at ASC").Find(&items).Error
	return items, err
}

// DailySummaryRow 日报汇总行
type DailySummaryRow struct {
	StationID    string `json:"station_id"`
	Shift        string `json:"shift"`
	ReportCount  int64  `json:"report_count"`
	ProducedQty  int64  `json:"produced_qty"`
	QualifiedQty int64  `json:"qualified_qty"`
	RejectedQty  int64  `json:"rejected_qty"`
}

// DailySummary 按工位、班次汇总正常报工
func (r *ReportRepository) DailySummary(ctx context.Context, factoryCode, date string) ([]DailySummaryRow, error) {
	query := r.conn(ctx).Model(&entity.ProductionReport{}).
		Select("station_id, shift, COUNT(*) AS report_count, " +
			"COALESCE(SUM(produced_qty), 0) AS produced_qty, " +
			"COALESCE(SUM(qualified_qty), 0) AS qualified_qty, " +
			"COALESCE(SUM(rejected_qty), 0) AS rejected_qty").
		Where("report_date = ? AND report_type = ?", date, "normal")
	if factoryCode != "" {
		query = query.Where("factory_code = ?", factoryCode)
	}
	var rows []DailySummaryRow
	err := query.Group("station_id, shift").Order("station_id, shift").Scan(&rows).Error
	return rows, err
}
