package repository

import (
	"context"

	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/shared/database"
	"gorm.io/gorm"
)

// InspectionRepository 检验仓库
type InspectionRepository struct {
	base
}

func NewInspectionRepository(db *gorm.DB) *InspectionRepository {
	return &InspectionRepository{base{db: db}}
}

func (r *InspectionRepository) Create(ctx context.Context, in *entity.Inspection) error {
	return r.conn(ctx).Create(in).Error
}

func (r *InspectionRepository) Update(ctx context.Context, in *entity.Inspection) error {
	return r.conn(ctx).Save(in).Error
}

func (r *InspectionRepository) FindByID(ctx context.Context, id string) (*entity.Inspection, error) {
	var in entity.Inspection
	if err := r.conn(ctx).Where("id = ?", id).First(&in).Error; err != nil {
		return nil, notFound(err)
	}
	return &in, nil
}

// FindForUpdate 结果提交须串行，防止重复判定
func (r *InspectionRepository) FindForUpdate(ctx context.Context, id string) (*entity.Inspection, error) {
	var in entity.Inspection
	if err := database.ForUpdate(r.conn(ctx)).Where("id = ?", id).First(&in).Error; err != nil {
		return nil, notFound(err)
	}
	return &in, nil
}

func (r *InspectionRepository) FindByBatchCode(ctx context.Context, batchCode string) ([]entity.Inspection, error) {
	var items []entity.Inspection
	err := r.conn(ctx).Where("batch_code = ?", batchCode).Order("created_at ASC").Find(&items).Error
	return items, err
}

type InspectionListParams struct {
	FactoryCode string
	Type        string
	Status      string
	WorkOrderID string
	MaterialID  string
	BatchCode   string
	Keyword     string
	Page
}

func (r *InspectionRepository) List(ctx context.Context, params InspectionListParams) ([]entity.Inspection, int64, error) {
	query := r.conn(ctx).Model(&entity.Inspection{})
	if params.FactoryCode != "" {
		query = query.Where("factory_code = ?", params.FactoryCode)
	}
	if params.Type != "" {
		query = query.Where("type = ?", params.Type)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.WorkOrderID != "" {
		query = query.Where("work_order_id = ?", params.WorkOrderID)
	}
	if params.MaterialID != "" {
		query = query.Where("material_id = ?", params.MaterialID)
	}
	if params.BatchCode != "" {
		query = query.Where("batch_code = ?", params.BatchCode)
	}
	if params.Keyword != "" {
		query = query.Where("LOWER(code) LIKE ?", like(params.Keyword))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := params.normalize()
	var items []entity.Inspection
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error
	return items, total, err
}

// DefectRepository 缺陷仓库
type DefectRepository struct {
	base
}

func NewDefectRepository(db *gorm.DB) *DefectRepository {
	return &DefectRepository{base{db: db}}
}

func (r *DefectRepository) Create(ctx context.Context, d *entity.Defect) error {
	return r.conn(ctx).Create(d).Error
}

func (r *DefectRepository) Update(ctx context.Context, d *entity.Defect) error {
	return r.conn(ctx).Save(d).Error
}

func (r *DefectRepository) FindByID(ctx context.Context, id string) (*entity.Defect, error) {
	var d entity.Defect
	if err := r.conn(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *DefectRepository) FindForUpdate(ctx context.Context, id string) (*entity.Defect, error) {
	var d entity.Defect
	if err := database.ForUpdate(r.conn(ctx)).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// FindAutoByInspection 检验自动生成的缺陷，最多一条
func (r *DefectRepository) FindAutoByInspection(ctx context.Context, inspectionID string) (*entity.Defect, error) {
	var d entity.Defect
	err := r.conn(ctx).Where("inspection_id = ? AND auto_created = ?", inspectionID, true).First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// FindByBatch 按批次ID或批次号追溯
func (r *DefectRepository) FindByBatch(ctx context.Context, batchID, batchCode string) ([]entity.Defect, error) {
	var items []entity.Defect
	err := r.conn(ctx).Where("batch_id = ? OR batch_code = ?", batchID, batchCode).
		Order("created_at ASC").Find(&items).Error
	return items, err
}

type DefectListParams struct {
	FactoryCode  string
	Type         string
	Severity     string
	Status       string
	WorkOrderID  string
	InspectionID string
	StationID    string
	MaterialID   string
	CAStatus     string
	Page
}

func (p DefectListParams) apply(query *gorm.DB) *gorm.DB {
	if p.FactoryCode != "" {
		query = query.Where("factory_code = ?", p.FactoryCode)
	}
	if p.Type != "" {
		query = query.Where("type = ?", p.Type)
	}
	if p.Severity != "" {
		query = query.Where("severity = ?", p.Severity)
	}
	if p.Status != "" {
		query = query.Where("status = ?", p.Status)
	}
	if p.WorkOrderID != "" {
		query = query.Where("work_order_id = ?", p.WorkOrderID)
	}
	if p.InspectionID != "" {
		query = query.Where("inspection_id = ?", p.InspectionID)
	}
	if p.StationID != "" {
		query = query.Where("station_id = ?", p.StationID)
	}
	if p.MaterialID != "" {
		query = query.Where("material_id = ?", p.MaterialID)
	}
	if p.CAStatus != "" {
		query = query.Where("ca_status = ?", p.CAStatus)
	}
	return query
}

func (r *DefectRepository) List(ctx context.Context, params DefectListParams) ([]entity.Defect, int64, error) {
	query := params.apply(r.conn(ctx).Model(&entity.Defect{}))
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := params.normalize()
	var items []entity.Defect
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error
	return items, total, err
}

// GroupCount 分组统计
type GroupCount struct {
	Key      string `json:"key" gorm:"column:group_key"`
	Count    int64  `json:"count"`
	Quantity int64  `json:"quantity"`
}

// CountBy 按列分组统计缺陷条数与数量；column 只接受内部固定列名
func (r *DefectRepository) CountBy(ctx context.Context, column string, params DefectListParams) ([]GroupCount, error) {
	switch column {
	case "type", "severity", "status", "station_id", "disposition":
	default:
		return nil, gorm.ErrInvalidField
	}
	query := params.apply(r.conn(ctx).Model(&entity.Defect{})).
		Select(column + " AS group_key, COUNT(*) AS count, COALESCE(SUM(quantity), 0) AS quantity")
	var rows []GroupCount
	err := query.Group(column).Order(column).Scan(&rows).Error
	return rows, err
}

// CorrectiveActionRepository 纠正措施仓库
type CorrectiveActionRepository struct {
	base
}

func NewCorrectiveActionRepository(db *gorm.DB) *CorrectiveActionRepository {
	return &CorrectiveActionRepository{base{db: db}}
}

func (r *CorrectiveActionRepository) Create(ctx context.Context, ca *entity.CorrectiveAction) error {
	return r.conn(ctx).Create(ca).Error
}

func (r *CorrectiveActionRepository) Update(ctx context.Context, ca *entity.CorrectiveAction) error {
	return r.conn(ctx).Save(ca).Error
}

func (r *CorrectiveActionRepository) FindByID(ctx context.Context, id string) (*entity.CorrectiveAction, error) {
	var ca entity.CorrectiveAction
	if err := r.conn(ctx).Where("id = ?", id).First(&ca).Error; err != nil {
		return nil, notFound(err)
	}
	return &ca, nil
}

func (r *CorrectiveActionRepository) FindForUpdate(ctx context.Context, id string) (*entity.CorrectiveAction, error) {
	var ca entity.CorrectiveAction
	if err := database.ForUpdate(r.conn(ctx)).Where("id = ?", id).First(&ca).Error; err != nil {
		return nil, notFound(err)
	}
	return &ca, nil
}

func (r *CorrectiveActionRepository) FindByDefect(ctx context.Context, defectID string) (*entity.CorrectiveAction, error) {
	var ca entity.CorrectiveAction
	if err := r.conn(ctx).Where("defect_id = ?", defectID).First(&ca).Error; err != nil {
		return nil, notFound(err)
	}
	return &ca, nil
}

type CAListParams struct {
	FactoryCode string
	Status      string
	Page
}

func (r *CorrectiveActionRepository) List(ctx context.Context, params CAListParams) ([]entity.CorrectiveAction, int64, error) {
	query := r.conn(ctx).Model(&entity.CorrectiveAction{})
	if params.FactoryCode != "" {
		query = query.Where("factory_code = ?", params.FactoryCode)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := params.normalize()
	var items []entity.CorrectiveAction
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error
	return items, total, err
}
