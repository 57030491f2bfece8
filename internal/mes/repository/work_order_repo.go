package repository

import (
	"context"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/shared/database"
	"gorm.io/gorm"
)

// WorkOrderRepository 工单仓库
type WorkOrderRepository struct {
	base
}

func NewWorkOrderRepository(db *gorm.DB) *WorkOrderRepository {
	return &WorkOrderRepository{base{db: db}}
}

func (r *WorkOrderRepository) Create(ctx context.Context, wo *entity.WorkOrder) error {
	return r.conn(ctx).Create(wo).Error
}

func (r *WorkOrderRepository) FindByID(ctx context.Context, id string) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	if err := r.conn(ctx).Where("id = ?", id).First(&wo).Error; err != nil {
		return nil, notFound(err)
	}
	return &wo, nil
}

// FindForUpdate 加行锁读取，须在事务中调用
func (r *WorkOrderRepository) FindForUpdate(ctx context.Context, id string) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	if err := database.ForUpdate(r.conn(ctx)).Where("id = ?", id).First(&wo).Error; err != nil {
		return nil, notFound(err)
	}
	return &wo, nil
}

func (r *WorkOrderRepository) FindByCode(ctx context.Context, code string) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	if err := r.conn(ctx).Where("code = ?", code).First(&wo).Error; err != nil {
		return nil, notFound(err)
	}
	return &wo, nil
}

func (r *WorkOrderRepository) Update(ctx context.Context, wo *entity.WorkOrder) error {
	return r.conn(ctx).Save(wo).Error
}

// FindChildren 拆分出的子工单
func (r *WorkOrderRepository) FindChildren(ctx context.Context, parentID string) ([]entity.WorkOrder, error) {
	var items []entity.WorkOrder
	err := r.conn(ctx).Where("parent_id = ?", parentID).Order("created_at ASC").Find(&items).Error
	return items, err
}

type WOListParams struct {
	FactoryCode string
	Status      string
	ProductID   string
	StationID   string
	Priority    string
	Keyword     string
	Page
}

func (r *WorkOrderRepository) List(ctx context.Context, params WOListParams) ([]entity.WorkOrder, int64, error) {
	query := r.conn(ctx).Model(&entity.WorkOrder{})
	if params.FactoryCode != "" {
		query = query.Where("factory_code = ?", params.FactoryCode)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.ProductID != "" {
		query = query.Where("product_id = ?", params.ProductID)
	}
	if params.StationID != "" {
		query = query.Where("station_id = ?", params.StationID)
	}
	if params.Priority != "" {
		query = query.Where("priority = ?", params.Priority)
	}
	if params.Keyword != "" {
		kw := like(params.Keyword)
		query = query.Where("LOWER(code) LIKE ? OR LOWER(product_name) LIKE ?", kw, kw)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := params.normalize()
	var items []entity.WorkOrder
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error
	return items, total, err
}

// StatusCount 按状态统计
type StatusCount struct {
	Status domain.WorkOrderStatus `json:"status"`
	Count  int64                  `json:"count"`
}

func (r *WorkOrderRepository) CountByStatus(ctx context.Context, factoryCode string) ([]StatusCount, error) {
	query := r.conn(ctx).Model(&entity.WorkOrder{}).Select("status, COUNT(*) AS count")
	if factoryCode != "" {
		query = query.Where("factory_code = ?", factoryCode)
	}
	var rows []StatusCount
	err := query.Group("status").Order("status").Scan(&rows).Error
	return rows, err
}
