package repository

import (
	"context"

	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/shared/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CountRepository 盘点仓库
type CountRepository struct {
	base
}

func NewCountRepository(db *gorm.DB) *CountRepository {
	return &CountRepository{base{db: db}}
}

func (r *CountRepository) Create(ctx context.Context, c *entity.InventoryCount) error {
	return r.conn(ctx).Create(c).Error
}

func (r *CountRepository) FindByID(ctx context.Context, id string) (*entity.InventoryCount, error) {
	var c entity.InventoryCount
	err := r.conn(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("id = ?", id).First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *CountRepository) FindForUpdate(ctx context.Context, id string) (*entity.InventoryCount, error) {
	var c entity.InventoryCount
	if err := database.ForUpdate(r.conn(ctx)).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	if err := r.conn(ctx).Where("count_id = ?", id).Order("seq ASC").Find(&c.Items).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Update 仅更新盘点单头
func (r *CountRepository) Update(ctx context.Context, c *entity.InventoryCount) error {
	return r.conn(ctx).Omit(clause.Associations).Save(c).Error
}

// ReplaceItems 提交结果时整体替换明细
func (r *CountRepository) ReplaceItems(ctx context.Context, countID string, items []entity.InventoryCountItem) error {
	conn := r.conn(ctx)
	if err := conn.Where("count_id = ?", countID).Delete(&entity.InventoryCountItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return conn.Create(&items).Error
}

type CountListParams struct {
	WarehouseID string
	Status      string
	Page
}

func (r *CountRepository) List(ctx context.Context, params CountListParams) ([]entity.InventoryCount, int64, error) {
	query := r.conn(ctx).Model(&entity.InventoryCount{})
	if params.WarehouseID != "" {
		query = query.Where("warehouse_id = ?", params.WarehouseID)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := params.normalize()
	var items []entity.InventoryCount
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error
	return items, total, err
}
