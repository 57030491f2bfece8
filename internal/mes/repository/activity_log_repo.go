package repository

import (
	"context"

	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivityLogRepository 操作日志仓库
type ActivityLogRepository struct {
	base
}

func NewActivityLogRepository(db *gorm.DB) *ActivityLogRepository {
	return &ActivityLogRepository{base{db: db}}
}

// Create 创建操作日志；在事务中调用时随业务一起提交或回滚
func (r *ActivityLogRepository) Create(ctx context.Context, log *entity.ActivityLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	return r.conn(ctx).Create(log).Error
}

// FindByEntity 查询某实体的操作日志
func (r *ActivityLogRepository) FindByEntity(ctx context.Context, entityType, entityID string, page Page) ([]entity.ActivityLog, int64, error) {
	var items []entity.ActivityLog
	var total int64

	query := r.conn(ctx).Model(&entity.ActivityLog{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := page.normalize()
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error

	return items, total, err
}

// Entry 便捷记录
type Entry struct {
	EntityType string
	EntityID   string
	EntityCode string
	Action     string
	FromStatus string
	ToStatus   string
	Content    string
	Metadata   map[string]interface{}
	OperatorID string
}

// LogActivity 便捷记录操作日志
func (r *ActivityLogRepository) LogActivity(ctx context.Context, e Entry) error {
	return r.Create(ctx, &entity.ActivityLog{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		EntityCode: e.EntityCode,
		Action:     e.Action,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		Content:    e.Content,
		Metadata:   e.Metadata,
		OperatorID: e.OperatorID,
	})
}
