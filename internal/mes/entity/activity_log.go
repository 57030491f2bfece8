package entity

import "time"

// ActivityLog MES操作日志
type ActivityLog struct {
	ID         string `json:"id" gorm:"primaryKey;size:36"`
	EntityType string `json:"entity_type" gorm:"size:50;not null;index:idx_activity_entity"` // work_order/report/inspection/defect/batch/count
	EntityID   string `json:"entity_id" gorm:"size:36;not null;index:idx_activity_entity"`
	EntityCode string `json:"entity_code" gorm:"size:80"`

	Action     string `json:"action" gorm:"size:50;not null"` // create/release/amend/disposition/escalate 等
	FromStatus string `json:"from_status" gorm:"size:20"`
	ToStatus   string `json:"to_status" gorm:"size:20"`

	Content  string                 `json:"content" gorm:"type:text"`
	Metadata map[string]interface{} `json:"metadata" gorm:"serializer:json;type:text"`

	OperatorID string    `json:"operator_id" gorm:"size:64"`
	CreatedAt  time.Time `json:"created_at"`
}

func (ActivityLog) TableName() string {
	return "mes_activity_logs"
}

// 实体类型
const (
	EntityWorkOrder        = "work_order"
	EntityReport           = "report"
	EntityInspection       = "inspection"
	EntityDefect           = "defect"
	EntityCorrectiveAction = "corrective_action"
	EntityBatch            = "batch"
	EntityCount            = "count"
	EntityReservation      = "reservation"
)
