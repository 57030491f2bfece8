package entity

import (
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
)

// WorkOrder 生产工单
type WorkOrder struct {
	ID          string `json:"id" gorm:"primaryKey;size:36"`
	Code        string `json:"code" gorm:"size:50;not null;uniqueIndex"`
	FactoryCode string `json:"factory_code" gorm:"size:20;not null;index"`
	ProductID   string `json:"product_id" gorm:"size:64;not null;index"`
	ProductCode string `json:"product_code" gorm:"size:64"`
	ProductName string `json:"product_name" gorm:"size:128"`
	RoutingID   string `json:"routing_id" gorm:"size:64"`
	BOMVersion  string `json:"bom_version" gorm:"size:32"`
	WarehouseID string `json:"warehouse_id" gorm:"size:64"` // 线边发料仓

	PlannedQty   int64 `json:"planned_qty" gorm:"not null"`
	CompletedQty int64 `json:"completed_qty" gorm:"not null;default:0"`
	GoodQty      int64 `json:"good_qty" gorm:"not null;default:0"`
	DefectQty    int64 `json:"defect_qty" gorm:"not null;default:0"`
	ScrapQty     int64 `json:"scrap_qty" gorm:"not null;default:0"`
	ReworkQty    int64 `json:"rework_qty" gorm:"not null;default:0"` // 返工报工单独计数，不计入完工

	Status   domain.WorkOrderStatus   `json:"status" gorm:"size:20;not null;default:pending;index"`
	Priority domain.WorkOrderPriority `json:"priority" gorm:"size:10;not null;default:medium"`

	PlannedStart   *time.Time `json:"planned_start"`
	DueDate        *time.Time `json:"due_date"`
	ActualStart    *time.Time `json:"actual_start"`
	ActualComplete *time.Time `json:"actual_complete"`

	StationID    string `json:"station_id" gorm:"size:64;index"`
	Remark       string `json:"remark" gorm:"type:text"`
	CancelReason string `json:"cancel_reason" gorm:"size:500"`
	ParentID     string `json:"parent_id" gorm:"size:36;index"` // 拆分来源
	SourceType   string `json:"source_type" gorm:"size:20"`     // planning / manual / split
	SourceID     string `json:"source_id" gorm:"size:64"`

	CreatedBy string    `json:"created_by" gorm:"size:64"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WorkOrder) TableName() string {
	return "mes_work_orders"
}

// Counters 数量计数器快照
func (w *WorkOrder) Counters() domain.Counters {
	return domain.Counters{
		Planned:   w.PlannedQty,
		Completed: w.CompletedQty,
		Good:      w.GoodQty,
		Defect:    w.DefectQty,
		Scrap:     w.ScrapQty,
	}
}

// SetCounters 写回计数器
func (w *WorkOrder) SetCounters(c domain.Counters) {
	w.PlannedQty = c.Planned
	w.CompletedQty = c.Completed
	w.GoodQty = c.Good
	w.DefectQty = c.Defect
	w.ScrapQty = c.Scrap
}
