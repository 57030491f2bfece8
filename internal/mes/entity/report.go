package entity

import (
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/shopspring/decimal"
)

// RejectionReason 不良原因
type RejectionReason struct {
	Code     string `json:"code"`
	Reason   string `json:"reason"`
	Quantity int64  `json:"quantity"`
}

// ProductionReport 报工记录
type ProductionReport struct {
	ID                  string            `json:"id" gorm:"primaryKey;size:36"`
	Code                string            `json:"code" gorm:"size:80;not null;uniqueIndex"`
	WorkOrderID         string            `json:"work_order_id" gorm:"size:36;not null;index"`
	WorkOrderCode       string            `json:"work_order_code" gorm:"size:50"`
	OriginalWorkOrderID string            `json:"original_work_order_id" gorm:"size:36"` // 返工报工指向的原工单
	FactoryCode         string            `json:"factory_code" gorm:"size:20;index"`
	StationID           string            `json:"station_id" gorm:"size:64;index"`
	OperatorID          string            `json:"operator_id" gorm:"size:64"`
	Shift               domain.Shift      `json:"shift" gorm:"size:20"`
	ReportType          domain.ReportType `json:"report_type" gorm:"size:20;not null"`
	ReportDate          string            `json:"report_date" gorm:"size:10;index"` // YYYY-MM-DD

	ProducedQty      int64             `json:"produced_qty" gorm:"not null;default:0"`
	QualifiedQty     int64             `json:"qualified_qty" gorm:"not null;default:0"`
	RejectedQty      int64             `json:"rejected_qty" gorm:"not null;default:0"`
	RejectionReasons []RejectionReason `json:"rejection_reasons" gorm:"serializer:json;type:text"`

	BOMVersion  string `json:"bom_version" gorm:"size:32"`
	WarehouseID string `json:"warehouse_id" gorm:"size:64"`
	Override    bool   `json:"override" gorm:"default:false"` // 允许超计划报工
	Remark      string `json:"remark" gorm:"type:text"`
	AmendCount  int    `json:"amend_count" gorm:"default:0"`

	CreatedBy string    `json:"created_by" gorm:"size:64"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Materials  []ReportMaterial  `json:"materials,omitempty" gorm:"foreignKey:ReportID"`
	Amendments []ReportAmendment `json:"amendments,omitempty" gorm:"foreignKey:ReportID"`
	Comments   []ReportComment   `json:"comments,omitempty" gorm:"foreignKey:ReportID"`
}

func (ProductionReport) TableName() string {
	return "mes_production_reports"
}

// Delta 报工对工单计数器的增量
func (r *ProductionReport) Delta() domain.CounterDelta {
	switch r.ReportType {
	case domain.ReportNormal:
		return domain.CounterDelta{Completed: r.ProducedQty, Good: r.QualifiedQty, Defect: r.RejectedQty}
	case domain.ReportRework:
		return domain.CounterDelta{Rework: r.ProducedQty}
	case domain.ReportAdditional, domain.ReportSpecial:
		return domain.CounterDelta{}
	}
	return domain.CounterDelta{}
}

// ReportMaterial 报工物料消耗（BOM单耗 x 产量，或补料数量）
type ReportMaterial struct {
	ID           string          `json:"id" gorm:"primaryKey;size:36"`
	ReportID     string          `json:"report_id" gorm:"size:36;not null;index"`
	MaterialID   string          `json:"material_id" gorm:"size:64;not null"`
	MaterialCode string          `json:"material_code" gorm:"size:64"`
	PerUnitQty   decimal.Decimal `json:"per_unit_qty" gorm:"type:decimal(18,6);not null;default:0"`
	Quantity     decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null"`
	Unit         string          `json:"unit" gorm:"size:20"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (ReportMaterial) TableName() string {
	return "mes_report_materials"
}

// ReportAmendment 报工修正记录
type ReportAmendment struct {
	ID              string    `json:"id" gorm:"primaryKey;size:36"`
	ReportID        string    `json:"report_id" gorm:"size:36;not null;index"`
	Reason          string    `json:"reason" gorm:"type:text;not null"`
	OldProducedQty  int64     `json:"old_produced_qty"`
	OldQualifiedQty int64     `json:"old_qualified_qty"`
	OldRejectedQty  int64     `json:"old_rejected_qty"`
	NewProducedQty  int64     `json:"new_produced_qty"`
	NewQualifiedQty int64     `json:"new_qualified_qty"`
	NewRejectedQty  int64     `json:"new_rejected_qty"`
	AmendedBy       string    `json:"amended_by" gorm:"size:64"`
	CreatedAt       time.Time `json:"created_at"`
}

func (ReportAmendment) TableName() string {
	return "mes_report_amendments"
}

// ReportComment 报工备注，超出修正窗口后只能追加备注
type ReportComment struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	ReportID  string    `json:"report_id" gorm:"size:36;not null;index"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedBy string    `json:"created_by" gorm:"size:64"`
	CreatedAt time.Time `json:"created_at"`
}

func (ReportComment) TableName() string {
	return "mes_report_comments"
}
