package entity

import (
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
)

// Inspection 检验单
type Inspection struct {
	ID          string                `json:"id" gorm:"primaryKey;size:36"`
	Code        string                `json:"code" gorm:"size:60;not null;uniqueIndex"`
	FactoryCode string                `json:"factory_code" gorm:"size:20;index"`
	Type        domain.InspectionType `json:"type" gorm:"size:10;not null;index"`

	MaterialID    string `json:"material_id" gorm:"size:64;index"`
	MaterialCode  string `json:"material_code" gorm:"size:64"`
	WorkOrderID   string `json:"work_order_id" gorm:"size:36;index"`
	WorkOrderCode string `json:"work_order_code" gorm:"size:50"`
	BatchID       string `json:"batch_id" gorm:"size:36"`
	BatchCode     string `json:"batch_code" gorm:"size:80;index"`
	StationID     string `json:"station_id" gorm:"size:64"`
	SupplierID    string `json:"supplier_id" gorm:"size:64"`

	// 抽样方案
	BatchSize       int                    `json:"batch_size" gorm:"not null"`
	AQLLevel        string                 `json:"aql_level" gorm:"size:10;not null"`
	InspectionLevel domain.InspectionLevel `json:"inspection_level" gorm:"size:20;not null"`
	SampleSizeCode  string                 `json:"sample_size_code" gorm:"size:2;not null"`
	SampleSize      int                    `json:"sample_size" gorm:"not null"`
	Ac              int                    `json:"ac"`
	Re              int                    `json:"re"`

	// 检验结果
	InspectedQty   int                     `json:"inspected_qty" gorm:"default:0"`
	DefectiveQty   int                     `json:"defective_qty" gorm:"default:0"`
	DefectCategory string                  `json:"defect_category" gorm:"size:50"`
	Status         domain.InspectionStatus `json:"status" gorm:"size:20;not null;default:pending;index"`
	DefectID       string                  `json:"defect_id" gorm:"size:36"` // 判定不合格后自动生成的缺陷
	InspectorID    string                  `json:"inspector_id" gorm:"size:64"`
	InspectedAt    *time.Time              `json:"inspected_at"`
	RejectReason   string                  `json:"reject_reason" gorm:"size:500"`
	ReportURL      string                  `json:"report_url" gorm:"size:500"`
	Remark         string                  `json:"remark" gorm:"type:text"`

	CreatedBy string    `json:"created_by" gorm:"size:64"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Inspection) TableName() string {
	return "mes_inspections"
}

// Defect 缺陷记录
type Defect struct {
	ID          string              `json:"id" gorm:"primaryKey;size:36"`
	Code        string              `json:"code" gorm:"size:50;not null;uniqueIndex"`
	FactoryCode string              `json:"factory_code" gorm:"size:20;index"`
	Type        domain.DefectType   `json:"type" gorm:"size:20;not null;index"`
	Severity    domain.Severity     `json:"severity" gorm:"size:20;not null"`
	Quantity    int64               `json:"quantity" gorm:"not null"`
	Description string              `json:"description" gorm:"type:text"`
	Status      domain.DefectStatus `json:"status" gorm:"size:20;not null;default:open;index"`

	// 追溯
	InspectionID string `json:"inspection_id" gorm:"size:36;index"`
	AutoCreated  bool   `json:"auto_created" gorm:"default:false"`
	WorkOrderID  string `json:"work_order_id" gorm:"size:36;index"`
	MaterialID   string `json:"material_id" gorm:"size:64;index"`
	BatchID      string `json:"batch_id" gorm:"size:36"`
	BatchCode    string `json:"batch_code" gorm:"size:80;index"`
	WarehouseID  string `json:"warehouse_id" gorm:"size:64"`
	StationID    string `json:"station_id" gorm:"size:64;index"`

	// 处置
	Disposition       domain.Disposition `json:"disposition" gorm:"size:20"`
	DispositionQty    int64              `json:"disposition_qty" gorm:"default:0"`
	DispositionBy     string             `json:"disposition_by" gorm:"size:64"`
	DispositionAt     *time.Time         `json:"disposition_at"`
	DispositionRemark string             `json:"disposition_remark" gorm:"type:text"`

	// 纠正措施
	CAStatus      domain.CAStatus `json:"ca_status" gorm:"size:20;not null;default:pending"`
	CAReason      string          `json:"ca_reason" gorm:"size:200"`
	CATriggeredAt *time.Time      `json:"ca_triggered_at"`

	ReportedBy string     `json:"reported_by" gorm:"size:64"`
	ClosedAt   *time.Time `json:"closed_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Defect) TableName() string {
	return "mes_defects"
}

// HasLink 至少有一个来源追溯
func (d *Defect) HasLink() bool {
	return d.InspectionID != "" || d.WorkOrderID != "" || d.MaterialID != "" ||
		d.BatchID != "" || d.BatchCode != "" || d.StationID != ""
}

// CorrectiveAction 纠正措施(OCAP)案例，每个缺陷至多一个
type CorrectiveAction struct {
	ID            string          `json:"id" gorm:"primaryKey;size:36"`
	Code          string          `json:"code" gorm:"size:50;not null;uniqueIndex"`
	DefectID      string          `json:"defect_id" gorm:"size:36;not null;uniqueIndex"`
	DefectCode    string          `json:"defect_code" gorm:"size:50"`
	FactoryCode   string          `json:"factory_code" gorm:"size:20;index"`
	TriggerReason string          `json:"trigger_reason" gorm:"size:200;not null"`
	Status        domain.CAStatus `json:"status" gorm:"size:20;not null;default:triggered"`
	RootCause     string          `json:"root_cause" gorm:"type:text"`
	Action        string          `json:"action" gorm:"type:text"`
	OwnerID       string          `json:"owner_id" gorm:"size:64"`
	StartedAt     *time.Time      `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (CorrectiveAction) TableName() string {
	return "mes_corrective_actions"
}
