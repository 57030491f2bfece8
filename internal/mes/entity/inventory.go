package entity

import (
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/shopspring/decimal"
)

// InventoryBatch 库存批次，批次只归零不删除
type InventoryBatch struct {
	ID           string             `json:"id" gorm:"primaryKey;size:36"`
	BatchCode    string             `json:"batch_code" gorm:"size:80;not null;uniqueIndex"`
	MaterialID   string             `json:"material_id" gorm:"size:64;not null;index:idx_batch_fifo,priority:1"`
	MaterialCode string             `json:"material_code" gorm:"size:64"`
	MaterialName string             `json:"material_name" gorm:"size:128"`
	WarehouseID  string             `json:"warehouse_id" gorm:"size:64;not null;index:idx_batch_fifo,priority:2"`
	LocationID   string             `json:"location_id" gorm:"size:64"`
	Quantity     decimal.Decimal    `json:"quantity" gorm:"type:decimal(18,4);not null;default:0"`
	AvailableQty decimal.Decimal    `json:"available_qty" gorm:"type:decimal(18,4);not null;default:0"`
	ReservedQty  decimal.Decimal    `json:"reserved_qty" gorm:"type:decimal(18,4);not null;default:0"`
	UnitCost     decimal.Decimal    `json:"unit_cost" gorm:"type:decimal(18,4);not null;default:0"`
	Unit         string             `json:"unit" gorm:"size:20;not null;default:pcs"`
	ReceiveDate  time.Time          `json:"receive_date" gorm:"not null;index:idx_batch_fifo,priority:3"`
	Seq          int64              `json:"seq" gorm:"not null;default:0;index:idx_batch_fifo,priority:4"` // 入库顺序号
	Status       domain.BatchStatus `json:"status" gorm:"size:20;not null;default:available"`
	SupplierID   string             `json:"supplier_id" gorm:"size:64"`
	SourceType   string             `json:"source_type" gorm:"size:20"` // PO / WO / RETURN
	SourceID     string             `json:"source_id" gorm:"size:64"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func (InventoryBatch) TableName() string {
	return "mes_inventory_batches"
}

// Balanced available + reserved ≤ quantity，且均非负
func (b *InventoryBatch) Balanced() bool {
	if b.Quantity.IsNegative() || b.AvailableQty.IsNegative() || b.ReservedQty.IsNegative() {
		return false
	}
	return b.AvailableQty.Add(b.ReservedQty).LessThanOrEqual(b.Quantity)
}

// RefreshStatus 可用量为零且仍有预留时标记为已预留；冻结类状态保持不变
func (b *InventoryBatch) RefreshStatus() {
	if !b.Status.Allocatable() {
		return
	}
	if b.AvailableQty.IsZero() && b.ReservedQty.IsPositive() {
		b.Status = domain.BatchReserved
	} else {
		b.Status = domain.BatchAvailable
	}
}

// InventoryTransaction 库存交易，出库交易携带逐批次的消耗明细
type InventoryTransaction struct {
	ID            string          `json:"id" gorm:"primaryKey;size:36"`
	MaterialID    string          `json:"material_id" gorm:"size:64;not null;index"`
	MaterialCode  string          `json:"material_code" gorm:"size:64"`
	WarehouseID   string          `json:"warehouse_id" gorm:"size:64;not null;index"`
	TxType        domain.TxType   `json:"tx_type" gorm:"size:20;not null"`
	Quantity      decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null"` // 正=入，负=出
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(18,4);not null;default:0"`
	WorkOrderID   string          `json:"work_order_id" gorm:"size:36;index"`
	ReservationID string          `json:"reservation_id" gorm:"size:36"`
	ReferenceType string          `json:"reference_type" gorm:"size:30"` // REPORT / COUNT / DEFECT / PO / WO
	ReferenceID   string          `json:"reference_id" gorm:"size:64;index"`
	ReferenceCode string          `json:"reference_code" gorm:"size:80"`
	Remark        string          `json:"remark" gorm:"type:text"`
	CreatedBy     string          `json:"created_by" gorm:"size:64"`
	CreatedAt     time.Time       `json:"created_at"`

	Lines []InventoryTransactionLine `json:"lines" gorm:"foreignKey:TransactionID"`
}

func (InventoryTransaction) TableName() string {
	return "mes_inventory_transactions"
}

// InventoryTransactionLine 交易明细：批次、数量、单位成本
type InventoryTransactionLine struct {
	ID            string          `json:"id" gorm:"primaryKey;size:36"`
	TransactionID string          `json:"transaction_id" gorm:"size:36;not null;index"`
	Seq           int             `json:"seq"`
	BatchID       string          `json:"batch_id" gorm:"size:36;not null;index"`
	BatchCode     string          `json:"batch_code" gorm:"size:80"`
	Quantity      decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null"`
	UnitCost      decimal.Decimal `json:"unit_cost" gorm:"type:decimal(18,4);not null;default:0"`
	FromReserved  bool            `json:"from_reserved" gorm:"default:false"`
}

func (InventoryTransactionLine) TableName() string {
	return "mes_inventory_transaction_lines"
}

// Reservation 工单物料预留
type Reservation struct {
	ID          string                   `json:"id" gorm:"primaryKey;size:36"`
	WorkOrderID string                   `json:"work_order_id" gorm:"size:36;not null;index"`
	MaterialID  string                   `json:"material_id" gorm:"size:64;not null;index"`
	WarehouseID string                   `json:"warehouse_id" gorm:"size:64;not null"`
	Quantity    decimal.Decimal          `json:"quantity" gorm:"type:decimal(18,4);not null"`
	ConsumedQty decimal.Decimal          `json:"consumed_qty" gorm:"type:decimal(18,4);not null;default:0"`
	Status      domain.ReservationStatus `json:"status" gorm:"size:20;not null;default:active"`
	CreatedBy   string                   `json:"created_by" gorm:"size:64"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`

	Lines []ReservationLine `json:"lines" gorm:"foreignKey:ReservationID"`
}

func (Reservation) TableName() string {
	return "mes_reservations"
}

// Remaining 未消耗的预留量
func (r *Reservation) Remaining() decimal.Decimal {
	return r.Quantity.Sub(r.ConsumedQty)
}

// ReservationLine 预留落到的批次
type ReservationLine struct {
	ID            string          `json:"id" gorm:"primaryKey;size:36"`
	ReservationID string          `json:"reservation_id" gorm:"size:36;not null;index"`
	Seq           int             `json:"seq"`
	BatchID       string          `json:"batch_id" gorm:"size:36;not null"`
	BatchCode     string          `json:"batch_code" gorm:"size:80"`
	Quantity      decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null"`
	ConsumedQty   decimal.Decimal `json:"consumed_qty" gorm:"type:decimal(18,4);not null;default:0"`
}

func (ReservationLine) TableName() string {
	return "mes_reservation_lines"
}

// InventoryCount 盘点单
type InventoryCount struct {
	ID              string             `json:"id" gorm:"primaryKey;size:36"`
	Code            string             `json:"code" gorm:"size:50;not null;uniqueIndex"`
	WarehouseID     string             `json:"warehouse_id" gorm:"size:64;not null;index"`
	Status          domain.CountStatus `json:"status" gorm:"size:20;not null;default:draft"`
	TotalSystem     decimal.Decimal    `json:"total_system" gorm:"type:decimal(18,4);not null;default:0"`
	TotalCounted    decimal.Decimal    `json:"total_counted" gorm:"type:decimal(18,4);not null;default:0"`
	TotalDifference decimal.Decimal    `json:"total_difference" gorm:"type:decimal(18,4);not null;default:0"`
	Remark          string             `json:"remark" gorm:"type:text"`
	CreatedBy       string             `json:"created_by" gorm:"size:64"`
	SubmittedBy     string             `json:"submitted_by" gorm:"size:64"`
	SubmittedAt     *time.Time         `json:"submitted_at"`
	ApprovedBy      string             `json:"approved_by" gorm:"size:64"`
	ApprovedAt      *time.Time         `json:"approved_at"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`

	Items []InventoryCountItem `json:"items" gorm:"foreignKey:CountID"`
}

func (InventoryCount) TableName() string {
	return "mes_inventory_counts"
}

// InventoryCountItem 盘点明细
type InventoryCountItem struct {
	ID           string                     `json:"id" gorm:"primaryKey;size:36"`
	CountID      string                     `json:"count_id" gorm:"size:36;not null;index"`
	Seq          int                        `json:"seq"`
	MaterialID   string                     `json:"material_id" gorm:"size:64;not null"`
	MaterialCode string                     `json:"material_code" gorm:"size:64"`
	BatchID      string                     `json:"batch_id" gorm:"size:36"`
	BatchCode    string                     `json:"batch_code" gorm:"size:80"`
	SystemQty    decimal.Decimal            `json:"system_qty" gorm:"type:decimal(18,4);not null;default:0"`
	CountedQty   decimal.Decimal            `json:"counted_qty" gorm:"type:decimal(18,4);not null;default:0"`
	Difference   decimal.Decimal            `json:"difference" gorm:"type:decimal(18,4);not null;default:0"`
	Direction    domain.AdjustmentDirection `json:"direction" gorm:"size:10"`
}

func (InventoryCountItem) TableName() string {
	return "mes_inventory_count_items"
}
