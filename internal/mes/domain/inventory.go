package domain

// BatchStatus 批次状态
type BatchStatus string

const (
	BatchAvailable  BatchStatus = "available"
	BatchReserved   BatchStatus = "reserved"
	BatchQCHold     BatchStatus = "qc_hold"
	BatchFrozen     BatchStatus = "frozen"
	BatchQuarantine BatchStatus = "quarantine"
)

// Allocatable 冻结、待检、隔离的批次不参与出库和预留
func (s BatchStatus) Allocatable() bool {
	switch s {
	case BatchAvailable, BatchReserved:
		return true
	case BatchQCHold, BatchFrozen, BatchQuarantine:
		return false
	}
	return false
}

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchAvailable, BatchReserved, BatchQCHold, BatchFrozen, BatchQuarantine:
		return true
	}
	return false
}

// TxType 库存交易类型
type TxType string

const (
	TxPurchaseIn    TxType = "purchase_in"
	TxProductionIn  TxType = "production_in"
	TxReturnIn      TxType = "return_in"
	TxTransferIn    TxType = "transfer_in"
	TxAdjustmentIn  TxType = "adjustment_in"
	TxProductionOut TxType = "production_out"
	TxSalesOut      TxType = "sales_out"
	TxScrapOut      TxType = "scrap_out"
	TxTransferOut   TxType = "transfer_out"
	TxAdjustmentOut TxType = "adjustment_out"
)

// Inbound 入库方向
func (t TxType) Inbound() bool {
	switch t {
	case TxPurchaseIn, TxProductionIn, TxReturnIn, TxTransferIn, TxAdjustmentIn:
		return true
	case TxProductionOut, TxSalesOut, TxScrapOut, TxTransferOut, TxAdjustmentOut:
		return false
	}
	return false
}

func (t TxType) Valid() bool {
	switch t {
	case TxPurchaseIn, TxProductionIn, TxReturnIn, TxTransferIn, TxAdjustmentIn,
		TxProductionOut, TxSalesOut, TxScrapOut, TxTransferOut, TxAdjustmentOut:
		return true
	}
	return false
}

// ReservationStatus 预留状态
type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationConsumed ReservationStatus = "consumed"
	ReservationReleased ReservationStatus = "released"
)

// CountStatus 盘点单状态
type CountStatus string

const (
	CountDraft           CountStatus = "draft"
	CountPendingApproval CountStatus = "pending_approval"
	CountCompleted       CountStatus = "completed"
	CountCancelled       CountStatus = "cancelled"
)

// AdjustmentDirection 盘点调整方向
type AdjustmentDirection string

const (
	AdjustIncrease AdjustmentDirection = "increase"
	AdjustDecrease AdjustmentDirection = "decrease"
)

// StationStatus 工位/设备状态
type StationStatus string

const (
	StationRunning     StationStatus = "running"
	StationIdle        StationStatus = "idle"
	StationFault       StationStatus = "fault"
	StationMaintenance StationStatus = "maintenance"
	StationBroken      StationStatus = "broken"
)

// AcceptsRelease 只有运行中或空闲的工位可下达工单
func (s StationStatus) AcceptsRelease() bool {
	switch s {
	case StationRunning, StationIdle:
		return true
	case StationFault, StationMaintenance, StationBroken:
		return false
	}
	return false
}

// ReportType 报工类型
type ReportType string

const (
	ReportNormal     ReportType = "normal"
	ReportAdditional ReportType = "additional"
	ReportRework     ReportType = "rework"
	ReportSpecial    ReportType = "special"
)

func (t ReportType) Valid() bool {
	switch t {
	case ReportNormal, ReportAdditional, ReportRework, ReportSpecial:
		return true
	}
	return false
}

// Shift 班次
type Shift string

const (
	ShiftDay   Shift = "day"
	ShiftNight Shift = "night"
	ShiftA     Shift = "shift_a"
	ShiftB     Shift = "shift_b"
)

func (s Shift) Valid() bool {
	switch s {
	case ShiftDay, ShiftNight, ShiftA, ShiftB:
		return true
	}
	return false
}
