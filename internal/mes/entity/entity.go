package entity

import (
	"github.com/ericaxiaweilin/EngHub/internal/shared/sequence"
	"gorm.io/gorm"
)

// AutoMigrate 自动迁移所有MES表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// 生产
		&WorkOrder{},
		&ProductionReport{},
		&ReportMaterial{},
		&ReportAmendment{},
		&ReportComment{},

		// 库存
		&InventoryBatch{},
		&InventoryTransaction{},
		&InventoryTransactionLine{},
		&Reservation{},
		&ReservationLine{},
		&InventoryCount{},
		&InventoryCountItem{},

		// 质量
		&Inspection{},
		&Defect{},
		&CorrectiveAction{},

		// 公共
		&ActivityLog{},
		&sequence.Sequence{},
	)
}
