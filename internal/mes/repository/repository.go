package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/ericaxiaweilin/EngHub/internal/shared/database"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Repositories MES仓库集合
type Repositories struct {
	WorkOrder        *WorkOrderRepository
	Report           *ReportRepository
	Batch            *BatchRepository
	Transaction      *TransactionRepository
	Reservation      *ReservationRepository
	Count            *CountRepository
	Inspection       *InspectionRepository
	Defect           *DefectRepository
	CorrectiveAction *CorrectiveActionRepository
	ActivityLog      *ActivityLogRepository
}

// NewRepositories 创建MES仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		WorkOrder:        NewWorkOrderRepository(db),
		Report:           NewReportRepository(db),
		Batch:            NewBatchRepository(db),
		Transaction:      NewTransactionRepository(db),
		Reservation:      NewReservationRepository(db),
		Count:            NewCountRepository(db),
		Inspection:       NewInspectionRepository(db),
		Defect:           NewDefectRepository(db),
		CorrectiveAction: NewCorrectiveActionRepository(db),
		ActivityLog:      NewActivityLogRepository(db),
	}
}

// Page 分页参数
type Page struct {
	Page int
	Size int
}

func (p Page) normalize() (offset, limit int) {
	p = p.Normalized()
	return (p.Page - 1) * p.Size, p.Size
}

// Normalized 补齐默认页码和页大小
func (p Page) Normalized() Page {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Size <= 0 {
		p.Size = 20
	}
	if p.Size > 200 {
		p.Size = 200
	}
	return p
}

// base 所有仓库共用：优先使用 context 中的事务
type base struct {
	db *gorm.DB
}

func (b base) conn(ctx context.Context) *gorm.DB {
	return database.Conn(ctx, b.db)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func like(keyword string) string {
	return "%" + strings.ToLower(strings.TrimSpace(keyword)) + "%"
}
