package service

import (
	"context"

	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
)

// TraceService 批次追溯和操作历史，只读
type TraceService struct {
	repos *repository.Repositories
}

func NewTraceService(repos *repository.Repositories) *TraceService {
	return &TraceService{repos: repos}
}

// BatchTrace 一个批次的全部来龙去脉
type BatchTrace struct {
	Batch        *entity.InventoryBatch        `json:"batch"`
	Transactions []entity.InventoryTransaction `json:"transactions"`
	Reports      []entity.ProductionReport     `json:"reports"`
	Inspections  []entity.Inspection           `json:"inspections"`
	Defects      []entity.Defect               `json:"defects"`
}

// Batch 按批次号追溯：台账交易、消耗该批次的报工、检验、缺陷
func (s *TraceService) Batch(ctx context.Context, batchCode string) (*BatchTrace, error) {
	b, err := s.repos.Batch.FindByCode(ctx, batchCode)
	if err != nil {
		return nil, loadErr(err, entity.EntityBatch, batchCode)
	}
	txs, err := s.repos.Transaction.FindByBatch(ctx, b.ID)
	if err != nil {
		return nil, errs.Wrap(err, "trace transactions")
	}
	var reportIDs []string
	seen := map[string]bool{}
	for _, tx := range txs {
		if tx.ReferenceType == RefReport && !seen[tx.ReferenceID] {
			seen[tx.ReferenceID] = true
			reportIDs = append(reportIDs, tx.ReferenceID)
		}
	}
	reports, err := s.repos.Report.FindByIDs(ctx, reportIDs)
	if err != nil {
		return nil, errs.Wrap(err, "trace reports")
	}
	inspections, err := s.repos.Inspection.FindByBatchCode(ctx, b.BatchCode)
	if err != nil {
		return nil, errs.Wrap(err, "trace inspections")
	}
	defects, err := s.repos.Defect.FindByBatch(ctx, b.ID, b.BatchCode)
	if err != nil {
		return nil, errs.Wrap(err, "trace defects")
	}
	return &BatchTrace{
		Batch:        b,
		Transactions: nonNil(txs),
		Reports:      nonNil(reports),
		Inspections:  nonNil(inspections),
		Defects:      nonNil(defects),
	}, nil
}

// History 实体的操作日志
func (s *TraceService) History(ctx context.Context, entityType, entityID string, page repository.Page) (*ListResult[entity.ActivityLog], error) {
	items, total, err := s.repos.ActivityLog.FindByEntity(ctx, entityType, entityID, page)
	if err != nil {
		return nil, errs.Wrap(err, "load activity logs")
	}
	return newListResult(items, total, page), nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
