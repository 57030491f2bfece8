package service

import (
	"context"
	"errors"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/mes/aql"
	"github.com/ericaxiaweilin/EngHub/internal/mes/collaborator"
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/event"
	"github.com/ericaxiaweilin/EngHub/internal/mes/policy"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/ericaxiaweilin/EngHub/internal/shared/database"
	"github.com/ericaxiaweilin/EngHub/internal/shared/sequence"
	"github.com/ericaxiaweilin/EngHub/internal/shared/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Clock 当前时间来源
type Clock func() time.Time

// Deps 服务依赖
type Deps struct {
	DB          *gorm.DB
	Repos       *repository.Repositories
	Policy      *policy.Policy
	Counter     sequence.Counter
	MasterData  collaborator.MasterData
	Equipment   collaborator.Equipment
	Store       storage.ObjectStore // 可为空
	Events      event.Publisher
	Logger      *zap.Logger
	FactoryCode string
}

// Services MES服务集合
type Services struct {
	WorkOrder  *WorkOrderService
	Reporting  *ReportingService
	Inventory  *InventoryService
	Count      *CountService
	Inspection *InspectionService
	Defect     *DefectService
	Trace      *TraceService
	Loop       *ControlLoop

	core *core
}

// NewServices 创建MES服务集合
func NewServices(d Deps) *Services {
	if d.Policy == nil {
		d.Policy = policy.Default()
	}
	if d.Events == nil {
		d.Events = event.Nop{}
	}
	if d.Counter == nil {
		d.Counter = sequence.NewDBCounter(d.DB)
	}
	if d.FactoryCode == "" {
		d.FactoryCode = "F01"
	}
	c := &core{
		db:      d.DB,
		uow:     database.NewUnitOfWork(d.DB),
		logs:    d.Repos.ActivityLog,
		codes:   NewCodeGenerator(d.Counter),
		events:  d.Events,
		log:     d.Logger,
		factory: d.FactoryCode,
		clock:   time.Now,
	}
	r := d.Repos
	s := &Services{
		WorkOrder:  NewWorkOrderService(c, r.WorkOrder, d.Equipment, d.Policy),
		Reporting:  NewReportingService(c, r.Report, d.MasterData, d.Policy),
		Inventory:  NewInventoryService(c, r.Batch, r.Transaction, r.Reservation),
		Count:      NewCountService(c, r.Count, r.Batch),
		Inspection: NewInspectionService(c, r.Inspection, aql.NewEngine(d.Policy), d.Policy, d.Store),
		Defect:     NewDefectService(c, r.Defect, r.CorrectiveAction, d.Policy),
		Trace:      NewTraceService(r),
		core:       c,
	}
	s.Loop = NewControlLoop(c.uow, s, d.Logger)
	return s
}

// SetClock 替换时间来源，所有服务共享
func (s *Services) SetClock(now Clock) {
	s.core.clock = now
}

// core 各服务共用的基础设施：事务、编码、操作日志、事件
type core struct {
	db      *gorm.DB
	uow     database.UnitOfWork
	logs    *repository.ActivityLogRepository
	codes   *CodeGenerator
	events  event.Publisher
	log     *zap.Logger
	factory string
	clock   Clock
}

func (c *core) now() time.Time {
	return c.clock().UTC()
}

func (c *core) factoryOr(code string) string {
	if code != "" {
		return code
	}
	return c.factory
}

// record 写操作日志，与业务数据同一事务
func (c *core) record(ctx context.Context, e repository.Entry) error {
	return errs.Wrap(c.logs.LogActivity(ctx, e), "write activity log")
}

// publish 事务提交后发布事件；发布失败只记日志
func (c *core) publish(ctx context.Context, e event.Event) {
	pubCtx := context.WithoutCancel(ctx)
	database.AfterCommit(ctx, func() {
		if err := c.events.Publish(pubCtx, e); err != nil {
			c.log.Warn("publish event failed",
				zap.String("event", e.Type), zap.String("entity_id", e.EntityID), errs.Field(err))
		}
	})
}

// loadErr 将仓库的未找到错误转换为领域错误
func loadErr(err error, entityName, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.NotFound(entityName, id)
	}
	return errs.Wrapf(err, "load %s %s", entityName, id)
}

// ListResult 分页结果
type ListResult[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"page_size"`
}

func newListResult[T any](items []T, total int64, page repository.Page) *ListResult[T] {
	if items == nil {
		items = []T{}
	}
	page = page.Normalized()
	return &ListResult[T]{Items: items, Total: total, Page: page.Page, Size: page.Size}
}
