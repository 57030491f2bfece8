package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/mes/aql"
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/mes/event"
	"github.com/ericaxiaweilin/EngHub/internal/mes/policy"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/ericaxiaweilin/EngHub/internal/shared/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultAQLLevel = "1.0"

// InspectionService 检验单：抽样方案、判定、关联
type InspectionService struct {
	*core
	repo   *repository.InspectionRepository
	engine *aql.Engine
	policy *policy.Policy
	store  storage.ObjectStore
}

func NewInspectionService(c *core, repo *repository.InspectionRepository, engine *aql.Engine, p *policy.Policy, store storage.ObjectStore) *InspectionService {
	return &InspectionService{core: c, repo: repo, engine: engine, policy: p, store: store}
}

type CreateInspectionRequest struct {
	FactoryCode     string                 `json:"factory_code"`
	Type            string                 `json:"type" binding:"required"`
	MaterialID      string                 `json:"material_id"`
	MaterialCode    string                 `json:"material_code"`
	WorkOrderID     string                 `json:"work_order_id"`
	WorkOrderCode   string                 `json:"work_order_code"`
	BatchID         string                 `json:"batch_id"`
	BatchCode       string                 `json:"batch_code"`
	StationID       string                 `json:"station_id"`
	SupplierID      string                 `json:"supplier_id"`
	BatchSize       int                    `json:"batch_size" binding:"required"`
	AQLLevel        string                 `json:"aql_level"`
	InspectionLevel domain.InspectionLevel `json:"inspection_level"`
	Remark          string                 `json:"remark"`
}

// Create 建检验单。来料检验必须关联物料，其余类型必须关联工单；
// 样本量在建单时即算出。
func (s *InspectionService) Create(ctx context.Context, req CreateInspectionRequest, userID string) (*entity.Inspection, error) {
	typ, ok := domain.ParseInspectionType(req.Type)
	if !ok {
		return nil, domain.InvalidArgument(entity.EntityInspection, "create", fmt.Sprintf("unknown inspection type %q", req.Type))
	}
	if typ.RequiresMaterial() && strings.TrimSpace(req.MaterialID) == "" {
		return nil, domain.NewError(domain.KindMissingRequiredLink, entity.EntityInspection, "", "", "create",
			"incoming inspection requires material_id")
	}
	if !typ.RequiresMaterial() && strings.TrimSpace(req.WorkOrderID) == "" {
		return nil, domain.NewError(domain.KindMissingRequiredLink, entity.EntityInspection, "", "", "create",
			fmt.Sprintf("%s inspection requires work_order_id", typ))
	}
	if req.BatchSize <= 0 {
		return nil, domain.InvalidArgument(entity.EntityInspection, "create", "batch_size must be positive")
	}
	if req.AQLLevel == "" {
		req.AQLLevel = defaultAQLLevel
	}
	level, err := s.engine.NormalizeLevel(req.AQLLevel)
	if err != nil {
		return nil, err
	}
	if req.InspectionLevel == "" {
		req.InspectionLevel = s.policy.DefaultInspectionLevel
	}
	if !req.InspectionLevel.Valid() {
		return nil, domain.InvalidArgument(entity.EntityInspection, "create", fmt.Sprintf("unknown inspection level %q", req.InspectionLevel))
	}

	sample := s.engine.SampleFor(req.BatchSize)
	limits := s.engine.Limits(sample.Code, level)
	var in *entity.Inspection
	err = s.uow.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		factory := s.factoryOr(req.FactoryCode)
		code, err := s.codes.Inspection(ctx, factory, typ, now)
		if err != nil {
			return err
		}
		in = &entity.Inspection{
			ID:              uuid.New().String(),
			Code:            code,
			FactoryCode:     factory,
			Type:            typ,
			MaterialID:      req.MaterialID,
			MaterialCode:    req.MaterialCode,
			WorkOrderID:     req.WorkOrderID,
			WorkOrderCode:   req.WorkOrderCode,
			BatchID:         req.BatchID,
			BatchCode:       req.BatchCode,
			StationID:       req.StationID,
			SupplierID:      req.SupplierID,
			BatchSize:       req.BatchSize,
			AQLLevel:        level,
			InspectionLevel: req.InspectionLevel,
			SampleSizeCode:  sample.Code,
			SampleSize:      sample.Size,
			Ac:              limits.Ac,
			Re:              limits.Re,
			Status:          domain.InspectionPending,
			Remark:          req.Remark,
			CreatedBy:       userID,
			CreatedAt:       now,
		}
		if err := s.repo.Create(ctx, in); err != nil {
			return errs.Wrapf(err, "create inspection %s", code)
		}
		if err := s.record(ctx, repository.Entry{
			EntityType: entity.EntityInspection, EntityID: in.ID, EntityCode: in.Code,
			Action: "create", ToStatus: string(in.Status),
			Content: fmt.Sprintf("批量%d 字码%s 样本%d AQL%s Ac=%d Re=%d", in.BatchSize, in.SampleSizeCode, in.SampleSize, in.AQLLevel, in.Ac, in.Re),
			OperatorID: userID,
		}); err != nil {
			return err
		}
		s.publish(ctx, s.inspectionEvent(event.InspectionCreated, in))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return in, nil
}

type SubmitInspectionRequest struct {
	InspectedQty   int    `json:"inspected_qty"`
	DefectiveQty   int    `json:"defective_qty"`
	DefectCategory string `json:"defect_category"`
	Remark         string `json:"remark"`
}

// DefectTrigger 判定不合格后交给缺陷管理的建单指令
type DefectTrigger struct {
	InspectionID   string
	InspectionCode string
	FactoryCode    string
	Category       string
	Quantity       int64
	WorkOrderID    string
	MaterialID     string
	BatchID        string
	BatchCode      string
	StationID      string
}

// InspectionOutcome 提交结果的返回；DefectTrigger 仅在不合格时非空
type InspectionOutcome struct {
	Inspection    *entity.Inspection `json:"inspection"`
	Judgment      aql.Judgment       `json:"judgment"`
	DefectTrigger *DefectTrigger     `json:"-"`
}

// SubmitResult 录入检验结果并判定。判定只取决于批量、不良数和 AQL，不可人工改判；
// 已判定的检验单再次提交返回 AlreadyResolved。
func (s *InspectionService) SubmitResult(ctx context.Context, id string, req SubmitInspectionRequest, userID string) (*InspectionOutcome, error) {
	var out *InspectionOutcome
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		in, err := s.repo.FindForUpdate(ctx, id)
		if err != nil {
			return loadErr(err, entity.EntityInspection, id)
		}
		if in.Status.Resolved() {
			return domain.NewError(domain.KindAlreadyResolved, entity.EntityInspection, in.ID, string(in.Status), "submit_result",
				fmt.Sprintf("judged %s", in.Status))
		}
		if req.InspectedQty < 0 || req.DefectiveQty < 0 {
			return domain.NewError(domain.KindInvalidArgument, entity.EntityInspection, in.ID, string(in.Status), "submit_result",
				"quantities must not be negative")
		}
		if req.InspectedQty == 0 {
			req.InspectedQty = in.SampleSize
		}
		if req.DefectiveQty > req.InspectedQty {
			return domain.NewError(domain.KindInvalidArgument, entity.EntityInspection, in.ID, string(in.Status), "submit_result",
				fmt.Sprintf("defective %d exceeds inspected %d", req.DefectiveQty, req.InspectedQty))
		}

		j, err := s.engine.Evaluate(in.BatchSize, req.DefectiveQty, in.AQLLevel)
		if err != nil {
			return err
		}
		now := s.now()
		from := in.Status
		in.InspectedQty = req.InspectedQty
		in.DefectiveQty = req.DefectiveQty
		in.DefectCategory = req.DefectCategory
		in.InspectorID = userID
		in.InspectedAt = &now
		if req.Remark != "" {
			in.Remark = req.Remark
		}
		in.Status = domain.InspectionPassed
		if j.Result == aql.Fail {
			in.Status = domain.InspectionFailed
		}
		if err := s.repo.Update(ctx, in); err != nil {
			return errs.Wrapf(err, "update inspection %s", in.Code)
		}
		if err := s.record(ctx, repository.Entry{
			EntityType: entity.EntityInspection, EntityID: in.ID, EntityCode: in.Code,
			Action: "submit_result", FromStatus: string(from), ToStatus: string(in.Status),
			Content:    fmt.Sprintf("检验%d 不良%d Ac=%d Re=%d", in.InspectedQty, in.DefectiveQty, j.Ac, j.Re),
			OperatorID: userID,
		}); err != nil {
			return err
		}
		s.log.Info("inspection judged",
			zap.String("code", in.Code), zap.String("result", string(j.Result)),
			zap.Int("defective", in.DefectiveQty), zap.Int("ac", j.Ac))
		s.publish(ctx, s.inspectionEvent(event.InspectionResolved, in))

		out = &InspectionOutcome{Inspection: in, Judgment: j}
		if in.Status == domain.InspectionFailed {
			out.DefectTrigger = &DefectTrigger{
				InspectionID:   in.ID,
				InspectionCode: in.Code,
				FactoryCode:    in.FactoryCode,
				Category:       in.DefectCategory,
				Quantity:       int64(in.DefectiveQty),
				WorkOrderID:    in.WorkOrderID,
				MaterialID:     in.MaterialID,
				BatchID:        in.BatchID,
				BatchCode:      in.BatchCode,
				StationID:      in.StationID,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LinkDefect 记录检验单触发的缺陷（检验 → 缺陷单向引用）
func (s *InspectionService) LinkDefect(ctx context.Context, in *entity.Inspection, defectID string) error {
	if in.DefectID == defectID {
		return nil
	}
	in.DefectID = defectID
	return errs.Wrapf(s.repo.Update(ctx, in), "link defect to inspection %s", in.Code)
}

// Reject 不合格来料判退
func (s *InspectionService) Reject(ctx context.Context, id, reason, userID string) (*entity.Inspection, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.InvalidArgument(entity.EntityInspection, "reject", "reason is required")
	}
	var in *entity.Inspection
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if in, err = s.repo.FindForUpdate(ctx, id); err != nil {
			return loadErr(err, entity.EntityInspection, id)
		}
		if in.Type != domain.InspectionIncoming || in.Status != domain.InspectionFailed {
			return domain.IllegalTransition(entity.EntityInspection, in.ID, string(in.Status), "reject")
		}
		from := in.Status
		in.Status = domain.InspectionRejected
		in.RejectReason = reason
		if err := s.repo.Update(ctx, in); err != nil {
			return errs.Wrapf(err, "update inspection %s", in.Code)
		}
		return s.record(ctx, repository.Entry{
			EntityType: entity.EntityInspection, EntityID: in.ID, EntityCode: in.Code,
			Action: "reject", FromStatus: string(from), ToStatus: string(in.Status),
			Content: reason, OperatorID: userID,
		})
	})
	if err != nil {
		return nil, err
	}
	return in, nil
}

// AssociateWorkOrder 来料检验补关联工单，只允许关联一次
func (s *InspectionService) AssociateWorkOrder(ctx context.Context, id string, wo *entity.WorkOrder, userID string) (*entity.Inspection, error) {
	var in *entity.Inspection
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if in, err = s.repo.FindForUpdate(ctx, id); err != nil {
			return loadErr(err, entity.EntityInspection, id)
		}
		if in.Type != domain.InspectionIncoming {
			return domain.NewError(domain.KindInvalidAssociation, entity.EntityInspection, in.ID, string(in.Status), "associate_work_order",
				fmt.Sprintf("%s inspection is bound to its work order at creation", in.Type))
		}
		if in.WorkOrderID != "" {
			return domain.NewError(domain.KindInvalidAssociation, entity.EntityInspection, in.ID, string(in.Status), "associate_work_order",
				fmt.Sprintf("already associated with %s", in.WorkOrderCode))
		}
		in.WorkOrderID = wo.ID
		in.WorkOrderCode = wo.Code
		if err := s.repo.Update(ctx, in); err != nil {
			return errs.Wrapf(err, "update inspection %s", in.Code)
		}
		return s.record(ctx, repository.Entry{
			EntityType: entity.EntityInspection, EntityID: in.ID, EntityCode: in.Code,
			Action: "associate_work_order", Content: wo.Code, OperatorID: userID,
		})
	})
	if err != nil {
		return nil, err
	}
	return in, nil
}

// AttachReport 上传检验报告附件
func (s *InspectionService) AttachReport(ctx context.Context, id, filename string, r io.Reader, size int64, contentType, userID string) (*entity.Inspection, error) {
	if s.store == nil {
		return nil, domain.CollaboratorUnavailable("object_storage", "attach_report", errors.New("object storage not configured"))
	}
	in, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	name := storage.ObjectName("inspections/"+in.Code, filename, s.now())
	if _, err := s.store.Put(ctx, name, r, size, contentType); err != nil {
		return nil, domain.CollaboratorUnavailable("object_storage", "attach_report", err)
	}
	err = s.uow.WithTx(ctx, func(ctx context.Context) error {
		if in, err = s.repo.FindForUpdate(ctx, id); err != nil {
			return loadErr(err, entity.EntityInspection, id)
		}
		in.ReportURL = name
		if err := s.repo.Update(ctx, in); err != nil {
			return errs.Wrapf(err, "update inspection %s", in.Code)
		}
		return s.record(ctx, repository.Entry{
			EntityType: entity.EntityInspection, EntityID: in.ID, EntityCode: in.Code,
			Action: "attach_report", Content: filename, OperatorID: userID,
		})
	})
	if err != nil {
		return nil, err
	}
	return in, nil
}

// OpenReport 读取检验报告附件
func (s *InspectionService) OpenReport(ctx context.Context, id string) (io.ReadCloser, string, error) {
	in, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if in.ReportURL == "" {
		return nil, "", domain.NewError(domain.KindNotFound, entity.EntityInspection, in.ID, string(in.Status), "open_report", "no report attached")
	}
	if s.store == nil {
		return nil, "", domain.CollaboratorUnavailable("object_storage", "open_report", errors.New("object storage not configured"))
	}
	rc, err := s.store.Get(ctx, in.ReportURL)
	if err != nil {
		return nil, "", domain.CollaboratorUnavailable("object_storage", "open_report", err)
	}
	return rc, in.ReportURL, nil
}

func (s *InspectionService) Get(ctx context.Context, id string) (*entity.Inspection, error) {
	in, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, entity.EntityInspection, id)
	}
	return in, nil
}

// Lock 加锁读取检验单
func (s *InspectionService) Lock(ctx context.Context, id string) (*entity.Inspection, error) {
	in, err := s.repo.FindForUpdate(ctx, id)
	if err != nil {
		return nil, loadErr(err, entity.EntityInspection, id)
	}
	return in, nil
}

func (s *InspectionService) List(ctx context.Context, params repository.InspectionListParams) (*ListResult[entity.Inspection], error) {
	items, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, errs.Wrap(err, "list inspections")
	}
	return newListResult(items, total, params.Page), nil
}

func (s *InspectionService) inspectionEvent(typ string, in *entity.Inspection) event.Event {
	return event.New(typ, in.FactoryCode, entity.EntityInspection, in.ID, in.Code, map[string]interface{}{
		"type":          in.Type,
		"status":        in.Status,
		"work_order_id": in.WorkOrderID,
		"material_id":   in.MaterialID,
		"batch_code":    in.BatchCode,
		"sample_size":   in.SampleSize,
		"defective_qty": in.DefectiveQty,
	})
}
