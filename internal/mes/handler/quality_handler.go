package handler

import (
	"io"
	"mime"
	"path/filepath"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/ericaxiaweilin/EngHub/internal/mes/service"
	"github.com/ericaxiaweilin/EngHub/internal/middleware"
	"github.com/gin-gonic/gin"
)

// 检验报告附件上限
const maxReportSize = 20 << 20

// InspectionHandler 检验
type InspectionHandler struct {
	base
	svc *service.Services
}

// List GET /inspections
func (h *InspectionHandler) List(c *gin.Context) {
	result, err := h.svc.Inspection.List(c.Request.Context(), repository.InspectionListParams{
		FactoryCode: c.Query("factory_code"),
		Type:        c.Query("type"),
		Status:      c.Query("status"),
		WorkOrderID: c.Query("work_order_id"),
		MaterialID:  c.Query("material_id"),
		BatchCode:   c.Query("batch_code"),
		Keyword:     c.Query("keyword"),
		Page:        page(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, result)
}

// Create POST /inspections
func (h *InspectionHandler) Create(c *gin.Context) {
	var req service.CreateInspectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	in, err := h.svc.Loop.CreateInspection(c.Request.Context(), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Created(c, in)
}

// Get GET /inspections/:id
func (h *InspectionHandler) Get(c *gin.Context) {
	in, err := h.svc.Inspection.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, in)
}

// SubmitResult POST /inspections/:id/result
func (h *InspectionHandler) SubmitResult(c *gin.Context) {
	var req service.SubmitInspectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.svc.Loop.SubmitInspectionResult(c.Request.Context(), c.Param("id"), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, res)
}

// Reject POST /inspections/:id/reject
func (h *InspectionHandler) Reject(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	in, err := h.svc.Inspection.Reject(c.Request.Context(), c.Param("id"), req.Reason, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, in)
}

// AssociateWorkOrder POST /inspections/:id/work-order
func (h *InspectionHandler) AssociateWorkOrder(c *gin.Context) {
	var req struct {
		WorkOrderID string `json:"work_order_id"`
	}
	_ = c.ShouldBindJSON(&req)
	in, err := h.svc.Loop.AssociateWorkOrder(c.Request.Context(), c.Param("id"), req.WorkOrderID, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, in)
}

// UploadReport POST /inspections/:id/report (multipart, 字段 file)
func (h *InspectionHandler) UploadReport(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "请上传文件")
		return
	}
	if fh.Size > maxReportSize {
		BadRequest(c, "文件超过 20MB")
		return
	}
	src, err := fh.Open()
	if err != nil {
		BadRequest(c, "读取上传文件失败: "+err.Error())
		return
	}
	defer src.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(fh.Filename))
	}
	in, err := h.svc.Inspection.AttachReport(c.Request.Context(), c.Param("id"), fh.Filename, src, fh.Size, contentType, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, in)
}

// DownloadReport GET /inspections/:id/report
func (h *InspectionHandler) DownloadReport(c *gin.Context) {
	rc, name, err := h.svc.Inspection.OpenReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", "attachment; filename=\""+filepath.Base(name)+"\"")
	c.Status(200)
	io.Copy(c.Writer, rc)
}

// DefectHandler 缺陷与纠正措施
type DefectHandler struct {
	base
	svc *service.Services
}

func defectParams(c *gin.Context) repository.DefectListParams {
	return repository.DefectListParams{
		FactoryCode:  c.Query("factory_code"),
		Type:         c.Query("type"),
		Severity:     c.Query("severity"),
		Status:       c.Query("status"),
		WorkOrderID:  c.Query("work_order_id"),
		InspectionID: c.Query("inspection_id"),
		StationID:    c.Query("station_id"),
		MaterialID:   c.Query("material_id"),
		CAStatus:     c.Query("ca_status"),
		Page:         page(c),
	}
}

// List GET /defects
func (h *DefectHandler) List(c *gin.Context) {
	result, err := h.svc.Defect.List(c.Request.Context(), defectParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, result)
}

// Statistics GET /defects/statistics
func (h *DefectHandler) Statistics(c *gin.Context) {
	stats, err := h.svc.Defect.Statistics(c.Request.Context(), defectParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, stats)
}

// Create POST /defects
func (h *DefectHandler) Create(c *gin.Context) {
	var req service.CreateDefectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.svc.Defect.Create(c.Request.Context(), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Created(c, res)
}

// Get GET /defects/:id
func (h *DefectHandler) Get(c *gin.Context) {
	d, err := h.svc.Defect.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, d)
}

// UpdateSeverity PUT /defects/:id/severity
func (h *DefectHandler) UpdateSeverity(c *gin.Context) {
	var req struct {
		Severity domain.Severity `json:"severity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.svc.Defect.UpdateSeverity(c.Request.Context(), c.Param("id"), req.Severity, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, res)
}

// Dispose POST /defects/:id/disposition
func (h *DefectHandler) Dispose(c *gin.Context) {
	var req service.SubmitDispositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.svc.Loop.SubmitDisposition(c.Request.Context(), c.Param("id"), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, res)
}

// Close POST /defects/:id/close
func (h *DefectHandler) Close(c *gin.Context) {
	var req struct {
		Remark string `json:"remark"`
	}
	_ = c.ShouldBindJSON(&req)
	d, err := h.svc.Defect.Close(c.Request.Context(), c.Param("id"), req.Remark, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, d)
}

// CorrectiveActionFor GET /defects/:id/corrective-action
func (h *DefectHandler) CorrectiveActionFor(c *gin.Context) {
	ca, err := h.svc.Defect.CorrectiveActionFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if ca == nil {
		Error(c, 40400, "该缺陷未触发纠正措施", nil)
		return
	}
	Success(c, ca)
}

// ListCorrectiveActions GET /corrective-actions
func (h *DefectHandler) ListCorrectiveActions(c *gin.Context) {
	result, err := h.svc.Defect.ListCorrectiveActions(c.Request.Context(), repository.CAListParams{
		FactoryCode: c.Query("factory_code"),
		Status:      c.Query("status"),
		Page:        page(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, result)
}

// GetCorrectiveAction GET /corrective-actions/:id
func (h *DefectHandler) GetCorrectiveAction(c *gin.Context) {
	ca, err := h.svc.Defect.GetCorrectiveAction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, ca)
}

// StartCorrectiveAction POST /corrective-actions/:id/start
func (h *DefectHandler) StartCorrectiveAction(c *gin.Context) {
	var req service.StartCorrectiveActionRequest
	_ = c.ShouldBindJSON(&req)
	ca, err := h.svc.Defect.StartCorrectiveAction(c.Request.Context(), c.Param("id"), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, ca)
}

// CompleteCorrectiveAction POST /corrective-actions/:id/complete
func (h *DefectHandler) CompleteCorrectiveAction(c *gin.Context) {
	var req service.CompleteCorrectiveActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	ca, err := h.svc.Defect.CompleteCorrectiveAction(c.Request.Context(), c.Param("id"), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, ca)
}
