package handler

import (
	"path/filepath"
	"strings"

	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/ericaxiaweilin/EngHub/internal/mes/service"
	"github.com/ericaxiaweilin/EngHub/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// CountHandler 库存盘点
type CountHandler struct {
	base
	svc *service.Services
}

// List GET /counts
func (h *CountHandler) List(c *gin.Context) {
	result, err := h.svc.Count.List(c.Request.Context(), repository.CountListParams{
		WarehouseID: c.Query("warehouse_id"),
		Status:      c.Query("status"),
		Page:        page(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, result)
}

// Create POST /counts
func (h *CountHandler) Create(c *gin.Context) {
	var req service.CreateCountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	count, err := h.svc.Count.Create(c.Request.Context(), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Created(c, count)
}

// Get GET /counts/:id
func (h *CountHandler) Get(c *gin.Context) {
	count, err := h.svc.Count.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, gin.H{"count": count, "summary": service.CountSummary(count)})
}

// ExportSheet GET /counts/:id/sheet
func (h *CountHandler) ExportSheet(c *gin.Context) {
	f, filename, err := h.svc.Count.ExportCountSheet(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	if err := f.Write(c.Writer); err != nil {
		h.log.Warn("write count sheet failed", zap.String("count_id", c.Param("id")), errs.Field(err))
	}
}

// Import POST /counts/:id/import
// 接收回填的盘点表（.xlsx）或手持终端导出的 GBK 文本（.txt/.tsv），解析后提交实盘结果
func (h *CountHandler) Import(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "请上传文件")
		return
	}
	src, err := fh.Open()
	if err != nil {
		BadRequest(c, "读取上传文件失败: "+err.Error())
		return
	}
	defer src.Close()

	var items []service.CountResultItem
	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".xlsx":
		f, err := excelize.OpenReader(src)
		if err != nil {
			BadRequest(c, "无法解析Excel文件: "+err.Error())
			return
		}
		defer f.Close()
		items, err = service.ParseCountSheet(f)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
	case ".txt", ".tsv":
		items, err = service.ParseCountTSV(src)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
	default:
		BadRequest(c, "仅支持 .xlsx / .txt / .tsv 文件")
		return
	}
	if len(items) == 0 {
		BadRequest(c, "文件中没有实盘数据")
		return
	}

	count, err := h.svc.Count.SubmitCountResult(c.Request.Context(), c.Param("id"), service.SubmitCountRequest{Items: items}, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, gin.H{"count": count, "summary": service.CountSummary(count)})
}

// Submit POST /counts/:id/submit
func (h *CountHandler) Submit(c *gin.Context) {
	var req service.SubmitCountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	count, err := h.svc.Count.SubmitCountResult(c.Request.Context(), c.Param("id"), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, gin.H{"count": count, "summary": service.CountSummary(count)})
}

// Cancel POST /counts/:id/cancel
func (h *CountHandler) Cancel(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	count, err := h.svc.Count.Cancel(c.Request.Context(), c.Param("id"), req.Reason, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, count)
}

// Apply POST /counts/:id/apply
// 审批通过，按差异生成调整交易
func (h *CountHandler) Apply(c *gin.Context) {
	res, err := h.svc.Loop.ApplyCountAdjustments(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, res)
}
