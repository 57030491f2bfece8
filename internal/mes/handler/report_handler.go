package handler

import (
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/ericaxiaweilin/EngHub/internal/mes/service"
	"github.com/ericaxiaweilin/EngHub/internal/middleware"
	"github.com/gin-gonic/gin"
)

// ReportHandler 报工
type ReportHandler struct {
	base
	svc *service.Services
}

// List GET /reports
func (h *ReportHandler) List(c *gin.Context) {
	result, err := h.svc.Reporting.List(c.Request.Context(), repository.ReportListParams{
		FactoryCode: c.Query("factory_code"),
		WorkOrderID: c.Query("work_order_id"),
		StationID:   c.Query("station_id"),
		ReportType:  c.Query("report_type"),
		ReportDate:  c.Query("report_date"),
		Shift:       c.Query("shift"),
		OperatorID:  c.Query("operator_id"),
		Page:        page(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, result)
}

// Create POST /reports
func (h *ReportHandler) Create(c *gin.Context) {
	var req service.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.svc.Loop.ReportProduction(c.Request.Context(), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Created(c, res)
}

// Daily GET /reports/daily?date=2026-03-02
func (h *ReportHandler) Daily(c *gin.Context) {
	report, err := h.svc.Reporting.DailySummary(c.Request.Context(), c.Query("factory_code"), c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, report)
}

// Get GET /reports/:id
func (h *ReportHandler) Get(c *gin.Context) {
	r, err := h.svc.Reporting.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, r)
}

// Transactions GET /reports/:id/transactions
// 报工及其修正产生的全部台账交易
func (h *ReportHandler) Transactions(c *gin.Context) {
	ctx := c.Request.Context()
	r, err := h.svc.Reporting.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	txs, err := h.svc.Inventory.TransactionsByReference(ctx, service.RefReport, r.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, txs)
}

// Amend POST /reports/:id/amend
func (h *ReportHandler) Amend(c *gin.Context) {
	var req service.AmendReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.svc.Loop.AmendReport(c.Request.Context(), c.Param("id"), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, res)
}

// Comment POST /reports/:id/comments
func (h *ReportHandler) Comment(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	comment, err := h.svc.Reporting.AddComment(c.Request.Context(), c.Param("id"), req.Content, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Created(c, comment)
}
