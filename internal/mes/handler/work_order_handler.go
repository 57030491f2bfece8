package handler

import (
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/ericaxiaweilin/EngHub/internal/mes/service"
	"github.com/ericaxiaweilin/EngHub/internal/middleware"
	"github.com/gin-gonic/gin"
)

// WorkOrderHandler 工单
type WorkOrderHandler struct {
	base
	svc *service.Services
}

// List GET /work-orders
func (h *WorkOrderHandler) List(c *gin.Context) {
	result, err := h.svc.WorkOrder.List(c.Request.Context(), repository.WOListParams{
		FactoryCode: c.Query("factory_code"),
		Status:      c.Query("status"),
		ProductID:   c.Query("product_id"),
		StationID:   c.Query("station_id"),
		Priority:    c.Query("priority"),
		Keyword:     c.Query("keyword"),
		Page:        page(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, result)
}

// Summary GET /work-orders/summary
func (h *WorkOrderHandler) Summary(c *gin.Context) {
	rows, err := h.svc.WorkOrder.StatusSummary(c.Request.Context(), c.Query("factory_code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, rows)
}

// Create POST /work-orders
func (h *WorkOrderHandler) Create(c *gin.Context) {
	var req service.CreateWorkOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	wo, err := h.svc.WorkOrder.Create(c.Request.Context(), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Created(c, wo)
}

// Get GET /work-orders/:id
func (h *WorkOrderHandler) Get(c *gin.Context) {
	wo, err := h.svc.WorkOrder.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, wo)
}

// Update PUT /work-orders/:id
func (h *WorkOrderHandler) Update(c *gin.Context) {
	var req service.UpdateWorkOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	wo, err := h.svc.WorkOrder.Update(c.Request.Context(), c.Param("id"), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, wo)
}

// Progress GET /work-orders/:id/progress
func (h *WorkOrderHandler) Progress(c *gin.Context) {
	p, err := h.svc.WorkOrder.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, p)
}

// History GET /work-orders/:id/history
func (h *WorkOrderHandler) History(c *gin.Context) {
	logs, err := h.svc.Trace.History(c.Request.Context(), entity.EntityWorkOrder, c.Param("id"), page(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, logs)
}

// Release POST /work-orders/:id/release
func (h *WorkOrderHandler) Release(c *gin.Context) {
	wo, err := h.svc.WorkOrder.Release(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, wo)
}

// Start POST /work-orders/:id/start
func (h *WorkOrderHandler) Start(c *gin.Context) {
	wo, err := h.svc.WorkOrder.Start(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, wo)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// Hold POST /work-orders/:id/hold
func (h *WorkOrderHandler) Hold(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	wo, err := h.svc.WorkOrder.Hold(c.Request.Context(), c.Param("id"), req.Reason, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, wo)
}

// Resume POST /work-orders/:id/resume
func (h *WorkOrderHandler) Resume(c *gin.Context) {
	wo, err := h.svc.WorkOrder.Resume(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, wo)
}

// Complete POST /work-orders/:id/complete
// 请求体可带 warehouse_id，良品数量入成品仓
func (h *WorkOrderHandler) Complete(c *gin.Context) {
	var req service.CompleteWorkOrderRequest
	_ = c.ShouldBindJSON(&req)
	res, err := h.svc.Loop.CompleteWorkOrder(c.Request.Context(), c.Param("id"), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, res)
}

// Cancel POST /work-orders/:id/cancel
func (h *WorkOrderHandler) Cancel(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	wo, err := h.svc.WorkOrder.Cancel(c.Request.Context(), c.Param("id"), req.Reason, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, wo)
}

// Split POST /work-orders/:id/split
func (h *WorkOrderHandler) Split(c *gin.Context) {
	var req service.SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.svc.WorkOrder.Split(c.Request.Context(), c.Param("id"), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Created(c, res)
}

// Reservations GET /work-orders/:id/reservations
func (h *WorkOrderHandler) Reservations(c *gin.Context) {
	items, err := h.svc.Inventory.Reservations(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if items == nil {
		items = []entity.Reservation{}
	}
	Success(c, items)
}

// Reserve POST /work-orders/:id/reservations
func (h *WorkOrderHandler) Reserve(c *gin.Context) {
	var req service.ReserveRequest
	_ = c.ShouldBindJSON(&req)
	req.WorkOrderID = c.Param("id")
	if req.MaterialID == "" || !req.Quantity.IsPositive() {
		BadRequest(c, "material_id 和正数 quantity 必填")
		return
	}
	res, err := h.svc.Loop.ReserveForWorkOrder(c.Request.Context(), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Created(c, res)
}
