package handler

import (
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/ericaxiaweilin/EngHub/internal/mes/service"
	"github.com/ericaxiaweilin/EngHub/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// InventoryHandler 批次台账
type InventoryHandler struct {
	base
	svc *service.Services
}

// Inbound POST /inventory/inbound
func (h *InventoryHandler) Inbound(c *gin.Context) {
	var req service.InboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.svc.Inventory.Inbound(c.Request.Context(), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Created(c, res)
}

// Outbound POST /inventory/outbound
func (h *InventoryHandler) Outbound(c *gin.Context) {
	var req service.OutboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if req.Reference.Type == "" {
		req.Reference.Type = service.RefManual
	}
	tx, err := h.svc.Inventory.Outbound(c.Request.Context(), req, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Created(c, tx)
}

// Stock GET /inventory/stock?material_id=&warehouse_id=
func (h *InventoryHandler) Stock(c *gin.Context) {
	materialID := c.Query("material_id")
	if materialID == "" {
		BadRequest(c, "material_id 必填")
		return
	}
	s, err := h.svc.Inventory.Stock(c.Request.Context(), materialID, c.Query("warehouse_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, s)
}

// Available GET /inventory/available?material_id=&warehouse_id=&quantity=
func (h *InventoryHandler) Available(c *gin.Context) {
	qty, err := decimal.NewFromString(c.DefaultQuery("quantity", "0"))
	if err != nil {
		BadRequest(c, "quantity 格式错误")
		return
	}
	materialID := c.Query("material_id")
	if materialID == "" {
		BadRequest(c, "material_id 必填")
		return
	}
	ok, available, err := h.svc.Inventory.CheckAvailable(c.Request.Context(), materialID, c.Query("warehouse_id"), qty)
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, gin.H{
		"material_id": materialID,
		"requested":   qty,
		"available":   available,
		"sufficient":  ok,
	})
}

// Transactions GET /inventory/transactions
func (h *InventoryHandler) Transactions(c *gin.Context) {
	result, err := h.svc.Inventory.ListTransactions(c.Request.Context(), repository.TxListParams{
		MaterialID:    c.Query("material_id"),
		WarehouseID:   c.Query("warehouse_id"),
		TxType:        c.Query("tx_type"),
		WorkOrderID:   c.Query("work_order_id"),
		ReferenceType: c.Query("reference_type"),
		ReferenceID:   c.Query("reference_id"),
		Page:          page(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, result)
}

// ListBatches GET /inventory/batches
func (h *InventoryHandler) ListBatches(c *gin.Context) {
	result, err := h.svc.Inventory.ListBatches(c.Request.Context(), repository.BatchListParams{
		MaterialID:  c.Query("material_id"),
		WarehouseID: c.Query("warehouse_id"),
		Status:      c.Query("status"),
		Keyword:     c.Query("keyword"),
		NonZero:     c.Query("non_zero") == "true",
		Page:        page(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, result)
}

// GetBatch GET /inventory/batches/:code
func (h *InventoryHandler) GetBatch(c *gin.Context) {
	b, err := h.svc.Inventory.FindBatchByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, b)
}

// Trace GET /inventory/batches/:code/trace
func (h *InventoryHandler) Trace(c *gin.Context) {
	trace, err := h.svc.Trace.Batch(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, trace)
}

// SetBatchStatus PUT /inventory/batches/:code/status
func (h *InventoryHandler) SetBatchStatus(c *gin.Context) {
	var req struct {
		Status domain.BatchStatus `json:"status" binding:"required"`
		Reason string             `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	b, err := h.svc.Inventory.SetBatchStatus(c.Request.Context(), c.Param("code"), req.Status, req.Reason, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, b)
}
