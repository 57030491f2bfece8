package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/ericaxiaweilin/EngHub/internal/mes/service"
	"github.com/ericaxiaweilin/EngHub/internal/middleware"
	"github.com/ericaxiaweilin/EngHub/internal/shared/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers 处理器集合
type Handlers struct {
	WorkOrder  *WorkOrderHandler
	Report     *ReportHandler
	Inventory  *InventoryHandler
	Count      *CountHandler
	Inspection *InspectionHandler
	Defect     *DefectHandler
	SSE        *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, hub *sse.Hub, log *zap.Logger) *Handlers {
	b := base{log: log.Named("http")}
	return &Handlers{
		WorkOrder:  &WorkOrderHandler{base: b, svc: svc},
		Report:     &ReportHandler{base: b, svc: svc},
		Inventory:  &InventoryHandler{base: b, svc: svc},
		Count:      &CountHandler{base: b, svc: svc},
		Inspection: &InspectionHandler{base: b, svc: svc},
		Defect:     &DefectHandler{base: b, svc: svc},
		SSE:        NewSSEHandler(hub),
	}
}

// Register 注册 /api/v1/mes 下的全部路由，调用方负责认证中间件
func (h *Handlers) Register(api *gin.RouterGroup) {
	wo := api.Group("/work-orders")
	{
		wo.GET("", h.WorkOrder.List)
		wo.POST("", h.WorkOrder.Create)
		wo.GET("/summary", h.WorkOrder.Summary)
		wo.GET("/:id", h.WorkOrder.Get)
		wo.PUT("/:id", h.WorkOrder.Update)
		wo.GET("/:id/progress", h.WorkOrder.Progress)
		wo.GET("/:id/history", h.WorkOrder.History)
		wo.POST("/:id/release", h.WorkOrder.Release)
		wo.POST("/:id/start", h.WorkOrder.Start)
		wo.POST("/:id/hold", h.WorkOrder.Hold)
		wo.POST("/:id/resume", h.WorkOrder.Resume)
		wo.POST("/:id/complete", h.WorkOrder.Complete)
		wo.POST("/:id/cancel", h.WorkOrder.Cancel)
		wo.POST("/:id/split", h.WorkOrder.Split)
		wo.GET("/:id/reservations", h.WorkOrder.Reservations)
		wo.POST("/:id/reservations", h.WorkOrder.Reserve)
	}

	reports := api.Group("/reports")
	{
		reports.GET("", h.Report.List)
		reports.POST("", h.Report.Create)
		reports.GET("/daily", h.Report.Daily)
		reports.GET("/:id", h.Report.Get)
		reports.GET("/:id/transactions", h.Report.Transactions)
		reports.POST("/:id/amend", h.Report.Amend)
		reports.POST("/:id/comments", h.Report.Comment)
	}

	inv := api.Group("/inventory")
	{
		inv.POST("/inbound", h.Inventory.Inbound)
		inv.POST("/outbound", h.Inventory.Outbound)
		inv.GET("/stock", h.Inventory.Stock)
		inv.GET("/available", h.Inventory.Available)
		inv.GET("/transactions", h.Inventory.Transactions)
		inv.GET("/batches", h.Inventory.ListBatches)
		inv.GET("/batches/:code", h.Inventory.GetBatch)
		inv.GET("/batches/:code/trace", h.Inventory.Trace)
		inv.PUT("/batches/:code/status", h.Inventory.SetBatchStatus)
	}

	counts := api.Group("/counts")
	{
		counts.GET("", h.Count.List)
		counts.POST("", h.Count.Create)
		counts.GET("/:id", h.Count.Get)
		counts.GET("/:id/sheet", h.Count.ExportSheet)
		counts.POST("/:id/import", h.Count.Import)
		counts.POST("/:id/submit", h.Count.Submit)
		counts.POST("/:id/cancel", h.Count.Cancel)
		counts.POST("/:id/apply", middleware.RequireRole(ApproverRole), h.Count.Apply)
	}

	ins := api.Group("/inspections")
	{
		ins.GET("", h.Inspection.List)
		ins.POST("", h.Inspection.Create)
		ins.GET("/:id", h.Inspection.Get)
		ins.POST("/:id/result", h.Inspection.SubmitResult)
		ins.POST("/:id/reject", h.Inspection.Reject)
		ins.POST("/:id/work-order", h.Inspection.AssociateWorkOrder)
		ins.POST("/:id/report", h.Inspection.UploadReport)
		ins.GET("/:id/report", h.Inspection.DownloadReport)
	}

	defects := api.Group("/defects")
	{
		defects.GET("", h.Defect.List)
		defects.POST("", h.Defect.Create)
		defects.GET("/statistics", h.Defect.Statistics)
		defects.GET("/:id", h.Defect.Get)
		defects.PUT("/:id/severity", h.Defect.UpdateSeverity)
		defects.POST("/:id/disposition", h.Defect.Dispose)
		defects.POST("/:id/close", h.Defect.Close)
		defects.GET("/:id/corrective-action", h.Defect.CorrectiveActionFor)
	}

	ca := api.Group("/corrective-actions")
	{
		ca.GET("", h.Defect.ListCorrectiveActions)
		ca.GET("/:id", h.Defect.GetCorrectiveAction)
		ca.POST("/:id/start", h.Defect.StartCorrectiveAction)
		ca.POST("/:id/complete", h.Defect.CompleteCorrectiveAction)
	}

	api.GET("/events", h.SSE.Stream)
}

// ApproverRole 盘点调整审批角色
const ApproverRole = "mes_count_approver"

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "success", Data: data})
}

// Error 错误响应，HTTP 状态码取业务码前三位
func Error(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = http.StatusInternalServerError
	}
	c.JSON(statusCode, Response{Code: code, Message: message, Data: data})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message, nil)
}

// 领域错误类别 → 业务码
var kindCodes = map[domain.Kind]int{
	domain.KindInvalidArgument:            40000,
	domain.KindMissingRequiredLink:        40001,
	domain.KindInvalidAssociation:         40002,
	domain.KindInvalidSplit:               40003,
	domain.KindInvalidDispositionQuantity: 40004,
	domain.KindNotFound:                   40400,
	domain.KindIllegalStateTransition:     40900,
	domain.KindAlreadyResolved:            40901,
	domain.KindInsufficientStock:          40902,
	domain.KindEquipmentUnavailable:       40903,
	domain.KindAmendmentWindowExpired:     40904,
	domain.KindCollaboratorUnavailable:    50300,
}

// base 各处理器共用的错误输出
type base struct {
	log *zap.Logger
}

// fail 领域错误按类别返回，其余记日志后返回 500
func (b base) fail(c *gin.Context, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		code, ok := kindCodes[de.Kind]
		if !ok {
			code = 50000
		}
		if code >= 50000 {
			b.log.Warn("collaborator failure",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetString("request_id")),
				errs.Field(err))
		}
		Error(c, code, de.Error(), de)
		return
	}
	b.log.Error("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", c.GetString("request_id")),
		errs.Field(err))
	Error(c, 50000, "内部错误", nil)
}

// page 解析 page / page_size 查询参数
func page(c *gin.Context) repository.Page {
	p, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return repository.Page{Page: p, Size: size}
}
