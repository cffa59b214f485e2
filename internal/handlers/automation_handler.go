package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"freelancehub/internal/models"
	"freelancehub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AutomationHandler 规则管理、手动执行、审计日志查询与事件注入
type AutomationHandler struct {
	engine *services.AutomationEngine
	logger *logrus.Logger
}

func NewAutomationHandler(engine *services.AutomationEngine, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AutomationHandler{engine: engine, logger: logger}
}

// ListRules 获取规则列表，可按 user_id 与 trigger 过滤
func (h *AutomationHandler) ListRules(c *gin.Context) {
	var filter services.RuleFilter
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user_id", Message: err.Error()})
			return
		}
		filter.UserID = uint(id)
	}
	filter.Trigger = c.Query("trigger")

	rules, err := h.engine.Service().ListRules(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule 创建规则
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.engine.Service().CreateRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive 启用或停用规则
func (h *AutomationHandler) SetActive(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.engine.Service().SetRuleActive(c.Request.Context(), id, *req.Active)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

type runRequest struct {
	Payload map[string]interface{} `json:"payload"`
}

// RunNow 立即执行一条规则；动作失败时仍返回 200 与失败日志
func (h *AutomationHandler) RunNow(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req runRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
			return
		}
	}

	entry, err := h.engine.Service().RunRuleNow(c.Request.Context(), id, req.Payload)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to run rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, entry)
}

type adHocRequest struct {
	UserID  uint                   `json:"user_id"`
	Actions json.RawMessage        `json:"actions" binding:"required"`
	Payload map[string]interface{} `json:"payload"`
}

// ExecuteAdHoc 执行一次性动作文档
func (h *AutomationHandler) ExecuteAdHoc(c *gin.Context) {
	var req adHocRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	entry, err := h.engine.Service().ExecuteAdHoc(c.Request.Context(), req.UserID, string(req.Actions), req.Payload)
	if entry == nil && err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to execute actions", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ListLogs 分页查询审计日志
func (h *AutomationHandler) ListLogs(c *gin.Context) {
	page, pageSize := pageParams(c)
	filter := services.LogFilter{
		Status: c.Query("status"),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	for key, dst := range map[string]**uint{"rule_id": &filter.RuleID, "user_id": &filter.UserID} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid " + key, Message: err.Error()})
			return
		}
		u := uint(id)
		*dst = &u
	}
	for key, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid " + key, Message: "expected RFC3339 timestamp"})
			return
		}
		*dst = &ts
	}

	logs, total, err := h.engine.Service().ListLogs(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list logs", Message: err.Error()})
		return
	}
	if logs == nil {
		logs = []models.AutomationLog{}
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     logs,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    int((total + int64(pageSize) - 1) / int64(pageSize)),
	})
}

type emitRequest struct {
	Type    string                 `json:"type" binding:"required"`
	Payload map[string]interface{} `json:"payload"`
}

// EmitEvent 向事件总线注入一个事件，同步执行匹配的规则
func (h *AutomationHandler) EmitEvent(c *gin.Context) {
	var req emitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	t := services.EventType(req.Type)
	if !services.IsKnownEvent(t) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Unknown event type", Message: req.Type})
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]interface{}{}
	}

	h.engine.EmitEvent(c.Request.Context(), t, req.Payload)
	c.JSON(http.StatusAccepted, SuccessResponse{Message: "event dispatched", Data: gin.H{"type": req.Type}})
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.GET("", handler.ListRules)
		auto.POST("", handler.CreateRule)
		auto.GET("/logs", handler.ListLogs)
		auto.POST("/events", handler.EmitEvent)
		auto.POST("/execute", handler.ExecuteAdHoc)
		auto.PUT("/:id/active", handler.SetActive)
		auto.POST("/:id/run", handler.RunNow)
	}
}
