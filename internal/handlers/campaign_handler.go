package handlers

import (
	"net/http"

	"freelancehub/internal/models"
	"freelancehub/internal/services"

	"github.com/gin-gonic/gin"
)

// CampaignHandler 邮件群发管理
type CampaignHandler struct {
	service *services.CampaignService
}

func NewCampaignHandler(service *services.CampaignService) *CampaignHandler {
	return &CampaignHandler{service: service}
}

// ListCampaigns 获取群发列表，可按 status 过滤
func (h *CampaignHandler) ListCampaigns(c *gin.Context) {
	campaigns, err := h.service.ListCampaigns(c.Request.Context(), c.Query("status"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list campaigns", Message: err.Error()})
		return
	}
	if campaigns == nil {
		campaigns = []models.EmailCampaign{}
	}
	c.JSON(http.StatusOK, campaigns)
}

// CreateCampaign 创建定时群发
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req services.CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	campaign, err := h.service.CreateCampaign(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to create campaign", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

// CancelCampaign 取消尚未开始的群发
func (h *CampaignHandler) CancelCampaign(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.service.CancelCampaign(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to cancel campaign", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "cancelled"})
}

// RegisterCampaignRoutes 注册路由
func RegisterCampaignRoutes(r *gin.RouterGroup, handler *CampaignHandler) {
	campaigns := r.Group("/campaigns")
	{
		campaigns.GET("", handler.ListCampaigns)
		campaigns.POST("", handler.CreateCampaign)
		campaigns.POST("/:id/cancel", handler.CancelCampaign)
	}
}
