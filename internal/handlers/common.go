package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"freelancehub/internal/services"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int         `json:"pages"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid id",
			Message: "ID must be a valid number",
		})
		return 0, false
	}
	return uint(id), true
}

// statusFor 将领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrRuleNotFound),
		errors.Is(err, services.ErrProposalNotFound),
		errors.Is(err, services.ErrContractNotFound),
		errors.Is(err, services.ErrCampaignNotFound),
		errors.Is(err, services.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrContractNotSignable),
		errors.Is(err, services.ErrCampaignNotScheduled),
		errors.Is(err, services.ErrProposalNotAccepted):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidTrigger),
		errors.Is(err, services.ErrInvalidConditions),
		errors.Is(err, services.ErrInvalidActions),
		errors.Is(err, services.ErrUnknownAction),
		errors.Is(err, services.ErrNoRecipients),
		errors.Is(err, services.ErrInvalidContent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func pageParams(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return page, pageSize
}
