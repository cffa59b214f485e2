package handlers

import (
	"net/http"

	"freelancehub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MarketplaceHandler 投标接受与合同签署
type MarketplaceHandler struct {
	proposals *services.ProposalService
	contracts *services.ContractService
	logger    *logrus.Logger
}

func NewMarketplaceHandler(proposals *services.ProposalService, contracts *services.ContractService, logger *logrus.Logger) *MarketplaceHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MarketplaceHandler{proposals: proposals, contracts: contracts, logger: logger}
}

// AcceptProposal 接受投标，随后自动生成合同
// @Router /api/proposals/{id}/accept [post]
func (h *MarketplaceHandler) AcceptProposal(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.proposals.AcceptProposal(c.Request.Context(), id)
	if err != nil {
		h.logger.Errorf("Failed to accept proposal %d: %v", id, err)
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to accept proposal", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetContract 获取合同详情
// @Router /api/contracts/{id} [get]
func (h *MarketplaceHandler) GetContract(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	contract, err := h.contracts.GetContract(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Contract not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, contract)
}

// SignContract 签署合同，随后自动生成首期发票
// @Router /api/contracts/{id}/sign [post]
func (h *MarketplaceHandler) SignContract(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	contract, err := h.contracts.SignContract(c.Request.Context(), id)
	if err != nil {
		h.logger.Errorf("Failed to sign contract %d: %v", id, err)
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to sign contract", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, contract)
}

// RegisterMarketplaceRoutes 注册路由
func RegisterMarketplaceRoutes(r *gin.RouterGroup, handler *MarketplaceHandler) {
	r.POST("/proposals/:id/accept", handler.AcceptProposal)
	contracts := r.Group("/contracts")
	{
		contracts.GET("/:id", handler.GetContract)
		contracts.POST("/:id/sign", handler.SignContract)
	}
}
