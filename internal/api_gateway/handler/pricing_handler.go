package handler

import (
	"github.com/credit-ledger/internal/api_gateway/service"
	"github.com/gin-gonic/gin"
)

// PricingHandler exposes the action cost catalog
type PricingHandler struct {
	pricingService service.PricingService
}

func NewPricingHandler(pricingService service.PricingService) *PricingHandler {
	return &PricingHandler{pricingService: pricingService}
}

// List returns the cost of every canonical action key
func (h *PricingHandler) List(c *gin.Context) {
	RespondOK(c, PricingResponse{Costs: h.pricingService.Costs()})
}
