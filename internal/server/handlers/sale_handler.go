package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/lounge/internal/service/sales"
)

// SalesService is the transaction surface exposed over HTTP.
type SalesService interface {
	CreateSale(ctx context.Context, in sales.SaleInput) (*sales.SaleReceipt, error)
	CreateCreditSale(ctx context.Context, in sales.CreditSaleInput) (*sales.CreditSaleReceipt, error)
	MarkCreditSalePaid(ctx context.Context, in sales.PaymentInput) (*sales.CreditPayment, error)
}

// SaleHandler serves /api/sales and /api/credit-sales.
type SaleHandler struct {
	svc      SalesService
	identity IdentityProvider
	logger   *zap.Logger
}

// NewSaleHandler constructs the HTTP handler adapter.
func NewSaleHandler(svc SalesService, identity IdentityProvider, logger *zap.Logger) *SaleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if identity == nil {
		identity = HeaderIdentity{}
	}
	return &SaleHandler{svc: svc, identity: identity, logger: logger}
}

// CreateSale records a cash or mobile transfer sale.
func (h *SaleHandler) CreateSale(c *gin.Context) {
	var req sales.SaleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.SoldBy = h.identity.Identity(c)

	receipt, err := h.svc.CreateSale(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if receipt.Degraded {
		h.logger.Warn("sale committed in degraded state", zap.String("transaction_ref", receipt.Sale.TransactionRef))
	}
	c.JSON(http.StatusCreated, receipt)
}

// CreateCreditSale records a sale on credit.
func (h *SaleHandler) CreateCreditSale(c *gin.Context) {
	var req sales.CreditSaleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.SoldBy = h.identity.Identity(c)

	receipt, err := h.svc.CreateCreditSale(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// PayCreditSale converts a credit sale into a paid sale.
func (h *SaleHandler) PayCreditSale(c *gin.Context) {
	var req sales.PaymentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.CreditSaleID = c.Param("id")
	req.ProcessedBy = h.identity.Identity(c)

	payment, err := h.svc.MarkCreditSalePaid(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
