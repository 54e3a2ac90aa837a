package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/lounge/internal/service/sales"
	"github.com/mamadbah2/lounge/internal/service/stock"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, stock.ErrItemNotFound),
		errors.Is(err, sales.ErrCreditSaleNotFound):
		return http.StatusNotFound
	case errors.Is(err, stock.ErrInsufficientStock),
		errors.Is(err, stock.ErrConflict),
		errors.Is(err, stock.ErrReservationCancelled),
		errors.Is(err, stock.ErrDuplicateItem),
		errors.Is(err, sales.ErrAlreadyPaid),
		errors.Is(err, sales.ErrCreditSalePending),
		errors.Is(err, sales.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, stock.ErrInvalidQuantity),
		errors.Is(err, stock.ErrInvalidPrice),
		errors.Is(err, stock.ErrInvalidInput),
		errors.Is(err, stock.ErrNothingToApply),
		errors.Is(err, sales.ErrInvalidSale),
		errors.Is(err, sales.ErrCreditNotAllowed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": message}. Unexpected errors are logged and not echoed.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	logger.Debug("request rejected", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}
