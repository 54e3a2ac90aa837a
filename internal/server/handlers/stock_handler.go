package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/lounge/internal/domain/models"
	"github.com/mamadbah2/lounge/internal/service/stock"
)

const (
	defaultMovementLimit = 50
	maxMovementLimit     = 500
)

// StockService is the stock surface exposed over HTTP.
type StockService interface {
	CreateItem(ctx context.Context, in stock.NewItemInput) (*models.StockItem, error)
	Resolve(ctx context.Context, identifier string) (*models.StockItem, error)
	List(ctx context.Context) ([]models.StockItem, error)
	Restock(ctx context.Context, in stock.RestockInput) (*models.StockItem, error)
	ApplyUpdate(ctx context.Context, item string, update stock.StockUpdate) (*models.StockItem, error)
	SoftDelete(ctx context.Context, item string) error
	Movements(ctx context.Context, item string, limit int) ([]models.StockMovement, error)
}

// StockHandler serves /api/stock.
type StockHandler struct {
	svc      StockService
	identity IdentityProvider
	logger   *zap.Logger
}

// NewStockHandler constructs the HTTP handler adapter.
func NewStockHandler(svc StockService, identity IdentityProvider, logger *zap.Logger) *StockHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if identity == nil {
		identity = HeaderIdentity{}
	}
	return &StockHandler{svc: svc, identity: identity, logger: logger}
}

// Create registers a new item.
func (h *StockHandler) Create(c *gin.Context) {
	var req stock.NewItemInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Actor = h.identity.Identity(c)

	item, err := h.svc.CreateItem(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// List returns all live items.
func (h *StockHandler) List(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if items == nil {
		items = []models.StockItem{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Get returns one item by id, code or name.
func (h *StockHandler) Get(c *gin.Context) {
	item, err := h.svc.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Restock applies a delivery.
func (h *StockHandler) Restock(c *gin.Context) {
	var req stock.RestockInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Item = c.Param("id")
	req.Actor = h.identity.Identity(c)

	item, err := h.svc.Restock(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Update applies a delivery or manual overrides.
func (h *StockHandler) Update(c *gin.Context) {
	var req stock.StockUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Actor = h.identity.Identity(c)

	item, err := h.svc.ApplyUpdate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Delete soft-deletes an item.
func (h *StockHandler) Delete(c *gin.Context) {
	if err := h.svc.SoftDelete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Movements lists the journal of an item, newest first.
func (h *StockHandler) Movements(c *gin.Context) {
	limit := defaultMovementLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxMovementLimit)
	}

	movements, err := h.svc.Movements(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if movements == nil {
		movements = []models.StockMovement{}
	}
	c.JSON(http.StatusOK, gin.H{"movements": movements})
}
