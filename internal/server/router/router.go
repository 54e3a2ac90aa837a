package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/lounge/internal/metrics"
	"github.com/mamadbah2/lounge/internal/server/handlers"
)

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies groups what the router mounts.
type Dependencies struct {
	Stock   *handlers.StockHandler
	Sales   *handlers.SaleHandler
	Metrics *metrics.Metrics
	Store   Pinger
	Logger  *zap.Logger
}

// New wires the Gin engine with required routes and middlewares.
func New(deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	logger := deps.Logger

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))
	r.Use(deps.Metrics.Middleware())

	r.GET("/healthz", healthz(deps.Store))
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	api := r.Group("/api")
	{
		api.POST("/stock", deps.Stock.Create)
		api.GET("/stock", deps.Stock.List)
		api.GET("/stock/:id", deps.Stock.Get)
		api.POST("/stock/:id/restock", deps.Stock.Restock)
		api.PATCH("/stock/:id", deps.Stock.Update)
		api.DELETE("/stock/:id", deps.Stock.Delete)
		api.GET("/stock/:id/movements", deps.Stock.Movements)

		api.POST("/sales", deps.Sales.CreateSale)
		api.POST("/credit-sales", deps.Sales.CreateCreditSale)
		api.POST("/credit-sales/:id/pay", deps.Sales.PayCreditSale)
	}

	if logger != nil {
		logger.Info("router initialized")
	}

	return r
}

func healthz(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
