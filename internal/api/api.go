package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"metals-trader/internal/models"
	"metals-trader/internal/services/pricecache"
	"metals-trader/internal/services/snapshot"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	MaxTopLimit     = 50
	DefaultTopLimit = 10

	defaultSnapshotLimit = 50
	maxSnapshotLimit     = 500

	AdminTokenHeader = "X-Admin-Token"
)

// PriceService is what the routes need from the price cache.
type PriceService interface {
	GetPrice(ctx context.Context, symbol string) (*models.InstrumentPrice, error)
	GetPrices(ctx context.Context, symbols []string) []models.InstrumentPrice
	GetTopInstruments(ctx context.Context, limit int) []models.InstrumentPrice
	GetMarketData(ctx context.Context) []models.MarketDataRow
	GetPriceHistory(ctx context.Context, symbol string, period models.Period) ([]models.PricePoint, error)
	ClearCache(ctx context.Context) error
	CacheSize(ctx context.Context) (int, error)
	LiveMode() bool
	Catalog() *models.Catalog
}

var _ PriceService = (*pricecache.Service)(nil)

// Options carries the optional collaborators of the routes.
type Options struct {
	AdminToken     string
	Snapshots      snapshot.Store // nil disables /snapshots
	StreamInterval time.Duration
	AllowedOrigins []string // 允许连接 /ws 的浏览器来源
	Logger         zerolog.Logger
}

type APIHandler struct {
	prices         PriceService
	adminToken     string
	snapshots      snapshot.Store
	streamInterval time.Duration
	upgrader       *websocket.Upgrader
	logger         zerolog.Logger
}

type pricesRequest struct {
	Symbols []string `json:"symbols" binding:"required,max=100"`
}

func SetupRoutes(r *gin.RouterGroup, prices PriceService, opts Options) *APIHandler {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 10 * time.Second
	}
	handler := &APIHandler{
		prices:         prices,
		adminToken:     opts.AdminToken,
		snapshots:      opts.Snapshots,
		streamInterval: opts.StreamInterval,
		upgrader:       newUpgrader(opts.AllowedOrigins),
		logger:         opts.Logger.With().Str("component", "api").Logger(),
	}

	r.GET("/market-data", handler.GetMarketData)
	r.GET("/price/:symbol", handler.GetPrice)
	r.POST("/prices", handler.GetPrices)
	r.GET("/top", handler.GetTopDefault)
	r.GET("/top/:limit", handler.GetTop)
	r.GET("/history/:symbol", handler.GetHistory)
	r.GET("/history/:symbol/export", handler.ExportHistory)
	r.GET("/snapshots/:symbol", handler.GetSnapshots)
	r.GET("/cache-stats", handler.CacheStats)
	r.DELETE("/cache", handler.requireAdmin, handler.ClearCache)
	r.GET("/health", handler.Health)
	r.GET("/ws", handler.Stream)

	return handler
}

func (h *APIHandler) GetMarketData(c *gin.Context) {
	c.JSON(http.StatusOK, h.prices.GetMarketData(c.Request.Context()))
}

func (h *APIHandler) GetPrice(c *gin.Context) {
	symbol := c.Param("symbol")
	price, err := h.prices.GetPrice(c.Request.Context(), symbol)
	if err != nil {
		h.unexpected(c, "get_price", symbol, err)
		return
	}
	if price == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not found: " + symbol})
		return
	}
	c.JSON(http.StatusOK, price)
}

func (h *APIHandler) GetPrices(c *gin.Context) {
	var req pricesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbols must be an array of at most 100 symbols"})
		return
	}
	c.JSON(http.StatusOK, h.prices.GetPrices(c.Request.Context(), req.Symbols))
}

func (h *APIHandler) GetTopDefault(c *gin.Context) {
	c.JSON(http.StatusOK, h.prices.GetTopInstruments(c.Request.Context(), DefaultTopLimit))
}

func (h *APIHandler) GetTop(c *gin.Context) {
	limit, err := strconv.Atoi(c.Param("limit"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if limit > MaxTopLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit cannot exceed 50"})
		return
	}
	c.JSON(http.StatusOK, h.prices.GetTopInstruments(c.Request.Context(), limit))
}

func (h *APIHandler) GetHistory(c *gin.Context) {
	symbol, period, series, ok := h.history(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol,
		"period":    period,
		"simulated": true,
		"data":      series,
	})
}

// history validates the request and loads the series, writing the error
// response itself when ok is false.
func (h *APIHandler) history(c *gin.Context) (string, models.Period, []models.PricePoint, bool) {
	symbol := c.Param("symbol")
	period, err := models.ParsePeriod(c.DefaultQuery("period", string(models.Period24h)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", "", nil, false
	}

	series, err := h.prices.GetPriceHistory(c.Request.Context(), symbol, period)
	if err != nil {
		h.unexpected(c, "get_price_history", symbol, err)
		return "", "", nil, false
	}
	if len(series) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no history for symbol: " + symbol})
		return "", "", nil, false
	}
	return symbol, period, series, true
}

func (h *APIHandler) GetSnapshots(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot storage is not configured"})
		return
	}

	limit := defaultSnapshotLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSnapshotLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	symbol := c.Param("symbol")
	snaps, err := h.snapshots.Recent(c.Request.Context(), symbol, limit)
	if err != nil {
		h.unexpected(c, "recent_snapshots", symbol, err)
		return
	}
	c.JSON(http.StatusOK, snaps)
}

func (h *APIHandler) CacheStats(c *gin.Context) {
	size, err := h.prices.CacheSize(c.Request.Context())
	if err != nil {
		h.unexpected(c, "cache_size", "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cacheSize": size,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandler) ClearCache(c *gin.Context) {
	if err := h.prices.ClearCache(c.Request.Context()); err != nil {
		h.unexpected(c, "clear_cache", "", err)
		return
	}
	h.logger.Info().Str("client_ip", c.ClientIP()).Msg("price cache cleared")
	c.JSON(http.StatusOK, gin.H{"message": "cache cleared"})
}

func (h *APIHandler) Health(c *gin.Context) {
	symbol := h.prices.Catalog().Canonical()
	price, err := h.prices.GetPrice(c.Request.Context(), symbol)
	if err != nil || price == nil {
		ev := h.logger.Error().Str("operation", "health").Str("symbol", symbol)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("health probe failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "price service unavailable"})
		return
	}

	mode := "fallback"
	if h.prices.LiveMode() {
		mode = "live"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"mode":      mode,
		"symbol":    price.Symbol,
		"price":     price.Price,
		"source":    price.Source,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandler) requireAdmin(c *gin.Context) {
	if h.adminToken == "" {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin operations are disabled"})
		return
	}
	token := c.GetHeader(AdminTokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

// unexpected answers 503 for faults outside the modelled failure paths.
func (h *APIHandler) unexpected(c *gin.Context, operation, symbol string, err error) {
	h.logger.Error().
		Str("operation", operation).
		Str("symbol", symbol).
		Str("request_id", c.GetString("request_id")).
		Err(err).
		Msg("unexpected error")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
}
