// internal/api/server.go
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shopdesk/internal/archive"
	"shopdesk/internal/autoreply"
	"shopdesk/internal/carrier"
	"shopdesk/internal/common/config"
	apperrors "shopdesk/internal/common/errors"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/messenger"
	"shopdesk/internal/models"
	"shopdesk/internal/sheets"
	"shopdesk/internal/store"
)

type SettingsStore interface {
	Get(ctx context.Context) (models.Settings, error)
	Update(ctx context.Context, s models.Settings) (models.Settings, error)
}

type TrainingStore interface {
	Insert(ctx context.Context, pairs []models.TrainingPair) (int, error)
	List(ctx context.Context, f store.TrainingFilter) ([]models.TrainingPair, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

type ProductStore interface {
	ListActive(ctx context.Context, limit int) ([]models.Product, error)
	Upsert(ctx context.Context, p models.Product) (models.Product, error)
}

type OrderStore interface {
	Create(ctx context.Context, o models.Order) (models.Order, error)
	Get(ctx context.Context, id string) (models.Order, error)
	List(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error)
	UpdateStatus(ctx context.Context, id string, next models.OrderStatus) (models.Order, error)
	SetTracking(ctx context.Context, id, trackingCode string) (models.Order, error)
	MarkSynced(ctx context.Context, ids []string, at time.Time) error
}

type InboundHandler interface {
	HandleInbound(ctx context.Context, msg messenger.InboundMessage) (autoreply.Decision, error)
	Preview(ctx context.Context, text string, history []models.ConversationTurn) (autoreply.Preview, error)
}

type Shipper interface {
	CreateShipment(ctx context.Context, o models.Order, note string) (carrier.Shipment, error)
	TrackShipment(ctx context.Context, trackingCode string) (carrier.Tracking, error)
}

type SheetAppender interface {
	Append(ctx context.Context, orders []models.Order) (int, error)
}

type ArchiveSearcher interface {
	Search(ctx context.Context, q archive.Query) (archive.Result, error)
}

// Checker is a readiness probe for one dependency.
type Checker func(ctx context.Context) error

type Options struct {
	Server    config.ServerConfig
	Messenger config.MessengerConfig

	Settings  SettingsStore
	Training  TrainingStore
	Products  ProductStore
	Orders    OrderStore
	AutoReply InboundHandler

	// optional integrations; nil disables the matching routes with 503
	Shipper Shipper
	Sheets  SheetAppender
	Archive ArchiveSearcher

	Ready  map[string]Checker
	Logger logger.Logger
}

// Server is the HTTP surface: Meta webhook, dashboard REST API and probes.
type Server struct {
	opts   Options
	engine *gin.Engine
	logger logger.Logger

	// in-flight webhook processing
	wg      sync.WaitGroup
	baseCtx context.Context
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	s := &Server{
		opts:    opts,
		logger:  log.WithFields(map[string]interface{}{"component": "api"}),
		baseCtx: context.Background(),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors(opts.Server.AllowedOrigins))

	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/webhook", s.verifyWebhook)
	r.POST("/webhook", s.receiveWebhook)

	api := r.Group("/api")
	{
		api.GET("/settings", s.getSettings)
		api.PUT("/settings", s.updateSettings)

		api.GET("/training", s.listTraining)
		api.POST("/training", s.createTraining)
		api.DELETE("/training/:id", s.deleteTraining)

		api.GET("/products", s.listProducts)
		api.POST("/products", s.upsertProduct)

		api.GET("/orders", s.listOrders)
		api.POST("/orders", s.createOrder)
		api.GET("/orders/:id", s.getOrder)
		api.PATCH("/orders/:id/status", s.updateOrderStatus)
		api.POST("/orders/:id/shipment", s.createShipment)
		api.GET("/orders/:id/tracking", s.trackOrder)
		api.POST("/orders/:id/sync", s.syncOrder)

		api.POST("/ai/preview", s.previewReply)
		api.GET("/conversations/search", s.searchConversations)
	}

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// HTTPServer wraps the router with the configured timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  config.GetDuration(s.opts.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(s.opts.Server.WriteTimeout),
	}
}

// Wait blocks until webhook messages accepted so far are processed.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{}
	status := http.StatusOK
	for name, check := range s.opts.Ready {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	c.JSON(status, gin.H{"ready": status == http.StatusOK, "checks": checks})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"durationMs": time.Since(start).Milliseconds(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn("request failed", fields)
			return
		}
		s.logger.Debug("request", fields)
	}
}

func cors(allowed []string) gin.HandlerFunc {
	allowAll := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || set[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// respondError maps domain errors onto HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"

	switch {
	case errors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, store.ErrInvalidInput):
		status, code = http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, store.ErrConflict):
		status, code = http.StatusConflict, "INVALID_STATE_TRANSITION"
	case errors.Is(err, errUnavailable), errors.Is(err, carrier.ErrNotConfigured),
		errors.Is(err, messenger.ErrNotConfigured), errors.Is(err, sheets.ErrDisabled):
		status, code = http.StatusServiceUnavailable, "NOT_CONFIGURED"
	default:
		var se *apperrors.StandardError
		if errors.As(err, &se) {
			status, code = apperrors.HTTPStatus(se.Code), string(se.Code)
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", map[string]interface{}{"path": c.FullPath(), "error": err})
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": err.Error()})
}

var errUnavailable = errors.New("integration is not configured")
