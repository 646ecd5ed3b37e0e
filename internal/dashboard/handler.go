// Package dashboard serves the diagnosis console: a JSON API over the tracker
// controller, an event stream and a static page.
package dashboard

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kamilpajak/opsdiag/internal/auth"
	"github.com/kamilpajak/opsdiag/internal/database"
	"github.com/kamilpajak/opsdiag/internal/tracker"
	"github.com/kamilpajak/opsdiag/pkg/logger"
)

//go:embed static
var staticFiles embed.FS

// History reads the journal of a record.
type History interface {
	ListFeedback(ctx context.Context, recordID int64, limit int) ([]database.FeedbackSubmission, error)
	ListTransitions(ctx context.Context, recordID int64, limit int) ([]database.StatusTransition, error)
}

// DefaultKeepAlive is the interval of stream keepalive comments.
const DefaultKeepAlive = 15 * time.Second

// Handler serves the web dashboard and API endpoints.
type Handler struct {
	engine    *gin.Engine
	ctrl      *tracker.Controller
	stream    *tracker.Broadcaster
	history   History
	logger    logger.Logger
	keepAlive time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithHistory enables the history endpoint.
func WithHistory(h History) Option {
	return func(d *Handler) { d.history = h }
}

// WithLogger configures request logging.
func WithLogger(l logger.Logger) Option {
	return func(d *Handler) { d.logger = l }
}

// WithKeepAlive sets the stream keepalive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(h *Handler) { h.keepAlive = d }
}

// NewHandler creates a new web handler with all routes registered. The
// broadcaster focuses the controller while at least one stream is connected.
func NewHandler(ctrl *tracker.Controller, stream *tracker.Broadcaster, opts ...Option) *Handler {
	h := &Handler{
		engine:    gin.New(),
		ctrl:      ctrl,
		stream:    stream,
		logger:    logger.NewNop(),
		keepAlive: DefaultKeepAlive,
	}
	for _, opt := range opts {
		opt(h)
	}

	stream.OnFirst = ctrl.Focus
	stream.OnLast = ctrl.Blur

	h.engine.Use(gin.Recovery(), h.requestLogger(), forwardBearer())

	api := h.engine.Group("/api/diagnosis")
	api.GET("", h.handleList)
	api.GET("/stream", h.handleStream)
	api.POST("/run", h.handleRun)
	api.GET("/:id", h.handleGet)
	api.POST("/:id/feedback", h.handleFeedback)
	api.DELETE("/:id", h.handleDelete)
	api.GET("/:id/history", h.handleHistory)

	h.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "polling": ctrl.Polling()})
	})
	h.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	staticFS, _ := fs.Sub(staticFiles, "static")
	h.engine.NoRoute(gin.WrapH(http.FileServer(http.FS(staticFS))))

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.engine.ServeHTTP(w, r)
}

// forwardBearer puts the caller's bearer token on the request context so
// backend calls are made on the caller's behalf.
func forwardBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := auth.ExtractBearerToken(c.Request); token != "" {
			c.Request = c.Request.WithContext(auth.WithToken(c.Request.Context(), token))
		}
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}
