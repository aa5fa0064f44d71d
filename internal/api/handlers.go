package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roman-kulish/rig-telemetry/internal/export"
	"github.com/roman-kulish/rig-telemetry/internal/session"
	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

// Controller is the session state machine driven by the API
type Controller interface {
	Status() session.Status
	Ports() ([]string, error)
	Connect(ctx context.Context, portID string) error
	Disconnect() error
	SetActuator(on bool) error
	Reset() error
	Export(ctx context.Context, destinationName string) (string, error)
	ResetData(ctx context.Context) error
}

type connectRequest struct {
	Port string `json:"port" binding:"required"`
}

type actuatorRequest struct {
	On *bool `json:"on" binding:"required"`
}

type exportRequest struct {
	Name string `json:"name" binding:"required"`
}

// Handler serves session control and the latest sample
type Handler struct {
	controller Controller
	latest     telemetry.Provider
	logger     *slog.Logger
}

// WithLogger sets the logger for the handler and the request log
func WithLogger(logger *slog.Logger) func(*Handler) {
	return func(h *Handler) {
		h.logger = logger.With(slog.String("component", "api"))
	}
}

// NewHandler creates a Handler
func NewHandler(controller Controller, latest telemetry.Provider, options ...func(*Handler)) *Handler {
	h := Handler{
		controller: controller,
		latest:     latest,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&h)
	}

	return &h
}

// NewRouter creates a gin engine with every route registered
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))
	RegisterRoutes(router, h)
	return router
}

// RegisterRoutes registers the API routes on router
func RegisterRoutes(router gin.IRouter, h *Handler) {
	router.GET("/ports", h.GetPorts)
	router.GET("/session", h.GetSession)
	router.POST("/session/connect", h.Connect)
	router.POST("/session/disconnect", h.Disconnect)
	router.POST("/actuator", h.SetActuator)
	router.POST("/actuator/reset", h.ResetActuator)
	router.GET("/samples/latest", h.GetLatestSample)
	router.DELETE("/samples", h.DeleteSamples)
	router.POST("/export", h.Export)
}

// GetPorts lists the port identifiers that can be connected to
func (h *Handler) GetPorts(c *gin.Context) {
	ports, err := h.controller.Ports()
	if err != nil {
		h.fail(c, fmt.Errorf("listing ports: %w", err))
		return
	}
	if ports == nil {
		ports = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"ports": ports})
}

// GetSession returns the session state
func (h *Handler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Status())
}

// Connect opens the requested port
func (h *Handler) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: port is required"})
		return
	}

	if err := h.controller.Connect(c.Request.Context(), req.Port); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.controller.Status())
}

// Disconnect closes the open port, if any
func (h *Handler) Disconnect(c *gin.Context) {
	if err := h.controller.Disconnect(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.controller.Status())
}

// SetActuator switches the actuator on or off
func (h *Handler) SetActuator(c *gin.Context) {
	var req actuatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: on is required"})
		return
	}

	if err := h.controller.SetActuator(*req.On); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.controller.Status())
}

// ResetActuator sends the reset command
func (h *Handler) ResetActuator(c *gin.Context) {
	if err := h.controller.Reset(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.controller.Status())
}

// GetLatestSample returns the most recent sample or placeholder.
// With format=text the sample is rendered as labelled lines.
func (h *Handler) GetLatestSample(c *gin.Context) {
	s := h.latest.Get()
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no sample received yet"})
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, telemetry.Text(s))
		return
	}
	c.JSON(http.StatusOK, s)
}

// DeleteSamples disconnects and deletes every stored sample
func (h *Handler) DeleteSamples(c *gin.Context) {
	if err := h.controller.ResetData(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "samples deleted"})
}

// Export disconnects and writes every stored sample to a workbook
func (h *Handler) Export(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: name is required"})
		return
	}

	path, err := h.controller.Export(c.Request.Context(), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(fmt.Sprintf("request failed: %s", err.Error()), slog.String("path", c.FullPath()))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrPortUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, export.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoExporter):
		return http.StatusNotImplemented
	case errors.Is(err, session.ErrControllerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("request served",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}
