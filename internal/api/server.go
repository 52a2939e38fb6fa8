package api

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/basekick-labs/insight/internal/circuitbreaker"
	"github.com/basekick-labs/insight/internal/logger"
	"github.com/basekick-labs/insight/internal/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

// Server represents the HTTP API server
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	host   string
	port   int

	mu       sync.RWMutex
	breakers map[string]func() circuitbreaker.Stats
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	BodyLimit       int
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            4321,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		BodyLimit:       10 * 1024 * 1024,
	}
}

// NewServer creates a new HTTP server with Fiber
func NewServer(config *ServerConfig, logger zerolog.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	app := fiber.New(fiber.Config{
		AppName:               "insight",
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		IdleTimeout:           config.IdleTimeout,
		BodyLimit:             config.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Use(securityHeaders())
	app.Use(requestLogger(logger))

	return &Server{
		app:    app,
		logger: logger.With().Str("component", "api-server").Logger(),
		host:   config.Host,
		port:   config.Port,

		breakers: make(map[string]func() circuitbreaker.Stats),
	}
}

// RegisterBreaker reports the breaker behind an external dependency on
// /health and /api/v1/metrics.
func (s *Server) RegisterBreaker(name string, stats func() circuitbreaker.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakers[name] = stats
}

// breakerStats returns the registered breakers sorted by name, and whether
// any of them is not closed.
func (s *Server) breakerStats() ([]circuitbreaker.Stats, bool) {
	s.mu.RLock()
	names := make([]string, 0, len(s.breakers))
	for name := range s.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]circuitbreaker.Stats, 0, len(names))
	degraded := false
	for _, name := range names {
		st := s.breakers[name]()
		st.Name = name
		if st.State != circuitbreaker.StateClosed.String() {
			degraded = true
		}
		out = append(out, st)
	}
	s.mu.RUnlock()
	return out, degraded
}

// RegisterRoutes registers the operational routes. Dataset and query
// handlers register their own routes on GetApp().
func (s *Server) RegisterRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/ready", s.readyHandler)

	// Prometheus text format
	s.app.Get("/metrics", s.metricsHandler)

	s.app.Get("/api/v1/metrics", s.apiMetricsHandler)
	s.app.Get("/api/v1/logs", s.logsHandler)

	s.app.Get("/echo/:msg", s.echoHandler)
}

// healthHandler stays 200 while a dependency is down: datasets already
// loaded can still be queried. The status turns "degraded" instead.
func (s *Server) healthHandler(c *fiber.Ctx) error {
	breakers, degraded := s.breakerStats()
	status := "ok"
	if degraded {
		status = "degraded"
	}
	return c.JSON(fiber.Map{
		"status":           status,
		"uptime_sec":       time.Since(startTime).Seconds(),
		"circuit_breakers": breakers,
	})
}

func (s *Server) readyHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ready"})
}

// metricsHandler returns metrics in Prometheus format, or JSON when asked
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	m := metrics.Get()
	if c.Get("Accept") == "application/json" {
		return c.JSON(m.Snapshot())
	}
	c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	return c.SendString(m.PrometheusFormat())
}

func (s *Server) apiMetricsHandler(c *fiber.Ctx) error {
	snapshot := metrics.Get().Snapshot()
	snapshot["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	breakers, _ := s.breakerStats()
	snapshot["circuit_breakers"] = breakers
	return c.JSON(snapshot)
}

// echoHandler answers GET /echo/:msg with "msg...msg".
func (s *Server) echoHandler(c *fiber.Ctx) error {
	msg := c.Params("msg")
	if msg == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}
	return c.JSON(fiber.Map{
		"result": msg + "..." + msg,
	})
}

var startTime = time.Now()

// Start starts the HTTP server in the background. Listen errors are sent
// on the returned channel.
func (s *Server) Start() <-chan error {
	addr := s.host + ":" + strconv.Itoa(s.port)
	s.logger.Info().
		Str("addr", addr).
		Msg("Starting insight HTTP server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.Listen(addr); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server gracefully...")

	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}

// GetApp returns the underlying Fiber app (for registering handler routes)
func (s *Server) GetApp() *fiber.App {
	return s.app
}

// logsHandler returns recent application logs
func (s *Server) logsHandler(c *fiber.Ctx) error {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	level := strings.ToLower(c.Query("level"))

	sinceMinutes := 60
	if sm := c.Query("since_minutes"); sm != "" {
		if parsed, err := strconv.Atoi(sm); err == nil && parsed > 0 && parsed <= 1440 {
			sinceMinutes = parsed
		}
	}

	entries := logger.GetBuffer().GetRecent(limit, level, sinceMinutes)

	return c.JSON(fiber.Map{
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"count":         len(entries),
		"limit":         limit,
		"level_filter":  level,
		"since_minutes": sinceMinutes,
		"logs":          entries,
	})
}

// customErrorHandler handles Fiber errors
func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("Request error")

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

// securityHeaders adds security headers to all responses
func securityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		return c.Next()
	}
}

// requestLogger collects HTTP metrics for every request and logs the
// failed ones.
func requestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start)
		status := c.Response().StatusCode()
		m := metrics.Get()

		m.IncHTTPRequests()
		m.RecordHTTPLatency(duration.Microseconds())

		if status >= 400 {
			m.IncHTTPError()
		} else {
			m.IncHTTPSuccess()
		}

		if status >= 400 {
			logEvent := logger.Warn()
			if status >= 500 {
				logEvent = logger.Error()
			}

			logEvent.
				Str("method", c.Method()).
				Str("path", c.Path()).
				Int("status", status).
				Dur("duration_ms", duration).
				Int("size", len(c.Response().Body())).
				Str("ip", c.IP()).
				Msg("HTTP request error")
		}

		return err
	}
}
