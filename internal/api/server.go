package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/cantus/internal/logger"
)

type Server struct {
	store   *GenerationStore
	service *GenerationService
	metrics *Metrics
	limiter *clientLimiter
	log     logger.Logger
}

func NewServer(store *GenerationStore, service *GenerationService) *Server {
	if store == nil {
		store = NewGenerationStore()
	}
	return &Server{
		store:   store,
		service: service,
		metrics: NewMetrics(),
		log:     logger.Nop(),
	}
}

func (s *Server) SetLogger(l logger.Logger) {
	if l != nil {
		s.log = l
	}
}

// SetRateLimit enables a per-client token bucket on generation creation.
// perSecond <= 0 leaves the server unlimited.
func (s *Server) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		s.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.limiter = newClientLimiter(rate.Limit(perSecond), burst)
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/generations", s.handleCreateGeneration, s.rateLimit)
	e.GET("/v1/generations/:id", s.handleGetGeneration)
	e.DELETE("/v1/generations/:id", s.handleDeleteGeneration)

	e.GET("/healthz", s.handleHealthz)
	e.GET("/metrics", s.handleMetrics)
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if s.limiter != nil && !s.limiter.Allow(c.RealIP()) {
			s.metrics.observeFailure("throttled")
			return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many requests")
		}
		return next(c)
	}
}

func (s *Server) handleCreateGeneration(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "generation service not configured")
	}
	req, err := decodeJSON[GenerationRequest](c.Request().Body)
	if err != nil {
		s.metrics.observeFailure("invalid")
		return writeBadRequest(c, err.Error())
	}

	// The service logs through the request context so its lines share the
	// handler's sink.
	ctx := logger.WithContext(c.Request().Context(), s.log)
	resp, err := s.service.Create(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			s.metrics.observeFailure("invalid")
			return writeBadRequest(c, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			s.metrics.observeFailure("timeout")
			return writeError(c, http.StatusGatewayTimeout, "timeout_error", "generation exceeded the server deadline")
		default:
			s.log.Error("generation failed", "error", err)
			s.metrics.observeFailure("error")
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
		}
	}

	s.store.Save(*resp)
	s.metrics.observeSuccess(time.Duration(resp.DurationMS)*time.Millisecond, resp.LogLikelihood)
	s.log.Info("generation completed",
		"id", resp.ID,
		"events", len(resp.Events),
		"loglik", resp.LogLikelihood,
		"duration_ms", resp.DurationMS,
	)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetGeneration(c *echo.Context) error {
	id := c.Param("id")
	rec, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDeleteGeneration(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":      id,
		"object":  "generation",
		"deleted": true,
	})
}

func (s *Server) handleHealthz(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(c *echo.Context) error {
	s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}
