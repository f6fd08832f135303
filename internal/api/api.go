// Package api provides the HTTP trigger surface for collaborators:
// running aggregation and detection, evaluating signals, dispatching
// events, submitting judgments, and managing rules, channels, webhook
// endpoints, and flags.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/driftwatch/internal/aggregate"
	"github.com/good-yellow-bee/driftwatch/internal/detect"
	"github.com/good-yellow-bee/driftwatch/internal/evaluate"
	"github.com/good-yellow-bee/driftwatch/internal/feedback"
	"github.com/good-yellow-bee/driftwatch/internal/flags"
	"github.com/good-yellow-bee/driftwatch/internal/logger"
	"github.com/good-yellow-bee/driftwatch/internal/notify"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
	"github.com/good-yellow-bee/driftwatch/internal/suppress"
	"github.com/good-yellow-bee/driftwatch/internal/webhook"
)

// Config contains HTTP server configuration.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
}

// Server is the HTTP API server.
type Server struct {
	config     *Config
	storage    storage.Storage
	aggregator *aggregate.Aggregator
	detector   *detect.Detector
	evaluator  *evaluate.Evaluator
	suppressor *suppress.Engine
	dispatcher *notify.Dispatcher
	feedback   *feedback.Service
	webhooks   *webhook.Service
	gate       *flags.Gate
	server     *http.Server
	log        zerolog.Logger
}

// Deps bundles the services the API fronts.
type Deps struct {
	Storage    storage.Storage
	Aggregator *aggregate.Aggregator
	Detector   *detect.Detector
	Evaluator  *evaluate.Evaluator
	Suppressor *suppress.Engine
	Dispatcher *notify.Dispatcher
	Feedback   *feedback.Service
	Webhooks   *webhook.Service
	Gate       *flags.Gate
}

// New creates a new API server.
func New(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	cfg.SetDefaults()

	s := &Server{
		config:     cfg,
		storage:    deps.Storage,
		aggregator: deps.Aggregator,
		detector:   deps.Detector,
		evaluator:  deps.Evaluator,
		suppressor: deps.Suppressor,
		dispatcher: deps.Dispatcher,
		feedback:   deps.Feedback,
		webhooks:   deps.Webhooks,
		gate:       deps.Gate,
		log:        logger.WithComponent("api"),
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.log.Info().Str("address", s.config.Address).Msg("HTTP API listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}
