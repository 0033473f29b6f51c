package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/mwem/internal/service"
	"github.com/inferloop/mwem/pkg/constants"
)

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *logrus.Logger
	config     *Config
	service    *service.ReleaseService
	metrics    HTTPRecorder
	build      BuildInfo
}

// HTTPRecorder receives per-request metrics. *metrics.PrometheusMetrics implements it.
type HTTPRecorder interface {
	RecordHTTPRequest(method, route, status string, duration time.Duration)
}

// BuildInfo is reported by GET /version
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Config contains server configuration
type Config struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxRequestSize  int64         `yaml:"max_request_size" json:"max_request_size"`
	TLSCertFile     string        `yaml:"tls_cert_file,omitempty" json:"tls_cert_file,omitempty"`
	TLSKeyFile      string        `yaml:"tls_key_file,omitempty" json:"tls_key_file,omitempty"`
}

// Option configures optional server collaborators
type Option func(*Server)

// WithMetrics records every request on recorder
func WithMetrics(recorder HTTPRecorder) Option {
	return func(s *Server) {
		s.metrics = recorder
	}
}

// WithBuildInfo sets the build information reported by GET /version
func WithBuildInfo(info BuildInfo) Option {
	return func(s *Server) {
		s.build = info
	}
}

// NewServer creates a new HTTP server instance
func NewServer(config *Config, svc *service.ReleaseService, logger *logrus.Logger, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("release service is required")
	}

	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = constants.DefaultMaxRequestSize
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = constants.DefaultShutdownTimeout
	}

	if logger == nil {
		logger = logrus.New()
	}

	server := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		config:  config,
		service: svc,
		build:   BuildInfo{Version: constants.AppVersion},
	}
	for _, opt := range opts {
		opt(server)
	}

	server.setupRoutes()
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return server, nil
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("Starting HTTP server on %s:%d", s.config.Host, s.config.Port)

	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		s.logger.Info("Starting HTTPS server")
		return s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	}

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("Error shutting down HTTP server: %v", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// setupRoutes sets up the HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	apiRouter := s.router.PathPrefix(constants.APIPrefix).Subrouter()

	apiRouter.HandleFunc("/releases", s.handleCreateRelease).Methods(http.MethodPost)
	apiRouter.HandleFunc("/releases", s.handleListReleases).Methods(http.MethodGet)
	apiRouter.HandleFunc("/releases/{id}", s.handleGetRelease).Methods(http.MethodGet)
	apiRouter.HandleFunc("/releases/{id}", s.handleDeleteRelease).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/releases/{id}/answer", s.handleAnswer).Methods(http.MethodGet)
	apiRouter.HandleFunc("/releases/{id}/sample", s.handleSample).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// setupMiddleware sets up HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.requestSizeLimitMiddleware)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *Config {
	return s.config
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            constants.DefaultHost,
		Port:            constants.DefaultPort,
		ReadTimeout:     constants.DefaultReadTimeout,
		WriteTimeout:    constants.DefaultWriteTimeout,
		IdleTimeout:     constants.DefaultIdleTimeout,
		ShutdownTimeout: constants.DefaultShutdownTimeout,
		MaxRequestSize:  constants.DefaultMaxRequestSize,
	}
}
