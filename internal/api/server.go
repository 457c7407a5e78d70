package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gridcon-pcs/config"
	"gridcon-pcs/internal/controller"
	"gridcon-pcs/internal/gridcon/errcatalog"
)

// Controller is the part of *controller.Controller the API drives.
type Controller interface {
	Snapshot() *controller.Snapshot
	IsRunning() bool
	Reset() error
	SetPower(active, reactive float64) error
}

// DeviceTester checks that a Gridcon unit answers at the given address.
type DeviceTester func(ctx context.Context, req DeviceConfigRequest) error

type Server struct {
	router      *gin.Engine
	server      *http.Server
	controller  Controller
	catalog     *errcatalog.Catalog
	host        string
	port        int
	config      *config.Config
	configMutex sync.RWMutex
	testDevice  DeviceTester
	logger      zerolog.Logger
}

type ServerConfig struct {
	Host         string
	Port         int
	Controller   Controller
	Catalog      *errcatalog.Catalog
	Config       *config.Config
	DeviceTester DeviceTester
	// Metrics is served at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	catalog := cfg.Catalog
	if catalog == nil {
		catalog = errcatalog.Default()
	}

	s := &Server{
		router:     router,
		controller: cfg.Controller,
		catalog:    catalog,
		host:       cfg.Host,
		port:       cfg.Port,
		config:     cfg.Config,
		testDevice: cfg.DeviceTester,
		logger:     log.With().Str("component", "api").Logger(),
	}
	router.Use(s.requestLogger())

	s.setupRoutes()
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(cfg.Metrics))
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	api := s.router.Group("/api/v1")
	{
		api.GET("/status", s.statusHandler)
		api.GET("/errors/:code", s.errorLookupHandler)
		api.POST("/reset", s.resetHandler)
		api.GET("/setpoint", s.getSetpointHandler)
		api.PUT("/setpoint", s.setpointHandler)

		api.GET("/config/device", s.getDeviceConfigHandler)
		api.POST("/config/device/test", s.testDeviceConfigHandler)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("API server starting")
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
