package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/admission-gate/internal/core/ports"
	customMiddleware "github.com/avatarctic/admission-gate/internal/infrastructure/httpserver/middleware"
)

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCertFile  string
	TLSKeyFile   string
}

type ServerDeps struct {
	AdmissionService ports.AdmissionController
	QuotaLedger      ports.QuotaLedger
	WindowRepository ports.WindowRepository
	Clock            ports.Clock
	HealthCheckers   []ports.HealthChecker
}

type Server struct {
	echo           *echo.Echo
	config         *ServerConfig
	logger         *logrus.Logger
	admission      ports.AdmissionController
	quota          ports.QuotaLedger
	windowRepo     ports.WindowRepository
	clock          ports.Clock
	middleware     *customMiddleware.MiddlewareCollection
	healthCheckers []ports.HealthChecker
}

func NewServer(serverConfig *ServerConfig, logger *logrus.Logger, deps ServerDeps) *Server {
	e := echo.New()
	e.HideBanner = true

	server := &Server{
		echo:           e,
		config:         serverConfig,
		logger:         logger,
		admission:      deps.AdmissionService,
		quota:          deps.QuotaLedger,
		windowRepo:     deps.WindowRepository,
		clock:          deps.Clock,
		healthCheckers: deps.HealthCheckers,
		middleware: customMiddleware.NewMiddlewareCollection(
			deps.AdmissionService,
			logger,
			GetRequestsTotal(),
			GetRequestDuration(),
			GetDecisionsTotal(),
		),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}
