package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/autostrat/config"
	"github.com/mohammad-safakhou/autostrat/internal/archive"
	"github.com/mohammad-safakhou/autostrat/internal/metrics"
	"github.com/mohammad-safakhou/autostrat/internal/store"
	"github.com/mohammad-safakhou/autostrat/internal/worker"
)

// ReportSearcher looks up completed reports.
type ReportSearcher interface {
	Search(q string, limit int) ([]archive.Hit, error)
}

type Options struct {
	Config      config.ServerConfig
	MetricsPath string
	Logger      *log.Logger
	Store       store.TaskStore
	Dispatcher  worker.Dispatcher
	Archive     ReportSearcher
	Metrics     *metrics.Metrics
}

// Server is the HTTP front of the report service.
type Server struct {
	echo       *echo.Echo
	logger     *log.Logger
	cfg        config.ServerConfig
	store      store.TaskStore
	dispatcher worker.Dispatcher
	archive    ReportSearcher
	metrics    *metrics.Metrics
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	s := &Server{
		echo:       echo.New(),
		logger:     logger,
		cfg:        opts.Config.Normalize(),
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		archive:    opts.Archive,
		metrics:    opts.Metrics,
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.cfg.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if opts.Metrics != nil && opts.MetricsPath != "" {
		e.GET(opts.MetricsPath, echo.WrapHandler(opts.Metrics.Handler()))
	}
	e.POST("/generate-strategy", s.generateStrategy)
	e.GET("/status/:task_id", s.status)
	e.GET("/reports/search", s.searchReports)
	return s
}

// handleError renders every error as {"error": msg} and logs it.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"error": msg})
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.Printf("listening on %s", s.cfg.Address)
	if err := s.echo.Start(s.cfg.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
