package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/grading"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
	"github.com/trezcool/shule/storage/database"
)

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		DB         core.DB // optional; enables the database status in /api/health
		UserSvc    user.Service
		SchoolSvc  school.Service
		GradingSvc grading.Service
		Validate   *validator.Validate
		Translator ut.Translator
	}

	Server struct {
		ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ http.Handler = (*Server)(nil)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		ServerDeps: deps,
		app:        echo.New(),
		errors:     make(chan error, 1),
		shutdown:   make(chan os.Signal, 1),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.Conf

	s.app.HideBanner = true
	s.app.Debug = conf.Debug
	s.app.Server.ReadTimeout = conf.Server.ReadTimeout
	s.app.Server.WriteTimeout = conf.Server.WriteTimeout
	s.app.Logger.SetLevel(log.INFO)

	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	if root := s.staticRoot(); root != "" {
		s.app.Use(middleware.StaticWithConfig(middleware.StaticConfig{
			Root: root,
			Skipper: func(ctx echo.Context) bool {
				return strings.HasPrefix(ctx.Request().URL.Path, "/api")
			},
		}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.Logger, s.Translator, s.signalShutdown)

	api := s.app.Group("/api")
	api.GET("", home)
	api.GET("/health", s.health)

	jwt := middleware.JWTWithConfig(newJWTConfig(conf))

	registerUserAPI(api, jwt, conf, s.UserSvc, s.Validate)
	registerSchoolAPI(api, jwt, s.SchoolSvc)
	registerGradingAPI(api, jwt, s.UserSvc, s.GradingSvc)
}

// staticRoot returns the directory of the browser client, if it exists.
func (s *Server) staticRoot() string {
	dir := s.Conf.StaticDir
	if dir == "" {
		return ""
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.Conf.WorkDir, dir)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return ""
	}
	return dir
}

// Start listens on the configured address. Listener errors are sent to Errors().
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.Conf.Server.Addr); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Shule API!")
}

type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build"`
}

func (s *Server) health(ctx echo.Context) error {
	resp := healthResponse{Status: "ok", Build: s.Conf.Build}
	if s.DB != nil {
		if err := database.StatusCheck(ctx.Request().Context(), s.DB); err != nil {
			s.Logger.Error("database status check failed", err)
			resp.Status = "db not ready"
			return ctx.JSON(http.StatusInternalServerError, resp)
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}
