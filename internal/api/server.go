package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-advanced-admin/admin"
	admingorm "github.com/go-advanced-admin/orm-gorm"
	adminecho "github.com/go-advanced-admin/web-echo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"medfinder/internal/ai"
	authmw "medfinder/internal/api/middleware"
	"medfinder/internal/api/validator"
	"medfinder/internal/authz"
	"medfinder/internal/billing"
	"medfinder/internal/config"
	"medfinder/internal/handlers"
	"medfinder/internal/models"
	"medfinder/internal/services"
	"medfinder/internal/store"
	"medfinder/internal/utils"
	console "medfinder/internal/utils/logger"
)

// Deps are the construct-once collaborators the HTTP layer serves.
type Deps struct {
	DB        *gorm.DB
	Resolver  *authz.Resolver
	Tokens    *utils.TokenIssuer
	Sessions  *store.Sessions
	Users     *services.UserService
	Catalog   *services.CatalogService
	Dashboard *services.DashboardService
	Generator *ai.Generator
	Responses handlers.ResponseHistory
	Billing   handlers.BillingProvider
	Storage   services.ObjectStorage
	Limiter   authmw.Limiter
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	deps   Deps
}

var log = console.New("API-Server")

// NewServer @title MedFinder API
// @version 1.0
// @description Medicine price search, pharmacy management and a metered AI assistant.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	e := echo.New()
	e.HideBanner = true

	e.Validator = validator.NewValidator()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentLength, "Idempotency-Key"},
	}))
	e.Use(middleware.RequestID())
	e.Use(middleware.Secure())
	// Streaming responses outlive the timeout and need an unbuffered writer.
	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Skipper: isStreamingRoute,
		Timeout: 30 * time.Second,
	}))
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: isStreamingRoute,
		Level:   5,
	}))
	e.Use(middleware.BodyLimit("10M"))

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(rps))))

	e.Use(authmw.NewAuthMiddleware(deps.Tokens, deps.Sessions).Middleware())

	e.HTTPErrorHandler = customHTTPErrorHandler

	s := &Server{
		echo:   e,
		config: cfg,
		deps:   deps,
	}

	if deps.DB != nil {
		if err := s.registerAdminPanel(); err != nil {
			return nil, log.Error("Failed to create admin panel", err)
		}
	}

	s.registerRoutes()
	return s, nil
}

func isStreamingRoute(c echo.Context) bool {
	return strings.HasSuffix(c.Request().URL.Path, "/ai/generate")
}

// registerAdminPanel mounts the data browser at /admin. Every panel action
// resolves the admin.panel capability for the caller.
func (s *Server) registerAdminPanel() error {
	permissionChecker := func(request admin.PermissionRequest, ctx interface{}) (bool, error) {
		c, ok := ctx.(echo.Context)
		if !ok {
			return false, nil
		}
		_, err := s.deps.Resolver.Resolve(c.Request().Context(), authz.AdminPanel)
		if errors.Is(err, authz.ErrAuthenticationRequired) || errors.Is(err, authz.ErrInsufficientPermissions) {
			return false, nil
		}
		return err == nil, err
	}

	panel, err := admin.NewPanel(
		admingorm.NewIntegrator(s.deps.DB), adminecho.NewIntegrator(s.echo.Group("")), permissionChecker, nil,
	)
	if err != nil {
		return err
	}

	app, err := panel.RegisterApp("MedFinder", "MedFinder Admin Panel", nil)
	if err != nil {
		return err
	}
	for _, model := range []interface{}{
		&models.Pharmacy{},
		&models.Medicine{},
		&models.UserProfile{},
		&models.AIUsage{},
		&models.AIResponse{},
	} {
		if _, err := app.RegisterModel(model, nil); err != nil {
			return fmt.Errorf("register %T: %w", model, err)
		}
	}
	return nil
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Health check endpoint
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"time":    time.Now().Format(time.RFC3339),
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) (int, interface{}) {
	var (
		he  *echo.HTTPError
		ve  validator.ValidationErrors
		api *billing.APIError
	)
	switch {
	case errors.As(err, &he):
		return he.Code, he.Message
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Fields()
	case errors.Is(err, authz.ErrAuthenticationRequired):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, authz.ErrInsufficientPermissions):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, store.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, billing.ErrNotConfigured), errors.Is(err, ai.ErrNotConfigured):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &api), errors.Is(err, ai.ErrGenerationFailed):
		return http.StatusBadGateway, "upstream provider failed"
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// Custom HTTP error handler
func customHTTPErrorHandler(err error, c echo.Context) {
	code, message := statusFor(err)
	if code >= http.StatusInternalServerError {
		_ = log.Error("%s %s failed", err, c.Request().Method, c.Path())
	}

	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, map[string]interface{}{
				"error": message,
				"code":  code,
				"time":  time.Now().Format(time.RFC3339),
			})
		}
		if err != nil {
			c.Echo().Logger.Error(err)
		}
	}
}
