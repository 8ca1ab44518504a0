package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sumire/proposals/internal/domain"
	"github.com/sumire/proposals/internal/service"
)

// multipartOverhead is allowed on top of the file size limit for form fields and boundaries.
const multipartOverhead = 64 << 10

// RouterConfig wires the services behind the HTTP API.
type RouterConfig struct {
	Auth           *service.AuthService
	Proposals      *service.ProposalService
	FrontendURL    string
	MaxUploadBytes int64
}

// NewRouter builds the echo instance serving /api/v1.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewAppValidator()
	e.HTTPErrorHandler = HTTPErrorHandler

	e.Use(middleware.RequestID())
	e.Use(RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentType},
		ExposeHeaders:    []string{echo.HeaderXRequestID, echo.HeaderContentDisposition},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := NewAuthHandler(cfg.Auth)
	proposalHandler := NewProposalHandler(cfg.Proposals, cfg.MaxUploadBytes)
	requireAuth := JWTAuth(cfg.Auth)

	api := e.Group("/api/v1")
	api.GET("/health", func(c echo.Context) error {
		return JSON(c, http.StatusOK, map[string]string{"status": "ok"})
	})

	auth := api.Group("/auth")
	auth.GET("/demo-accounts", authHandler.DemoAccounts)
	auth.POST("/login", authHandler.Login)
	auth.POST("/signup", authHandler.Signup)
	auth.POST("/refresh", authHandler.Refresh)
	auth.GET("/me", authHandler.Me, requireAuth)

	proposals := api.Group("/proposals", requireAuth)
	proposals.POST("", proposalHandler.Submit,
		RequireRole(domain.RoleSubmitter),
		middleware.BodyLimit(strconv.FormatInt(cfg.MaxUploadBytes+multipartOverhead, 10)),
	)
	proposals.GET("/mine", proposalHandler.ListMine, RequireRole(domain.RoleSubmitter))
	proposals.GET("", proposalHandler.ListAll, RequireRole(domain.RoleReviewer))
	proposals.GET("/export", proposalHandler.Export, RequireRole(domain.RoleReviewer))
	proposals.DELETE("", proposalHandler.Clear, RequireRole(domain.RoleReviewer))
	proposals.GET("/:jobId/status", proposalHandler.Status)
	proposals.GET("/:jobId/result", proposalHandler.Result)

	return e
}
