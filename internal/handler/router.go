package handler

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/hcpe-setisd/leitos-backend/internal/service"
)

type RouterOptions struct {
	AllowedOrigins []string
	Sentry         bool
}

func NewRouter(authService *service.AuthService, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Sentry {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(RequestLogger())
	router.Use(CORSMiddleware(opts.AllowedOrigins, true))

	router.GET("/ping", Ping)
	router.GET("/", Root)
	router.GET("/openapi.json", OpenAPIDoc)

	authHandler := NewAuthHandler(authService)

	api := router.Group("/api")
	api.POST("/login", authHandler.Login)
	api.POST("/token/refresh", authHandler.Refresh)
	api.POST("/logout", authHandler.Logout)
	api.GET("/auth/config", authHandler.Config)

	protected := api.Group("")
	protected.Use(AuthMiddleware(authService))
	protected.GET("/users/me", authHandler.Me)

	admin := protected.Group("")
	admin.Use(AdminMiddleware(authService))
	admin.GET("/admin-only-data", authHandler.AdminData)

	return router
}
