package route

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/api/http/handler"
	"github.com/kai-familiar/marmot-cli/internal/api/http/middleware"
	"github.com/kai-familiar/marmot-cli/internal/config"
)

// SetupRouter serves /metrics from gatherer when it is not nil.
func SetupRouter(
	log *zap.Logger,
	cfg *config.Inbox,
	gatherer prometheus.Gatherer,
	healthHdl HealthHandler,
	notificationHdl NotificationHandler,
	streamHdl StreamHandler,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	router := gin.New()
	router.Use(gin.Recovery())

	// middleware
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS(cfg.HTTPServer.CORS))
	router.Use(middleware.RateLimit(cfg.HTTPServer.RateLimit))

	authMiddleware := middleware.Auth(cfg.Auth)
	timeoutMiddleware := middleware.RequestTimeout(cfg.HTTPServer.Timeout.Request)

	router.HandleMethodNotAllowed = true
	router.NoMethod(handler.NoMethod)
	router.NoRoute(handler.NoRoute)

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	basePath := router.Group(cfg.HTTPServer.BasePath)

	healthPath := basePath.Group("/health")
	RegisterHealth(healthPath, healthHdl)

	notificationPath := basePath.Group("/notifications", authMiddleware)
	RegisterNotification(notificationPath, notificationHdl, streamHdl, timeoutMiddleware)

	return router
}
