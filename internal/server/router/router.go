package router

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/mamadbah2/stockledger/internal/server/handlers"
)

// Options carries the router settings taken from configuration.
type Options struct {
	ServiceName string
	CORSOrigin  string
}

// New wires the Gin engine with required routes and middlewares.
func New(products *handlers.ProductHandler, opts Options, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(opts.ServiceName))
	r.Use(zapLoggerMiddleware(logger))
	r.Use(cors.New(corsConfig(opts.CORSOrigin)))

	r.GET("/health", handlers.Health)
	r.GET("/healthz", handlers.Health)

	p := r.Group("/products")
	p.POST("", products.Create)
	p.GET("/:id", products.Summary)
	p.GET("/:id/transactions", products.History)
	p.POST("/:id/increase", products.Increase)
	p.POST("/:id/decrease", products.Decrease)

	r.NoRoute(handlers.NotFound)

	if logger != nil {
		logger.Info("router initialized")
	}

	return r
}

// corsConfig accepts "*" or a comma separated list of origins.
func corsConfig(origin string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}

	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "*" {
		cfg.AllowAllOrigins = true
		return cfg
	}

	for _, o := range strings.Split(origin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, o)
		}
	}
	return cfg
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
