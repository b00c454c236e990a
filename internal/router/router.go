package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/auth"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/config"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/credential"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/project"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/team"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/utilities"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags every request with a KSUID, reusing the
// caller's id when one is sent.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = utilities.NewKSUID()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// LoggingMiddleware logs each request once it completes.
func LoggingMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"remote", c.ClientIP(),
			"status", status,
			"duration_ms", float64(dur.Microseconds()) / 1000.0,
			"size", c.Writer.Size(),
			"request_id", c.GetString(requestIDHeader),
		}
		if status >= http.StatusInternalServerError {
			logger.Warnw("http request", fields...)
			return
		}
		logger.Debugw("http request", fields...)
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")
		// credentials travel in these responses
		h.Set("Cache-Control", "no-store")
		if c.Request.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
		}
		c.Next()
	}
}

// RecoveryMiddleware turns a panic into a logged 500.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Errorw("panic recovered",
			"path", c.Request.URL.Path,
			"request_id", c.GetString(requestIDHeader),
			"panic", recovered,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
	})
}

// ErrorMiddleware renders the last error a handler registered with
// httpx.Fail. Internal causes are only shown in development mode.
func ErrorMiddleware(logger *zap.SugaredLogger, dev bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		e, ok := apperror.As(err)
		if !ok {
			e = apperror.Internal("Internal server error", err)
		}
		body := gin.H{"message": e.Message}
		switch e.Kind {
		case apperror.KindInternal:
			logger.Errorw("request failed",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"request_id", c.GetString(requestIDHeader),
				"err", err,
			)
			body["message"] = "Internal server error"
			if dev {
				body["error"] = err.Error()
			}
		case apperror.KindConflict:
			if e.Duplicate != "" {
				body["duplicate"] = e.Duplicate
			}
		case apperror.KindRateLimit:
			secs := e.RetryAfterSeconds()
			body["retryAfter"] = secs
			c.Header("Retry-After", strconv.Itoa(secs))
		}
		c.JSON(e.Kind.Status(), body)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", "X-Requested-With", requestIDHeader},
		ExposeHeaders:    []string{"Content-Length", requestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
		// the extension calls from chrome-extension://<id>
		AllowBrowserExtensions: true,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// New builds the gin engine with every route mounted under /api.
func New(cfg config.Config, svc *Services, logger *zap.SugaredLogger) *gin.Engine {
	if !cfg.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Errorw("invalid trusted proxies, trusting none", "err", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware(),
		corsMiddleware(cfg.CORSOrigins),
		ErrorMiddleware(logger, cfg.Dev),
	)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Route not found"})
	})

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL, cfg.ExtensionTokenTTL)
	limiter := ratelimit.New(cfg.RateLimit.AuthPerMinute, cfg.RateLimit.AuthBurst)
	requireUser := auth.RequireUser(issuer, svc.Users)

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if err := svc.DB.PingContext(c.Request.Context()); err != nil {
			logger.Warnw("health check db ping failed", "err", err)
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "timestamp": time.Now().UTC()})
	})

	authHandler := auth.NewHandler(svc.Users, issuer, logger)
	authHandler.RegisterPublic(api.Group("/auth", limiter.Middleware()))
	authHandler.RegisterSession(api.Group("/auth", requireUser))

	protected := api.Group("", requireUser)
	users := user.NewHandler(svc.Users, logger)
	users.Register(protected)
	users.RegisterAdmin(protected.Group("", auth.RequireAdmin()))
	team.NewHandler(svc.Teams, logger).Register(protected)
	project.NewHandler(svc.Projects, logger).Register(protected)
	credential.NewHandler(svc.Credentials, logger).Register(protected)

	return r
}
