package transport

import (
	"net/http"
	"strings"
	"time"

	"go-leaf-doctor/internal/auth"
	"go-leaf-doctor/internal/logger"
	"go-leaf-doctor/pkg/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const principalContextKey = "principal"

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}).Info("Request handled")
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.WithFields(logrus.Fields{
			"panic":  recovered,
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}).Error("Recovered from panic")

		c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Server error"})
	})
}

func corsMiddleware(origin string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "x-auth-token"},
		MaxAge:       12 * time.Hour,
	}
	if origin == "" || origin == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = []string{origin}
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// requireAuth resolves the bearer token into a principal or aborts with 401
func requireAuth(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.Authenticate(tokenFrom(c.Request))
		if err != nil {
			respondError(c, err)
			return
		}

		c.Set(principalContextKey, p)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

func tokenFrom(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("x-auth-token"))
}

func principalFrom(c *gin.Context) *auth.Principal {
	if v, ok := c.Get(principalContextKey); ok {
		if p, ok := v.(*auth.Principal); ok {
			return p
		}
	}
	p, _ := auth.PrincipalFrom(c.Request.Context())
	return p
}
