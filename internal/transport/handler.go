package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go-leaf-doctor/internal/auth"
	"go-leaf-doctor/internal/config"
	apperrors "go-leaf-doctor/internal/errors"
	"go-leaf-doctor/internal/logger"
	"go-leaf-doctor/internal/service"
	"go-leaf-doctor/internal/storage"
	"go-leaf-doctor/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

// Dependencies are the collaborators the HTTP surface delegates to
type Dependencies struct {
	Predictions service.PredictionService
	Auth        *auth.Service
	Uploads     *storage.UploadStore
	// Metrics serves /metrics when set
	Metrics http.Handler
}

func NewHandler(deps Dependencies, cfg *config.Config) http.Handler {
	r := gin.New()

	// Add middleware
	r.Use(
		recovery(),
		requestLogger(),
		corsMiddleware(cfg.FrontendURL),
		requestSizeLimiter(cfg.MaxRequestBodySize),
	)

	// Configure routes
	r.GET("/api/health", healthCheck)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	if deps.Uploads != nil {
		r.Static(strings.TrimSuffix(cfg.Upload.URLPrefix, "/"), deps.Uploads.Dir())
	}

	authGroup := r.Group("/api/auth")
	authGroup.POST("/register", register(deps.Auth))
	authGroup.POST("/login", login(deps.Auth))

	api := r.Group("/api", requireAuth(deps.Auth))
	api.POST("/upload", uploadImage(deps.Uploads, cfg))
	api.POST("/predict", predict(deps.Predictions, cfg))
	api.GET("/predictions", listPredictions(deps.Predictions))

	return r
}

func predict(svc service.PredictionService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		var req models.PredictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.NewValidationError("Invalid or missing imageUrl", err))
			return
		}

		principal := principalFrom(c)
		logger.WithFields(logrus.Fields{
			"image_url": req.ImageURL,
			"user_id":   principalID(principal),
		}).Info("Received prediction request")

		resp, err := svc.Predict(ctx, principal, req.ImageURL)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func listPredictions(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := service.DefaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				respondError(c, apperrors.NewValidationError("limit must be a positive integer", err))
				return
			}
			limit = n
		}

		resp, err := svc.History(c.Request.Context(), principalFrom(c), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func uploadImage(store *storage.UploadStore, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil {
			respondError(c, apperrors.NewInternalError("Uploads are not configured", nil))
			return
		}

		header, err := c.FormFile("image")
		if err != nil {
			respondError(c, apperrors.NewValidationError("No file uploaded", err))
			return
		}
		if header.Size > cfg.Upload.MaxUploadSize {
			respondError(c, apperrors.NewValidationError("File too large", nil))
			return
		}

		file, err := header.Open()
		if err != nil {
			respondError(c, apperrors.NewValidationError("Failed to read upload", err))
			return
		}
		defer file.Close()

		stored, err := store.Save(c.Request.Context(), file)
		if err != nil {
			respondError(c, err)
			return
		}

		logger.WithFields(logrus.Fields{
			"file":         stored.Name,
			"size":         stored.Size,
			"content_type": stored.ContentType,
			"user_id":      principalID(principalFrom(c)),
		}).Info("Image uploaded")

		c.JSON(http.StatusCreated, models.UploadResponse{ImageURL: cfg.Upload.URLPrefix + stored.Name})
	}
}

func register(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in auth.RegisterInput
		if err := c.ShouldBindJSON(&in); err != nil {
			respondError(c, apperrors.NewValidationError("Missing fields", err))
			return
		}

		p, err := svc.Register(c.Request.Context(), in)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, models.RegisterResponse{
			Message: "User registered",
			User:    toUserResponse(*p),
		})
	}
}

func login(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in auth.LoginInput
		if err := c.ShouldBindJSON(&in); err != nil {
			respondError(c, apperrors.NewValidationError("Missing fields", err))
			return
		}

		res, err := svc.Login(c.Request.Context(), in)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.LoginResponse{Token: res.Token, User: toUserResponse(res.User)})
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Version: version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

func toUserResponse(p auth.Principal) models.UserResponse {
	return models.UserResponse{ID: p.ID.String(), Name: p.Name, Email: p.Email}
}

func principalID(p *auth.Principal) string {
	if p == nil {
		return ""
	}
	return p.ID.String()
}

// respondError writes the {message, error?} body for err. Errors that are
// not AppErrors are reported as a generic server error.
func respondError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewInternalError("Server error", err)
	}

	entry := logger.WithFields(logrus.Fields{
		"status_code": appErr.StatusCode,
		"error_type":  appErr.Type,
		"message":     appErr.Message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if appErr.Cause != nil {
		entry = entry.WithError(appErr.Cause)
	}
	if appErr.StatusCode >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(appErr.StatusCode, models.ErrorResponse{
		Message: appErr.Message,
		Error:   appErr.Details,
	})
}
