package container

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"go-leaf-doctor/internal/auth"
	"go-leaf-doctor/internal/config"
	"go-leaf-doctor/internal/database"
	"go-leaf-doctor/internal/guidance"
	"go-leaf-doctor/internal/inference"
	"go-leaf-doctor/internal/logger"
	"go-leaf-doctor/internal/observer"
	"go-leaf-doctor/internal/repository"
	"go-leaf-doctor/internal/service"
	"go-leaf-doctor/internal/storage"
	"go-leaf-doctor/internal/transport"
	"go-leaf-doctor/migrations"
	"go-leaf-doctor/pkg/validation"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Container holds all application dependencies
type Container struct {
	config            *config.Config
	db                *sql.DB
	catalog           *guidance.Catalog
	invoker           inference.Invoker
	repository        *repository.SQLRepository
	predictionService service.PredictionService
	authService       *auth.Service
	handler           http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(db, cfg.Database.Driver); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("Database migrations applied")
	}

	c, err := build(cfg, db, prometheus.NewRegistry())
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// build wires everything above the database connection
func build(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*Container, error) {
	catalog, err := guidance.New(guidance.MatchMode(cfg.Classifier.GuidanceMatchMode))
	if err != nil {
		return nil, fmt.Errorf("failed to load guidance catalog: %w", err)
	}

	var mirror storage.BlobMirror
	if cfg.Azure.Enabled() {
		mirror, err = storage.NewAzureMirror(cfg.Azure)
		if err != nil {
			return nil, fmt.Errorf("failed to configure blob mirror: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"account":   cfg.Azure.Account,
			"container": cfg.Azure.Container,
		}).Info("Mirroring uploads to Azure Blob Storage")
	}

	uploads, err := storage.NewUploadStore(cfg.Upload.Dir, cfg.Upload.MaxUploadSize, mirror)
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewImageReferenceValidator(cfg.Upload.URLPrefix, uploads.Dir())
	if err != nil {
		return nil, err
	}

	invoker := inference.NewProcessInvoker(inference.Options{
		Binary:         cfg.Classifier.Binary,
		Args:           cfg.Classifier.Args,
		ImageFlag:      cfg.Classifier.ImageFlag,
		Timeout:        cfg.Classifier.Timeout,
		MaxOutputBytes: cfg.Classifier.MaxOutputBytes,
		MaxConcurrent:  cfg.Classifier.MaxConcurrentInferences,
	})

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observer.NewMetricsObserver(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)

	repo := repository.NewSQLRepository(db, cfg.Database.Driver)
	predictionService := service.NewPredictionService(
		validator,
		invoker,
		catalog,
		service.NewRecorder(repo),
		repo,
		events,
	)
	authService := auth.NewService(repo, auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL))

	handler := transport.NewHandler(transport.Dependencies{
		Predictions: predictionService,
		Auth:        authService,
		Uploads:     uploads,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, cfg)

	logger.WithFields(logrus.Fields{
		"classifier":      cfg.Classifier.Binary,
		"guidance_labels": catalog.Len(),
		"match_mode":      cfg.Classifier.GuidanceMatchMode,
		"upload_dir":      uploads.Dir(),
	}).Info("Container initialized")

	return &Container{
		config:            cfg,
		db:                db,
		catalog:           catalog,
		invoker:           invoker,
		repository:        repo,
		predictionService: predictionService,
		authService:       authService,
		handler:           handler,
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Close releases the database connection pool
func (c *Container) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
