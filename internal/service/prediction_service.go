package service

import (
	"context"
	"time"

	"go-leaf-doctor/internal/auth"
	apperrors "go-leaf-doctor/internal/errors"
	"go-leaf-doctor/internal/guidance"
	"go-leaf-doctor/internal/inference"
	"go-leaf-doctor/internal/logger"
	"go-leaf-doctor/internal/observer"
	"go-leaf-doctor/internal/repository"
	"go-leaf-doctor/pkg/models"
	"go-leaf-doctor/pkg/validation"

	"github.com/sirupsen/logrus"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// PredictionService defines the prediction use cases exposed over HTTP
type PredictionService interface {
	// Predict diagnoses a previously uploaded image for principal.
	// Rejections and failures are returned as *apperrors.AppError.
	Predict(ctx context.Context, principal *auth.Principal, imageURL string) (*models.PredictionResponse, error)

	// History returns principal's most recent predictions, newest first
	History(ctx context.Context, principal *auth.Principal, limit int) (*models.PredictionHistoryResponse, error)
}

// ReferenceValidator resolves a client-supplied image reference
type ReferenceValidator interface {
	Validate(ref string) (validation.ImageReference, error)
}

// Stage is a state of the per-request prediction pipeline.
type Stage string

const (
	StageValidating Stage = "validating"
	StageInvoking   Stage = "invoking"
	StageEnriching  Stage = "enriching"
	StageRecording  Stage = "recording"
	StageResponding Stage = "responding"
	StageRejected   Stage = "rejected"
	StageFailed     Stage = "failed"
)

// predictionRun carries the data accumulated while one request moves
// through the pipeline. Each stage reads what earlier stages wrote.
type predictionRun struct {
	principal *auth.Principal
	rawRef    string

	ref        validation.ImageReference
	outcome    inference.Outcome
	enrichment guidance.Enrichment
	record     RecordResult

	err           *apperrors.AppError
	inferenceTime time.Duration
	trace         []Stage
}

type predictionService struct {
	validator ReferenceValidator
	invoker   inference.Invoker
	catalog   *guidance.Catalog
	recorder  *Recorder
	history   repository.PredictionRepository
	events    observer.Subject
}

// NewPredictionService creates a new prediction service. history may be nil,
// in which case History reports the repository as unavailable.
func NewPredictionService(
	validator ReferenceValidator,
	invoker inference.Invoker,
	catalog *guidance.Catalog,
	recorder *Recorder,
	history repository.PredictionRepository,
	events observer.Subject,
) PredictionService {
	return &predictionService{
		validator: validator,
		invoker:   invoker,
		catalog:   catalog,
		recorder:  recorder,
		history:   history,
		events:    events,
	}
}

// Predict drives one request through the pipeline until a terminal stage.
func (s *predictionService) Predict(ctx context.Context, principal *auth.Principal, imageURL string) (*models.PredictionResponse, error) {
	resp, _, err := s.run(ctx, principal, imageURL)
	return resp, err
}

func (s *predictionService) run(ctx context.Context, principal *auth.Principal, imageURL string) (*models.PredictionResponse, []Stage, error) {
	r := &predictionRun{principal: principal, rawRef: imageURL}

	stage := StageValidating
	for {
		r.trace = append(r.trace, stage)

		switch stage {
		case StageValidating:
			stage = s.validate(r)
		case StageInvoking:
			stage = s.invoke(ctx, r)
		case StageEnriching:
			stage = s.enrich(r)
		case StageRecording:
			stage = s.recordOutcome(ctx, r)
		case StageResponding:
			return s.respond(ctx, r), r.trace, nil
		case StageRejected:
			s.publish(ctx, r, observer.PredictionEvent{
				EventType:    observer.PredictionRejected,
				Reason:       string(r.err.Type),
				ErrorMessage: r.err.Message,
			})
			return nil, r.trace, r.err
		case StageFailed:
			s.publish(ctx, r, observer.PredictionEvent{
				EventType:    observer.PredictionFailed,
				Duration:     r.inferenceTime,
				Reason:       string(r.err.Type),
				ErrorMessage: r.err.Details,
			})
			return nil, r.trace, r.err
		default:
			r.err = apperrors.NewInternalError("Server error", nil)
			return nil, r.trace, r.err
		}
	}
}

func (s *predictionService) validate(r *predictionRun) Stage {
	if r.principal == nil {
		r.err = apperrors.NewUnauthorizedError("No token, authorization denied", nil)
		return StageRejected
	}

	ref, err := s.validator.Validate(r.rawRef)
	if err != nil {
		appErr, ok := apperrors.As(err)
		if !ok {
			appErr = apperrors.NewValidationError("Invalid or missing imageUrl", err)
		}
		r.err = appErr
		return StageRejected
	}

	r.ref = ref
	return StageInvoking
}

func (s *predictionService) invoke(ctx context.Context, r *predictionRun) Stage {
	s.publish(ctx, r, observer.PredictionEvent{EventType: observer.PredictionStarted})

	start := time.Now()
	outcome, err := s.invoker.Invoke(ctx, r.ref.Path)
	r.inferenceTime = time.Since(start)

	if err != nil {
		r.err = invocationFailure(err)
		return StageFailed
	}

	r.outcome = outcome
	return StageEnriching
}

// invocationFailure maps a classifier failure onto the client-visible error.
// Both kinds are 500s; the type keeps them apart in logs and metrics.
func invocationFailure(err error) *apperrors.AppError {
	invErr, ok := inference.AsInvocationError(err)
	if !ok {
		return apperrors.NewProcessError("Prediction failed", err).WithDetails(err.Error())
	}

	if invErr.Kind == inference.KindMalformedOutput {
		return apperrors.NewMalformedOutputError("Invalid response from model", invErr).WithDetails(invErr.Detail)
	}
	return apperrors.NewProcessError("Prediction failed", invErr).WithDetails(invErr.Detail)
}

func (s *predictionService) enrich(r *predictionRun) Stage {
	r.enrichment = s.catalog.Enrich(r.outcome.Label, r.outcome.Confidence)

	if !r.enrichment.Known {
		nearest, distance := s.catalog.Nearest(r.outcome.Label)
		logger.WithFields(logrus.Fields{
			"disease":  r.outcome.Label,
			"nearest":  nearest,
			"distance": distance,
		}).Warn("Classifier label not in guidance catalog, using fallback")
	}
	return StageRecording
}

func (s *predictionService) recordOutcome(ctx context.Context, r *predictionRun) Stage {
	r.record = s.recorder.Record(ctx, r.principal.ID, r.ref.URL, r.outcome)

	if !r.record.Persisted() {
		s.publish(ctx, r, observer.PredictionEvent{
			EventType:    observer.RecordDegraded,
			Disease:      r.outcome.Label,
			Confidence:   r.outcome.Confidence,
			ErrorMessage: r.record.Err.Error(),
		})
	}
	return StageResponding
}

func (s *predictionService) respond(ctx context.Context, r *predictionRun) *models.PredictionResponse {
	resp := &models.PredictionResponse{
		ImageURL:    r.ref.URL,
		Disease:     r.enrichment.Label,
		Confidence:  r.enrichment.Confidence,
		Description: r.enrichment.Description,
		Suggestions: r.enrichment.Suggestions,
	}
	if r.record.Persisted() {
		resp.ID = r.record.Record.ID.String()
	} else {
		resp.Warning = r.record.Warning
	}

	s.publish(ctx, r, observer.PredictionEvent{
		EventType:  observer.PredictionCompleted,
		Disease:    resp.Disease,
		Confidence: resp.Confidence,
		Duration:   r.inferenceTime,
		Metadata: map[string]interface{}{
			"degraded":      !r.record.Persisted(),
			"known_disease": r.enrichment.Known,
		},
	})
	return resp
}

func (s *predictionService) publish(ctx context.Context, r *predictionRun, event observer.PredictionEvent) {
	if s.events == nil {
		return
	}
	if r.principal != nil {
		event.UserID = r.principal.ID.String()
	}
	event.ImageURL = r.rawRef
	s.events.NotifyObservers(ctx, event)
}

// History returns principal's most recent predictions
func (s *predictionService) History(ctx context.Context, principal *auth.Principal, limit int) (*models.PredictionHistoryResponse, error) {
	if principal == nil {
		return nil, apperrors.NewUnauthorizedError("No token, authorization denied", nil)
	}
	if s.history == nil {
		return nil, apperrors.NewPersistenceError("Prediction history unavailable", repository.ErrRepositoryUnavailable)
	}

	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	records, err := s.history.ListPredictions(ctx, principal.ID, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to load predictions", err)
	}

	resp := &models.PredictionHistoryResponse{Predictions: make([]models.PredictionSummary, 0, len(records))}
	for _, rec := range records {
		resp.Predictions = append(resp.Predictions, models.PredictionSummary{
			ID:         rec.ID.String(),
			ImageURL:   rec.ImageURL,
			Disease:    rec.DiseaseName,
			Confidence: rec.Confidence,
			Date:       rec.CreatedAt,
		})
	}
	return resp, nil
}
