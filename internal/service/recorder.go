package service

import (
	"context"

	"go-leaf-doctor/internal/inference"
	"go-leaf-doctor/internal/logger"
	"go-leaf-doctor/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PersistWarning is attached to responses whose record could not be saved
const PersistWarning = "Prediction not saved to database"

// RecordResult separates "stored" from "classified but not stored".
// Exactly one of Record and Err is set.
type RecordResult struct {
	Record  *repository.PredictionRecord
	Warning string
	Err     error
}

// Persisted reports whether a record was written
func (r RecordResult) Persisted() bool {
	return r.Record != nil
}

// Recorder writes prediction records and converts storage failures into a
// warning instead of an error.
type Recorder struct {
	repo repository.PredictionRepository
}

// NewRecorder creates a recorder. A nil repo makes every Record call degrade.
func NewRecorder(repo repository.PredictionRepository) *Recorder {
	return &Recorder{repo: repo}
}

// Record persists outcome for userID. It never returns a request failure.
func (r *Recorder) Record(ctx context.Context, userID uuid.UUID, imageURL string, outcome inference.Outcome) RecordResult {
	if r.repo == nil {
		return r.degrade(userID, imageURL, repository.ErrRepositoryUnavailable)
	}

	rec, err := r.repo.CreatePrediction(ctx, repository.CreatePredictionCommand{
		UserID:      userID,
		ImageURL:    imageURL,
		DiseaseName: outcome.Label,
		Confidence:  outcome.Confidence,
	})
	if err != nil {
		return r.degrade(userID, imageURL, err)
	}
	if rec == nil {
		return r.degrade(userID, imageURL, repository.ErrRepositoryUnavailable)
	}

	logger.WithFields(logrus.Fields{
		"prediction_id": rec.ID.String(),
		"user_id":       userID.String(),
	}).Debug("Prediction saved")

	return RecordResult{Record: rec}
}

func (r *Recorder) degrade(userID uuid.UUID, imageURL string, err error) RecordResult {
	logger.WithError(err).WithFields(logrus.Fields{
		"user_id":   userID.String(),
		"image_url": imageURL,
	}).Warn("Database save failed")

	return RecordResult{Warning: PersistWarning, Err: err}
}
