package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PredictionRepository defines persistence operations for prediction records
type PredictionRepository interface {
	// CreatePrediction stores a new record, assigning its ID and creation time
	CreatePrediction(ctx context.Context, cmd CreatePredictionCommand) (*PredictionRecord, error)

	// ListPredictions returns a user's most recent records, newest first
	ListPredictions(ctx context.Context, userID uuid.UUID, limit int) ([]*PredictionRecord, error)
}

// UserRepository defines persistence operations for registered users
type UserRepository interface {
	// CreateUser stores a new user; duplicate emails yield ErrDuplicateEmail
	CreateUser(ctx context.Context, cmd CreateUserCommand) (*User, error)

	// FindUserByEmail looks a user up by its unique email
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}

// PredictionRecord is the persisted audit entry for one successful classification
type PredictionRecord struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"userId"`
	ImageURL    string    `json:"imageUrl"`
	DiseaseName string    `json:"disease"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"date"`
}

// CreatePredictionCommand carries the fields supplied by the caller
type CreatePredictionCommand struct {
	UserID      uuid.UUID
	ImageURL    string
	DiseaseName string
	Confidence  float64
}

// User is a registered principal
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"-"`
}

// CreateUserCommand carries the fields needed to register a user
type CreateUserCommand struct {
	Name         string
	Email        string
	PasswordHash string
}
