package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLRepository implements PredictionRepository and UserRepository on database/sql.
// It works against both PostgreSQL (pgx) and SQLite.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewSQLRepository creates a repository for an open database. driver is "postgres" or "sqlite".
func NewSQLRepository(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{
		db:     db,
		driver: driver,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the creation-time source.
func (r *SQLRepository) WithClock(now func() time.Time) *SQLRepository {
	r.now = now
	return r
}

// CreatePrediction validates and inserts a prediction record
func (r *SQLRepository) CreatePrediction(ctx context.Context, cmd CreatePredictionCommand) (*PredictionRecord, error) {
	if err := validatePrediction(cmd); err != nil {
		return nil, err
	}

	rec := &PredictionRecord{
		ID:          uuid.New(),
		UserID:      cmd.UserID,
		ImageURL:    cmd.ImageURL,
		DiseaseName: cmd.DiseaseName,
		Confidence:  cmd.Confidence,
		CreatedAt:   r.now().Truncate(time.Microsecond),
	}

	q := rebind(r.driver, `
		INSERT INTO predictions (id, user_id, image_url, disease_name, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	if _, err := r.db.ExecContext(ctx, q,
		rec.ID.String(), rec.UserID.String(), rec.ImageURL, rec.DiseaseName, rec.Confidence, rec.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert prediction: %w", err)
	}

	return rec, nil
}

// ListPredictions returns the newest records owned by userID
func (r *SQLRepository) ListPredictions(ctx context.Context, userID uuid.UUID, limit int) ([]*PredictionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	q := rebind(r.driver, `
		SELECT id, user_id, image_url, disease_name, confidence, created_at
		FROM predictions
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`)

	records, err := QueryMany(ctx, r.db, q, []any{userID.String(), limit}, scanPrediction)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	return records, nil
}

// CreateUser inserts a new user
func (r *SQLRepository) CreateUser(ctx context.Context, cmd CreateUserCommand) (*User, error) {
	email := normalizeEmail(cmd.Email)
	if strings.TrimSpace(cmd.Name) == "" || email == "" || cmd.PasswordHash == "" {
		return nil, fmt.Errorf("%w: name, email and password hash are required", ErrInvalidRecord)
	}

	u := &User{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(cmd.Name),
		Email:        email,
		PasswordHash: cmd.PasswordHash,
		CreatedAt:    r.now().Truncate(time.Microsecond),
	}

	q := rebind(r.driver, `
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`)

	if _, err := r.db.ExecContext(ctx, q, u.ID.String(), u.Name, u.Email, u.PasswordHash, u.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

// FindUserByEmail returns the user registered under email
func (r *SQLRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	q := rebind(r.driver, `
		SELECT id, name, email, password_hash, created_at
		FROM users
		WHERE email = ?`)

	u, err := QueryOne(ctx, r.db, q, []any{normalizeEmail(email)}, scanUser)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func validatePrediction(cmd CreatePredictionCommand) error {
	switch {
	case cmd.UserID == uuid.Nil:
		return fmt.Errorf("%w: owner is required", ErrInvalidRecord)
	case cmd.ImageURL == "":
		return fmt.Errorf("%w: image reference is required", ErrInvalidRecord)
	case cmd.DiseaseName == "":
		return fmt.Errorf("%w: disease label is required", ErrInvalidRecord)
	case math.IsNaN(cmd.Confidence) || cmd.Confidence < 0 || cmd.Confidence > 1:
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidRecord, cmd.Confidence)
	}
	return nil
}

func scanPrediction(s Scanner) (*PredictionRecord, error) {
	var rec PredictionRecord
	if err := s.Scan(&rec.ID, &rec.UserID, &rec.ImageURL, &rec.DiseaseName, &rec.Confidence, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func scanUser(s Scanner) (*User, error) {
	var u User
	if err := s.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
