package models

import "time"

// PredictRequest is the body of POST /api/predict
type PredictRequest struct {
	ImageURL string `json:"imageUrl"`
}

// PredictionResponse is the enriched diagnosis returned for a successful prediction.
// ID is empty and Warning set when the record could not be persisted.
type PredictionResponse struct {
	ID          string   `json:"id,omitempty"`
	ImageURL    string   `json:"imageUrl"`
	Disease     string   `json:"disease"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Suggestions []string `json:"suggestions"`
	Warning     string   `json:"warning,omitempty"`
}

// PredictionSummary is one entry of a user's prediction history
type PredictionSummary struct {
	ID         string    `json:"id"`
	ImageURL   string    `json:"imageUrl"`
	Disease    string    `json:"disease"`
	Confidence float64   `json:"confidence"`
	Date       time.Time `json:"date"`
}

type PredictionHistoryResponse struct {
	Predictions []PredictionSummary `json:"predictions"`
}

type UploadResponse struct {
	ImageURL string `json:"imageUrl"`
}

type UserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type RegisterResponse struct {
	Message string       `json:"message"`
	User    UserResponse `json:"user"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// ErrorResponse represents an error response.
// Error carries operator-facing diagnostic text when there is any.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Time    string `json:"time"`
}
