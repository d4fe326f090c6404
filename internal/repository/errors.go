package repository

import "errors"

var (
	// ErrUserNotFound indicates no user matched the lookup key
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateEmail indicates a user with the same email already exists
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidRecord indicates a record violates its invariants and was not written
	ErrInvalidRecord = errors.New("invalid record")

	// ErrRepositoryUnavailable indicates the repository is unavailable
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
