package auth

import (
	"context"
	"errors"
	"strings"

	apperrors "go-leaf-doctor/internal/errors"
	"go-leaf-doctor/internal/logger"
	"go-leaf-doctor/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt work factor for stored password hashes
const PasswordCost = 10

// HashPassword returns the bcrypt hash of password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token string    `json:"token"`
	User  Principal `json:"user"`
}

// Service implements registration and login on top of a UserRepository.
type Service struct {
	users  repository.UserRepository
	tokens *TokenIssuer
}

func NewService(users repository.UserRepository, tokens *TokenIssuer) *Service {
	return &Service{users: users, tokens: tokens}
}

// Register creates a user. Missing fields are a validation error and an
// already registered email is a conflict.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Principal, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return nil, apperrors.NewValidationError("Missing fields", nil)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, apperrors.NewInternalError("Server error", err)
	}

	user, err := s.users.CreateUser(ctx, repository.CreateUserCommand{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperrors.NewConflictError("Email already registered", err)
		}
		return nil, apperrors.NewInternalError("Server error", err)
	}

	logger.WithField("user_id", user.ID.String()).Info("User registered")
	return &Principal{ID: user.ID, Email: user.Email, Name: user.Name}, nil
}

// Login checks credentials and issues a token. Unknown email and wrong
// password produce the same error.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return nil, apperrors.NewValidationError("Missing fields", nil)
	}

	user, err := s.users.FindUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperrors.NewUnauthorizedError("Invalid credentials", nil)
		}
		return nil, apperrors.NewInternalError("Server error", err)
	}
	if !CheckPassword(user.PasswordHash, in.Password) {
		return nil, apperrors.NewUnauthorizedError("Invalid credentials", nil)
	}

	p := Principal{ID: user.ID, Email: user.Email, Name: user.Name}
	token, err := s.tokens.Issue(p)
	if err != nil {
		return nil, apperrors.NewInternalError("Server error", err)
	}

	return &LoginResult{Token: token, User: p}, nil
}

// Authenticate resolves a bearer token into a principal
func (s *Service) Authenticate(token string) (*Principal, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperrors.NewUnauthorizedError("No token, authorization denied", nil)
	}
	p, err := s.tokens.Verify(token)
	if err != nil {
		return nil, apperrors.NewUnauthorizedError("Token is not valid", err)
	}
	return p, nil
}
