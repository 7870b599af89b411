// Package service contains the business logic of the quiz backend.
//
//	Handler (HTTP) → Service (rules) → repository.UserRepository (store)
//
// Services take plain Go values and return apperror values; they know nothing
// about HTTP. The handler layer maps apperror sentinels to status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/quizapp/internal/apperror"
	"github.com/sakif/quizapp/internal/auth"
	"github.com/sakif/quizapp/internal/model"
	"github.com/sakif/quizapp/internal/repository"
)

// Messages returned to clients. Store-level errors are rewritten to these so
// both backends answer the same way.
const (
	msgUserNotFound = "User not found"
	msgEmailTaken   = "User already exists with this email"
	msgAlreadyFaved = "Already in favourites"
)

// MaxFullNameBytes caps the stored display name.
const MaxFullNameBytes = 200

// AccountService handles signup, login and profile lookup.
type AccountService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewAccountService creates an AccountService with all required dependencies.
func NewAccountService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult bundles the user and the token issued for it.
type AuthResult struct {
	User  *model.User
	Token string
}

// Signup registers a new account and issues a token for it.
//
// The email lookup is advisory. Two concurrent signups can both pass it; the
// store's unique constraint then rejects the second, and that rejection is
// reported exactly like the lookup hit.
func (s *AccountService) Signup(ctx context.Context, email, fullName, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	fullName = strings.TrimSpace(fullName)

	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperror.ValidationFailed("email", "email must be a valid address")
	}
	if fullName == "" {
		return nil, apperror.ValidationFailed("fullName", "full name is required")
	}
	if len(fullName) > MaxFullNameBytes {
		return nil, apperror.ValidationFailed("fullName",
			fmt.Sprintf("full name must be %d characters or less", MaxFullNameBytes))
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, emailTaken()
	} else if !errors.Is(err, apperror.ErrNotFound) {
		s.logger.Error("failed to look up email",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/account: looking up email: %w", err)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password",
				fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
		}
		return nil, fmt.Errorf("service/account: hashing password: %w", err)
	}

	user := &model.User{
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		Scores:       []model.ScoreEntry{},
		Favourites:   []model.FavouriteEntry{},
		Diamonds:     0,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			s.logger.Warn("signup lost email race", slog.String("email", email))
			return nil, emailTaken()
		}
		s.logger.Error("failed to create user",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/account: creating user: %w", err)
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: generating token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user signed up", slog.String("userID", user.ID))

	return &AuthResult{User: user, Token: token}, nil
}

// Login checks credentials and issues a token. An unknown email and a wrong
// password both return apperror.InvalidCredentials.
func (s *AccountService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("email", "email and password are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/account: looking up user: %w", err)
	}

	if !s.passwords.Verify(user.PasswordHash, password) {
		s.logger.Info("login rejected", slog.String("userID", user.ID))
		return nil, apperror.InvalidCredentials()
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: generating token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))

	return &AuthResult{User: user, Token: token}, nil
}

// GetUser returns the user for the given ID.
func (s *AccountService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userError(s.logger, "account.get", userID, err)
	}
	return user, nil
}

// normalizeEmail trims surrounding whitespace. Case is preserved: emails are
// compared exactly as stored.
func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

func emailTaken() *apperror.AppError {
	return &apperror.AppError{Err: apperror.ErrConflict, Message: msgEmailTaken, Field: "email"}
}

// userError converts a repository error for the caller. A miss becomes the
// client-facing "User not found"; anything else is logged and wrapped.
func userError(logger *slog.Logger, op, userID string, err error) error {
	if errors.Is(err, apperror.ErrNotFound) {
		return &apperror.AppError{Err: apperror.ErrNotFound, Message: msgUserNotFound}
	}
	logger.Error("store operation failed",
		slog.String("op", op),
		slog.String("userID", userID),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("service/%s: user %s: %w", op, userID, err)
}
