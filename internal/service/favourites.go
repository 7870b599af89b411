package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/quizapp/internal/apperror"
	"github.com/sakif/quizapp/internal/model"
	"github.com/sakif/quizapp/internal/repository"
)

// FavouriteService manages a user's saved questions.
type FavouriteService struct {
	users  repository.UserRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewFavouriteService(users repository.UserRepository, logger *slog.Logger) *FavouriteService {
	return &FavouriteService{
		users:  users,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// FavouriteInput is a question to save. ID is the question's id in the
// client's question bank and may be empty.
type FavouriteInput struct {
	Question string
	Options  []string
	Answer   string
	ID       string
}

// List returns the user's favourites in the order they were added.
func (s *FavouriteService) List(ctx context.Context, userID string) ([]model.FavouriteEntry, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userError(s.logger, "favourites.list", userID, err)
	}
	if user.Favourites == nil {
		return []model.FavouriteEntry{}, nil
	}
	return user.Favourites, nil
}

// Add saves a question unless it is already a favourite: by id when the
// input has one, otherwise by question text.
func (s *FavouriteService) Add(ctx context.Context, userID string, in FavouriteInput) ([]model.FavouriteEntry, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, apperror.ValidationFailed("question", "question is required")
	}
	if strings.TrimSpace(in.Answer) == "" {
		return nil, apperror.ValidationFailed("answer", "answer is required")
	}

	options := in.Options
	if options == nil {
		options = []string{}
	}
	entry := model.FavouriteEntry{
		Question:   in.Question,
		Options:    options,
		Answer:     in.Answer,
		ExternalID: in.ID,
		AddedAt:    s.now(),
	}

	favourites, err := s.users.AddFavourite(ctx, userID, entry)
	if err != nil {
		if errors.Is(err, apperror.ErrDuplicate) {
			return nil, &apperror.AppError{Err: apperror.ErrDuplicate, Message: msgAlreadyFaved}
		}
		return nil, userError(s.logger, "favourites.add", userID, err)
	}

	s.logger.Info("favourite added",
		slog.String("userID", userID),
		slog.String("key", entry.Key()),
	)
	return favourites, nil
}

// Remove drops entries whose id is key or, for entries without an id, whose
// question is key. Matching nothing returns the list unchanged.
func (s *FavouriteService) Remove(ctx context.Context, userID, key string) ([]model.FavouriteEntry, error) {
	favourites, err := s.users.RemoveFavourite(ctx, userID, key)
	if err != nil {
		return nil, userError(s.logger, "favourites.remove", userID, err)
	}
	return favourites, nil
}

// Clear empties the user's favourites in one store operation.
func (s *FavouriteService) Clear(ctx context.Context, userID string) error {
	if err := s.users.ClearFavourites(ctx, userID); err != nil {
		return userError(s.logger, "favourites.clear", userID, err)
	}
	s.logger.Info("favourites cleared", slog.String("userID", userID))
	return nil
}
