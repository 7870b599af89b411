package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/quizapp/internal/apperror"
	"github.com/sakif/quizapp/internal/model"
	"github.com/sakif/quizapp/internal/repository"
)

// MaxCategoryLength caps the category label of a score entry.
const MaxCategoryLength = 100

// ScoreService records quiz results and the diamonds they pay out.
type ScoreService struct {
	users  repository.UserRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewScoreService(users repository.UserRepository, logger *slog.Logger) *ScoreService {
	return &ScoreService{
		users:  users,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ScoreInput is a submitted quiz result. Score is a pointer so an absent
// score can be told apart from a score of 0; a nil CorrectAnswers counts as 0.
type ScoreInput struct {
	Score          *int
	Category       string
	CorrectAnswers *int
}

// ScoreResult is what Submit returns.
type ScoreResult struct {
	Entry          model.ScoreEntry
	DiamondsEarned int
	TotalDiamonds  int
}

// ScoreSummary is a user's score history with the current balance.
type ScoreSummary struct {
	Scores   []model.ScoreEntry
	Diamonds int
}

// Submit appends a score entry and credits 5 diamonds per correct answer.
// The append and the credit are one atomic store operation.
func (s *ScoreService) Submit(ctx context.Context, userID string, in ScoreInput) (*ScoreResult, error) {
	category := in.Category
	if in.Score == nil || strings.TrimSpace(category) == "" {
		return nil, apperror.ValidationFailed("score", "Score and category are required")
	}
	if len(category) > MaxCategoryLength {
		return nil, apperror.ValidationFailed("category",
			fmt.Sprintf("category must be %d characters or less", MaxCategoryLength))
	}

	correct := 0
	if in.CorrectAnswers != nil {
		correct = *in.CorrectAnswers
	}
	if correct < 0 {
		return nil, apperror.ValidationFailed("correctAnswers", "correctAnswers must not be negative")
	}
	if correct > model.MaxCorrectAnswers {
		return nil, apperror.ValidationFailed("correctAnswers",
			fmt.Sprintf("correctAnswers must be %d or less", model.MaxCorrectAnswers))
	}

	entry := model.ScoreEntry{
		Score:          *in.Score,
		Category:       category,
		CorrectAnswers: correct,
		RecordedAt:     s.now(),
	}
	earned := entry.DiamondsEarned()

	total, err := s.users.AppendScore(ctx, userID, entry, earned)
	if err != nil {
		if errors.Is(err, apperror.ErrValidation) {
			return nil, err
		}
		return nil, userError(s.logger, "scores.submit", userID, err)
	}

	s.logger.Info("score saved",
		slog.String("userID", userID),
		slog.String("category", category),
		slog.Int("diamondsEarned", earned),
		slog.Int("totalDiamonds", total),
	)

	return &ScoreResult{
		Entry:          entry,
		DiamondsEarned: earned,
		TotalDiamonds:  total,
	}, nil
}

// List returns every score entry in submission order and the balance.
func (s *ScoreService) List(ctx context.Context, userID string) (*ScoreSummary, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userError(s.logger, "scores.list", userID, err)
	}

	scores := user.Scores
	if scores == nil {
		scores = []model.ScoreEntry{}
	}
	return &ScoreSummary{Scores: scores, Diamonds: user.Diamonds}, nil
}

// Diamonds returns the user's current balance.
func (s *ScoreService) Diamonds(ctx context.Context, userID string) (int, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return 0, userError(s.logger, "scores.diamonds", userID, err)
	}
	return user.Diamonds, nil
}
