package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/quizapp/internal/model"
	"github.com/sakif/quizapp/internal/service"
)

// ScoreHandler serves /api/scores. Every route requires auth.RequireAuth.
type ScoreHandler struct {
	scores *service.ScoreService
	logger *slog.Logger
}

func NewScoreHandler(scores *service.ScoreService, logger *slog.Logger) *ScoreHandler {
	return &ScoreHandler{scores: scores, logger: logger}
}

// submitScoreRequest uses pointers so a missing field differs from zero.
type submitScoreRequest struct {
	Score          *int   `json:"score"`
	Category       string `json:"category"`
	CorrectAnswers *int   `json:"correctAnswers"`
}

type submitScoreResponse struct {
	Success        bool             `json:"success"`
	Message        string           `json:"message"`
	Score          model.ScoreEntry `json:"score"`
	DiamondsEarned int              `json:"diamondsEarned"`
	TotalDiamonds  int              `json:"totalDiamonds"`
}

type listScoresResponse struct {
	Success  bool               `json:"success"`
	Scores   []model.ScoreEntry `json:"scores"`
	Diamonds int                `json:"diamonds"`
}

type diamondsResponse struct {
	Success  bool `json:"success"`
	Diamonds int  `json:"diamonds"`
}

// HandleSubmit handles POST /api/scores.
func (h *ScoreHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req submitScoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.scores.Submit(r.Context(), userID, service.ScoreInput{
		Score:          req.Score,
		Category:       req.Category,
		CorrectAnswers: req.CorrectAnswers,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitScoreResponse{
		Success:        true,
		Message:        "Score saved successfully",
		Score:          result.Entry,
		DiamondsEarned: result.DiamondsEarned,
		TotalDiamonds:  result.TotalDiamonds,
	})
}

// HandleList handles GET /api/scores.
func (h *ScoreHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	summary, err := h.scores.List(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, listScoresResponse{
		Success:  true,
		Scores:   summary.Scores,
		Diamonds: summary.Diamonds,
	})
}

// HandleDiamonds handles GET /api/scores/diamonds.
func (h *ScoreHandler) HandleDiamonds(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	diamonds, err := h.scores.Diamonds(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, diamondsResponse{Success: true, Diamonds: diamonds})
}
