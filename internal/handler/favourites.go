package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/quizapp/internal/model"
	"github.com/sakif/quizapp/internal/service"
)

// FavouriteHandler serves /api/favourites. Every route requires
// auth.RequireAuth.
type FavouriteHandler struct {
	favourites *service.FavouriteService
	logger     *slog.Logger
}

func NewFavouriteHandler(favourites *service.FavouriteService, logger *slog.Logger) *FavouriteHandler {
	return &FavouriteHandler{favourites: favourites, logger: logger}
}

type addFavouriteRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
	ID       string   `json:"id"`
}

type favouritesResponse struct {
	Success    bool                   `json:"success"`
	Message    string                 `json:"message,omitempty"`
	Favourites []model.FavouriteEntry `json:"favourites"`
}

// HandleList handles GET /api/favourites.
func (h *FavouriteHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	favs, err := h.favourites.List(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, favouritesResponse{Success: true, Favourites: favs})
}

// HandleAdd handles POST /api/favourites.
func (h *FavouriteHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req addFavouriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	favs, err := h.favourites.Add(r.Context(), userID, service.FavouriteInput{
		Question: req.Question,
		Options:  req.Options,
		Answer:   req.Answer,
		ID:       req.ID,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, favouritesResponse{
		Success:    true,
		Message:    "Added to favourites",
		Favourites: favs,
	})
}

// HandleRemove handles DELETE /api/favourites/{id}. The id is matched against
// each entry's id, or its question text when the entry has no id.
func (h *FavouriteHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// chi routes on RawPath when the request has one, and then the
	// parameter is still percent-encoded
	key := chi.URLParam(r, "id")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(key); err == nil {
			key = unescaped
		}
	}

	favs, err := h.favourites.Remove(r.Context(), userID, key)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, favouritesResponse{
		Success:    true,
		Message:    "Removed from favourites",
		Favourites: favs,
	})
}

// HandleClear handles DELETE /api/favourites.
func (h *FavouriteHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.favourites.Clear(r.Context(), userID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, favouritesResponse{
		Success:    true,
		Message:    "Favourites cleared",
		Favourites: []model.FavouriteEntry{},
	})
}
