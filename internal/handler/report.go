package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pavelanni/quizengine/internal/handler/views"
	appI18n "github.com/pavelanni/quizengine/internal/i18n"
	"github.com/pavelanni/quizengine/internal/model"
)

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	res, err := h.findResult(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load result", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	if res == nil {
		if r.URL.Query().Get("format") == "json" {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		http.Error(w, appI18n.T(r.Context(), "ResultNotFound"), http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, res)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ResultPage(*res).Render(r.Context(), w); err != nil {
		h.logger.Error("render error", "error", err)
	}
}

// findResult looks in the in-memory history first, then in the database.
func (h *Handler) findResult(ctx context.Context, id string) (*model.Result, error) {
	if res, ok := h.stats.Find(id); ok {
		return &res, nil
	}
	if h.history == nil {
		return nil, nil
	}
	return h.history.GetResult(ctx, id)
}
