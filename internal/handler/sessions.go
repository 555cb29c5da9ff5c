package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pavelanni/quizengine/internal/catalog"
	"github.com/pavelanni/quizengine/internal/model"
	"github.com/pavelanni/quizengine/internal/session"
)

type createSessionRequest struct {
	StudentName      string              `json:"student_name"`
	Title            string              `json:"title"`
	Quiz             string              `json:"quiz"`
	Questions        []model.RawQuestion `json:"questions"`
	TimeLimit        *int                `json:"time_limit"`
	ShuffleQuestions *bool               `json:"shuffle_questions"`
	ShuffleAnswers   *bool               `json:"shuffle_answers"`
	Mode             string              `json:"mode"`
	Settings         map[string]any      `json:"settings"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type moveResponse struct {
	Moved   bool               `json:"moved"`
	Current model.QuestionView `json:"current"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	var questions []model.Question
	switch {
	case req.Quiz != "":
		qs, err := h.library.Load(req.Quiz)
		if errors.Is(err, catalog.ErrQuizNotFound) {
			writeError(w, http.StatusNotFound, "quiz not found")
			return
		}
		if err != nil {
			h.logger.Error("failed to load quiz", "quiz", req.Quiz, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load quiz")
			return
		}
		questions = qs
		if req.Title == "" {
			req.Title = catalog.SanitizeName(req.Quiz)
		}
	default:
		questions = catalog.Normalize(req.Questions)
	}
	if len(questions) == 0 {
		writeError(w, http.StatusBadRequest, "no questions")
		return
	}

	p := session.CreateParams{
		StudentName:      req.StudentName,
		Title:            req.Title,
		Questions:        questions,
		TimeLimit:        h.config.TimeLimit,
		ShuffleQuestions: h.config.ShuffleQuestions,
		ShuffleAnswers:   h.config.ShuffleAnswers,
		Mode:             h.config.Mode,
		Settings:         req.Settings,
	}
	if req.TimeLimit != nil {
		p.TimeLimit = *req.TimeLimit
	}
	if req.ShuffleQuestions != nil {
		p.ShuffleQuestions = *req.ShuffleQuestions
	}
	if req.ShuffleAnswers != nil {
		p.ShuffleAnswers = *req.ShuffleAnswers
	}
	if req.Mode != "" {
		p.Mode = model.ParseMode(req.Mode)
	}
	if p.Mode == "" {
		p.Mode = model.ModeExam
	}

	id := h.engine.Create(p)
	writeJSON(w, http.StatusCreated, createSessionResponse{ID: id})
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	view, ok := h.engine.CurrentQuestion(r.Context(), chi.URLParam(r, "sessionID"))
	if !ok {
		writeSessionNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	res := h.engine.SubmitAnswer(r.Context(), chi.URLParam(r, "sessionID"), req.Answer)
	if !res.Accepted {
		writeSessionNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	h.writeMove(w, r, id, h.engine.Next(id))
}

func (h *Handler) handlePrevious(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	h.writeMove(w, r, id, h.engine.Previous(id))
}

func (h *Handler) handleGoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	position, err := strconv.Atoi(chi.URLParam(r, "position"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "position must be an integer")
		return
	}
	h.writeMove(w, r, id, h.engine.Goto(id, position))
}

// writeMove reports a navigation outcome together with the question now
// under the cursor.
func (h *Handler) writeMove(w http.ResponseWriter, r *http.Request, id string, moved bool) {
	view, ok := h.engine.CurrentQuestion(r.Context(), id)
	if !ok {
		writeSessionNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, moveResponse{Moved: moved, Current: view})
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	ov, ok := h.engine.Overview(chi.URLParam(r, "sessionID"))
	if !ok {
		writeSessionNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	res, ok := h.engine.Finish(r.Context(), chi.URLParam(r, "sessionID"))
	if !ok {
		writeSessionNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	recent, err := parseIntParam(r, "recent", h.config.RecentTests)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Summary(recent))
}
