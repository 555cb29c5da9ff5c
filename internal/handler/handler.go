package handler

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/pavelanni/quizengine/internal/catalog"
	"github.com/pavelanni/quizengine/internal/model"
	"github.com/pavelanni/quizengine/internal/session"
	"github.com/pavelanni/quizengine/internal/stats"
)

// History is the persistent side of the server: stored results and the
// content hashes of uploaded question sets.
type History interface {
	GetResult(ctx context.Context, sessionID string) (*model.Result, error)
	GetImportedFileHash(path string) (string, error)
	SetImportedFileHash(path, hash string) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	engine  *session.Engine
	library *catalog.Library
	stats   *stats.Aggregator
	history History
	config  model.ExamConfig
	logger  *slog.Logger
}

// New creates a new Handler. history may be nil when nothing is persisted.
func New(engine *session.Engine, library *catalog.Library, agg *stats.Aggregator, history History, cfg model.ExamConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:  engine,
		library: library,
		stats:   agg,
		history: history,
		config:  cfg,
		logger:  logger,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(sr chi.Router) {
		sr.Get("/current", h.handleCurrent)
		sr.Post("/answer", h.handleAnswer)
		sr.Post("/next", h.handleNext)
		sr.Post("/previous", h.handlePrevious)
		sr.Post("/goto/{position}", h.handleGoto)
		sr.Get("/overview", h.handleOverview)
		sr.Post("/finish", h.handleFinish)
	})

	r.Get("/statistics", h.handleStatistics)
	r.Get("/results/{sessionID}", h.handleResult)

	r.Get("/quizzes", h.handleListQuizzes)
	r.Route("/quizzes/{name}", func(qr chi.Router) {
		qr.Get("/", h.handleGetQuiz)
		qr.Post("/", h.handleSaveQuiz)
		qr.Delete("/", h.handleDeleteQuiz)
		qr.Put("/questions/{index}", h.handleUpdateQuestion)
		qr.Post("/questions/{index}/images", h.handleAddImage)
		qr.Get("/questions/{index}/images", h.handleListImages)
	})
}
