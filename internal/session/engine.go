package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/quizengine/internal/grading"
	"github.com/pavelanni/quizengine/internal/model"
)

// Explainer produces the short explanation shown with practice-mode feedback.
type Explainer interface {
	Explain(ctx context.Context, q model.Question, answer string, correct bool) string
}

// ExplainerFunc adapts a function to Explainer.
type ExplainerFunc func(ctx context.Context, q model.Question, answer string, correct bool) string

// Explain calls f.
func (f ExplainerFunc) Explain(ctx context.Context, q model.Question, answer string, correct bool) string {
	return f(ctx, q, answer, correct)
}

// Recorder receives every graded result.
type Recorder interface {
	Record(ctx context.Context, r model.Result) error
}

// Engine runs the session state machine: a session is in progress until it
// is finished, either explicitly or when a read finds its time-box spent.
// Finished sessions are graded, recorded and removed from the store.
type Engine struct {
	store     *Store
	explainer Explainer
	recorder  Recorder
	logger    *slog.Logger
}

// NewEngine creates an Engine over store. A nil explainer falls back to a
// plain "correct answer is" sentence; a nil recorder discards results.
func NewEngine(store *Store, explainer Explainer, recorder Recorder, logger *slog.Logger) *Engine {
	if explainer == nil {
		explainer = ExplainerFunc(func(_ context.Context, q model.Question, _ string, _ bool) string {
			return fmt.Sprintf("The correct answer is %s.", q.CorrectAnswer)
		})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, explainer: explainer, recorder: recorder, logger: logger}
}

// Create starts a new session.
func (e *Engine) Create(p CreateParams) string {
	return e.store.Create(p)
}

// with runs fn on an in-progress session while holding its lock.
func (e *Engine) with(id string, fn func(s *model.Session) bool) bool {
	ent, ok := e.store.lookup(id)
	if !ok {
		return false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.sess.Finished {
		return false
	}
	return fn(ent.sess)
}

// remaining returns the seconds left in a timed session, floored at zero.
// Untimed sessions report model.Unbounded.
func (e *Engine) remaining(s *model.Session) int {
	if !s.Timed() {
		return model.Unbounded
	}
	limit := time.Duration(s.TimeLimitMinutes) * time.Minute
	left := limit - e.store.now().Sub(s.StartedAt)
	if left <= 0 {
		return 0
	}
	return int(left.Seconds())
}

// CurrentQuestion returns the question under the cursor. Reading a timed
// session whose time is up finishes it and reports false.
func (e *Engine) CurrentQuestion(ctx context.Context, id string) (model.QuestionView, bool) {
	var view model.QuestionView
	var expired bool
	ok := e.with(id, func(s *model.Session) bool {
		if s.Cursor < 0 || s.Cursor >= len(s.Questions) {
			return false
		}
		left := e.remaining(s)
		if left == 0 {
			e.finishLocked(ctx, s)
			expired = true
			return false
		}
		q := s.Questions[s.Cursor]
		view = model.QuestionView{
			Position:      s.Cursor + 1,
			Total:         len(s.Questions),
			Question:      q.Clone(),
			TimeRemaining: left,
			CurrentAnswer: s.Answers[q.Ordinal],
			Progress:      model.RoundTo(float64(s.Cursor+1)/float64(len(s.Questions))*100, 1),
			Mode:          s.Mode,
		}
		if s.Mode == model.ModePractice {
			if fb, ok := s.Feedback[q.Ordinal]; ok {
				view.Feedback = &fb
			}
		}
		return true
	})
	if expired {
		e.logger.Info("session time expired", "id", id)
	}
	return view, ok
}

// SubmitAnswer stores an answer for the question under the cursor. In
// practice mode the returned result carries correctness feedback.
func (e *Engine) SubmitAnswer(ctx context.Context, id, answer string) model.SubmitResult {
	var res model.SubmitResult
	e.with(id, func(s *model.Session) bool {
		if s.Cursor < 0 || s.Cursor >= len(s.Questions) {
			return false
		}
		q := s.Questions[s.Cursor]
		normalized := strings.ToUpper(strings.TrimSpace(answer))
		s.Answers[q.Ordinal] = normalized
		s.AnsweredAt[q.Ordinal] = e.store.now()
		res.Accepted = true

		if s.Mode == model.ModePractice {
			correct := normalized == strings.ToUpper(q.CorrectAnswer)
			fb := model.Feedback{
				IsCorrect:     correct,
				CorrectAnswer: q.CorrectAnswer,
				UserAnswer:    normalized,
				Explanation:   e.explainer.Explain(ctx, q, normalized, correct),
			}
			s.Feedback[q.Ordinal] = fb
			res.Feedback = &fb
		}
		return true
	})
	return res
}

// Next moves the cursor forward. It reports false at the last question.
func (e *Engine) Next(id string) bool {
	return e.with(id, func(s *model.Session) bool {
		if s.Cursor+1 >= len(s.Questions) {
			return false
		}
		s.Cursor++
		return true
	})
}

// Previous moves the cursor back. It reports false at the first question.
func (e *Engine) Previous(id string) bool {
	return e.with(id, func(s *model.Session) bool {
		if s.Cursor <= 0 {
			return false
		}
		s.Cursor--
		return true
	})
}

// Goto jumps to a 1-based position. Out-of-range positions leave the
// cursor where it was.
func (e *Engine) Goto(id string, position int) bool {
	return e.with(id, func(s *model.Session) bool {
		if position < 1 || position > len(s.Questions) {
			return false
		}
		s.Cursor = position - 1
		return true
	})
}

// Overview reports progress and timing for an active session.
func (e *Engine) Overview(id string) (model.Overview, bool) {
	var ov model.Overview
	ok := e.with(id, func(s *model.Session) bool {
		answered := 0
		unanswered := []int{}
		for i, q := range s.Questions {
			if s.Answers[q.Ordinal] != "" {
				answered++
			} else {
				unanswered = append(unanswered, i+1)
			}
		}
		progress := 0.0
		if len(s.Questions) > 0 {
			progress = model.RoundTo(float64(answered)/float64(len(s.Questions))*100, 1)
		}
		ov = model.Overview{
			StudentName:   s.StudentName,
			Title:         s.Title,
			Mode:          s.Mode,
			Total:         len(s.Questions),
			Answered:      answered,
			Unanswered:    unanswered,
			TimeRemaining: e.remaining(s),
			TimeElapsed:   grading.FormatDuration(e.store.now().Sub(s.StartedAt)),
			Progress:      progress,
		}
		return true
	})
	return ov, ok
}

// Finish ends a session, grades it and records the result. Finishing an
// unknown or already finished session reports false.
func (e *Engine) Finish(ctx context.Context, id string) (*model.Result, bool) {
	var res *model.Result
	e.with(id, func(s *model.Session) bool {
		res = e.finishLocked(ctx, s)
		return true
	})
	return res, res != nil
}

// finishLocked must be called with the session lock held.
func (e *Engine) finishLocked(ctx context.Context, s *model.Session) *model.Result {
	now := e.store.now()
	s.Finished = true
	s.EndedAt = &now

	res := grading.Grade(s)
	e.store.Remove(s.ID)

	e.logger.Info("session finished",
		"id", s.ID,
		"student", s.StudentName,
		"score", res.Score,
		"correct", res.Correct,
		"total", res.Total,
	)

	if e.recorder != nil {
		// The result outlives the request that finished the session.
		if err := e.recorder.Record(context.WithoutCancel(ctx), res); err != nil {
			e.logger.Error("failed to record result", "id", s.ID, "error", err)
		}
	}
	return &res
}

// Sweep finishes timed sessions whose time-box ran out without a further
// read. It returns the number of sessions finished.
func (e *Engine) Sweep(ctx context.Context) int {
	n := 0
	for _, id := range e.store.IDs() {
		e.with(id, func(s *model.Session) bool {
			if e.remaining(s) != 0 {
				return false
			}
			e.finishLocked(ctx, s)
			n++
			return true
		})
	}
	if n > 0 {
		e.logger.Info("reclaimed expired sessions", "count", n)
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}
