// Package session holds active test sessions and drives their lifecycle.
package session

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/quizengine/internal/model"
)

// answerLabels are the labels used when 4-choice answers are shuffled.
var answerLabels = []string{"A", "B", "C", "D"}

// CreateParams describes a new session.
type CreateParams struct {
	StudentName      string
	Title            string
	Questions        []model.Question
	TimeLimit        int // minutes; ignored in practice mode
	ShuffleQuestions bool
	ShuffleAnswers   bool
	Mode             model.Mode
	Settings         map[string]any
}

type entry struct {
	mu   sync.Mutex
	sess *model.Session
}

// Store owns the set of active sessions. Membership is guarded by the
// store lock; each session has its own lock so operations on one id run
// serially while different ids proceed in parallel.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for timestamps and time-boxes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRand sets the random source used for shuffling. The source must not
// be shared with other goroutines.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) {
		var mu sync.Mutex
		s.shuffle = func(n int, swap func(i, j int)) {
			mu.Lock()
			defer mu.Unlock()
			r.Shuffle(n, swap)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		now:      time.Now,
		shuffle:  rand.Shuffle,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create builds a session from p, stores it and returns its id. The input
// questions are copied; the caller's slice is never modified. Questions are
// renumbered 1..N in session order, after shuffling when requested.
func (s *Store) Create(p CreateParams) string {
	questions := make([]model.Question, len(p.Questions))
	for i, q := range p.Questions {
		questions[i] = q.Clone()
	}

	if p.ShuffleQuestions {
		s.shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}
	for i := range questions {
		questions[i].Ordinal = i + 1
	}
	if p.ShuffleAnswers {
		for i := range questions {
			s.shuffleChoices(&questions[i])
		}
	}

	mode := p.Mode
	if mode == "" {
		mode = model.ModeExam
	}
	limit := p.TimeLimit
	if mode == model.ModePractice || limit <= 0 {
		limit = model.Unbounded
	}
	settings := make(map[string]any, len(p.Settings))
	for k, v := range p.Settings {
		settings[k] = v
	}

	now := s.now()
	sess := &model.Session{
		ID:               newID(now),
		StudentName:      p.StudentName,
		Title:            p.Title,
		StartedAt:        now,
		TimeLimitMinutes: limit,
		Questions:        questions,
		Answers:          make(map[int]string),
		AnsweredAt:       make(map[int]time.Time),
		Feedback:         make(map[int]model.Feedback),
		Mode:             mode,
		Settings:         settings,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &entry{sess: sess}
	s.mu.Unlock()

	s.logger.Info("created session",
		"id", sess.ID,
		"student", sess.StudentName,
		"title", sess.Title,
		"questions", len(questions),
		"mode", mode,
		"time_limit", limit,
	)
	return sess.ID
}

// shuffleChoices permutes the content of a 4-choice question across labels
// A-D and moves the correct label to wherever the correct content landed.
// Questions with any other number of choices are left alone.
func (s *Store) shuffleChoices(q *model.Question) {
	if len(q.Choices) != len(answerLabels) {
		return
	}
	labels := q.Labels()
	correctIdx := -1
	for i, l := range labels {
		if strings.EqualFold(l, q.CorrectAnswer) {
			correctIdx = i
		}
	}
	if correctIdx < 0 {
		s.logger.Warn("correct answer is not among choices, skipping answer shuffle",
			"ordinal", q.Ordinal, "correct", q.CorrectAnswer)
		return
	}

	perm := []int{0, 1, 2, 3}
	s.shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

	choices := make(map[string]string, len(answerLabels))
	for pos, src := range perm {
		choices[answerLabels[pos]] = q.Choices[labels[src]]
		if src == correctIdx {
			q.CorrectAnswer = answerLabels[pos]
		}
	}
	q.Choices = choices
}

// Get returns a snapshot of the session with the given id. Changes to the
// snapshot do not reach the stored session.
func (s *Store) Get(id string) (*model.Session, bool) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), true
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}

// Remove drops a session. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IDs returns the ids of all active sessions in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// newID combines a timestamp with a random suffix.
func newID(now time.Time) string {
	u := uuid.New()
	return now.UTC().Format("20060102150405") + "-" + strings.ReplaceAll(u.String(), "-", "")[:12]
}
