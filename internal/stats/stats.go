// Package stats aggregates graded results into history-wide analytics.
package stats

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/pavelanni/quizengine/internal/model"
)

// PassScore is the minimum score (0-10 scale) counted as a pass.
const PassScore = 5.0

// Aggregator holds the result history, oldest first. Every summary is
// recomputed from the full history.
type Aggregator struct {
	mu      sync.RWMutex
	results []model.Result
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Load appends previously persisted results, oldest first.
func (a *Aggregator) Load(results []model.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, results...)
}

// Ingest appends a result to the history.
func (a *Aggregator) Ingest(r model.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
}

// Results returns a copy of the history.
func (a *Aggregator) Results() []model.Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]model.Result(nil), a.results...)
}

// Find returns the result for a session id.
func (a *Aggregator) Find(sessionID string) (model.Result, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := len(a.results) - 1; i >= 0; i-- {
		if a.results[i].SessionID == sessionID {
			return a.results[i], true
		}
	}
	return model.Result{}, false
}

// Summary computes statistics over the whole history and lists up to
// recent most recently finished tests.
func (a *Aggregator) Summary(recent int) model.Statistics {
	a.mu.RLock()
	results := append([]model.Result(nil), a.results...)
	a.mu.RUnlock()

	st := model.Statistics{
		ModeDistribution:   make(map[model.Mode]int),
		DifficultyAnalysis: make(map[string]*model.Bucket),
		SubjectAnalysis:    make(map[string]*model.Bucket),
		MonthlyPerformance: make(map[string]*model.MonthStats),
		RecentTests:        []model.RecentTest{},
	}
	if len(results) == 0 {
		return st
	}

	st.TotalTests = len(results)
	st.HighestScore = results[0].Score
	st.LowestScore = results[0].Score

	var scoreSum, pctSum float64
	passed := 0
	monthSums := make(map[string]float64)
	for _, r := range results {
		scoreSum += r.Score
		pctSum += r.Percentage
		if r.Score > st.HighestScore {
			st.HighestScore = r.Score
		}
		if r.Score < st.LowestScore {
			st.LowestScore = r.Score
		}
		if r.Score >= PassScore {
			passed++
		}
		st.ModeDistribution[r.Mode]++

		for _, q := range r.Questions {
			correct := q.Status == model.StatusCorrect
			bucket(st.DifficultyAnalysis, string(q.Difficulty)).Add(correct)
			bucket(st.SubjectAnalysis, q.Subject).Add(correct)
		}

		month := r.FinishedAt.Format("2006-01")
		ms, ok := st.MonthlyPerformance[month]
		if !ok {
			ms = &model.MonthStats{}
			st.MonthlyPerformance[month] = ms
		}
		ms.Count++
		monthSums[month] += r.Score
	}
	for month, ms := range st.MonthlyPerformance {
		ms.AvgScore = model.RoundTo(monthSums[month]/float64(ms.Count), 2)
	}

	n := float64(len(results))
	st.AverageScore = model.RoundTo(scoreSum/n, 2)
	st.AveragePercentage = model.RoundTo(pctSum/n, 2)
	st.PassRate = model.RoundTo(float64(passed)/n*100, 2)

	sorted := append([]model.Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FinishedAt.After(sorted[j].FinishedAt)
	})
	if recent >= 0 && recent < len(sorted) {
		sorted = sorted[:recent]
	}
	for _, r := range sorted {
		st.RecentTests = append(st.RecentTests, model.RecentTest{
			SessionID:  r.SessionID,
			Student:    r.StudentName,
			Title:      r.Title,
			Score:      r.Score,
			Percentage: r.Percentage,
			Questions:  r.Total,
			Mode:       r.Mode,
			FinishedAt: r.FinishedAt,
			TimeTaken:  r.TimeTaken,
		})
	}
	return st
}

func bucket(m map[string]*model.Bucket, key string) *model.Bucket {
	b, ok := m[key]
	if !ok {
		b = &model.Bucket{}
		m[key] = b
	}
	return b
}

// Persister stores results durably.
type Persister interface {
	SaveResult(ctx context.Context, r model.Result) error
}

// Recorder ingests results into an Aggregator and then persists them. A
// persistence failure is returned but the result stays in the history.
type Recorder struct {
	agg       *Aggregator
	persister Persister
	logger    *slog.Logger
}

// NewRecorder creates a Recorder. persister may be nil.
func NewRecorder(agg *Aggregator, persister Persister, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{agg: agg, persister: persister, logger: logger}
}

// Record implements session.Recorder.
func (r *Recorder) Record(ctx context.Context, res model.Result) error {
	r.agg.Ingest(res)
	if r.persister == nil {
		return nil
	}
	if err := r.persister.SaveResult(ctx, res); err != nil {
		return err
	}
	r.logger.Debug("persisted result", "session_id", res.SessionID)
	return nil
}
