package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/quizengine/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memRecorder struct {
	results []model.Result
	err     error
}

func (r *memRecorder) Record(_ context.Context, res model.Result) error {
	r.results = append(r.results, res)
	return r.err
}

type testEnv struct {
	clock    *fakeClock
	store    *Store
	engine   *Engine
	recorder *memRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := NewStore(WithClock(clock.Now))
	rec := &memRecorder{}
	return &testEnv{
		clock:    clock,
		store:    store,
		engine:   NewEngine(store, nil, rec, nil),
		recorder: rec,
	}
}

func twoQuestions() []model.Question {
	return []model.Question{
		{Ordinal: 1, Text: "Q1", Choices: map[string]string{"A": "x", "B": "y"}, CorrectAnswer: "A", Difficulty: model.DifficultyEasy, Subject: "s"},
		{Ordinal: 2, Text: "Q2", Choices: map[string]string{"A": "p", "B": "q"}, CorrectAnswer: "B", Difficulty: model.DifficultyHard, Subject: "s"},
	}
}

func (env *testEnv) create(mode model.Mode, limit int, questions []model.Question) string {
	return env.engine.Create(CreateParams{
		StudentName: "Lan",
		Title:       "Quiz",
		Questions:   questions,
		TimeLimit:   limit,
		Mode:        mode,
	})
}

func TestEngineAllCorrect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.create(model.ModeExam, 1, twoQuestions())

	if res := env.engine.SubmitAnswer(ctx, id, "a"); !res.Accepted {
		t.Fatal("expected answer to be accepted")
	}
	if !env.engine.Next(id) {
		t.Fatal("expected Next to succeed")
	}
	env.engine.SubmitAnswer(ctx, id, "b")

	res, ok := env.engine.Finish(ctx, id)
	if !ok {
		t.Fatal("expected Finish to return a result")
	}
	if res.Correct != 2 || res.Wrong != 0 || res.Unanswered != 0 {
		t.Errorf("unexpected counts %d/%d/%d", res.Correct, res.Wrong, res.Unanswered)
	}
	if res.Score != 10 || res.Percentage != 100 {
		t.Errorf("expected 10/100, got %v/%v", res.Score, res.Percentage)
	}
	if len(env.recorder.results) != 1 {
		t.Errorf("expected one recorded result, got %d", len(env.recorder.results))
	}
}

func TestEngineFinishWithoutAnswers(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(model.ModeExam, 1, twoQuestions())

	res, ok := env.engine.Finish(context.Background(), id)
	if !ok {
		t.Fatal("expected result")
	}
	if res.Correct != 0 || res.Unanswered != 2 || res.Score != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestEngineFinishIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.create(model.ModeExam, 5, twoQuestions())

	if _, ok := env.engine.Finish(ctx, id); !ok {
		t.Fatal("first Finish should succeed")
	}
	if _, ok := env.store.Get(id); ok {
		t.Error("finished session must be removed from the store")
	}
	if res, ok := env.engine.Finish(ctx, id); ok || res != nil {
		t.Error("second Finish should report absent")
	}
	if _, ok := env.engine.CurrentQuestion(ctx, id); ok {
		t.Error("CurrentQuestion on finished session should fail")
	}
	if env.engine.SubmitAnswer(ctx, id, "A").Accepted {
		t.Error("SubmitAnswer on finished session should fail")
	}
	if env.engine.Next(id) || env.engine.Previous(id) || env.engine.Goto(id, 1) {
		t.Error("navigation on finished session should fail")
	}
	if _, ok := env.engine.Overview(id); ok {
		t.Error("Overview on finished session should fail")
	}
	if len(env.recorder.results) != 1 {
		t.Errorf("expected one recorded result, got %d", len(env.recorder.results))
	}
}

func TestEngineUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, ok := env.engine.Finish(ctx, "missing"); ok {
		t.Error("Finish on unknown id should report absent")
	}
	if _, ok := env.engine.CurrentQuestion(ctx, "missing"); ok {
		t.Error("CurrentQuestion on unknown id should fail")
	}
}

func TestEngineGotoAndCurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	var qs []model.Question
	for i := 1; i <= 5; i++ {
		qs = append(qs, model.Question{Ordinal: i, Text: string(rune('A' + i - 1)), CorrectAnswer: "A"})
	}
	id := env.create(model.ModeExam, 10, qs)

	for pos := 1; pos <= 5; pos++ {
		if !env.engine.Goto(id, pos) {
			t.Fatalf("Goto(%d) failed", pos)
		}
		view, ok := env.engine.CurrentQuestion(ctx, id)
		if !ok {
			t.Fatalf("CurrentQuestion after Goto(%d) failed", pos)
		}
		if view.Position != pos || view.Question.Ordinal != pos {
			t.Errorf("Goto(%d): got position %d ordinal %d", pos, view.Position, view.Question.Ordinal)
		}
	}

	env.engine.Goto(id, 3)
	for _, bad := range []int{0, -1, 6, 100} {
		if env.engine.Goto(id, bad) {
			t.Errorf("Goto(%d) should fail", bad)
		}
	}
	view, _ := env.engine.CurrentQuestion(ctx, id)
	if view.Position != 3 {
		t.Errorf("failed Goto moved the cursor to %d", view.Position)
	}
}

func TestEngineNavigationBoundaries(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(model.ModeExam, 10, twoQuestions())

	if env.engine.Previous(id) {
		t.Error("Previous at first question should fail")
	}
	if !env.engine.Next(id) {
		t.Error("Next from first question should succeed")
	}
	if env.engine.Next(id) {
		t.Error("Next at last question should fail")
	}
	if !env.engine.Previous(id) {
		t.Error("Previous from last question should succeed")
	}
}

func TestEngineAnswerKeyedByOrdinal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.create(model.ModeExam, 10, twoQuestions())

	env.engine.Goto(id, 2)
	env.engine.SubmitAnswer(ctx, id, " b ")
	env.engine.Previous(id)
	view, _ := env.engine.CurrentQuestion(ctx, id)
	if view.CurrentAnswer != "" {
		t.Errorf("question 1 should be unanswered, got %q", view.CurrentAnswer)
	}
	env.engine.Next(id)
	view, _ = env.engine.CurrentQuestion(ctx, id)
	if view.CurrentAnswer != "B" {
		t.Errorf("question 2 answer = %q, want B", view.CurrentAnswer)
	}
}

func TestEngineTimeExpiryOnRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.create(model.ModeExam, 1, twoQuestions())
	env.engine.SubmitAnswer(ctx, id, "A")

	first, ok := env.engine.CurrentQuestion(ctx, id)
	if !ok || first.TimeRemaining != 60 {
		t.Fatalf("expected 60s remaining, got %d (ok=%v)", first.TimeRemaining, ok)
	}
	env.clock.Advance(15 * time.Second)
	second, _ := env.engine.CurrentQuestion(ctx, id)
	if second.TimeRemaining > first.TimeRemaining || second.TimeRemaining != 45 {
		t.Errorf("expected 45s remaining, got %d", second.TimeRemaining)
	}

	// Expired but not yet read: still in the store.
	env.clock.Advance(time.Minute)
	if env.store.Len() != 1 {
		t.Fatal("session should remain until the next read")
	}
	ov, ok := env.engine.Overview(id)
	if !ok || ov.TimeRemaining != 0 {
		t.Errorf("overview should report 0 remaining, got %d", ov.TimeRemaining)
	}

	if _, ok := env.engine.CurrentQuestion(ctx, id); ok {
		t.Error("expected expired read to fail")
	}
	if env.store.Len() != 0 {
		t.Error("expired session should be removed")
	}
	if len(env.recorder.results) != 1 || env.recorder.results[0].Correct != 1 {
		t.Errorf("expected the auto-submitted result to be recorded, got %+v", env.recorder.results)
	}
}

func TestEnginePracticeFeedback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.create(model.ModePractice, 1, twoQuestions())

	res := env.engine.SubmitAnswer(ctx, id, "b")
	if !res.Accepted || res.Feedback == nil {
		t.Fatal("expected feedback in practice mode")
	}
	if res.Feedback.IsCorrect || res.Feedback.CorrectAnswer != "A" || res.Feedback.UserAnswer != "B" {
		t.Errorf("unexpected feedback %+v", res.Feedback)
	}
	if res.Feedback.Explanation != "The correct answer is A." {
		t.Errorf("unexpected explanation %q", res.Feedback.Explanation)
	}

	// Practice sessions never expire.
	env.clock.Advance(24 * time.Hour)
	view, ok := env.engine.CurrentQuestion(ctx, id)
	if !ok {
		t.Fatal("practice session should not expire")
	}
	if view.TimeRemaining != model.Unbounded {
		t.Errorf("expected unbounded remaining time, got %d", view.TimeRemaining)
	}
	if view.Feedback == nil || view.Feedback.IsCorrect {
		t.Errorf("expected stored feedback, got %+v", view.Feedback)
	}
	if env.engine.Sweep(ctx) != 0 {
		t.Error("Sweep must not finish practice sessions")
	}
}

func TestEngineExamHidesFeedback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.create(model.ModeExam, 5, twoQuestions())

	res := env.engine.SubmitAnswer(ctx, id, "A")
	if !res.Accepted || res.Feedback != nil {
		t.Errorf("exam mode must not reveal feedback, got %+v", res)
	}
	view, _ := env.engine.CurrentQuestion(ctx, id)
	if view.Feedback != nil {
		t.Error("exam view must not carry feedback")
	}
}

func TestEngineCustomExplainer(t *testing.T) {
	env := newTestEnv(t)
	var gotCorrect bool
	env.engine = NewEngine(env.store, ExplainerFunc(func(_ context.Context, q model.Question, answer string, correct bool) string {
		gotCorrect = correct
		return "because " + q.Choices[q.CorrectAnswer]
	}), env.recorder, nil)
	id := env.create(model.ModePractice, 0, twoQuestions())

	res := env.engine.SubmitAnswer(context.Background(), id, "A")
	if !gotCorrect || res.Feedback.Explanation != "because x" {
		t.Errorf("unexpected feedback %+v", res.Feedback)
	}
}

func TestEngineRecorderFailureKeepsResult(t *testing.T) {
	env := newTestEnv(t)
	env.recorder.err = errors.New("disk full")
	id := env.create(model.ModeExam, 5, twoQuestions())

	res, ok := env.engine.Finish(context.Background(), id)
	if !ok || res == nil || res.Total != 2 {
		t.Fatalf("expected result despite recorder failure, got %+v", res)
	}
}

func TestEngineOverview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.create(model.ModeExam, 10, append(twoQuestions(), model.Question{Ordinal: 3, Text: "Q3", CorrectAnswer: "A"}))

	env.engine.Goto(id, 2)
	env.engine.SubmitAnswer(ctx, id, "B")
	env.clock.Advance(75 * time.Second)

	ov, ok := env.engine.Overview(id)
	if !ok {
		t.Fatal("expected overview")
	}
	if ov.Total != 3 || ov.Answered != 1 {
		t.Errorf("unexpected totals %+v", ov)
	}
	if len(ov.Unanswered) != 2 || ov.Unanswered[0] != 1 || ov.Unanswered[1] != 3 {
		t.Errorf("unexpected unanswered positions %v", ov.Unanswered)
	}
	if ov.TimeElapsed != "01:15" || ov.TimeRemaining != 525 {
		t.Errorf("unexpected timing %q/%d", ov.TimeElapsed, ov.TimeRemaining)
	}
	if ov.Progress != 33.3 {
		t.Errorf("expected progress 33.3, got %v", ov.Progress)
	}
}

func TestEngineSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	expiring := env.create(model.ModeExam, 1, twoQuestions())
	env.create(model.ModeExam, 10, twoQuestions())
	env.create(model.ModePractice, 0, twoQuestions())

	if n := env.engine.Sweep(ctx); n != 0 {
		t.Errorf("nothing should expire yet, swept %d", n)
	}
	env.clock.Advance(2 * time.Minute)
	if n := env.engine.Sweep(ctx); n != 1 {
		t.Errorf("expected 1 swept session, got %d", n)
	}
	if _, ok := env.store.Get(expiring); ok {
		t.Error("expired session should be reclaimed")
	}
	if env.store.Len() != 2 {
		t.Errorf("expected 2 active sessions, got %d", env.store.Len())
	}
}

func TestEngineConcurrentSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, env.create(model.ModePractice, 0, twoQuestions()))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			env.engine.SubmitAnswer(ctx, id, "A")
			env.engine.Next(id)
			env.engine.SubmitAnswer(ctx, id, "B")
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		res, ok := env.engine.Finish(ctx, id)
		if !ok || res.Correct != 2 {
			t.Errorf("session %s: unexpected result %+v", id, res)
		}
	}
}
