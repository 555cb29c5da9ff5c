package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pavelanni/quizengine/internal/catalog"
	appI18n "github.com/pavelanni/quizengine/internal/i18n"
	"github.com/pavelanni/quizengine/internal/model"
	"github.com/pavelanni/quizengine/internal/session"
	"github.com/pavelanni/quizengine/internal/stats"
)

type memHistory struct {
	mu      sync.Mutex
	results map[string]model.Result
	hashes  map[string]string
}

func newMemHistory() *memHistory {
	return &memHistory{results: map[string]model.Result{}, hashes: map[string]string{}}
}

func (m *memHistory) SaveResult(_ context.Context, r model.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.SessionID] = r
	return nil
}

func (m *memHistory) GetResult(_ context.Context, id string) (*model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memHistory) GetImportedFileHash(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hashes[path], nil
}

func (m *memHistory) SetImportedFileHash(path, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[path] = hash
	return nil
}

type testServer struct {
	router  chi.Router
	agg     *stats.Aggregator
	history *memHistory
	library *catalog.Library
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}
	lib, err := catalog.NewLibrary(t.TempDir())
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := session.NewStore(session.WithClock(func() time.Time { return start }))
	agg := stats.New()
	hist := newMemHistory()
	engine := session.NewEngine(store, session.ExplainerFunc(appI18n.Explain), stats.NewRecorder(agg, hist, nil), nil)

	h := New(engine, lib, agg, hist, model.ExamConfig{TimeLimit: 30, Mode: model.ModeExam, RecentTests: 10}, nil)
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)
	return &testServer{router: r, agg: agg, history: hist, library: lib}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

const twoQuestionsJSON = `[
	{"ordinal": 1, "question": "2+2?", "choices": {"A": "4", "B": "5"}, "correct_answer": "A", "difficulty": "de", "subject": "math"},
	{"ordinal": 2, "question": "Capital of <France>?", "choices": {"A": "Rome", "B": "Paris"}, "correct_answer": "B", "difficulty": "kho", "subject": "geo"}
]`

func (s *testServer) createSession(t *testing.T, extra string) string {
	t.Helper()
	body := `{"student_name": "Lan", "title": "Mixed", "questions": ` + twoQuestionsJSON + extra + `}`
	rec := s.do(t, http.MethodPost, "/sessions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[createSessionResponse](t, rec).ID
}

func TestSessionFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t, "")

	rec := s.do(t, http.MethodGet, "/sessions/"+id+"/current", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("current: status %d", rec.Code)
	}
	view := decode[model.QuestionView](t, rec)
	if view.Position != 1 || view.Total != 2 {
		t.Errorf("expected position 1 of 2, got %d of %d", view.Position, view.Total)
	}
	if view.TimeRemaining != 30*60 {
		t.Errorf("expected 1800s remaining, got %d", view.TimeRemaining)
	}

	rec = s.do(t, http.MethodPost, "/sessions/"+id+"/answer", `{"answer": " a "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("answer: status %d", rec.Code)
	}
	sub := decode[model.SubmitResult](t, rec)
	if !sub.Accepted || sub.Feedback != nil {
		t.Errorf("expected accepted without feedback in exam mode, got %+v", sub)
	}

	rec = s.do(t, http.MethodPost, "/sessions/"+id+"/next", "")
	move := decode[moveResponse](t, rec)
	if !move.Moved || move.Current.Position != 2 {
		t.Errorf("expected move to position 2, got %+v", move)
	}
	rec = s.do(t, http.MethodPost, "/sessions/"+id+"/next", "")
	move = decode[moveResponse](t, rec)
	if move.Moved || move.Current.Position != 2 {
		t.Errorf("expected to stay on last question, got %+v", move)
	}

	s.do(t, http.MethodPost, "/sessions/"+id+"/answer", `{"answer": "B"}`)

	rec = s.do(t, http.MethodGet, "/sessions/"+id+"/overview", "")
	ov := decode[model.Overview](t, rec)
	if ov.Answered != 2 || len(ov.Unanswered) != 0 {
		t.Errorf("expected 2 answered, got %+v", ov)
	}

	rec = s.do(t, http.MethodPost, "/sessions/"+id+"/finish", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("finish: status %d", rec.Code)
	}
	res := decode[model.Result](t, rec)
	if res.Correct != 2 || res.Score != 10 || res.Percentage != 100 {
		t.Errorf("expected perfect score, got %d correct, %v, %v%%", res.Correct, res.Score, res.Percentage)
	}

	rec = s.do(t, http.MethodPost, "/sessions/"+id+"/finish", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second finish: expected 404, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/sessions/"+id+"/current", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("current after finish: expected 404, got %d", rec.Code)
	}

	if _, ok := s.history.results[id]; !ok {
		t.Error("expected result to be persisted")
	}
}

func TestCreateSessionErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{"questions": [`, http.StatusBadRequest},
		{"no questions", `{"student_name": "Lan"}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"unknown quiz", `{"quiz": "missing"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/sessions", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPracticeFeedback(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t, `, "mode": "practice"`)

	view := decode[model.QuestionView](t, s.do(t, http.MethodGet, "/sessions/"+id+"/current", ""))
	if view.TimeRemaining != model.Unbounded {
		t.Errorf("expected unbounded time in practice mode, got %d", view.TimeRemaining)
	}

	sub := decode[model.SubmitResult](t, s.do(t, http.MethodPost, "/sessions/"+id+"/answer", `{"answer": "B"}`))
	if sub.Feedback == nil {
		t.Fatal("expected feedback in practice mode")
	}
	if sub.Feedback.IsCorrect {
		t.Error("expected answer to be wrong")
	}
	if sub.Feedback.Explanation != "The correct answer is A." {
		t.Errorf("unexpected explanation %q", sub.Feedback.Explanation)
	}
}

func TestGoto(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t, "")

	rec := s.do(t, http.MethodPost, "/sessions/"+id+"/goto/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-integer position, got %d", rec.Code)
	}

	move := decode[moveResponse](t, s.do(t, http.MethodPost, "/sessions/"+id+"/goto/2", ""))
	if !move.Moved || move.Current.Position != 2 {
		t.Errorf("expected goto 2, got %+v", move)
	}
	move = decode[moveResponse](t, s.do(t, http.MethodPost, "/sessions/"+id+"/goto/5", ""))
	if move.Moved || move.Current.Position != 2 {
		t.Errorf("expected out-of-range goto to be ignored, got %+v", move)
	}
	move = decode[moveResponse](t, s.do(t, http.MethodPost, "/sessions/"+id+"/previous", ""))
	if !move.Moved || move.Current.Position != 1 {
		t.Errorf("expected previous to position 1, got %+v", move)
	}

	rec = s.do(t, http.MethodPost, "/sessions/nope/goto/1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", rec.Code)
	}
}

func TestStatistics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/statistics?recent=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad recent, got %d", rec.Code)
	}

	empty := decode[model.Statistics](t, s.do(t, http.MethodGet, "/statistics", ""))
	if empty.TotalTests != 0 || len(empty.RecentTests) != 0 {
		t.Errorf("expected empty statistics, got %+v", empty)
	}

	id := s.createSession(t, "")
	s.do(t, http.MethodPost, "/sessions/"+id+"/answer", `{"answer": "A"}`)
	s.do(t, http.MethodPost, "/sessions/"+id+"/finish", "")

	st := decode[model.Statistics](t, s.do(t, http.MethodGet, "/statistics?recent=5", ""))
	if st.TotalTests != 1 {
		t.Errorf("expected 1 test, got %d", st.TotalTests)
	}
	if st.AverageScore != 5 {
		t.Errorf("expected average 5, got %v", st.AverageScore)
	}
	if len(st.RecentTests) != 1 || st.RecentTests[0].SessionID != id {
		t.Errorf("unexpected recent tests %+v", st.RecentTests)
	}
}

func TestResultPage(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t, "")
	s.do(t, http.MethodPost, "/sessions/"+id+"/answer", `{"answer": "B"}`)
	s.do(t, http.MethodPost, "/sessions/"+id+"/finish", "")

	rec := s.do(t, http.MethodGet, "/results/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("result page: status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected HTML, got %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"Test result: Mixed", "Lan", "2 questions, 0 correct", "Capital of &lt;France&gt;?", "Wrong", "Unanswered", "By difficulty"} {
		if !strings.Contains(body, want) {
			t.Errorf("result page should contain %q", want)
		}
	}
	if strings.Contains(body, "<France>") {
		t.Error("question text should be escaped")
	}

	rec = s.do(t, http.MethodGet, "/results/"+id+"?format=json", "")
	res := decode[model.Result](t, rec)
	if res.SessionID != id || res.Wrong != 1 || res.Unanswered != 1 {
		t.Errorf("unexpected JSON result %+v", res)
	}

	rec = s.do(t, http.MethodGet, "/results/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown result, got %d", rec.Code)
	}
}

func TestResultFromHistory(t *testing.T) {
	s := newTestServer(t)
	s.history.results["old"] = model.Result{SessionID: "old", Title: "Archived", Total: 1, Mode: model.ModeExam}

	res := decode[model.Result](t, s.do(t, http.MethodGet, "/results/old?format=json", ""))
	if res.Title != "Archived" {
		t.Errorf("expected archived result, got %+v", res)
	}
}

func TestQuizLibrary(t *testing.T) {
	s := newTestServer(t)

	list := decode[[]catalog.QuizInfo](t, s.do(t, http.MethodGet, "/quizzes", ""))
	if len(list) != 0 {
		t.Fatalf("expected no quizzes, got %d", len(list))
	}

	rec := s.do(t, http.MethodPost, "/quizzes/Physics_1", twoQuestionsJSON)
	if rec.Code != http.StatusCreated {
		t.Fatalf("save quiz: status %d, body %s", rec.Code, rec.Body.String())
	}
	saved := decode[saveQuizResponse](t, rec)
	if saved.Name != "Physics_1" || saved.Questions != 2 || saved.Duplicate {
		t.Errorf("unexpected save response %+v", saved)
	}

	rec = s.do(t, http.MethodPost, "/quizzes/Physics_1", twoQuestionsJSON)
	if rec.Code != http.StatusOK || !decode[saveQuizResponse](t, rec).Duplicate {
		t.Errorf("expected duplicate upload to be detected, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/quizzes/Broken", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid quiz, got %d", rec.Code)
	}

	list = decode[[]catalog.QuizInfo](t, s.do(t, http.MethodGet, "/quizzes", ""))
	if len(list) != 1 || list[0].Name != "Physics_1" {
		t.Errorf("unexpected quiz list %+v", list)
	}

	qs := decode[[]model.Question](t, s.do(t, http.MethodGet, "/quizzes/Physics_1", ""))
	if len(qs) != 2 || qs[0].Difficulty != model.DifficultyEasy {
		t.Errorf("unexpected quiz questions %+v", qs)
	}

	rec = s.do(t, http.MethodPost, "/sessions", `{"quiz": "Physics_1", "student_name": "Minh"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create from quiz: status %d", rec.Code)
	}
	id := decode[createSessionResponse](t, rec).ID
	ov := decode[model.Overview](t, s.do(t, http.MethodGet, "/sessions/"+id+"/overview", ""))
	if ov.Title != "Physics_1" || ov.Total != 2 {
		t.Errorf("unexpected overview %+v", ov)
	}

	rec = s.do(t, http.MethodPut, "/quizzes/Physics_1/questions/0",
		`{"ordinal": 1, "question": "3+3?", "choices": {"A": "6", "B": "7"}, "correct_answer": "A"}`)
	if rec.Code != http.StatusNoContent {
		t.Errorf("update question: status %d, body %s", rec.Code, rec.Body.String())
	}
	qs = decode[[]model.Question](t, s.do(t, http.MethodGet, "/quizzes/Physics_1", ""))
	if qs[0].Text != "3+3?" {
		t.Errorf("expected updated text, got %q", qs[0].Text)
	}
	rec = s.do(t, http.MethodPut, "/quizzes/Physics_1/questions/9", `{"question": "x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out-of-range index, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodDelete, "/quizzes/Physics_1", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: status %d", rec.Code)
	}
	rec = s.do(t, http.MethodDelete, "/quizzes/Physics_1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/quizzes/Physics_1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted: expected 404, got %d", rec.Code)
	}
}

func TestQuizMultipartUpload(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("questions_file", "physics.json")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte(twoQuestionsJSON))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/quizzes/Uploaded", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("multipart upload: status %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[saveQuizResponse](t, rec); got.Questions != 2 {
		t.Errorf("expected 2 questions, got %d", got.Questions)
	}
	if s.history.hashes["quiz:Uploaded"] == "" {
		t.Error("expected upload hash to be recorded")
	}
}

func TestQuestionImages(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodPost, "/quizzes/Geo", twoQuestionsJSON); rec.Code != http.StatusCreated {
		t.Fatalf("save quiz: status %d", rec.Code)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "map.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte("png-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/quizzes/Geo/questions/1/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add image: status %d, body %s", rec.Code, rec.Body.String())
	}
	att := decode[model.Attachment](t, rec)
	if att.Name != "map.png" || att.Path != "images/Geo_1_map.png" {
		t.Errorf("unexpected attachment %+v", att)
	}

	rec = s.do(t, http.MethodPost, "/quizzes/Geo/questions/1/images?filename=flag.png", "raw-bytes")
	if rec.Code != http.StatusCreated {
		t.Fatalf("add raw image: status %d, body %s", rec.Code, rec.Body.String())
	}

	images := decode[[]catalog.ImageInfo](t, s.do(t, http.MethodGet, "/quizzes/Geo/questions/1/images", ""))
	if len(images) != 2 || images[0].Name != "map.png" || images[1].Path != "images/Geo_1_flag.png" {
		t.Errorf("unexpected images %+v", images)
	}
	if images[0].FullPath == "" {
		t.Error("expected full path")
	}

	qs := decode[[]model.Question](t, s.do(t, http.MethodGet, "/quizzes/Geo", ""))
	if len(qs[1].Attachments) != 2 {
		t.Errorf("expected 2 attachments on question, got %+v", qs[1].Attachments)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown quiz", http.MethodGet, "/quizzes/Nope/questions/0/images", "", http.StatusNotFound},
		{"bad index", http.MethodGet, "/quizzes/Geo/questions/x/images", "", http.StatusBadRequest},
		{"out of range", http.MethodGet, "/quizzes/Geo/questions/7/images", "", http.StatusBadRequest},
		{"missing filename", http.MethodPost, "/quizzes/Geo/questions/0/images", "data", http.StatusBadRequest},
		{"empty image", http.MethodPost, "/quizzes/Geo/questions/0/images?filename=a.png", "", http.StatusBadRequest},
		{"upload to unknown quiz", http.MethodPost, "/quizzes/Nope/questions/0/images?filename=a.png", "data", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := s.do(t, tt.method, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("expected %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
