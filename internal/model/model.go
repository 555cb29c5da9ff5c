package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Unbounded marks a session without a time limit and is reported as the
// remaining time of practice sessions.
const Unbounded = -1

// DefaultSubject is used when a question carries no subject tag.
const DefaultSubject = "auto-detect"

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty maps a free-form difficulty tag to a Difficulty.
// Unknown or empty tags become medium.
func ParseDifficulty(s string) Difficulty {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy", "de", "dễ":
		return DifficultyEasy
	case "hard", "kho", "khó":
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}

// Mode is the session mode.
type Mode string

const (
	// ModeExam is timed; correctness is hidden until grading.
	ModeExam Mode = "exam"
	// ModePractice is untimed; correctness is revealed after each answer.
	ModePractice Mode = "practice"
)

// ParseMode maps a mode string to a Mode. Unknown values become exam.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "practice", "untimed":
		return ModePractice
	default:
		return ModeExam
	}
}

// Attachment is an opaque image reference attached to a question.
// Question-set files carry either a bare path string or a
// {"name", "path"} object; a decoded reference is written back in the
// form it was read.
type Attachment struct {
	Name string
	Path string
	raw  json.RawMessage
}

type attachmentObject struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// UnmarshalJSON accepts any JSON value. Strings and objects also fill
// Name and Path.
func (a *Attachment) UnmarshalJSON(data []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return fmt.Errorf("invalid attachment reference: %w", err)
	}
	*a = Attachment{raw: json.RawMessage(buf.Bytes())}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Path = s
		return nil
	}
	var obj attachmentObject
	if err := json.Unmarshal(data, &obj); err == nil {
		a.Name, a.Path = obj.Name, obj.Path
	}
	return nil
}

// MarshalJSON writes a decoded reference back unchanged. References built
// in code are written as objects.
func (a Attachment) MarshalJSON() ([]byte, error) {
	if a.raw != nil {
		return a.raw, nil
	}
	return json.Marshal(attachmentObject{Name: a.Name, Path: a.Path})
}

// RawQuestion is a question record as stored in a question-set file.
type RawQuestion struct {
	Ordinal       int               `json:"ordinal"`
	Question      string            `json:"question"`
	Choices       map[string]string `json:"choices"`
	CorrectAnswer string            `json:"correct_answer"`
	Difficulty    string            `json:"difficulty,omitempty"`
	Subject       string            `json:"subject,omitempty"`
	Note          string            `json:"note,omitempty"`
	Attachments   []Attachment      `json:"attachments,omitempty"`
}

// Question is a normalized multiple-choice question.
type Question struct {
	Ordinal       int               `json:"ordinal"`
	Text          string            `json:"question"`
	Choices       map[string]string `json:"choices"`
	CorrectAnswer string            `json:"correct_answer"`
	Difficulty    Difficulty        `json:"difficulty"`
	Subject       string            `json:"subject"`
	Note          string            `json:"note,omitempty"`
	Attachments   []Attachment      `json:"attachments,omitempty"`
}

// Labels returns the choice labels in sorted order.
func (q Question) Labels() []string {
	labels := make([]string, 0, len(q.Choices))
	for l := range q.Choices {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Clone returns a deep copy of q.
func (q Question) Clone() Question {
	c := q
	c.Choices = make(map[string]string, len(q.Choices))
	for k, v := range q.Choices {
		c.Choices[k] = v
	}
	if q.Attachments != nil {
		c.Attachments = append([]Attachment(nil), q.Attachments...)
	}
	return c
}

// Raw converts q back to its file representation.
func (q Question) Raw() RawQuestion {
	return RawQuestion{
		Ordinal:       q.Ordinal,
		Question:      q.Text,
		Choices:       q.Choices,
		CorrectAnswer: q.CorrectAnswer,
		Difficulty:    string(q.Difficulty),
		Subject:       q.Subject,
		Note:          q.Note,
		Attachments:   q.Attachments,
	}
}

// Feedback is the immediate correctness report shown in practice mode.
type Feedback struct {
	IsCorrect     bool   `json:"is_correct"`
	CorrectAnswer string `json:"correct_answer"`
	UserAnswer    string `json:"user_answer"`
	Explanation   string `json:"explanation"`
}

// Session is a student's test session.
type Session struct {
	ID               string
	StudentName      string
	Title            string
	StartedAt        time.Time
	TimeLimitMinutes int // Unbounded for practice sessions
	Questions        []Question
	Cursor           int
	Answers          map[int]string
	AnsweredAt       map[int]time.Time
	Feedback         map[int]Feedback
	Finished         bool
	EndedAt          *time.Time
	Mode             Mode
	Settings         map[string]any
}

// Timed reports whether the session enforces a time-box.
func (s *Session) Timed() bool {
	return s.Mode == ModeExam && s.TimeLimitMinutes != Unbounded
}

// Clone returns a deep copy of s. Settings values are copied shallowly.
func (s *Session) Clone() *Session {
	c := *s
	c.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		c.Questions[i] = q.Clone()
	}
	c.Answers = make(map[int]string, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	c.AnsweredAt = make(map[int]time.Time, len(s.AnsweredAt))
	for k, v := range s.AnsweredAt {
		c.AnsweredAt[k] = v
	}
	c.Feedback = make(map[int]Feedback, len(s.Feedback))
	for k, v := range s.Feedback {
		c.Feedback[k] = v
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		c.EndedAt = &ended
	}
	if s.Settings != nil {
		c.Settings = make(map[string]any, len(s.Settings))
		for k, v := range s.Settings {
			c.Settings[k] = v
		}
	}
	return &c
}

// QuestionView is what a student sees for the question under the cursor.
type QuestionView struct {
	Position      int       `json:"position"` // 1-based
	Total         int       `json:"total"`
	Question      Question  `json:"question"`
	TimeRemaining int       `json:"time_remaining"` // seconds, Unbounded in practice mode
	CurrentAnswer string    `json:"current_answer"`
	Progress      float64   `json:"progress"`
	Mode          Mode      `json:"mode"`
	Feedback      *Feedback `json:"feedback,omitempty"`
}

// SubmitResult reports whether an answer was accepted.
type SubmitResult struct {
	Accepted bool      `json:"accepted"`
	Feedback *Feedback `json:"feedback,omitempty"`
}

// Overview summarizes the progress of an active session.
type Overview struct {
	StudentName   string  `json:"student_name"`
	Title         string  `json:"title"`
	Mode          Mode    `json:"mode"`
	Total         int     `json:"total"`
	Answered      int     `json:"answered"`
	Unanswered    []int   `json:"unanswered"` // 1-based positions
	TimeRemaining int     `json:"time_remaining"`
	TimeElapsed   string  `json:"time_elapsed"`
	Progress      float64 `json:"progress"`
}

// AnswerStatus classifies a graded question.
type AnswerStatus string

const (
	StatusCorrect    AnswerStatus = "correct"
	StatusWrong      AnswerStatus = "wrong"
	StatusUnanswered AnswerStatus = "unanswered"
)

// QuestionResult is one row of a graded session.
type QuestionResult struct {
	Ordinal       int               `json:"ordinal"`
	Text          string            `json:"question"`
	Choices       map[string]string `json:"choices"`
	CorrectAnswer string            `json:"correct_answer"`
	UserAnswer    string            `json:"user_answer"`
	Status        AnswerStatus      `json:"status"`
	Difficulty    Difficulty        `json:"difficulty"`
	Subject       string            `json:"subject"`
	TimeSpent     *float64          `json:"time_spent,omitempty"` // seconds, exam mode only
}

// Bucket aggregates correctness for a category.
type Bucket struct {
	Correct    int     `json:"correct"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Add records one graded question in b.
func (b *Bucket) Add(correct bool) {
	b.Total++
	if correct {
		b.Correct++
	}
	b.Percentage = RoundTo(float64(b.Correct)/float64(b.Total)*100, 1)
}

// Result is the graded outcome of a finished session.
type Result struct {
	SessionID    string             `json:"session_id"`
	StudentName  string             `json:"student_name"`
	Title        string             `json:"title"`
	Total        int                `json:"total"`
	Correct      int                `json:"correct"`
	Wrong        int                `json:"wrong"`
	Unanswered   int                `json:"unanswered"`
	Score        float64            `json:"score"`
	Percentage   float64            `json:"percentage"`
	TimeTaken    string             `json:"time_taken"`
	FinishedAt   time.Time          `json:"finished_at"`
	Mode         Mode               `json:"mode"`
	Questions    []QuestionResult   `json:"questions"`
	ByDifficulty map[string]*Bucket `json:"by_difficulty"`
	BySubject    map[string]*Bucket `json:"by_subject"`
}

// MonthStats holds per-month performance.
type MonthStats struct {
	Count    int     `json:"count"`
	AvgScore float64 `json:"avg_score"`
}

// RecentTest is a condensed Result for statistics listings.
type RecentTest struct {
	SessionID  string    `json:"session_id"`
	Student    string    `json:"student"`
	Title      string    `json:"title"`
	Score      float64   `json:"score"`
	Percentage float64   `json:"percentage"`
	Questions  int       `json:"questions"`
	Mode       Mode      `json:"mode"`
	FinishedAt time.Time `json:"finished_at"`
	TimeTaken  string    `json:"time_taken"`
}

// Statistics summarizes the result history.
type Statistics struct {
	TotalTests         int                    `json:"total_tests"`
	AverageScore       float64                `json:"average_score"`
	AveragePercentage  float64                `json:"average_percentage"`
	HighestScore       float64                `json:"highest_score"`
	LowestScore        float64                `json:"lowest_score"`
	PassRate           float64                `json:"pass_rate"`
	ModeDistribution   map[Mode]int           `json:"mode_distribution"`
	DifficultyAnalysis map[string]*Bucket     `json:"difficulty_analysis"`
	SubjectAnalysis    map[string]*Bucket     `json:"subject_analysis"`
	MonthlyPerformance map[string]*MonthStats `json:"monthly_performance"`
	RecentTests        []RecentTest           `json:"recent_tests"`
}

// ExamConfig holds runtime session defaults set via CLI flags.
type ExamConfig struct {
	TimeLimit        int // minutes
	ShuffleQuestions bool
	ShuffleAnswers   bool
	Mode             Mode
	// RecentTests is the number of recent tests listed in statistics.
	RecentTests int
	// SweepInterval controls the background reclaim of expired sessions; 0 disables it.
	SweepInterval time.Duration
}
