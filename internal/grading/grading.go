// Package grading turns a finished session into a scored report.
package grading

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/quizengine/internal/model"
)

// maxTextRunes bounds the question text copied into a result row.
const maxTextRunes = 100

// Grade scores a session. It reads only session state and never fails; a
// session without questions yields a zero result.
func Grade(s *model.Session) model.Result {
	res := model.Result{
		SessionID:    s.ID,
		StudentName:  s.StudentName,
		Title:        s.Title,
		Total:        len(s.Questions),
		Mode:         s.Mode,
		Questions:    make([]model.QuestionResult, 0, len(s.Questions)),
		ByDifficulty: make(map[string]*model.Bucket),
		BySubject:    make(map[string]*model.Bucket),
	}

	end := s.StartedAt
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	res.FinishedAt = end
	res.TimeTaken = FormatDuration(end.Sub(s.StartedAt))

	for _, q := range s.Questions {
		answer := strings.ToUpper(strings.TrimSpace(s.Answers[q.Ordinal]))
		correct := strings.ToUpper(strings.TrimSpace(q.CorrectAnswer))

		status := model.StatusUnanswered
		switch {
		case answer == "":
			res.Unanswered++
		case answer == correct:
			status = model.StatusCorrect
			res.Correct++
		default:
			status = model.StatusWrong
			res.Wrong++
		}

		row := model.QuestionResult{
			Ordinal:       q.Ordinal,
			Text:          truncate(q.Text, maxTextRunes),
			Choices:       q.Choices,
			CorrectAnswer: correct,
			UserAnswer:    answer,
			Status:        status,
			Difficulty:    q.Difficulty,
			Subject:       q.Subject,
		}
		if s.Mode == model.ModeExam {
			row.TimeSpent = timeSpent(s, q.Ordinal)
		}
		res.Questions = append(res.Questions, row)

		bucket(res.ByDifficulty, string(q.Difficulty)).Add(status == model.StatusCorrect)
		bucket(res.BySubject, q.Subject).Add(status == model.StatusCorrect)
	}

	if res.Total > 0 {
		res.Score = model.RoundTo(float64(res.Correct)/float64(res.Total)*10, 2)
		res.Percentage = model.RoundTo(float64(res.Correct)/float64(res.Total)*100, 1)
	}
	return res
}

// timeSpent measures from the latest submission made before this one, or
// from session start when this was the first submission. Submission order
// matters, not question position.
func timeSpent(s *model.Session, ordinal int) *float64 {
	at, ok := s.AnsweredAt[ordinal]
	if !ok {
		return nil
	}
	prev := s.StartedAt
	for o, t := range s.AnsweredAt {
		if o == ordinal {
			continue
		}
		if t.Before(at) && t.After(prev) {
			prev = t
		}
	}
	secs := model.RoundTo(at.Sub(prev).Seconds(), 1)
	if secs < 0 {
		secs = 0
	}
	return &secs
}

func bucket(m map[string]*model.Bucket, key string) *model.Bucket {
	b, ok := m[key]
	if !ok {
		b = &model.Bucket{}
		m[key] = b
	}
	return b
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// FormatDuration renders d as MM:SS, or HH:MM:SS from one hour up.
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	h, m, sec := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}
