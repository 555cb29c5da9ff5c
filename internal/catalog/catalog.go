// Package catalog turns externally supplied question records into the
// canonical form used by test sessions.
package catalog

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/pavelanni/quizengine/internal/model"
)

// Normalize applies field defaults to raw records and orders them by ordinal.
// The input order is not trusted.
func Normalize(raw []model.RawQuestion) []model.Question {
	questions := make([]model.Question, 0, len(raw))
	for i, r := range raw {
		if strings.TrimSpace(r.Question) == "" {
			slog.Warn("question record has no text", "index", i, "ordinal", r.Ordinal)
		}
		choices := normalizeChoices(r.Ordinal, r.Choices)
		subject := strings.TrimSpace(r.Subject)
		if subject == "" {
			subject = model.DefaultSubject
		}
		var attachments []model.Attachment
		if len(r.Attachments) > 0 {
			attachments = append(attachments, r.Attachments...)
		}
		questions = append(questions, model.Question{
			Ordinal:       r.Ordinal,
			Text:          r.Question,
			Choices:       choices,
			CorrectAnswer: normalizeLabel(r.CorrectAnswer),
			Difficulty:    model.ParseDifficulty(r.Difficulty),
			Subject:       subject,
			Note:          r.Note,
			Attachments:   attachments,
		})
	}
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Ordinal < questions[j].Ordinal
	})
	return questions
}

// Parse decodes a JSON array of question records and normalizes it.
// Malformed input yields an empty slice. A record whose fields have the
// wrong types keeps the fields that do decode and defaults the rest.
func Parse(data []byte) []model.Question {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		slog.Warn("malformed question set", "error", err)
		return []model.Question{}
	}
	raw := make([]model.RawQuestion, 0, len(items))
	for i, item := range items {
		var r model.RawQuestion
		if err := json.Unmarshal(item, &r); err != nil {
			slog.Warn("malformed question record, decoding field by field", "index", i, "error", err)
			r = decodeLenient(item)
		}
		raw = append(raw, r)
	}
	return Normalize(raw)
}

func decodeLenient(item json.RawMessage) model.RawQuestion {
	var r model.RawQuestion
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return r
	}
	decode := func(key string, dst any) {
		if v, ok := fields[key]; ok {
			_ = json.Unmarshal(v, dst)
		}
	}
	decode("ordinal", &r.Ordinal)
	decode("question", &r.Question)
	decode("choices", &r.Choices)
	decode("correct_answer", &r.CorrectAnswer)
	decode("difficulty", &r.Difficulty)
	decode("subject", &r.Subject)
	decode("note", &r.Note)
	decode("attachments", &r.Attachments)
	return r
}

// Encode renders questions in the question-set file format.
func Encode(questions []model.Question) ([]byte, error) {
	raw := make([]model.RawQuestion, len(questions))
	for i, q := range questions {
		raw[i] = q.Raw()
	}
	return json.MarshalIndent(raw, "", "  ")
}

// normalizeChoices upper-cases labels. When two labels collide the first
// in sorted order wins.
func normalizeChoices(ordinal int, raw map[string]string) map[string]string {
	labels := make([]string, 0, len(raw))
	for label := range raw {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	choices := make(map[string]string, len(raw))
	for _, label := range labels {
		key := normalizeLabel(label)
		if _, ok := choices[key]; ok {
			slog.Warn("duplicate choice label dropped", "ordinal", ordinal, "label", label, "normalized", key)
			continue
		}
		choices[key] = raw[label]
	}
	return choices
}

func normalizeLabel(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
