package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/quizengine/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 200

// PromptVariant represents an explanation prompt variant.
type PromptVariant string

const (
	// PromptBrief asks for a one-sentence explanation.
	PromptBrief PromptVariant = "brief"
	// PromptDetailed asks for a short paragraph.
	PromptDetailed PromptVariant = "detailed"
)

var validVariants = map[PromptVariant]bool{
	PromptBrief:    true,
	PromptDetailed: true,
}

var (
	loadOnce         sync.Once
	loadErr          error
	explainTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// ExplainData holds template data for explanation prompts.
type ExplainData struct {
	QuestionText  string
	Subject       string
	Note          string
	Choices       []string
	CorrectAnswer string
	Answer        string
	Correct       bool
}

// Load parses the embedded prompt templates once.
func Load() error {
	return LoadFS(templateFS)
}

// LoadFS parses prompt templates from fsys. Only the first call has effect.
func LoadFS(fsys fs.FS) error {
	loadOnce.Do(func() {
		explainTemplates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptBrief, PromptDetailed} {
			file := "templates/explain_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			tmpl, err := template.New("explain").Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			explainTemplates[v] = tmpl
		}
	})
	return loadErr
}

// BuildExplainPrompt builds the system prompt asking for an explanation of
// the student's answer to q.
func BuildExplainPrompt(variant PromptVariant, q model.Question, answer string, correct bool) (string, error) {
	if explainTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := explainTemplates[variant]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	var choices []string
	for _, label := range q.Labels() {
		choices = append(choices, label+". "+q.Choices[label])
	}

	data := ExplainData{
		QuestionText:  q.Text,
		Subject:       q.Subject,
		Note:          q.Note,
		Choices:       choices,
		CorrectAnswer: q.CorrectAnswer,
		Answer:        sanitizeAnswer(answer),
		Correct:       correct,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + " [truncated]"
	}
	return answer
}
