package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pavelanni/quizengine/internal/model"
)

// ErrQuizNotFound is returned when a named question set does not exist.
var ErrQuizNotFound = errors.New("quiz not found")

// QuizInfo describes a stored question set.
type QuizInfo struct {
	Name      string    `json:"name"`
	Questions int       `json:"questions"`
	UpdatedAt time.Time `json:"updated_at"`
	Size      int64     `json:"size"`
}

// Library stores question sets as JSON files in a directory.
type Library struct {
	dir string
	now func() time.Time
}

// NewLibrary creates the directory if needed and returns a Library over it.
func NewLibrary(dir string) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create quiz dir: %w", err)
	}
	return &Library{dir: dir, now: time.Now}, nil
}

// SanitizeName keeps letters, digits, spaces, '-' and '_', then replaces
// spaces with underscores.
func SanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			sb.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(sb.String()), " ", "_")
}

func (l *Library) path(name string) string {
	return filepath.Join(l.dir, name+".json")
}

// Save writes questions under a sanitized name and returns that name.
// An empty name gets a timestamped one.
func (l *Library) Save(name string, questions []model.Question) (string, error) {
	safe := SanitizeName(name)
	if safe == "" {
		safe = "Quiz_" + l.now().Format("20060102_150405")
	}
	data, err := Encode(questions)
	if err != nil {
		return "", fmt.Errorf("encode quiz %s: %w", safe, err)
	}
	if err := os.WriteFile(l.path(safe), data, 0o644); err != nil {
		return "", fmt.Errorf("write quiz %s: %w", safe, err)
	}
	slog.Info("saved quiz", "name", safe, "questions", len(questions))
	return safe, nil
}

// Load reads and normalizes a stored question set.
func (l *Library) Load(name string) ([]model.Question, error) {
	data, err := l.read(name)
	if err != nil {
		return nil, err
	}
	return Parse(data), nil
}

func (l *Library) read(name string) ([]byte, error) {
	safe := SanitizeName(name)
	if safe == "" {
		return nil, ErrQuizNotFound
	}
	data, err := os.ReadFile(l.path(safe))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read quiz %s: %w", safe, err)
	}
	return data, nil
}

// List returns all stored question sets sorted by name.
// Unreadable files are logged and skipped.
func (l *Library) List() ([]QuizInfo, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read quiz dir: %w", err)
	}
	var quizzes []QuizInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			slog.Warn("failed to stat quiz file", "file", e.Name(), "error", err)
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, e.Name()))
		if err != nil {
			slog.Warn("failed to read quiz file", "file", e.Name(), "error", err)
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			slog.Warn("failed to parse quiz file", "file", e.Name(), "error", err)
		}
		quizzes = append(quizzes, QuizInfo{
			Name:      strings.TrimSuffix(e.Name(), ".json"),
			Questions: len(items),
			UpdatedAt: info.ModTime(),
			Size:      info.Size(),
		})
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].Name < quizzes[j].Name })
	return quizzes, nil
}

// Delete removes a stored question set.
func (l *Library) Delete(name string) error {
	safe := SanitizeName(name)
	if safe == "" {
		return ErrQuizNotFound
	}
	err := os.Remove(l.path(safe))
	if errors.Is(err, os.ErrNotExist) {
		return ErrQuizNotFound
	}
	return err
}

// UpdateQuestion replaces the record at index (0-based, file order) in a
// stored question set.
func (l *Library) UpdateQuestion(name string, index int, q model.RawQuestion) error {
	items, err := l.readItems(name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(items) {
		return fmt.Errorf("question index %d out of range [0, %d)", index, len(items))
	}
	encoded, err := json.Marshal(q)
	if err != nil {
		return err
	}
	items[index] = encoded
	return l.writeItems(SanitizeName(name), items)
}

func (l *Library) readItems(name string) ([]json.RawMessage, error) {
	data, err := l.read(name)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse quiz %s: %w", name, err)
	}
	return items, nil
}

func (l *Library) writeItems(safe string, items []json.RawMessage) error {
	out, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path(safe), out, 0o644)
}

// ErrInvalidImageName is returned when an image file name has no usable
// characters.
var ErrInvalidImageName = errors.New("invalid image name")

// ImageInfo is an image reference of a stored question with its location
// on disk.
type ImageInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	FullPath string `json:"full_path"`
}

const imagesDir = "images"

func sanitizeFileName(name string) string {
	var sb strings.Builder
	for _, r := range filepath.Base(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_' {
			sb.WriteRune(r)
		}
	}
	return strings.TrimLeft(sb.String(), ".")
}

// AddImage stores image bytes as images/<quiz>_<index>_<filename> under
// the library directory and appends a reference to the record at index.
func (l *Library) AddImage(name string, index int, data []byte, filename string) (model.Attachment, error) {
	file := sanitizeFileName(filename)
	if file == "" {
		return model.Attachment{}, ErrInvalidImageName
	}
	items, err := l.readItems(name)
	if err != nil {
		return model.Attachment{}, err
	}
	if index < 0 || index >= len(items) {
		return model.Attachment{}, fmt.Errorf("question index %d out of range [0, %d)", index, len(items))
	}

	safe := SanitizeName(name)
	rel := filepath.ToSlash(filepath.Join(imagesDir, fmt.Sprintf("%s_%d_%s", safe, index, file)))
	if err := os.MkdirAll(filepath.Join(l.dir, imagesDir), 0o755); err != nil {
		return model.Attachment{}, fmt.Errorf("create images dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, filepath.FromSlash(rel)), data, 0o644); err != nil {
		return model.Attachment{}, fmt.Errorf("write image %s: %w", rel, err)
	}

	var record map[string]json.RawMessage
	if err := json.Unmarshal(items[index], &record); err != nil {
		return model.Attachment{}, fmt.Errorf("parse question %d of %s: %w", index, safe, err)
	}
	var attachments []model.Attachment
	if v, ok := record["attachments"]; ok {
		if err := json.Unmarshal(v, &attachments); err != nil {
			slog.Warn("dropping malformed attachments", "quiz", safe, "index", index, "error", err)
			attachments = nil
		}
	}
	att := model.Attachment{Name: filename, Path: rel}
	attachments = append(attachments, att)
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return model.Attachment{}, err
	}
	record["attachments"] = encoded
	if items[index], err = json.Marshal(record); err != nil {
		return model.Attachment{}, err
	}
	if err := l.writeItems(safe, items); err != nil {
		return model.Attachment{}, err
	}
	slog.Info("added question image", "quiz", safe, "index", index, "path", rel)
	return att, nil
}

// Images lists the image references of the record at index.
func (l *Library) Images(name string, index int) ([]ImageInfo, error) {
	items, err := l.readItems(name)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(items) {
		return nil, fmt.Errorf("question index %d out of range [0, %d)", index, len(items))
	}
	var record struct {
		Attachments []model.Attachment `json:"attachments"`
	}
	if err := json.Unmarshal(items[index], &record); err != nil {
		slog.Warn("malformed attachments", "quiz", name, "index", index, "error", err)
	}
	images := make([]ImageInfo, 0, len(record.Attachments))
	for _, a := range record.Attachments {
		if a.Path == "" {
			continue
		}
		full := filepath.FromSlash(a.Path)
		if !filepath.IsAbs(full) {
			full = filepath.Join(l.dir, full)
		}
		images = append(images, ImageInfo{Name: a.Name, Path: a.Path, FullPath: full})
	}
	return images, nil
}
