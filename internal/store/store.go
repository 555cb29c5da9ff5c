package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/quizengine/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		student_name TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		total INTEGER NOT NULL DEFAULT 0,
		correct INTEGER NOT NULL DEFAULT 0,
		wrong INTEGER NOT NULL DEFAULT 0,
		unanswered INTEGER NOT NULL DEFAULT 0,
		score REAL NOT NULL DEFAULT 0,
		percentage REAL NOT NULL DEFAULT 0,
		time_taken TEXT NOT NULL DEFAULT '',
		finished_at DATETIME NOT NULL,
		mode TEXT NOT NULL DEFAULT 'exam',
		by_difficulty TEXT NOT NULL DEFAULT '{}',
		by_subject TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS result_questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		result_id INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		choices TEXT NOT NULL DEFAULT '{}',
		correct_answer TEXT NOT NULL DEFAULT '',
		user_answer TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		subject TEXT NOT NULL,
		time_spent REAL,
		FOREIGN KEY (result_id) REFERENCES results(id)
	);

	CREATE TABLE IF NOT EXISTS exam_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveResult stores a graded result with its per-question rows.
func (s *Store) SaveResult(ctx context.Context, r model.Result) error {
	byDifficulty, err := json.Marshal(r.ByDifficulty)
	if err != nil {
		return fmt.Errorf("marshal difficulty buckets: %w", err)
	}
	bySubject, err := json.Marshal(r.BySubject)
	if err != nil {
		return fmt.Errorf("marshal subject buckets: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO results (session_id, student_name, title, total, correct, wrong, unanswered,
		 score, percentage, time_taken, finished_at, mode, by_difficulty, by_subject)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.StudentName, r.Title, r.Total, r.Correct, r.Wrong, r.Unanswered,
		r.Score, r.Percentage, r.TimeTaken, r.FinishedAt, r.Mode, string(byDifficulty), string(bySubject),
	)
	if err != nil {
		return fmt.Errorf("insert result %s: %w", r.SessionID, err)
	}
	resultID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, q := range r.Questions {
		choices, err := json.Marshal(q.Choices)
		if err != nil {
			return fmt.Errorf("marshal choices: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO result_questions (result_id, ordinal, text, choices, correct_answer, user_answer,
			 status, difficulty, subject, time_spent)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			resultID, q.Ordinal, q.Text, string(choices), q.CorrectAnswer, q.UserAnswer,
			q.Status, q.Difficulty, q.Subject, q.TimeSpent,
		)
		if err != nil {
			return fmt.Errorf("insert result question %d: %w", q.Ordinal, err)
		}
	}

	return tx.Commit()
}

const resultColumns = `id, session_id, student_name, title, total, correct, wrong, unanswered,
	score, percentage, time_taken, finished_at, mode, by_difficulty, by_subject`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(sc rowScanner) (int64, model.Result, error) {
	var (
		id                      int64
		r                       model.Result
		byDifficulty, bySubject string
	)
	err := sc.Scan(&id, &r.SessionID, &r.StudentName, &r.Title, &r.Total, &r.Correct, &r.Wrong, &r.Unanswered,
		&r.Score, &r.Percentage, &r.TimeTaken, &r.FinishedAt, &r.Mode, &byDifficulty, &bySubject)
	if err != nil {
		return 0, r, err
	}
	if err := json.Unmarshal([]byte(byDifficulty), &r.ByDifficulty); err != nil {
		return 0, r, fmt.Errorf("parse difficulty buckets: %w", err)
	}
	if err := json.Unmarshal([]byte(bySubject), &r.BySubject); err != nil {
		return 0, r, fmt.Errorf("parse subject buckets: %w", err)
	}
	return id, r, nil
}

// ListResults returns all stored results, oldest first.
func (s *Store) ListResults(ctx context.Context) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resultColumns+` FROM results ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var ids []int64
	var results []model.Result
	for rows.Next() {
		id, r, err := scanResult(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i, id := range ids {
		qs, err := s.resultQuestions(ctx, id)
		if err != nil {
			return nil, err
		}
		results[i].Questions = qs
	}
	return results, nil
}

// GetResult returns the result of a session, or nil if none is stored.
func (s *Store) GetResult(ctx context.Context, sessionID string) (*model.Result, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE session_id = ?`, sessionID)
	id, r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Questions, err = s.resultQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) resultQuestions(ctx context.Context, resultID int64) ([]model.QuestionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ordinal, text, choices, correct_answer, user_answer, status, difficulty, subject, time_spent
		 FROM result_questions WHERE result_id = ? ORDER BY id`, resultID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	questions := []model.QuestionResult{}
	for rows.Next() {
		var q model.QuestionResult
		var choices string
		if err := rows.Scan(&q.Ordinal, &q.Text, &choices, &q.CorrectAnswer, &q.UserAnswer,
			&q.Status, &q.Difficulty, &q.Subject, &q.TimeSpent); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(choices), &q.Choices); err != nil {
			return nil, fmt.Errorf("parse choices: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ResultCount returns the number of stored results.
func (s *Store) ResultCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&count)
	return count, err
}
