package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/quizengine/internal/model"
)

// ExportHistory builds an export document of every stored result.
// Statistics are left for the caller to fill in.
func (s *Store) ExportHistory(ctx context.Context, now time.Time) (*model.HistoryExport, error) {
	results, err := s.ListResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	if results == nil {
		results = []model.Result{}
	}
	exam, err := s.GetMetadata("exam_title")
	if err != nil {
		return nil, fmt.Errorf("get exam title: %w", err)
	}
	return &model.HistoryExport{
		Title:      exam,
		ExportedAt: now.UTC(),
		Results:    results,
	}, nil
}
