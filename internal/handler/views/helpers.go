package views

import (
	"context"
	"fmt"
	"sort"

	appI18n "github.com/pavelanni/quizengine/internal/i18n"
	"github.com/pavelanni/quizengine/internal/model"
)

var questionColumns = []string{"Question", "YourAnswer", "CorrectAnswer", "Status", "Difficulty", "Subject", "TimeSpent"}

func sortedKeys(buckets map[string]*model.Bucket) []string {
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func bucketLabel(key string, b *model.Bucket) string {
	return fmt.Sprintf("%s: %d/%d (%.1f%%)", key, b.Correct, b.Total, b.Percentage)
}

func answerLabel(ctx context.Context, answer string) string {
	if answer == "" {
		return appI18n.T(ctx, "NoAnswer")
	}
	return answer
}

func timeSpentLabel(ctx context.Context, spent *float64) string {
	if spent == nil {
		return ""
	}
	return appI18n.Td(ctx, "SecondsN", map[string]any{"Seconds": fmt.Sprintf("%.1f", *spent)})
}
