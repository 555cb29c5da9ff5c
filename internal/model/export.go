package model

import "time"

// HistoryExport is the JSON document written by the export command.
type HistoryExport struct {
	Title      string     `json:"title,omitempty"`
	ExportedAt time.Time  `json:"exported_at"`
	Statistics Statistics `json:"statistics"`
	Results    []Result   `json:"results"`
}
