package domain

import "time"

// ExportState enumerates batch export lifecycle states.
type ExportState string

const (
	ExportStateIdle               ExportState = "idle"
	ExportStateExporting          ExportState = "exporting"
	ExportStateCancelled          ExportState = "cancelled"
	ExportStateCompletedEmpty     ExportState = "completed_empty"
	ExportStateCompleted          ExportState = "completed"
	ExportStateCompletedWithSkips ExportState = "completed_with_skips"
	ExportStateFailed             ExportState = "failed"
)

// Settled reports whether the state is terminal.
func (s ExportState) Settled() bool {
	switch s {
	case ExportStateCancelled, ExportStateCompletedEmpty, ExportStateCompleted,
		ExportStateCompletedWithSkips, ExportStateFailed:
		return true
	default:
		return false
	}
}

// ExportProgress is published before each resource is rendered.
type ExportProgress struct {
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	CurrentName string `json:"current_name"`
}

// ExportStatus is a point-in-time view of one export job.
type ExportStatus struct {
	ID           string          `json:"id"`
	State        ExportState     `json:"state"`
	ResourceIDs  []string        `json:"resource_ids"`
	Watermark    bool            `json:"watermark"`
	Progress     *ExportProgress `json:"progress,omitempty"`
	SuccessCount int             `json:"success_count"`
	Skipped      []string        `json:"skipped"`
	Error        string          `json:"error,omitempty"`
	ArchiveReady bool            `json:"archive_ready"`
	CreatedAt    time.Time       `json:"created_at"`
	SettledAt    *time.Time      `json:"settled_at,omitempty"`
}
