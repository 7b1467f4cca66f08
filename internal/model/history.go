package model

import "time"

// SnapshotSource tags why a progress snapshot was taken.
type SnapshotSource string

const (
	SnapshotSignificantChange SnapshotSource = "significant_change"
	SnapshotManualAdjustment  SnapshotSource = "manual_adjustment"
	SnapshotScheduled         SnapshotSource = "scheduled"
)

// ProgressSnapshot is an immutable point-in-time record of a goal's progress.
// Snapshots are only ever created, never updated or deleted; the forecast
// engine is their sole consumer.
type ProgressSnapshot struct {
	ID                 string         `json:"id"`
	GoalID             string         `json:"goal_id"`
	ProgressValue      float64        `json:"progress_value"`
	TargetValue        float64        `json:"target_value"`
	ProgressPercentage float64        `json:"progress_percentage"`
	Source             SnapshotSource `json:"source"`
	TakenAt            time.Time      `json:"taken_at"`
	CreatedBy          string         `json:"created_by,omitempty"` // empty = system
	Notes              string         `json:"notes,omitempty"`
}
