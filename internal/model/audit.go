package model

import "time"

// AuditEventType classifies a goal audit log entry.
type AuditEventType string

const (
	AuditCalculationEvent AuditEventType = "calculation_event"
	AuditManualAdjustment AuditEventType = "manual_adjustment"
	AuditHierarchyLink    AuditEventType = "hierarchy_link"
	AuditHierarchyUnlink  AuditEventType = "hierarchy_unlink"
	AuditHierarchyRollup  AuditEventType = "hierarchy_rollup"
)

// AuditEntry is a write-once record of a goal mutation. BeforeValue and
// AfterValue are rendered as text; Details carries a structured payload with
// enough context to reconstruct why a number changed without replaying
// application logic.
type AuditEntry struct {
	ID          string         `json:"id"`
	GoalID      string         `json:"goal_id"`
	EventType   AuditEventType `json:"event_type"`
	BeforeValue string         `json:"before_value,omitempty"`
	AfterValue  string         `json:"after_value,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ChangedBy   string         `json:"changed_by,omitempty"` // empty = system
	ChangedAt   time.Time      `json:"changed_at"`
}

// IsSystemEvent reports whether the entry was produced without a user actor.
func (e *AuditEntry) IsSystemEvent() bool { return e.ChangedBy == "" }
