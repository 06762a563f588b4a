package issues

import (
	"context"
	"database/sql"

	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

// Candidate is an issue derived from one sample, before deduplication.
type Candidate struct {
	Type           telemetry.IssueType
	Description    string
	Recommendation string
	// FanExpectedSpeed is set on cooling_system candidates when the
	// temperature was known.
	FanExpectedSpeed sql.NullInt64
}

// Action is what the recorder did with a candidate.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Recorded is one persisted outcome of Recorder.Record.
type Recorded struct {
	Issue  telemetry.HardwareIssue
	Action Action
}

// IssueStore is the slice of the record store the recorder needs.
type IssueStore interface {
	// FindUnresolvedIssue returns nil, nil when no issue of type t is open.
	FindUnresolvedIssue(ctx context.Context, t telemetry.IssueType) (*telemetry.HardwareIssue, error)
	UpsertIssue(ctx context.Context, issue *telemetry.HardwareIssue) error
}
