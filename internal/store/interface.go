package store

import (
	"database/sql"
	"time"

	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

// IssueFilter narrows ListIssues. Zero values match everything.
type IssueFilter struct {
	Resolved sql.NullBool
	Type     telemetry.IssueType
	Since    time.Time
	Limit    int
}

// Range is an aggregate over one numeric column.
type Range struct {
	Avg float64
	Min float64
	Max float64
}

// Statistics aggregates the samples recorded since a point in time.
type Statistics struct {
	Since       time.Time
	Samples     int
	Anomalies   int
	CPU         Range
	Memory      Range
	Disk        Range
	NetworkSent Range
	NetworkRecv Range
}

// IssueSummary counts issues created since a point in time.
type IssueSummary struct {
	Since      time.Time
	Total      int
	Resolved   int
	Unresolved int
	ByType     map[telemetry.IssueType]int
}
