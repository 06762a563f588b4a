package issues

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/logger"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

// Recorder keeps at most one open issue per type: a candidate refreshes the
// open issue of its type or, when none is open, creates a new one.
type Recorder struct {
	store  IssueStore
	logger logger.Logger
	now    func() time.Time
	mu     sync.Mutex
}

func NewRecorder(store IssueStore, log logger.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: log,
		now:    time.Now,
	}
}

// Record links candidates to the persisted sample s. It stops at the first
// store failure and returns what was recorded until then.
func (r *Recorder) Record(ctx context.Context, s *telemetry.MetricSample, candidates []Candidate) ([]Recorded, error) {
	errFactory := errors.New()

	if len(candidates) == 0 {
		return nil, nil
	}
	if s == nil || s.ID == 0 {
		return nil, errFactory.New(ErrSampleNotPersisted)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[telemetry.IssueType]bool, len(candidates))
	out := make([]Recorded, 0, len(candidates))

	for _, c := range candidates {
		if seen[c.Type] {
			continue
		}
		seen[c.Type] = true

		now := r.now()
		existing, err := r.store.FindUnresolvedIssue(ctx, c.Type)
		if err != nil {
			return out, errFactory.Wrap(ErrRecordFailed, err)
		}

		if existing != nil {
			existing.Timestamp = now
			existing.SampleID = s.ID
			if err := r.store.UpsertIssue(ctx, existing); err != nil {
				return out, errFactory.Wrap(ErrRecordFailed, err)
			}
			r.logger.Debug().
				Int64("issue_id", existing.ID).
				Str("type", c.Type.String()).
				Int64("sample_id", s.ID).
				Msg("Refreshed open issue")
			out = append(out, Recorded{Issue: *existing, Action: ActionUpdated})
			continue
		}

		issue := &telemetry.HardwareIssue{
			SampleID:         s.ID,
			Timestamp:        now,
			Type:             c.Type,
			Description:      c.Description,
			Recommendation:   c.Recommendation,
			FanExpectedSpeed: c.FanExpectedSpeed,
		}
		if err := r.store.UpsertIssue(ctx, issue); err != nil {
			return out, errFactory.Wrap(ErrRecordFailed, err)
		}
		r.logger.Warn().
			Int64("issue_id", issue.ID).
			Str("type", c.Type.String()).
			Str("description", c.Description).
			Msg("New hardware issue")
		out = append(out, Recorded{Issue: *issue, Action: ActionCreated})
	}

	return out, nil
}
