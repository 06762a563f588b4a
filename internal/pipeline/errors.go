package pipeline

import "codeberg.org/mutker/hwsentry/internal/errors"

const (
	ErrTickSkipped   = errors.ErrorCode("pipeline_tick_skipped")
	ErrPersistFailed = errors.ErrorCode("pipeline_persist_failed")
	ErrRetrainFailed = errors.ErrorCode("pipeline_retrain_failed")
	ErrSummaryFailed = errors.ErrorCode("pipeline_summary_failed")
)
