package issues

import "codeberg.org/mutker/hwsentry/internal/errors"

const (
	ErrSampleNotPersisted = errors.ErrorCode("issues_sample_not_persisted")
	ErrRecordFailed       = errors.ErrorCode("issues_record_failed")
)
