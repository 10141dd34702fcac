package bulk

import "errors"

// Request errors.
var (
	ErrUnknownAction   = errors.New("unknown bulk action")
	ErrEmptyBatch      = errors.New("no incident ids given")
	ErrBatchTooLarge   = errors.New("too many incident ids in one batch")
	ErrBlankIncidentID = errors.New("incident id must not be blank")
)
