package reliability

import "errors"

// Window errors.
var (
	ErrInvalidWindow  = errors.New("window end must be after its start")
	ErrWindowTooLarge = errors.New("window exceeds the maximum length")
)
