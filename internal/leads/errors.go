package leads

import "errors"

var (
	// ErrMissingLeadCode is returned when the upsert key is empty
	ErrMissingLeadCode = errors.New("leads: lead code is required")
)
