package agent

import "fmt"

// ExtractionError reports a provider response that could not be parsed into
// a valid workout log. The LOG branch aborts on it; no partial merge occurs.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("workout extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("workout extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
