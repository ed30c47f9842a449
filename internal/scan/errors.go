package scan

import "fmt"

// MalformedInputError reports a scan record that is missing required fields or
// carries an invalid reported process count. The run aborts immediately; no
// partial result is produced.
type MalformedInputError struct {
	Index  int    // position of the offending record in the input sequence, -1 if not applicable
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("malformed input: %s", e.Reason)
	}
	return fmt.Sprintf("malformed input at record %d: %s", e.Index, e.Reason)
}

// InsufficientDataError reports that fewer than two devices yielded valid
// feature vectors. An ensemble over zero or one points cannot rank anomalies.
type InsufficientDataError struct {
	Scorable int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d scorable device(s), need at least 2", e.Scorable)
}

// ConfigurationError reports invalid detector configuration. It is raised
// before any computation begins; invalid settings never fall back to defaults.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}
