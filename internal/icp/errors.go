package icp

import "errors"

// Error taxonomy. Only ErrConfig aborts a run.
var (
	// ErrConfig marks invalid run input, such as a malformed date.
	ErrConfig = errors.New("config error")
	// ErrNetwork marks a request that failed after its retry budget.
	ErrNetwork = errors.New("network error")
	// ErrParse marks a payload that did not match the expected shape.
	ErrParse = errors.New("parse error")
	// ErrWrite marks a record the sink failed to persist.
	ErrWrite = errors.New("write error")
)

// FailureReason classifies an attempt failure for logs and metrics.
func FailureReason(err error) string {
	if errors.Is(err, ErrParse) {
		return "parse"
	}
	return "network"
}
