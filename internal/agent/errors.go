package agent

import (
	"errors"
	"fmt"
)

// ErrInsufficientData means a node cannot hand anything usable to its
// successors; the run fails.
var ErrInsufficientData = errors.New("insufficient data to continue run")

// ErrRunTimeout means the run exceeded its wall-clock ceiling.
var ErrRunTimeout = errors.New("run exceeded wall-clock budget")

// TransientError marks a sub-agent failure worth retrying: timeouts, rate
// limits, upstream 5xx.
type TransientError struct {
	Agent string
	Err   error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Agent, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (anywhere in its chain) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// InvocationError is a non-retryable sub-agent failure. The owning node
// degrades rather than failing the run, as long as enough peers succeeded.
type InvocationError struct {
	Agent string
	Err   error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: invocation failed: %v", e.Agent, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ArtifactError means one artifact could not be generated. The requesting
// node records Degraded; the run continues without that artifact.
type ArtifactError struct {
	Topic string
	Err   error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact for %q: %v", e.Topic, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }
