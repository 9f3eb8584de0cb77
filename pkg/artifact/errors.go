package artifact

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by fetchers when the repository does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotApproved marks a reimplementation the verifier refused.
var ErrNotApproved = errors.New("reimplementation not approved by verifier")

// FetchError is a repository-level failure. It fails that repository's run
// only.
type FetchError struct {
	Repository string
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "fetch"
	if e.Transient {
		kind = "transient fetch"
	}
	return fmt.Sprintf("%s error for %s: %v", kind, e.Repository, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// OracleError is a file-level failure of the compliance checker or one of the
// abstraction, generation and verification collaborators.
type OracleError struct {
	Stage string // compliance, abstract, generate, verify
	Path  string
	Err   error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s failed for %s: %v", e.Stage, e.Path, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// PersistenceError is a file-level storage write failure.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigError is an orchestrator-level misconfiguration. It halts the run.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// QueueError rejects a target that cannot be queued.
type QueueError struct {
	Target string
	Reason string
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("cannot queue %q: %s", e.Target, e.Reason)
}

// IsFileLevel reports whether err belongs to a single file and must not stop
// the repository.
func IsFileLevel(err error) bool {
	var oe *OracleError
	var pe *PersistenceError
	return errors.As(err, &oe) || errors.As(err, &pe) || errors.Is(err, ErrNotApproved)
}
