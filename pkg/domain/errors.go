package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CredentialError tells that a credential reference could not be turned into
// usable credential material.
//
// The run fails, and the job stays enabled.
//
// Source describes where the credential was looked for (never its content).
type CredentialError struct {
	Source string
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	msg := fmt.Sprintf("credential error (%s): %s", e.Source, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// ProviderAPIError is a failure of a cloud or directory API which is not
// confined to one sub-scope.
//
// It is never retried within the run. The next scheduled run tries again.
type ProviderAPIError struct {
	Provider string
	Op       string

	// Auth is true when the upstream rejected the credential.
	Auth bool
	Err  error
}

func (e *ProviderAPIError) Error() string {
	kind := "api error"
	if e.Auth {
		kind = "authentication failed"
	}
	return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Op, kind, e.Err)
}

func (e *ProviderAPIError) Unwrap() error {
	return e.Err
}

// ScopeError is yielded by a provider when one sub-scope (a region, a project...)
// failed. Discovery goes on with other scopes.
type ScopeError struct {
	Scope string
	Err   error
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("scope %s: %s", e.Scope, e.Reason())
}

// Reason is the message of Err, or "failed" without Err.
func (e *ScopeError) Reason() string {
	if e.Err == nil {
		return "failed"
	}
	return e.Err.Error()
}

func (e *ScopeError) Unwrap() error {
	return e.Err
}

// PartialScopeError summarises failed scopes of a run which otherwise succeeded.
type PartialScopeError struct {
	Failures []ScopeFailure
}

func NewPartialScopeError(failures []ScopeFailure) *PartialScopeError {
	return &PartialScopeError{Failures: failures}
}

func (e *PartialScopeError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Scope, f.Error))
	}
	return fmt.Sprintf("%d scope(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// ReconciliationError is a constraint violation while writing a batch.
//
// The batch is rolled back. Batches committed before stay.
type ReconciliationError struct {
	Table      string
	Constraint string
	Err        error
}

func (e *ReconciliationError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("reconciling %s: constraint %s violated: %v", e.Table, e.Constraint, e.Err)
	}
	return fmt.Sprintf("reconciling %s: %v", e.Table, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// ErrClaimConflict means another replica holds or took over the work.
// It is not reported as a failure.
var ErrClaimConflict = errors.New("claim conflict")

// TimeoutError is the error of a run which exceeded its time budget.
//
// The claim is left in place, and becomes reclaimable once it is stale.
type TimeoutError struct {
	Budget time.Duration
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution exceeded its budget (%s): %v", e.Budget, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// CancelledError is the error of a run cancelled from outside before it finished,
// as on shutdown. The claim is left in place as with TimeoutError.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("execution was cancelled: %v", e.Cause)
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// Interrupted tells why run, derived from parent with a budget, ended early.
//
// It is a *CancelledError when parent is done, and a *TimeoutError otherwise.
func Interrupted(parent, run context.Context, budget time.Duration) error {
	if parent.Err() != nil {
		return &CancelledError{Cause: context.Cause(parent)}
	}
	return &TimeoutError{Budget: budget, Err: run.Err()}
}

// ErrMissing is wrapped by errors which tell that a requested row does not exist.
var ErrMissing = errors.New("missing")
