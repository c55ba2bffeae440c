package domain

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus is the status of a discovery job, and of one of its runs.
type JobStatus string

const (
	JobPending             JobStatus = "pending"
	JobRunning             JobStatus = "running"
	JobCompleted           JobStatus = "completed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
	JobFailed              JobStatus = "failed"
)

func (s JobStatus) String() string {
	return string(s)
}

var ErrUnknownJobStatus = errors.New("unknown job status")

func AsJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case JobPending, JobRunning, JobCompleted, JobCompletedWithErrors, JobFailed:
		return st, nil
	}
	return JobStatus(s), fmt.Errorf(`%w: "%s"`, ErrUnknownJobStatus, s)
}

// IsFinal reports whether s can be the status of a finished run.
func (s JobStatus) IsFinal() bool {
	switch s {
	case JobCompleted, JobCompletedWithErrors, JobFailed:
		return true
	}
	return false
}

// DiscoveryJob is a row of discovery_jobs, as seen when it was claimed.
type DiscoveryJob struct {
	ID               int64
	Provider         ProviderKind
	OrganizationID   int64
	CredentialRef    string
	Scope            ScopeConfig
	ScheduleInterval time.Duration
	Enabled          bool
	NextRunAt        *time.Time
	LastRunAt        *time.Time
	LastError        string
	Status           JobStatus

	// Claim is set for a job claimed by this replica.
	Claim *Claim
}

// ScopeFailure is the error of a sub-scope which failed in a run.
type ScopeFailure struct {
	Scope string `json:"scope"`
	Error string `json:"error"`
}

// DiscoveryOutcome is the result of running a claimed job.
type DiscoveryOutcome struct {
	Job        DiscoveryJob
	StartedAt  time.Time
	FinishedAt time.Time
	Status     JobStatus

	Discovered int
	Created    int
	Updated    int
	Staled     int

	// Err is the reason of a failed run. It is nil unless Status is JobFailed.
	Err error

	ScopeErrors []ScopeFailure
}

// ErrorDetail is the text stored in history and in last_error.
//
// It is "" for a completed run.
func (o DiscoveryOutcome) ErrorDetail() string {
	if o.Err != nil {
		return Redact(o.Err.Error())
	}
	if len(o.ScopeErrors) != 0 {
		return Redact(NewPartialScopeError(o.ScopeErrors).Error())
	}
	return ""
}

// DiscoveryHistory is a row of discovery_history.
type DiscoveryHistory struct {
	ID         int64
	JobID      int64
	StartedAt  time.Time
	FinishedAt time.Time
	Status     JobStatus

	Discovered int
	Created    int
	Updated    int
	Staled     int

	ErrorDetail string
	ScopeErrors []ScopeFailure
}
