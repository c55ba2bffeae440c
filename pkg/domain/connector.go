package domain

import (
	"errors"
	"fmt"
	"time"
)

// ConnectorKind tags an identity connector plugin.
type ConnectorKind string

const (
	ConnectorLDAP      ConnectorKind = "ldap"
	ConnectorOkta      ConnectorKind = "okta"
	ConnectorEntra     ConnectorKind = "entra"
	ConnectorWorkspace ConnectorKind = "workspace"

	// ConnectorFixture serves a fixed directory. Only registered when fixtures are enabled.
	ConnectorFixture ConnectorKind = "fixture"
)

var ErrUnknownConnector = errors.New("unknown connector")

func ConnectorKinds() []ConnectorKind {
	return []ConnectorKind{ConnectorLDAP, ConnectorOkta, ConnectorEntra, ConnectorWorkspace, ConnectorFixture}
}

func (c ConnectorKind) String() string {
	return string(c)
}

func AsConnectorKind(s string) (ConnectorKind, error) {
	for _, c := range ConnectorKinds() {
		if string(c) == s {
			return c, nil
		}
	}
	return ConnectorKind(s), fmt.Errorf(`%w: "%s"`, ErrUnknownConnector, s)
}

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// ConnectorRunState is a row of connector_run_state.
type ConnectorRunState struct {
	Connector           ConnectorKind
	Interval            time.Duration
	Enabled             bool
	NextRunAt           *time.Time
	LastRunAt           *time.Time
	LastStatus          RunStatus
	LastError           string
	LastDuration        time.Duration
	ConsecutiveFailures int
	Running             bool

	// Claim is set for a state claimed by this replica.
	Claim *Claim
}

// ConnectorRegistration is what a replica knows about a connector from its configuration.
type ConnectorRegistration struct {
	Connector ConnectorKind
	Interval  time.Duration
	Enabled   bool
}

// SyncOutcome is the result of a connector run.
type SyncOutcome struct {
	State      ConnectorRunState
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error

	Identities ApplyCounts
	Groups     ApplyCounts
	Members    ApplyCounts

	Pushed    int
	Conflicts int
}

func (o SyncOutcome) Status() RunStatus {
	if o.Err != nil {
		return RunFailed
	}
	return RunSuccess
}
