package db

import (
	"context"
	"time"

	"github.com/elderproject/elder-worker/pkg/domain"
)

type ClaimRequest struct {
	Owner      string
	StaleAfter time.Duration

	// Connectors limits claims to connectors configured in this replica.
	Connectors []domain.ConnectorKind

	// Exclude lists connectors which should not be claimed even if due.
	Exclude []domain.ConnectorKind
}

type Interface interface {
	// Register makes sure each connector has a run state, and updates its interval.
	//
	// New run states are due immediately.
	Register(ctx context.Context, regs []domain.ConnectorRegistration) error

	// Claim picks one due connector, in the same manner as discovery jobs are claimed.
	Claim(ctx context.Context, req ClaimRequest) (domain.ConnectorRunState, bool, error)

	// Finish records the outcome of a run, schedules the next run at nextRunAt,
	// and releases the claim.
	//
	// A failure increments consecutive_failures; a success resets it.
	// Returns false when the claim was taken over.
	Finish(ctx context.Context, outcome domain.SyncOutcome, nextRunAt time.Time) (bool, error)

	// Abandon records a run which did not finish, keeping the claim.
	Abandon(ctx context.Context, outcome domain.SyncOutcome) (bool, error)

	// List returns run states of all connectors, ordered by name.
	List(ctx context.Context) ([]domain.ConnectorRunState, error)
}
