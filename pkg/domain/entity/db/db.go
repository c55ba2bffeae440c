package db

import (
	"context"
	"time"

	"github.com/elderproject/elder-worker/pkg/domain"
)

// Owner is the job a batch of resources is reconciled for.
type Owner struct {
	OrganizationID int64
	JobID          int64
	Provider       domain.ProviderKind
}

type UpsertCounts struct {
	Created int
	Updated int
}

func (c UpsertCounts) Add(other UpsertCounts) UpsertCounts {
	return UpsertCounts{Created: c.Created + other.Created, Updated: c.Updated + other.Updated}
}

// SweepRequest selects resources of a job which a run did not observe.
type SweepRequest struct {
	Owner Owner

	// Scopes which were swept successfully. Resources found in other scopes are kept.
	Scopes []string

	// AllScopes sweeps resources of the job in any scope. Scopes is ignored then.
	AllScopes bool

	// Before is the start of the run. Resources seen since then are kept.
	Before time.Time

	Policy domain.SweepPolicy
}

// Stored is a resource as reconciled into its table.
type Stored struct {
	domain.Resource
	OrganizationID int64
	JobID          *int64
	LastSeenAt     time.Time
	StaleSince     *time.Time
}

type Interface interface {
	// UpsertBatch writes resources by (organization, external id, kind) in one transaction.
	//
	// Re-running the same batch converges to the same rows.
	// Integrity violations abort the batch with *domain.ReconciliationError.
	UpsertBatch(ctx context.Context, owner Owner, observedAt time.Time, resources []domain.Resource) (UpsertCounts, error)

	// Sweep marks (or deletes, by policy) resources the run did not observe.
	//
	// Returns the number of rows marked or deleted.
	Sweep(ctx context.Context, req SweepRequest) (int, error)

	// Find lists resources of kind in the organization, ordered by external id.
	Find(ctx context.Context, organizationID int64, kind domain.ResourceKind) ([]Stored, error)
}
