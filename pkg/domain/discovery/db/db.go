package db

import (
	"context"
	"time"

	"github.com/elderproject/elder-worker/pkg/domain"
)

// ClaimRequest describes who claims and what can be claimed.
type ClaimRequest struct {
	// Owner is stamped on the claimed row (claimed_by).
	Owner string

	// StaleAfter is how long a claim lives. Older claims are taken over.
	StaleAfter time.Duration

	// Providers limits claims to jobs this replica can run.
	Providers []domain.ProviderKind

	// Exclude lists ids of jobs which should not be claimed even if due.
	Exclude []int64
}

type Interface interface {
	// Claim picks one due job, marks it running and stamps the claim, in one transaction.
	//
	// Rows locked by other transactions are skipped, so racing replicas never claim the same job.
	//
	// Returns
	//
	// - domain.DiscoveryJob: the claimed job, with Claim set.
	//
	// - bool: false when no job is due.
	//
	// - error
	Claim(ctx context.Context, req ClaimRequest) (domain.DiscoveryJob, bool, error)

	// Finish records the outcome of a run and releases the claim.
	//
	// The history row is written as long as the job exists.
	// The job row is updated only while it is still claimed with the same token.
	//
	// Returns false when the job row was not updated
	// (it is gone, or the claim was taken over).
	Finish(ctx context.Context, outcome domain.DiscoveryOutcome) (bool, error)

	// Abandon records a run which did not finish (timed out or cancelled).
	//
	// The history row and last_error are written. The claim is kept,
	// so that the job becomes reclaimable after the stale-claim timeout.
	Abandon(ctx context.Context, outcome domain.DiscoveryOutcome) (bool, error)

	// Get returns the job with id. It fails with domain.ErrMissing when there is no such job.
	Get(ctx context.Context, id int64) (domain.DiscoveryJob, error)

	// History lists runs of the job, the oldest first.
	History(ctx context.Context, jobID int64) ([]domain.DiscoveryHistory, error)
}
