package db

import (
	"context"

	"github.com/elderproject/elder-worker/pkg/domain"
)

// ApplyResult counts what Apply did.
type ApplyResult struct {
	Identities domain.ApplyCounts
	Groups     domain.ApplyCounts

	// Members counts added memberships as Created and removed ones as Deactivated.
	Members domain.ApplyCounts
}

type Interface interface {
	// Load returns the stored directory of the connector.
	//
	// Identities are returned whether they are active or not.
	// Groups are active ones. Memberships are those of active groups.
	Load(ctx context.Context, connector domain.ConnectorKind) (domain.Snapshot, error)

	// Apply writes a delta in one transaction.
	//
	// Rows are updated in place and deactivated rather than deleted,
	// so that references from other tables survive. Applying a delta twice is harmless.
	Apply(ctx context.Context, connector domain.ConnectorKind, delta domain.SyncDelta) (ApplyResult, error)

	// PendingChanges lists local membership changes waiting for write-back, the oldest first.
	PendingChanges(ctx context.Context, connector domain.ConnectorKind) ([]domain.MembershipChange, error)

	// ResolveChange settles a pending change with status and detail.
	//
	// With status ChangePushed, the change is applied to stored memberships in the same transaction.
	ResolveChange(ctx context.Context, change domain.MembershipChange, status domain.ChangeStatus, detail string) error
}
