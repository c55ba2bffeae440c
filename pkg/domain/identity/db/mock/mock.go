// Package mock provides a hand-written mock of the identity store.
package mock

import (
	"context"
	"errors"

	"github.com/elderproject/elder-worker/pkg/domain"
	kdb "github.com/elderproject/elder-worker/pkg/domain/identity/db"
)

type IdentityInterface struct {
	Impl struct {
		Load           func(ctx context.Context, connector domain.ConnectorKind) (domain.Snapshot, error)
		Apply          func(ctx context.Context, connector domain.ConnectorKind, delta domain.SyncDelta) (kdb.ApplyResult, error)
		PendingChanges func(ctx context.Context, connector domain.ConnectorKind) ([]domain.MembershipChange, error)
		ResolveChange  func(ctx context.Context, change domain.MembershipChange, status domain.ChangeStatus, detail string) error
	}
}

var _ kdb.Interface = &IdentityInterface{}

func New() *IdentityInterface {
	return &IdentityInterface{}
}

func (m *IdentityInterface) Load(ctx context.Context, connector domain.ConnectorKind) (domain.Snapshot, error) {
	if m.Impl.Load == nil {
		return domain.Snapshot{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Load(ctx, connector)
}

func (m *IdentityInterface) Apply(ctx context.Context, connector domain.ConnectorKind, delta domain.SyncDelta) (kdb.ApplyResult, error) {
	if m.Impl.Apply == nil {
		return kdb.ApplyResult{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Apply(ctx, connector, delta)
}

func (m *IdentityInterface) PendingChanges(ctx context.Context, connector domain.ConnectorKind) ([]domain.MembershipChange, error) {
	if m.Impl.PendingChanges == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.PendingChanges(ctx, connector)
}

func (m *IdentityInterface) ResolveChange(ctx context.Context, change domain.MembershipChange, status domain.ChangeStatus, detail string) error {
	if m.Impl.ResolveChange == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.ResolveChange(ctx, change, status, detail)
}
