// Package mock provides a hand-written mock of the resource store.
package mock

import (
	"context"
	"errors"
	"time"

	"github.com/elderproject/elder-worker/pkg/domain"
	kdb "github.com/elderproject/elder-worker/pkg/domain/entity/db"
)

type EntityInterface struct {
	Impl struct {
		UpsertBatch func(ctx context.Context, owner kdb.Owner, observedAt time.Time, resources []domain.Resource) (kdb.UpsertCounts, error)
		Sweep       func(ctx context.Context, req kdb.SweepRequest) (int, error)
		Find        func(ctx context.Context, organizationID int64, kind domain.ResourceKind) ([]kdb.Stored, error)
	}
}

var _ kdb.Interface = &EntityInterface{}

func New() *EntityInterface {
	return &EntityInterface{}
}

func (m *EntityInterface) UpsertBatch(ctx context.Context, owner kdb.Owner, observedAt time.Time, resources []domain.Resource) (kdb.UpsertCounts, error) {
	if m.Impl.UpsertBatch == nil {
		return kdb.UpsertCounts{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.UpsertBatch(ctx, owner, observedAt, resources)
}

func (m *EntityInterface) Sweep(ctx context.Context, req kdb.SweepRequest) (int, error) {
	if m.Impl.Sweep == nil {
		return 0, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Sweep(ctx, req)
}

func (m *EntityInterface) Find(ctx context.Context, organizationID int64, kind domain.ResourceKind) ([]kdb.Stored, error) {
	if m.Impl.Find == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Find(ctx, organizationID, kind)
}
