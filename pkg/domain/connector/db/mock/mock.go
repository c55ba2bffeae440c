// Package mock provides a hand-written mock of the connector run state store.
package mock

import (
	"context"
	"errors"
	"time"

	"github.com/elderproject/elder-worker/pkg/domain"
	kdb "github.com/elderproject/elder-worker/pkg/domain/connector/db"
)

type ConnectorInterface struct {
	Impl struct {
		Register func(ctx context.Context, regs []domain.ConnectorRegistration) error
		Claim    func(ctx context.Context, req kdb.ClaimRequest) (domain.ConnectorRunState, bool, error)
		Finish   func(ctx context.Context, outcome domain.SyncOutcome, nextRunAt time.Time) (bool, error)
		Abandon  func(ctx context.Context, outcome domain.SyncOutcome) (bool, error)
		List     func(ctx context.Context) ([]domain.ConnectorRunState, error)
	}
}

var _ kdb.Interface = &ConnectorInterface{}

func New() *ConnectorInterface {
	return &ConnectorInterface{}
}

func (m *ConnectorInterface) Register(ctx context.Context, regs []domain.ConnectorRegistration) error {
	if m.Impl.Register == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.Register(ctx, regs)
}

func (m *ConnectorInterface) Claim(ctx context.Context, req kdb.ClaimRequest) (domain.ConnectorRunState, bool, error) {
	if m.Impl.Claim == nil {
		return domain.ConnectorRunState{}, false, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Claim(ctx, req)
}

func (m *ConnectorInterface) Finish(ctx context.Context, outcome domain.SyncOutcome, nextRunAt time.Time) (bool, error) {
	if m.Impl.Finish == nil {
		return false, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Finish(ctx, outcome, nextRunAt)
}

func (m *ConnectorInterface) Abandon(ctx context.Context, outcome domain.SyncOutcome) (bool, error) {
	if m.Impl.Abandon == nil {
		return false, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Abandon(ctx, outcome)
}

func (m *ConnectorInterface) List(ctx context.Context) ([]domain.ConnectorRunState, error) {
	if m.Impl.List == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.List(ctx)
}
