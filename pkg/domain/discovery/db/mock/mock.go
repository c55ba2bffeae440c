// Package mock provides a hand-written mock of the discovery job store.
package mock

import (
	"context"
	"errors"

	"github.com/elderproject/elder-worker/pkg/domain"
	kdb "github.com/elderproject/elder-worker/pkg/domain/discovery/db"
)

type DiscoveryInterface struct {
	Impl struct {
		Claim   func(ctx context.Context, req kdb.ClaimRequest) (domain.DiscoveryJob, bool, error)
		Finish  func(ctx context.Context, outcome domain.DiscoveryOutcome) (bool, error)
		Abandon func(ctx context.Context, outcome domain.DiscoveryOutcome) (bool, error)
		Get     func(ctx context.Context, id int64) (domain.DiscoveryJob, error)
		History func(ctx context.Context, jobID int64) ([]domain.DiscoveryHistory, error)
	}
}

var _ kdb.Interface = &DiscoveryInterface{}

func New() *DiscoveryInterface {
	return &DiscoveryInterface{}
}

func (m *DiscoveryInterface) Claim(ctx context.Context, req kdb.ClaimRequest) (domain.DiscoveryJob, bool, error) {
	if m.Impl.Claim == nil {
		return domain.DiscoveryJob{}, false, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Claim(ctx, req)
}

func (m *DiscoveryInterface) Finish(ctx context.Context, outcome domain.DiscoveryOutcome) (bool, error) {
	if m.Impl.Finish == nil {
		return false, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Finish(ctx, outcome)
}

func (m *DiscoveryInterface) Abandon(ctx context.Context, outcome domain.DiscoveryOutcome) (bool, error) {
	if m.Impl.Abandon == nil {
		return false, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Abandon(ctx, outcome)
}

func (m *DiscoveryInterface) Get(ctx context.Context, id int64) (domain.DiscoveryJob, error) {
	if m.Impl.Get == nil {
		return domain.DiscoveryJob{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Get(ctx, id)
}

func (m *DiscoveryInterface) History(ctx context.Context, jobID int64) ([]domain.DiscoveryHistory, error) {
	if m.Impl.History == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.History(ctx, jobID)
}
