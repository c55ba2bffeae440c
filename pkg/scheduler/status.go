package scheduler

import (
	"context"
	"time"

	"github.com/elderproject/elder-worker/pkg/domain"
)

type ConnectorStatus struct {
	LastRunAt           *time.Time `json:"last_run_at"`
	LastStatus          string     `json:"last_status"`
	LastError           string     `json:"last_error"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	NextRunAt           *time.Time `json:"next_run_at"`
}

// Status is the body of /status.
type Status struct {
	Running           bool                       `json:"running"`
	WorkerID          string                     `json:"worker_id"`
	EnabledConnectors []string                   `json:"enabled_connectors"`
	Connectors        map[string]ConnectorStatus `json:"connectors"`
}

// Status reports the scheduler and the run state of every connector.
//
// Run states are read from the database, so they include runs of other replicas.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	st := Status{
		Running:           s.Running(),
		WorkerID:          s.config.WorkerID,
		EnabledConnectors: []string{},
		Connectors:        map[string]ConnectorStatus{},
	}
	for _, r := range s.config.Registrations {
		if r.Enabled {
			st.EnabledConnectors = append(st.EnabledConnectors, r.Connector.String())
		}
	}

	states, err := s.deps.States.List(ctx)
	if err != nil {
		return st, err
	}
	for _, rs := range states {
		st.Connectors[rs.Connector.String()] = ConnectorStatus{
			LastRunAt:           rs.LastRunAt,
			LastStatus:          string(rs.LastStatus),
			LastError:           domain.Redact(rs.LastError),
			ConsecutiveFailures: rs.ConsecutiveFailures,
			NextRunAt:           rs.NextRunAt,
		}
	}
	return st, nil
}
