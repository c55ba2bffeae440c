package postgres_test

import (
	"errors"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"

	"github.com/elderproject/elder-worker/pkg/domain"
	pgerrors "github.com/elderproject/elder-worker/pkg/domain/errors/dberrors/postgres"
	xe "github.com/elderproject/elder-worker/pkg/errors"
)

func TestAsReconciliationError(t *testing.T) {
	t.Run("integrity violation becomes ReconciliationError", func(t *testing.T) {
		cause := &pgconn.PgError{
			Code:           pgerrcode.UniqueViolation,
			Message:        "duplicate key value violates unique constraint",
			ConstraintName: "entities_organization_id_external_id_resource_kind_key",
		}
		err := pgerrors.AsReconciliationError("entities", xe.Wrap(cause))

		var recErr *domain.ReconciliationError
		if !errors.As(err, &recErr) {
			t.Fatalf("err = %v, want *domain.ReconciliationError", err)
		}
		if recErr.Table != "entities" || recErr.Constraint != cause.ConstraintName {
			t.Errorf("(table, constraint) = (%s, %s)", recErr.Table, recErr.Constraint)
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		cause := &pgconn.PgError{Code: pgerrcode.SerializationFailure}
		if err := pgerrors.AsReconciliationError("entities", cause); err != cause {
			t.Errorf("err = %v, want the cause", err)
		}

		plain := errors.New("fake")
		if err := pgerrors.AsReconciliationError("entities", plain); err != plain {
			t.Errorf("err = %v, want the cause", err)
		}

		if err := pgerrors.AsReconciliationError("entities", nil); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})
}

func TestMissing(t *testing.T) {
	err := xe.Wrap(pgerrors.Missing{Table: "discovery_jobs", Identity: "id=3"})
	if !errors.Is(err, domain.ErrMissing) {
		t.Errorf("Missing does not unwrap to ErrMissing: %v", err)
	}
}
