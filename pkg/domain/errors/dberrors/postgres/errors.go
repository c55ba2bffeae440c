// Package postgres classifies errors returned by Postgres.
package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"

	"github.com/elderproject/elder-worker/pkg/domain"
)

// Missing tells that the requested row is not in the table.
type Missing struct {
	Table    string
	Identity string
}

var _ error = Missing{}

func (m Missing) Error() string {
	return fmt.Sprintf("%s is not found in %s", m.Identity, m.Table)
}

func (m Missing) Unwrap() error {
	return domain.ErrMissing
}

// AsReconciliationError converts integrity constraint violations (SQLSTATE class 23)
// into *domain.ReconciliationError. Other errors are returned as they are.
func AsReconciliationError(table string, err error) error {
	if err == nil {
		return nil
	}
	pgerr := new(pgconn.PgError)
	if !errors.As(err, &pgerr) || !pgerrcode.IsIntegrityConstraintViolation(pgerr.Code) {
		return err
	}
	return &domain.ReconciliationError{
		Table:      table,
		Constraint: pgerr.ConstraintName,
		Err:        fmt.Errorf("%s (SQLSTATE %s)", pgerr.Message, pgerr.Code),
	}
}

// IsUndefinedTable reports whether err is "relation does not exist".
func IsUndefinedTable(err error) bool {
	pgerr := new(pgconn.PgError)
	return errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UndefinedTable
}
