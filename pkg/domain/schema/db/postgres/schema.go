package postgres

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	kpool "github.com/elderproject/elder-worker/pkg/conn/db/postgres/pool"
	pgerrors "github.com/elderproject/elder-worker/pkg/domain/errors/dberrors/postgres"
	kschema "github.com/elderproject/elder-worker/pkg/domain/schema/db"
	xe "github.com/elderproject/elder-worker/pkg/errors"
)

type pgSchema struct {
	pool kpool.Pool

	// directory with one subdirectory of .sql files per version. May be "".
	repository string
}

var _ kschema.SchemaInterface = &pgSchema{}

// New returns the schema of the database behind pool.
//
// repository is the directory holding versions of the schema ("1/", "2/", ...).
// It can be "", when the worker does not watch the schema.
func New(pool kpool.Pool, repository string) kschema.SchemaInterface {
	return &pgSchema{pool: pool, repository: repository}
}

type version struct {
	Version int
	Root    string
}

func (v version) apply(ctx context.Context, conn kpool.Queryer) error {
	entries, err := os.ReadDir(v.Root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		query, err := os.ReadFile(filepath.Join(v.Root, e.Name()))
		if err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, string(query)); err != nil {
			return xe.WrapWithNote(filepath.Join(v.Root, e.Name()), err)
		}
	}
	return nil
}

func (s *pgSchema) Version(ctx context.Context) (int, error) {
	return currentVersion(ctx, s.pool)
}

// currentVersion does not raise "undefined table" for an empty database,
// since an error would abort the transaction q may be in.
func currentVersion(ctx context.Context, q kpool.Queryer) (int, error) {
	var exists bool
	if err := q.QueryRow(
		ctx, `select to_regclass('"schema_version"') is not null`,
	).Scan(&exists); err != nil {
		return -1, xe.Wrap(err)
	}
	if !exists {
		return 0, nil
	}

	var version *int
	if err := q.QueryRow(
		ctx, `select max("version") from "schema_version"`,
	).Scan(&version); err != nil {
		if pgerrors.IsUndefinedTable(err) {
			return 0, nil
		}
		return -1, xe.Wrap(err)
	}
	if version == nil {
		return 0, nil
	}
	return *version, nil
}

func (s *pgSchema) Upgrade(ctx context.Context) error {
	if s.repository == "" {
		return xe.New("no schema repository is given")
	}
	versions, err := s.versions()
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	current, err := currentVersion(ctx, tx)
	if err != nil {
		return err
	}

	for _, v := range versions {
		if v.Version <= current {
			continue
		}
		if err := v.apply(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `delete from "schema_version"`); err != nil {
			return xe.Wrap(err)
		}
		if _, err := tx.Exec(
			ctx, `insert into "schema_version" ("version") values ($1)`, v.Version,
		); err != nil {
			return xe.Wrap(err)
		}
	}

	return xe.Wrap(tx.Commit(ctx))
}

func (s *pgSchema) Require(ctx context.Context, min int) error {
	v, err := s.Version(ctx)
	if err != nil {
		return err
	}
	if v < min {
		return fmt.Errorf("database schema is too old: version %d < %d", v, min)
	}
	return nil
}

func (s *pgSchema) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, can := context.WithCancelCause(ctx)
	if s.repository == "" {
		return cctx, func() { can(nil) }
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		can(err)
		return cctx, func() {}
	}
	if err := w.Add(s.repository); err != nil {
		w.Close()
		can(err)
		return cctx, func() {}
	}

	checkVersion := func() {
		vs, err := s.versions()
		if err != nil {
			can(fmt.Errorf("failed to read schema repository: %w", err))
			return
		}
		current, err := s.Version(cctx)
		if err != nil {
			can(fmt.Errorf("failed to get current schema version: %w", err))
			return
		}
		if len(vs) != 0 && current < vs[len(vs)-1].Version {
			can(fmt.Errorf(
				"schema is outdated: %d (in db) < %d (in repository)",
				current, vs[len(vs)-1].Version,
			))
		}
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-cctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
					continue
				}
				checkVersion()
			}
		}
	}()

	checkVersion()
	return cctx, func() { can(nil) }
}

// versions lists versions in the repository, sorted by version number.
func (s *pgSchema) versions() ([]version, error) {
	dir, err := os.ReadDir(s.repository)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	versions := make([]version, 0, len(dir))
	for _, entry := range dir {
		if !entry.IsDir() {
			continue
		}
		v, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		versions = append(versions, version{
			Version: v,
			Root:    filepath.Join(s.repository, entry.Name()),
		})
	}
	slices.SortFunc(versions, func(a, b version) int { return cmp.Compare(a.Version, b.Version) })
	return versions, nil
}
