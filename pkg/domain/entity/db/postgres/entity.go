package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	kpool "github.com/elderproject/elder-worker/pkg/conn/db/postgres/pool"
	"github.com/elderproject/elder-worker/pkg/domain"
	kdb "github.com/elderproject/elder-worker/pkg/domain/entity/db"
	pgerrors "github.com/elderproject/elder-worker/pkg/domain/errors/dberrors/postgres"
	xe "github.com/elderproject/elder-worker/pkg/errors"
)

type pgEntity struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgEntity{pool: pool}
}

func table(kind domain.ResourceKind) (string, error) {
	t := kind.Table()
	if t == "" {
		return "", xe.WrapWithNote(kind.String(), domain.ErrUnknownResourceKind)
	}
	return pgx.Identifier{t}.Sanitize(), nil
}

func upsertQuery(table string) string {
	return fmt.Sprintf(
		`
		insert into %s (
			"organization_id", "external_id", "resource_kind", "provider",
			"resource_type", "name", "scope", "attributes", "tags",
			"discovery_job_id", "first_seen_at", "last_seen_at", "stale_since"
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $11, $11, null)
		on conflict ("organization_id", "external_id", "resource_kind") do update set
			"provider" = excluded."provider",
			"resource_type" = excluded."resource_type",
			"name" = excluded."name",
			"scope" = excluded."scope",
			"attributes" = excluded."attributes",
			"tags" = excluded."tags",
			"discovery_job_id" = excluded."discovery_job_id",
			"last_seen_at" = greatest(%[1]s."last_seen_at", excluded."last_seen_at"),
			"stale_since" = null
		returning ("xmax" = 0)
		`,
		table,
	)
}

func (e *pgEntity) UpsertBatch(ctx context.Context, owner kdb.Owner, observedAt time.Time, resources []domain.Resource) (kdb.UpsertCounts, error) {
	if len(resources) == 0 {
		return kdb.UpsertCounts{}, nil
	}

	batch := &pgx.Batch{}
	tables := make([]string, 0, len(resources))
	for _, r := range resources {
		t, err := table(r.Kind)
		if err != nil {
			return kdb.UpsertCounts{}, err
		}
		attrs, err := jsonObject(r.Attributes)
		if err != nil {
			return kdb.UpsertCounts{}, xe.WrapWithNote(r.ExternalID, err)
		}
		tags, err := jsonObject(r.Tags)
		if err != nil {
			return kdb.UpsertCounts{}, xe.WrapWithNote(r.ExternalID, err)
		}

		batch.Queue(
			upsertQuery(t),
			owner.OrganizationID, r.ExternalID, r.Kind.String(), owner.Provider.String(),
			r.Type, r.Name, r.Scope, attrs, tags,
			owner.JobID, observedAt,
		)
		tables = append(tables, r.Kind.Table())
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return kdb.UpsertCounts{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	counts := kdb.UpsertCounts{}
	if err := func() error {
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for i := range resources {
			var inserted bool
			if err := results.QueryRow().Scan(&inserted); err != nil {
				return xe.Wrap(pgerrors.AsReconciliationError(tables[i], err))
			}
			if inserted {
				counts.Created += 1
			} else {
				counts.Updated += 1
			}
		}
		return nil
	}(); err != nil {
		return kdb.UpsertCounts{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return kdb.UpsertCounts{}, xe.Wrap(err)
	}
	return counts, nil
}

// jsonObject encodes a map as a JSON object. nil becomes {}.
func jsonObject[V any](m map[string]V) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (e *pgEntity) Sweep(ctx context.Context, req kdb.SweepRequest) (int, error) {
	if !req.AllScopes && len(req.Scopes) == 0 {
		return 0, nil
	}
	policy := req.Policy
	if policy == "" {
		policy = domain.SweepStale
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	scopes := req.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	swept := 0
	for _, kind := range domain.ResourceKinds() {
		t, err := table(kind)
		if err != nil {
			return 0, err
		}

		cond := `
			"organization_id" = $1 and "discovery_job_id" = $2 and "provider" = $3
			and "last_seen_at" < $4
			and ($5 or "scope" = any($6::text[]))
		`
		var query string
		switch policy {
		case domain.SweepDelete:
			query = fmt.Sprintf(`delete from %s where %s`, t, cond)
		default:
			query = fmt.Sprintf(
				`update %s set "stale_since" = now() where "stale_since" is null and %s`, t, cond,
			)
		}

		ctag, err := tx.Exec(
			ctx, query,
			req.Owner.OrganizationID, req.Owner.JobID, req.Owner.Provider.String(),
			req.Before, req.AllScopes, scopes,
		)
		if err != nil {
			return 0, xe.Wrap(pgerrors.AsReconciliationError(kind.Table(), err))
		}
		swept += int(ctag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, xe.Wrap(err)
	}
	return swept, nil
}

func (e *pgEntity) Find(ctx context.Context, organizationID int64, kind domain.ResourceKind) ([]kdb.Stored, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}

	rows, err := e.pool.Query(
		ctx,
		fmt.Sprintf(
			`
			select
				"external_id", "resource_type", "name", "scope",
				"attributes"::text, "tags"::text,
				"discovery_job_id", "last_seen_at", "stale_since"
			from %s
			where "organization_id" = $1
			order by "external_id"
			`,
			t,
		),
		organizationID,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()

	found := []kdb.Stored{}
	for rows.Next() {
		s := kdb.Stored{OrganizationID: organizationID}
		s.Kind = kind
		var attrs, tags string
		if err := rows.Scan(
			&s.ExternalID, &s.Type, &s.Name, &s.Scope,
			&attrs, &tags,
			&s.JobID, &s.LastSeenAt, &s.StaleSince,
		); err != nil {
			return nil, xe.Wrap(err)
		}
		if err := json.Unmarshal([]byte(attrs), &s.Attributes); err != nil {
			return nil, xe.Wrap(err)
		}
		if err := json.Unmarshal([]byte(tags), &s.Tags); err != nil {
			return nil, xe.Wrap(err)
		}
		found = append(found, s)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return found, nil
}
