package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	kpool "github.com/elderproject/elder-worker/pkg/conn/db/postgres/pool"
	"github.com/elderproject/elder-worker/pkg/domain"
	kdb "github.com/elderproject/elder-worker/pkg/domain/discovery/db"
	pgerrors "github.com/elderproject/elder-worker/pkg/domain/errors/dberrors/postgres"
	xe "github.com/elderproject/elder-worker/pkg/errors"
)

type pgDiscovery struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgDiscovery{pool: pool}
}

const jobColumns = `
	"j"."id", "j"."provider", "j"."organization_id", "j"."credential_ref", "j"."scope"::text,
	"j"."schedule_interval", "j"."enabled", "j"."next_run_at", "j"."last_run_at",
	"j"."last_error", "j"."status", "j"."claimed_by", "j"."claimed_at", "j"."claim_token"::text
`

func scanJob(row pgx.Row) (domain.DiscoveryJob, error) {
	var (
		job              domain.DiscoveryJob
		provider, scope  string
		interval         int64
		lastError        *string
		status           string
		claimedBy, token *string
		claimedAt        *time.Time
	)
	if err := row.Scan(
		&job.ID, &provider, &job.OrganizationID, &job.CredentialRef, &scope,
		&interval, &job.Enabled, &job.NextRunAt, &job.LastRunAt,
		&lastError, &status, &claimedBy, &claimedAt, &token,
	); err != nil {
		return domain.DiscoveryJob{}, err
	}

	// unknown providers are kept as they are. The executor reports them.
	job.Provider = domain.ProviderKind(provider)
	job.ScheduleInterval = time.Duration(interval) * time.Second
	job.Status = domain.JobStatus(status)
	if lastError != nil {
		job.LastError = *lastError
	}
	if err := json.Unmarshal([]byte(scope), &job.Scope); err != nil {
		return domain.DiscoveryJob{}, fmt.Errorf("job %d has malformed scope: %w", job.ID, err)
	}
	if token != nil && claimedBy != nil && claimedAt != nil {
		t, err := uuid.Parse(*token)
		if err != nil {
			return domain.DiscoveryJob{}, err
		}
		job.Claim = &domain.Claim{Owner: *claimedBy, Token: t, ClaimedAt: *claimedAt}
	}
	return job, nil
}

func (d *pgDiscovery) Claim(ctx context.Context, req kdb.ClaimRequest) (domain.DiscoveryJob, bool, error) {
	providers := make([]string, 0, len(req.Providers))
	for _, p := range req.Providers {
		providers = append(providers, p.String())
	}
	exclude := append([]int64{}, req.Exclude...)

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return domain.DiscoveryJob{}, false, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	// Rows locked by other replicas are skipped: they are being claimed right now.
	job, err := scanJob(tx.QueryRow(
		ctx,
		`
		with "due" as (
			select "id" from "discovery_jobs"
			where "enabled"
				and "provider" = any($3::text[])
				and not ("id" = any($5::bigint[]))
				and (
					(
						"status" <> 'running'
						and coalesce("next_run_at", '-infinity'::timestamptz) <= now()
					)
					or (
						"status" = 'running'
						and coalesce("claimed_at", '-infinity'::timestamptz) < now() - make_interval(secs => $2)
					)
				)
			order by "next_run_at" asc nulls first, "id" asc
			limit 1
			for update skip locked
		)
		update "discovery_jobs" as "j"
		set
			"status" = 'running',
			"claimed_by" = $1,
			"claimed_at" = now(),
			"claim_token" = $4::uuid,
			"next_run_at" = greatest(coalesce("j"."next_run_at", now()), now())
				+ make_interval(secs => "j"."schedule_interval")
		from "due"
		where "j"."id" = "due"."id"
		returning `+jobColumns,
		req.Owner, req.StaleAfter.Seconds(), providers, domain.NewClaimToken().String(), exclude,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DiscoveryJob{}, false, nil
	} else if err != nil {
		return domain.DiscoveryJob{}, false, xe.Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.DiscoveryJob{}, false, xe.Wrap(err)
	}
	return job, true, nil
}

func insertHistory(ctx context.Context, tx kpool.Tx, outcome domain.DiscoveryOutcome, status domain.JobStatus) error {
	scopeErrors := outcome.ScopeErrors
	if scopeErrors == nil {
		scopeErrors = []domain.ScopeFailure{}
	}
	scopeErrorsJSON, err := json.Marshal(scopeErrors)
	if err != nil {
		return xe.Wrap(err)
	}

	var detail *string
	if d := outcome.ErrorDetail(); d != "" {
		detail = &d
	}

	// a job deleted while running has no history to add to.
	if _, err := tx.Exec(
		ctx,
		`
		insert into "discovery_history" (
			"job_id", "claim_token", "started_at", "finished_at", "status",
			"entities_discovered", "entities_created", "entities_updated", "entities_staled",
			"error_detail", "scope_errors"
		)
		select
			$1::bigint, $2::uuid, $3::timestamptz, $4::timestamptz, $5::text,
			$6::integer, $7::integer, $8::integer, $9::integer,
			$10::text, $11::jsonb
		where exists (select 1 from "discovery_jobs" where "id" = $1)
		on conflict ("job_id", "claim_token") do nothing
		`,
		outcome.Job.ID, outcome.Job.Claim.Token.String(),
		outcome.StartedAt, outcome.FinishedAt, status.String(),
		outcome.Discovered, outcome.Created, outcome.Updated, outcome.Staled,
		detail, string(scopeErrorsJSON),
	); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (d *pgDiscovery) Finish(ctx context.Context, outcome domain.DiscoveryOutcome) (bool, error) {
	if outcome.Job.Claim == nil {
		return false, xe.New("finishing a job which is not claimed")
	}
	if !outcome.Status.IsFinal() {
		return false, xe.WrapWithNote(fmt.Sprintf("status = %s", outcome.Status), domain.ErrUnknownJobStatus)
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if err := insertHistory(ctx, tx, outcome, outcome.Status); err != nil {
		return false, err
	}

	var lastError *string
	if d := outcome.ErrorDetail(); d != "" {
		lastError = &d
	}
	ctag, err := tx.Exec(
		ctx,
		`
		update "discovery_jobs"
		set
			"status" = $3,
			"last_run_at" = $4,
			"last_error" = $5,
			"next_run_at" = greatest(
				coalesce("next_run_at", '-infinity'::timestamptz),
				$4::timestamptz + make_interval(secs => "schedule_interval")
			),
			"claimed_by" = null,
			"claimed_at" = null,
			"claim_token" = null
		where "id" = $1 and "claim_token" = $2::uuid
		`,
		outcome.Job.ID, outcome.Job.Claim.Token.String(),
		outcome.Status.String(), outcome.FinishedAt, lastError,
	)
	if err != nil {
		return false, xe.Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, xe.Wrap(err)
	}
	return ctag.RowsAffected() == 1, nil
}

func (d *pgDiscovery) Abandon(ctx context.Context, outcome domain.DiscoveryOutcome) (bool, error) {
	if outcome.Job.Claim == nil {
		return false, xe.New("abandoning a job which is not claimed")
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if err := insertHistory(ctx, tx, outcome, domain.JobFailed); err != nil {
		return false, err
	}

	detail := outcome.ErrorDetail()
	ctag, err := tx.Exec(
		ctx,
		`
		update "discovery_jobs" set "last_error" = $3, "last_run_at" = $4
		where "id" = $1 and "claim_token" = $2::uuid
		`,
		outcome.Job.ID, outcome.Job.Claim.Token.String(), detail, outcome.FinishedAt,
	)
	if err != nil {
		return false, xe.Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, xe.Wrap(err)
	}
	return ctag.RowsAffected() == 1, nil
}

func (d *pgDiscovery) Get(ctx context.Context, id int64) (domain.DiscoveryJob, error) {
	job, err := scanJob(d.pool.QueryRow(
		ctx, `select `+jobColumns+` from "discovery_jobs" as "j" where "j"."id" = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DiscoveryJob{}, xe.Wrap(pgerrors.Missing{
			Table: "discovery_jobs", Identity: fmt.Sprintf("id=%d", id),
		})
	} else if err != nil {
		return domain.DiscoveryJob{}, xe.Wrap(err)
	}
	return job, nil
}

func (d *pgDiscovery) History(ctx context.Context, jobID int64) ([]domain.DiscoveryHistory, error) {
	rows, err := d.pool.Query(
		ctx,
		`
		select
			"id", "job_id", "started_at", "finished_at", "status",
			"entities_discovered", "entities_created", "entities_updated", "entities_staled",
			coalesce("error_detail", ''), "scope_errors"::text
		from "discovery_history"
		where "job_id" = $1
		order by "started_at", "id"
		`,
		jobID,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()

	history := []domain.DiscoveryHistory{}
	for rows.Next() {
		var h domain.DiscoveryHistory
		var status, scopeErrors string
		if err := rows.Scan(
			&h.ID, &h.JobID, &h.StartedAt, &h.FinishedAt, &status,
			&h.Discovered, &h.Created, &h.Updated, &h.Staled,
			&h.ErrorDetail, &scopeErrors,
		); err != nil {
			return nil, xe.Wrap(err)
		}
		h.Status = domain.JobStatus(status)
		if err := json.Unmarshal([]byte(scopeErrors), &h.ScopeErrors); err != nil {
			return nil, xe.Wrap(err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return history, nil
}
