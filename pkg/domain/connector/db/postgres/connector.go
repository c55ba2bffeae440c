package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	kpool "github.com/elderproject/elder-worker/pkg/conn/db/postgres/pool"
	"github.com/elderproject/elder-worker/pkg/domain"
	kdb "github.com/elderproject/elder-worker/pkg/domain/connector/db"
	xe "github.com/elderproject/elder-worker/pkg/errors"
)

type pgConnector struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgConnector{pool: pool}
}

const stateColumns = `
	"s"."connector", "s"."interval", "s"."enabled", "s"."next_run_at", "s"."last_run_at",
	"s"."last_status", "s"."last_error", "s"."last_duration_ms", "s"."consecutive_failures",
	"s"."status", "s"."claimed_by", "s"."claimed_at", "s"."claim_token"::text
`

func scanState(row pgx.Row) (domain.ConnectorRunState, error) {
	var (
		st                domain.ConnectorRunState
		connector, status string
		interval          int64
		lastStatus        *string
		lastError         *string
		lastDuration      *int64
		claimedBy, token  *string
		claimedAt         *time.Time
	)
	if err := row.Scan(
		&connector, &interval, &st.Enabled, &st.NextRunAt, &st.LastRunAt,
		&lastStatus, &lastError, &lastDuration, &st.ConsecutiveFailures,
		&status, &claimedBy, &claimedAt, &token,
	); err != nil {
		return domain.ConnectorRunState{}, err
	}
	st.Connector = domain.ConnectorKind(connector)
	st.Interval = time.Duration(interval) * time.Second
	st.Running = status == "running"
	if lastStatus != nil {
		st.LastStatus = domain.RunStatus(*lastStatus)
	}
	if lastError != nil {
		st.LastError = *lastError
	}
	if lastDuration != nil {
		st.LastDuration = time.Duration(*lastDuration) * time.Millisecond
	}
	if token != nil && claimedBy != nil && claimedAt != nil {
		t, err := uuid.Parse(*token)
		if err != nil {
			return domain.ConnectorRunState{}, err
		}
		st.Claim = &domain.Claim{Owner: *claimedBy, Token: t, ClaimedAt: *claimedAt}
	}
	return st, nil
}

func (c *pgConnector) Register(ctx context.Context, regs []domain.ConnectorRegistration) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	for _, r := range regs {
		if !r.Enabled {
			continue
		}
		seconds := int64(r.Interval / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		if _, err := tx.Exec(
			ctx,
			`
			insert into "connector_run_state" ("connector", "interval", "next_run_at")
			values ($1, $2, now())
			on conflict ("connector") do update set "interval" = excluded."interval"
			`,
			r.Connector.String(), seconds,
		); err != nil {
			return xe.Wrap(err)
		}
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (c *pgConnector) Claim(ctx context.Context, req kdb.ClaimRequest) (domain.ConnectorRunState, bool, error) {
	connectors := make([]string, 0, len(req.Connectors))
	for _, k := range req.Connectors {
		connectors = append(connectors, k.String())
	}
	exclude := make([]string, 0, len(req.Exclude))
	for _, k := range req.Exclude {
		exclude = append(exclude, k.String())
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return domain.ConnectorRunState{}, false, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	st, err := scanState(tx.QueryRow(
		ctx,
		`
		with "due" as (
			select "connector" from "connector_run_state"
			where "enabled"
				and "connector" = any($3::text[])
				and not ("connector" = any($5::text[]))
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
			order by "next_run_at" asc nulls first
			limit 1
			for update skip locked
		)
		update "connector_run_state" as "s"
		set
			"status" = 'running',
			"claimed_by" = $1,
			"claimed_at" = now(),
			"claim_token" = $4::uuid,
			"next_run_at" = now() + make_interval(secs => "s"."interval")
		from "due"
		where "s"."connector" = "due"."connector"
		returning `+stateColumns,
		req.Owner, req.StaleAfter.Seconds(), connectors, domain.NewClaimToken().String(), exclude,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ConnectorRunState{}, false, nil
	} else if err != nil {
		return domain.ConnectorRunState{}, false, xe.Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ConnectorRunState{}, false, xe.Wrap(err)
	}
	return st, true, nil
}

func (c *pgConnector) Finish(ctx context.Context, outcome domain.SyncOutcome, nextRunAt time.Time) (bool, error) {
	if outcome.State.Claim == nil {
		return false, xe.New("finishing a connector run which is not claimed")
	}

	var lastError *string
	if outcome.Err != nil {
		e := domain.Redact(outcome.Err.Error())
		lastError = &e
	}

	ctag, err := c.pool.Exec(
		ctx,
		`
		update "connector_run_state"
		set
			"status" = 'idle',
			"last_run_at" = $3,
			"last_status" = $4,
			"last_error" = $5,
			"last_duration_ms" = $6,
			"consecutive_failures" = case when $4 = 'success' then 0 else "consecutive_failures" + 1 end,
			"next_run_at" = $7,
			"claimed_by" = null,
			"claimed_at" = null,
			"claim_token" = null
		where "connector" = $1 and "claim_token" = $2::uuid
		`,
		outcome.State.Connector.String(), outcome.State.Claim.Token.String(),
		outcome.FinishedAt, string(outcome.Status()), lastError,
		outcome.FinishedAt.Sub(outcome.StartedAt).Milliseconds(), nextRunAt,
	)
	if err != nil {
		return false, xe.Wrap(err)
	}
	return ctag.RowsAffected() == 1, nil
}

func (c *pgConnector) Abandon(ctx context.Context, outcome domain.SyncOutcome) (bool, error) {
	if outcome.State.Claim == nil {
		return false, xe.New("abandoning a connector run which is not claimed")
	}
	detail := ""
	if outcome.Err != nil {
		detail = domain.Redact(outcome.Err.Error())
	}

	ctag, err := c.pool.Exec(
		ctx,
		`
		update "connector_run_state"
		set
			"last_run_at" = $3,
			"last_status" = 'failed',
			"last_error" = $4,
			"consecutive_failures" = "consecutive_failures" + 1
		where "connector" = $1 and "claim_token" = $2::uuid
		`,
		outcome.State.Connector.String(), outcome.State.Claim.Token.String(),
		outcome.FinishedAt, detail,
	)
	if err != nil {
		return false, xe.Wrap(err)
	}
	return ctag.RowsAffected() == 1, nil
}

func (c *pgConnector) List(ctx context.Context) ([]domain.ConnectorRunState, error) {
	rows, err := c.pool.Query(
		ctx, `select `+stateColumns+` from "connector_run_state" as "s" order by "s"."connector"`,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()

	states := []domain.ConnectorRunState{}
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return states, nil
}
