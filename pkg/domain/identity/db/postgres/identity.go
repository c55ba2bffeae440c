package postgres

import (
	"context"

	kpool "github.com/elderproject/elder-worker/pkg/conn/db/postgres/pool"
	"github.com/elderproject/elder-worker/pkg/domain"
	pgerrors "github.com/elderproject/elder-worker/pkg/domain/errors/dberrors/postgres"
	kdb "github.com/elderproject/elder-worker/pkg/domain/identity/db"
	xe "github.com/elderproject/elder-worker/pkg/errors"
)

type pgIdentity struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgIdentity{pool: pool}
}

func (p *pgIdentity) Load(ctx context.Context, connector domain.ConnectorKind) (domain.Snapshot, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return domain.Snapshot{}, xe.Wrap(err)
	}
	defer conn.Release()

	snapshot := domain.Snapshot{
		Identities:  []domain.Identity{},
		Groups:      []domain.Group{},
		Memberships: []domain.Membership{},
	}

	rows, err := conn.Query(
		ctx,
		`
		select "external_id", "username", "email", "display_name", "active"
		from "identities" where "connector" = $1 order by "external_id"
		`,
		connector.String(),
	)
	if err != nil {
		return domain.Snapshot{}, xe.Wrap(err)
	}
	for rows.Next() {
		var i domain.Identity
		if err := rows.Scan(&i.ExternalID, &i.Username, &i.Email, &i.DisplayName, &i.Active); err != nil {
			rows.Close()
			return domain.Snapshot{}, xe.Wrap(err)
		}
		snapshot.Identities = append(snapshot.Identities, i)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, xe.Wrap(err)
	}

	rows, err = conn.Query(
		ctx,
		`
		select "external_id", "name", "description"
		from "identity_groups" where "connector" = $1 and "active" order by "external_id"
		`,
		connector.String(),
	)
	if err != nil {
		return domain.Snapshot{}, xe.Wrap(err)
	}
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ExternalID, &g.Name, &g.Description); err != nil {
			rows.Close()
			return domain.Snapshot{}, xe.Wrap(err)
		}
		snapshot.Groups = append(snapshot.Groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, xe.Wrap(err)
	}

	rows, err = conn.Query(
		ctx,
		`
		select "g"."external_id", "i"."external_id"
		from "group_memberships" as "m"
		inner join "identity_groups" as "g" on "g"."id" = "m"."group_id"
		inner join "identities" as "i" on "i"."id" = "m"."identity_id"
		where "g"."connector" = $1 and "g"."active"
		order by "g"."external_id", "i"."external_id"
		`,
		connector.String(),
	)
	if err != nil {
		return domain.Snapshot{}, xe.Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.GroupExternalID, &m.IdentityExternalID); err != nil {
			return domain.Snapshot{}, xe.Wrap(err)
		}
		snapshot.Memberships = append(snapshot.Memberships, m)
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, xe.Wrap(err)
	}

	return snapshot, nil
}

const (
	upsertIdentity = `
		insert into "identities" ("connector", "external_id", "username", "email", "display_name", "active", "deactivated_at")
		values ($1, $2, $3, $4, $5, $6, case when $6 then null else now() end)
		on conflict ("connector", "external_id") do update set
			"username" = excluded."username",
			"email" = excluded."email",
			"display_name" = excluded."display_name",
			"active" = excluded."active",
			"deactivated_at" = case
				when excluded."active" then null
				else coalesce("identities"."deactivated_at", now())
			end,
			"updated_at" = now()
	`
	deactivateIdentity = `
		update "identities" set "active" = false, "deactivated_at" = now(), "updated_at" = now()
		where "connector" = $1 and "external_id" = $2 and "active"
	`
	upsertGroup = `
		insert into "identity_groups" ("connector", "external_id", "name", "description")
		values ($1, $2, $3, $4)
		on conflict ("connector", "external_id") do update set
			"name" = excluded."name",
			"description" = excluded."description",
			"active" = true,
			"deactivated_at" = null,
			"updated_at" = now()
	`
	deactivateGroup = `
		update "identity_groups" set "active" = false, "deactivated_at" = now(), "updated_at" = now()
		where "connector" = $1 and "external_id" = $2 and "active"
	`
	addMembership = `
		insert into "group_memberships" ("group_id", "identity_id")
		select "g"."id", "i"."id"
		from "identity_groups" as "g", "identities" as "i"
		where "g"."connector" = $1 and "g"."external_id" = $2
			and "i"."connector" = $1 and "i"."external_id" = $3
		on conflict do nothing
	`
	removeMembership = `
		delete from "group_memberships" as "m"
		using "identity_groups" as "g", "identities" as "i"
		where "m"."group_id" = "g"."id" and "m"."identity_id" = "i"."id"
			and "g"."connector" = $1 and "g"."external_id" = $2
			and "i"."connector" = $1 and "i"."external_id" = $3
	`
)

func (p *pgIdentity) Apply(ctx context.Context, connector domain.ConnectorKind, delta domain.SyncDelta) (kdb.ApplyResult, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return kdb.ApplyResult{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	c := connector.String()
	result := kdb.ApplyResult{}

	exec := func(table string, counter *int, sql string, args ...any) error {
		ctag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return xe.Wrap(pgerrors.AsReconciliationError(table, err))
		}
		*counter += int(ctag.RowsAffected())
		return nil
	}

	for _, i := range delta.Identities.Create {
		if err := exec("identities", &result.Identities.Created, upsertIdentity,
			c, i.ExternalID, i.Username, i.Email, i.DisplayName, i.Active); err != nil {
			return kdb.ApplyResult{}, err
		}
	}
	for _, i := range delta.Identities.Update {
		if err := exec("identities", &result.Identities.Updated, upsertIdentity,
			c, i.ExternalID, i.Username, i.Email, i.DisplayName, i.Active); err != nil {
			return kdb.ApplyResult{}, err
		}
	}
	for _, id := range delta.Identities.Deactivate {
		if err := exec("identities", &result.Identities.Deactivated, deactivateIdentity, c, id); err != nil {
			return kdb.ApplyResult{}, err
		}
	}

	for _, g := range delta.Groups.Create {
		if err := exec("identity_groups", &result.Groups.Created, upsertGroup,
			c, g.ExternalID, g.Name, g.Description); err != nil {
			return kdb.ApplyResult{}, err
		}
	}
	for _, g := range delta.Groups.Update {
		if err := exec("identity_groups", &result.Groups.Updated, upsertGroup,
			c, g.ExternalID, g.Name, g.Description); err != nil {
			return kdb.ApplyResult{}, err
		}
	}
	for _, id := range delta.Groups.Deactivate {
		if err := exec("identity_groups", &result.Groups.Deactivated, deactivateGroup, c, id); err != nil {
			return kdb.ApplyResult{}, err
		}
	}

	for _, m := range delta.Memberships.Remove {
		if err := exec("group_memberships", &result.Members.Deactivated, removeMembership,
			c, m.GroupExternalID, m.IdentityExternalID); err != nil {
			return kdb.ApplyResult{}, err
		}
	}
	for _, m := range delta.Memberships.Add {
		if err := exec("group_memberships", &result.Members.Created, addMembership,
			c, m.GroupExternalID, m.IdentityExternalID); err != nil {
			return kdb.ApplyResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return kdb.ApplyResult{}, xe.Wrap(err)
	}
	return result, nil
}

func (p *pgIdentity) PendingChanges(ctx context.Context, connector domain.ConnectorKind) ([]domain.MembershipChange, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer conn.Release()

	rows, err := conn.Query(
		ctx,
		`
		select "id", "group_external_id", "identity_external_id", "op", "status", "detail", "created_at"
		from "membership_changes"
		where "connector" = $1 and "status" = 'pending'
		order by "created_at", "id"
		`,
		connector.String(),
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()

	changes := []domain.MembershipChange{}
	for rows.Next() {
		ch := domain.MembershipChange{Connector: connector}
		var op, status string
		if err := rows.Scan(
			&ch.ID, &ch.Membership.GroupExternalID, &ch.Membership.IdentityExternalID,
			&op, &status, &ch.Detail, &ch.CreatedAt,
		); err != nil {
			return nil, xe.Wrap(err)
		}
		if ch.Op, err = domain.AsChangeOp(op); err != nil {
			return nil, xe.Wrap(err)
		}
		if ch.Status, err = domain.AsChangeStatus(status); err != nil {
			return nil, xe.Wrap(err)
		}
		changes = append(changes, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return changes, nil
}

func (p *pgIdentity) ResolveChange(ctx context.Context, change domain.MembershipChange, status domain.ChangeStatus, detail string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if status == domain.ChangePushed {
		sql := addMembership
		if change.Op == domain.ChangeRemove {
			sql = removeMembership
		}
		if _, err := tx.Exec(
			ctx, sql,
			change.Connector.String(),
			change.Membership.GroupExternalID,
			change.Membership.IdentityExternalID,
		); err != nil {
			return xe.Wrap(pgerrors.AsReconciliationError("group_memberships", err))
		}
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "membership_changes"
		set "status" = $2, "detail" = $3, "resolved_at" = now()
		where "id" = $1 and "status" = 'pending'
		`,
		change.ID, string(status), domain.Redact(detail),
	); err != nil {
		return xe.Wrap(err)
	}

	return xe.Wrap(tx.Commit(ctx))
}
