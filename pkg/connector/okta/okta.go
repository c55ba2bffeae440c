// Package okta syncs users and groups of an Okta org.
package okta

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okta/okta-sdk-golang/v2/okta"

	"github.com/elderproject/elder-worker/pkg/connector"
	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
)

type Connector struct {
	api APIFactory
}

type Option func(*Connector)

func WithAPI(f APIFactory) Option {
	return func(c *Connector) { c.api = f }
}

func New(opts ...Option) *Connector {
	c := &Connector{api: SDKAPI}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ connector.WriteBacker = &Connector{}

func (*Connector) Kind() domain.ConnectorKind      { return domain.ConnectorOkta }
func (*Connector) CredentialKind() credential.Kind { return credential.KindOkta }

func (c *Connector) open(ctx context.Context, cred credential.Credential) (API, error) {
	o, err := connector.Typed[*credential.Okta](domain.ConnectorOkta, cred)
	if err != nil {
		return nil, err
	}
	api, err := c.api(ctx, o)
	if err != nil {
		return nil, &domain.CredentialError{Source: string(domain.ConnectorOkta), Reason: "client cannot be built", Err: err}
	}
	return api, nil
}

func (c *Connector) Fetch(ctx context.Context, cred credential.Credential) (domain.Snapshot, error) {
	api, err := c.open(ctx, cred)
	if err != nil {
		return domain.Snapshot{}, err
	}

	users, err := api.Users(ctx)
	if err != nil {
		return domain.Snapshot{}, apiError("list users", err)
	}
	groups, err := api.Groups(ctx)
	if err != nil {
		return domain.Snapshot{}, apiError("list groups", err)
	}

	b := connector.NewSnapshotBuilder()
	for _, u := range users {
		b.Identity(toIdentity(u))
	}
	for _, g := range groups {
		group := domain.Group{ExternalID: g.Id}
		if g.Profile != nil {
			group.Name = g.Profile.Name
			group.Description = g.Profile.Description
		}
		b.Group(group)
	}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return domain.Snapshot{}, err
		}
		members, err := api.GroupUsers(ctx, g.Id)
		if err != nil {
			return domain.Snapshot{}, apiError(fmt.Sprintf("list members of %s", g.Id), err)
		}
		for _, m := range members {
			b.Member(g.Id, m.Id)
		}
	}
	return b.Snapshot(), nil
}

func (c *Connector) WriteBack(ctx context.Context, cred credential.Credential, change domain.MembershipChange) error {
	api, err := c.open(ctx, cred)
	if err != nil {
		return err
	}
	group, user := change.Membership.GroupExternalID, change.Membership.IdentityExternalID
	switch change.Op {
	case domain.ChangeAdd:
		err = api.AddMember(ctx, group, user)
	case domain.ChangeRemove:
		err = api.RemoveMember(ctx, group, user)
	default:
		err = fmt.Errorf("unknown op %s", change.Op)
	}
	if err != nil {
		return apiError("write back "+string(change.Op), err)
	}
	return nil
}

// inactive user statuses. Others (ACTIVE, STAGED, PROVISIONED, RECOVERY,
// PASSWORD_EXPIRED, LOCKED_OUT) are still accounts of the org.
var inactive = map[string]bool{"DEPROVISIONED": true, "SUSPENDED": true}

func toIdentity(u *okta.User) domain.Identity {
	i := domain.Identity{ExternalID: u.Id, Active: !inactive[u.Status]}
	if u.Profile == nil {
		return i
	}
	p := *u.Profile
	i.Username = str(p["login"])
	i.Email = str(p["email"])
	i.DisplayName = str(p["displayName"])
	if i.DisplayName == "" {
		i.DisplayName = strings.TrimSpace(str(p["firstName"]) + " " + str(p["lastName"]))
	}
	return i
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func apiError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *StatusError
	auth := errors.As(err, &se) && se.auth()
	return connector.APIError(domain.ConnectorOkta, op, auth, err)
}
