// Package workspace syncs users and groups of a Google Workspace account.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/googleapi"

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
	c := &Connector{api: DirectoryAPI}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ connector.WriteBacker = &Connector{}

func (*Connector) Kind() domain.ConnectorKind      { return domain.ConnectorWorkspace }
func (*Connector) CredentialKind() credential.Kind { return credential.KindWorkspace }

func (c *Connector) open(ctx context.Context, cred credential.Credential) (API, error) {
	w, err := connector.Typed[*credential.Workspace](domain.ConnectorWorkspace, cred)
	if err != nil {
		return nil, err
	}
	api, err := c.api(ctx, w)
	if err != nil {
		// parse errors of the key file may quote it.
		return nil, &domain.CredentialError{Source: string(domain.ConnectorWorkspace), Reason: "service account key is rejected"}
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
		b.Group(domain.Group{ExternalID: g.Id, Name: g.Name, Description: g.Description})
	}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return domain.Snapshot{}, err
		}
		members, err := api.Members(ctx, g.Id)
		if err != nil {
			return domain.Snapshot{}, apiError(fmt.Sprintf("list members of %s", g.Email), err)
		}
		for _, m := range members {
			if m.Type != "USER" {
				continue
			}
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

func toIdentity(u *admin.User) domain.Identity {
	i := domain.Identity{
		ExternalID: u.Id,
		Username:   u.PrimaryEmail,
		Email:      u.PrimaryEmail,
		Active:     !u.Suspended && !u.Archived,
	}
	if u.Name != nil {
		i.DisplayName = u.Name.FullName
	}
	return i
}

func apiError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	auth := false
	var gerr *googleapi.Error
	var rerr *oauth2.RetrieveError
	switch {
	case errors.As(err, &gerr):
		auth = gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden
	case errors.As(err, &rerr):
		auth = true
	}
	return connector.APIError(domain.ConnectorWorkspace, op, auth, err)
}
