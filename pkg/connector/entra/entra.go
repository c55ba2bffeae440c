// Package entra syncs users and groups of a Microsoft Entra ID tenant.
package entra

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"

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
	c := &Connector{api: GraphAPI}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ connector.WriteBacker = &Connector{}

func (*Connector) Kind() domain.ConnectorKind      { return domain.ConnectorEntra }
func (*Connector) CredentialKind() credential.Kind { return credential.KindEntra }

func (c *Connector) open(ctx context.Context, cred credential.Credential) (API, error) {
	e, err := connector.Typed[*credential.Entra](domain.ConnectorEntra, cred)
	if err != nil {
		return nil, err
	}
	api, err := c.api(ctx, e)
	if err != nil {
		return nil, apiError("authenticate", err)
	}
	return api, nil
}

func (c *Connector) Fetch(ctx context.Context, cred credential.Credential) (domain.Snapshot, error) {
	api, err := c.open(ctx, cred)
	if err != nil {
		return domain.Snapshot{}, err
	}

	us, err := api.Users(ctx)
	if err != nil {
		return domain.Snapshot{}, apiError("list users", err)
	}
	gs, err := api.Groups(ctx)
	if err != nil {
		return domain.Snapshot{}, apiError("list groups", err)
	}

	b := connector.NewSnapshotBuilder()
	for _, u := range us {
		b.Identity(domain.Identity{
			ExternalID:  deref(u.GetId()),
			Username:    deref(u.GetUserPrincipalName()),
			Email:       deref(u.GetMail()),
			DisplayName: deref(u.GetDisplayName()),
			// accountEnabled is absent for accounts which were never disabled.
			Active: u.GetAccountEnabled() == nil || *u.GetAccountEnabled(),
		})
	}
	for _, g := range gs {
		b.Group(domain.Group{
			ExternalID:  deref(g.GetId()),
			Name:        deref(g.GetDisplayName()),
			Description: deref(g.GetDescription()),
		})
	}
	for _, g := range gs {
		if err := ctx.Err(); err != nil {
			return domain.Snapshot{}, err
		}
		id := deref(g.GetId())
		members, err := api.Members(ctx, id)
		if err != nil {
			return domain.Snapshot{}, apiError(fmt.Sprintf("list members of %s", id), err)
		}
		for _, m := range members {
			b.Member(id, deref(m.GetId()))
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

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func apiError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	auth := false
	var authErr *azidentity.AuthenticationFailedError
	var odata *odataerrors.ODataError
	switch {
	case errors.As(err, &authErr):
		auth = true
	case errors.As(err, &odata):
		auth = odata.ResponseStatusCode == http.StatusUnauthorized || odata.ResponseStatusCode == http.StatusForbidden
	}
	return connector.APIError(domain.ConnectorEntra, op, auth, err)
}
