package okta

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/okta/okta-sdk-golang/v2/okta"
	"github.com/okta/okta-sdk-golang/v2/okta/query"

	"github.com/elderproject/elder-worker/pkg/credential"
)

// API is the part of the Okta management API the connector uses.
type API interface {
	Users(ctx context.Context) ([]*okta.User, error)
	Groups(ctx context.Context) ([]*okta.Group, error)
	GroupUsers(ctx context.Context, groupID string) ([]*okta.User, error)
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
}

type APIFactory func(ctx context.Context, cred *credential.Okta) (API, error)

// StatusError is an error response of Okta.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Status, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func (e *StatusError) auth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

type sdkAPI struct {
	client *okta.Client
}

// SDKAPI builds an API on okta-sdk-golang, authenticated with an SSWS token.
func SDKAPI(ctx context.Context, cred *credential.Okta) (API, error) {
	_, client, err := okta.NewClient(
		ctx,
		okta.WithOrgUrl(cred.OrgURL),
		okta.WithToken(cred.Token.Reveal()),
		okta.WithCache(false),
		okta.WithRequestTimeout(30),
		okta.WithRateLimitMaxRetries(2),
	)
	if err != nil {
		return nil, errors.New("okta client configuration is rejected")
	}
	return &sdkAPI{client: client}, nil
}

const limit = 200

func (s *sdkAPI) Users(ctx context.Context) ([]*okta.User, error) {
	users, resp, err := s.client.User.ListUsers(ctx, query.NewQueryParams(query.WithLimit(limit)))
	return all(ctx, users, resp, err)
}

func (s *sdkAPI) Groups(ctx context.Context) ([]*okta.Group, error) {
	groups, resp, err := s.client.Group.ListGroups(ctx, query.NewQueryParams(query.WithLimit(limit)))
	return all(ctx, groups, resp, err)
}

func (s *sdkAPI) GroupUsers(ctx context.Context, groupID string) ([]*okta.User, error) {
	users, resp, err := s.client.Group.ListGroupUsers(ctx, groupID, query.NewQueryParams(query.WithLimit(limit)))
	return all(ctx, users, resp, err)
}

func (s *sdkAPI) AddMember(ctx context.Context, groupID, userID string) error {
	resp, err := s.client.Group.AddUserToGroup(ctx, groupID, userID)
	return statusError(resp, err)
}

func (s *sdkAPI) RemoveMember(ctx context.Context, groupID, userID string) error {
	resp, err := s.client.Group.RemoveUserFromGroup(ctx, groupID, userID)
	return statusError(resp, err)
}

// all follows the "next" links of a listing.
func all[T any](ctx context.Context, items []T, resp *okta.Response, err error) ([]T, error) {
	if err != nil {
		return nil, statusError(resp, err)
	}
	for resp != nil && resp.HasNextPage() {
		var page []T
		resp, err = resp.Next(ctx, &page)
		if err != nil {
			return nil, statusError(resp, err)
		}
		items = append(items, page...)
	}
	return items, nil
}

func statusError(resp *okta.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp != nil && resp.Response != nil {
		return &StatusError{Status: resp.StatusCode, Err: err}
	}
	return err
}
