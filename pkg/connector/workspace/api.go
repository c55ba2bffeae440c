package workspace

import (
	"context"

	"golang.org/x/oauth2/google"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/option"

	"github.com/elderproject/elder-worker/pkg/credential"
)

// API is the part of the Admin SDK Directory API the connector uses.
type API interface {
	Users(ctx context.Context) ([]*admin.User, error)
	Groups(ctx context.Context) ([]*admin.Group, error)
	Members(ctx context.Context, groupKey string) ([]*admin.Member, error)
	AddMember(ctx context.Context, groupKey, userID string) error
	RemoveMember(ctx context.Context, groupKey, userID string) error
}

type APIFactory func(ctx context.Context, cred *credential.Workspace) (API, error)

// customer alias for the account of the credential.
const myCustomer = "my_customer"

type directoryAPI struct {
	svc      *admin.Service
	customer string
	domain   string
}

// DirectoryAPI builds an API on the Admin SDK. The service account acts as
// AdminEmail through domain-wide delegation.
func DirectoryAPI(ctx context.Context, cred *credential.Workspace) (API, error) {
	conf, err := google.JWTConfigFromJSON(
		[]byte(cred.ServiceAccount.JSON.Reveal()),
		admin.AdminDirectoryUserReadonlyScope,
		admin.AdminDirectoryGroupScope,
		admin.AdminDirectoryGroupMemberScope,
	)
	if err != nil {
		return nil, err
	}
	conf.Subject = cred.AdminEmail

	svc, err := admin.NewService(ctx, option.WithTokenSource(conf.TokenSource(ctx)))
	if err != nil {
		return nil, err
	}
	customer := cred.Customer
	if customer == "" {
		customer = myCustomer
	}
	return &directoryAPI{svc: svc, customer: customer, domain: cred.Domain}, nil
}

func (d *directoryAPI) Users(ctx context.Context) ([]*admin.User, error) {
	call := d.svc.Users.List().MaxResults(500).Projection("basic")
	if d.domain != "" {
		call = call.Domain(d.domain)
	} else {
		call = call.Customer(d.customer)
	}
	users := []*admin.User{}
	err := call.Pages(ctx, func(page *admin.Users) error {
		users = append(users, page.Users...)
		return nil
	})
	return users, err
}

func (d *directoryAPI) Groups(ctx context.Context) ([]*admin.Group, error) {
	call := d.svc.Groups.List().MaxResults(200)
	if d.domain != "" {
		call = call.Domain(d.domain)
	} else {
		call = call.Customer(d.customer)
	}
	groups := []*admin.Group{}
	err := call.Pages(ctx, func(page *admin.Groups) error {
		groups = append(groups, page.Groups...)
		return nil
	})
	return groups, err
}

func (d *directoryAPI) Members(ctx context.Context, groupKey string) ([]*admin.Member, error) {
	members := []*admin.Member{}
	err := d.svc.Members.List(groupKey).MaxResults(200).Pages(ctx, func(page *admin.Members) error {
		members = append(members, page.Members...)
		return nil
	})
	return members, err
}

func (d *directoryAPI) AddMember(ctx context.Context, groupKey, userID string) error {
	_, err := d.svc.Members.Insert(groupKey, &admin.Member{Id: userID, Role: "MEMBER"}).Context(ctx).Do()
	return err
}

func (d *directoryAPI) RemoveMember(ctx context.Context, groupKey, userID string) error {
	return d.svc.Members.Delete(groupKey, userID).Context(ctx).Do()
}
