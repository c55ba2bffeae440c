package entra

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	absauth "github.com/microsoft/kiota-abstractions-go/authentication"
	authentication "github.com/microsoft/kiota-authentication-azure-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/groups"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/elderproject/elder-worker/pkg/credential"
)

// API is the part of Microsoft Graph the connector uses.
type API interface {
	Users(ctx context.Context) ([]models.Userable, error)
	Groups(ctx context.Context) ([]models.Groupable, error)
	Members(ctx context.Context, groupID string) ([]models.DirectoryObjectable, error)
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
}

type APIFactory func(ctx context.Context, cred *credential.Entra) (API, error)

const (
	graphScope      = "https://graph.microsoft.com/.default"
	directoryObject = "https://graph.microsoft.com/v1.0/directoryObjects/"
	pageSize        = int32(999)
)

type graphAPI struct {
	client *msgraphsdk.GraphServiceClient
}

// GraphAPI builds an API on msgraph-sdk-go, authenticated as an app registration.
func GraphAPI(_ context.Context, cred *credential.Entra) (API, error) {
	identity, err := azidentity.NewClientSecretCredential(cred.TenantID, cred.ClientID, cred.ClientSecret.Reveal(), nil)
	if err != nil {
		return nil, err
	}
	tokenProvider, err := authentication.NewAzureIdentityAccessTokenProviderWithScopes(identity, []string{graphScope})
	if err != nil {
		return nil, err
	}
	adapter, err := msgraphsdk.NewGraphRequestAdapter(absauth.NewBaseBearerTokenAuthenticationProvider(tokenProvider))
	if err != nil {
		return nil, err
	}
	return &graphAPI{client: msgraphsdk.NewGraphServiceClient(adapter)}, nil
}

type page[T any] interface {
	GetValue() []T
	GetOdataNextLink() *string
}

// collect reads the first page and follows @odata.nextLink.
func collect[P page[T], T any](first func() (P, error), next func(link string) (P, error)) ([]T, error) {
	p, err := first()
	if err != nil {
		return nil, err
	}
	items := p.GetValue()
	for link := p.GetOdataNextLink(); link != nil && *link != ""; link = p.GetOdataNextLink() {
		if p, err = next(*link); err != nil {
			return nil, err
		}
		items = append(items, p.GetValue()...)
	}
	return items, nil
}

func (g *graphAPI) Users(ctx context.Context) ([]models.Userable, error) {
	top := pageSize
	config := &users.UsersRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.UsersRequestBuilderGetQueryParameters{
			Select: []string{"id", "userPrincipalName", "mail", "displayName", "accountEnabled"},
			Top:    &top,
		},
	}
	return collect[models.UserCollectionResponseable, models.Userable](
		func() (models.UserCollectionResponseable, error) { return g.client.Users().Get(ctx, config) },
		func(link string) (models.UserCollectionResponseable, error) {
			return g.client.Users().WithUrl(link).Get(ctx, nil)
		},
	)
}

func (g *graphAPI) Groups(ctx context.Context) ([]models.Groupable, error) {
	top := pageSize
	config := &groups.GroupsRequestBuilderGetRequestConfiguration{
		QueryParameters: &groups.GroupsRequestBuilderGetQueryParameters{
			Select: []string{"id", "displayName", "description"},
			Top:    &top,
		},
	}
	return collect[models.GroupCollectionResponseable, models.Groupable](
		func() (models.GroupCollectionResponseable, error) { return g.client.Groups().Get(ctx, config) },
		func(link string) (models.GroupCollectionResponseable, error) {
			return g.client.Groups().WithUrl(link).Get(ctx, nil)
		},
	)
}

func (g *graphAPI) Members(ctx context.Context, groupID string) ([]models.DirectoryObjectable, error) {
	members := g.client.Groups().ByGroupId(groupID).Members()
	return collect[models.DirectoryObjectCollectionResponseable, models.DirectoryObjectable](
		func() (models.DirectoryObjectCollectionResponseable, error) { return members.Get(ctx, nil) },
		func(link string) (models.DirectoryObjectCollectionResponseable, error) {
			return members.WithUrl(link).Get(ctx, nil)
		},
	)
}

func (g *graphAPI) AddMember(ctx context.Context, groupID, userID string) error {
	body := models.NewReferenceCreate()
	ref := directoryObject + userID
	body.SetOdataId(&ref)
	return g.client.Groups().ByGroupId(groupID).Members().Ref().Post(ctx, body, nil)
}

func (g *graphAPI) RemoveMember(ctx context.Context, groupID, userID string) error {
	return g.client.Groups().ByGroupId(groupID).Members().ByDirectoryObjectId(userID).Ref().Delete(ctx, nil)
}
