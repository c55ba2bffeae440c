package connector_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/elderproject/elder-worker/pkg/connector"
	"github.com/elderproject/elder-worker/pkg/connector/fixture"
	"github.com/elderproject/elder-worker/pkg/connector/okta"
	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
)

func TestRegistry(t *testing.T) {
	testee := connector.NewRegistry(okta.New(), fixture.New(fixture.Default()))

	if got, want := testee.Kinds(), []domain.ConnectorKind{domain.ConnectorFixture, domain.ConnectorOkta}; !cmp.Equal(got, want) {
		t.Errorf("Kinds() = %v, want %v", got, want)
	}
	if _, err := testee.Get(domain.ConnectorLDAP); !errors.Is(err, domain.ErrUnknownConnector) {
		t.Errorf("Get(ldap) = %v, want ErrUnknownConnector", err)
	}
	c, err := testee.Get(domain.ConnectorFixture)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(connector.WriteBacker); !ok {
		t.Error("fixture connector does not write back")
	}
}

func TestSnapshotBuilder(t *testing.T) {
	b := connector.NewSnapshotBuilder()
	b.Identity(domain.Identity{ExternalID: "u1", Username: "first"})
	b.Identity(domain.Identity{ExternalID: "u1", Username: "duplicated"})
	b.Identity(domain.Identity{ExternalID: ""})
	b.Group(domain.Group{ExternalID: "g1"})
	b.Member("g1", "u1")
	b.Member("g1", "u1")
	b.Member("g1", "unknown")
	b.Member("unknown", "u1")

	want := domain.Snapshot{
		Identities:  []domain.Identity{{ExternalID: "u1", Username: "first"}},
		Groups:      []domain.Group{{ExternalID: "g1"}},
		Memberships: []domain.Membership{{GroupExternalID: "g1", IdentityExternalID: "u1"}},
	}
	if got := b.Snapshot(); !cmp.Equal(got, want) {
		t.Errorf("snapshot:\n%s", cmp.Diff(want, got))
	}
}

func TestFixtureWriteBack(t *testing.T) {
	ctx := context.Background()
	testee := fixture.New(fixture.Default())
	cred := &credential.Opaque{}
	m := domain.Membership{GroupExternalID: "developers", IdentityExternalID: "alice"}

	if err := testee.WriteBack(ctx, cred, domain.MembershipChange{Membership: m, Op: domain.ChangeAdd}); err != nil {
		t.Fatal(err)
	}
	got, err := testee.Fetch(ctx, cred)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.Membership{
		{GroupExternalID: "admins", IdentityExternalID: "alice"},
		{GroupExternalID: "admins", IdentityExternalID: "bob"},
		{GroupExternalID: "developers", IdentityExternalID: "alice"},
		{GroupExternalID: "developers", IdentityExternalID: "bob"},
		{GroupExternalID: "developers", IdentityExternalID: "carol"},
	}
	if !cmp.Equal(got.Memberships, want) {
		t.Errorf("memberships:\n%s", cmp.Diff(want, got.Memberships))
	}
}

func TestTyped(t *testing.T) {
	_, err := connector.Typed[*credential.LDAP](domain.ConnectorLDAP, &credential.Okta{Token: "0123456789"})

	var credErr *domain.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("error is not CredentialError: %v", err)
	}
	if credErr.Source != "ldap" {
		t.Errorf("Source = %s", credErr.Source)
	}
}
