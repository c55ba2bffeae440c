// Package fixture is a connector which serves an in-memory directory.
//
// It serves smoke tests and local runs. It is registered only when fixtures are enabled.
package fixture

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/elderproject/elder-worker/pkg/connector"
	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
)

// Connector keeps a directory in memory. Write-backs change it.
type Connector struct {
	mu  sync.Mutex
	dir domain.Snapshot
}

func New(dir domain.Snapshot) *Connector {
	c := &Connector{}
	c.Set(dir)
	return c
}

// Default is a small directory: alice and bob in "admins", bob and carol in "developers".
// carol is inactive.
func Default() domain.Snapshot {
	return domain.Snapshot{
		Identities: []domain.Identity{
			{ExternalID: "alice", Username: "alice", Email: "alice@example.com", DisplayName: "Alice", Active: true},
			{ExternalID: "bob", Username: "bob", Email: "bob@example.com", DisplayName: "Bob", Active: true},
			{ExternalID: "carol", Username: "carol", Email: "carol@example.com", DisplayName: "Carol", Active: false},
		},
		Groups: []domain.Group{
			{ExternalID: "admins", Name: "admins"},
			{ExternalID: "developers", Name: "developers"},
		},
		Memberships: []domain.Membership{
			{GroupExternalID: "admins", IdentityExternalID: "alice"},
			{GroupExternalID: "admins", IdentityExternalID: "bob"},
			{GroupExternalID: "developers", IdentityExternalID: "bob"},
			{GroupExternalID: "developers", IdentityExternalID: "carol"},
		},
	}
}

var _ connector.WriteBacker = &Connector{}

func (*Connector) Kind() domain.ConnectorKind      { return domain.ConnectorFixture }
func (*Connector) CredentialKind() credential.Kind { return credential.KindOpaque }

// Set replaces the directory.
func (c *Connector) Set(dir domain.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dir = clone(dir)
}

func (c *Connector) Fetch(ctx context.Context, _ credential.Credential) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b := connector.NewSnapshotBuilder()
	for _, i := range c.dir.Identities {
		b.Identity(i)
	}
	for _, g := range c.dir.Groups {
		b.Group(g)
	}
	for _, m := range c.dir.Memberships {
		b.Member(m.GroupExternalID, m.IdentityExternalID)
	}
	return b.Snapshot(), nil
}

func (c *Connector) WriteBack(ctx context.Context, _ credential.Credential, change domain.MembershipChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := change.Membership
	switch change.Op {
	case domain.ChangeAdd:
		if !slices.Contains(c.dir.Memberships, m) {
			c.dir.Memberships = append(c.dir.Memberships, m)
		}
	case domain.ChangeRemove:
		c.dir.Memberships = slices.DeleteFunc(c.dir.Memberships, func(x domain.Membership) bool { return x == m })
	default:
		return connector.APIError(domain.ConnectorFixture, "write back", false, fmt.Errorf("unknown op %s", change.Op))
	}
	return nil
}

func clone(s domain.Snapshot) domain.Snapshot {
	return domain.Snapshot{
		Identities:  slices.Clone(s.Identities),
		Groups:      slices.Clone(s.Groups),
		Memberships: slices.Clone(s.Memberships),
	}
}
