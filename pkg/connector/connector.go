// Package connector defines identity directory plugins and their registry.
package connector

import (
	"context"
	"fmt"
	"slices"

	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
)

// Connector reads an upstream identity directory.
type Connector interface {
	Kind() domain.ConnectorKind
	CredentialKind() credential.Kind

	// Fetch reads the whole directory.
	//
	// Errors are terminal for the sync; a rejected credential is a
	// *domain.ProviderAPIError with Auth set.
	Fetch(ctx context.Context, cred credential.Credential) (domain.Snapshot, error)
}

// WriteBacker is a Connector which can change group memberships upstream.
type WriteBacker interface {
	Connector

	// WriteBack applies a membership change upstream.
	WriteBack(ctx context.Context, cred credential.Credential, change domain.MembershipChange) error
}

type Registry struct {
	connectors map[domain.ConnectorKind]Connector
}

func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: map[domain.ConnectorKind]Connector{}}
	for _, c := range connectors {
		r.connectors[c.Kind()] = c
	}
	return r
}

// Get returns the connector of kind. Unknown kinds are domain.ErrUnknownConnector.
func (r *Registry) Get(kind domain.ConnectorKind) (Connector, error) {
	c, ok := r.connectors[kind]
	if !ok {
		return nil, fmt.Errorf(`%w: "%s" is not registered`, domain.ErrUnknownConnector, kind)
	}
	return c, nil
}

func (r *Registry) Kinds() []domain.ConnectorKind {
	kinds := make([]domain.ConnectorKind, 0, len(r.connectors))
	for k := range r.connectors {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Typed asserts the credential as the type a connector takes.
func Typed[C credential.Credential](c domain.ConnectorKind, cred credential.Credential) (C, error) {
	typed, ok := cred.(C)
	if !ok {
		return typed, &domain.CredentialError{
			Source: string(c), Reason: fmt.Sprintf("unexpected credential kind: %s", cred.Kind()),
		}
	}
	return typed, nil
}

// APIError wraps an error of an upstream directory.
func APIError(c domain.ConnectorKind, op string, auth bool, err error) error {
	return &domain.ProviderAPIError{Provider: string(c), Op: op, Auth: auth, Err: err}
}

// SnapshotBuilder collects a directory, dropping memberships of unknown identities or groups.
type SnapshotBuilder struct {
	identities map[string]struct{}
	groups     map[string]struct{}
	snapshot   domain.Snapshot
}

func NewSnapshotBuilder() *SnapshotBuilder {
	return &SnapshotBuilder{
		identities: map[string]struct{}{},
		groups:     map[string]struct{}{},
		snapshot: domain.Snapshot{
			Identities:  []domain.Identity{},
			Groups:      []domain.Group{},
			Memberships: []domain.Membership{},
		},
	}
}

func (b *SnapshotBuilder) Identity(i domain.Identity) {
	if _, dup := b.identities[i.ExternalID]; dup || i.ExternalID == "" {
		return
	}
	b.identities[i.ExternalID] = struct{}{}
	b.snapshot.Identities = append(b.snapshot.Identities, i)
}

func (b *SnapshotBuilder) Group(g domain.Group) {
	if _, dup := b.groups[g.ExternalID]; dup || g.ExternalID == "" {
		return
	}
	b.groups[g.ExternalID] = struct{}{}
	b.snapshot.Groups = append(b.snapshot.Groups, g)
}

// Member records a membership. Call it after identities and groups are recorded.
func (b *SnapshotBuilder) Member(group, identity string) {
	if _, ok := b.groups[group]; !ok {
		return
	}
	if _, ok := b.identities[identity]; !ok {
		return
	}
	b.snapshot.Memberships = append(b.snapshot.Memberships, domain.Membership{
		GroupExternalID: group, IdentityExternalID: identity,
	})
}

// Snapshot returns the directory, memberships sorted and deduplicated.
func (b *SnapshotBuilder) Snapshot() domain.Snapshot {
	s := b.snapshot
	slices.SortFunc(s.Memberships, domain.CompareMembership)
	s.Memberships = slices.Compact(s.Memberships)
	return s
}
