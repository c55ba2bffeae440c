// Package reconcile computes what turns stored directory state into fetched one.
//
// Functions here are pure: they read their arguments and return deltas.
// Outputs are sorted, so that the same inputs give the same delta.
package reconcile

import (
	"cmp"
	"slices"

	"github.com/elderproject/elder-worker/pkg/domain"
)

// Diff compares a stored snapshot with a fetched one.
func Diff(stored, fetched domain.Snapshot) domain.SyncDelta {
	return domain.SyncDelta{
		Identities:  Identities(stored.Identities, fetched.Identities),
		Groups:      Groups(stored.Groups, fetched.Groups),
		Memberships: Memberships(stored.Memberships, fetched.Memberships),
	}
}

// Identities compares identities by external id.
//
// stored may hold inactive identities. A fetched identity which is stored inactive is
// an update, which reactivates it.
func Identities(stored, fetched []domain.Identity) domain.IdentityDelta {
	delta := domain.IdentityDelta{
		Create:     []domain.Identity{},
		Update:     []domain.Identity{},
		Deactivate: []string{},
	}

	byID := make(map[string]domain.Identity, len(stored))
	for _, s := range stored {
		byID[s.ExternalID] = s
	}
	seen := make(map[string]struct{}, len(fetched))
	for _, f := range fetched {
		if _, dup := seen[f.ExternalID]; dup {
			continue
		}
		seen[f.ExternalID] = struct{}{}

		s, ok := byID[f.ExternalID]
		switch {
		case !ok:
			delta.Create = append(delta.Create, f)
		case s != f:
			delta.Update = append(delta.Update, f)
		}
	}
	for _, s := range stored {
		if _, ok := seen[s.ExternalID]; !ok && s.Active {
			delta.Deactivate = append(delta.Deactivate, s.ExternalID)
		}
	}

	byExternalID := func(a, b domain.Identity) int { return cmp.Compare(a.ExternalID, b.ExternalID) }
	slices.SortFunc(delta.Create, byExternalID)
	slices.SortFunc(delta.Update, byExternalID)
	slices.Sort(delta.Deactivate)
	return delta
}

// Groups compares groups by external id. stored holds active groups only.
func Groups(stored, fetched []domain.Group) domain.GroupDelta {
	delta := domain.GroupDelta{
		Create:     []domain.Group{},
		Update:     []domain.Group{},
		Deactivate: []string{},
	}

	byID := make(map[string]domain.Group, len(stored))
	for _, s := range stored {
		byID[s.ExternalID] = s
	}
	seen := make(map[string]struct{}, len(fetched))
	for _, f := range fetched {
		if _, dup := seen[f.ExternalID]; dup {
			continue
		}
		seen[f.ExternalID] = struct{}{}

		s, ok := byID[f.ExternalID]
		switch {
		case !ok:
			delta.Create = append(delta.Create, f)
		case s != f:
			delta.Update = append(delta.Update, f)
		}
	}
	for _, s := range stored {
		if _, ok := seen[s.ExternalID]; !ok {
			delta.Deactivate = append(delta.Deactivate, s.ExternalID)
		}
	}

	byExternalID := func(a, b domain.Group) int { return cmp.Compare(a.ExternalID, b.ExternalID) }
	slices.SortFunc(delta.Create, byExternalID)
	slices.SortFunc(delta.Update, byExternalID)
	slices.Sort(delta.Deactivate)
	return delta
}

// Memberships is the set difference: Add = desired - stored, Remove = stored - desired.
func Memberships(stored, desired []domain.Membership) domain.MembershipDelta {
	s := NewMembershipSet(stored...)
	d := NewMembershipSet(desired...)

	delta := domain.MembershipDelta{Add: []domain.Membership{}, Remove: []domain.Membership{}}
	for m := range d {
		if !s.Has(m) {
			delta.Add = append(delta.Add, m)
		}
	}
	for m := range s {
		if !d.Has(m) {
			delta.Remove = append(delta.Remove, m)
		}
	}
	slices.SortFunc(delta.Add, domain.CompareMembership)
	slices.SortFunc(delta.Remove, domain.CompareMembership)
	return delta
}

type MembershipSet map[domain.Membership]struct{}

func NewMembershipSet(ms ...domain.Membership) MembershipSet {
	set := make(MembershipSet, len(ms))
	for _, m := range ms {
		set[m] = struct{}{}
	}
	return set
}

func (s MembershipSet) Has(m domain.Membership) bool {
	_, ok := s[m]
	return ok
}

// Apply returns the set with delta applied. s is not modified.
func (s MembershipSet) Apply(delta domain.MembershipDelta) MembershipSet {
	out := make(MembershipSet, len(s)+len(delta.Add))
	for m := range s {
		out[m] = struct{}{}
	}
	for _, m := range delta.Remove {
		delete(out, m)
	}
	for _, m := range delta.Add {
		out[m] = struct{}{}
	}
	return out
}

// Sorted lists members of the set.
func (s MembershipSet) Sorted() []domain.Membership {
	ms := make([]domain.Membership, 0, len(s))
	for m := range s {
		ms = append(ms, m)
	}
	slices.SortFunc(ms, domain.CompareMembership)
	return ms
}
