package reconcile

import (
	"fmt"

	"github.com/elderproject/elder-worker/pkg/domain"
)

// Decision is what to do with a pending membership change.
type Decision int

const (
	// Push writes the change upstream.
	Push Decision = iota

	// AlreadyApplied means upstream already is in the desired state.
	AlreadyApplied

	// Conflict means upstream changed the pair since the last sync. Upstream wins.
	Conflict
)

func (d Decision) String() string {
	switch d {
	case Push:
		return "push"
	case AlreadyApplied:
		return "applied"
	case Conflict:
		return "conflict"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Classify decides about a pending change.
//
// storedBefore is the stored membership set before this sync was applied, which is
// what the change was made against. upstream is the membership set fetched in this sync.
func Classify(change domain.MembershipChange, storedBefore, upstream MembershipSet) (Decision, string) {
	wantPresent := change.Op == domain.ChangeAdd
	upstreamPresent := upstream.Has(change.Membership)
	storedPresent := storedBefore.Has(change.Membership)

	if upstreamPresent == wantPresent {
		return AlreadyApplied, ""
	}
	if upstreamPresent != storedPresent {
		return Conflict, fmt.Sprintf(
			"%s %s: upstream %s, while it was %s when the change was made",
			change.Op, change.Membership, presence(upstreamPresent), presence(storedPresent),
		)
	}
	return Push, ""
}

func presence(present bool) string {
	if present {
		return "has the membership"
	}
	return "does not have the membership"
}
