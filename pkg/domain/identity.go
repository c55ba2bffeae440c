package domain

import (
	"cmp"
	"errors"
	"fmt"
	"time"
)

// Identity is a principal in an upstream directory.
type Identity struct {
	ExternalID  string
	Username    string
	Email       string
	DisplayName string
	Active      bool
}

type Group struct {
	ExternalID  string
	Name        string
	Description string
}

// Membership is a pair of (group, identity), by their external ids.
type Membership struct {
	GroupExternalID    string
	IdentityExternalID string
}

func (m Membership) String() string {
	return fmt.Sprintf("%s/%s", m.GroupExternalID, m.IdentityExternalID)
}

// CompareMembership orders memberships by group, then identity.
func CompareMembership(a, b Membership) int {
	if c := cmp.Compare(a.GroupExternalID, b.GroupExternalID); c != 0 {
		return c
	}
	return cmp.Compare(a.IdentityExternalID, b.IdentityExternalID)
}

// Snapshot is the whole directory, either as fetched upstream or as stored.
type Snapshot struct {
	Identities  []Identity
	Groups      []Group
	Memberships []Membership
}

// MembershipDelta is what turns a stored membership set into a desired one.
type MembershipDelta struct {
	Add    []Membership
	Remove []Membership
}

func (d MembershipDelta) Empty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// IdentityDelta is what turns stored identities into fetched ones.
//
// Deactivate holds external ids. Rows are never deleted, since other tables refer to them.
type IdentityDelta struct {
	Create     []Identity
	Update     []Identity
	Deactivate []string
}

type GroupDelta struct {
	Create     []Group
	Update     []Group
	Deactivate []string
}

// SyncDelta is everything a connector run applies in one transaction.
type SyncDelta struct {
	Identities  IdentityDelta
	Groups      GroupDelta
	Memberships MembershipDelta
}

// ApplyCounts counts the operations of a delta by kind.
type ApplyCounts struct {
	Created     int
	Updated     int
	Deactivated int
}

type ChangeOp string

const (
	ChangeAdd    ChangeOp = "add"
	ChangeRemove ChangeOp = "remove"
)

func AsChangeOp(s string) (ChangeOp, error) {
	switch op := ChangeOp(s); op {
	case ChangeAdd, ChangeRemove:
		return op, nil
	}
	return ChangeOp(s), fmt.Errorf(`unknown change op: "%s"`, s)
}

type ChangeStatus string

const (
	ChangePending  ChangeStatus = "pending"
	ChangePushed   ChangeStatus = "pushed"
	ChangeApplied  ChangeStatus = "applied"
	ChangeConflict ChangeStatus = "conflict"
)

var ErrUnknownChangeStatus = errors.New("unknown change status")

func AsChangeStatus(s string) (ChangeStatus, error) {
	switch st := ChangeStatus(s); st {
	case ChangePending, ChangePushed, ChangeApplied, ChangeConflict:
		return st, nil
	}
	return ChangeStatus(s), fmt.Errorf(`%w: "%s"`, ErrUnknownChangeStatus, s)
}

// MembershipChange is a membership change made in Elder which waits to be written back.
type MembershipChange struct {
	ID         int64
	Connector  ConnectorKind
	Membership Membership
	Op         ChangeOp
	Status     ChangeStatus
	Detail     string
	CreatedAt  time.Time
}
