// Package ldap syncs identities from an LDAP directory (including Active Directory).
//
// External ids are distinguished names, as the directory returns them.
package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"net/url"
	"strconv"

	"github.com/go-ldap/ldap/v3"

	"github.com/elderproject/elder-worker/pkg/connector"
	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
)

const (
	DefaultUserFilter  = "(|(objectClass=person)(objectClass=inetOrgPerson))"
	DefaultGroupFilter = "(|(objectClass=groupOfNames)(objectClass=groupOfUniqueNames)(objectClass=group))"

	pageSize = 500

	// userAccountControl flag of a disabled Active Directory account.
	accountDisabled = 0x2
)

var (
	userAttributes  = []string{"uid", "sAMAccountName", "cn", "mail", "displayName", "userAccountControl", "nsAccountLock"}
	groupAttributes = []string{"cn", "description", "member", "uniqueMember"}
)

// Directory is the part of an LDAP session the connector uses.
type Directory interface {
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	Modify(req *ldap.ModifyRequest) error
	Close() error
}

// Dialer opens a bound session.
type Dialer func(ctx context.Context, cred *credential.LDAP) (Directory, error)

// Dial connects to cred.URL, upgrades with StartTLS when asked, and binds.
func Dial(ctx context.Context, cred *credential.LDAP) (Directory, error) {
	u, err := url.Parse(cred.URL)
	if err != nil {
		return nil, errors.New("url is malformed")
	}
	conn, err := ldap.DialURL(cred.URL)
	if err != nil {
		return nil, err
	}
	if cred.StartTLS {
		if err := conn.StartTLS(&tls.Config{ServerName: u.Hostname()}); err != nil {
			conn.Close()
			return nil, err
		}
	}
	if err := conn.Bind(cred.BindDN, cred.BindPassword.Reveal()); err != nil {
		conn.Close()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

type Connector struct {
	dial Dialer
}

type Option func(*Connector)

func WithDialer(d Dialer) Option {
	return func(c *Connector) { c.dial = d }
}

func New(opts ...Option) *Connector {
	c := &Connector{dial: Dial}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ connector.WriteBacker = &Connector{}

func (*Connector) Kind() domain.ConnectorKind      { return domain.ConnectorLDAP }
func (*Connector) CredentialKind() credential.Kind { return credential.KindLDAP }

func (c *Connector) open(ctx context.Context, l *credential.LDAP) (Directory, error) {
	dir, err := c.dial(ctx, l)
	if err != nil {
		return nil, connector.APIError(domain.ConnectorLDAP, "bind", isAuth(err), err)
	}
	return dir, nil
}

func (c *Connector) Fetch(ctx context.Context, cred credential.Credential) (domain.Snapshot, error) {
	l, err := connector.Typed[*credential.LDAP](domain.ConnectorLDAP, cred)
	if err != nil {
		return domain.Snapshot{}, err
	}
	dir, err := c.open(ctx, l)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer dir.Close()

	users, err := dir.SearchWithPaging(search(l.BaseDN, orDefault(l.UserFilter, DefaultUserFilter), userAttributes), pageSize)
	if err != nil {
		return domain.Snapshot{}, connector.APIError(domain.ConnectorLDAP, "search users", isAuth(err), err)
	}
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	groups, err := dir.SearchWithPaging(search(l.BaseDN, orDefault(l.GroupFilter, DefaultGroupFilter), groupAttributes), pageSize)
	if err != nil {
		return domain.Snapshot{}, connector.APIError(domain.ConnectorLDAP, "search groups", isAuth(err), err)
	}

	b := connector.NewSnapshotBuilder()
	for _, e := range users.Entries {
		b.Identity(toIdentity(e))
	}
	for _, e := range groups.Entries {
		b.Group(domain.Group{
			ExternalID:  e.DN,
			Name:        e.GetAttributeValue("cn"),
			Description: e.GetAttributeValue("description"),
		})
	}
	for _, e := range groups.Entries {
		for _, m := range e.GetAttributeValues("member") {
			b.Member(e.DN, m)
		}
		for _, m := range e.GetAttributeValues("uniqueMember") {
			b.Member(e.DN, m)
		}
	}
	return b.Snapshot(), nil
}

// WriteBack adds or deletes the identity's DN in the "member" attribute of the group.
func (c *Connector) WriteBack(ctx context.Context, cred credential.Credential, change domain.MembershipChange) error {
	l, err := connector.Typed[*credential.LDAP](domain.ConnectorLDAP, cred)
	if err != nil {
		return err
	}
	dir, err := c.open(ctx, l)
	if err != nil {
		return err
	}
	defer dir.Close()

	req := ldap.NewModifyRequest(change.Membership.GroupExternalID, nil)
	values := []string{change.Membership.IdentityExternalID}
	switch change.Op {
	case domain.ChangeAdd:
		req.Add("member", values)
	case domain.ChangeRemove:
		req.Delete("member", values)
	default:
		return &domain.ProviderAPIError{Provider: string(domain.ConnectorLDAP), Op: "modify", Err: errors.New("unknown op " + string(change.Op))}
	}
	if err := dir.Modify(req); err != nil {
		return connector.APIError(domain.ConnectorLDAP, "modify", isAuth(err), err)
	}
	return nil
}

func search(base, filter string, attributes []string) *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		base, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		0, 0, false, filter, attributes, nil,
	)
}

func toIdentity(e *ldap.Entry) domain.Identity {
	username := e.GetAttributeValue("uid")
	if username == "" {
		username = e.GetAttributeValue("sAMAccountName")
	}
	if username == "" {
		username = e.GetAttributeValue("cn")
	}
	display := e.GetAttributeValue("displayName")
	if display == "" {
		display = e.GetAttributeValue("cn")
	}

	active := true
	if uac, err := strconv.Atoi(e.GetAttributeValue("userAccountControl")); err == nil && uac&accountDisabled != 0 {
		active = false
	}
	if v, err := strconv.ParseBool(e.GetAttributeValue("nsAccountLock")); err == nil && v {
		active = false
	}

	return domain.Identity{
		ExternalID:  e.DN,
		Username:    username,
		Email:       e.GetAttributeValue("mail"),
		DisplayName: display,
		Active:      active,
	}
}

func isAuth(err error) bool {
	return ldap.IsErrorAnyOf(err, ldap.LDAPResultInvalidCredentials, ldap.LDAPResultInsufficientAccessRights, ldap.LDAPResultInappropriateAuthentication)
}

func orDefault(s, d string) string {
	if s == "" {
		return d
	}
	return s
}
