// Package provider defines cloud discovery plugins and their registry.
package provider

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
)

// Provider discovers resources of a cloud.
type Provider interface {
	Kind() domain.ProviderKind

	// CredentialKind is the kind of credential Discover takes.
	CredentialKind() credential.Kind

	// Discover lists resources lazily.
	//
	// A yielded *domain.ScopeError tells one sub-scope failed, and the sequence goes on.
	// Any other yielded error ends the sequence.
	//
	// The sequence stops when ctx is done, or when the consumer stops ranging.
	Discover(ctx context.Context, cred credential.Credential, scope domain.ScopeConfig) iter.Seq2[domain.Resource, error]
}

type Registry struct {
	providers map[domain.ProviderKind]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: map[domain.ProviderKind]Provider{}}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

// Get returns the provider of kind. Unknown kinds are domain.ErrUnknownProvider.
func (r *Registry) Get(kind domain.ProviderKind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf(`%w: "%s" is not registered`, domain.ErrUnknownProvider, kind)
	}
	return p, nil
}

// Kinds lists registered kinds, sorted.
func (r *Registry) Kinds() []domain.ProviderKind {
	kinds := make([]domain.ProviderKind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Typed asserts the credential as the type a provider takes.
func Typed[C credential.Credential](p domain.ProviderKind, cred credential.Credential) (C, error) {
	c, ok := cred.(C)
	if !ok {
		return c, &domain.CredentialError{
			Source: string(p), Reason: fmt.Sprintf("unexpected credential kind: %s", cred.Kind()),
		}
	}
	return c, nil
}

// Failed is a sequence which yields err only.
func Failed(err error) iter.Seq2[domain.Resource, error] {
	return func(yield func(domain.Resource, error) bool) {
		yield(domain.Resource{}, err)
	}
}
