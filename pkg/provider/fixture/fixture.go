// Package fixture is a provider which yields made-up virtual machines.
//
// It serves smoke tests and local runs. It is registered only when fixtures are enabled.
package fixture

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
	"github.com/elderproject/elder-worker/pkg/provider"
)

const (
	DefaultRegion = "fixture-1"
	DefaultVMs    = 3

	// FailingPrefix makes a region fail: regions named "fail..." yield a scope error.
	FailingPrefix = "fail"
)

type Provider struct {
	vms int
}

func New(vmsPerRegion int) *Provider {
	if vmsPerRegion <= 0 {
		vmsPerRegion = DefaultVMs
	}
	return &Provider{vms: vmsPerRegion}
}

var _ provider.Provider = &Provider{}

func (*Provider) Kind() domain.ProviderKind       { return domain.ProviderFixture }
func (*Provider) CredentialKind() credential.Kind { return credential.KindOpaque }

// Discover yields VMs named "vm-<region>-<n>" per region.
func (p *Provider) Discover(ctx context.Context, _ credential.Credential, scope domain.ScopeConfig) iter.Seq2[domain.Resource, error] {
	regions := scope.Regions
	if len(regions) == 0 {
		regions = []string{DefaultRegion}
	}
	return func(yield func(domain.Resource, error) bool) {
		for _, region := range regions {
			if err := ctx.Err(); err != nil {
				yield(domain.Resource{}, err)
				return
			}
			if strings.HasPrefix(region, FailingPrefix) {
				if !yield(domain.Resource{}, &domain.ScopeError{Scope: region, Err: fmt.Errorf("region %s is unavailable", region)}) {
					return
				}
				continue
			}
			for n := 1; n <= p.vms; n++ {
				name := fmt.Sprintf("vm-%s-%d", region, n)
				if !yield(domain.Resource{
					ExternalID: "fixture:" + name,
					Kind:       domain.KindEntity,
					Type:       "fixture_vm",
					Name:       name,
					Scope:      region,
					Attributes: map[string]any{"cpus": 2, "memory_mb": 4096},
					Tags:       map[string]string{"fixture": "true"},
				}, nil) {
					return
				}
			}
		}
	}
}
