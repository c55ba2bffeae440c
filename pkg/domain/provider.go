package domain

import (
	"errors"
	"fmt"
)

// ProviderKind tags a cloud provider plugin.
type ProviderKind string

const (
	ProviderAWS        ProviderKind = "aws"
	ProviderGCP        ProviderKind = "gcp"
	ProviderAzure      ProviderKind = "azure"
	ProviderKubernetes ProviderKind = "kubernetes"

	// ProviderFixture yields a fixed set of resources. Only registered when fixtures are enabled.
	ProviderFixture ProviderKind = "fixture"
)

var ErrUnknownProvider = errors.New("unknown provider")

func (p ProviderKind) String() string {
	return string(p)
}

func AsProviderKind(s string) (ProviderKind, error) {
	switch p := ProviderKind(s); p {
	case ProviderAWS, ProviderGCP, ProviderAzure, ProviderKubernetes, ProviderFixture:
		return p, nil
	}
	return ProviderKind(s), fmt.Errorf(`%w: "%s"`, ErrUnknownProvider, s)
}

// ResourceKind selects the table a Resource is reconciled into.
type ResourceKind string

const (
	KindEntity     ResourceKind = "entity"
	KindNetworking ResourceKind = "networking"
	KindDataStore  ResourceKind = "datastore"
	KindService    ResourceKind = "service"
)

var ErrUnknownResourceKind = errors.New("unknown resource kind")

func ResourceKinds() []ResourceKind {
	return []ResourceKind{KindEntity, KindNetworking, KindDataStore, KindService}
}

func (k ResourceKind) String() string {
	return string(k)
}

// Table is the name of the table for the kind, or "" for unknown kinds.
func (k ResourceKind) Table() string {
	switch k {
	case KindEntity:
		return "entities"
	case KindNetworking:
		return "networking_resources"
	case KindDataStore:
		return "data_stores"
	case KindService:
		return "services"
	}
	return ""
}

func AsResourceKind(s string) (ResourceKind, error) {
	k := ResourceKind(s)
	if k.Table() == "" {
		return k, fmt.Errorf(`%w: "%s"`, ErrUnknownResourceKind, s)
	}
	return k, nil
}

// Resource is one thing found in a cloud.
//
// ExternalID is the id the provider assigned, unique in an organization per Kind.
// Scope is the sub-scope (region, project, subscription, namespace) it was found in.
type Resource struct {
	ExternalID string
	Kind       ResourceKind
	Type       string
	Name       string
	Scope      string
	Attributes map[string]any
	Tags       map[string]string
}

// SweepPolicy decides what happens to resources a run did not observe.
type SweepPolicy string

const (
	// SweepStale sets stale_since on them. This is the default.
	SweepStale SweepPolicy = "stale"

	// SweepDelete deletes them.
	SweepDelete SweepPolicy = "delete"
)

func AsSweepPolicy(s string) (SweepPolicy, error) {
	switch p := SweepPolicy(s); p {
	case "", SweepStale:
		return SweepStale, nil
	case SweepDelete:
		return p, nil
	}
	return SweepPolicy(s), fmt.Errorf(`unknown sweep policy: "%s" (should be one of -- stale|delete)`, s)
}

// ScopeConfig is the "scope" column of a discovery job.
type ScopeConfig struct {
	Regions       []string    `json:"regions,omitempty"`
	Projects      []string    `json:"projects,omitempty"`
	Subscriptions []string    `json:"subscriptions,omitempty"`
	Namespaces    []string    `json:"namespaces,omitempty"`
	Sweep         SweepPolicy `json:"sweep,omitempty"`
}

// Units lists the configured sub-scopes for a provider.
//
// An empty list means the provider decides (its default region, the project of
// the service account, and so on).
func (s ScopeConfig) Units(p ProviderKind) []string {
	switch p {
	case ProviderAWS:
		return s.Regions
	case ProviderGCP:
		return s.Projects
	case ProviderAzure:
		return s.Subscriptions
	case ProviderKubernetes:
		return s.Namespaces
	case ProviderFixture:
		return s.Regions
	}
	return nil
}
