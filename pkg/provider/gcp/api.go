package gcp

import (
	"context"
	"errors"
	"iter"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/elderproject/elder-worker/pkg/credential"
)

// API lists resources of a project.
type API interface {
	Instances(ctx context.Context, project string) iter.Seq2[*computepb.Instance, error]
	Networks(ctx context.Context, project string) iter.Seq2[*computepb.Network, error]
	Buckets(ctx context.Context, project string) iter.Seq2[*storage.BucketAttrs, error]
	Close() error
}

// APIFactory makes an API authenticated with cred.
type APIFactory func(ctx context.Context, cred *credential.GCP) (API, error)

type sdkAPI struct {
	instances *compute.InstancesClient
	networks  *compute.NetworksClient
	storage   *storage.Client
}

// SDKAPI is the APIFactory with Google Cloud client libraries.
func SDKAPI(ctx context.Context, cred *credential.GCP) (API, error) {
	opt := option.WithCredentialsJSON([]byte(cred.JSON.Reveal()))

	instances, err := compute.NewInstancesRESTClient(ctx, opt)
	if err != nil {
		return nil, err
	}
	networks, err := compute.NewNetworksRESTClient(ctx, opt)
	if err != nil {
		instances.Close()
		return nil, err
	}
	st, err := storage.NewClient(ctx, opt)
	if err != nil {
		instances.Close()
		networks.Close()
		return nil, err
	}
	return &sdkAPI{instances: instances, networks: networks, storage: st}, nil
}

func (a *sdkAPI) Instances(ctx context.Context, project string) iter.Seq2[*computepb.Instance, error] {
	return func(yield func(*computepb.Instance, error) bool) {
		it := a.instances.AggregatedList(ctx, &computepb.AggregatedListInstancesRequest{Project: project})
		for {
			pair, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if pair.Value == nil {
				continue
			}
			for _, i := range pair.Value.Instances {
				if !yield(i, nil) {
					return
				}
			}
		}
	}
}

func (a *sdkAPI) Networks(ctx context.Context, project string) iter.Seq2[*computepb.Network, error] {
	return func(yield func(*computepb.Network, error) bool) {
		it := a.networks.List(ctx, &computepb.ListNetworksRequest{Project: project})
		for {
			n, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(n, nil) {
				return
			}
		}
	}
}

func (a *sdkAPI) Buckets(ctx context.Context, project string) iter.Seq2[*storage.BucketAttrs, error] {
	return func(yield func(*storage.BucketAttrs, error) bool) {
		it := a.storage.Buckets(ctx, project)
		for {
			b, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

func (a *sdkAPI) Close() error {
	return errors.Join(a.instances.Close(), a.networks.Close(), a.storage.Close())
}
