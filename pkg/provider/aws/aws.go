// Package aws discovers EC2 instances, VPCs, subnets, RDS instances, S3 buckets
// and Lambda functions.
package aws

import (
	"context"
	"errors"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
	"github.com/elderproject/elder-worker/pkg/provider"
)

const (
	defaultRegion = "us-east-1"

	// GlobalScope is the scope of resources which are not regional (S3 buckets).
	GlobalScope = "global"
)

type Provider struct {
	clients ClientFactory
}

type Option func(*Provider) *Provider

// WithClientFactory replaces how API clients are made.
func WithClientFactory(f ClientFactory) Option {
	return func(p *Provider) *Provider {
		p.clients = f
		return p
	}
}

func New(options ...Option) *Provider {
	p := &Provider{clients: SDKClients}
	for _, o := range options {
		p = o(p)
	}
	return p
}

var _ provider.Provider = &Provider{}

func (*Provider) Kind() domain.ProviderKind       { return domain.ProviderAWS }
func (*Provider) CredentialKind() credential.Kind { return credential.KindAWS }

func (p *Provider) Discover(ctx context.Context, cred credential.Credential, scope domain.ScopeConfig) iter.Seq2[domain.Resource, error] {
	c, err := provider.Typed[*credential.AWS](domain.ProviderAWS, cred)
	if err != nil {
		return provider.Failed(err)
	}
	regions := scope.Regions
	if len(regions) == 0 {
		r := c.Region
		if r == "" {
			r = defaultRegion
		}
		regions = []string{r}
	}

	return func(yield func(domain.Resource, error) bool) {
		var global Clients
		for _, region := range regions {
			if err := ctx.Err(); err != nil {
				yield(domain.Resource{}, err)
				return
			}

			clients, err := p.clients(ctx, c, region)
			if err != nil {
				if !yield(domain.Resource{}, &domain.ScopeError{Scope: region, Err: err}) {
					return
				}
				continue
			}

			if global.STS == nil {
				if _, err := clients.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err != nil {
					yield(domain.Resource{}, apiError("sts:GetCallerIdentity", err))
					return
				}
				global = clients
			}

			em := &emitter{yield: yield, scope: region}
			for _, list := range []lister{listInstances, listVpcs, listSubnets, listDBInstances, listFunctions} {
				if err := list(ctx, clients, em); err != nil {
					em.fail(err)
					break
				}
			}
			if em.stopped {
				return
			}
		}

		if global.S3 != nil {
			em := &emitter{yield: yield, scope: GlobalScope}
			if err := listBuckets(ctx, global, em); err != nil {
				em.fail(err)
			}
		}
	}
}

// emitter yields resources of one scope, and tracks whether the sequence should stop.
type emitter struct {
	yield   func(domain.Resource, error) bool
	scope   string
	stopped bool
}

var errStopped = errors.New("consumer stopped")

func (e *emitter) emit(r domain.Resource) error {
	r.Scope = e.scope
	if !e.yield(r, nil) {
		e.stopped = true
		return errStopped
	}
	return nil
}

// fail yields err as a failure of the scope, or as a terminal error when the credential was rejected.
func (e *emitter) fail(err error) {
	if e.stopped || errors.Is(err, errStopped) {
		e.stopped = true
		return
	}
	var apiErr *domain.ProviderAPIError
	if errors.As(err, &apiErr) && apiErr.Auth {
		e.yield(domain.Resource{}, apiErr)
		e.stopped = true
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		e.yield(domain.Resource{}, err)
		e.stopped = true
		return
	}
	if !e.yield(domain.Resource{}, &domain.ScopeError{Scope: e.scope, Err: err}) {
		e.stopped = true
	}
}

type lister func(ctx context.Context, c Clients, em *emitter) error

func listInstances(ctx context.Context, c Clients, em *emitter) error {
	pager := ec2.NewDescribeInstancesPaginator(c.EC2, &ec2.DescribeInstancesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return apiError("ec2:DescribeInstances", err)
		}
		for _, reservation := range page.Reservations {
			for _, i := range reservation.Instances {
				tags := ec2Tags(i.Tags)
				attrs := map[string]any{
					"instance_type":     string(i.InstanceType),
					"vpc_id":            aws.ToString(i.VpcId),
					"subnet_id":         aws.ToString(i.SubnetId),
					"private_ip":        aws.ToString(i.PrivateIpAddress),
					"owner_id":          aws.ToString(reservation.OwnerId),
					"availability_zone": "",
				}
				if i.Placement != nil {
					attrs["availability_zone"] = aws.ToString(i.Placement.AvailabilityZone)
				}
				if i.State != nil {
					attrs["state"] = string(i.State.Name)
				}
				if err := em.emit(domain.Resource{
					ExternalID: aws.ToString(i.InstanceId),
					Kind:       domain.KindEntity,
					Type:       "aws_instance",
					Name:       nameOr(tags, aws.ToString(i.InstanceId)),
					Attributes: attrs,
					Tags:       tags,
				}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func listVpcs(ctx context.Context, c Clients, em *emitter) error {
	pager := ec2.NewDescribeVpcsPaginator(c.EC2, &ec2.DescribeVpcsInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return apiError("ec2:DescribeVpcs", err)
		}
		for _, v := range page.Vpcs {
			tags := ec2Tags(v.Tags)
			if err := em.emit(domain.Resource{
				ExternalID: aws.ToString(v.VpcId),
				Kind:       domain.KindNetworking,
				Type:       "aws_vpc",
				Name:       nameOr(tags, aws.ToString(v.VpcId)),
				Attributes: map[string]any{
					"cidr_block": aws.ToString(v.CidrBlock),
					"is_default": aws.ToBool(v.IsDefault),
					"owner_id":   aws.ToString(v.OwnerId),
				},
				Tags: tags,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func listSubnets(ctx context.Context, c Clients, em *emitter) error {
	pager := ec2.NewDescribeSubnetsPaginator(c.EC2, &ec2.DescribeSubnetsInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return apiError("ec2:DescribeSubnets", err)
		}
		for _, s := range page.Subnets {
			tags := ec2Tags(s.Tags)
			if err := em.emit(domain.Resource{
				ExternalID: aws.ToString(s.SubnetId),
				Kind:       domain.KindNetworking,
				Type:       "aws_subnet",
				Name:       nameOr(tags, aws.ToString(s.SubnetId)),
				Attributes: map[string]any{
					"vpc_id":            aws.ToString(s.VpcId),
					"cidr_block":        aws.ToString(s.CidrBlock),
					"availability_zone": aws.ToString(s.AvailabilityZone),
					"arn":               aws.ToString(s.SubnetArn),
				},
				Tags: tags,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func listDBInstances(ctx context.Context, c Clients, em *emitter) error {
	pager := rds.NewDescribeDBInstancesPaginator(c.RDS, &rds.DescribeDBInstancesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return apiError("rds:DescribeDBInstances", err)
		}
		for _, db := range page.DBInstances {
			if err := em.emit(domain.Resource{
				ExternalID: aws.ToString(db.DBInstanceArn),
				Kind:       domain.KindDataStore,
				Type:       "aws_db_instance",
				Name:       aws.ToString(db.DBInstanceIdentifier),
				Attributes: map[string]any{
					"engine":         aws.ToString(db.Engine),
					"engine_version": aws.ToString(db.EngineVersion),
					"instance_class": aws.ToString(db.DBInstanceClass),
					"status":         aws.ToString(db.DBInstanceStatus),
				},
				Tags: rdsTags(db.TagList),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func listFunctions(ctx context.Context, c Clients, em *emitter) error {
	pager := lambda.NewListFunctionsPaginator(c.Lambda, &lambda.ListFunctionsInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return apiError("lambda:ListFunctions", err)
		}
		for _, f := range page.Functions {
			if err := em.emit(domain.Resource{
				ExternalID: aws.ToString(f.FunctionArn),
				Kind:       domain.KindService,
				Type:       "aws_lambda_function",
				Name:       aws.ToString(f.FunctionName),
				Attributes: map[string]any{
					"runtime":       string(f.Runtime),
					"memory_size":   aws.ToInt32(f.MemorySize),
					"last_modified": aws.ToString(f.LastModified),
				},
				Tags: map[string]string{},
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func listBuckets(ctx context.Context, c Clients, em *emitter) error {
	out, err := c.S3.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return apiError("s3:ListBuckets", err)
	}
	for _, b := range out.Buckets {
		attrs := map[string]any{}
		if b.CreationDate != nil {
			attrs["creation_date"] = b.CreationDate.UTC().Format("2006-01-02T15:04:05Z")
		}
		if err := em.emit(domain.Resource{
			ExternalID: "arn:aws:s3:::" + aws.ToString(b.Name),
			Kind:       domain.KindDataStore,
			Type:       "aws_s3_bucket",
			Name:       aws.ToString(b.Name),
			Attributes: attrs,
			Tags:       map[string]string{},
		}); err != nil {
			return err
		}
	}
	return nil
}

// authErrorCodes are codes of errors telling the credential itself was rejected.
var authErrorCodes = map[string]struct{}{
	"AuthFailure":                 {},
	"InvalidClientTokenId":        {},
	"SignatureDoesNotMatch":       {},
	"ExpiredToken":                {},
	"ExpiredTokenException":       {},
	"UnrecognizedClientException": {},
	"InvalidAccessKeyId":          {},
}

// apiError wraps an error of an API call into *domain.ProviderAPIError.
func apiError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	auth := false
	var ae smithy.APIError
	if errors.As(err, &ae) {
		_, auth = authErrorCodes[ae.ErrorCode()]
	}
	return &domain.ProviderAPIError{Provider: string(domain.ProviderAWS), Op: op, Auth: auth, Err: err}
}

func ec2Tags(tags []ec2types.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return m
}

func rdsTags(tags []rdstypes.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return m
}

func nameOr(tags map[string]string, fallback string) string {
	if n := tags["Name"]; n != "" {
		return n
	}
	return fallback
}
