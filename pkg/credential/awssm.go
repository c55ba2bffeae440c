package credential

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerAPI is the part of *secretsmanager.Client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource reads aws-sm:// references with the worker's own AWS identity.
type SecretsManagerSource struct {
	api SecretsManagerAPI
}

func NewSecretsManagerSource(api SecretsManagerAPI) *SecretsManagerSource {
	return &SecretsManagerSource{api: api}
}

// DefaultSecretsManagerSource uses the SDK's default credential chain and region.
func DefaultSecretsManagerSource(ctx context.Context) (*SecretsManagerSource, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return NewSecretsManagerSource(secretsmanager.NewFromConfig(cfg)), nil
}

func (s *SecretsManagerSource) Read(ctx context.Context, locator string) ([]byte, error) {
	if locator == "" {
		return nil, fmt.Errorf("secret id is empty")
	}
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(locator)})
	if err != nil {
		return nil, fmt.Errorf("secrets manager: %w", err)
	}
	if out.SecretString != nil {
		return []byte(aws.ToString(out.SecretString)), nil
	}
	if out.SecretBinary != nil {
		return out.SecretBinary, nil
	}
	return nil, fmt.Errorf("secret %s has no value", locator)
}
