package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmMaxBatchSize is the maximum number of parameters that can be retrieved
// in a single SSM GetParameters call. This is an AWS service limit.
const ssmMaxBatchSize = 10

// ssmClient is the subset of the SSM SDK client used by SSMProvider.
// This interface enables testing with a mock client.
type ssmClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider implements SecretProvider by resolving secret values from
// AWS Systems Manager (SSM) Parameter Store. It is the provider for deployed
// environments (dev, staging, prod), where the database URL and the Stripe
// secret key are stored as SecureString parameters.
//
// It performs batched GetParameters calls with decryption, respecting the
// SSM limit of 10 parameters per request. Context cancellation is checked
// between batches so a Lambda timeout stops resolution cleanly.
type SSMProvider struct {
	region string
	client ssmClient
}

// NewSSMProvider creates an SSMProvider for the given AWS region. The region
// must match the region where the parameters are stored. The SDK client is
// created lazily on the first GetParametersBatch call, so building a provider
// for a local run that never resolves anything costs nothing.
func NewSSMProvider(region string) *SSMProvider {
	return &SSMProvider{region: region}
}

func newSSMProviderWithClient(region string, client ssmClient) *SSMProvider {
	return &SSMProvider{region: region, client: client}
}

func (p *SSMProvider) ensureClient(ctx context.Context) error {
	if p.client != nil {
		return nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return fmt.Errorf("loading AWS config for SSM (region=%s): %w", p.region, err)
	}
	p.client = ssm.NewFromConfig(cfg)
	return nil
}

// GetParametersBatch retrieves multiple secret values from SSM Parameter
// Store. The keys slice contains the parameter paths to resolve.
//
// Implementation details:
//   - Batches keys into groups of 10 (SSM API limit)
//   - Calls ssm.GetParameters with WithDecryption for each batch
//   - Checks context cancellation between batches
//   - Returns a map of parameter path -> decrypted plaintext value
//   - Fails the whole call when SSM reports any parameter as invalid
func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}

	for start := 0; start < len(keys); start += ssmMaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("SSM parameter retrieval cancelled: %w", err)
		}
		end := min(start+ssmMaxBatchSize, len(keys))

		out, err := p.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          keys[start:end],
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("SSM GetParameters failed (keys %d-%d of %d): %w", start, end-1, len(keys), err)
		}
		if len(out.InvalidParameters) > 0 {
			return nil, fmt.Errorf("SSM parameters not found: %v", out.InvalidParameters)
		}
		for _, param := range out.Parameters {
			if param.Name != nil && param.Value != nil {
				result[*param.Name] = *param.Value
			}
		}
	}
	return result, nil
}
