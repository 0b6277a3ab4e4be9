package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
)

const defaultRegion = "us-east-1"

// ConfigOptions carries the AWS settings resolved by internal/config.
type ConfigOptions struct {
	Region string
	// EndpointOverride points every client at a local emulator (e.g. http://localhost:4566).
	EndpointOverride string
	// MaxSDKAttempts bounds the SDK's own per-call retries. Whole-transaction retries
	// are done by the checkout orchestrator, so this stays small.
	MaxSDKAttempts int
}

func LoadAWSConfig(ctx context.Context, opts ConfigOptions) (sdkaws.Config, error) {
	region := opts.Region
	if region == "" {
		region = defaultRegion // default fallback
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if opts.MaxSDKAttempts > 0 {
		attempts := opts.MaxSDKAttempts
		loadOpts = append(loadOpts, config.WithRetryer(func() sdkaws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), attempts)
		}))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return cfg, nil
}
