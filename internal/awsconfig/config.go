// Package awsconfig builds the AWS configuration and S3 client shared by
// every s3cli command.
package awsconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/stefando/s3cli/internal/auth"
)

// DefaultRegion is used when neither a flag nor the SDK chain names a region.
const DefaultRegion = "us-west-2"

// Options are the connection settings taken from global flags.
type Options struct {
	Region      string
	Profile     string
	EndpointURL string
	PathStyle   bool
	RoleARN     string
	MaxAttempts int
	Timeout     time.Duration
}

// Load resolves the AWS configuration for opts.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.MaxAttempts > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(opts.MaxAttempts))
	}
	if opts.Timeout > 0 {
		loadOpts = append(loadOpts, config.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(opts.Timeout)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	if opts.RoleARN != "" {
		cfg.Credentials = auth.NewAssumeRoleProvider(sts.NewFromConfig(cfg), opts.RoleARN, auth.DefaultSessionDuration)
	}

	return cfg, nil
}

// NewS3Client creates an S3 client honoring the endpoint and addressing
// overrides in opts.
func NewS3Client(cfg aws.Config, opts Options) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.EndpointURL != "" {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		}
		o.UsePathStyle = opts.PathStyle
	})
}
