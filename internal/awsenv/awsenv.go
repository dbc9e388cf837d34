// Package awsenv builds the explicit, per-invocation AWS client bundle
// threaded through the Intent Compiler and Reconciler constructors. There
// is no process-wide singleton: every Lambda invocation builds its own Env
// from a freshly assumed cross-account role.
package awsenv

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/networkfirewall"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// collectAssumeRoleSessionName is fixed: the tenant-side trust policy is
// written against this exact session name.
const collectAssumeRoleSessionName = "CollectLambdaRuleAssumption"

// maxRetryAttempts bounds the SDK's adaptive retry policy wrapping every
// cloud API client.
const maxRetryAttempts = 10

// Env holds every AWS service client one invocation needs, built once from
// a single aws.Config. Region is the client's bound region (one Reconciler
// invocation operates within one region at a time; DeleteAccount sweeps
// construct one Env per supported region).
type Env struct {
	Region          string
	cfg             aws.Config
	EC2             *ec2.Client
	S3              *s3.Client
	SQS             *sqs.Client
	STS             *sts.Client
	CloudWatchLogs  *cloudwatchlogs.Client
	NetworkFirewall *networkfirewall.Client
}

// New builds an Env using ambient credentials (the Lambda execution role),
// scoped to region.
func New(ctx context.Context, region string) (*Env, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewAdaptiveMode(), maxRetryAttempts)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return fromConfig(cfg, region), nil
}

// NewCrossAccount builds an Env by assuming roleArn in the tenant account,
// then scoping all clients to region. The assumed credentials are cached
// for the lifetime of the returned Env and never refreshed, matching the
// single-assume-per-invocation model.
func NewCrossAccount(ctx context.Context, region, roleArn string) (*Env, error) {
	base, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	stsClient := sts.NewFromConfig(base)
	provider := stscreds.NewAssumeRoleProvider(stsClient, roleArn, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = collectAssumeRoleSessionName
	})

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.NewCredentialsCache(provider)),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewAdaptiveMode(), maxRetryAttempts)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config for assumed role %s: %w", roleArn, err)
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("assume role %s: %w", roleArn, err)
	}
	return fromConfig(cfg, region), nil
}

func fromConfig(cfg aws.Config, region string) *Env {
	return &Env{
		Region:          region,
		cfg:             cfg,
		EC2:             ec2.NewFromConfig(cfg),
		S3:              s3.NewFromConfig(cfg),
		SQS:             sqs.NewFromConfig(cfg),
		STS:             sts.NewFromConfig(cfg),
		CloudWatchLogs:  cloudwatchlogs.NewFromConfig(cfg),
		NetworkFirewall: networkfirewall.NewFromConfig(cfg),
	}
}

// WithRegion returns a new Env bound to a different region but sharing the
// same underlying credentials - used by the DeleteAccount regional sweep.
func (e *Env) WithRegion(region string) *Env {
	cfg := e.cfg.Copy()
	cfg.Region = region
	return fromConfig(cfg, region)
}
