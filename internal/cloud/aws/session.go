// Package aws implements the cloud capabilities on aws-sdk-go-v2. Every
// account is reached by assuming its role from a base identity.
package aws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/hugh/go-reclaim/internal/cloud"
	appconfig "github.com/hugh/go-reclaim/pkg/config"
)

const roleSessionName = "go-reclaim"

type sessionKey struct {
	roleARN    string
	externalID string
	region     string
}

// Sessions builds per-account, per-region SDK configs and caches them so
// assumed-role credentials are refreshed by the SDK rather than re-assumed
// on every call.
type Sessions struct {
	base   appconfig.AWSConfig
	logger *slog.Logger

	mu    sync.Mutex
	cache map[sessionKey]aws.Config
}

func NewSessions(base appconfig.AWSConfig, logger *slog.Logger) *Sessions {
	return &Sessions{
		base:   base,
		logger: logger.With("component", "aws_sessions"),
		cache:  make(map[sessionKey]aws.Config),
	}
}

// Config returns an SDK config acting as account's role in region.
func (s *Sessions) Config(ctx context.Context, account cloud.Account, region string) (aws.Config, error) {
	if region == "" {
		region = s.base.DefaultRegion
	}
	key := sessionKey{roleARN: account.RoleARN, externalID: account.ExternalID, region: region}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.cache[key]; ok {
		return cfg, nil
	}

	cfg, err := s.loadBase(ctx, region)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}

	if account.RoleARN != "" {
		stsClient := sts.NewFromConfig(cfg)
		provider := stscreds.NewAssumeRoleProvider(stsClient, account.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = roleSessionName
			if account.ExternalID != "" {
				o.ExternalID = aws.String(account.ExternalID)
			}
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	s.cache[key] = cfg
	s.logger.Debug("created session", "account_id", account.AccountID, "region", region)
	return cfg, nil
}

// loadBase loads the identity the service itself runs as. Static keys win
// over the default chain when both are configured.
func (s *Sessions) loadBase(ctx context.Context, region string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if s.base.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.base.AccessKeyID,
			s.base.SecretAccessKey,
			"",
		)))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

func (s *Sessions) EC2(ctx context.Context, account cloud.Account, region string) (EC2API, error) {
	cfg, err := s.Config(ctx, account, region)
	if err != nil {
		return nil, err
	}
	return ec2.NewFromConfig(cfg), nil
}

func (s *Sessions) S3(ctx context.Context, account cloud.Account, region string) (S3API, error) {
	cfg, err := s.Config(ctx, account, region)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

func (s *Sessions) RDS(ctx context.Context, account cloud.Account, region string) (RDSAPI, error) {
	cfg, err := s.Config(ctx, account, region)
	if err != nil {
		return nil, err
	}
	return rds.NewFromConfig(cfg), nil
}

func (s *Sessions) ELB(ctx context.Context, account cloud.Account, region string) (ELBAPI, error) {
	cfg, err := s.Config(ctx, account, region)
	if err != nil {
		return nil, err
	}
	return elasticloadbalancingv2.NewFromConfig(cfg), nil
}

func (s *Sessions) CloudWatch(ctx context.Context, account cloud.Account, region string) (CloudWatchAPI, error) {
	cfg, err := s.Config(ctx, account, region)
	if err != nil {
		return nil, err
	}
	return cloudwatch.NewFromConfig(cfg), nil
}

func (s *Sessions) STS(ctx context.Context, account cloud.Account, region string) (STSAPI, error) {
	cfg, err := s.Config(ctx, account, region)
	if err != nil {
		return nil, err
	}
	return sts.NewFromConfig(cfg), nil
}

var _ Clients = (*Sessions)(nil)
