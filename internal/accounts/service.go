// Package accounts onboards cloud accounts and resolves them for scans and remediation.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/cloud"
	awscloud "github.com/hugh/go-reclaim/internal/cloud/aws"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/pkg/crypto"
	"gorm.io/gorm"
)

var (
	accountIDPattern = regexp.MustCompile(`^\d{12}$`)
	regionPattern    = regexp.MustCompile(`^[a-z]{2}(-gov)?-[a-z]+-\d$`)
)

const roleARNPrefix = "arn:aws:iam::"

// STSClients is the part of the AWS session factory needed for verification.
type STSClients interface {
	STS(ctx context.Context, account cloud.Account, region string) (awscloud.STSAPI, error)
}

type Service struct {
	db     *gorm.DB
	sealer *crypto.Sealer
	sts    STSClients
	logger *slog.Logger
}

func NewService(db *gorm.DB, sealer *crypto.Sealer, sts STSClients, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		sealer: sealer,
		sts:    sts,
		logger: logger.With("component", "accounts"),
	}
}

type CreateInput struct {
	Name       string
	AccountID  string
	RoleARN    string
	ExternalID string
	Regions    []string
	CreatedBy  string
}

func (in CreateInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.ErrInvalidInput.Withf("name is required")
	}
	if !accountIDPattern.MatchString(in.AccountID) {
		return apperr.ErrInvalidInput.Withf("account id must be 12 digits")
	}
	if !strings.HasPrefix(in.RoleARN, roleARNPrefix+in.AccountID+":role/") {
		return apperr.ErrInvalidInput.Withf("role ARN must be an IAM role in account %s", in.AccountID)
	}
	if len(in.Regions) == 0 {
		return apperr.ErrInvalidInput.Withf("at least one region is required")
	}
	for _, r := range in.Regions {
		if !regionPattern.MatchString(r) {
			return apperr.ErrInvalidInput.Withf("invalid region %q", r)
		}
	}
	return nil
}

// Create stores an account with its external id sealed.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.CloudAccount, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	sealed, err := s.sealer.Seal(in.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("sealing external id: %w", err)
	}

	regions := slices.Clone(in.Regions)
	slices.Sort(regions)
	regions = slices.Compact(regions)

	account := &models.CloudAccount{
		Name:              strings.TrimSpace(in.Name),
		AccountID:         in.AccountID,
		RoleARN:           in.RoleARN,
		ExternalIDSealed:  sealed,
		HasExternalID:     in.ExternalID != "",
		AuthorizedRegions: regions,
		CreatedBy:         in.CreatedBy,
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, fmt.Errorf("saving account: %w", err)
	}

	s.logger.Info("created account",
		"id", account.ID,
		"account_id", account.AccountID,
		"regions", len(regions),
	)
	return account, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.CloudAccount, error) {
	var account models.CloudAccount
	if err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Service) List(ctx context.Context) ([]models.CloudAccount, error) {
	var accounts []models.CloudAccount
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.CloudAccount{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrAccountNotFound
	}
	s.logger.Info("deleted account", "id", id)
	return nil
}

// Resolve implements cloud.AccountResolver.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (cloud.Account, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return cloud.Account{}, err
	}

	externalID, err := s.sealer.Open(account.ExternalIDSealed)
	if err != nil {
		return cloud.Account{}, fmt.Errorf("opening external id of %s: %w", id, err)
	}

	return cloud.Account{
		ID:         account.ID,
		AccountID:  account.AccountID,
		RoleARN:    account.RoleARN,
		ExternalID: externalID,
		Regions:    account.AuthorizedRegions,
	}, nil
}

// Verify assumes the account's role and checks the caller identity belongs to it.
func (s *Service) Verify(ctx context.Context, id uuid.UUID) (*models.CloudAccount, error) {
	account, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	region := ""
	if len(account.Regions) > 0 {
		region = account.Regions[0]
	}
	client, err := s.sts.STS(ctx, account, region)
	if err != nil {
		return nil, apperr.ErrDependency.Wrap(err)
	}
	identity, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, apperr.ErrDependency.Wrap(fmt.Errorf("assuming %s: %w", account.RoleARN, err))
	}
	if got := aws.ToString(identity.Account); got != account.AccountID {
		return nil, apperr.ErrDependency.Withf("role resolved to account %s, expected %s", got, account.AccountID)
	}

	now := time.Now().Unix()
	if err := s.db.WithContext(ctx).Model(&models.CloudAccount{}).
		Where("id = ?", id).
		Update("last_verified_at", now).Error; err != nil {
		return nil, fmt.Errorf("recording verification: %w", err)
	}

	s.logger.Info("verified account", "id", id, "arn", aws.ToString(identity.Arn))
	return s.Get(ctx, id)
}

var _ cloud.AccountResolver = (*Service)(nil)
