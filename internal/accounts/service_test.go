package accounts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/cloud"
	awscloud "github.com/hugh/go-reclaim/internal/cloud/aws"
	"github.com/hugh/go-reclaim/internal/testutil"
	"github.com/hugh/go-reclaim/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTS struct {
	account string
	err     error
	seen    cloud.Account
}

func (f *fakeSTS) STS(ctx context.Context, account cloud.Account, region string) (awscloud.STSAPI, error) {
	f.seen = account
	return f, nil
}

func (f *fakeSTS) GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.account),
		Arn:     aws.String("arn:aws:sts::" + f.account + ":assumed-role/reclaim/go-reclaim"),
	}, nil
}

func newTestService(t *testing.T, stsFake *fakeSTS) *Service {
	t.Helper()
	sealer, err := crypto.NewSealer("")
	require.NoError(t, err)
	return NewService(testutil.SetupTestDB(t), sealer, stsFake, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func validInput() CreateInput {
	return CreateInput{
		Name:       "prod",
		AccountID:  "210987654321",
		RoleARN:    "arn:aws:iam::210987654321:role/reclaim",
		ExternalID: "ext-42",
		Regions:    []string{"us-west-2", "us-east-1", "us-west-2"},
		CreatedBy:  "ops@example.com",
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := newTestService(t, &fakeSTS{})

	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing name", func(in *CreateInput) { in.Name = " " }},
		{"short account id", func(in *CreateInput) { in.AccountID = "1234" }},
		{"role in another account", func(in *CreateInput) { in.RoleARN = "arn:aws:iam::111111111111:role/reclaim" }},
		{"not an iam arn", func(in *CreateInput) { in.RoleARN = "arn:aws:s3:::bucket" }},
		{"no regions", func(in *CreateInput) { in.Regions = nil }},
		{"bad region", func(in *CreateInput) { in.Regions = []string{"mars-1"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := svc.Create(context.Background(), in)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestCreateAndResolve(t *testing.T) {
	svc := newTestService(t, &fakeSTS{})
	ctx := context.Background()

	account, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1", "us-west-2"}, account.AuthorizedRegions)
	assert.True(t, account.HasExternalID)
	assert.NotContains(t, account.ExternalIDSealed, "ext-42")

	resolved, err := svc.Resolve(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "ext-42", resolved.ExternalID)
	assert.Equal(t, account.RoleARN, resolved.RoleARN)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, account.ID))
	_, err = svc.Get(ctx, account.ID)
	assert.ErrorIs(t, err, apperr.ErrAccountNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, account.ID), apperr.ErrAccountNotFound)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("matching identity records verification", func(t *testing.T) {
		fake := &fakeSTS{account: "210987654321"}
		svc := newTestService(t, fake)
		account, err := svc.Create(ctx, validInput())
		require.NoError(t, err)

		verified, err := svc.Verify(ctx, account.ID)
		require.NoError(t, err)
		assert.NotZero(t, verified.LastVerifiedAt)
		assert.Equal(t, "ext-42", fake.seen.ExternalID)
	})

	t.Run("identity in another account", func(t *testing.T) {
		svc := newTestService(t, &fakeSTS{account: "999999999999"})
		account, err := svc.Create(ctx, validInput())
		require.NoError(t, err)

		_, err = svc.Verify(ctx, account.ID)
		assert.ErrorIs(t, err, apperr.ErrDependency)
	})

	t.Run("assume role failure", func(t *testing.T) {
		svc := newTestService(t, &fakeSTS{err: errors.New("AccessDenied")})
		account, err := svc.Create(ctx, validInput())
		require.NoError(t, err)

		_, err = svc.Verify(ctx, account.ID)
		assert.ErrorIs(t, err, apperr.ErrDependency)
		assert.ErrorContains(t, err, "AccessDenied")
	})
}
