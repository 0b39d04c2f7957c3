package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/hugh/go-reclaim/internal/accounts"
	"github.com/hugh/go-reclaim/internal/auth"
	"github.com/hugh/go-reclaim/internal/database"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/pkg/crypto"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type seedOptions struct {
	Email    string
	Password string
	Name     string

	AccountName string
	AccountID   string
	RoleARN     string
	ExternalID  string
	Regions     []string
}

var seedOpts seedOptions

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Migrate, create the owner user and optionally a cloud account",
	Long: `seed migrates the schema and registers the owner user. Passing --account-id
and --role-arn also onboards one cloud account for that user.

Credentials default to ADMIN_EMAIL, ADMIN_PASSWORD and ADMIN_NAME.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := connect()
		if err != nil {
			return err
		}
		defer database.Close(db)

		if err := database.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}

		sealer, err := crypto.NewSealer(cfg.Encryption.Key)
		if err != nil {
			return fmt.Errorf("creating sealer: %w", err)
		}
		jwt := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
		return runSeed(cmd.Context(), db, jwt, sealer, seedOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := seedCmd.Flags()
	f.StringVar(&seedOpts.Email, "email", envOr("ADMIN_EMAIL", "admin@example.com"), "Owner email")
	f.StringVar(&seedOpts.Password, "password", envOr("ADMIN_PASSWORD", ""), "Owner password")
	f.StringVar(&seedOpts.Name, "name", envOr("ADMIN_NAME", "Admin"), "Owner display name")
	f.StringVar(&seedOpts.AccountName, "account-name", "default", "Cloud account display name")
	f.StringVar(&seedOpts.AccountID, "account-id", "", "12 digit AWS account id to onboard")
	f.StringVar(&seedOpts.RoleARN, "role-arn", "", "IAM role to assume in the account")
	f.StringVar(&seedOpts.ExternalID, "external-id", "", "External id required by the role trust policy")
	f.StringSliceVar(&seedOpts.Regions, "regions", []string{"us-east-1"}, "Regions the account authorizes")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// runSeed is idempotent: an existing owner or account is reported and left alone.
func runSeed(ctx context.Context, db *gorm.DB, jwt *auth.JWTService, sealer *crypto.Sealer, opts seedOptions, w io.Writer) error {
	if opts.Password == "" {
		return errors.New("a password is required: pass --password or set ADMIN_PASSWORD")
	}

	authService := auth.NewService(db, jwt)
	resp, err := authService.Register(ctx, auth.RegisterInput{
		Email:    opts.Email,
		Password: opts.Password,
		Name:     opts.Name,
		Role:     models.RoleOwner,
	})
	switch {
	case errors.Is(err, auth.ErrUserExists):
		fmt.Fprintf(w, "%s user %s already exists\n", color.YellowString("skip"), opts.Email)
	case err != nil:
		return fmt.Errorf("creating owner: %w", err)
	default:
		fmt.Fprintf(w, "%s owner %s\n", color.GreenString("created"), resp.User.Email)
		fmt.Fprintf(w, "token: %s\n", resp.Token)
	}

	if opts.AccountID == "" {
		return nil
	}

	var existing int64
	if err := db.WithContext(ctx).Model(&models.CloudAccount{}).Where("account_id = ?", opts.AccountID).Count(&existing).Error; err != nil {
		return fmt.Errorf("checking account: %w", err)
	}
	if existing > 0 {
		fmt.Fprintf(w, "%s account %s already onboarded\n", color.YellowString("skip"), opts.AccountID)
		return nil
	}

	account, err := accounts.NewService(db, sealer, nil, logger).Create(ctx, accounts.CreateInput{
		Name:       opts.AccountName,
		AccountID:  opts.AccountID,
		RoleARN:    opts.RoleARN,
		ExternalID: opts.ExternalID,
		Regions:    opts.Regions,
		CreatedBy:  strings.ToLower(opts.Email),
	})
	if err != nil {
		return fmt.Errorf("creating account: %w", err)
	}
	fmt.Fprintf(w, "%s account %s (%s) regions %s\n", color.GreenString("created"), account.AccountID, account.ID, strings.Join(account.AuthorizedRegions, ","))
	return nil
}
