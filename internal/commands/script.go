package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/database"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/remediation"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var scriptOutput string

var scriptCmd = &cobra.Command{
	Use:   "script <plan-id>",
	Short: "Export a remediation plan as an AWS CLI shell script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid plan id %q: %w", args[0], err)
		}

		db, err := connect()
		if err != nil {
			return err
		}
		defer database.Close(db)

		w := cmd.OutOrStdout()
		if scriptOutput != "" {
			f, err := os.OpenFile(scriptOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		return writeScript(cmd.Context(), db, id, w)
	},
}

func init() {
	scriptCmd.Flags().StringVarP(&scriptOutput, "output", "o", "", "Write the script to a file instead of stdout")
}

func writeScript(ctx context.Context, db *gorm.DB, id uuid.UUID, w io.Writer) error {
	var plan models.RemediationPlan
	err := db.WithContext(ctx).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&plan, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrPlanNotFound.Withf("%s", id)
	}
	if err != nil {
		return fmt.Errorf("loading plan: %w", err)
	}

	_, err = io.WriteString(w, remediation.RenderScript(&plan))
	return err
}
