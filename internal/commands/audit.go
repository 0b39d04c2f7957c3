package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/database"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var auditKind string

var auditCmd = &cobra.Command{
	Use:   "audit <scope-id>",
	Short: "Print the audit trail of a scan, plan or finding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid scope id %q: %w", args[0], err)
		}
		scope, err := scopeFor(auditKind, id)
		if err != nil {
			return err
		}

		db, err := connect()
		if err != nil {
			return err
		}
		defer database.Close(db)

		return printAudit(cmd.Context(), db, scope, cmd.OutOrStdout())
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditKind, "kind", "plan", "Scope kind: scan, plan or finding")
}

func scopeFor(kind string, id uuid.UUID) (audit.Scope, error) {
	switch kind {
	case "scan":
		return audit.Scope{ScanJobID: &id}, nil
	case "plan":
		return audit.Scope{PlanID: &id}, nil
	case "finding":
		return audit.Scope{FindingID: &id}, nil
	default:
		return audit.Scope{}, fmt.Errorf("unsupported kind: %s (supported: scan, plan, finding)", kind)
	}
}

func printAudit(ctx context.Context, db *gorm.DB, scope audit.Scope, w io.Writer) error {
	entries, err := audit.NewLog(db).List(ctx, scope)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no audit entries")
		return nil
	}
	writeAudit(w, entries)
	return nil
}

func writeAudit(w io.Writer, entries []models.AuditEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tTRANSITION\tDESCRIPTION")
	for _, e := range entries {
		transition := ""
		if e.FromStatus != "" || e.ToStatus != "" {
			transition = e.FromStatus + " -> " + e.ToStatus
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Time().Format(time.RFC3339),
			e.Actor,
			colorAction(e.Action),
			transition,
			e.Description,
		)
	}
	tw.Flush()
}

func colorAction(action string) string {
	switch {
	case strings.HasSuffix(action, ".failed"):
		return color.RedString(action)
	case strings.HasSuffix(action, ".succeeded"), strings.HasSuffix(action, ".completed"), strings.HasSuffix(action, ".remediated"):
		return color.GreenString(action)
	case strings.HasSuffix(action, ".cancelled"), strings.HasSuffix(action, ".dismissed"), strings.HasSuffix(action, ".snoozed"):
		return color.YellowString(action)
	default:
		return action
	}
}
