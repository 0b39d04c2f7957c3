package remediation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/database/models"
)

// GenerateScript renders the plan as an AWS CLI script an operator can review
// or run by hand. Dry-run plans only print what they would do.
func (e *Engine) GenerateScript(ctx context.Context, id uuid.UUID) (string, error) {
	plan, err := e.GetPlan(ctx, id)
	if err != nil {
		return "", err
	}
	return RenderScript(plan), nil
}

func RenderScript(plan *models.RemediationPlan) string {
	var b strings.Builder
	b.WriteString("#!/usr/bin/env bash\n")
	fmt.Fprintf(&b, "# go-reclaim remediation plan %s\n", plan.ID)
	fmt.Fprintf(&b, "# status: %s, dry run: %t, created by %s\n", plan.Status, plan.DryRun, plan.CreatedBy)
	b.WriteString("set -euo pipefail\n")
	if plan.DryRun {
		b.WriteString(dryRunHelper)
	}

	for _, a := range plan.Actions {
		fmt.Fprintf(&b, "\n# [%d] %s %s (%s, %s) finding %s\n", a.Position+1, a.Kind, a.TargetResourceID, a.Service, a.Region, a.FindingID)
		b.WriteString(command(a, plan.DryRun, plan.CreatedAt))
		b.WriteByte('\n')
	}
	return b.String()
}

// dryRunHelper runs a native dry-run call. The CLI reports a dry run that
// would have succeeded as a DryRunOperation error, which is not a failure here.
const dryRunHelper = `
dry_run() {
  local out
  if out=$("$@" 2>&1) || grep -q DryRunOperation <<<"$out"; then
    echo "dry run ok: $*"
  else
    echo "$out" >&2
    return 1
  fi
}
`

// command returns the CLI line for one action. Commands without a native
// dry-run flag are echoed in dry-run mode.
func command(a models.RemediationAction, dryRun bool, at time.Time) string {
	region := "--region " + quote(a.Region)
	target := quote(a.TargetResourceID)

	var line string
	nativeDryRun := false
	switch {
	case a.Service == models.ServiceEC2 && a.Kind == models.ActionTerminate:
		line = "aws ec2 terminate-instances " + region + " --instance-ids " + target
		nativeDryRun = true
	case a.Service == models.ServiceS3 && a.Kind == models.ActionDelete:
		line = "aws s3 rb " + quote("s3://"+a.TargetResourceID) + " --force " + region
		if dryRun {
			line = "aws s3 rm " + quote("s3://"+a.TargetResourceID) + " --recursive --dryrun " + region
		}
	case a.Service == models.ServiceRDS && a.Kind == models.ActionDelete:
		snapshot := fmt.Sprintf("%s-reclaim-final-%d", a.TargetResourceID, at.Unix())
		line = "aws rds delete-db-instance " + region + " --db-instance-identifier " + target +
			" --final-db-snapshot-identifier " + quote(snapshot)
	case a.Service == models.ServiceRDS && a.Kind == models.ActionDeleteSnapshot:
		line = "aws rds delete-db-snapshot " + region + " --db-snapshot-identifier " + target
	case a.Service == models.ServiceELB && a.Kind == models.ActionDelete:
		line = "aws elbv2 delete-load-balancer " + region + " --load-balancer-arn " + target
	default:
		return fmt.Sprintf("echo %s", quote(fmt.Sprintf("no CLI equivalent for %s on %s %s", a.Kind, a.Service, a.TargetResourceID)))
	}

	switch {
	case !dryRun:
		return line
	case nativeDryRun:
		return "dry_run " + line + " --dry-run"
	case a.Service == models.ServiceS3:
		return line
	default:
		return "echo " + quote("would run: "+line)
	}
}

// quote single-quotes s for POSIX shells.
func quote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=@", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
