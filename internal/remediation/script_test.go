package remediation

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/stretchr/testify/assert"
)

func scriptPlan(dryRun bool) *models.RemediationPlan {
	plan := &models.RemediationPlan{DryRun: dryRun, Status: models.PlanStatusApproved, CreatedBy: "ops@example.com"}
	plan.ID = uuid.MustParse("6f1c2a4e-1111-4c3b-9d2e-000000000001")
	plan.CreatedAt = time.Unix(1717200000, 0)
	plan.Actions = []models.RemediationAction{
		{Position: 0, Kind: models.ActionTerminate, Service: models.ServiceEC2, Region: "us-east-1", TargetResourceID: "i-0abc"},
		{Position: 1, Kind: models.ActionDelete, Service: models.ServiceS3, Region: "us-east-1", TargetResourceID: "old-logs"},
		{Position: 2, Kind: models.ActionDelete, Service: models.ServiceRDS, Region: "us-west-2", TargetResourceID: "orders"},
		{Position: 3, Kind: models.ActionDelete, Service: models.ServiceELB, Region: "us-west-2",
			TargetResourceID: "arn:aws:elasticloadbalancing:us-west-2:123456789012:loadbalancer/app/web/50dc6c495c0c9188"},
	}
	return plan
}

func TestRenderScript_Live(t *testing.T) {
	script := RenderScript(scriptPlan(false))

	assert.True(t, strings.HasPrefix(script, "#!/usr/bin/env bash\n"))
	assert.Contains(t, script, "set -euo pipefail")
	assert.Contains(t, script, "aws ec2 terminate-instances --region us-east-1 --instance-ids i-0abc\n")
	assert.Contains(t, script, "aws s3 rb s3://old-logs --force --region us-east-1\n")
	assert.Contains(t, script, "--db-instance-identifier orders --final-db-snapshot-identifier orders-reclaim-final-1717200000\n")
	assert.Contains(t, script, "aws elbv2 delete-load-balancer --region us-west-2 --load-balancer-arn arn:aws:elasticloadbalancing:")
	assert.NotContains(t, script, "--dry-run")
	assert.NotContains(t, script, "echo")
	assert.NotContains(t, script, "dry_run")
}

func TestRenderScript_DryRun(t *testing.T) {
	script := RenderScript(scriptPlan(true))

	assert.Contains(t, script, "dry_run aws ec2 terminate-instances --region us-east-1 --instance-ids i-0abc --dry-run\n")
	assert.Contains(t, script, "grep -q DryRunOperation")
	assert.Contains(t, script, "aws s3 rm s3://old-logs --recursive --dryrun --region us-east-1\n")
	assert.Contains(t, script, "echo 'would run: aws rds delete-db-instance")
	assert.NotContains(t, script, "aws s3 rb")
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "i-0abc", quote("i-0abc"))
	assert.Equal(t, "''", quote(""))
	assert.Equal(t, "'a b'", quote("a b"))
	assert.Equal(t, `'it'"'"'s'`, quote("it's"))
	assert.Equal(t, "'$(rm -rf)'", quote("$(rm -rf)"))
}
