package handlers_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/remediation"
	"github.com/hugh/go-reclaim/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createPlan(t *testing.T, api *testAPI, body map[string]interface{}) *models.RemediationPlan {
	t.Helper()
	rr := api.do(t, "POST", "/api/v1/plans", body)
	testutil.AssertStatus(t, rr, http.StatusCreated)
	var plan models.RemediationPlan
	testutil.ParseJSONResponse(t, rr, &plan)
	return &plan
}

func planPath(plan *models.RemediationPlan, op string) string {
	p := "/api/v1/plans/" + plan.ID.String()
	if op != "" {
		p += "/" + op
	}
	return p
}

func TestPlanHandler_Create(t *testing.T) {
	api := newTestAPI(t)
	instance := testutil.CreateTestFinding(t, api.DB, api.Account.ID, models.Finding{})

	plan := createPlan(t, api, map[string]interface{}{
		"finding_ids": []string{instance.ID.String(), instance.ID.String()},
	})
	assert.True(t, plan.DryRun, "plans are dry runs unless asked otherwise")
	assert.Equal(t, models.PlanStatusDraft, plan.Status)
	assert.Equal(t, api.User.Email, plan.CreatedBy)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, models.ActionTerminate, plan.Actions[0].Kind)
	assert.Equal(t, instance.ResourceID, plan.Actions[0].TargetResourceID)
}

func TestPlanHandler_Create_Errors(t *testing.T) {
	api := newTestAPI(t)
	remediated := testutil.CreateTestFinding(t, api.DB, api.Account.ID, models.Finding{Status: models.FindingStatusRemediated})
	unmapped := testutil.CreateTestFinding(t, api.DB, api.Account.ID, models.Finding{FindingType: models.FindingOverProvisioned})

	tests := []struct {
		name       string
		ids        []string
		wantStatus int
		wantCode   string
	}{
		{"empty selection", []string{}, http.StatusBadRequest, "empty_selection"},
		{"unknown finding", []string{uuid.NewString()}, http.StatusNotFound, "finding_not_found"},
		{"already remediated", []string{remediated.ID.String()}, http.StatusBadRequest, "finding_already_remediated"},
		{"no mapping", []string{unmapped.ID.String()}, http.StatusBadRequest, "no_remediation_mapping"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, "POST", "/api/v1/plans", map[string]interface{}{"finding_ids": tt.ids})
			testutil.AssertStatus(t, rr, tt.wantStatus)
			assert.Equal(t, tt.wantCode, errorCode(t, rr))
		})
	}
}

func TestPlanHandler_DryRunCannotBeApproved(t *testing.T) {
	api := newTestAPI(t)
	f := testutil.CreateTestFinding(t, api.DB, api.Account.ID, models.Finding{})
	plan := createPlan(t, api, map[string]interface{}{"finding_ids": []string{f.ID.String()}})

	rr := api.do(t, "POST", planPath(plan, "validate"), nil)
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = api.do(t, "POST", planPath(plan, "approve"), nil)
	testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)
	assert.Equal(t, "approval_requires_explicit_consent", errorCode(t, rr))

	rr = api.do(t, "POST", planPath(plan, "execute"), nil)
	testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)
	assert.Empty(t, api.ec2Exec.Executed())
}

func TestPlanHandler_ValidationFailureStaysDraft(t *testing.T) {
	api := newTestAPI(t)
	f := testutil.CreateTestFinding(t, api.DB, api.Account.ID, models.Finding{})
	api.ec2Exec.FailSimulate(f.ResourceID, errors.New("UnauthorizedOperation"))
	plan := createPlan(t, api, map[string]interface{}{"finding_ids": []string{f.ID.String()}, "dry_run": false})

	rr := api.do(t, "POST", planPath(plan, "validate"), nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var report remediation.ValidationReport
	testutil.ParseJSONResponse(t, rr, &report)
	assert.False(t, report.Valid)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, remediation.OutcomeFailed, report.Actions[0].Status)
	assert.Contains(t, report.Actions[0].Error, "UnauthorizedOperation")

	rr = api.do(t, "GET", planPath(plan, ""), nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var got models.RemediationPlan
	testutil.ParseJSONResponse(t, rr, &got)
	assert.Equal(t, models.PlanStatusDraft, got.Status)
}

func TestPlanHandler_LiveFlowHaltsOnFailure(t *testing.T) {
	api := newTestAPI(t)
	instance := testutil.CreateTestFinding(t, api.DB, api.Account.ID, models.Finding{})
	bucket := testutil.CreateTestFinding(t, api.DB, api.Account.ID, models.Finding{
		Service:     models.ServiceS3,
		FindingType: models.FindingUnusedBucket,
		ResourceID:  "reclaim-logs-archive",
	})
	trailing := testutil.CreateTestFinding(t, api.DB, api.Account.ID, models.Finding{})
	api.s3Exec.FailExecute(bucket.ResourceID, errors.New("AccessDenied"))

	plan := createPlan(t, api, map[string]interface{}{
		"finding_ids": []string{instance.ID.String(), bucket.ID.String(), trailing.ID.String()},
		"dry_run":     false,
	})
	assert.False(t, plan.DryRun)

	rr := api.do(t, "POST", planPath(plan, "validate"), nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var validation remediation.ValidationReport
	testutil.ParseJSONResponse(t, rr, &validation)
	assert.True(t, validation.Valid)
	assert.Equal(t, models.PlanStatusAwaitingApproval, validation.Status)

	// Members cannot approve.
	member := api.TokenFor(t, models.RoleMember)
	rr = api.doAs(t, member, "POST", planPath(plan, "approve"), nil)
	testutil.AssertStatus(t, rr, http.StatusForbidden)

	rr = api.do(t, "POST", planPath(plan, "approve"), nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var approved models.RemediationPlan
	testutil.ParseJSONResponse(t, rr, &approved)
	assert.Equal(t, models.PlanStatusApproved, approved.Status)
	assert.Equal(t, api.User.Email, approved.ApprovedBy)

	rr = api.do(t, "POST", planPath(plan, "execute"), nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var report remediation.ExecutionReport
	testutil.ParseJSONResponse(t, rr, &report)
	assert.Equal(t, models.PlanStatusFailed, report.Status)
	require.Len(t, report.Actions, 3)
	assert.Equal(t, remediation.OutcomeSucceeded, report.Actions[0].Status)
	assert.Equal(t, remediation.OutcomeFailed, report.Actions[1].Status)
	assert.Equal(t, remediation.OutcomeSkipped, report.Actions[2].Status)
	assert.Equal(t, []string{instance.ResourceID}, api.ec2Exec.Executed())

	rr = api.do(t, "GET", "/api/v1/findings/"+instance.ID.String(), nil)
	var f models.Finding
	testutil.ParseJSONResponse(t, rr, &f)
	assert.Equal(t, models.FindingStatusRemediated, f.Status)

	rr = api.do(t, "GET", "/api/v1/findings/"+trailing.ID.String(), nil)
	testutil.ParseJSONResponse(t, rr, &f)
	assert.Equal(t, models.FindingStatusOpen, f.Status)

	// A failed plan is terminal.
	rr = api.do(t, "POST", planPath(plan, "execute"), nil)
	testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)
	assert.Equal(t, "invalid_plan_state", errorCode(t, rr))

	rr = api.do(t, "GET", "/api/v1/plans?status=failed", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var plans []models.RemediationPlan
	testutil.ParseJSONResponse(t, rr, &plans)
	require.Len(t, plans, 1)
	assert.Equal(t, plan.ID, plans[0].ID)
}

func TestPlanHandler_Schedule(t *testing.T) {
	api := newTestAPI(t)
	f := testutil.CreateTestFinding(t, api.DB, api.Account.ID, models.Finding{})
	plan := createPlan(t, api, map[string]interface{}{"finding_ids": []string{f.ID.String()}, "dry_run": false})

	at := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

	// Not approved yet.
	rr := api.do(t, "POST", planPath(plan, "schedule"), map[string]interface{}{"at": at})
	testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)

	testutil.AssertStatus(t, api.do(t, "POST", planPath(plan, "validate"), nil), http.StatusOK)
	testutil.AssertStatus(t, api.do(t, "POST", planPath(plan, "approve"), nil), http.StatusOK)

	rr = api.do(t, "POST", planPath(plan, "schedule"), map[string]interface{}{})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr = api.do(t, "POST", planPath(plan, "schedule"), map[string]interface{}{"at": time.Now().Add(-time.Minute)})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr = api.do(t, "POST", planPath(plan, "schedule"), map[string]interface{}{"at": at})
	testutil.AssertStatus(t, rr, http.StatusAccepted)
	var scheduled models.RemediationPlan
	testutil.ParseJSONResponse(t, rr, &scheduled)
	assert.Equal(t, at.Unix(), scheduled.ScheduledFor)
	assert.Equal(t, "task-"+plan.ID.String()[:8], scheduled.TaskID)
	assert.True(t, api.scheduler.at.Equal(at))
}

func TestPlanHandler_Script(t *testing.T) {
	api := newTestAPI(t)
	f := testutil.CreateTestFinding(t, api.DB, api.Account.ID, models.Finding{})
	plan := createPlan(t, api, map[string]interface{}{"finding_ids": []string{f.ID.String()}})

	rr := api.do(t, "GET", planPath(plan, "script"), nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, "text/x-shellscript; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), plan.ID.String())

	script := rr.Body.String()
	assert.True(t, strings.HasPrefix(script, "#!/usr/bin/env bash\n"))
	assert.Contains(t, script, "aws ec2 terminate-instances")
	assert.Contains(t, script, "--dry-run")
}

func TestPlanHandler_NotFound(t *testing.T) {
	api := newTestAPI(t)
	missing := &models.RemediationPlan{}
	missing.ID = uuid.New()

	for _, tc := range []struct{ method, op string }{
		{"GET", ""},
		{"POST", "validate"},
		{"POST", "approve"},
		{"GET", "script"},
	} {
		rr := api.do(t, tc.method, planPath(missing, tc.op), nil)
		testutil.AssertStatus(t, rr, http.StatusNotFound)
		assert.Equal(t, "plan_not_found", errorCode(t, rr))
	}

	rr := api.do(t, "GET", "/api/v1/plans?status=bogus", nil)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}
