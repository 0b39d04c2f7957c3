package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/accounts"
	"github.com/hugh/go-reclaim/internal/api/dto"
	"github.com/hugh/go-reclaim/internal/api/handlers"
	"github.com/hugh/go-reclaim/internal/api/middleware"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/auth"
	"github.com/hugh/go-reclaim/internal/classifier"
	"github.com/hugh/go-reclaim/internal/cloud"
	awscloud "github.com/hugh/go-reclaim/internal/cloud/aws"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/findings"
	"github.com/hugh/go-reclaim/internal/remediation"
	"github.com/hugh/go-reclaim/internal/scan"
	"github.com/hugh/go-reclaim/internal/telemetry"
	"github.com/hugh/go-reclaim/internal/testutil"
	"github.com/hugh/go-reclaim/pkg/crypto"
	"github.com/stretchr/testify/require"
)

type fakeSTS struct {
	account string
	err     error
}

func (f *fakeSTS) STS(ctx context.Context, account cloud.Account, region string) (awscloud.STSAPI, error) {
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

type fakePlanScheduler struct {
	at time.Time
}

func (f *fakePlanScheduler) SchedulePlan(ctx context.Context, planID uuid.UUID, at time.Time) (string, error) {
	f.at = at
	return "task-" + planID.String()[:8], nil
}

// testAPI wires every handler over one sqlite database with fake AWS
// capabilities, mounted the way the production router mounts them.
type testAPI struct {
	*testutil.TestSetup

	router     *chi.Mux
	log        *audit.Log
	dispatcher *scan.LocalDispatcher
	sts        *fakeSTS
	scheduler  *fakePlanScheduler

	ec2     *testutil.FakeInspector
	ec2Exec *testutil.FakeExecutor
	s3Exec  *testutil.FakeExecutor
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	tc := testutil.NewTestContext(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := telemetry.New()

	api := &testAPI{
		TestSetup: tc,
		log:       audit.NewLog(tc.DB),
		sts:       &fakeSTS{account: tc.Account.AccountID},
		scheduler: &fakePlanScheduler{},
		ec2:       testutil.NewFakeInspector(models.ServiceEC2),
		ec2Exec:   testutil.NewFakeExecutor(models.ServiceEC2, models.ActionTerminate),
		s3Exec:    testutil.NewFakeExecutor(models.ServiceS3, models.ActionDelete),
	}

	reg := cloud.NewRegistry()
	reg.RegisterInspector(api.ec2)
	reg.RegisterInspector(testutil.NewFakeInspector(models.ServiceS3))
	reg.RegisterExecutor(api.ec2Exec)
	reg.RegisterExecutor(api.s3Exec)

	sealer, err := crypto.NewSealer("")
	require.NoError(t, err)
	resolver := testutil.DBResolver{DB: tc.DB}

	accountService := accounts.NewService(tc.DB, sealer, api.sts, logger)
	orchestrator := scan.NewOrchestrator(tc.DB, api.log, reg, classifier.Default(), resolver,
		scan.Options{Concurrency: 2, InspectorTimeout: time.Second}, metrics, logger)
	api.dispatcher = scan.NewLocalDispatcher(orchestrator, logger)
	orchestrator.SetDispatcher(api.dispatcher)
	t.Cleanup(api.dispatcher.Wait)

	engine := remediation.NewEngine(tc.DB, api.log, reg, resolver, remediation.NewMemoryLocker(),
		remediation.Options{ExecutorTimeout: time.Second}, metrics, logger)
	engine.SetScheduler(api.scheduler)

	authHandler := handlers.NewAuthHandler(auth.NewService(tc.DB, tc.JWT), logger)
	accountHandler := handlers.NewAccountHandler(accountService, logger)
	scanHandler := handlers.NewScanHandler(orchestrator, logger)
	findingHandler := handlers.NewFindingHandler(findings.NewService(tc.DB, api.log, logger), logger)
	planHandler := handlers.NewPlanHandler(engine, logger)
	auditHandler := handlers.NewAuditHandler(api.log, logger)
	scheduleHandler := handlers.NewScheduleHandler(tc.DB, orchestrator, logger)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tc.JWT))
			r.Get("/auth/me", authHandler.Me)

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", accountHandler.List)
				r.Post("/", accountHandler.Create)
				r.Get("/{id}", accountHandler.Get)
				r.Delete("/{id}", accountHandler.Delete)
				r.Post("/{id}/verify", accountHandler.Verify)
			})
			r.Route("/scans", func(r chi.Router) {
				r.Get("/", scanHandler.List)
				r.Post("/", scanHandler.Create)
				r.Get("/{id}", scanHandler.Get)
				r.Post("/{id}/cancel", scanHandler.Cancel)
			})
			r.Route("/findings", func(r chi.Router) {
				r.Get("/", findingHandler.List)
				r.Get("/{id}", findingHandler.Get)
				r.Post("/{id}/snooze", findingHandler.Snooze)
				r.Post("/{id}/dismiss", findingHandler.Dismiss)
				r.Post("/{id}/reopen", findingHandler.Reopen)
			})
			r.Route("/plans", func(r chi.Router) {
				r.Get("/", planHandler.List)
				r.Post("/", planHandler.Create)
				r.Get("/{id}", planHandler.Get)
				r.Post("/{id}/validate", planHandler.Validate)
				r.Get("/{id}/script", planHandler.Script)
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(models.RoleOwner, models.RoleAdmin))
					r.Post("/{id}/approve", planHandler.Approve)
					r.Post("/{id}/execute", planHandler.Execute)
					r.Post("/{id}/schedule", planHandler.Schedule)
				})
			})
			r.Get("/audit", auditHandler.List)
			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", scheduleHandler.List)
				r.Post("/", scheduleHandler.Create)
				r.Get("/{id}", scheduleHandler.Get)
				r.Put("/{id}", scheduleHandler.Update)
				r.Delete("/{id}", scheduleHandler.Delete)
				r.Post("/{id}/trigger", scheduleHandler.Trigger)
			})
		})
	})

	api.router = r
	return api
}

// do sends an authenticated request as the setup's owner.
func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return a.doAs(t, a.Token, method, path, body)
}

func (a *testAPI) doAs(t *testing.T, token, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, method, path, body, token))
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp dto.ErrorResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	return resp.Code
}
