package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/classifier"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/findings"
	"github.com/hugh/go-reclaim/internal/remediation"
	"github.com/hugh/go-reclaim/internal/scan"
	"github.com/hugh/go-reclaim/internal/testutil"
	"github.com/hugh/go-reclaim/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePlans struct {
	actor string
	id    uuid.UUID
	err   error
}

func (f *fakePlans) ExecutePlan(_ context.Context, id uuid.UUID, actor string) (*remediation.ExecutionReport, error) {
	f.id, f.actor = id, actor
	if f.err != nil {
		return nil, f.err
	}
	return &remediation.ExecutionReport{PlanID: id, Status: models.PlanStatusCompleted}, nil
}

type testEnv struct {
	db      *gorm.DB
	log     *audit.Log
	orch    *scan.Orchestrator
	plans   *fakePlans
	handler *Handler
	account *models.CloudAccount
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := testutil.SetupTestDB(t)
	log := audit.NewLog(db)

	reg := cloud.NewRegistry()
	reg.RegisterInspector(testutil.NewFakeInspector(models.ServiceEC2))

	orch := scan.NewOrchestrator(db, log, reg, classifier.Default(), testutil.DBResolver{DB: db},
		scan.Options{Concurrency: 1, InspectorTimeout: time.Second}, nil, logger)
	plans := &fakePlans{}

	return &testEnv{
		db:      db,
		log:     log,
		orch:    orch,
		plans:   plans,
		handler: NewHandler(db, logger, orch, plans, findings.NewService(db, log, logger)),
		account: testutil.CreateTestAccount(t, db),
	}
}

func TestHandlers_InvalidPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for name, handle := range map[string]asynq.HandlerFunc{
		TypeScanRun:            env.handler.HandleScanRun,
		TypeRemediationExecute: env.handler.HandleRemediationExecute,
		TypeSchedulerTick:      env.handler.HandleSchedulerTick,
	} {
		t.Run(name, func(t *testing.T) {
			err := handle(ctx, asynq.NewTask(name, []byte("invalid json")))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unmarshal payload")
		})
	}
}

func TestHandleScanRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.orch.StartScan(ctx, env.account.ID, []models.ScanUnit{{Service: models.ServiceEC2, Region: "us-east-1"}}, "ops@example.com")
	require.NoError(t, err)

	task, err := NewScanRunTask(ScanRunPayload{ScanID: job.ID})
	require.NoError(t, err)
	require.NoError(t, env.handler.HandleScanRun(ctx, task))

	got, err := env.orch.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanJobStatusCompleted, got.Status)
}

func TestHandleScanRun_UnknownJobIsNotRetried(t *testing.T) {
	env := newTestEnv(t)

	task, err := NewScanRunTask(ScanRunPayload{ScanID: uuid.New()})
	require.NoError(t, err)

	err = env.handler.HandleScanRun(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleRemediationExecute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	planID := uuid.New()

	task, err := NewRemediationExecuteTask(RemediationExecutePayload{PlanID: planID})
	require.NoError(t, err)

	require.NoError(t, env.handler.HandleRemediationExecute(ctx, task))
	assert.Equal(t, planID, env.plans.id)
	assert.Equal(t, audit.ActorScheduler, env.plans.actor)

	env.plans.err = apperr.ErrFindingLocked
	err = env.handler.HandleRemediationExecute(ctx, task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	env.plans.err = apperr.ErrInvalidPlanState
	err = env.handler.HandleRemediationExecute(ctx, task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleSchedulerTick(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	env.handler.now = func() time.Time { return now }

	due := testutil.CreateTestSchedule(t, env.db, env.account.ID, "nightly", "0 2 * * *")
	later := testutil.CreateTestSchedule(t, env.db, env.account.ID, "later", "0 2 * * *")
	disabled := testutil.CreateTestSchedule(t, env.db, env.account.ID, "off", "0 2 * * *")
	broken := testutil.CreateTestSchedule(t, env.db, env.account.ID, "broken", "0 2 * * *")

	require.NoError(t, env.db.Model(due).Update("next_run_at", now.Add(-time.Minute).Unix()).Error)
	require.NoError(t, env.db.Model(later).Update("next_run_at", now.Add(time.Hour).Unix()).Error)
	require.NoError(t, env.db.Model(disabled).Updates(map[string]interface{}{
		"next_run_at": now.Add(-time.Hour).Unix(),
		"is_enabled":  false,
	}).Error)
	require.NoError(t, env.db.Model(broken).Updates(map[string]interface{}{
		"next_run_at": now.Add(-time.Hour).Unix(),
		"cron_expr":   "not a cron",
	}).Error)

	snoozed := testutil.CreateTestFinding(t, env.db, env.account.ID, models.Finding{
		Status:       models.FindingStatusSnoozed,
		SnoozedUntil: now.Add(-time.Hour).Unix(),
	})

	require.NoError(t, env.handler.HandleSchedulerTick(ctx, NewSchedulerTickTask()))

	var jobs []models.ScanJob
	require.NoError(t, env.db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].ScheduleID)
	assert.Equal(t, due.ID, *jobs[0].ScheduleID)
	assert.Equal(t, audit.ActorScheduler, jobs[0].RequestedBy)

	var got models.ScanSchedule
	require.NoError(t, env.db.First(&got, "id = ?", due.ID).Error)
	assert.Equal(t, time.Date(2024, 6, 2, 2, 0, 0, 0, time.UTC).Unix(), got.NextRunAt)
	require.NotNil(t, got.LastScanJobID)
	assert.Equal(t, jobs[0].ID, *got.LastScanJobID)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, now.Unix(), *got.LastRunAt)

	require.NoError(t, env.db.First(&got, "id = ?", broken.ID).Error)
	assert.False(t, got.IsEnabled)

	var f models.Finding
	require.NoError(t, env.db.First(&f, "id = ?", snoozed.ID).Error)
	assert.Equal(t, models.FindingStatusOpen, f.Status)

	// Nothing is due on the next tick.
	require.NoError(t, env.handler.HandleSchedulerTick(ctx, NewSchedulerTickTask()))
	var count int64
	require.NoError(t, env.db.Model(&models.ScanJob{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "task-" + task.Type()}, nil
}

func optionValue(opts []asynq.Option, typ asynq.OptionType) (interface{}, bool) {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value(), true
		}
	}
	return nil, false
}

func TestDispatcher(t *testing.T) {
	client := &fakeEnqueuer{}
	d := NewDispatcher(client)
	ctx := context.Background()

	jobID := uuid.New()
	id, err := d.Dispatch(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "task-"+TypeScanRun, id)

	var scanPayload ScanRunPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &scanPayload))
	assert.Equal(t, jobID, scanPayload.ScanID)
	q, _ := optionValue(client.opts[0], asynq.QueueOpt)
	assert.Equal(t, queue.QueueDefault, q)

	planID := uuid.New()
	at := time.Now().Add(time.Hour)
	_, err = d.SchedulePlan(ctx, planID, at)
	require.NoError(t, err)
	assert.Equal(t, TypeRemediationExecute, client.tasks[1].Type())

	var planPayload RemediationExecutePayload
	require.NoError(t, json.Unmarshal(client.tasks[1].Payload(), &planPayload))
	assert.Equal(t, planID, planPayload.PlanID)
	processAt, ok := optionValue(client.opts[1], asynq.ProcessAtOpt)
	require.True(t, ok)
	assert.Equal(t, at, processAt)
	retries, _ := optionValue(client.opts[1], asynq.MaxRetryOpt)
	assert.Equal(t, 0, retries)

	client.err = errors.New("redis down")
	_, err = d.Dispatch(ctx, jobID)
	assert.ErrorContains(t, err, "enqueueing scan")
}
