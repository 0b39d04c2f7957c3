package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestLog_ConcurrentWritersKeepEveryEntry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	log := audit.NewLog(db)
	planID := uuid.New()
	ctx := context.Background()

	const writers, perWriter = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				err := log.Transact(ctx, func(tx *gorm.DB, aw *audit.Writer) error {
					e := audit.Transition("tester", "plan.touched", "a", "b")
					e.PlanID = audit.Ref(planID)
					return aw.Append(e)
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	entries, err := log.List(ctx, audit.Scope{PlanID: audit.Ref(planID)})
	require.NoError(t, err)
	require.Len(t, entries, writers*perWriter)

	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].Timestamp, entries[i].Timestamp, "timestamps must be strictly increasing")
	}
}

func TestLog_PrefixStable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	log := audit.NewLog(db)
	jobID := uuid.New()
	ctx := context.Background()

	appendOne := func(action string) {
		require.NoError(t, log.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
			e := audit.Transition(audit.ActorSystem, action, "", "")
			e.ScanJobID = audit.Ref(jobID)
			return w.Append(e)
		}))
	}

	appendOne("scan.created")
	appendOne("step.running")
	first, err := log.List(ctx, audit.Scope{ScanJobID: audit.Ref(jobID)})
	require.NoError(t, err)

	appendOne("step.completed")
	second, err := log.List(ctx, audit.Scope{ScanJobID: audit.Ref(jobID)})
	require.NoError(t, err)

	require.Len(t, second, 3)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	assert.Equal(t, "step.completed", second[2].Action)
}

func TestLog_RollbackDiscardsEntries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	log := audit.NewLog(db)
	planID := uuid.New()
	boom := errors.New("boom")

	err := log.Transact(context.Background(), func(tx *gorm.DB, w *audit.Writer) error {
		e := audit.Transition("tester", "plan.validated", "draft", "validated")
		e.PlanID = audit.Ref(planID)
		if err := w.Append(e); err != nil {
			return err
		}
		assert.Equal(t, 1, w.Count())
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entries, err := log.List(context.Background(), audit.Scope{PlanID: audit.Ref(planID)})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLog_EntriesAreImmutable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	log := audit.NewLog(db)
	findingID := uuid.New()

	require.NoError(t, log.Transact(context.Background(), func(tx *gorm.DB, w *audit.Writer) error {
		e := audit.Transition("tester", "finding.snoozed", "open", "snoozed")
		e.FindingID = audit.Ref(findingID)
		return w.Append(e)
	}))

	entries, err := log.List(context.Background(), audit.Scope{FindingID: audit.Ref(findingID)})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	entry.Actor = "mallory"
	assert.ErrorIs(t, db.Save(&entry).Error, models.ErrAuditImmutable)
	assert.ErrorIs(t, db.Delete(&entry).Error, models.ErrAuditImmutable)

	entries, err = log.List(context.Background(), audit.Scope{FindingID: audit.Ref(findingID)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tester", entries[0].Actor)
}

func TestLog_ScopeRequired(t *testing.T) {
	log := audit.NewLog(testutil.SetupTestDB(t))

	_, err := log.List(context.Background(), audit.Scope{})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestLog_ScopesAreANDed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	log := audit.NewLog(db)
	planID, findingA, findingB := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, log.Transact(context.Background(), func(tx *gorm.DB, w *audit.Writer) error {
		a := audit.Transition("tester", "finding.remediated", "open", "remediated")
		a.PlanID, a.FindingID = audit.Ref(planID), audit.Ref(findingA)
		b := audit.Transition("tester", "finding.remediated", "open", "remediated")
		b.PlanID, b.FindingID = audit.Ref(planID), audit.Ref(findingB)
		return w.Append(a, b)
	}))

	all, err := log.List(context.Background(), audit.Scope{PlanID: audit.Ref(planID)})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := log.List(context.Background(), audit.Scope{PlanID: audit.Ref(planID), FindingID: audit.Ref(findingB)})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, findingB, *one[0].FindingID)
}
