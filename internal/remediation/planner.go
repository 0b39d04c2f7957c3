package remediation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/database/models"
	"gorm.io/gorm"
)

// actionFor maps finding types to the action that remediates them.
var actionFor = map[string]models.ActionKind{
	models.FindingIdleInstance:     models.ActionTerminate,
	models.FindingStoppedInstance:  models.ActionTerminate,
	models.FindingUnusedBucket:     models.ActionDelete,
	models.FindingOrphanedBucket:   models.ActionDelete,
	models.FindingUnusedDatabase:   models.ActionDelete,
	models.FindingUnusedSnapshot:   models.ActionDeleteSnapshot,
	models.FindingIdleLoadBalancer: models.ActionDelete,
}

// ActionFor reports the action kind for a finding type.
func ActionFor(findingType string) (models.ActionKind, bool) {
	k, ok := actionFor[findingType]
	return k, ok
}

// CreatePlan builds a draft plan with one action per selected finding.
// Duplicate ids are dropped, keeping the first occurrence.
func (e *Engine) CreatePlan(ctx context.Context, findingIDs []uuid.UUID, dryRun bool, actor string) (*models.RemediationPlan, error) {
	ids := dedupe(findingIDs)
	if len(ids) == 0 {
		return nil, apperr.ErrEmptySelection
	}

	var found []models.Finding
	if err := e.db.WithContext(ctx).Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, fmt.Errorf("loading findings: %w", err)
	}
	byID := make(map[uuid.UUID]*models.Finding, len(found))
	for i := range found {
		byID[found[i].ID] = &found[i]
	}

	actions := make([]models.RemediationAction, 0, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok {
			return nil, apperr.ErrFindingNotFound.Withf("%s", id)
		}
		if f.Status == models.FindingStatusRemediated {
			return nil, apperr.ErrFindingAlreadyRemediated.Withf("%s", id)
		}
		kind, ok := ActionFor(f.FindingType)
		if !ok {
			return nil, apperr.ErrNoRemediationMapping.Withf("%s (%s)", f.FindingType, id)
		}
		if _, ok := e.registry.Executor(f.Service, kind); !ok {
			return nil, apperr.ErrNoRemediationMapping.Withf("no %s executor for %s", kind, f.Service)
		}
		actions = append(actions, models.RemediationAction{
			FindingID:        f.ID,
			AccountID:        f.AccountID,
			Kind:             kind,
			Service:          f.Service,
			Region:           f.Region,
			TargetResourceID: f.ResourceID,
			Status:           models.ActionStatusPending,
		})
	}

	plan := &models.RemediationPlan{
		FindingIDs: ids,
		DryRun:     dryRun,
		Status:     models.PlanStatusDraft,
		CreatedBy:  actor,
		Actions:    order(actions),
	}
	for i := range plan.Actions {
		plan.Actions[i].Position = i
	}

	err := e.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		if err := tx.Create(plan).Error; err != nil {
			return fmt.Errorf("creating plan: %w", err)
		}
		entry := audit.Transition(actor, "plan.created", "", string(models.PlanStatusDraft))
		entry.PlanID = audit.Ref(plan.ID)
		entry.Description = fmt.Sprintf("%d actions, dry run %t", len(plan.Actions), dryRun)
		return w.Append(entry)
	})
	if err != nil {
		return nil, err
	}

	e.metrics.PlanTransition(string(models.PlanStatusDraft))
	e.logger.Info("plan created", "plan_id", plan.ID, "actions", len(plan.Actions), "dry_run", dryRun, "actor", actor)
	return plan, nil
}

// order keeps selection order but moves each snapshot deletion ahead of the
// first other action in its region.
func order(actions []models.RemediationAction) []models.RemediationAction {
	out := make([]models.RemediationAction, 0, len(actions))
	for _, a := range actions {
		at := len(out)
		if a.Kind == models.ActionDeleteSnapshot {
			for i, b := range out {
				if b.Region == a.Region && b.Kind != models.ActionDeleteSnapshot {
					at = i
					break
				}
			}
		}
		out = append(out, models.RemediationAction{})
		copy(out[at+1:], out[at:])
		out[at] = a
	}
	return out
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
