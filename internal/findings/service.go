// Package findings is the read side of classified findings plus the operator
// status changes (snooze, dismiss, reopen).
package findings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/database/models"
	"gorm.io/gorm"
)

// DefaultSnooze applies when Snooze is called without an end time.
const DefaultSnooze = 7 * 24 * time.Hour

const (
	defaultLimit = 50
	maxLimit     = 500
)

type SortKey string

const (
	SortSavings    SortKey = "savings"
	SortConfidence SortKey = "confidence"
	SortDetected   SortKey = "detected"
)

func ParseSort(s string) (SortKey, error) {
	switch SortKey(s) {
	case "", SortSavings:
		return SortSavings, nil
	case SortConfidence, SortDetected:
		return SortKey(s), nil
	default:
		return "", apperr.ErrInvalidInput.Withf("unknown sort %q", s)
	}
}

// Filter narrows a listing. Zero fields match everything.
type Filter struct {
	AccountID   *uuid.UUID
	ScanJobID   *uuid.UUID
	Service     string
	FindingType string
	Confidence  models.Confidence
	Status      models.FindingStatus
}

type Page struct {
	Offset int
	Limit  int
}

func (p *Page) normalize() {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
}

type Service struct {
	db     *gorm.DB
	audit  *audit.Log
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, log *audit.Log, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		audit:  log,
		logger: logger.With("component", "findings"),
		now:    time.Now,
	}
}

// List returns one page of matching findings and the total match count.
// Every ordering ends with detected_at ascending, then id, so equal keys page stably.
func (s *Service) List(ctx context.Context, filter Filter, sort SortKey, page Page) ([]models.Finding, int64, error) {
	page.normalize()

	q := s.db.WithContext(ctx).Model(&models.Finding{})
	if filter.AccountID != nil {
		q = q.Where("account_id = ?", *filter.AccountID)
	}
	if filter.ScanJobID != nil {
		q = q.Where("scan_job_id = ?", *filter.ScanJobID)
	}
	if filter.Service != "" {
		q = q.Where("service = ?", filter.Service)
	}
	if filter.FindingType != "" {
		q = q.Where("finding_type = ?", filter.FindingType)
	}
	if filter.Confidence != models.ConfidenceUnknown {
		q = q.Where("confidence = ?", filter.Confidence)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting findings: %w", err)
	}

	switch sort {
	case SortConfidence:
		q = q.Order(models.ConfidenceOrderExpr("confidence") + " DESC")
	case SortDetected:
	default:
		q = q.Order("estimated_monthly_savings DESC")
	}
	q = q.Order("detected_at ASC").Order("id ASC")

	var out []models.Finding
	if err := q.Offset(page.Offset).Limit(page.Limit).Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("listing findings: %w", err)
	}
	return out, total, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Finding, error) {
	return load(s.db.WithContext(ctx), id)
}

// Snooze hides an open finding until the given time. A zero until snoozes for DefaultSnooze.
func (s *Service) Snooze(ctx context.Context, id uuid.UUID, until time.Time, actor string) (*models.Finding, error) {
	now := s.now()
	if until.IsZero() {
		until = now.Add(DefaultSnooze)
	}
	if !until.After(now) {
		return nil, apperr.ErrInvalidInput.Withf("snooze end must be in the future")
	}
	return s.transition(ctx, id, actor, models.FindingStatusSnoozed, until.Unix(),
		fmt.Sprintf("snoozed until %s", until.UTC().Format(time.RFC3339)),
		models.FindingStatusOpen)
}

func (s *Service) Dismiss(ctx context.Context, id uuid.UUID, actor string) (*models.Finding, error) {
	return s.transition(ctx, id, actor, models.FindingStatusDismissed, 0, "",
		models.FindingStatusOpen, models.FindingStatusSnoozed)
}

func (s *Service) Reopen(ctx context.Context, id uuid.UUID, actor string) (*models.Finding, error) {
	return s.transition(ctx, id, actor, models.FindingStatusOpen, 0, "",
		models.FindingStatusSnoozed, models.FindingStatusDismissed)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, actor string, to models.FindingStatus, snoozedUntil int64, description string, from ...models.FindingStatus) (*models.Finding, error) {
	var out *models.Finding
	var prev models.FindingStatus
	err := s.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		f, err := load(tx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(f.Status, to, from); err != nil {
			return err
		}

		res := tx.Model(&models.Finding{}).
			Where("id = ? AND status = ?", id, f.Status).
			Updates(map[string]interface{}{"status": to, "snoozed_until": snoozedUntil})
		if res.Error != nil {
			return fmt.Errorf("updating finding: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return apperr.ErrInvalidFindingState.Withf("finding %s changed concurrently", id)
		}
		if err := w.Append(Entry(actor, id, f.Status, to, description)); err != nil {
			return err
		}

		prev = f.Status
		f.Status = to
		f.SnoozedUntil = snoozedUntil
		out = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("finding status changed", "finding_id", id, "from", prev, "to", to, "actor", actor)
	return out, nil
}

// ReopenExpiredSnoozes reopens every snoozed finding whose snooze ended at or before now.
func (s *Service) ReopenExpiredSnoozes(ctx context.Context, now time.Time) (int, error) {
	var reopened int
	err := s.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		var expired []models.Finding
		if err := tx.Select("id").
			Where("status = ? AND snoozed_until <= ?", models.FindingStatusSnoozed, now.Unix()).
			Order("snoozed_until ASC").Order("id ASC").
			Find(&expired).Error; err != nil {
			return fmt.Errorf("loading expired snoozes: %w", err)
		}

		for _, f := range expired {
			res := tx.Model(&models.Finding{}).
				Where("id = ? AND status = ?", f.ID, models.FindingStatusSnoozed).
				Updates(map[string]interface{}{"status": models.FindingStatusOpen, "snoozed_until": 0})
			if res.Error != nil {
				return fmt.Errorf("reopening finding %s: %w", f.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			if err := w.Append(Entry(audit.ActorSystem, f.ID, models.FindingStatusSnoozed, models.FindingStatusOpen, "snooze expired")); err != nil {
				return err
			}
			reopened++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if reopened > 0 {
		s.logger.Info("reopened expired snoozes", "count", reopened)
	}
	return reopened, nil
}

// Entry builds the audit entry of a finding status change.
func Entry(actor string, id uuid.UUID, from, to models.FindingStatus, description string) models.AuditEntry {
	e := audit.Transition(actor, "finding."+actionName(to), string(from), string(to))
	e.FindingID = audit.Ref(id)
	e.Description = description
	return e
}

func actionName(to models.FindingStatus) string {
	if to == models.FindingStatusOpen {
		return "reopened"
	}
	return string(to)
}

func checkTransition(current, to models.FindingStatus, allowed []models.FindingStatus) error {
	if current == models.FindingStatusRemediated {
		return apperr.ErrFindingAlreadyRemediated
	}
	for _, s := range allowed {
		if s == current {
			return nil
		}
	}
	return apperr.ErrInvalidFindingState.Withf("cannot move finding from %s to %s", current, to)
}

func load(db *gorm.DB, id uuid.UUID) (*models.Finding, error) {
	var f models.Finding
	if err := db.First(&f, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrFindingNotFound
		}
		return nil, fmt.Errorf("loading finding: %w", err)
	}
	return &f, nil
}
