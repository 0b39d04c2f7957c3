// Package audit is the append-only record of every scan, finding and plan transition.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/database/models"
	"gorm.io/gorm"
)

// Actors used for transitions nobody clicked on.
const (
	ActorSystem    = "system"
	ActorScheduler = "scheduler"
)

// Log serializes audited transactions in this process. Timestamps are
// assigned and committed under one lock, so a reader never sees an entry
// appear before one that is already visible for the same scope.
type Log struct {
	db   *gorm.DB
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewLog(db *gorm.DB) *Log {
	return &Log{db: db, now: time.Now}
}

// Writer appends entries inside a Transact callback.
type Writer struct {
	tx  *gorm.DB
	log *Log
	n   int
}

// Transact runs fn in a database transaction. State changes made through tx
// and entries appended through w commit or roll back together. fn must not
// use any handle other than tx.
func (l *Log) Transact(ctx context.Context, fn func(tx *gorm.DB, w *Writer) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, &Writer{tx: tx, log: l})
	})
}

// Append stamps and inserts entries in order.
func (w *Writer) Append(entries ...models.AuditEntry) error {
	for i := range entries {
		e := entries[i]
		e.ID = uuid.Nil
		e.Timestamp = w.log.next()
		if err := w.tx.Create(&e).Error; err != nil {
			return fmt.Errorf("appending audit entry %s: %w", e.Action, err)
		}
		w.n++
	}
	return nil
}

// Count returns how many entries this writer appended.
func (w *Writer) Count() int {
	return w.n
}

// next must be called with l.mu held.
func (l *Log) next() int64 {
	ts := l.now().UTC().UnixMicro()
	if ts <= l.last {
		ts = l.last + 1
	}
	l.last = ts
	return ts
}

// Scope selects entries by the object they concern. Set fields are ANDed.
type Scope struct {
	ScanJobID *uuid.UUID
	PlanID    *uuid.UUID
	FindingID *uuid.UUID
}

func (s Scope) empty() bool {
	return s.ScanJobID == nil && s.PlanID == nil && s.FindingID == nil
}

// List returns the entries of a scope ordered by timestamp, then id.
func (l *Log) List(ctx context.Context, scope Scope) ([]models.AuditEntry, error) {
	if scope.empty() {
		return nil, apperr.ErrInvalidInput.Withf("audit scope requires a scan, plan or finding id")
	}

	q := l.db.WithContext(ctx).Model(&models.AuditEntry{})
	if scope.ScanJobID != nil {
		q = q.Where("scan_job_id = ?", *scope.ScanJobID)
	}
	if scope.PlanID != nil {
		q = q.Where("plan_id = ?", *scope.PlanID)
	}
	if scope.FindingID != nil {
		q = q.Where("finding_id = ?", *scope.FindingID)
	}

	var entries []models.AuditEntry
	if err := q.Order("timestamp ASC, id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	return entries, nil
}

// Transition builds an entry for a status change.
func Transition(actor, action, from, to string) models.AuditEntry {
	return models.AuditEntry{Actor: actor, Action: action, FromStatus: from, ToStatus: to}
}

// Ref returns a pointer to a copy of id for the optional scope columns.
func Ref(id uuid.UUID) *uuid.UUID {
	return &id
}
