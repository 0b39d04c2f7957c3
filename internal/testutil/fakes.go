package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
	"gorm.io/gorm"
)

// FakeInspector returns canned descriptors per region.
type FakeInspector struct {
	service string

	mu      sync.Mutex
	results map[string][]cloud.ResourceDescriptor
	errs    map[string]error
	delays  map[string]time.Duration
	calls   map[string]int

	// Started receives the region of every call when non-nil. Sends never block.
	Started chan string
}

func NewFakeInspector(service string) *FakeInspector {
	return &FakeInspector{
		service: service,
		results: make(map[string][]cloud.ResourceDescriptor),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
		calls:   make(map[string]int),
	}
}

func (f *FakeInspector) WithResources(region string, ds ...cloud.ResourceDescriptor) *FakeInspector {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[region] = append(f.results[region], ds...)
	return f
}

// ReplaceResources swaps the descriptors returned for region.
func (f *FakeInspector) ReplaceResources(region string, ds ...cloud.ResourceDescriptor) *FakeInspector {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[region] = append([]cloud.ResourceDescriptor(nil), ds...)
	return f
}

func (f *FakeInspector) WithError(region string, err error) *FakeInspector {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[region] = err
	return f
}

// WithDelay makes calls for region wait d or until the context ends.
func (f *FakeInspector) WithDelay(region string, d time.Duration) *FakeInspector {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[region] = d
	return f
}

func (f *FakeInspector) Service() string {
	return f.service
}

func (f *FakeInspector) Inspect(ctx context.Context, account cloud.Account, region string) ([]cloud.ResourceDescriptor, error) {
	f.mu.Lock()
	f.calls[region]++
	delay := f.delays[region]
	err := f.errs[region]
	out := append([]cloud.ResourceDescriptor(nil), f.results[region]...)
	f.mu.Unlock()

	if f.Started != nil {
		select {
		case f.Started <- region:
		default:
		}
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *FakeInspector) Calls(region string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[region]
}

// FakeExecutor records the targets it simulated and executed.
type FakeExecutor struct {
	service string
	kind    models.ActionKind

	mu          sync.Mutex
	simulateErr map[string]error
	executeErr  map[string]error
	simulated   []string
	executed    []string

	// OnExecute runs before each execution when non-nil.
	OnExecute func(resourceID string)
}

func NewFakeExecutor(service string, kind models.ActionKind) *FakeExecutor {
	return &FakeExecutor{
		service:     service,
		kind:        kind,
		simulateErr: make(map[string]error),
		executeErr:  make(map[string]error),
	}
}

func (f *FakeExecutor) FailSimulate(resourceID string, err error) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulateErr[resourceID] = err
	return f
}

func (f *FakeExecutor) FailExecute(resourceID string, err error) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executeErr[resourceID] = err
	return f
}

func (f *FakeExecutor) Service() string {
	return f.service
}

func (f *FakeExecutor) Kind() models.ActionKind {
	return f.kind
}

func (f *FakeExecutor) Simulate(ctx context.Context, account cloud.Account, target cloud.Target) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated = append(f.simulated, target.ResourceID)
	if err := f.simulateErr[target.ResourceID]; err != nil {
		return "", err
	}
	return fmt.Sprintf("would %s %s in %s", f.kind, target.ResourceID, target.Region), nil
}

func (f *FakeExecutor) Execute(ctx context.Context, account cloud.Account, target cloud.Target) (string, error) {
	if f.OnExecute != nil {
		f.OnExecute(target.ResourceID)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.executeErr[target.ResourceID]; err != nil {
		return "", err
	}
	f.executed = append(f.executed, target.ResourceID)
	return fmt.Sprintf("%s %s", f.kind, target.ResourceID), nil
}

func (f *FakeExecutor) Simulated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.simulated...)
}

func (f *FakeExecutor) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// DBResolver resolves accounts straight from the table without opening secrets.
type DBResolver struct {
	DB *gorm.DB
}

func (r DBResolver) Resolve(ctx context.Context, id uuid.UUID) (cloud.Account, error) {
	var a models.CloudAccount
	if err := r.DB.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cloud.Account{}, apperr.ErrAccountNotFound
		}
		return cloud.Account{}, err
	}
	return cloud.Account{
		ID:        a.ID,
		AccountID: a.AccountID,
		RoleARN:   a.RoleARN,
		Regions:   a.AuthorizedRegions,
	}, nil
}
