// Package classifier turns resource descriptors into cost findings.
// Classification is a pure function of its input: the same descriptor for the
// same account always yields the same finding, id included.
package classifier

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
)

var findingNamespace = uuid.MustParse("6f0f6a55-2d0b-4c8e-9a57-6b2f3e1c9d41")

// Classifier handles one service.
type Classifier interface {
	Service() string
	Classify(accountID uuid.UUID, d cloud.ResourceDescriptor) (*models.Finding, bool)
}

// Registry dispatches descriptors to the classifier of their service.
type Registry struct {
	mu          sync.RWMutex
	classifiers map[string]Classifier
}

func NewRegistry(classifiers ...Classifier) *Registry {
	r := &Registry{classifiers: make(map[string]Classifier)}
	for _, c := range classifiers {
		r.Register(c)
	}
	return r
}

// Default returns a registry with every built-in classifier.
func Default() *Registry {
	return NewRegistry(EC2{}, S3{}, RDS{}, ELB{})
}

func (r *Registry) Register(c Classifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[c.Service()] = c
}

// Classify returns no finding when the service is unknown or the resource
// shows no optimization signal.
func (r *Registry) Classify(accountID uuid.UUID, service string, d cloud.ResourceDescriptor) (*models.Finding, bool) {
	r.mu.RLock()
	c, ok := r.classifiers[service]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if d.Service == "" {
		d.Service = service
	}
	return c.Classify(accountID, d)
}

// ClassifyAll classifies a batch, keeping input order.
func (r *Registry) ClassifyAll(accountID uuid.UUID, service string, ds []cloud.ResourceDescriptor) []models.Finding {
	var out []models.Finding
	for _, d := range ds {
		if f, ok := r.Classify(accountID, service, d); ok {
			out = append(out, *f)
		}
	}
	return out
}

// FindingID derives the id of a finding from the resource and the finding type.
// Every scan of the same resource yields the same id.
func FindingID(accountID uuid.UUID, d cloud.ResourceDescriptor, findingType string) uuid.UUID {
	key := strings.Join([]string{
		accountID.String(),
		d.Service,
		d.Region,
		d.ResourceID,
		findingType,
	}, "|")
	return uuid.NewSHA1(findingNamespace, []byte(key))
}

type verdict struct {
	findingType string
	title       string
	confidence  models.Confidence
	current     float64
	after       float64
	evidence    map[string]interface{}
}

func newFinding(accountID uuid.UUID, d cloud.ResourceDescriptor, v verdict) *models.Finding {
	evidence := ""
	if len(v.evidence) > 0 {
		// map keys marshal sorted, so the text is stable
		if b, err := json.Marshal(v.evidence); err == nil {
			evidence = string(b)
		}
	}

	return &models.Finding{
		ID:                      FindingID(accountID, d, v.findingType),
		AccountID:               accountID,
		ResourceID:              d.ResourceID,
		ResourceType:            d.ResourceType,
		Service:                 d.Service,
		Region:                  d.Region,
		FindingType:             v.findingType,
		Title:                   v.title,
		Confidence:              v.confidence,
		CurrentMonthlyCost:      cents(v.current),
		EstimatedMonthlySavings: cents(v.current - v.after),
		DetectedAt:              d.ObservedAt.UTC().Unix(),
		Status:                  models.FindingStatusOpen,
		Evidence:                evidence,
	}
}

// daysSince counts whole days between t and the observation. Zero t counts as no days.
func daysSince(t, observed time.Time) int {
	if t.IsZero() || observed.Before(t) {
		return 0
	}
	return int(observed.Sub(t) / (24 * time.Hour))
}

func describe(d cloud.ResourceDescriptor) string {
	if name := d.Tags["Name"]; name != "" {
		return fmt.Sprintf("%s (%s)", d.ResourceID, name)
	}
	return d.ResourceID
}
