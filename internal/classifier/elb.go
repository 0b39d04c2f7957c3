package classifier

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
)

const elbIdleMinAgeDays = 7

type ELB struct{}

func (ELB) Service() string { return models.ServiceELB }

func (ELB) Classify(accountID uuid.UUID, d cloud.ResourceDescriptor) (*models.Finding, bool) {
	age := daysSince(d.LaunchedAt, d.ObservedAt)
	if d.AttachedTargets > 0 || age <= elbIdleMinAgeDays {
		return nil, false
	}

	return newFinding(accountID, d, verdict{
		findingType: models.FindingIdleLoadBalancer,
		title:       fmt.Sprintf("Load balancer %s has no targets", describe(d)),
		confidence:  models.ConfidenceHigh,
		current:     loadBalancerHourly(d.ResourceType) * HoursPerMonth,
		evidence: map[string]interface{}{
			"age_days": age,
			"type":     d.ResourceType,
		},
	}), true
}
