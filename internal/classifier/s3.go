package classifier

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
)

const (
	s3UnusedHighDays       = 90
	s3UnusedMediumDays     = 30
	s3OrphanedMinAgeDays   = 7
	s3LifecycleThresholdGB = 100
)

type S3 struct{}

func (S3) Service() string { return models.ServiceS3 }

func (S3) Classify(accountID uuid.UUID, d cloud.ResourceDescriptor) (*models.Finding, bool) {
	rate := s3Rate(d.Region)
	age := daysSince(d.LaunchedAt, d.ObservedAt)

	if d.ObjectCount == 0 {
		if age <= s3OrphanedMinAgeDays {
			return nil, false
		}
		return newFinding(accountID, d, verdict{
			findingType: models.FindingOrphanedBucket,
			title:       fmt.Sprintf("Empty bucket %s", d.ResourceID),
			confidence:  models.ConfidenceHigh,
			evidence: map[string]interface{}{
				"age_days":     age,
				"object_count": 0,
			},
		}), true
	}

	monthly := d.StorageGB * rate
	inactive := daysSince(d.LastActivityAt, d.ObservedAt)
	if d.LastActivityAt.IsZero() {
		inactive = age
	}

	switch {
	case inactive > s3UnusedHighDays:
		return unusedBucket(accountID, d, models.ConfidenceHigh, monthly, inactive), true
	case inactive > s3UnusedMediumDays:
		return unusedBucket(accountID, d, models.ConfidenceMedium, monthly, inactive), true
	}

	if d.StorageGB > s3LifecycleThresholdGB && !d.HasLifecyclePolicy {
		return newFinding(accountID, d, verdict{
			findingType: models.FindingLifecyclePolicyMissing,
			title:       fmt.Sprintf("No lifecycle policy on %s", d.ResourceID),
			confidence:  models.ConfidenceLow,
			current:     monthly,
			after:       d.StorageGB * s3InfrequentRate,
			evidence: map[string]interface{}{
				"storage_gb": d.StorageGB,
			},
		}), true
	}

	return nil, false
}

func unusedBucket(accountID uuid.UUID, d cloud.ResourceDescriptor, conf models.Confidence, monthly float64, inactive int) *models.Finding {
	return newFinding(accountID, d, verdict{
		findingType: models.FindingUnusedBucket,
		title:       fmt.Sprintf("Unused bucket %s", d.ResourceID),
		confidence:  conf,
		current:     monthly,
		evidence: map[string]interface{}{
			"inactive_days": inactive,
			"object_count":  d.ObjectCount,
			"storage_gb":    d.StorageGB,
		},
	})
}
