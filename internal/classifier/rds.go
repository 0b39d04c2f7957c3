package classifier

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
)

// ResourceTypeManualSnapshot marks RDS snapshot descriptors.
const ResourceTypeManualSnapshot = "snapshot:manual"

const (
	rdsUnusedHighDays     = 14
	rdsUnusedMediumDays   = 7
	rdsSnapshotMinAgeDays = 30
)

type RDS struct{}

func (RDS) Service() string { return models.ServiceRDS }

func (RDS) Classify(accountID uuid.UUID, d cloud.ResourceDescriptor) (*models.Finding, bool) {
	if d.ResourceType == ResourceTypeManualSnapshot {
		return classifySnapshot(accountID, d)
	}
	if d.State != "available" || d.Connections > 0 {
		return nil, false
	}

	var conf models.Confidence
	switch {
	case d.IdleDays > rdsUnusedHighDays:
		conf = models.ConfidenceHigh
	case d.IdleDays >= rdsUnusedMediumDays:
		conf = models.ConfidenceMedium
	default:
		return nil, false
	}

	return newFinding(accountID, d, verdict{
		findingType: models.FindingUnusedDatabase,
		title:       fmt.Sprintf("Unused database %s", d.ResourceID),
		confidence:  conf,
		current:     rdsHourly(d.ResourceType)*HoursPerMonth + d.StorageGB*rdsStorageGBMonth,
		evidence: map[string]interface{}{
			"idle_days":      d.IdleDays,
			"instance_class": d.ResourceType,
			"storage_gb":     d.StorageGB,
		},
	}), true
}

func classifySnapshot(accountID uuid.UUID, d cloud.ResourceDescriptor) (*models.Finding, bool) {
	age := daysSince(d.LaunchedAt, d.ObservedAt)
	if d.SourceExists || age <= rdsSnapshotMinAgeDays {
		return nil, false
	}

	return newFinding(accountID, d, verdict{
		findingType: models.FindingUnusedSnapshot,
		title:       fmt.Sprintf("Orphaned snapshot %s", d.ResourceID),
		confidence:  models.ConfidenceMedium,
		current:     d.StorageGB * rdsSnapshotGBMonth,
		evidence: map[string]interface{}{
			"age_days":   age,
			"storage_gb": d.StorageGB,
		},
	}), true
}
