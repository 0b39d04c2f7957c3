package classifier

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
)

// EC2 thresholds
const (
	ec2IdleCPUPercent        = 5.0
	ec2IdleHighDays          = 14
	ec2IdleMediumDays        = 7
	ec2OverProvisionedCPU    = 20.0
	ec2OverProvisionedMinAge = 14
	ec2StoppedHighDays       = 30
	ec2StoppedMediumDays     = 7
)

type EC2 struct{}

func (EC2) Service() string { return models.ServiceEC2 }

func (EC2) Classify(accountID uuid.UUID, d cloud.ResourceDescriptor) (*models.Finding, bool) {
	switch d.State {
	case "running":
		return classifyRunningInstance(accountID, d)
	case "stopped":
		return classifyStoppedInstance(accountID, d)
	default:
		return nil, false
	}
}

func classifyRunningInstance(accountID uuid.UUID, d cloud.ResourceDescriptor) (*models.Finding, bool) {
	monthly := ec2Hourly(d.ResourceType)*HoursPerMonth + d.StorageGB*ebsGBMonth

	if d.AvgCPUPercent < ec2IdleCPUPercent {
		var conf models.Confidence
		switch {
		case d.IdleDays > ec2IdleHighDays:
			conf = models.ConfidenceHigh
		case d.IdleDays >= ec2IdleMediumDays:
			conf = models.ConfidenceMedium
		default:
			return nil, false
		}
		return newFinding(accountID, d, verdict{
			findingType: models.FindingIdleInstance,
			title:       fmt.Sprintf("Idle instance %s", describe(d)),
			confidence:  conf,
			current:     monthly,
			evidence: map[string]interface{}{
				"avg_cpu_percent": d.AvgCPUPercent,
				"idle_days":       d.IdleDays,
				"instance_type":   d.ResourceType,
			},
		}), true
	}

	if d.AvgCPUPercent < ec2OverProvisionedCPU && daysSince(d.LaunchedAt, d.ObservedAt) >= ec2OverProvisionedMinAge {
		smaller := smallerInstanceType(d.ResourceType)
		if smaller == "" {
			return nil, false
		}
		return newFinding(accountID, d, verdict{
			findingType: models.FindingOverProvisioned,
			title:       fmt.Sprintf("Over-provisioned instance %s", describe(d)),
			confidence:  models.ConfidenceLow,
			current:     ec2Hourly(d.ResourceType) * HoursPerMonth,
			after:       ec2Hourly(smaller) * HoursPerMonth,
			evidence: map[string]interface{}{
				"avg_cpu_percent": d.AvgCPUPercent,
				"instance_type":   d.ResourceType,
				"suggested_type":  smaller,
			},
		}), true
	}

	return nil, false
}

func classifyStoppedInstance(accountID uuid.UUID, d cloud.ResourceDescriptor) (*models.Finding, bool) {
	stoppedDays := daysSince(d.StateChangedAt, d.ObservedAt)

	var conf models.Confidence
	switch {
	case stoppedDays > ec2StoppedHighDays:
		conf = models.ConfidenceHigh
	case stoppedDays >= ec2StoppedMediumDays:
		conf = models.ConfidenceMedium
	default:
		return nil, false
	}

	// A stopped instance only bills for its volumes.
	return newFinding(accountID, d, verdict{
		findingType: models.FindingStoppedInstance,
		title:       fmt.Sprintf("Stopped instance %s", describe(d)),
		confidence:  conf,
		current:     d.StorageGB * ebsGBMonth,
		evidence: map[string]interface{}{
			"stopped_days":  stoppedDays,
			"storage_gb":    d.StorageGB,
			"instance_type": d.ResourceType,
		},
	}), true
}
