package classifier

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	observed  = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	accountID = uuid.MustParse("11111111-2222-3333-4444-555555555555")
)

func daysAgo(n int) time.Time {
	return observed.Add(-time.Duration(n) * 24 * time.Hour)
}

func runningInstance(idleDays int, cpu float64) cloud.ResourceDescriptor {
	return cloud.ResourceDescriptor{
		ResourceID:    "i-0abc",
		Service:       models.ServiceEC2,
		Region:        "us-east-1",
		ResourceType:  "t3.medium",
		State:         "running",
		LaunchedAt:    daysAgo(120),
		IdleDays:      idleDays,
		AvgCPUPercent: cpu,
		ObservedAt:    observed,
	}
}

func TestEC2_IdleConfidence(t *testing.T) {
	tests := []struct {
		name     string
		idleDays int
		cpu      float64
		want     models.Confidence
		found    bool
	}{
		{"idle over two weeks", 15, 2.0, models.ConfidenceHigh, true},
		{"idle exactly two weeks", 14, 2.0, models.ConfidenceMedium, true},
		{"idle one week", 7, 4.9, models.ConfidenceMedium, true},
		{"idle under a week", 6, 1.0, 0, false},
		{"busy", 30, 60.0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := EC2{}.Classify(accountID, runningInstance(tt.idleDays, tt.cpu))
			require.Equal(t, tt.found, ok)
			if !ok {
				return
			}
			assert.Equal(t, models.FindingIdleInstance, f.FindingType)
			assert.Equal(t, tt.want, f.Confidence)
			assert.Equal(t, models.FindingStatusOpen, f.Status)
		})
	}
}

func TestEC2_IdleSavingsFromListPrice(t *testing.T) {
	f, ok := EC2{}.Classify(accountID, runningInstance(20, 1.0))
	require.True(t, ok)

	// t3.medium 0.0416/h * 730h
	assert.Equal(t, 30.37, f.EstimatedMonthlySavings)
	assert.Equal(t, f.CurrentMonthlyCost, f.EstimatedMonthlySavings)
	assert.Equal(t, observed.Unix(), f.DetectedAt)
}

func TestEC2_OverProvisioned(t *testing.T) {
	d := runningInstance(0, 12.0)
	d.ResourceType = "m5.xlarge"

	f, ok := EC2{}.Classify(accountID, d)
	require.True(t, ok)
	assert.Equal(t, models.FindingOverProvisioned, f.FindingType)
	assert.Equal(t, models.ConfidenceLow, f.Confidence)
	// (0.192 - 0.096) * 730
	assert.Equal(t, 70.08, f.EstimatedMonthlySavings)
	assert.Contains(t, f.Evidence, `"suggested_type":"m5.large"`)
}

func TestEC2_OverProvisionedNeedsSmallerSize(t *testing.T) {
	d := runningInstance(0, 12.0)
	d.ResourceType = "t3.micro"
	_, ok := EC2{}.Classify(accountID, d)
	assert.False(t, ok)
}

func TestEC2_Stopped(t *testing.T) {
	d := cloud.ResourceDescriptor{
		ResourceID:     "i-stopped",
		Service:        models.ServiceEC2,
		Region:         "us-west-2",
		ResourceType:   "m5.large",
		State:          "stopped",
		StateChangedAt: daysAgo(45),
		StorageGB:      100,
		ObservedAt:     observed,
	}

	f, ok := EC2{}.Classify(accountID, d)
	require.True(t, ok)
	assert.Equal(t, models.FindingStoppedInstance, f.FindingType)
	assert.Equal(t, models.ConfidenceHigh, f.Confidence)
	assert.Equal(t, 8.0, f.EstimatedMonthlySavings)

	d.StateChangedAt = daysAgo(10)
	f, ok = EC2{}.Classify(accountID, d)
	require.True(t, ok)
	assert.Equal(t, models.ConfidenceMedium, f.Confidence)

	d.StateChangedAt = daysAgo(2)
	_, ok = EC2{}.Classify(accountID, d)
	assert.False(t, ok)
}

func TestS3_Classification(t *testing.T) {
	base := cloud.ResourceDescriptor{
		ResourceID: "logs-archive",
		Service:    models.ServiceS3,
		Region:     "us-east-1",
		LaunchedAt: daysAgo(400),
		ObservedAt: observed,
	}

	t.Run("empty bucket is orphaned", func(t *testing.T) {
		f, ok := S3{}.Classify(accountID, base)
		require.True(t, ok)
		assert.Equal(t, models.FindingOrphanedBucket, f.FindingType)
		assert.Equal(t, models.ConfidenceHigh, f.Confidence)
		assert.Equal(t, 0.0, f.EstimatedMonthlySavings)
	})

	t.Run("new empty bucket is ignored", func(t *testing.T) {
		d := base
		d.LaunchedAt = daysAgo(3)
		_, ok := S3{}.Classify(accountID, d)
		assert.False(t, ok)
	})

	t.Run("untouched for months", func(t *testing.T) {
		d := base
		d.ObjectCount = 1200
		d.StorageGB = 500
		d.LastActivityAt = daysAgo(120)
		f, ok := S3{}.Classify(accountID, d)
		require.True(t, ok)
		assert.Equal(t, models.FindingUnusedBucket, f.FindingType)
		assert.Equal(t, models.ConfidenceHigh, f.Confidence)
		assert.Equal(t, 11.5, f.EstimatedMonthlySavings)
	})

	t.Run("untouched for weeks", func(t *testing.T) {
		d := base
		d.ObjectCount = 10
		d.StorageGB = 1
		d.LastActivityAt = daysAgo(45)
		f, ok := S3{}.Classify(accountID, d)
		require.True(t, ok)
		assert.Equal(t, models.ConfidenceMedium, f.Confidence)
	})

	t.Run("large active bucket without lifecycle", func(t *testing.T) {
		d := base
		d.ObjectCount = 10
		d.StorageGB = 1000
		d.LastActivityAt = daysAgo(1)
		f, ok := S3{}.Classify(accountID, d)
		require.True(t, ok)
		assert.Equal(t, models.FindingLifecyclePolicyMissing, f.FindingType)
		assert.Equal(t, models.ConfidenceLow, f.Confidence)
		// (0.023 - 0.0125) * 1000
		assert.Equal(t, 10.5, f.EstimatedMonthlySavings)

		d.HasLifecyclePolicy = true
		_, ok = S3{}.Classify(accountID, d)
		assert.False(t, ok)
	})
}

func TestRDS_Classification(t *testing.T) {
	db := cloud.ResourceDescriptor{
		ResourceID:   "orders-staging",
		Service:      models.ServiceRDS,
		Region:       "us-west-2",
		ResourceType: "db.t3.micro",
		State:        "available",
		IdleDays:     20,
		StorageGB:    20,
		ObservedAt:   observed,
	}

	f, ok := RDS{}.Classify(accountID, db)
	require.True(t, ok)
	assert.Equal(t, models.FindingUnusedDatabase, f.FindingType)
	assert.Equal(t, models.ConfidenceHigh, f.Confidence)
	// 0.017*730 + 20*0.115
	assert.Equal(t, 14.71, f.EstimatedMonthlySavings)

	db.Connections = 3
	_, ok = RDS{}.Classify(accountID, db)
	assert.False(t, ok)

	snap := cloud.ResourceDescriptor{
		ResourceID:   "orders-final-2023",
		Service:      models.ServiceRDS,
		Region:       "us-west-2",
		ResourceType: ResourceTypeManualSnapshot,
		LaunchedAt:   daysAgo(90),
		StorageGB:    100,
		ObservedAt:   observed,
	}
	f, ok = RDS{}.Classify(accountID, snap)
	require.True(t, ok)
	assert.Equal(t, models.FindingUnusedSnapshot, f.FindingType)
	assert.Equal(t, 9.5, f.EstimatedMonthlySavings)

	snap.SourceExists = true
	_, ok = RDS{}.Classify(accountID, snap)
	assert.False(t, ok)
}

func TestELB_Idle(t *testing.T) {
	d := cloud.ResourceDescriptor{
		ResourceID:   "arn:aws:elasticloadbalancing:us-east-1:123456789012:loadbalancer/app/old/abc",
		Service:      models.ServiceELB,
		Region:       "us-east-1",
		ResourceType: "application",
		LaunchedAt:   daysAgo(30),
		ObservedAt:   observed,
	}

	f, ok := ELB{}.Classify(accountID, d)
	require.True(t, ok)
	assert.Equal(t, models.FindingIdleLoadBalancer, f.FindingType)
	assert.InDelta(t, 16.43, f.EstimatedMonthlySavings, 0.011)

	d.AttachedTargets = 2
	_, ok = ELB{}.Classify(accountID, d)
	assert.False(t, ok)
}

func TestClassify_Deterministic(t *testing.T) {
	reg := Default()
	d := runningInstance(20, 1.0)

	first, ok := reg.Classify(accountID, models.ServiceEC2, d)
	require.True(t, ok)
	second, ok := reg.Classify(accountID, models.ServiceEC2, d)
	require.True(t, ok)

	assert.Equal(t, *first, *second)

	// A later observation of the same resource is the same finding.
	d.ObservedAt = observed.Add(time.Hour)
	third, ok := reg.Classify(accountID, models.ServiceEC2, d)
	require.True(t, ok)
	assert.Equal(t, first.ID, third.ID)

	d.ResourceID = "i-other"
	fourth, ok := reg.Classify(accountID, models.ServiceEC2, d)
	require.True(t, ok)
	assert.NotEqual(t, first.ID, fourth.ID)
}

func TestRegistry_UnknownService(t *testing.T) {
	_, ok := Default().Classify(accountID, "lambda", cloud.ResourceDescriptor{ObservedAt: observed})
	assert.False(t, ok)
}

func TestClassifyAll_KeepsOrder(t *testing.T) {
	ds := []cloud.ResourceDescriptor{
		runningInstance(20, 1.0),
		runningInstance(0, 80.0),
		runningInstance(10, 1.0),
	}
	ds[2].ResourceID = "i-0def"

	findings := Default().ClassifyAll(accountID, models.ServiceEC2, ds)
	require.Len(t, findings, 2)
	assert.Equal(t, "i-0abc", findings[0].ResourceID)
	assert.Equal(t, "i-0def", findings[1].ResourceID)
}

func TestSmallerInstanceType(t *testing.T) {
	assert.Equal(t, "m5.large", smallerInstanceType("m5.xlarge"))
	assert.Equal(t, "t3.small", smallerInstanceType("t3.medium"))
	assert.Equal(t, "", smallerInstanceType("t3.micro"))
	assert.Equal(t, "", smallerInstanceType("weird"))
}
