package aws

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/hugh/go-reclaim/internal/classifier"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
)

// RDSInspector reports DB instances with their connection history and
// manual snapshots with whether their source instance still exists.
type RDSInspector struct {
	clients Clients
	logger  *slog.Logger
	now     func() time.Time
}

func NewRDSInspector(clients Clients, logger *slog.Logger) *RDSInspector {
	return &RDSInspector{clients: clients, logger: logger.With("component", "rds_inspector"), now: time.Now}
}

func (i *RDSInspector) Service() string { return models.ServiceRDS }

func (i *RDSInspector) Inspect(ctx context.Context, account cloud.Account, region string) ([]cloud.ResourceDescriptor, error) {
	client, err := i.clients.RDS(ctx, account, region)
	if err != nil {
		return nil, err
	}
	cw, err := i.clients.CloudWatch(ctx, account, region)
	if err != nil {
		return nil, err
	}
	now := i.now().UTC().Truncate(time.Second)

	var out []cloud.ResourceDescriptor
	instances := make(map[string]bool)

	paginator := rds.NewDescribeDBInstancesPaginator(client, &rds.DescribeDBInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing DB instances: %w", err)
		}

		for _, db := range page.DBInstances {
			id := aws.ToString(db.DBInstanceIdentifier)
			instances[id] = true

			d := cloud.ResourceDescriptor{
				ResourceID:   id,
				Service:      models.ServiceRDS,
				Region:       region,
				ResourceType: aws.ToString(db.DBInstanceClass),
				State:        aws.ToString(db.DBInstanceStatus),
				Tags:         rdsTags(db.TagList),
				LaunchedAt:   aws.ToTime(db.InstanceCreateTime),
				StorageGB:    float64(aws.ToInt32(db.AllocatedStorage)),
				ObservedAt:   now,
			}

			if d.State == "available" {
				conns, err := dailyValues(ctx, cw, metricQuery{
					namespace: "AWS/RDS",
					metric:    "DatabaseConnections",
					dimension: "DBInstanceIdentifier",
					value:     id,
					stat:      cwtypes.StatisticMaximum,
				}, now)
				if err != nil {
					return nil, err
				}
				d.IdleDays, _ = trailing(conns, func(v float64) bool { return v == 0 })
				if len(conns) > 0 {
					d.Connections = conns[len(conns)-1]
				}
			}

			out = append(out, d)
		}
	}

	snapshots := rds.NewDescribeDBSnapshotsPaginator(client, &rds.DescribeDBSnapshotsInput{
		SnapshotType: aws.String("manual"),
	})
	for snapshots.HasMorePages() {
		page, err := snapshots.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing DB snapshots: %w", err)
		}
		for _, snap := range page.DBSnapshots {
			out = append(out, cloud.ResourceDescriptor{
				ResourceID:   aws.ToString(snap.DBSnapshotIdentifier),
				Service:      models.ServiceRDS,
				Region:       region,
				ResourceType: classifier.ResourceTypeManualSnapshot,
				State:        aws.ToString(snap.Status),
				Tags:         map[string]string{"source": aws.ToString(snap.DBInstanceIdentifier)},
				LaunchedAt:   aws.ToTime(snap.SnapshotCreateTime),
				StorageGB:    float64(aws.ToInt32(snap.AllocatedStorage)),
				SourceExists: instances[aws.ToString(snap.DBInstanceIdentifier)],
				ObservedAt:   now,
			})
		}
	}

	i.logger.Debug("inspected databases", "account_id", account.AccountID, "region", region, "count", len(out))
	return out, nil
}

func rdsTags(tags []rdstypes.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

// RDSInstanceDeleter deletes a DB instance, always keeping a final snapshot.
type RDSInstanceDeleter struct {
	clients Clients
	now     func() time.Time
}

func NewRDSInstanceDeleter(clients Clients) *RDSInstanceDeleter {
	return &RDSInstanceDeleter{clients: clients, now: time.Now}
}

func (e *RDSInstanceDeleter) Service() string         { return models.ServiceRDS }
func (e *RDSInstanceDeleter) Kind() models.ActionKind { return models.ActionDelete }

func (e *RDSInstanceDeleter) Simulate(ctx context.Context, account cloud.Account, target cloud.Target) (string, error) {
	client, err := e.clients.RDS(ctx, account, target.Region)
	if err != nil {
		return "", err
	}
	out, err := client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(target.ResourceID),
	})
	if err != nil {
		return "", fmt.Errorf("describing %s: %w", target.ResourceID, err)
	}
	if len(out.DBInstances) == 0 {
		return "", fmt.Errorf("DB instance %s not found", target.ResourceID)
	}
	if aws.ToBool(out.DBInstances[0].DeletionProtection) {
		return "", fmt.Errorf("DB instance %s has deletion protection enabled", target.ResourceID)
	}
	return fmt.Sprintf("dry run: delete DB instance %s with final snapshot", target.ResourceID), nil
}

func (e *RDSInstanceDeleter) Execute(ctx context.Context, account cloud.Account, target cloud.Target) (string, error) {
	client, err := e.clients.RDS(ctx, account, target.Region)
	if err != nil {
		return "", err
	}
	snapshotID := finalSnapshotID(target.ResourceID, e.now())
	_, err = client.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
		DBInstanceIdentifier:      aws.String(target.ResourceID),
		SkipFinalSnapshot:         aws.Bool(false),
		FinalDBSnapshotIdentifier: aws.String(snapshotID),
	})
	if err != nil {
		return "", fmt.Errorf("deleting DB instance %s: %w", target.ResourceID, err)
	}
	return fmt.Sprintf("deleted DB instance %s, final snapshot %s", target.ResourceID, snapshotID), nil
}

func finalSnapshotID(instanceID string, at time.Time) string {
	return fmt.Sprintf("%s-reclaim-final-%d", instanceID, at.UTC().Unix())
}

type RDSSnapshotDeleter struct {
	clients Clients
}

func NewRDSSnapshotDeleter(clients Clients) *RDSSnapshotDeleter {
	return &RDSSnapshotDeleter{clients: clients}
}

func (e *RDSSnapshotDeleter) Service() string         { return models.ServiceRDS }
func (e *RDSSnapshotDeleter) Kind() models.ActionKind { return models.ActionDeleteSnapshot }

func (e *RDSSnapshotDeleter) Simulate(ctx context.Context, account cloud.Account, target cloud.Target) (string, error) {
	client, err := e.clients.RDS(ctx, account, target.Region)
	if err != nil {
		return "", err
	}
	out, err := client.DescribeDBSnapshots(ctx, &rds.DescribeDBSnapshotsInput{
		DBSnapshotIdentifier: aws.String(target.ResourceID),
	})
	if err != nil {
		return "", fmt.Errorf("describing snapshot %s: %w", target.ResourceID, err)
	}
	if len(out.DBSnapshots) == 0 {
		return "", fmt.Errorf("snapshot %s not found", target.ResourceID)
	}
	return fmt.Sprintf("dry run: delete snapshot %s (%d GB)", target.ResourceID, aws.ToInt32(out.DBSnapshots[0].AllocatedStorage)), nil
}

func (e *RDSSnapshotDeleter) Execute(ctx context.Context, account cloud.Account, target cloud.Target) (string, error) {
	client, err := e.clients.RDS(ctx, account, target.Region)
	if err != nil {
		return "", err
	}
	if _, err := client.DeleteDBSnapshot(ctx, &rds.DeleteDBSnapshotInput{
		DBSnapshotIdentifier: aws.String(target.ResourceID),
	}); err != nil {
		return "", fmt.Errorf("deleting snapshot %s: %w", target.ResourceID, err)
	}
	return fmt.Sprintf("deleted snapshot %s", target.ResourceID), nil
}

var (
	_ cloud.ResourceInspector = (*RDSInspector)(nil)
	_ cloud.ActionExecutor    = (*RDSInstanceDeleter)(nil)
	_ cloud.ActionExecutor    = (*RDSSnapshotDeleter)(nil)
)
