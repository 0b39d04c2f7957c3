package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
)

const idleCPUPercent = 5.0

// e.g. "User initiated (2024-01-02 10:00:00 GMT)"
var transitionTime = regexp.MustCompile(`\((\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) GMT\)`)

type EC2Inspector struct {
	clients Clients
	logger  *slog.Logger
	now     func() time.Time
}

func NewEC2Inspector(clients Clients, logger *slog.Logger) *EC2Inspector {
	return &EC2Inspector{clients: clients, logger: logger.With("component", "ec2_inspector"), now: time.Now}
}

func (i *EC2Inspector) Service() string { return models.ServiceEC2 }

func (i *EC2Inspector) Inspect(ctx context.Context, account cloud.Account, region string) ([]cloud.ResourceDescriptor, error) {
	client, err := i.clients.EC2(ctx, account, region)
	if err != nil {
		return nil, err
	}
	cw, err := i.clients.CloudWatch(ctx, account, region)
	if err != nil {
		return nil, err
	}
	now := i.now().UTC().Truncate(time.Second)

	storage, err := attachedStorage(ctx, client)
	if err != nil {
		return nil, err
	}

	var out []cloud.ResourceDescriptor
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing instances: %w", err)
		}

		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				if instance.State == nil {
					continue
				}
				state := instance.State.Name
				if state != ec2types.InstanceStateNameRunning && state != ec2types.InstanceStateNameStopped {
					continue
				}

				instanceID := aws.ToString(instance.InstanceId)
				d := cloud.ResourceDescriptor{
					ResourceID:   instanceID,
					Service:      models.ServiceEC2,
					Region:       region,
					ResourceType: string(instance.InstanceType),
					State:        string(state),
					Tags:         ec2Tags(instance.Tags),
					LaunchedAt:   aws.ToTime(instance.LaunchTime),
					StorageGB:    storage[instanceID],
					ObservedAt:   now,
				}

				if state == ec2types.InstanceStateNameStopped {
					d.StateChangedAt = parseTransitionTime(aws.ToString(instance.StateTransitionReason))
				} else {
					cpu, err := dailyValues(ctx, cw, metricQuery{
						namespace: "AWS/EC2",
						metric:    "CPUUtilization",
						dimension: "InstanceId",
						value:     instanceID,
						stat:      cwtypes.StatisticAverage,
					}, now)
					if err != nil {
						return nil, err
					}
					d.IdleDays, d.AvgCPUPercent = trailing(cpu, func(v float64) bool { return v < idleCPUPercent })
				}

				out = append(out, d)
			}
		}
	}

	i.logger.Debug("inspected instances", "account_id", account.AccountID, "region", region, "count", len(out))
	return out, nil
}

// attachedStorage sums attached EBS volume sizes per instance.
func attachedStorage(ctx context.Context, client EC2API) (map[string]float64, error) {
	sizes := make(map[string]float64)
	paginator := ec2.NewDescribeVolumesPaginator(client, &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("attachment.status"),
			Values: []string{"attached"},
		}},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing volumes: %w", err)
		}
		for _, v := range page.Volumes {
			for _, a := range v.Attachments {
				sizes[aws.ToString(a.InstanceId)] += float64(aws.ToInt32(v.Size))
			}
		}
	}
	return sizes, nil
}

func parseTransitionTime(reason string) time.Time {
	m := transitionTime.FindStringSubmatch(reason)
	if m == nil {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02 15:04:05", m[1])
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func ec2Tags(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

// EC2Terminator terminates instances. Simulation uses the API's own dry run.
type EC2Terminator struct {
	clients Clients
}

func NewEC2Terminator(clients Clients) *EC2Terminator {
	return &EC2Terminator{clients: clients}
}

func (e *EC2Terminator) Service() string         { return models.ServiceEC2 }
func (e *EC2Terminator) Kind() models.ActionKind { return models.ActionTerminate }

func (e *EC2Terminator) Simulate(ctx context.Context, account cloud.Account, target cloud.Target) (string, error) {
	client, err := e.clients.EC2(ctx, account, target.Region)
	if err != nil {
		return "", err
	}
	_, err = client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{target.ResourceID},
		DryRun:      aws.Bool(true),
	})
	if isDryRunSuccess(err) {
		return fmt.Sprintf("dry run: terminate %s permitted", target.ResourceID), nil
	}
	if err == nil {
		return "", fmt.Errorf("dry run of terminate %s returned no dry-run result", target.ResourceID)
	}
	return "", fmt.Errorf("dry run terminate %s: %w", target.ResourceID, err)
}

func (e *EC2Terminator) Execute(ctx context.Context, account cloud.Account, target cloud.Target) (string, error) {
	client, err := e.clients.EC2(ctx, account, target.Region)
	if err != nil {
		return "", err
	}
	out, err := client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{target.ResourceID},
	})
	if err != nil {
		return "", fmt.Errorf("terminating %s: %w", target.ResourceID, err)
	}

	state := "unknown"
	for _, change := range out.TerminatingInstances {
		if aws.ToString(change.InstanceId) == target.ResourceID && change.CurrentState != nil {
			state = string(change.CurrentState.Name)
		}
	}
	return fmt.Sprintf("terminated %s (state %s)", target.ResourceID, state), nil
}

func isDryRunSuccess(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "DryRunOperation"
}

var (
	_ cloud.ResourceInspector = (*EC2Inspector)(nil)
	_ cloud.ActionExecutor    = (*EC2Terminator)(nil)
)
