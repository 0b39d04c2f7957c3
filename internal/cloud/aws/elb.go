package aws

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
)

// ELBInspector reports ALB/NLB load balancers with their registered target count.
type ELBInspector struct {
	clients Clients
	logger  *slog.Logger
	now     func() time.Time
}

func NewELBInspector(clients Clients, logger *slog.Logger) *ELBInspector {
	return &ELBInspector{clients: clients, logger: logger.With("component", "elb_inspector"), now: time.Now}
}

func (i *ELBInspector) Service() string { return models.ServiceELB }

func (i *ELBInspector) Inspect(ctx context.Context, account cloud.Account, region string) ([]cloud.ResourceDescriptor, error) {
	client, err := i.clients.ELB(ctx, account, region)
	if err != nil {
		return nil, err
	}
	now := i.now().UTC().Truncate(time.Second)

	var out []cloud.ResourceDescriptor
	paginator := elbv2.NewDescribeLoadBalancersPaginator(client, &elbv2.DescribeLoadBalancersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing load balancers: %w", err)
		}

		for _, lb := range page.LoadBalancers {
			arn := aws.ToString(lb.LoadBalancerArn)
			targets, err := countTargets(ctx, client, arn)
			if err != nil {
				return nil, err
			}

			d := cloud.ResourceDescriptor{
				ResourceID:      arn,
				Service:         models.ServiceELB,
				Region:          region,
				ResourceType:    string(lb.Type),
				Tags:            map[string]string{"Name": aws.ToString(lb.LoadBalancerName)},
				LaunchedAt:      aws.ToTime(lb.CreatedTime),
				AttachedTargets: targets,
				ObservedAt:      now,
			}
			if lb.State != nil {
				d.State = string(lb.State.Code)
			}
			out = append(out, d)
		}
	}

	i.logger.Debug("inspected load balancers", "account_id", account.AccountID, "region", region, "count", len(out))
	return out, nil
}

func countTargets(ctx context.Context, client ELBAPI, lbARN string) (int, error) {
	groups, err := client.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{
		LoadBalancerArn: aws.String(lbARN),
	})
	if err != nil {
		return 0, fmt.Errorf("describing target groups of %s: %w", lbARN, err)
	}

	var total int
	for _, tg := range groups.TargetGroups {
		health, err := client.DescribeTargetHealth(ctx, &elbv2.DescribeTargetHealthInput{
			TargetGroupArn: tg.TargetGroupArn,
		})
		if err != nil {
			return 0, fmt.Errorf("describing target health of %s: %w", aws.ToString(tg.TargetGroupArn), err)
		}
		total += len(health.TargetHealthDescriptions)
	}
	return total, nil
}

type ELBDeleter struct {
	clients Clients
}

func NewELBDeleter(clients Clients) *ELBDeleter {
	return &ELBDeleter{clients: clients}
}

func (e *ELBDeleter) Service() string         { return models.ServiceELB }
func (e *ELBDeleter) Kind() models.ActionKind { return models.ActionDelete }

func (e *ELBDeleter) Simulate(ctx context.Context, account cloud.Account, target cloud.Target) (string, error) {
	client, err := e.clients.ELB(ctx, account, target.Region)
	if err != nil {
		return "", err
	}
	attrs, err := client.DescribeLoadBalancerAttributes(ctx, &elbv2.DescribeLoadBalancerAttributesInput{
		LoadBalancerArn: aws.String(target.ResourceID),
	})
	if err != nil {
		return "", fmt.Errorf("describing %s: %w", target.ResourceID, err)
	}
	for _, a := range attrs.Attributes {
		if aws.ToString(a.Key) == "deletion_protection.enabled" && aws.ToString(a.Value) == "true" {
			return "", fmt.Errorf("load balancer %s has deletion protection enabled", target.ResourceID)
		}
	}
	return fmt.Sprintf("dry run: delete load balancer %s", target.ResourceID), nil
}

func (e *ELBDeleter) Execute(ctx context.Context, account cloud.Account, target cloud.Target) (string, error) {
	client, err := e.clients.ELB(ctx, account, target.Region)
	if err != nil {
		return "", err
	}
	if _, err := client.DeleteLoadBalancer(ctx, &elbv2.DeleteLoadBalancerInput{
		LoadBalancerArn: aws.String(target.ResourceID),
	}); err != nil {
		return "", fmt.Errorf("deleting load balancer %s: %w", target.ResourceID, err)
	}
	return fmt.Sprintf("deleted load balancer %s", target.ResourceID), nil
}

var (
	_ cloud.ResourceInspector = (*ELBInspector)(nil)
	_ cloud.ActionExecutor    = (*ELBDeleter)(nil)
)
