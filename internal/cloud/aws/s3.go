package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
)

// maxObjectPages caps the listing done per bucket during inspection. Larger
// buckets are reported with the counts seen so far.
const maxObjectPages = 20

const bytesPerGB = 1 << 30

type S3Inspector struct {
	clients Clients
	logger  *slog.Logger
	now     func() time.Time
}

func NewS3Inspector(clients Clients, logger *slog.Logger) *S3Inspector {
	return &S3Inspector{clients: clients, logger: logger.With("component", "s3_inspector"), now: time.Now}
}

func (i *S3Inspector) Service() string { return models.ServiceS3 }

// Inspect lists the account's buckets and keeps those located in region.
func (i *S3Inspector) Inspect(ctx context.Context, account cloud.Account, region string) ([]cloud.ResourceDescriptor, error) {
	client, err := i.clients.S3(ctx, account, region)
	if err != nil {
		return nil, err
	}
	now := i.now().UTC().Truncate(time.Second)

	buckets, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}

	var out []cloud.ResourceDescriptor
	for _, bucket := range buckets.Buckets {
		name := aws.ToString(bucket.Name)

		loc, err := client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(name)})
		if err != nil {
			// Buckets we cannot locate are skipped, not fatal for the region.
			i.logger.Warn("failed to get bucket location", "bucket", name, "error", err)
			continue
		}
		if bucketRegion(loc.LocationConstraint) != region {
			continue
		}

		d := cloud.ResourceDescriptor{
			ResourceID:   name,
			Service:      models.ServiceS3,
			Region:       region,
			ResourceType: "bucket",
			LaunchedAt:   aws.ToTime(bucket.CreationDate),
			ObservedAt:   now,
		}

		count, size, lastModified, err := objectStats(ctx, client, name)
		if err != nil {
			return nil, err
		}
		d.ObjectCount = count
		d.StorageGB = float64(size) / bytesPerGB
		d.LastActivityAt = lastModified

		d.HasLifecyclePolicy, err = hasLifecycle(ctx, client, name)
		if err != nil {
			return nil, err
		}

		out = append(out, d)
	}

	i.logger.Debug("inspected buckets", "account_id", account.AccountID, "region", region, "count", len(out))
	return out, nil
}

// bucketRegion maps a location constraint to a region name. The empty
// constraint is us-east-1 and the legacy EU constraint is eu-west-1.
func bucketRegion(c s3types.BucketLocationConstraint) string {
	switch c {
	case "":
		return "us-east-1"
	case s3types.BucketLocationConstraintEu:
		return "eu-west-1"
	default:
		return string(c)
	}
}

func objectStats(ctx context.Context, client S3API, bucket string) (count, size int64, lastModified time.Time, err error) {
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for pages := 0; paginator.HasMorePages() && pages < maxObjectPages; pages++ {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, 0, time.Time{}, fmt.Errorf("listing objects in %s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			count++
			size += aws.ToInt64(obj.Size)
			if t := aws.ToTime(obj.LastModified); t.After(lastModified) {
				lastModified = t
			}
		}
	}
	return count, size, lastModified, nil
}

func hasLifecycle(ctx context.Context, client S3API, bucket string) (bool, error) {
	out, err := client.GetBucketLifecycleConfiguration(ctx, &s3.GetBucketLifecycleConfigurationInput{Bucket: aws.String(bucket)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchLifecycleConfiguration" {
			return false, nil
		}
		return false, fmt.Errorf("getting lifecycle of %s: %w", bucket, err)
	}
	return len(out.Rules) > 0, nil
}

// S3BucketDeleter empties a bucket and deletes it. Versioned buckets keep
// their old versions, so DeleteBucket fails on them and the action fails.
type S3BucketDeleter struct {
	clients Clients
}

func NewS3BucketDeleter(clients Clients) *S3BucketDeleter {
	return &S3BucketDeleter{clients: clients}
}

func (e *S3BucketDeleter) Service() string         { return models.ServiceS3 }
func (e *S3BucketDeleter) Kind() models.ActionKind { return models.ActionDelete }

func (e *S3BucketDeleter) Simulate(ctx context.Context, account cloud.Account, target cloud.Target) (string, error) {
	client, err := e.clients.S3(ctx, account, target.Region)
	if err != nil {
		return "", err
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(target.ResourceID)}); err != nil {
		return "", fmt.Errorf("head bucket %s: %w", target.ResourceID, err)
	}
	count, _, _, err := objectStats(ctx, client, target.ResourceID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("dry run: delete bucket %s with %d objects", target.ResourceID, count), nil
}

func (e *S3BucketDeleter) Execute(ctx context.Context, account cloud.Account, target cloud.Target) (string, error) {
	client, err := e.clients.S3(ctx, account, target.Region)
	if err != nil {
		return "", err
	}
	bucket := aws.String(target.ResourceID)

	var removed int
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: bucket})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("listing objects in %s: %w", target.ResourceID, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		ids := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, s3types.ObjectIdentifier{Key: obj.Key})
		}
		out, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: bucket,
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return "", fmt.Errorf("deleting objects in %s: %w", target.ResourceID, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return "", fmt.Errorf("deleting %s/%s: %s", target.ResourceID, aws.ToString(first.Key), aws.ToString(first.Message))
		}
		removed += len(ids)
	}

	if _, err := client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: bucket}); err != nil {
		return "", fmt.Errorf("deleting bucket %s: %w", target.ResourceID, err)
	}
	return fmt.Sprintf("deleted bucket %s and %d objects", target.ResourceID, removed), nil
}

var (
	_ cloud.ResourceInspector = (*S3Inspector)(nil)
	_ cloud.ActionExecutor    = (*S3BucketDeleter)(nil)
)
