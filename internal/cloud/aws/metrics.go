package aws

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// lookbackDays bounds every utilization query.
const lookbackDays = 30

const day = 24 * time.Hour

type metricQuery struct {
	namespace string
	metric    string
	dimension string
	value     string
	stat      cwtypes.Statistic
}

// dailyValues returns one value per day over the lookback window, oldest first.
func dailyValues(ctx context.Context, cw CloudWatchAPI, q metricQuery, now time.Time) ([]float64, error) {
	out, err := cw.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(q.namespace),
		MetricName: aws.String(q.metric),
		Dimensions: []cwtypes.Dimension{{
			Name:  aws.String(q.dimension),
			Value: aws.String(q.value),
		}},
		StartTime:  aws.Time(now.Add(-lookbackDays * day)),
		EndTime:    aws.Time(now),
		Period:     aws.Int32(int32(day / time.Second)),
		Statistics: []cwtypes.Statistic{q.stat},
	})
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s for %s: %w", q.namespace, q.metric, q.value, err)
	}

	points := slices.Clone(out.Datapoints)
	slices.SortFunc(points, func(a, b cwtypes.Datapoint) int {
		return aws.ToTime(a.Timestamp).Compare(aws.ToTime(b.Timestamp))
	})

	values := make([]float64, 0, len(points))
	for _, p := range points {
		switch q.stat {
		case cwtypes.StatisticMaximum:
			values = append(values, aws.ToFloat64(p.Maximum))
		default:
			values = append(values, aws.ToFloat64(p.Average))
		}
	}
	return values, nil
}

// trailing counts the most recent consecutive days matching idle and returns
// their mean. With no idle tail the mean covers the whole window.
func trailing(values []float64, idle func(float64) bool) (days int, mean float64) {
	for i := len(values) - 1; i >= 0 && idle(values[i]); i-- {
		days++
	}
	window := values
	if days > 0 {
		window = values[len(values)-days:]
	}
	if len(window) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	return days, sum / float64(len(window))
}
