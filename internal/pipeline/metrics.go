package pipeline

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"rxnotify/internal/types"
)

// Metric and dimension names published under the configured namespace.
const (
	metricUpdatesDrained    = "UpdatesDrained"
	metricUpdatesSuppressed = "UpdatesSuppressed"
	metricDeliveryOutcome   = "DeliveryOutcome"
	metricDispatchLatency   = "DispatchLatency"
	metricQueueLag          = "QueueLag"

	dimStatus = "Status"
)

// Metrics records pipeline observability signals. Implementations must be
// safe to call with a nil-op fallback; a metrics failure never fails a run.
type Metrics interface {
	RecordDrained(ctx context.Context, count int)
	RecordSuppressed(ctx context.Context, count int)
	RecordOutcome(ctx context.Context, status types.MessageStatus, count int)
	RecordDispatchLatency(ctx context.Context, d time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes pipeline metrics to AWS CloudWatch. Publish
// failures are logged and swallowed; dispatch must not fail because
// observability did.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a publisher for the given namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (m *CloudWatchMetrics) RecordDrained(ctx context.Context, count int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricUpdatesDrained),
		Value:      aws.Float64(float64(count)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (m *CloudWatchMetrics) RecordSuppressed(ctx context.Context, count int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricUpdatesSuppressed),
		Value:      aws.Float64(float64(count)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (m *CloudWatchMetrics) RecordOutcome(ctx context.Context, status types.MessageStatus, count int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricDeliveryOutcome),
		Value:      aws.Float64(float64(count)),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{
				Name:  aws.String(dimStatus),
				Value: aws.String(string(status)),
			},
		},
	})
}

func (m *CloudWatchMetrics) RecordDispatchLatency(ctx context.Context, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricDispatchLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

// RecordQueueLag tracks the time between message enqueue and processing
// start, measuring end-to-end queue delay including any backlog.
func (m *CloudWatchMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricQueueLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish metric",
			"error", err.Error(),
			"metric", aws.ToString(datum.MetricName),
		)
	}
}

// NopMetrics discards every signal. Used in local runs and tests.
type NopMetrics struct{}

var _ Metrics = (*NopMetrics)(nil)

func (NopMetrics) RecordDrained(context.Context, int)                      {}
func (NopMetrics) RecordSuppressed(context.Context, int)                   {}
func (NopMetrics) RecordOutcome(context.Context, types.MessageStatus, int) {}
func (NopMetrics) RecordDispatchLatency(context.Context, time.Duration)    {}
func (NopMetrics) RecordQueueLag(context.Context, time.Duration)           {}
