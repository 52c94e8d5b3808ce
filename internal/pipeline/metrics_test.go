package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"rxnotify/internal/types"
)

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (m *mockCloudWatch) lastDatum(t *testing.T) cwtypes.MetricDatum {
	t.Helper()
	if len(m.inputs) == 0 {
		t.Fatal("no metric was published")
	}
	input := m.inputs[len(m.inputs)-1]
	if len(input.MetricData) != 1 {
		t.Fatalf("expected 1 datum per publish, got %d", len(input.MetricData))
	}
	return input.MetricData[0]
}

func TestCloudWatchMetrics_PublishesUnderNamespace(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchMetrics(cw, "RxNotify", &mockLogger{})

	m.RecordDrained(context.Background(), 42)

	datum := cw.lastDatum(t)
	if ns := aws.ToString(cw.inputs[0].Namespace); ns != "RxNotify" {
		t.Errorf("namespace = %q, want RxNotify", ns)
	}
	if name := aws.ToString(datum.MetricName); name != "UpdatesDrained" {
		t.Errorf("metric name = %q, want UpdatesDrained", name)
	}
	if v := aws.ToFloat64(datum.Value); v != 42 {
		t.Errorf("value = %v, want 42", v)
	}
	if datum.Unit != cwtypes.StandardUnitCount {
		t.Errorf("unit = %v, want Count", datum.Unit)
	}
}

func TestCloudWatchMetrics_OutcomeCarriesStatusDimension(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchMetrics(cw, "RxNotify", &mockLogger{})

	m.RecordOutcome(context.Background(), types.StatusFailed, 3)

	datum := cw.lastDatum(t)
	if name := aws.ToString(datum.MetricName); name != "DeliveryOutcome" {
		t.Errorf("metric name = %q, want DeliveryOutcome", name)
	}
	if len(datum.Dimensions) != 1 {
		t.Fatalf("expected 1 dimension, got %d", len(datum.Dimensions))
	}
	dim := datum.Dimensions[0]
	if aws.ToString(dim.Name) != "Status" || aws.ToString(dim.Value) != "failed" {
		t.Errorf("dimension = %s=%s, want Status=failed", aws.ToString(dim.Name), aws.ToString(dim.Value))
	}
}

func TestCloudWatchMetrics_LatencyInMilliseconds(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchMetrics(cw, "RxNotify", &mockLogger{})

	m.RecordDispatchLatency(context.Background(), 1500*time.Millisecond)

	datum := cw.lastDatum(t)
	if v := aws.ToFloat64(datum.Value); v != 1500 {
		t.Errorf("value = %v, want 1500 (milliseconds)", v)
	}
	if datum.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("unit = %v, want Milliseconds", datum.Unit)
	}
}

func TestCloudWatchMetrics_PublishFailureIsSwallowed(t *testing.T) {
	cw := &mockCloudWatch{err: errors.New("throttled")}
	m := NewCloudWatchMetrics(cw, "RxNotify", &mockLogger{})

	// Must not panic or propagate: observability never fails a run.
	m.RecordDrained(context.Background(), 1)
	m.RecordQueueLag(context.Background(), time.Minute)

	if len(cw.inputs) != 2 {
		t.Errorf("expected both publishes attempted, got %d", len(cw.inputs))
	}
}
