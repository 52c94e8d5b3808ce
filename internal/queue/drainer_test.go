package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"rxnotify/internal/types"
)

type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

// mockReceiver serves receive batches in order, then empties.
type mockReceiver struct {
	batches    [][]sqsTypes.Message
	calls      []*sqs.ReceiveMessageInput
	receiveErr error
}

func (m *mockReceiver) ReceiveMessage(_ context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.receiveErr != nil {
		return nil, m.receiveErr
	}
	if len(m.batches) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (m *mockReceiver) GetQueueAttributes(_ context.Context, _ *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{}, nil
}

func testMessage(id, dedupID string) sqsTypes.Message {
	body := fmt.Sprintf(`{"PatientNHSNumber":"943127%s","PharmacyODSCode":"FA100","RequestID":"req-%s","Status":"ReadyToCollect"}`, id, id)
	attrs := map[string]string{
		"SentTimestamp": "1735689600000",
	}
	if dedupID != "" {
		attrs[string(sqsTypes.MessageSystemAttributeNameMessageDeduplicationId)] = dedupID
	}
	return sqsTypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
		Attributes:    attrs,
	}
}

func makeBatch(ids ...string) []sqsTypes.Message {
	msgs := make([]sqsTypes.Message, len(ids))
	for i, id := range ids {
		msgs[i] = testMessage(id, "dedup-"+id)
	}
	return msgs
}

func TestDrainer_Drain_StopsAtMaxTotal(t *testing.T) {
	receiver := &mockReceiver{batches: [][]sqsTypes.Message{
		makeBatch("01", "02", "03", "04", "05", "06", "07", "08", "09", "10"),
		makeBatch("11", "12", "13", "14", "15", "16", "17", "18", "19", "20"),
		makeBatch("21", "22", "23", "24", "25"),
	}}
	d := NewDrainer(receiver, "https://sqs.example/q", nil, &mockLogger{})

	result, err := d.Drain(context.Background(), 20, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Updates) != 20 {
		t.Fatalf("expected 20 updates, got %d", len(result.Updates))
	}
	if result.IsEmpty {
		t.Error("queue should not be reported empty when the goal was met")
	}
	if len(receiver.calls) != 2 {
		t.Errorf("expected 2 receive calls, got %d", len(receiver.calls))
	}
}

func TestDrainer_Drain_RequestsOnlyRemainingMessages(t *testing.T) {
	receiver := &mockReceiver{batches: [][]sqsTypes.Message{
		makeBatch("01", "02", "03", "04", "05", "06", "07", "08", "09", "10"),
		makeBatch("11", "12", "13", "14", "15"),
	}}
	d := NewDrainer(receiver, "https://sqs.example/q", nil, &mockLogger{})

	if _, err := d.Drain(context.Background(), 15, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := receiver.calls[1].MaxNumberOfMessages; got != 5 {
		t.Errorf("second receive should request only 5 messages, got %d", got)
	}
}

func TestDrainer_Drain_EmptyQueueIsNoOp(t *testing.T) {
	receiver := &mockReceiver{}
	d := NewDrainer(receiver, "https://sqs.example/q", nil, &mockLogger{})

	result, err := d.Drain(context.Background(), 100, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.IsEmpty {
		t.Error("empty queue should report IsEmpty")
	}
	if len(result.Updates) != 0 {
		t.Errorf("expected no updates, got %d", len(result.Updates))
	}
}

func TestDrainer_Drain_SmallBatchMarksQueueDrained(t *testing.T) {
	receiver := &mockReceiver{batches: [][]sqsTypes.Message{
		makeBatch("01", "02", "03"),
		makeBatch("04", "05", "06"),
	}}
	d := NewDrainer(receiver, "https://sqs.example/q", nil, &mockLogger{})

	result, err := d.Drain(context.Background(), 100, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.IsEmpty {
		t.Error("a batch below the threshold should mark the queue drained")
	}
	if len(result.Updates) != 3 {
		t.Errorf("expected 3 updates from the first batch only, got %d", len(result.Updates))
	}
	if len(receiver.calls) != 1 {
		t.Errorf("expected polling to stop after the small batch, got %d calls", len(receiver.calls))
	}
}

func TestDrainer_Drain_DeduplicatesKeepingFirst(t *testing.T) {
	first := testMessage("01", "dedup-shared")
	duplicate := testMessage("02", "dedup-shared")
	other := testMessage("03", "dedup-other")

	receiver := &mockReceiver{batches: [][]sqsTypes.Message{
		{first, duplicate, other},
	}}
	d := NewDrainer(receiver, "https://sqs.example/q", nil, &mockLogger{})

	result, err := d.Drain(context.Background(), 100, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Updates) != 2 {
		t.Fatalf("expected 2 updates after dedup, got %d", len(result.Updates))
	}
	if result.Updates[0].MessageID != "01" {
		t.Errorf("the first occurrence should survive, got %s", result.Updates[0].MessageID)
	}
	if result.Updates[1].MessageID != "03" {
		t.Errorf("expected the distinct message to survive, got %s", result.Updates[1].MessageID)
	}
}

func TestDrainer_Drain_ExcludesUnparsableMessages(t *testing.T) {
	bad := sqsTypes.Message{
		MessageId:     aws.String("bad"),
		ReceiptHandle: aws.String("rh-bad"),
		Body:          aws.String("not json at all"),
		Attributes: map[string]string{
			string(sqsTypes.MessageSystemAttributeNameMessageDeduplicationId): "dedup-bad",
		},
	}
	missingDedup := testMessage("no-dedup", "")

	receiver := &mockReceiver{batches: [][]sqsTypes.Message{
		{bad, missingDedup, testMessage("ok", "dedup-ok")},
	}}
	d := NewDrainer(receiver, "https://sqs.example/q", nil, &mockLogger{})

	result, err := d.Drain(context.Background(), 100, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Updates) != 1 {
		t.Fatalf("expected only the valid message, got %d updates", len(result.Updates))
	}
	if result.Updates[0].MessageID != "ok" {
		t.Errorf("expected message ok, got %s", result.Updates[0].MessageID)
	}
}

func TestDrainer_Drain_AssignsUniqueMessageReferences(t *testing.T) {
	receiver := &mockReceiver{batches: [][]sqsTypes.Message{
		makeBatch("01", "02", "03"),
	}}
	d := NewDrainer(receiver, "https://sqs.example/q", nil, &mockLogger{})

	result, err := d.Drain(context.Background(), 100, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := make(map[string]bool)
	for _, u := range result.Updates {
		if u.MessageReference == "" {
			t.Fatal("every update must carry a message reference")
		}
		if seen[u.MessageReference] {
			t.Fatalf("duplicate message reference %s", u.MessageReference)
		}
		seen[u.MessageReference] = true
	}
}

func TestDrainer_Drain_ReceiveErrorIsFatal(t *testing.T) {
	receiver := &mockReceiver{receiveErr: errors.New("sqs unavailable")}
	d := NewDrainer(receiver, "https://sqs.example/q", nil, &mockLogger{})

	_, err := d.Drain(context.Background(), 100, 5)
	if err == nil {
		t.Fatal("expected an error when receive fails")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamQueue {
		t.Errorf("expected upstream queue error, got %v", err)
	}
}

func TestDrainer_Drain_ParsesSentTimestamp(t *testing.T) {
	receiver := &mockReceiver{batches: [][]sqsTypes.Message{
		makeBatch("01", "02", "03", "04", "05"),
	}}
	d := NewDrainer(receiver, "https://sqs.example/q", nil, &mockLogger{})

	result, err := d.Drain(context.Background(), 5, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Updates[0].SentTimestamp.IsZero() {
		t.Error("SentTimestamp should be parsed from the system attribute")
	}
	if got := result.Updates[0].SentTimestamp.Year(); got != 2025 {
		t.Errorf("unexpected SentTimestamp year %d", got)
	}
}
