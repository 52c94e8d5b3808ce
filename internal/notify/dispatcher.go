package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"rxnotify/internal/types"
)

const messageBatchPath = "/comms/v1/message-batches"

// silentDelay approximates one provider round trip so silent runs exercise
// the same timing envelope as live ones.
const silentDelay = 150 * time.Millisecond

// Dispatcher sends one message batch to the provider and returns its
// acknowledgement. AckStatus reports the status an acknowledged message
// should be recorded with.
type Dispatcher interface {
	Dispatch(ctx context.Context, req types.MessageBatchRequest) (*types.MessageBatchResponse, error)
	AckStatus() types.MessageStatus
}

// LiveDispatcher POSTs batches to the NHS Notify message batch endpoint,
// authenticating each request with a bearer token from the shared source.
type LiveDispatcher struct {
	client *BaseClient
	tokens types.TokenSource
	host   string
	logger types.Logger
}

var _ Dispatcher = (*LiveDispatcher)(nil)

// NewLiveDispatcher creates a dispatcher for the given API base URL.
func NewLiveDispatcher(client *BaseClient, tokens types.TokenSource, apiBaseURL string, logger types.Logger) *LiveDispatcher {
	return &LiveDispatcher{
		client: client,
		tokens: tokens,
		host:   strings.TrimRight(apiBaseURL, "/"),
		logger: logger,
	}
}

func (d *LiveDispatcher) AckStatus() types.MessageStatus {
	return types.StatusRequested
}

func (d *LiveDispatcher) Dispatch(ctx context.Context, req types.MessageBatchRequest) (*types.MessageBatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode message batch", err)
	}

	token, err := d.tokens.BearerToken(ctx)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.host+messageBatchPath, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build batch request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	d.logger.Info("dispatching message batch",
		"batchReference", req.Data.Attributes.BatchReference,
		"messages", len(req.Data.Attributes.Messages),
	)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamNotify,
			fmt.Sprintf("message batch endpoint returned %d", resp.StatusCode),
			nil,
		)
	}

	var ack types.MessageBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamNotify, "failed to decode batch acknowledgement", err)
	}
	return &ack, nil
}

// SilentDispatcher acknowledges batches locally without touching the network.
// Used outside production-enabled environments so the rest of the pipeline
// (splitting, reconciliation, state writes, queue cleanup) runs for real
// while no patient is contacted.
type SilentDispatcher struct {
	logger types.Logger
	sleep  func(time.Duration)
}

var _ Dispatcher = (*SilentDispatcher)(nil)

// NewSilentDispatcher creates a dispatcher that fabricates acknowledgements.
func NewSilentDispatcher(logger types.Logger) *SilentDispatcher {
	return &SilentDispatcher{logger: logger, sleep: time.Sleep}
}

func (d *SilentDispatcher) AckStatus() types.MessageStatus {
	return types.StatusSilentRunning
}

func (d *SilentDispatcher) Dispatch(ctx context.Context, req types.MessageBatchRequest) (*types.MessageBatchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.sleep(silentDelay)

	d.logger.Info("silent running, fabricating batch acknowledgement",
		"batchReference", req.Data.Attributes.BatchReference,
		"messages", len(req.Data.Attributes.Messages),
	)

	acks := make([]types.MessageItemAck, 0, len(req.Data.Attributes.Messages))
	for _, m := range req.Data.Attributes.Messages {
		acks = append(acks, types.MessageItemAck{
			MessageReference: m.MessageReference,
			ID:               uuid.New().String(),
		})
	}

	return &types.MessageBatchResponse{
		Data: types.MessageBatchResponseData{
			Type: "MessageBatch",
			ID:   uuid.New().String(),
			Attributes: types.MessageBatchRespAttrs{
				BatchReference: req.Data.Attributes.BatchReference,
				Messages:       acks,
			},
		},
	}, nil
}
