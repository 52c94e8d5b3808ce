package types

// Wire shapes for the notification provider's message-batch API and its
// status callbacks. Only the fields the pipeline reads or writes are modeled;
// the provider tolerates (and we ignore) additional fields.

// MessageBatchRequest is the request body for POST /comms/v1/message-batches.
type MessageBatchRequest struct {
	Data MessageBatchData `json:"data"`
}

// MessageBatchData wraps the batch attributes in the provider's
// JSON:API-style envelope. Type is always "MessageBatch".
type MessageBatchData struct {
	Type       string            `json:"type"`
	Attributes MessageBatchAttrs `json:"attributes"`
}

// MessageBatchAttrs carries the routing plan, the client-generated batch
// reference, and the individual messages.
type MessageBatchAttrs struct {
	RoutingPlanID  string      `json:"routingPlanId"`
	BatchReference string      `json:"messageBatchReference"`
	Messages       []BatchItem `json:"messages"`
}

// BatchItem is one notification within a batch request.
type BatchItem struct {
	MessageReference string            `json:"messageReference"`
	Recipient        Recipient         `json:"recipient"`
	Originator       Originator        `json:"originator"`
	Personalisation  map[string]string `json:"personalisation"`
}

// Recipient addresses a message to a patient by NHS number.
type Recipient struct {
	NHSNumber string `json:"nhsNumber"`
}

// Originator is the pharmacy the notification appears to come from.
type Originator struct {
	ODSCode string `json:"odsCode"`
}

// MessageBatchResponse is the success (201) response body.
type MessageBatchResponse struct {
	Data MessageBatchResponseData `json:"data"`
}

// MessageBatchResponseData carries the provider's batch ID and per-item
// acknowledgements.
type MessageBatchResponseData struct {
	Type       string                `json:"type"`
	ID         string                `json:"id"`
	Attributes MessageBatchRespAttrs `json:"attributes"`
}

// MessageBatchRespAttrs echoes the batch reference and lists acknowledged
// messages. The provider may reorder or omit items relative to the request.
type MessageBatchRespAttrs struct {
	BatchReference string           `json:"messageBatchReference"`
	Messages       []MessageItemAck `json:"messages"`
}

// MessageItemAck acknowledges one message: the caller's reference and the
// provider-assigned ID (a KSUID).
type MessageItemAck struct {
	MessageReference string `json:"messageReference"`
	ID               string `json:"id"`
}

// TokenResponse is the OAuth token endpoint response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
}

// CallbackEnvelope is the body of a provider status callback
// (POST from the provider to our callback endpoint).
type CallbackEnvelope struct {
	Data []CallbackResource `json:"data" validate:"required,dive"`
}

// CallbackResource is one status event inside a callback. Type is
// "MessageStatus" for the aggregate message status events we act on;
// "ChannelStatus" events are logged and ignored.
type CallbackResource struct {
	Type       string             `json:"type"`
	Attributes CallbackAttributes `json:"attributes"`
	Meta       CallbackMeta       `json:"meta"`
}

// CallbackAttributes carries the provider message ID, our original message
// reference, and the new status.
type CallbackAttributes struct {
	MessageID        string `json:"messageId" validate:"required"`
	MessageReference string `json:"messageReference"`
	MessageStatus    string `json:"messageStatus" validate:"required"`
	Timestamp        string `json:"timestamp"`
}

// CallbackMeta carries the provider's idempotency key for retried callbacks.
type CallbackMeta struct {
	IdempotencyKey string `json:"idempotencyKey"`
}
