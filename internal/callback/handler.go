package callback

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"rxnotify/internal/types"
)

// maxCallbackBodySize caps callback payloads at 1 MB. Provider callbacks
// carry a handful of status resources; anything larger is abuse.
const maxCallbackBodySize = 1 << 20

// resourceTypeMessageStatus is the only callback resource type acted on;
// channel-level resources are acknowledged and ignored.
const resourceTypeMessageStatus = "MessageStatus"

// StatusUpdater is the subset of the state repository the handler needs.
type StatusUpdater interface {
	UpdateByProviderMessageID(ctx context.Context, providerMessageID, status string, at, expiresAt time.Time) (int64, error)
}

// Handler receives provider status callbacks.
//
// The route is unauthenticated in the middleware sense; security comes from
// the HMAC signature and API key check performed on every request.
type Handler struct {
	verifier   *SignatureVerifier
	apiKey     string
	updater    StatusUpdater
	refreshTTL time.Duration
	validate   *validator.Validate
	logger     types.Logger
	now        func() time.Time
}

// NewHandler wires a callback handler.
func NewHandler(verifier *SignatureVerifier, apiKey string, updater StatusUpdater, refreshTTL time.Duration, logger types.Logger) *Handler {
	return &Handler{
		verifier:   verifier,
		apiKey:     apiKey,
		updater:    updater,
		refreshTTL: refreshTTL,
		validate:   validator.New(),
		logger:     logger,
		now:        time.Now,
	}
}

// RegisterRoutes mounts the callback endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/statuses", h.Handle)
}

// Handle verifies the request signature and API key, parses the callback
// envelope, and applies each MessageStatus resource to the state store.
// Processing failures after authentication still return 202: the provider
// retries on non-2xx and a broken record should not cause a retry storm.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, r, types.NewAppError(
			types.ErrCodeValidationMalformedBody,
			"failed to read request body",
			err,
		))
		return
	}

	if appErr := h.authenticate(r, body); appErr != nil {
		h.logger.Warn("rejected callback request", "error", appErr.Error())
		h.respondError(w, r, appErr)
		return
	}

	var envelope types.CallbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.respondError(w, r, types.NewAppError(
			types.ErrCodeValidationMalformedBody,
			"invalid callback JSON",
			err,
		))
		return
	}
	if err := h.validate.Struct(&envelope); err != nil {
		h.respondError(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"callback payload failed validation",
			err,
		))
		return
	}

	for _, resource := range envelope.Data {
		if resource.Type != resourceTypeMessageStatus {
			h.logger.Info("ignoring callback resource of unhandled type",
				"type", resource.Type,
			)
			continue
		}
		h.applyStatus(r.Context(), resource)
	}

	w.WriteHeader(http.StatusAccepted)
}

// authenticate checks the API key and the body signature. Both comparisons
// are constant time.
func (h *Handler) authenticate(r *http.Request, body []byte) *types.AppError {
	apiKey := r.Header.Get(HeaderAPIKey)
	if apiKey == "" {
		return types.NewAppError(types.ErrCodeAuthAPIKeyMissing, "missing "+HeaderAPIKey+" header", nil)
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(h.apiKey)) != 1 {
		return types.NewAppError(types.ErrCodeAuthSignatureInvalid, "API key mismatch", nil)
	}

	signature := r.Header.Get(HeaderSignature)
	if signature == "" {
		return types.NewAppError(types.ErrCodeAuthSignatureMissing, "missing "+HeaderSignature+" header", nil)
	}
	if !h.verifier.Verify(body, signature) {
		return types.NewAppError(types.ErrCodeAuthSignatureInvalid, "signature verification failed", nil)
	}
	return nil
}

// applyStatus folds one MessageStatus resource into the state store,
// refreshing the record's TTL. A resource referencing an unknown provider
// message ID is logged and acknowledged; the dispatch record may already
// have expired.
func (h *Handler) applyStatus(ctx context.Context, resource types.CallbackResource) {
	attrs := resource.Attributes

	at, err := time.Parse(time.RFC3339, attrs.Timestamp)
	if err != nil {
		at = h.now()
	}

	affected, err := h.updater.UpdateByProviderMessageID(
		ctx,
		attrs.MessageID,
		attrs.MessageStatus,
		at,
		h.now().Add(h.refreshTTL),
	)
	if err != nil {
		h.logger.Error("failed to apply callback status",
			"providerMessageId", attrs.MessageID,
			"status", attrs.MessageStatus,
			"error", err.Error(),
		)
		return
	}
	if affected == 0 {
		h.logger.Warn("callback referenced an unknown provider message",
			"providerMessageId", attrs.MessageID,
			"status", attrs.MessageStatus,
		)
		return
	}

	h.logger.Info("applied callback status update",
		"providerMessageId", attrs.MessageID,
		"status", attrs.MessageStatus,
		"recordsUpdated", affected,
	)
}

// respondError writes an error response with the status implied by the
// error code.
func (h *Handler) respondError(w http.ResponseWriter, _ *http.Request, appErr *types.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(appErr.Code),
		"message": appErr.Message,
	})
}
