// Package types holds the shared domain model for the prescription
// notification pipeline: queued status updates, delivery outcomes, persisted
// notification state, and the error/logging contracts used by every package.
package types

import "time"

// MessageStatus describes the terminal outcome of a notification request for
// a single queued update.
type MessageStatus string

const (
	// StatusRequested means the provider accepted the message for delivery.
	StatusRequested MessageStatus = "requested"

	// StatusFailed means the provider request failed (whole-batch failure or
	// the provider omitted this item from its acknowledgements).
	StatusFailed MessageStatus = "failed"

	// StatusSilentRunning means the dispatch ran in silent mode and no
	// provider call was made.
	StatusSilentRunning MessageStatus = "silent_running"
)

// StatusUpdate is the parsed body of a queue message: one prescription status
// change for one patient at one pharmacy.
type StatusUpdate struct {
	NHSNumber      string `json:"PatientNHSNumber"`
	ODSCode        string `json:"PharmacyODSCode"`
	RequestID      string `json:"RequestID"`
	TaskID         string `json:"TaskID"`
	Status         string `json:"Status"`
	TerminalStatus string `json:"TerminalStatus,omitempty"`
	LastModified   string `json:"LastModified,omitempty"`
}

// RecipientKey identifies a patient/pharmacy pair. It is the primary key of
// the notification state store and the unit the cooldown applies to.
type RecipientKey struct {
	NHSNumber string
	ODSCode   string
}

// Recipient returns the RecipientKey for this update.
func (u StatusUpdate) Recipient() RecipientKey {
	return RecipientKey{NHSNumber: u.NHSNumber, ODSCode: u.ODSCode}
}

// QueuedUpdate is a received SQS message together with its parsed body and
// the correlation reference generated at parse time.
//
// MessageReference is unique per queued update for the life of the drain
// cycle and is the key used to match provider acknowledgements back to the
// originating update. It survives any number of batch splits and retries.
type QueuedUpdate struct {
	MessageID     string
	ReceiptHandle string
	DedupID       string
	SentTimestamp time.Time
	Update        StatusUpdate

	MessageReference string
}

// DeliveryOutcome records what happened to one queued update that entered a
// dispatch batch. Exactly one outcome exists per update that survived
// dedup and cooldown filtering; updates dropped before batching have none.
type DeliveryOutcome struct {
	MessageReference  string
	BatchReference    string
	Status            MessageStatus
	ProviderMessageID string // empty when Status is StatusFailed
}

// NotificationState is the durable per-recipient record of the last
// notification request. Absence of a record means the pair has never been
// notified and is always eligible.
type NotificationState struct {
	NHSNumber         string
	ODSCode           string
	RequestID         string
	SQSMessageID      string
	LastStatus        string
	MessageStatus     MessageStatus
	ProviderMessageID string
	MessageReference  string
	BatchReference    string
	LastNotifiedAt    time.Time
	ExpiresAt         time.Time
}
