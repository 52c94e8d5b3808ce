package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"rxnotify/internal/types"
)

// NotificationStateRepository provides data access for the
// notification_state table, keyed by (nhs_number, ods_code).
//
// Expected schema:
//
//	CREATE TABLE notification_state (
//	    nhs_number          text        NOT NULL,
//	    ods_code            text        NOT NULL,
//	    request_id          text        NOT NULL,
//	    sqs_message_id      text,
//	    last_status         text        NOT NULL,
//	    message_status      text        NOT NULL,
//	    provider_message_id text,
//	    message_reference   text        NOT NULL,
//	    batch_reference     text,
//	    last_notified_at    timestamptz NOT NULL,
//	    expires_at          timestamptz NOT NULL,
//	    PRIMARY KEY (nhs_number, ods_code)
//	);
//	CREATE INDEX notification_state_provider_msg_idx
//	    ON notification_state (provider_message_id);
type NotificationStateRepository struct {
	db DBTX
}

var (
	_ types.StateReader = (*NotificationStateRepository)(nil)
	_ types.StateWriter = (*NotificationStateRepository)(nil)
)

// NewNotificationStateRepository creates a repository backed by the given
// database connection (pool or transaction).
func NewNotificationStateRepository(db DBTX) *NotificationStateRepository {
	return &NotificationStateRepository{db: db}
}

// GetState returns the most recent notification state for a recipient pair,
// or nil when the pair has never been notified. Expired records are treated
// as absent.
func (r *NotificationStateRepository) GetState(ctx context.Context, key types.RecipientKey) (*types.NotificationState, error) {
	row := r.db.QueryRow(ctx,
		`SELECT nhs_number, ods_code, request_id, COALESCE(sqs_message_id, ''),
		        last_status, message_status, COALESCE(provider_message_id, ''),
		        message_reference, COALESCE(batch_reference, ''),
		        last_notified_at, expires_at
		 FROM notification_state
		 WHERE nhs_number = $1 AND ods_code = $2 AND expires_at > NOW()`,
		key.NHSNumber,
		key.ODSCode,
	)

	var rec types.NotificationState
	err := row.Scan(
		&rec.NHSNumber,
		&rec.ODSCode,
		&rec.RequestID,
		&rec.SQSMessageID,
		&rec.LastStatus,
		&rec.MessageStatus,
		&rec.ProviderMessageID,
		&rec.MessageReference,
		&rec.BatchReference,
		&rec.LastNotifiedAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read notification state", err)
	}

	return &rec, nil
}

// PutState upserts one notification state record. The ON CONFLICT guard only
// advances last_notified_at: an overlapping drain cycle that observed older
// state cannot regress a newer record. Re-writing the same logical record
// (queue redelivery) is a no-op change, making the upsert idempotent.
func (r *NotificationStateRepository) PutState(ctx context.Context, rec types.NotificationState) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notification_state
		 (nhs_number, ods_code, request_id, sqs_message_id, last_status,
		  message_status, provider_message_id, message_reference,
		  batch_reference, last_notified_at, expires_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10, $11)
		 ON CONFLICT (nhs_number, ods_code) DO UPDATE SET
		     request_id          = EXCLUDED.request_id,
		     sqs_message_id      = EXCLUDED.sqs_message_id,
		     last_status         = EXCLUDED.last_status,
		     message_status      = EXCLUDED.message_status,
		     provider_message_id = EXCLUDED.provider_message_id,
		     message_reference   = EXCLUDED.message_reference,
		     batch_reference     = EXCLUDED.batch_reference,
		     last_notified_at    = EXCLUDED.last_notified_at,
		     expires_at          = EXCLUDED.expires_at
		 WHERE notification_state.last_notified_at <= EXCLUDED.last_notified_at`,
		rec.NHSNumber,
		rec.ODSCode,
		rec.RequestID,
		rec.SQSMessageID,
		rec.LastStatus,
		string(rec.MessageStatus),
		rec.ProviderMessageID,
		rec.MessageReference,
		rec.BatchReference,
		rec.LastNotifiedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert notification state", err)
	}
	return nil
}

// UpdateByProviderMessageID applies a provider status callback to the record
// holding the given provider message ID, refreshing its status, timestamp,
// and expiry. Returns the number of records updated; zero means the callback
// referenced a message we have no record of.
func (r *NotificationStateRepository) UpdateByProviderMessageID(ctx context.Context, providerMessageID, status string, at, expiresAt time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_state
		 SET message_status = $2, last_notified_at = $3, expires_at = $4
		 WHERE provider_message_id = $1`,
		providerMessageID,
		status,
		at,
		expiresAt,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to apply status callback", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired reclaims records whose TTL has passed. Called once per
// worker invocation; Postgres has no native TTL so reclamation piggybacks on
// the scheduled runs.
func (r *NotificationStateRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notification_state WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired notification state", err)
	}
	return tag.RowsAffected(), nil
}
