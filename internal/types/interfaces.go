package types

import "context"

// Logger defines the structured logging interface used throughout the
// pipeline. *slog.Logger satisfies Info/Warn/Error directly; cmd mains wrap
// it in a small adapter because With must return Logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// TokenSource supplies a bearer token for provider API calls. Implementations
// exchange a signed client assertion for an access token; the returned token
// is valid for at least the duration of one dispatch tree.
type TokenSource interface {
	BearerToken(ctx context.Context) (string, error)
}

// StateReader looks up the most recent notification state for a recipient
// pair. A nil record with nil error means no state exists (never notified).
type StateReader interface {
	GetState(ctx context.Context, key RecipientKey) (*NotificationState, error)
}

// StateWriter upserts one notification state record. Upserts are idempotent:
// reprocessing a redelivered queue message writes the same logical record.
type StateWriter interface {
	PutState(ctx context.Context, rec NotificationState) error
}
