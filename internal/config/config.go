// Package config defines the configuration for the notification pipeline.
// Configuration is loaded once at process initialization (Lambda cold start)
// and is immutable thereafter, with the single exception of the runtime
// dispatch flags (see runtime.go) which are re-read from SSM per dispatch.
//
// Values are resolved via a priority chain:
//
//	OS Environment (highest) -> Dotenv file -> AWS SSM Parameter Store (lowest)
//
// A missing required value fails the invocation immediately, before any queue
// interaction.
package config

import (
	"time"

	"rxnotify/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used for sensitive configuration values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev int prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"rxnotify"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	AWS      AWSConfig
	Database DatabaseConfig
	Notify   NotifyConfig
	Pipeline PipelineConfig
	Callback CallbackConfig

	Observability ObservabilityConfig

	// Build metadata (injected via ldflags, not env)
	Build BuildInfo
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-west-2"`

	// Source queue of prescription status updates.
	NotificationQueueURL string `envconfig:"NOTIFICATIONS_SQS_QUEUE_URL" validate:"required,url"`
	// Destination for permanently malformed messages.
	DeadLetterQueueURL string `envconfig:"NOTIFICATIONS_DLQ_URL" validate:"omitempty,url"`

	// LocalStack support (empty in deployed environments).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// DatabaseConfig holds the notification state store connection and pool
// tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// NotifyConfig holds the delivery provider credentials and request limits.
//
// APIBaseURL and the live-request flag are deliberately NOT here: they are
// runtime SSM parameters (see RuntimeFlags) so dispatch can be flipped
// between live and silent without a redeploy.
type NotifyConfig struct {
	RoutingPlanID string `envconfig:"NOTIFY_ROUTING_PLAN_ID" validate:"required,uuid"`

	// Credentials for the signed-JWT bearer token exchange.
	APIKey     SecretString `envconfig:"NOTIFY_API_KEY" validate:"required"`
	PrivateKey SecretString `envconfig:"NOTIFY_PRIVATE_KEY" validate:"required"`
	KID        SecretString `envconfig:"NOTIFY_KID" validate:"required"`

	// SSM parameter names for the runtime flags.
	LiveRequestsParam string `envconfig:"MAKE_REAL_NOTIFY_REQUESTS_PARAM" validate:"required"`
	APIBaseURLParam   string `envconfig:"NOTIFY_API_BASE_URL_PARAM" validate:"required"`

	RequestTimeout time.Duration `envconfig:"NOTIFY_REQUEST_TIMEOUT" default:"30s"`
	MaxRetries     int           `envconfig:"NOTIFY_MAX_RETRIES" default:"5"`

	// Hard provider limits per batch request.
	MaxBatchItems int `envconfig:"NOTIFY_MAX_BATCH_ITEMS" default:"45000"`
	MaxBatchBytes int `envconfig:"NOTIFY_MAX_BATCH_BYTES" default:"5242880"`
}

// PipelineConfig holds drain and suppression tuning.
type PipelineConfig struct {
	// Maximum updates accepted per drain cycle.
	MaxDrainTotal int `envconfig:"DRAIN_MAX_TOTAL" default:"100"`
	// A receive returning fewer messages than this marks the queue drained.
	MinBatchThreshold int `envconfig:"DRAIN_MIN_BATCH_THRESHOLD" default:"5"`
	// Minimum elapsed time before the same patient/pharmacy pair may be
	// notified again.
	Cooldown time.Duration `envconfig:"NOTIFY_COOLDOWN" default:"900s"`
	// Wall-clock budget for one invocation. When exceeded mid-drain, the
	// current batch finishes but no further drain iterations start.
	InvocationBudget time.Duration `envconfig:"INVOCATION_BUDGET" default:"13m"`
	// How long state records live before TTL reclamation.
	StateTTL time.Duration `envconfig:"STATE_TTL" default:"336h"`
}

// CallbackConfig holds the shared-secret credentials used to verify inbound
// provider status callbacks.
type CallbackConfig struct {
	Port    string       `envconfig:"CALLBACK_PORT" default:"8080"`
	AppName SecretString `envconfig:"CALLBACK_APP_NAME"`
	APIKey  SecretString `envconfig:"CALLBACK_API_KEY"`
	// TTL applied when a callback refreshes an existing state record.
	RefreshTTL time.Duration `envconfig:"CALLBACK_REFRESH_TTL" default:"168h"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"RxNotify"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates environment values could not be parsed into their
	// target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
