// Package main is the entrypoint for the notify-worker Lambda function.
//
// The worker runs on an EventBridge schedule. Each invocation drains the
// prescription status update queue, suppresses recipients inside their
// cooldown window, dispatches the rest to NHS Notify (or fabricates
// acknowledgements when silent running), records per-message state in the
// database, and deletes the messages whose state was recorded.
//
// Cold start:
//  1. Initialize structured logger.
//  2. Load configuration (env > dotenv > SSM parameter resolution).
//  3. Load AWS SDK configuration; build SQS and CloudWatch clients.
//  4. Open the database pool and the state repository.
//  5. Wire the drain/dispatch/persist pipeline and register the handler.
//
// The live/silent dispatch decision is NOT made at cold start: it is read
// from SSM per dispatch via the runtime flag source.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"rxnotify/internal/config"
	"rxnotify/internal/db"
	"rxnotify/internal/notify"
	"rxnotify/internal/pipeline"
	"rxnotify/internal/queue"
	"rxnotify/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info/Warn/Error directly but With returns
// *slog.Logger, not types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

// Handler holds the dependencies for the scheduled worker invocation.
type Handler struct {
	processor *pipeline.Processor
	logger    types.Logger
}

// Handle runs one pipeline invocation. The EventBridge event carries no
// payload the pipeline needs; it is only the trigger.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) error {
	logger := h.logger.With("invocation_id", event.ID)
	logger.Info("scheduled invocation starting", "schedule_time", event.Time.Format(time.RFC3339))

	summary, err := h.processor.Run(ctx)
	if err != nil {
		logger.Error("pipeline run failed",
			"iterations", summary.Iterations,
			"drained", summary.Drained,
			"error", err.Error(),
		)
		return err
	}
	return nil
}

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	typedLogger := &slogAdapter{logger: logger}

	logger.Info("notify-worker initializing (cold start)")

	// Secret resolution: real SSM in deployed environments, plain env vars
	// when running locally.
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") == "local" {
		provider = config.NewEnvVarProvider()
	} else {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		logger.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err.Error())
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open database pool", "error", err.Error())
		os.Exit(1)
	}
	repo := db.NewNotificationStateRepository(pool)

	var deadLetter *queue.DeadLetterForwarder
	if cfg.AWS.DeadLetterQueueURL != "" {
		deadLetter = queue.NewDeadLetterForwarder(
			sqsClient, sqsClient,
			cfg.AWS.NotificationQueueURL, cfg.AWS.DeadLetterQueueURL,
			typedLogger,
		)
	} else {
		typedLogger.Warn("no dead-letter queue configured; unprocessable messages will redeliver")
	}

	drainer := queue.NewDrainer(sqsClient, cfg.AWS.NotificationQueueURL, deadLetter, typedLogger)
	cleaner := queue.NewCleaner(sqsClient, cfg.AWS.NotificationQueueURL, typedLogger)
	metrics := pipeline.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, typedLogger)

	var flagSource config.RuntimeFlagSource
	if cfg.Environment == "local" {
		flagSource = config.StaticRuntimeFlags{Flags: config.RuntimeFlags{
			LiveRequests: false,
			APIBaseURL:   "http://localhost",
		}}
	} else {
		flagSource = config.NewSSMRuntimeFlags(provider, cfg.Notify.LiveRequestsParam, cfg.Notify.APIBaseURLParam)
	}

	httpClient := &http.Client{Timeout: cfg.Notify.RequestTimeout}
	baseClient := notify.NewBaseClient(
		httpClient,
		"nhs-notify",
		notify.RetryPolicy{
			MaxRetries: cfg.Notify.MaxRetries,
			MinWait:    500 * time.Millisecond,
			MaxWait:    10 * time.Second,
		},
		fmt.Sprintf("%s/%s", cfg.Service, cfg.Build.Version),
	)
	builder := notify.NewBatchBuilder(cfg.Notify.RoutingPlanID, typedLogger)

	senderFor := func(ctx context.Context) (pipeline.Sender, error) {
		flags, err := flagSource.Current(ctx)
		if err != nil {
			return nil, err
		}

		var dispatcher notify.Dispatcher
		if flags.LiveRequests {
			tokens, err := notify.NewTokenExchanger(baseClient, flags.APIBaseURL, cfg.Notify)
			if err != nil {
				return nil, err
			}
			dispatcher = notify.NewLiveDispatcher(baseClient, tokens, flags.APIBaseURL, typedLogger)
		} else {
			dispatcher = notify.NewSilentDispatcher(typedLogger)
		}

		return notify.NewRecursiveSplitter(
			builder, dispatcher,
			cfg.Notify.MaxBatchItems, cfg.Notify.MaxBatchBytes,
			typedLogger,
		), nil
	}

	depth := func(ctx context.Context) (queue.QueueDepth, error) {
		return queue.ReportQueueStatus(ctx, sqsClient, cfg.AWS.NotificationQueueURL, typedLogger)
	}

	processor := pipeline.NewProcessor(
		cfg.Pipeline,
		drainer,
		cleaner,
		senderFor,
		repo,
		depth,
		metrics,
		typedLogger,
	)

	handler := &Handler{processor: processor, logger: typedLogger}

	logger.Info("notify-worker initialized",
		"environment", cfg.Environment,
		"queue_url", cfg.AWS.NotificationQueueURL,
		"metric_namespace", cfg.Observability.MetricNamespace,
		"version", cfg.Build.Version,
	)

	// Local mode: run one invocation directly instead of starting the Lambda
	// runtime. Usage: APP_ENV=local go run ./cmd/notify-worker
	if cfg.Environment == "local" {
		event := events.CloudWatchEvent{ID: "local", Time: time.Now()}
		if err := handler.Handle(ctx, event); err != nil {
			logger.Error("local invocation failed", "error", err.Error())
			os.Exit(1)
		}
		pool.Close()
		return
	}

	lambda.Start(handler.Handle)
}
