// Package main is the entrypoint for the callback-api service.
//
// It exposes the provider status callback endpoint: NHS Notify POSTs signed
// MessageStatus payloads here when a message's delivery status changes, and
// the handler folds them into the notification state store.
//
// Inside AWS Lambda the chi router is driven through a small API Gateway
// proxy adapter; outside Lambda (APP_ENV=local, containers) it runs as a
// standard HTTP server with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rxnotify/internal/callback"
	"rxnotify/internal/config"
	"rxnotify/internal/db"
	"rxnotify/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
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

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") == "local" {
		provider = config.NewEnvVarProvider()
	} else {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	typedLogger := &slogAdapter{logger: logger}

	logger.Info("callback-api starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"port", cfg.Callback.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}
	defer pool.Close()
	repo := db.NewNotificationStateRepository(pool)

	verifier := callback.NewSignatureVerifier(
		cfg.Callback.AppName.Unmask(),
		cfg.Callback.APIKey.Unmask(),
	)
	handler := callback.NewHandler(
		verifier,
		cfg.Callback.APIKey.Unmask(),
		repo,
		cfg.Callback.RefreshTTL,
		typedLogger,
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/healthcheck", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	handler.RegisterRoutes(router)

	if isLambdaEnvironment() {
		lambda.Start(newProxyHandler(router))
		return nil
	}

	return runHTTPServer(router, cfg, logger)
}

// isLambdaEnvironment reports whether the process is running inside the AWS
// Lambda runtime.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}

// newProxyHandler adapts API Gateway proxy events onto the chi router. The
// callback surface is two small routes, so a recorder-based bridge keeps the
// Lambda path on exactly the same handler code as the HTTP path.
func newProxyHandler(router http.Handler) func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		body := event.Body
		if event.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(event.Body)
			if err != nil {
				return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
			}
			body = string(decoded)
		}

		req, err := http.NewRequestWithContext(ctx, event.HTTPMethod, event.Path, strings.NewReader(body))
		if err != nil {
			return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
		}
		for k, v := range event.Headers {
			req.Header.Set(k, v)
		}

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		headers := make(map[string]string, len(rec.Header()))
		for k, vals := range rec.Header() {
			if len(vals) > 0 {
				headers[k] = vals[0]
			}
		}

		return events.APIGatewayProxyResponse{
			StatusCode: rec.Code,
			Headers:    headers,
			Body:       rec.Body.String(),
		}, nil
	}
}

// runHTTPServer starts the router as a standard HTTP server with graceful
// shutdown.
func runHTTPServer(router http.Handler, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Callback.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	logger.Info("callback-api stopped")
	return nil
}
