package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"eventscrape/internal/config"
	appLog "eventscrape/internal/log"
	"eventscrape/internal/metrics"
	"eventscrape/internal/pipeline"
)

func main() {
	// A local .env is optional; real deployments inject the environment.
	if err := godotenv.Load(); err == nil {
		appLog.Debug("loaded .env")
	}

	configPath := os.Getenv("EVENTS_CONFIG")
	conf, code := pipeline.Startup(configPath, pipeline.Deps{})
	if conf == nil {
		os.Exit(code)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"regions", conf.Regions,
		"within", conf.Within,
		"days", conf.Days,
		"filter", conf.FilterStrategy,
		"out_file", conf.OutFile,
		"out_format", conf.OutFormat,
		"schedule", conf.Schedule,
	)

	if _, ok := os.LookupEnv("AWS_LAMBDA_FUNCTION_NAME"); ok {
		lambda.Start(lambdaHandler(conf))
		return
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if conf.Schedule == "" {
		code := pipeline.Execute(ctx, conf, pipeline.Deps{})
		cancel()
		os.Exit(code)
	}

	os.Exit(runScheduled(ctx, conf))
}

// lambdaHandler runs one snapshot per invocation. The event body is ignored.
func lambdaHandler(conf *config.Config) func(context.Context, json.RawMessage) error {
	deps := pipeline.Deps{Metrics: metrics.NewRun()}
	return func(ctx context.Context, _ json.RawMessage) error {
		if code := pipeline.Execute(ctx, conf, deps); code != pipeline.ExitOK {
			return fmt.Errorf("snapshot failed with exit code %d", code)
		}
		return nil
	}
}

// runScheduled takes one snapshot immediately and then one per cron tick
// until ctx is canceled. A missing credential is fatal and ends the loop.
// All runs share one metrics.Run so the textfile keeps the last success.
func runScheduled(ctx context.Context, conf *config.Config) int {
	deps := pipeline.Deps{Metrics: metrics.NewRun()}
	if code := pipeline.Execute(ctx, conf, deps); code == pipeline.ExitMissingToken {
		return code
	}

	c := cron.New(cron.WithLogger(cronLogger{}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	if _, err := c.AddFunc(conf.Schedule, func() {
		pipeline.Execute(ctx, conf, deps)
	}); err != nil {
		appLog.Error("invalid schedule", err, "schedule", conf.Schedule)
		return pipeline.ExitFailure
	}

	appLog.Info("scheduler started", "schedule", conf.Schedule)
	c.Start()
	<-ctx.Done()

	// Wait for a running snapshot to finish writing.
	<-c.Stop().Done()
	appLog.Info("eventscrape exiting")
	return pipeline.ExitOK
}

// cronLogger routes cron's own logging through appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
