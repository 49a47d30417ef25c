package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/aws"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/broadcast"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/changefeed"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/config"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/logging"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/metrics"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	clients, err := aws.NewClients(ctx, aws.Options{Region: cfg.AWSRegion, EndpointOverride: cfg.EndpointOverride})
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	var recorder metrics.Recorder = metrics.Nop{}
	var cw *metrics.CloudWatch
	if cfg.MetricsEnabled {
		cw = metrics.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace, logger)
		recorder = cw
	}
	flush := func(ctx context.Context) {
		if cw == nil {
			return
		}
		if err := cw.Flush(ctx); err != nil {
			logger.Warn("metrics flush failed", zap.Error(err))
		}
	}

	store := orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	mirror := broadcast.NewRedisStore(broadcast.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), logger)
	projector := changefeed.NewProjector(store, mirror, logger, recorder)

	// RUN_LOCAL=true re-projects the order ids given as arguments, e.g. to
	// repair the mirror after an outage.
	if cfg.RunLocal {
		failed := false
		for _, id := range os.Args[1:] {
			if err := projector.Project(ctx, id); err != nil {
				logger.Error("re-project failed", zap.String("order_id", id), zap.Error(err))
				failed = true
			}
		}
		flush(ctx)
		if failed {
			os.Exit(1)
		}
		return
	}

	if cfg.ChangeFeed == config.FeedStream {
		lambda.Start(func(ctx context.Context, ev events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
			defer flush(ctx)
			return projector.HandleStream(ctx, ev)
		})
		return
	}
	lambda.Start(func(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
		defer flush(ctx)
		return projector.HandleSQS(ctx, ev)
	})
}
