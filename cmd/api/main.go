package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"go.uber.org/zap"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/aws"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/broadcast"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/changefeed"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/config"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/coordinator"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/handlers"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/idempotency"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/logging"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/metrics"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/subscription"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	store := orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	mirror := broadcast.NewRedisStore(broadcast.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), logger)

	var publisher changefeed.Publisher
	switch cfg.ChangeFeed {
	case config.FeedSQS:
		publisher = changefeed.NewSQSPublisher(clients.SQS, cfg.QueueURL)
	case config.FeedStream:
		publisher = changefeed.Nop{}
	default:
		publisher = changefeed.NewLocalPublisher(changefeed.NewProjector(store, mirror, logger, recorder))
	}

	coord := coordinator.New(store, publisher,
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(recorder),
		coordinator.WithIdempotency(idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)),
		coordinator.WithRetryPolicy(coordinator.RetryPolicy{
			MaxAttempts:     cfg.DurableMaxAttempts,
			InitialInterval: cfg.DurableInitialBackoff,
		}),
		coordinator.WithPublishTimeout(cfg.MirrorTimeout),
	)
	defer func() { _ = coord.Close() }()

	hcfg := handlers.HandlerConfig{
		Coordinator: coord,
		Mirror:      mirror,
		Log:         logger,
	}

	// if RUN_LOCAL is set, run a long-lived HTTP server; streams need it.
	if cfg.RunLocal {
		subs := subscription.NewManager(mirror, store,
			subscription.WithLogger(logger),
			subscription.WithMetrics(recorder),
			subscription.WithGracePeriod(cfg.SubscriptionGrace),
			subscription.WithPollInterval(cfg.SubscriptionPoll),
			subscription.WithResubscribeInterval(cfg.SubscriptionResubEvery),
		)
		defer subs.Close()
		hcfg.Subscriptions = subs

		if cw != nil {
			go cw.Run(ctx, time.Minute)
		}
		serve(ctx, logger, cfg.ListenAddr, handlers.NewRouter(hcfg))
		return
	}

	adapter := ginadapter.New(handlers.NewRouter(hcfg))
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		// the runtime freezes once we return; finish mirroring and metrics first
		coord.Wait()
		if cw != nil {
			if ferr := cw.Flush(ctx); ferr != nil {
				logger.Warn("metrics flush failed", zap.Error(ferr))
			}
		}
		return resp, err
	})
}

func serve(ctx context.Context, logger *zap.Logger, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("running local server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("failed to run local server", zap.Error(err))
	}
}
