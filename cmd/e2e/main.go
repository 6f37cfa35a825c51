package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"batchpub/internal/pub"
	"batchpub/internal/pub/batcher"
	"batchpub/internal/pub/metrics"
	"batchpub/internal/pub/router"
	"batchpub/internal/pub/tracing"
	"batchpub/internal/pub/transport"
)

type Config struct {
	CouchbaseConnectionString string        `env:"COUCHBASE_CONNECTION_STRING" envDefault:"couchbase://localhost"`
	CouchbaseUsername         string        `env:"COUCHBASE_USERNAME" envDefault:"Administrator"`
	CouchbasePassword         string        `env:"COUCHBASE_PASSWORD" envDefault:"password"`
	CouchbaseBucketName       string        `env:"COUCHBASE_BUCKET_NAME" envDefault:"pubsub"`
	CouchbaseScopeName        string        `env:"COUCHBASE_SCOPE_NAME" envDefault:"default"`
	Topic                     string        `env:"TOPIC" envDefault:"orders"`
	MessageCount              int           `env:"MESSAGE_COUNT" envDefault:"1000"`
	OrderingKeyCount          int           `env:"ORDERING_KEY_COUNT" envDefault:"8"`
	BatchMaxMessages          int           `env:"BATCH_MAX_MESSAGES" envDefault:"100"`
	BatchMaxBytes             int           `env:"BATCH_MAX_BYTES" envDefault:"1048576"`
	BatchMaxHoldTime          time.Duration `env:"BATCH_MAX_HOLD_TIME" envDefault:"10ms"`
	LogLevel                  string        `env:"LOG_LEVEL" envDefault:"info"`
	MetricsPort               int           `env:"METRICS_PORT" envDefault:"9090"`
	MetricsTimeout            time.Duration `env:"METRICS_TIMEOUT" envDefault:"30s"`
	TracingServiceName        string        `env:"TRACING_SERVICE_NAME" envDefault:"batchpub-e2e"`
	TracingServiceVersion     string        `env:"TRACING_SERVICE_VERSION" envDefault:"1.0.0"`
	OTLPEndpoint              string        `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TracingSampleRate         float64       `env:"TRACING_SAMPLE_RATE" envDefault:"1.0"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", cfg.LogLevel, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cluster, bucket, err := newCouchbase(cfg)
	if err != nil {
		log.Fatalf("failed to connect to Couchbase: %v", err)
	}

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo("e2e-test", time.Now().Format(time.RFC3339))

	metricsServer := metrics.NewServer(
		metrics.ServerConfig{
			Port:    cfg.MetricsPort,
			Timeout: cfg.MetricsTimeout,
		},
		metricsRegistry,
		logger,
	)

	go func() {
		if err := metricsServer.Start(context.Background()); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.MetricsPort)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.MetricsPort)),
	)

	tracingConfig := tracing.Config{
		ServiceName:    cfg.TracingServiceName,
		ServiceVersion: cfg.TracingServiceVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TracingSampleRate,
	}
	tracer, tracingCleanup, err := tracing.NewTracer(tracingConfig)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	baseTransport, err := transport.NewCouchbase(cluster, bucket, cfg.CouchbaseScopeName, logger)
	if err != nil {
		log.Fatalf("failed to create couchbase transport: %v", err)
	}
	sendTransport := transport.NewMetricsTransport(baseTransport, metricsRegistry)

	exec := pub.GoExecutor{}
	opts := batcher.Options{
		MaxMessages: cfg.BatchMaxMessages,
		MaxBytes:    cfg.BatchMaxBytes,
		MaxHoldTime: cfg.BatchMaxHoldTime,
	}

	factory := func(orderingKey string) pub.Publisher {
		b, err := batcher.New(cfg.Topic, sendTransport, exec, logger, opts)
		if err != nil {
			// A factory that cannot construct is a configuration error.
			log.Fatalf("failed to create batcher for key %q: %v", orderingKey, err)
		}
		m := batcher.NewMetricsPublisher(b, metricsRegistry, cfg.Topic)
		return batcher.NewTracedPublisher(m, tracer, cfg.Topic)
	}

	rtr, err := router.New(factory, logger)
	if err != nil {
		log.Fatalf("failed to create router: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	now := time.Now()
	results := make([]*pub.PublishResult, 0, cfg.MessageCount)
	for i := 0; i < cfg.MessageCount; i++ {
		key := fmt.Sprintf("key-%d", rand.Intn(cfg.OrderingKeyCount))
		msg := pub.Message{
			OrderingKey: key,
			Data:        []byte(fmt.Sprintf("order %d for %s", i, key)),
			Attributes: map[string]string{
				"seq": fmt.Sprintf("%d", i),
			},
		}
		results = append(results, rtr.Publish(msg))
	}

	metricsRegistry.SetOrderingKeys(cfg.Topic, rtr.KeyCount())
	rtr.Flush()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(32)
	for _, res := range results {
		g.Go(func() error {
			id, err := res.Get(gctx)
			if err != nil {
				return fmt.Errorf("publish failed: %w", err)
			}
			logger.Debug("message acknowledged", zap.String("id", id))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("error waiting for publish results", zap.Error(err))
	} else {
		logger.Info("all messages acknowledged",
			zap.Int("count", len(results)),
			zap.Int("ordering_keys", rtr.KeyCount()),
		)
	}

	if off, err := baseTransport.Offset(context.Background(), cfg.Topic); err != nil {
		logger.Error("failed to read topic offset", zap.Error(err))
	} else {
		logger.Info("topic offset after publish", zap.Uint64("offset", off))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", zap.Error(err))
	}

	fmt.Printf("\n\n TEST COMPLETE IN %.2f seconds\n", time.Since(now).Seconds())
}

func newCouchbase(config Config) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(config.CouchbaseConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: config.CouchbaseUsername,
			Password: config.CouchbasePassword,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: 10 * time.Second,
			KVTimeout:      5 * time.Second,
			QueryTimeout:   30 * time.Second,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(config.CouchbaseBucketName)

	err = bucket.WaitUntilReady(5*time.Second, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("bucket not ready: %w", err)
	}

	return cluster, bucket, nil
}
