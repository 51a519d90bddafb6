package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	applogger "github.com/Reyuuh/eshop-soulcaller-backend/common/logger"
	"github.com/Reyuuh/eshop-soulcaller-backend/config"
	"github.com/Reyuuh/eshop-soulcaller-backend/database"
	"github.com/Reyuuh/eshop-soulcaller-backend/kafka"
	awspkg "github.com/Reyuuh/eshop-soulcaller-backend/pkg/aws"
	"github.com/Reyuuh/eshop-soulcaller-backend/pkg/idempotency"
	"github.com/Reyuuh/eshop-soulcaller-backend/repository"
	"github.com/Reyuuh/eshop-soulcaller-backend/services"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	serviceName      = "storefront-api"
	metricsNamespace = "Storefront"
	webhookDedupTTL  = 72 * time.Hour
)

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	aws     *aws.Config
	metrics *awspkg.MetricsClient
	redis   *redis.Client
	closers []func() error
}

// bootstrap loads config, overlays secrets, builds the logger and opens the
// database. AWS and CloudWatch failures are logged and skipped.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	a := &app{cfg: cfg}
	var warnings []error

	awsCfg, err := awspkg.LoadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		warnings = append(warnings, err)
	} else {
		a.aws = &awsCfg
	}

	if cfg.AWSUseSecrets {
		if a.aws == nil {
			return nil, errors.New("AWS_USE_SECRETS=true but no AWS config could be loaded")
		}
		if err := cfg.ApplySecrets(ctx, awspkg.NewSecretsClient(awsCfg)); err != nil {
			return nil, fmt.Errorf("failed to load secrets: %w", err)
		}
	}

	var sink io.Writer
	if cfg.CloudWatchEnabled && a.aws != nil {
		cw, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("cloudwatch logs disabled: %w", err))
		} else {
			sink = cw
		}
	}

	a.logger, err = applogger.New(cfg.AppEnv, sink)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	for _, w := range warnings {
		a.logger.Warn("Startup degraded (non-fatal)", zap.Error(w))
	}

	if a.aws != nil {
		a.metrics = awspkg.NewMetricsClient(awsCfg, metricsNamespace, cfg.CloudWatchEnabled)
	}

	if err := cfg.ValidateDatabase(); err != nil {
		return nil, err
	}
	a.db, err = database.Connect(cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.onClose(func() error { return database.Close(a.db) })

	return a, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("Shutdown step failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// connectRedis returns nil when REDIS_URL is unset. An unreachable server is
// kept: callers degrade per operation.
func (a *app) connectRedis(ctx context.Context) *redis.Client {
	if a.cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		a.logger.Warn("Invalid REDIS_URL, running without cache", zap.Error(err))
		return nil
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		a.logger.Warn("Redis unreachable (non-fatal)", zap.Error(err))
	}
	a.onClose(rdb.Close)
	a.redis = rdb
	return rdb
}

// publisher fans order events out to every configured sink.
func (a *app) publisher() services.EventPublisher {
	var sinks services.MultiPublisher
	if len(a.cfg.KafkaBrokers) > 0 {
		producer := kafka.NewOrderEventProducer(a.cfg.KafkaBrokers, a.cfg.OrderEventsTopic)
		a.onClose(producer.Close)
		sinks = append(sinks, producer)
	}
	if a.cfg.OrderSNSTopicARN != "" && a.aws != nil {
		sinks = append(sinks, services.NewSNSEventPublisher(awspkg.NewSNSClient(*a.aws), a.cfg.OrderSNSTopicARN))
	}
	if len(sinks) == 0 {
		return services.NoopPublisher{}
	}
	return sinks
}

func (a *app) presigner() services.ImagePresigner {
	if a.cfg.ProductImageBucket == "" || a.aws == nil {
		return nil
	}
	return awspkg.NewPresigner(*a.aws, a.cfg.ProductImageBucket)
}

// domain wires the repositories and services used by the commands.
type domain struct {
	store    *repository.GormStore
	users    repository.UserRepository
	catalog  *services.CatalogService
	orders   *services.OrderService
	checkout *services.CheckoutService
}

func (a *app) buildDomain(ctx context.Context) *domain {
	rdb := a.connectRedis(ctx)
	events := a.publisher()

	var dedup services.Deduper
	if rdb != nil {
		dedup = idempotency.NewStore(rdb, webhookDedupTTL)
	}

	store := repository.NewGormStore(a.db)
	catalog := services.NewCatalogService(repository.NewGormCategoryRepository(a.db), store.Products(), rdb, a.presigner(), a.logger)
	gateway := services.NewStripeGateway(a.cfg.StripeSecretKey, a.cfg.StripeWebhookKey, a.cfg.StripeTimeout)

	return &domain{
		store:   store,
		users:   repository.NewGormUserRepository(a.db),
		catalog: catalog,
		orders:  services.NewOrderService(store, catalog, events, a.logger),
		checkout: services.NewCheckoutService(store, gateway, catalog, events, dedup, a.metrics, a.logger, services.CheckoutConfig{
			Currency:       a.cfg.StripeCurrency,
			SuccessURL:     a.cfg.CheckoutSuccessURL,
			CancelURL:      a.cfg.CheckoutCancelURL,
			PersistTimeout: a.cfg.PersistTimeout,
		}),
	}
}
