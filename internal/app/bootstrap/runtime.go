package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/wolfman30/rental-ops/internal/catalog"
	appconfig "github.com/wolfman30/rental-ops/internal/config"
	"github.com/wolfman30/rental-ops/internal/documents"
	"github.com/wolfman30/rental-ops/internal/kommo"
	"github.com/wolfman30/rental-ops/internal/notify"
	"github.com/wolfman30/rental-ops/internal/observability/metrics"
	"github.com/wolfman30/rental-ops/internal/recognition"
	"github.com/wolfman30/rental-ops/internal/salesorder"
	"github.com/wolfman30/rental-ops/internal/store"
	"github.com/wolfman30/rental-ops/internal/webhook"
	"github.com/wolfman30/rental-ops/pkg/logging"
)

// postgresConnectWindow bounds how long startup waits for the database.
var postgresConnectWindow = 2 * time.Minute

// Runtime is everything a binary needs to serve Kommo webhooks.
type Runtime struct {
	Processor *webhook.Processor
	Metrics   *metrics.PipelineMetrics
	Redis     *redis.Client

	closers []func()
}

// Close releases the database pool and Redis connection.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, drive url cache disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildDatastore connects to Postgres with exponential backoff. Without a
// DATABASE_URL the in-memory store is returned so local runs need no database.
func BuildDatastore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (store.Datastore, func(), error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set, using in-memory datastore")
		return store.NewMemory(), func() {}, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = postgresConnectWindow
	policy.MaxInterval = 15 * time.Second

	var pool *pgxpool.Pool
	err := backoff.RetryNotify(
		func() error {
			p, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				// a malformed URL will never succeed
				return backoff.Permanent(fmt.Errorf("parse database url: %w", err))
			}
			if err := p.Ping(ctx); err != nil {
				p.Close()
				return fmt.Errorf("ping: %w", err)
			}
			pool = p
			return nil
		},
		backoff.WithContext(policy, ctx),
		func(err error, next time.Duration) {
			logger.Warn("postgres connection failed, retrying", "error", err, "next_attempt_in", next.String())
		},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	logger.Info("connected to postgres")
	return store.NewPostgres(pool), pool.Close, nil
}

// BuildNotifier assembles the operator notifier. SendGrid wins over SES when
// both are configured.
func BuildNotifier(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *notify.Notifier {
	var email notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		email = sg
	} else if awsCfg != nil {
		if ses := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); ses != nil {
			email = ses
		}
	}
	return notify.NewNotifier(notify.NotifierConfig{
		Telegram: notify.NewTelegramSender(cfg.TelegramBotToken, cfg.TelegramChatID),
		Email:    email,
		OpsEmail: cfg.OpsEmail,
		Logger:   logger,
	})
}

// BuildRuntime wires the Kommo client, datastore, document sync and the
// downstream collaborators into a webhook processor. awsCfg may be nil, in
// which case document storage, recognition and SES are disabled.
func BuildRuntime(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, reg prometheus.Registerer, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	rt := &Runtime{Metrics: metrics.NewPipelineMetrics(reg)}

	kommoClient, err := kommo.New(kommo.Config{
		BaseURL:     cfg.KommoBaseURL,
		AccessToken: cfg.KommoAccessToken,
		MaxRetries:  cfg.KommoMaxRetries,
		BaseDelay:   cfg.KommoRetryBaseDelay,
		MaxDelay:    cfg.KommoRetryMaxDelay,
		RateLimit:   cfg.KommoRateLimitRPS,
		Timeout:     cfg.KommoTimeout,
		Logger:      logger,
		Metrics:     rt.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	db, closeDB, err := BuildDatastore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeDB)

	rt.Redis = BuildRedisClient(ctx, cfg, logger, true)
	if rt.Redis != nil {
		client := rt.Redis
		rt.closers = append(rt.closers, func() { _ = client.Close() })
	}

	cat := catalog.New(cfg)
	vatRate := decimal.NewFromFloat(cfg.VATRate)
	procCfg := webhook.Config{
		Kommo:            kommoClient,
		Catalog:          cat,
		Datastore:        db,
		Notifier:         BuildNotifier(cfg, awsCfg, logger),
		Metrics:          rt.Metrics,
		Logger:           logger,
		Secret:           cfg.KommoWebhookSecret,
		EnforceSignature: cfg.KommoEnforceSignature,
		Concurrency:      cfg.WebhookEventConcurrency,
		VATRate:          &vatRate,
		Timeout:          cfg.WebhookPipelineTimeout,
	}

	if creator := salesorder.NewHTTPCreator(cfg.SalesOrderURL, cfg.SalesOrderToken, cfg.SalesOrderTimeout, logger); creator != nil {
		procCfg.SalesOrders = creator
	} else {
		logger.Info("sales order bridge not configured")
	}

	if awsCfg != nil {
		if strings.TrimSpace(cfg.DocumentsBucket) != "" {
			procCfg.Documents = documents.NewSyncer(documents.SyncerConfig{
				Kommo:       kommoClient,
				Drive:       documents.NewDriveURLResolver(cfg.KommoDriveURL, kommoClient, rt.Redis, logger),
				Blobs:       documents.NewS3Store(s3.NewFromConfig(*awsCfg), cfg.DocumentsBucket),
				Repo:        documents.NewRepository(db),
				Catalog:     cat,
				Concurrency: cfg.DocumentSyncConcurrency,
				Logger:      logger,
				Metrics:     rt.Metrics,
			})
		}
		procCfg.Recognition = recognition.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.RecognitionQueueURL, logger)
	} else {
		logger.Warn("aws not configured, document sync and recognition disabled")
	}

	rt.Processor = webhook.NewProcessor(procCfg)
	return rt, nil
}
