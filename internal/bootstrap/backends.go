package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/docdesk/internal/config"
	"github.com/kirillkom/docdesk/internal/core/ports"
	"github.com/kirillkom/docdesk/internal/infrastructure/extractor/native"
	"github.com/kirillkom/docdesk/internal/infrastructure/extractor/placeholder"
	jwtidentity "github.com/kirillkom/docdesk/internal/infrastructure/identity/jwt"
	oidcidentity "github.com/kirillkom/docdesk/internal/infrastructure/identity/oidc"
	"github.com/kirillkom/docdesk/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/docdesk/internal/infrastructure/llm/mock"
	"github.com/kirillkom/docdesk/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docdesk/internal/infrastructure/queue/inproc"
	natsqueue "github.com/kirillkom/docdesk/internal/infrastructure/queue/nats"
	sqsqueue "github.com/kirillkom/docdesk/internal/infrastructure/queue/sqs"
	"github.com/kirillkom/docdesk/internal/infrastructure/ratelimit"
	"github.com/kirillkom/docdesk/internal/infrastructure/repository/memory"
	"github.com/kirillkom/docdesk/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docdesk/internal/infrastructure/resilience"
	"github.com/kirillkom/docdesk/internal/infrastructure/storage/localfs"
	miniostore "github.com/kirillkom/docdesk/internal/infrastructure/storage/minio"
	s3store "github.com/kirillkom/docdesk/internal/infrastructure/storage/s3"
	"github.com/kirillkom/docdesk/internal/infrastructure/storage/urlcache"
)

const (
	schedulerNATS   = "nats"
	schedulerSQS    = "sqs"
	schedulerInProc = "inproc"

	rateLimitMaxKeys = 10000
	rateLimitIdleTTL = 10 * time.Minute
)

func (a *App) newRepository(ctx context.Context) (ports.DocumentRepository, error) {
	cfg := a.Config
	switch cfg.RepositoryBackend {
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.onClose(db.Close)
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(ctx, db, "up"); err != nil {
				return nil, fmt.Errorf("migrate on start: %w", err)
			}
		}
		return postgres.NewDocumentRepository(db), nil
	case "memory":
		if cfg.SchedulerBackend != schedulerInProc {
			return nil, fmt.Errorf("memory repository requires the %s scheduler", schedulerInProc)
		}
		return memory.NewDocumentRepository(), nil
	default:
		return nil, unknownBackend("repository", cfg.RepositoryBackend)
	}
}

func (a *App) newBlobStore(ctx context.Context) (ports.BlobStore, error) {
	cfg := a.Config
	var store ports.BlobStore
	switch cfg.StorageBackend {
	case "local":
		local, err := localfs.New(cfg.StoragePath, cfg.PublicURL, cfg.StorageSigningSecret)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		a.LocalBlobs = local
		store = local
	case "s3":
		bucket, err := s3store.New(ctx, s3store.Options{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		store = bucket
	case "minio":
		mc, err := miniostore.New(miniostore.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			Region:    cfg.MinIORegion,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		if err := mc.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure minio bucket: %w", err)
		}
		store = mc
	default:
		return nil, unknownBackend("storage", cfg.StorageBackend)
	}

	if cfg.DownloadURLCacheSize > 0 {
		store = urlcache.Wrap(store, cfg.DownloadURLCacheSize, cfg.DownloadURLTTL)
	}
	return store, nil
}

func (a *App) newScheduler(ctx context.Context, executor *resilience.Executor) (ports.Scheduler, error) {
	cfg := a.Config
	switch cfg.SchedulerBackend {
	case schedulerNATS:
		q, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
			ResilienceExecutor: executor,
			Stream:             cfg.NATSStream,
			Group:              cfg.NATSGroup,
			AckWait:            cfg.NATSAckWait,
			MaxDeliver:         cfg.NATSMaxDeliver,
			Logger:             a.Logger,
			LagObserver:        a.WorkerMetrics.ObserveQueueLag,
		})
		if err != nil {
			return nil, fmt.Errorf("init nats scheduler: %w", err)
		}
		a.onClose(func() error {
			q.Close()
			return nil
		})
		return q, nil
	case schedulerSQS:
		q, err := sqsqueue.New(ctx, cfg.SQSQueueURL, sqsqueue.Options{
			Region:             cfg.SQSRegion,
			Endpoint:           cfg.SQSEndpoint,
			VisibilityTimeout:  cfg.ProcessTimeout + time.Minute,
			Concurrency:        cfg.SQSConcurrency,
			ResilienceExecutor: executor,
			Logger:             a.Logger,
			LagObserver:        a.WorkerMetrics.ObserveQueueLag,
		})
		if err != nil {
			return nil, fmt.Errorf("init sqs scheduler: %w", err)
		}
		return q, nil
	case schedulerInProc:
		if a.Role == RoleWorker {
			return nil, fmt.Errorf("the %s scheduler runs inside the api process", schedulerInProc)
		}
		return inproc.New(inproc.Options{Logger: a.Logger}), nil
	default:
		return nil, unknownBackend("scheduler", cfg.SchedulerBackend)
	}
}

func newExtractor(cfg config.Config, blobs ports.BlobStore) (ports.ContentExtractor, error) {
	switch cfg.ExtractorBackend {
	case "placeholder":
		return placeholder.NewExtractor(blobs), nil
	case "native":
		return native.NewExtractor(blobs), nil
	default:
		return nil, unknownBackend("extractor", cfg.ExtractorBackend)
	}
}

func (a *App) newEngine(ctx context.Context, executor *resilience.Executor) (ports.AnalysisEngine, error) {
	cfg := a.Config
	switch cfg.AnalysisBackend {
	case "mock":
		return mock.NewEngine(), nil
	case "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaTimeout)
		return ollama.NewEngine(client, executor), nil
	case "gemini":
		engine, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, executor)
		if err != nil {
			return nil, fmt.Errorf("init gemini engine: %w", err)
		}
		a.onClose(engine.Close)
		return engine, nil
	default:
		return nil, unknownBackend("analysis", cfg.AnalysisBackend)
	}
}

func (a *App) newIdentity(ctx context.Context) (ports.IdentityVerifier, error) {
	cfg := a.Config
	switch cfg.AuthMode {
	case "jwt":
		verifier, err := jwtidentity.NewVerifier(cfg.JWTSecret, jwtidentity.Options{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		})
		if err != nil {
			return nil, fmt.Errorf("init jwt verifier: %w", err)
		}
		return verifier, nil
	case "oidc":
		verifier, err := oidcidentity.NewVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCSubjectClaim)
		if err != nil {
			return nil, fmt.Errorf("init oidc verifier: %w", err)
		}
		return verifier, nil
	default:
		return nil, unknownBackend("auth", cfg.AuthMode)
	}
}

// newLimiter returns nil when rate limiting is switched off.
func (a *App) newLimiter(ctx context.Context) (ports.RateLimiter, error) {
	cfg := a.Config
	switch cfg.RateLimitBackend {
	case "off", "":
		return nil, nil
	case "memory":
		return ratelimit.NewMemory(cfg.RateLimitRPS, cfg.RateLimitBurst, rateLimitMaxKeys, rateLimitIdleTTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.onClose(client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			a.Logger.Warn("redis_unavailable_at_start", "addr", cfg.RedisAddr, "error", err)
		}
		return ratelimit.NewRedis(client, cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitWindow), nil
	default:
		return nil, unknownBackend("rate limit", cfg.RateLimitBackend)
	}
}
