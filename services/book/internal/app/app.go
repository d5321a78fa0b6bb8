package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"inkwell/internal/ratelimit"
	"inkwell/pkg/ai"
	"inkwell/pkg/events"
	"inkwell/pkg/queue"
	"inkwell/pkg/storage"
	"inkwell/pkg/store"
)

// CleanupQueue schedules removal of objects no document references.
type CleanupQueue interface {
	Enqueue(ctx context.Context, bookID, objectKey string) (queue.CleanupTask, error)
	Start(ctx context.Context, concurrency int, handler queue.Handler)
	Close() error
}

// Limiter meters per-user quotas.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Config holds runtime configuration for the core application. Injected
// collaborators take precedence over the connection settings next to them.
type Config struct {
	DatabaseURL string
	Store       store.Store

	RedisAddr     string
	RedisPassword string
	Queue         CleanupQueue
	Limiter       Limiter

	MinioEndpoint      string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioBucket        string
	MinioUseSSL        bool
	MinioPublicBaseURL string
	Objects            storage.ObjectStore

	AMQPURL      string
	AMQPExchange string
	Publisher    events.Publisher

	ChatBaseURL string
	ChatAPIKey  string
	ChatModel   string
	Generator   ai.TextGenerator

	SuggestionsPerHour int
	CleanupWorkers     int
	Debounce           time.Duration
	SaveTimeout        time.Duration
	Clock              clockwork.Clock
	Logger             *slog.Logger
}

// App wires the document store, editing sessions and the reader features.
type App struct {
	store     store.Store
	covers    *storage.Covers
	queue     CleanupQueue
	limiter   Limiter
	publisher events.Publisher
	suggester *ai.Suggester
	redis     *redis.Client

	cleanupWorkers int
	debounce       time.Duration
	saveTimeout    time.Duration
	clock          clockwork.Clock
	logger         *slog.Logger

	sessions *sessionRegistry
	unsaved  *unsavedCovers

	closeOnce sync.Once
}

func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		queue:          cfg.Queue,
		limiter:        cfg.Limiter,
		publisher:      cfg.Publisher,
		cleanupWorkers: cfg.CleanupWorkers,
		debounce:       cfg.Debounce,
		saveTimeout:    cfg.SaveTimeout,
		clock:          cfg.Clock,
		logger:         logger,
		sessions:       newSessionRegistry(),
		unsaved:        newUnsavedCovers(),
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}
	if a.cleanupWorkers <= 0 {
		a.cleanupWorkers = 2
	}

	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
	}

	a.store = cfg.Store
	if a.store == nil {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("database URL required")
		}
		var opts []store.GormStoreOption
		if a.redis != nil {
			opts = append(opts, store.WithFeed(store.NewRedisFeedWithClient(a.redis, "")))
		}
		gs, err := store.NewGormStore(cfg.DatabaseURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("init document store: %w", err)
		}
		a.store = gs
	}

	objects := cfg.Objects
	if objects == nil && cfg.MinioEndpoint != "" {
		ms, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		objects = ms
	}
	if objects != nil {
		a.covers = storage.NewCovers(objects)
	}

	if a.queue == nil && a.redis != nil {
		q, err := queue.NewRedisCleanupQueueWithClient(a.redis, queue.RedisConfig{Stream: "inkwell:cleanup"})
		if err != nil {
			return nil, fmt.Errorf("init cleanup queue: %w", err)
		}
		a.queue = q
	}
	if a.limiter == nil && a.redis != nil && cfg.SuggestionsPerHour > 0 {
		l, err := ratelimit.NewFixedWindowLimiter(a.redis, ratelimit.Config{
			Prefix: "inkwell:ratelimit:suggest",
			Limit:  cfg.SuggestionsPerHour,
			Window: time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("init rate limiter: %w", err)
		}
		a.limiter = l
	}

	if a.publisher == nil {
		if cfg.AMQPURL != "" {
			p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
			if err != nil {
				return nil, fmt.Errorf("init event publisher: %w", err)
			}
			a.publisher = p
		} else {
			a.publisher = events.NopPublisher{}
		}
	}

	gen := cfg.Generator
	if gen == nil && cfg.ChatBaseURL != "" {
		g, err := ai.NewChatGenerator(ai.ChatConfig{
			BaseURL:     cfg.ChatBaseURL,
			APIKey:      cfg.ChatAPIKey,
			Model:       cfg.ChatModel,
			Temperature: 0.8,
			MaxTokens:   600,
		})
		if err != nil {
			return nil, fmt.Errorf("init suggestion model: %w", err)
		}
		gen = g
	}
	if gen != nil {
		a.suggester = ai.NewSuggester(gen)
	}
	return a, nil
}

// Start runs background workers until ctx is done.
func (a *App) Start(ctx context.Context) {
	if a.queue != nil {
		a.queue.Start(ctx, a.cleanupWorkers, a.handleCleanup)
	}
}

// Close ends every editing session and releases connections.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		for _, s := range a.sessions.drain() {
			s.Close()
		}
		if a.queue != nil {
			errs = append(errs, a.queue.Close())
		}
		errs = append(errs, a.publisher.Close())
		errs = append(errs, a.store.Close())
		if a.redis != nil {
			errs = append(errs, a.redis.Close())
		}
	})
	return errors.Join(errs...)
}

func (a *App) handleCleanup(ctx context.Context, task queue.CleanupTask) error {
	if a.covers == nil {
		return ErrCoversUnavailable
	}
	if err := a.covers.Delete(ctx, task.ObjectKey); err != nil {
		return err
	}
	a.logger.Info("orphaned cover removed", "book_id", task.BookID, "key", task.ObjectKey, "attempt", task.Attempt)
	return nil
}

// discardCover queues removal of a cover this service uploaded; external
// URLs are left alone.
func (a *App) discardCover(ctx context.Context, bookID, coverURL string) {
	key, ok := storage.KeyFromURL(coverURL)
	if !ok || a.covers == nil {
		return
	}
	if a.queue == nil {
		if err := a.covers.Delete(ctx, key); err != nil {
			a.logger.Warn("cover delete failed", "book_id", bookID, "key", key, "err", err)
		}
		return
	}
	if _, err := a.queue.Enqueue(ctx, bookID, key); err != nil {
		a.logger.Warn("cover cleanup enqueue failed", "book_id", bookID, "key", key, "err", err)
	}
}
