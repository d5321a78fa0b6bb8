package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"inkwell/internal/util"
)

// CleanupTask asks a worker to remove an object that no document references
// any more, such as the cover of a deleted book.
type CleanupTask struct {
	ID        string    `json:"id"`
	BookID    string    `json:"bookId"`
	ObjectKey string    `json:"objectKey"`
	Attempt   int       `json:"attempt"`
	LastError string    `json:"lastError,omitempty"`
	QueuedAt  time.Time `json:"queuedAt"`
}

type Handler func(ctx context.Context, task CleanupTask) error

type RedisConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
}

// RedisCleanupQueue is a Redis streams work queue with a dead-letter stream for
// tasks that keep failing.
type RedisCleanupQueue struct {
	client       *redis.Client
	stream       string
	deadStream   string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	logger       *slog.Logger
	once         sync.Once
	groupErr     error
}

func NewRedisCleanupQueue(cfg RedisConfig) (*RedisCleanupQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
	return NewRedisCleanupQueueWithClient(client, cfg)
}

func NewRedisCleanupQueueWithClient(client *redis.Client, cfg RedisConfig) (*RedisCleanupQueue, error) {
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "cleanup"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	q := &RedisCleanupQueue{
		client:       client,
		stream:       stream,
		deadStream:   stream + ":dead",
		group:        group,
		consumerBase: consumer,
		maxRetries:   cfg.MaxRetries,
		block:        cfg.Block,
		claimIdle:    cfg.ClaimIdle,
		retryDelay:   cfg.RetryDelay,
		maxLen:       cfg.MaxLen,
		readCount:    cfg.ReadCount,
		logger:       slog.Default().With("queue", stream),
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 5
	}
	if q.block <= 0 {
		q.block = 5 * time.Second
	}
	if q.claimIdle <= 0 {
		q.claimIdle = time.Minute
	}
	if q.retryDelay < 0 {
		q.retryDelay = 0
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	if q.readCount <= 0 {
		q.readCount = 10
	}
	return q, nil
}

// Enqueue schedules removal of objectKey.
func (q *RedisCleanupQueue) Enqueue(ctx context.Context, bookID, objectKey string) (CleanupTask, error) {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return CleanupTask{}, errors.New("object key required")
	}
	task := CleanupTask{
		ID:        util.NewID(),
		BookID:    bookID,
		ObjectKey: objectKey,
		QueuedAt:  time.Now().UTC(),
	}
	if err := q.client.XAdd(ctx, q.addArgs(q.stream, task)).Err(); err != nil {
		return CleanupTask{}, fmt.Errorf("enqueue cleanup: %w", err)
	}
	return task, nil
}

// Start runs concurrency consumers until ctx is done.
func (q *RedisCleanupQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go func() {
			for ctx.Err() == nil {
				if _, err := q.Process(ctx, consumer, handler); err != nil && ctx.Err() == nil {
					q.logger.Warn("cleanup consume failed", "consumer", consumer, "err", err)
					sleepCtx(ctx, time.Second)
				}
			}
		}()
	}
}

// Process handles one round of stale and new messages for consumer and returns
// how many were handled.
func (q *RedisCleanupQueue) Process(ctx context.Context, consumer string, handler Handler) (int, error) {
	if err := q.ensureGroup(ctx); err != nil {
		return 0, err
	}
	handled := 0
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.readCount,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return handled, fmt.Errorf("claim pending: %w", err)
	}
	for _, msg := range claimed {
		q.handle(ctx, msg, handler)
		handled++
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    q.readCount,
		Block:    q.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return handled, nil
		}
		return handled, fmt.Errorf("read group: %w", err)
	}
	for _, s := range streams {
		for _, msg := range s.Messages {
			q.handle(ctx, msg, handler)
			handled++
		}
	}
	return handled, nil
}

// DeadLetters lists tasks that exhausted their retries.
func (q *RedisCleanupQueue) DeadLetters(ctx context.Context, limit int64) ([]CleanupTask, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := q.client.XRangeN(ctx, q.deadStream, "-", "+", limit).Result()
	if err != nil {
		return nil, err
	}
	out := make([]CleanupTask, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, decodeTask(msg.Values))
	}
	return out, nil
}

func (q *RedisCleanupQueue) Close() error {
	return q.client.Close()
}

func (q *RedisCleanupQueue) ensureGroup(ctx context.Context) error {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("create consumer group: %w", err)
		}
	})
	return q.groupErr
}

func (q *RedisCleanupQueue) handle(ctx context.Context, msg redis.XMessage, handler Handler) {
	task := decodeTask(msg.Values)
	if task.ObjectKey == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	task.Attempt++
	err := handler(ctx, task)
	if err == nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	task.LastError = err.Error()
	target := q.stream
	if task.Attempt >= q.maxRetries {
		target = q.deadStream
		q.logger.Warn("cleanup task dead-lettered", "task_id", task.ID, "object_key", task.ObjectKey, "err", err)
	} else {
		sleepCtx(ctx, q.retryDelay)
	}
	if err := q.moveAndAck(ctx, msg.ID, target, task); err != nil {
		// left pending; XAutoClaim picks it up after claimIdle
		q.logger.Warn("cleanup requeue failed", "task_id", task.ID, "err", err)
	}
}

func (q *RedisCleanupQueue) ackAndDel(ctx context.Context, msgID string) {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, _ = pipe.Exec(ctx)
}

func (q *RedisCleanupQueue) moveAndAck(ctx context.Context, msgID, target string, task CleanupTask) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(target, task))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisCleanupQueue) addArgs(stream string, task CleanupTask) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"task_id":    task.ID,
			"book_id":    task.BookID,
			"object_key": task.ObjectKey,
			"attempt":    strconv.Itoa(task.Attempt),
			"last_error": task.LastError,
			"queued_at":  task.QueuedAt.Format(time.RFC3339Nano),
		},
	}
}

func decodeTask(values map[string]any) CleanupTask {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	task := CleanupTask{
		ID:        str("task_id"),
		BookID:    str("book_id"),
		ObjectKey: str("object_key"),
		LastError: str("last_error"),
	}
	if n, err := strconv.Atoi(str("attempt")); err == nil {
		task.Attempt = n
	}
	if t, err := time.Parse(time.RFC3339Nano, str("queued_at")); err == nil {
		task.QueuedAt = t
	}
	return task
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
