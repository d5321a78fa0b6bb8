package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51807731

type GormStoreOptions struct {
	Feed Feed
	Now  func() time.Time
}

type GormStoreOption func(*GormStoreOptions)

// WithFeed sets the change feed used to drive subscriptions. Replicated
// deployments should pass a RedisFeed.
func WithFeed(feed Feed) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Feed = feed
	}
}

// WithNow overrides the clock used for server timestamps.
func WithNow(now func() time.Time) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Now = now
	}
}

// GormStore implements Store on a single documents table.
type GormStore struct {
	db   *gorm.DB
	feed Feed
	now  func() time.Time
}

// NewGormStore opens Postgres and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	return OpenGormStore(postgres.Open(dsn), options...)
}

// OpenGormStore opens any GORM dialector, e.g. sqlite for tests.
func OpenGormStore(dialector gorm.Dialector, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	if opts.Feed == nil {
		opts.Feed = NewLocalFeed()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&DocumentModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, feed: opts.Feed, now: opts.Now}, nil
}

// withMigrationLock serializes migrations across replicas on Postgres.
func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	if db.Dialector.Name() != "postgres" {
		return fn(db)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// DB exposes the underlying handle for health checks.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Get(ctx context.Context, ref Ref) (Document, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "collection = ? AND id = ?", ref.Collection, ref.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Document{}, wrapErr("get", ref, ErrNotFound)
		}
		return Document{}, wrapErr("get", ref, err)
	}
	doc, err := documentFromModel(model)
	if err != nil {
		return Document{}, wrapErr("get", ref, err)
	}
	return doc, nil
}

// Query filters in the database and orders in process, since the order field
// lives inside the JSON column.
func (s *GormStore) Query(ctx context.Context, q Query) ([]Document, error) {
	tx := s.db.WithContext(ctx).Where("collection = ?", q.Collection)
	if q.ID != "" {
		tx = tx.Where("id = ?", q.ID)
	}
	for _, f := range q.Filters {
		tx = tx.Where(datatypes.JSONQuery("data").Equals(f.Value, f.Field))
	}
	var models []DocumentModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, wrapErr("query", Ref{Collection: q.Collection}, err)
	}
	res := make([]Document, 0, len(models))
	for _, m := range models {
		doc, err := documentFromModel(m)
		if err != nil {
			return nil, wrapErr("query", Ref{Collection: q.Collection, ID: m.ID}, err)
		}
		// JSON equality in SQL is type-loose; re-check in process
		if !matches(doc.Data, q.Filters) {
			continue
		}
		res = append(res, doc)
	}
	return sortDocuments(res, q), nil
}

func (s *GormStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	return subscribe(ctx, q, s.feed, s.Query, s.now)
}

func (s *GormStore) Create(ctx context.Context, collection string, data map[string]any) (Ref, error) {
	ref := Ref{Collection: collection, ID: NewID()}
	if err := s.commit(ctx, "create", []batchOp{{kind: opSet, ref: ref, data: data}}); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

func (s *GormStore) Set(ctx context.Context, ref Ref, data map[string]any, opts ...SetOption) error {
	o := applySetOptions(opts)
	return s.commit(ctx, "set", []batchOp{{kind: opSet, ref: ref, data: data, merge: o.merge}})
}

func (s *GormStore) Update(ctx context.Context, ref Ref, fields map[string]any) error {
	return s.commit(ctx, "update", []batchOp{{kind: opUpdate, ref: ref, data: fields}})
}

func (s *GormStore) Delete(ctx context.Context, ref Ref) error {
	return s.commit(ctx, "delete", []batchOp{{kind: opDelete, ref: ref}})
}

func (s *GormStore) Batch() Batch {
	return &opBatch{commit: func(ctx context.Context, ops []batchOp) error {
		return s.commit(ctx, "batch", ops)
	}}
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// commit applies ops in one transaction and notifies the feed after it commits.
func (s *GormStore) commit(ctx context.Context, op string, ops []batchOp) error {
	now := s.now().UTC()
	var failed Ref
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range ops {
			failed = o.ref
			var err error
			switch o.kind {
			case opSet:
				err = applySet(tx, o.ref, o.data, o.merge, now)
			case opUpdate:
				err = applyUpdate(tx, o.ref, o.data, now)
			case opDelete:
				err = tx.Where("collection = ? AND id = ?", o.ref.Collection, o.ref.ID).Delete(&DocumentModel{}).Error
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapErr(op, failed, err)
	}
	for collection, ids := range touchedCollections(ops) {
		if err := s.feed.Publish(context.Background(), Change{Collection: collection, IDs: ids, At: now}); err != nil {
			slog.Warn("store change publish failed", "collection", collection, "err", err)
		}
	}
	return nil
}

func applySet(tx *gorm.DB, ref Ref, data map[string]any, merge bool, now time.Time) error {
	payload, err := normalize(data, now)
	if err != nil {
		return err
	}
	var existing DocumentModel
	found := true
	if err := tx.First(&existing, "collection = ? AND id = ?", ref.Collection, ref.ID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		found = false
	}
	created := now
	if found {
		created = existing.CreatedAt
		if merge {
			base, err := decodeData(existing.Data)
			if err != nil {
				return err
			}
			payload = mergeFields(base, payload)
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	model := DocumentModel{
		Collection: ref.Collection,
		ID:         ref.ID,
		Data:       datatypes.JSON(raw),
		CreatedAt:  created,
		UpdatedAt:  now,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&model).Error
}

func applyUpdate(tx *gorm.DB, ref Ref, fields map[string]any, now time.Time) error {
	var existing DocumentModel
	if err := tx.First(&existing, "collection = ? AND id = ?", ref.Collection, ref.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	base, err := decodeData(existing.Data)
	if err != nil {
		return err
	}
	patch, err := normalize(fields, now)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(mergeFields(base, patch))
	if err != nil {
		return err
	}
	return tx.Model(&DocumentModel{}).
		Where("collection = ? AND id = ?", ref.Collection, ref.ID).
		Updates(map[string]any{
			"data":       datatypes.JSON(raw),
			"updated_at": now,
		}).Error
}
