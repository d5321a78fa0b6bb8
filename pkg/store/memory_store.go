package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type memDoc struct {
	data    map[string]any
	created time.Time
	updated time.Time
}

// MemoryStore keeps documents in-process. It is used by tests and single-node
// development setups.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]map[string]memDoc
	feed   Feed
	now    func() time.Time
	closed bool
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for server timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMemoryFeed replaces the in-process change feed.
func WithMemoryFeed(feed Feed) MemoryOption {
	return func(m *MemoryStore) {
		if feed != nil {
			m.feed = feed
		}
	}
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		docs: map[string]map[string]memDoc{},
		feed: NewLocalFeed(),
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *MemoryStore) Get(ctx context.Context, ref Ref) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, wrapErr("get", ref, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Document{}, wrapErr("get", ref, ErrClosed)
	}
	doc, ok := m.docs[ref.Collection][ref.ID]
	if !ok {
		return Document{}, wrapErr("get", ref, ErrNotFound)
	}
	return m.toDocument(ref, doc), nil
}

func (m *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("query", Ref{Collection: q.Collection}, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, wrapErr("query", Ref{Collection: q.Collection}, ErrClosed)
	}
	res := make([]Document, 0)
	for id, doc := range m.docs[q.Collection] {
		if q.ID != "" && id != q.ID {
			continue
		}
		if !matches(doc.data, q.Filters) {
			continue
		}
		res = append(res, m.toDocument(Ref{Collection: q.Collection, ID: id}, doc))
	}
	return sortDocuments(res, q), nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	return subscribe(ctx, q, m.feed, m.Query, m.now)
}

func (m *MemoryStore) Create(ctx context.Context, collection string, data map[string]any) (Ref, error) {
	ref := Ref{Collection: collection, ID: NewID()}
	if err := m.commit(ctx, "create", []batchOp{{kind: opSet, ref: ref, data: data}}); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

func (m *MemoryStore) Set(ctx context.Context, ref Ref, data map[string]any, opts ...SetOption) error {
	o := applySetOptions(opts)
	return m.commit(ctx, "set", []batchOp{{kind: opSet, ref: ref, data: data, merge: o.merge}})
}

func (m *MemoryStore) Update(ctx context.Context, ref Ref, fields map[string]any) error {
	return m.commit(ctx, "update", []batchOp{{kind: opUpdate, ref: ref, data: fields}})
}

func (m *MemoryStore) Delete(ctx context.Context, ref Ref) error {
	return m.commit(ctx, "delete", []batchOp{{kind: opDelete, ref: ref}})
}

func (m *MemoryStore) Batch() Batch {
	return &opBatch{commit: func(ctx context.Context, ops []batchOp) error {
		return m.commit(ctx, "batch", ops)
	}}
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// commit validates every op before applying any of them.
func (m *MemoryStore) commit(ctx context.Context, op string, ops []batchOp) error {
	if err := ctx.Err(); err != nil {
		return wrapErr(op, ops[0].ref, err)
	}
	now := m.now().UTC()
	prepared := make([]map[string]any, len(ops))
	for i, o := range ops {
		if o.kind == opDelete {
			continue
		}
		data, err := normalize(o.data, now)
		if err != nil {
			return wrapErr(op, o.ref, err)
		}
		prepared[i] = data
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return wrapErr(op, ops[0].ref, ErrClosed)
	}
	// updates may target documents created earlier in the same batch
	exists := map[Ref]bool{}
	for _, o := range ops {
		_, ok := m.docs[o.ref.Collection][o.ref.ID]
		if seen, tracked := exists[o.ref]; tracked {
			ok = seen
		}
		switch o.kind {
		case opSet:
			exists[o.ref] = true
		case opDelete:
			exists[o.ref] = false
		case opUpdate:
			if !ok {
				m.mu.Unlock()
				return wrapErr(op, o.ref, ErrNotFound)
			}
			exists[o.ref] = true
		}
	}
	for i, o := range ops {
		coll := m.docs[o.ref.Collection]
		if coll == nil {
			coll = map[string]memDoc{}
			m.docs[o.ref.Collection] = coll
		}
		existing, found := coll[o.ref.ID]
		switch o.kind {
		case opDelete:
			delete(coll, o.ref.ID)
		case opSet:
			doc := memDoc{data: prepared[i], created: now, updated: now}
			if found {
				doc.created = existing.created
				if o.merge {
					doc.data = mergeFields(existing.data, prepared[i])
				}
			}
			coll[o.ref.ID] = doc
		case opUpdate:
			existing.data = mergeFields(existing.data, prepared[i])
			existing.updated = now
			coll[o.ref.ID] = existing
		}
	}
	m.mu.Unlock()

	for collection, ids := range touchedCollections(ops) {
		if err := m.feed.Publish(context.Background(), Change{Collection: collection, IDs: ids, At: now}); err != nil {
			slog.Warn("store change publish failed", "collection", collection, "err", err)
		}
	}
	return nil
}

func (m *MemoryStore) toDocument(ref Ref, doc memDoc) Document {
	return Document{
		Ref:        ref,
		Data:       copyData(doc.data),
		CreateTime: doc.created,
		UpdateTime: doc.updated,
	}
}

func mergeFields(base, fields map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(fields))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func copyData(data map[string]any) map[string]any {
	out, err := normalize(data, time.Time{})
	if err != nil {
		return mergeFields(nil, data)
	}
	return out
}
