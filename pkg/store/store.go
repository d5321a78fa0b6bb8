package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is a schemaless document store with key reads, equality queries,
// real-time subscriptions and atomic batches. Single-document writes are atomic;
// multi-document atomicity is only offered through Batch.
type Store interface {
	Get(ctx context.Context, ref Ref) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
	Create(ctx context.Context, collection string, data map[string]any) (Ref, error)
	Set(ctx context.Context, ref Ref, data map[string]any, opts ...SetOption) error
	Update(ctx context.Context, ref Ref, fields map[string]any) error
	Delete(ctx context.Context, ref Ref) error
	Batch() Batch
	Close() error
}

// Batch stages writes that are committed atomically: either every staged write
// is applied or none is.
type Batch interface {
	Set(ref Ref, data map[string]any, opts ...SetOption)
	Update(ref Ref, fields map[string]any)
	Delete(ref Ref)
	Len() int
	Commit(ctx context.Context) error
}

// Ref addresses one document.
type Ref struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// Doc builds a Ref.
func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// Document is a stored document with store-managed metadata.
type Document struct {
	Ref        Ref
	Data       map[string]any
	CreateTime time.Time
	UpdateTime time.Time
}

// DataTo decodes the document data into v, which should be a pointer to a struct
// with json tags. The document id is exposed as the "id" field.
func (d Document) DataTo(v any) error {
	data := make(map[string]any, len(d.Data)+1)
	for k, val := range d.Data {
		data[k] = val
	}
	data["id"] = d.Ref.ID
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.Ref, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Ref, err)
	}
	return nil
}

// Filter matches documents whose top-level Field equals Value.
type Filter struct {
	Field string
	Value any
}

// Where builds an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Query selects documents from one collection. When ID is set the query matches
// at most that document.
type Query struct {
	Collection string
	ID         string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// Snapshot is one delivery of a subscription: the full result set at ReadTime.
type Snapshot struct {
	Documents []Document
	ReadTime  time.Time
	Err       error
}

// Subscription streams snapshots for a query: one immediately, then one after
// every change to the queried collection. Snapshots are coalesced for slow
// consumers, so each delivery reflects the latest state.
type Subscription struct {
	C    <-chan Snapshot
	stop context.CancelFunc
	done chan struct{}
}

// Close stops the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.stop()
	<-s.done
}

type setOptions struct {
	merge bool
}

// SetOption configures Set.
type SetOption func(*setOptions)

// Merge makes Set update only the given top-level fields and keep the rest.
func Merge() SetOption {
	return func(o *setOptions) {
		o.merge = true
	}
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

type serverTimestamp struct{}

// ServerTimestamp is replaced with the store's clock when it appears as a field value.
var ServerTimestamp = serverTimestamp{}

// NewID returns a store-assigned document id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// normalize resolves server timestamps and round-trips data through JSON so
// every backend stores and compares the same value shapes.
func normalize(data map[string]any, now time.Time) (map[string]any, error) {
	resolved := make(map[string]any, len(data))
	for k, v := range data {
		if _, ok := v.(serverTimestamp); ok {
			v = now.UTC()
		}
		resolved[k] = v
	}
	raw, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return decodeData(raw)
}

func decodeData(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func normalizeValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func matches(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		got, ok := data[f.Field]
		if !ok {
			return false
		}
		if compareValues(got, normalizeValue(f.Value)) != 0 {
			return false
		}
	}
	return true
}

// sortDocuments orders by q.OrderBy (falling back to document id for ties) and
// applies q.Limit.
func sortDocuments(docs []Document, q Query) []Document {
	sort.SliceStable(docs, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compareValues(docs[i].Data[q.OrderBy], docs[j].Data[q.OrderBy])
			if c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return docs[i].Ref.ID < docs[j].Ref.ID
	})
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

func compareValues(a, b any) int {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		if at, err := time.Parse(time.RFC3339Nano, as); err == nil {
			if bt, err := time.Parse(time.RFC3339Nano, bs); err == nil {
				return at.Compare(bt)
			}
		}
		return strings.Compare(as, bs)
	}
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

type opKind int

const (
	opSet opKind = iota
	opUpdate
	opDelete
)

type batchOp struct {
	kind  opKind
	ref   Ref
	data  map[string]any
	merge bool
}

// opBatch collects operations and hands them to a backend-specific commit.
type opBatch struct {
	ops    []batchOp
	commit func(ctx context.Context, ops []batchOp) error
}

func (b *opBatch) Set(ref Ref, data map[string]any, opts ...SetOption) {
	o := applySetOptions(opts)
	b.ops = append(b.ops, batchOp{kind: opSet, ref: ref, data: data, merge: o.merge})
}

func (b *opBatch) Update(ref Ref, fields map[string]any) {
	b.ops = append(b.ops, batchOp{kind: opUpdate, ref: ref, data: fields})
}

func (b *opBatch) Delete(ref Ref) {
	b.ops = append(b.ops, batchOp{kind: opDelete, ref: ref})
}

func (b *opBatch) Len() int {
	return len(b.ops)
}

func (b *opBatch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	ops := b.ops
	b.ops = nil
	return b.commit(ctx, ops)
}

func touchedCollections(ops []batchOp) map[string][]string {
	out := map[string][]string{}
	for _, op := range ops {
		out[op.ref.Collection] = append(out[op.ref.Collection], op.ref.ID)
	}
	return out
}
