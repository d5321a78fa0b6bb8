package store

import (
	"context"
	"sync"
	"time"
)

// Change announces that documents in a collection were written.
type Change struct {
	Collection string    `json:"collection"`
	IDs        []string  `json:"ids,omitempty"`
	At         time.Time `json:"at"`
}

// Feed fans out change notifications to subscribers. Listeners receive at least
// one notification after every publish; bursts may be coalesced.
type Feed interface {
	Publish(ctx context.Context, change Change) error
	Listen(ctx context.Context, collection string) (<-chan Change, func(), error)
}

// LocalFeed is an in-process Feed.
type LocalFeed struct {
	mu        sync.Mutex
	listeners map[string]map[int]chan Change
	next      int
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{listeners: map[string]map[int]chan Change{}}
}

func (f *LocalFeed) Publish(_ context.Context, change Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.listeners[change.Collection] {
		select {
		case ch <- change:
		default:
		}
	}
	return nil
}

func (f *LocalFeed) Listen(_ context.Context, collection string) (<-chan Change, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan Change, 1)
	if f.listeners[collection] == nil {
		f.listeners[collection] = map[int]chan Change{}
	}
	f.listeners[collection][id] = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.listeners[collection], id)
			if len(f.listeners[collection]) == 0 {
				delete(f.listeners, collection)
			}
		})
	}
	return ch, cancel, nil
}

type queryFunc func(ctx context.Context, q Query) ([]Document, error)

// subscribe emits an initial snapshot for q and re-runs the query after every
// change on the collection. Snapshots are delivered in the order they were read.
func subscribe(ctx context.Context, q Query, feed Feed, run queryFunc, now func() time.Time) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	changes, unlisten, err := feed.Listen(ctx, q.Collection)
	if err != nil {
		cancel()
		return nil, wrapErr("subscribe", Ref{Collection: q.Collection}, err)
	}
	out := make(chan Snapshot, 1)
	sub := &Subscription{C: out, stop: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer close(out)
		defer unlisten()
		emit := func() bool {
			docs, err := run(ctx, q)
			if ctx.Err() != nil {
				return false
			}
			snap := Snapshot{Documents: docs, ReadTime: now().UTC(), Err: err}
			select {
			case out <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
			drain:
				for {
					select {
					case _, ok := <-changes:
						if !ok {
							return
						}
					default:
						break drain
					}
				}
				if !emit() {
					return
				}
			}
		}
	}()
	return sub, nil
}
