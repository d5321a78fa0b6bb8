package editor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"inkwell/pkg/domain"
	"inkwell/pkg/store"
)

const (
	DefaultDebounce    = time.Second
	DefaultSaveTimeout = 10 * time.Second
)

// State is the draft synchronization state of an editing session.
type State int

const (
	StateClean State = iota
	StateDirty
	StateSaving
	StateSaveFailed
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateSaving:
		return "saving"
	case StateSaveFailed:
		return "save_failed"
	default:
		return "unknown"
	}
}

// Edit changes some draft fields. Nil fields are left alone.
type Edit struct {
	BookTitle      *string `json:"bookTitle,omitempty"`
	CoverImage     *string `json:"coverImage,omitempty"`
	Description    *string `json:"description,omitempty"`
	ChapterTitle   *string `json:"chapterTitle,omitempty"`
	ChapterContent *string `json:"chapterContent,omitempty"`
}

func (e Edit) empty() bool {
	return e.BookTitle == nil && e.CoverImage == nil && e.Description == nil &&
		e.ChapterTitle == nil && e.ChapterContent == nil
}

// Fields is the editable state of a book and its active chapter.
type Fields struct {
	BookTitle      string `json:"bookTitle"`
	CoverImage     string `json:"coverImage"`
	Description    string `json:"description"`
	ChapterID      string `json:"chapterId"`
	ChapterTitle   string `json:"chapterTitle"`
	ChapterContent string `json:"chapterContent"`
}

func fieldsFor(book domain.Book, ch domain.Chapter) Fields {
	return Fields{
		BookTitle:      book.Title,
		CoverImage:     book.CoverImage,
		Description:    book.Description,
		ChapterID:      ch.ID,
		ChapterTitle:   ch.Title,
		ChapterContent: ch.Content,
	}
}

type DraftConfig struct {
	Store       store.Store
	BookID      string
	Initial     Fields
	Autosave    bool
	Debounce    time.Duration
	SaveTimeout time.Duration
	Clock       clockwork.Clock
	Logger      *slog.Logger

	// OnSaved, if set, runs after each successful save with the previously
	// saved fields and the fields just written.
	OnSaved func(prev, saved Fields)
}

// Draft coalesces edits into saves. At most one save is in flight; edits made
// while saving are kept and trigger another debounce cycle once it resolves.
type Draft struct {
	store       store.Store
	bookID      string
	clock       clockwork.Clock
	debounce    time.Duration
	saveTimeout time.Duration
	logger      *slog.Logger
	onSaved     func(prev, saved Fields)

	mu       sync.Mutex
	state    State
	autosave bool
	local    Fields
	base     Fields
	written  Fields
	timer    clockwork.Timer
	gen      uint64
	saving   chan struct{}
	pending  bool
	lastErr  error
	saves    int
	closed   bool
}

func NewDraft(cfg DraftConfig) *Draft {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = DefaultSaveTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Draft{
		store:       cfg.Store,
		bookID:      cfg.BookID,
		clock:       cfg.Clock,
		debounce:    cfg.Debounce,
		saveTimeout: cfg.SaveTimeout,
		logger:      cfg.Logger,
		onSaved:     cfg.OnSaved,
		autosave:    cfg.Autosave,
		local:       cfg.Initial,
		base:        cfg.Initial,
		written:     cfg.Initial,
	}
}

func (d *Draft) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Fields returns the local draft, including unsaved edits.
func (d *Draft) Fields() Fields {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.local
}

// Saved returns the fields of the last successful save, or the initial
// fields when nothing has been saved yet.
func (d *Draft) Saved() Fields {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

func (d *Draft) Autosave() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.autosave
}

// LastError is the error of the most recent failed save, cleared on success.
func (d *Draft) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Saves counts completed save attempts.
func (d *Draft) Saves() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saves
}

func (d *Draft) Edit(e Edit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrSessionClosed
	}
	if e.empty() {
		return nil
	}
	if e.BookTitle != nil {
		d.local.BookTitle = *e.BookTitle
	}
	if e.CoverImage != nil {
		d.local.CoverImage = *e.CoverImage
	}
	if e.Description != nil {
		d.local.Description = *e.Description
	}
	if e.ChapterTitle != nil {
		d.local.ChapterTitle = *e.ChapterTitle
	}
	if e.ChapterContent != nil {
		d.local.ChapterContent = *e.ChapterContent
	}
	if d.state == StateSaving {
		d.pending = true
		return nil
	}
	d.state = StateDirty
	if d.autosave {
		d.armLocked()
	}
	return nil
}

// SetAutosave toggles autosave. Turning it on with unsaved edits arms the timer.
func (d *Draft) SetAutosave(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autosave = on
	if !on {
		d.disarmLocked()
		return
	}
	if d.state == StateDirty || d.state == StateSaveFailed {
		d.state = StateDirty
		d.armLocked()
	}
}

// Save is the manual save. It is rejected while autosave is on.
func (d *Draft) Save(ctx context.Context) error {
	d.mu.Lock()
	autosave := d.autosave
	d.mu.Unlock()
	if autosave {
		return ErrManualSaveDisabled
	}
	return d.Flush(ctx)
}

// Flush cancels any pending debounce, waits for an in-flight save and then
// saves the current draft immediately.
func (d *Draft) Flush(ctx context.Context) error {
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return ErrSessionClosed
		}
		if inflight := d.saving; inflight != nil {
			d.mu.Unlock()
			select {
			case <-inflight:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		d.disarmLocked()
		snapshot, done := d.beginLocked()
		d.mu.Unlock()

		err := d.write(ctx, snapshot)
		d.finish(snapshot, err, done)
		return err
	}
}

// WaitIdle blocks until no save is in flight.
func (d *Draft) WaitIdle(ctx context.Context) error {
	for {
		d.mu.Lock()
		inflight := d.saving
		d.mu.Unlock()
		if inflight == nil {
			return nil
		}
		select {
		case <-inflight:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// LoadChapter points the draft at another chapter. Callers flush first.
func (d *Draft) LoadChapter(ch domain.Chapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.local.ChapterID = ch.ID
	d.local.ChapterTitle = ch.Title
	d.local.ChapterContent = ch.Content
	d.base.ChapterID = ch.ID
	d.base.ChapterTitle = ch.Title
	d.base.ChapterContent = ch.Content
}

// ApplyRemoteBook takes the store's book as the new base. Local fields follow
// it only while there are no unsaved edits.
func (d *Draft) ApplyRemoteBook(b domain.Book) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.base.BookTitle = b.Title
	d.base.CoverImage = b.CoverImage
	d.base.Description = b.Description
	if d.state == StateClean {
		d.local.BookTitle = b.Title
		d.local.CoverImage = b.CoverImage
		d.local.Description = b.Description
	}
}

// ApplyRemoteChapter does the same for the active chapter.
func (d *Draft) ApplyRemoteChapter(ch domain.Chapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch.ID != d.base.ChapterID {
		return
	}
	d.base.ChapterTitle = ch.Title
	d.base.ChapterContent = ch.Content
	if d.state == StateClean {
		d.local.ChapterTitle = ch.Title
		d.local.ChapterContent = ch.Content
	}
}

// Close abandons the debounce timer. A save already in flight completes in the
// background.
func (d *Draft) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.disarmLocked()
}

func (d *Draft) armLocked() {
	d.disarmLocked()
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.debounce, func() {
		d.fire(gen)
	})
}

func (d *Draft) disarmLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Draft) fire(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.gen || d.state != StateDirty || d.saving != nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	snapshot, done := d.beginLocked()
	d.mu.Unlock()

	err := d.write(context.Background(), snapshot)
	d.finish(snapshot, err, done)
}

func (d *Draft) beginLocked() (Fields, chan struct{}) {
	done := make(chan struct{})
	d.saving = done
	d.pending = false
	d.state = StateSaving
	return d.local, done
}

func (d *Draft) finish(snapshot Fields, err error, done chan struct{}) {
	d.mu.Lock()
	prev := d.written
	d.saving = nil
	d.saves++
	close(done)
	if err != nil {
		d.lastErr = err
		d.state = StateSaveFailed
		d.logger.Warn("draft save failed", "book_id", d.bookID, "chapter_id", snapshot.ChapterID, "err", err)
	} else {
		d.lastErr = nil
		d.base = snapshot
		d.written = snapshot
		d.state = StateClean
	}
	if d.pending {
		d.pending = false
		d.state = StateDirty
		if d.autosave && !d.closed {
			d.armLocked()
		}
	}
	hook := d.onSaved
	d.mu.Unlock()

	if err == nil && hook != nil {
		hook(prev, snapshot)
	}
}

// write issues the chapter and book updates together and reports each outcome.
func (d *Draft) write(ctx context.Context, f Fields) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.saveTimeout)
	defer cancel()

	var (
		wg         sync.WaitGroup
		bookErr    error
		chapterErr error
		issued     = 1
	)
	if f.ChapterID != "" {
		issued++
		wg.Add(1)
		go func() {
			defer wg.Done()
			chapterErr = d.store.Update(ctx, chapterRef(f.ChapterID), map[string]any{
				"title":     f.ChapterTitle,
				"content":   f.ChapterContent,
				"updatedAt": store.ServerTimestamp,
			})
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		bookErr = d.store.Update(ctx, bookRef(d.bookID), map[string]any{
			"title":       f.BookTitle,
			"coverImage":  f.CoverImage,
			"description": f.Description,
			"updatedAt":   store.ServerTimestamp,
		})
	}()
	wg.Wait()
	if bookErr != nil || chapterErr != nil {
		return &SaveError{Book: bookErr, Chapter: chapterErr, Issued: issued}
	}
	return nil
}
