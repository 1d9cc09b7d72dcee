// Package persist coalesces rapid form edits into single delayed writes.
package persist

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"

	"github.com/13illydakid/p-lizard-ext/internal/formstate"
)

// DefaultDelay is the quiet period before a scheduled write fires.
const DefaultDelay = 150 * time.Millisecond

const writeTimeout = 10 * time.Second

// Writer is the storage half the scheduler needs.
type Writer interface {
	Set(ctx context.Context, key string, value any) error
}

// Options configures a Scheduler.
type Options struct {
	Store Writer
	Key   string
	Delay time.Duration
	// Snapshot returns the record to write, already synced from the popup
	// controls. It is called on the timer goroutine when the write fires.
	Snapshot func() formstate.State
	// OnImageDropped runs before the retry when a failed write carried an
	// image; it must clear the image from the in-memory state.
	OnImageDropped func()
	Logger         *slog.Logger
}

// Scheduler debounces writes of the form record.
type Scheduler struct {
	opts      Options
	debounced func(func())
	pending   atomic.Bool

	// saveMu is held for the whole of a write, and by Cancel, so a
	// cancelled write can never land afterwards.
	saveMu sync.Mutex
}

// New returns a Scheduler. Zero Delay and Key fall back to the defaults.
func New(opts Options) *Scheduler {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Key == "" {
		opts.Key = formstate.StorageKey
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OnImageDropped == nil {
		opts.OnImageDropped = func() {}
	}
	return &Scheduler{opts: opts, debounced: debounce.New(opts.Delay)}
}

// Schedule (re)arms the write timer. Only the last call within the quiet
// period results in a write.
func (s *Scheduler) Schedule() {
	s.pending.Store(true)
	s.debounced(s.fire)
}

// Cancel drops a pending write, if any, and waits for a write already in
// flight to finish.
func (s *Scheduler) Cancel() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.cancel()
}

// CancelThen is Cancel followed by fn, with no write able to start until fn
// returns. Use it to remove the stored record.
func (s *Scheduler) CancelThen(fn func() error) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.cancel()
	return fn()
}

func (s *Scheduler) cancel() {
	s.pending.Store(false)
	s.debounced(func() {})
}

// Pending reports whether a write is armed.
func (s *Scheduler) Pending() bool {
	return s.pending.Load()
}

// Flush performs a pending write immediately.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if !s.pending.Load() {
		return nil
	}
	s.cancel()
	return s.save(ctx)
}

func (s *Scheduler) fire() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if !s.pending.CompareAndSwap(true, false) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_ = s.save(ctx)
}

// Save writes the current snapshot. When the write fails and the payload
// carries an image, the image is dropped and the write retried once.
func (s *Scheduler) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.save(ctx)
}

func (s *Scheduler) save(ctx context.Context) error {
	payload := s.opts.Snapshot()

	err := s.opts.Store.Set(ctx, s.opts.Key, payload)
	if err == nil {
		return nil
	}
	s.opts.Logger.Warn("storage set failed", "key", s.opts.Key, "err", err)

	if !payload.StripImage() {
		return err
	}
	s.opts.OnImageDropped()

	if err := s.opts.Store.Set(ctx, s.opts.Key, payload); err != nil {
		s.opts.Logger.Warn("storage retry failed", "key", s.opts.Key, "err", err)
		return err
	}
	s.opts.Logger.Info("stored form without image", "key", s.opts.Key)
	return nil
}
