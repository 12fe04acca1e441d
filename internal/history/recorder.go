package history

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounce is the idle time after the last change before a snapshot
// is taken.
const DefaultDebounce = time.Second

// Recorder pushes snapshots onto a stack once changes have settled.
type Recorder struct {
	stack   *Stack
	delay   time.Duration
	capture func() Entry
	onPush  func(Entry)
	log     *slog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithOnPush registers a callback run after every push.
func WithOnPush(fn func(Entry)) RecorderOption {
	return func(r *Recorder) { r.onPush = fn }
}

// WithLogger sets the recorder's logger.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.log = l }
}

// NewRecorder returns a recorder that snapshots via capture after delay of
// inactivity (DefaultDebounce when delay is not positive).
func NewRecorder(stack *Stack, delay time.Duration, capture func() Entry, opts ...RecorderOption) *Recorder {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	r := &Recorder{stack: stack, delay: delay, capture: capture, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Notify reports a document change and restarts the idle timer.
func (r *Recorder) Notify() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.delay, r.fire)
}

// Flush takes a pending snapshot immediately. It reports whether an entry
// was pushed.
func (r *Recorder) Flush() bool {
	r.mu.Lock()
	pending := r.timer != nil && r.timer.Stop()
	r.timer = nil
	r.mu.Unlock()
	if !pending {
		return false
	}
	return r.Record()
}

// Record captures and pushes a snapshot now unless it matches the current
// entry.
func (r *Recorder) Record() bool {
	e := r.capture()
	if e.Checksum == "" {
		e.Checksum = Fingerprint(e.Pages, e.TableOfContents)
	}
	if e.Checksum == r.stack.CurrentChecksum() {
		return false
	}
	pushed := r.stack.Push(e)
	r.log.Debug("history snapshot pushed",
		slog.String("entry", pushed.ID),
		slog.Int("pointer", r.stack.Pointer()),
	)
	if r.onPush != nil {
		r.onPush(pushed)
	}
	return true
}

func (r *Recorder) fire() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()
	r.Record()
}

// Close cancels any pending snapshot.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
