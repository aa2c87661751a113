package wordpress

import (
	"context"
	"errors"
	"io"
	"math/bits"
	"sync"
)

var (
	ErrProgressInUse   = errors.New("progress is already attached to a request")
	ErrInvalidProgress = errors.New("progress must have a positive total and no completed units")
)

// Progress reports how far a request has transferred and lets the caller cancel it.
// A Progress is owned by at most one in-flight request at a time.
type Progress struct {
	total     int64
	completed int64

	cancelled bool
	cancel    context.CancelFunc
	attached  bool

	observers []func(completed, total int64)

	lock sync.Mutex
}

func NewProgress(totalUnits int64) *Progress {
	return &Progress{total: totalUnits}
}

func (p *Progress) TotalUnits() int64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.total
}

func (p *Progress) CompletedUnits() int64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.completed
}

func (p *Progress) Fraction() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.total <= 0 {
		return 0
	}

	return float64(p.completed) / float64(p.total)
}

// OnChange registers a callback invoked whenever the completed unit count changes.
func (p *Progress) OnChange(fn func(completed, total int64)) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.observers = append(p.observers, fn)
}

// Cancel cancels the request the progress is attached to.
// Cancelling before the request starts makes it fail as soon as it is performed.
func (p *Progress) Cancel() {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.cancelled = true

	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Progress) IsCancelled() bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.cancelled
}

// attach hands cancellation of the progress to the given cancel func until detach is called.
func (p *Progress) attach(cancel context.CancelFunc) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.attached {
		return ErrProgressInUse
	}

	if p.total <= 0 || p.completed != 0 {
		return ErrInvalidProgress
	}

	p.attached = true
	p.cancel = cancel

	if p.cancelled {
		cancel()
	}

	return nil
}

func (p *Progress) detach() {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.attached = false
	p.cancel = nil
}

// update sets the completed units proportionally to done/expected.
func (p *Progress) update(done, expected int64) {
	if expected <= 0 {
		return
	}

	if done > expected {
		done = expected
	}

	p.setCompleted(func(total int64) int64 {
		return scale(total, done, expected)
	})
}

// scale returns total*done/expected without overflowing; done must not exceed expected.
func scale(total, done, expected int64) int64 {
	if total <= 0 || done <= 0 {
		return 0
	}

	hi, lo := bits.Mul64(uint64(total), uint64(done))
	quo, _ := bits.Div64(hi, lo, uint64(expected))

	return int64(quo)
}

func (p *Progress) finish() {
	p.setCompleted(func(total int64) int64 {
		return total
	})
}

func (p *Progress) setCompleted(fn func(total int64) int64) {
	p.lock.Lock()

	completed := fn(p.total)

	if completed <= p.completed {
		p.lock.Unlock()
		return
	}

	p.completed = completed

	observers, total := append([]func(int64, int64){}, p.observers...), p.total

	p.lock.Unlock()

	for _, fn := range observers {
		fn(completed, total)
	}
}

// progressReader counts bytes flowing through a reader and reports them to a progress.
type progressReader struct {
	io.Reader

	progress *Progress
	expected int64
	done     int64
}

func newProgressReader(r io.Reader, progress *Progress, expected int64) io.Reader {
	if progress == nil || expected <= 0 {
		return r
	}

	return &progressReader{Reader: r, progress: progress, expected: expected}
}

func (r *progressReader) Read(b []byte) (int, error) {
	n, err := r.Reader.Read(b)

	if n > 0 {
		r.done += int64(n)
		r.progress.update(r.done, r.expected)
	}

	return n, err
}

type readCloser struct {
	io.Reader
	io.Closer
}
