package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Stream is a pull-based sequence of items produced by a chain of stages.
// Next returns io.EOF after the last item, or the first fatal stage error.
// Close must be called to stop the stages and release their resources.
type Stream[T any] struct {
	items   <-chan T
	run     *run
	stats   *Stats
	waitErr error
	once    sync.Once
}

// Next returns the next item.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case item, ok := <-s.items:
		if !ok {
			if err := s.wait(); err != nil {
				return zero, err
			}
			return zero, io.EOF
		}
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Stats returns the stream's counters. They are final once Next has
// returned an error.
func (s *Stream[T]) Stats() *Stats {
	return s.stats
}

// Close cancels every stage, kills the decompressor and closes the source.
func (s *Stream[T]) Close() error {
	s.run.cancel()
	s.wait()
	return s.run.closeAll()
}

func (s *Stream[T]) wait() error {
	s.once.Do(func() {
		s.waitErr = s.run.g.Wait()
		if s.run.closed() && errors.Is(s.waitErr, context.Canceled) {
			s.waitErr = nil
		}
	})
	return s.waitErr
}

// run is the shared state of one stage chain.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	g       *errgroup.Group
	opts    Options
	stats   *Stats
	closers []io.Closer

	mu       sync.Mutex
	isClosed bool
}

func newRun(ctx context.Context, opts Options) *run {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	r := &run{
		g:     g,
		ctx:   gctx,
		opts:  opts.withDefaults(),
		stats: &Stats{},
	}
	r.cancel = func() {
		r.mu.Lock()
		r.isClosed = true
		r.mu.Unlock()
		cancel()
	}
	return r
}

func (r *run) closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isClosed
}

func (r *run) closeAll() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i].Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}

func finish[T any](r *run, items <-chan T) *Stream[T] {
	return &Stream[T]{items: items, run: r, stats: r.stats}
}

// send delivers v unless ctx is done first.
func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
