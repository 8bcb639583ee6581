package decompress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Options configures a Pipe.
type Options struct {
	// QueueSize is the number of decompressed chunks buffered ahead of the
	// reader. Default: 10000
	QueueSize int

	// ReadSize is the size of each read from the source and from the
	// process output. Default: 64KB
	ReadSize int

	// Logger receives pump diagnostics. Default: slog.Default()
	Logger *slog.Logger
}

// Pipe streams src through a decompressor process.
//
// Two pumps run concurrently: one copies src into the process input, the
// other moves process output into a bounded queue that backs Read. Either
// pump stops quietly on error, and Read reports io.EOF once the output pump
// has finished and the queue is drained. A short stream is therefore a
// possible partial result, not a guarantee of success.
type Pipe struct {
	cancel context.CancelFunc
	proc   Process
	logger *slog.Logger

	queue chan []byte
	cur   []byte

	done      chan struct{}
	closeOnce sync.Once
}

// New starts a decompressor with spawn and begins pumping src through it.
func New(ctx context.Context, src io.Reader, spawn Spawner, opts Options) (*Pipe, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10000
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = 64 * 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	proc, err := spawn(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decompress: spawn: %w", err)
	}

	p := &Pipe{
		cancel: cancel,
		proc:   proc,
		logger: opts.Logger,
		queue:  make(chan []byte, opts.QueueSize),
		done:   make(chan struct{}),
	}

	go p.inputPump(ctx, src, opts.ReadSize)
	go p.outputPump(ctx, opts.ReadSize)

	return p, nil
}

// inputPump copies src into the process, writing each read immediately.
func (p *Pipe) inputPump(ctx context.Context, src io.Reader, size int) {
	stdin := p.proc.Stdin()
	defer stdin.Close()

	buf := make([]byte, size)
	for ctx.Err() == nil {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := stdin.Write(buf[:n]); werr != nil {
				p.logger.Debug("decompress input pump stopped", "error", werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("decompress input pump stopped", "error", err)
			}
			return
		}
	}
}

// outputPump moves process output into the queue and reaps the process.
func (p *Pipe) outputPump(ctx context.Context, size int) {
	defer close(p.done)
	defer close(p.queue)

	stdout := p.proc.Stdout()
	for {
		buf := make([]byte, size)
		n, err := stdout.Read(buf)
		if n > 0 {
			select {
			case p.queue <- buf[:n]:
			case <-ctx.Done():
				p.proc.Kill()
				p.reap()
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("decompress output pump stopped", "error", err)
				p.proc.Kill()
			}
			p.reap()
			return
		}
	}
}

func (p *Pipe) reap() {
	if err := p.proc.Wait(); err != nil {
		p.logger.Debug("decompressor exited", "error", err)
	}
}

// Read implements io.Reader.
func (p *Pipe) Read(b []byte) (int, error) {
	for len(p.cur) == 0 {
		chunk, ok := <-p.queue
		if !ok {
			return 0, io.EOF
		}
		p.cur = chunk
	}
	n := copy(b, p.cur)
	p.cur = p.cur[n:]
	return n, nil
}

// Close stops both pumps, kills the process and waits for it to exit.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.proc.Kill()
		<-p.done
	})
	return nil
}
