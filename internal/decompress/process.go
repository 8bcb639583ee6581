package decompress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ErrKilled is reported by in-process decompressors stopped with Kill.
var ErrKilled = errors.New("decompress: process killed")

// Process is a running transform with independent input and output streams.
// Wait must only be called after Stdout has been read to the end or the
// process was killed.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Wait() error
	Kill()
}

// Spawner starts a new Process. The process must stop when ctx is done.
type Spawner func(ctx context.Context) (Process, error)

// Command returns a Spawner running an external program that reads
// compressed bytes on stdin and writes raw bytes to stdout, such as
// Command("gzip", "-dc").
func Command(name string, args ...string) Spawner {
	return func(ctx context.Context) (Process, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", name, err)
		}
		return &cmdProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
	}
}

type cmdProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *cmdProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *cmdProcess) Stdout() io.Reader     { return p.stdout }
func (p *cmdProcess) Wait() error           { return p.cmd.Wait() }

func (p *cmdProcess) Kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// Gzip returns a Spawner that decompresses multi-member gzip in process,
// behind the same Process contract as Command.
func Gzip() Spawner {
	return func(ctx context.Context) (Process, error) {
		inR, inW := io.Pipe()
		outR, outW := io.Pipe()
		p := &gzipProcess{
			inR:  inR,
			inW:  inW,
			outR: outR,
			outW: outW,
			done: make(chan struct{}),
		}
		go p.run()
		go func() {
			select {
			case <-ctx.Done():
				p.Kill()
			case <-p.done:
			}
		}()
		return p, nil
	}
}

type gzipProcess struct {
	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter

	done     chan struct{}
	err      error
	killOnce sync.Once
}

func (p *gzipProcess) run() {
	defer close(p.done)

	zr, err := gzip.NewReader(p.inR)
	switch {
	case errors.Is(err, io.EOF):
		// Empty input decompresses to nothing.
		err = nil
	case err == nil:
		_, err = io.Copy(p.outW, zr)
		zr.Close()
	}

	p.err = err
	p.outW.CloseWithError(err)
	// Unblock a writer still feeding trailing input.
	p.inR.CloseWithError(io.ErrClosedPipe)
}

func (p *gzipProcess) Stdin() io.WriteCloser { return p.inW }
func (p *gzipProcess) Stdout() io.Reader     { return p.outR }

func (p *gzipProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *gzipProcess) Kill() {
	p.killOnce.Do(func() {
		p.inR.CloseWithError(ErrKilled)
		p.outR.CloseWithError(ErrKilled)
	})
}
