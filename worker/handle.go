package worker

import (
	"bufio"
	"bytes"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/checkerls/checkerls/server/config"
	"github.com/google/uuid"
)

// Handle is one worker process: its pipes and liveness. The startup
// arguments are fixed for the lifetime of the handle.
type Handle struct {
	ID        uuid.UUID
	Command   config.WorkerCommand
	StartedAt time.Time

	stdin  io.WriteCloser
	stdout io.Reader
	writer *bufio.Writer

	writeMu sync.Mutex
	broken  bool

	wait func() error
	kill func() error

	retired  atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
	exited   chan struct{}
	exitErr  error
}

func newHandle(cmd config.WorkerCommand, stdin io.WriteCloser, stdout io.Reader, wait, kill func() error) *Handle {
	return &Handle{
		ID:        uuid.New(),
		Command:   cmd,
		StartedAt: time.Now(),
		stdin:     stdin,
		stdout:    stdout,
		writer:    bufio.NewWriter(stdin),
		wait:      wait,
		kill:      kill,
		quit:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
}

// spawn starts the worker process. Its stderr is forwarded to logger line by
// line.
func spawn(cmd config.WorkerCommand, logger *log.Logger) (*Handle, error) {
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) != 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stderr = &stderrWriter{logger: logger}

	stdin, err := c.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Command: cmd, Err: err}
	}

	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Command: cmd, Err: err}
	}

	if err := c.Start(); err != nil {
		return nil, &LaunchError{Command: cmd, Err: err}
	}

	kill := func() error {
		if c.Process == nil {
			return nil
		}
		return c.Process.Kill()
	}

	return newHandle(cmd, stdin, stdout, c.Wait, kill), nil
}

// write sends one request: each path on its own line followed by an empty
// line. A request that does not complete within timeout marks the handle
// broken so no later request can interleave with it.
func (h *Handle) write(files []string, timeout time.Duration) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.broken {
		return ErrWriteTimeout
	}

	var buf bytes.Buffer
	for _, f := range files {
		buf.WriteString(f)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	done := make(chan error, 1)
	go func() {
		if _, err := h.writer.Write(buf.Bytes()); err != nil {
			done <- err
			return
		}
		done <- h.writer.Flush()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		h.broken = true
		return ErrWriteTimeout
	}
}

func (h *Handle) stopForwarding() {
	h.retired.Store(true)
	h.quitOnce.Do(func() { close(h.quit) })
}

// Exited is closed once the reader has drained the output and the process
// has been reaped.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// ExitErr is the process exit status. It is only meaningful after Exited is
// closed.
func (h *Handle) ExitErr() error {
	return h.exitErr
}

type stderrWriter struct {
	logger *log.Logger
	mu     sync.Mutex
	buf    []byte
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		if line := bytes.TrimRight(w.buf[:idx], "\r"); len(line) != 0 {
			w.logger.Printf("stderr: %s\n", line)
		}
		w.buf = w.buf[idx+1:]
	}
	return len(p), nil
}
