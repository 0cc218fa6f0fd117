package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/checkerls/checkerls/server/config"
	"github.com/checkerls/checkerls/server/wire"
	"github.com/google/uuid"
)

const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultGracePeriod  = 3 * time.Second
)

type State int

const (
	StateStopped State = iota
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	}
	return "unknown"
}

// Hooks are notified of handle lifecycle changes. Any of them may be nil.
type Hooks struct {
	Spawned  func(h *Handle)
	Degraded func(h *Handle, err error)
	Retired  func(h *Handle)
}

type Options struct {
	Log *log.Logger

	// Batches receives every batch decoded from the current handle.
	Batches chan<- wire.Batch

	WriteTimeout time.Duration
	GracePeriod  time.Duration
	Hooks        Hooks
}

// Supervisor owns the single worker process of the active configuration.
type Supervisor struct {
	opts   Options
	launch func(config.WorkerCommand) (*Handle, error)

	mu      sync.RWMutex
	handle  *Handle
	state   State
	lastErr error
}

func NewSupervisor(opts Options) *Supervisor {
	if opts.Log == nil {
		opts.Log = log.New(io.Discard, "", 0)
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}

	s := &Supervisor{opts: opts, state: StateStopped}
	s.launch = func(cmd config.WorkerCommand) (*Handle, error) {
		return spawn(cmd, opts.Log)
	}
	return s
}

// Start launches the first worker. It behaves exactly like Replace.
func (s *Supervisor) Start(ctx context.Context, cmd config.WorkerCommand) error {
	return s.Replace(ctx, cmd)
}

// Replace starts a worker for cmd, swaps it in and retires the previous one.
// Output of the previous worker that was not yet delivered is discarded. When
// the new worker cannot be launched the previous one is retired anyway and
// the supervisor is left degraded.
func (s *Supervisor) Replace(ctx context.Context, cmd config.WorkerCommand) error {
	h, err := s.launch(cmd)
	if err != nil {
		s.opts.Log.Printf("unable to launch worker: %s\n", err)
		s.swap(ctx, nil, err)
		return err
	}

	s.opts.Log.Printf("worker %s started: %s\n", h.ID, cmd)
	s.swap(ctx, h, nil)
	return nil
}

func (s *Supervisor) swap(ctx context.Context, h *Handle, launchErr error) {
	s.mu.Lock()
	old := s.handle
	s.handle = h
	if h != nil {
		s.state = StateReady
		s.lastErr = nil
	} else {
		s.state = StateDegraded
		s.lastErr = launchErr
	}
	s.mu.Unlock()

	if h != nil {
		recordSpawn(ctx)
		go s.readLoop(h)
		if s.opts.Hooks.Spawned != nil {
			s.opts.Hooks.Spawned(h)
		}
	}

	if old != nil {
		s.retire(ctx, old)
	}
}

// Stop retires the current worker and leaves the supervisor stopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	old := s.handle
	s.handle = nil
	s.state = StateStopped
	s.lastErr = nil
	s.mu.Unlock()

	if old != nil {
		s.retire(ctx, old)
	}
	return nil
}

// retire stops forwarding the handle's output, closes its input so the
// worker can exit on its own, and kills it after the grace period.
func (s *Supervisor) retire(ctx context.Context, h *Handle) {
	h.stopForwarding()
	_ = h.stdin.Close()

	grace := time.NewTimer(s.opts.GracePeriod)
	defer grace.Stop()

	select {
	case <-h.exited:
	case <-grace.C:
		s.opts.Log.Printf("worker %s did not exit in %s, killing it\n", h.ID, s.opts.GracePeriod)
		_ = h.kill()
	case <-ctx.Done():
		_ = h.kill()
	}

	select {
	case <-h.exited:
	case <-time.After(s.opts.GracePeriod):
		s.opts.Log.Printf("worker %s output still open after kill\n", h.ID)
	}

	s.opts.Log.Printf("worker %s retired\n", h.ID)
	if s.opts.Hooks.Retired != nil {
		s.opts.Hooks.Retired(h)
	}
}

// Submit writes one check request for files. It never waits for the
// results, which arrive later on the batches channel.
func (s *Supervisor) Submit(files []string) error {
	if len(files) == 0 {
		return nil
	}

	for _, f := range files {
		if !filepath.IsAbs(f) || strings.ContainsAny(f, "\r\n") {
			return fmt.Errorf("cannot submit %q: not an absolute single-line path", f)
		}
	}

	s.mu.RLock()
	h, state, lastErr := s.handle, s.state, s.lastErr
	s.mu.RUnlock()

	if h == nil || state != StateReady {
		if lastErr == nil {
			lastErr = ErrNotRunning
		}
		var handleID uuid.UUID
		if h != nil {
			handleID = h.ID
		}
		return &StreamError{HandleID: handleID, Err: lastErr}
	}

	ctx := context.Background()
	if err := h.write(files, s.opts.WriteTimeout); err != nil {
		recordSubmission(ctx, len(files), false)
		serr := &StreamError{HandleID: h.ID, Err: err}
		s.degrade(h, serr)
		return serr
	}

	recordSubmission(ctx, len(files), true)
	return nil
}

func (s *Supervisor) readLoop(h *Handle) {
	defer close(h.exited)

	reader := bufio.NewReader(h.stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) != 0 {
			s.handleLine(h, line)
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				_ = h.kill()
			}
			h.exitErr = h.wait()

			if !h.retired.Load() {
				cause := ErrWorkerExited
				if !errors.Is(err, io.EOF) {
					cause = err
				}
				if h.exitErr != nil {
					cause = fmt.Errorf("%w: %v", cause, h.exitErr)
				}
				s.degrade(h, &StreamError{HandleID: h.ID, Err: cause})
			}
			return
		}
	}
}

func (s *Supervisor) handleLine(h *Handle, line []byte) {
	ctx := context.Background()

	batch, err := wire.DecodeLine(line)
	if err != nil {
		recordDecodeError(ctx)
		s.opts.Log.Printf("worker %s: skipping output line: %s\n", h.ID, err)
		return
	}
	recordBatch(ctx)

	if h.retired.Load() || s.opts.Batches == nil {
		return
	}

	select {
	case s.opts.Batches <- batch:
	case <-h.quit:
	}
}

// degrade marks the supervisor degraded if h is still the current handle and
// makes sure the process is gone.
func (s *Supervisor) degrade(h *Handle, err error) {
	s.mu.Lock()
	if s.handle != h || s.state == StateDegraded {
		s.mu.Unlock()
		return
	}
	s.state = StateDegraded
	s.lastErr = err
	s.mu.Unlock()

	reason := "exited"
	if errors.Is(err, ErrWriteTimeout) {
		reason = "write_timeout"
	}
	recordDegraded(context.Background(), reason)

	s.opts.Log.Printf("worker %s degraded: %s\n", h.ID, err)
	_ = h.kill()

	if s.opts.Hooks.Degraded != nil {
		s.opts.Hooks.Degraded(h, err)
	}
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that degraded the supervisor, if any.
func (s *Supervisor) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// HandleID returns the id of the current worker, or uuid.Nil.
func (s *Supervisor) HandleID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return uuid.Nil
	}
	return s.handle.ID
}
