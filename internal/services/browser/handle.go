// -----------------------------------------------------------------------
// Worker handles - process and in-process worker lifetimes
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/models"
)

// WorkerHandle is the pool's view of one worker. Results is closed once the
// worker has exited.
type WorkerHandle interface {
	ID() string
	Send(cmd *models.Command) error
	Results() <-chan *models.Result
	Alive() bool
	// Stop closes the command stream, waits stopGrace, then terminates and
	// waits killGrace before killing
	Stop(stopGrace, killGrace time.Duration) error
}

// Spawner starts the worker for slot index
type Spawner func(ctx context.Context, index int) (WorkerHandle, error)

var errWorkerStopped = errors.New("worker is not running")

// -----------------------------------------------------------------------
// Process isolation
// -----------------------------------------------------------------------

// NewProcessSpawner re-executes the current binary as "worker" for each slot
func NewProcessSpawner(cfg *common.BrowserConfig, logLevel string, logger arbor.ILogger) Spawner {
	return func(ctx context.Context, index int) (WorkerHandle, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		rawCfg, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode worker config: %w", err)
		}

		cmd := exec.Command(exe, "worker", "-index", strconv.Itoa(index))
		cmd.Env = append(os.Environ(),
			EnvWorkerConfig+"="+string(rawCfg),
			EnvWorkerLogLevel+"="+logLevel,
		)
		cmd.Stderr = os.Stderr
		return startProcessHandle(cmd, index, logger)
	}
}

type processHandle struct {
	id      string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	enc     *Encoder
	results chan *models.Result
	done    chan struct{}
	logger  arbor.ILogger

	closeOnce sync.Once
}

func startProcessHandle(cmd *exec.Cmd, index int, logger arbor.ILogger) (*processHandle, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %d: %w", index, err)
	}

	h := &processHandle{
		id:      fmt.Sprintf("worker-%d-pid-%d", index, cmd.Process.Pid),
		cmd:     cmd,
		stdin:   stdin,
		enc:     NewEncoder(stdin),
		results: make(chan *models.Result, 16),
		done:    make(chan struct{}),
		logger:  logger,
	}

	go h.readResults(stdout)

	logger.Info().Str("worker_id", h.id).Msg("Browser worker process started")
	return h, nil
}

// readResults pumps stdout until EOF, then reaps the process
func (h *processHandle) readResults(stdout io.Reader) {
	dec := NewDecoder(stdout)
	for {
		res, err := dec.DecodeResult()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var de *DecodeError
			if errors.As(err, &de) {
				h.logger.Warn().Str("worker_id", h.id).Err(err).Msg("Malformed result from worker")
				continue
			}
			h.logger.Warn().Str("worker_id", h.id).Err(err).Msg("Worker output stream failed")
			break
		}
		h.results <- res
	}
	close(h.results)

	err := h.cmd.Wait()
	if err != nil {
		h.logger.Warn().Str("worker_id", h.id).Err(err).Msg("Browser worker process exited")
	} else {
		h.logger.Info().Str("worker_id", h.id).Msg("Browser worker process exited")
	}
	close(h.done)
}

func (h *processHandle) ID() string { return h.id }

func (h *processHandle) Results() <-chan *models.Result { return h.results }

func (h *processHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *processHandle) Send(cmd *models.Command) error {
	if !h.Alive() {
		return errWorkerStopped
	}
	if err := h.enc.Encode(cmd); err != nil {
		return fmt.Errorf("failed to send command to %s: %w", h.id, err)
	}
	return nil
}

func (h *processHandle) Stop(stopGrace, killGrace time.Duration) error {
	h.closeOnce.Do(func() { _ = h.stdin.Close() })
	if waitDone(h.done, stopGrace) {
		return nil
	}

	h.logger.Warn().Str("worker_id", h.id).Msg("Worker did not exit after stop, terminating")
	_ = h.cmd.Process.Signal(syscall.SIGTERM)
	if waitDone(h.done, killGrace) {
		return nil
	}

	h.logger.Warn().Str("worker_id", h.id).Msg("Worker did not terminate, killing")
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill %s: %w", h.id, err)
	}
	<-h.done
	return nil
}

func waitDone(done <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// -----------------------------------------------------------------------
// In-process isolation
// -----------------------------------------------------------------------

// WorkerFactory builds the Worker for slot index
type WorkerFactory func(index int) *Worker

// NewInProcessSpawner runs each worker on its own goroutine
func NewInProcessSpawner(factory WorkerFactory, logger arbor.ILogger) Spawner {
	return func(ctx context.Context, index int) (WorkerHandle, error) {
		worker := factory(index)
		runCtx, cancel := context.WithCancel(context.Background())

		h := &inProcessHandle{
			id:       fmt.Sprintf("worker-%d-inprocess", index),
			commands: make(chan *models.Command, 16),
			results:  make(chan *models.Result, 16),
			done:     make(chan struct{}),
			cancel:   cancel,
		}

		common.SafeGo(logger, h.id, func() {
			defer close(h.done)
			defer close(h.results)
			ServeChannels(runCtx, worker, h.commands, h.results, logger)
		})

		logger.Info().Str("worker_id", h.id).Msg("Browser worker started in-process")
		return h, nil
	}
}

type inProcessHandle struct {
	id       string
	commands chan *models.Command
	results  chan *models.Result
	done     chan struct{}
	cancel   context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

func (h *inProcessHandle) ID() string { return h.id }

func (h *inProcessHandle) Results() <-chan *models.Result { return h.results }

func (h *inProcessHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *inProcessHandle) Send(cmd *models.Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || !h.Alive() {
		return errWorkerStopped
	}
	select {
	case h.commands <- cmd:
		return nil
	default:
		return fmt.Errorf("%s command queue is full", h.id)
	}
}

func (h *inProcessHandle) Stop(stopGrace, killGrace time.Duration) error {
	h.mu.Lock()
	if !h.stopped {
		h.stopped = true
		close(h.commands)
	}
	h.mu.Unlock()

	if waitDone(h.done, stopGrace) {
		return nil
	}
	h.cancel()
	if waitDone(h.done, killGrace) {
		return nil
	}
	return fmt.Errorf("%s did not exit", h.id)
}
