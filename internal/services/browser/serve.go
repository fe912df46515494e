package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/models"
)

// Environment passed from the pool to worker processes
const (
	EnvWorkerConfig   = "GENIEOPS_WORKER_CONFIG"
	EnvWorkerLogLevel = "GENIEOPS_WORKER_LOG_LEVEL"
)

// ServeChannels executes commands from in until in is closed or ctx ends.
// Closing in is the stop signal. The worker is shut down on return.
func ServeChannels(ctx context.Context, worker *Worker, in <-chan *models.Command, out chan<- *models.Result, logger arbor.ILogger) {
	defer func() {
		if err := worker.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("Worker shutdown returned error")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Worker context cancelled, exiting")
			return
		case cmd, ok := <-in:
			if !ok {
				logger.Info().Msg("Command stream closed, exiting")
				return
			}
			res := worker.Execute(ctx, cmd)
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ServeStdio runs the worker protocol over r and w until r reaches EOF
func ServeStdio(ctx context.Context, worker *Worker, r io.Reader, w io.Writer, logger arbor.ILogger) error {
	enc := NewEncoder(w)
	dec := NewDecoder(r)

	in := make(chan *models.Command)
	out := make(chan *models.Result, 16)
	readErr := make(chan error, 1)

	go func() {
		defer close(in)
		for {
			cmd, err := dec.DecodeCommand()
			if err != nil {
				if errors.Is(err, io.EOF) {
					readErr <- nil
					return
				}
				var de *DecodeError
				if errors.As(err, &de) {
					logger.Warn().Err(err).Msg("Malformed command")
					if de.ID != "" {
						_ = enc.Encode(models.ErrorResult(de.ID, models.ErrorInvalidCommand, de.Error()))
					}
					continue
				}
				readErr <- err
				return
			}
			select {
			case in <- cmd:
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for res := range out {
			if err := enc.Encode(res); err != nil {
				logger.Error().Str("command_id", res.ID).Err(err).Msg("Failed to write result")
			}
		}
	}()

	ServeChannels(ctx, worker, in, out, logger)
	close(out)
	wg.Wait()

	select {
	case err := <-readErr:
		return err
	default:
		return nil
	}
}

// RunWorkerProcess is the entry point of a worker subprocess. Browser config
// arrives through the environment, commands on stdin, results on stdout.
func RunWorkerProcess(ctx context.Context, index int) error {
	cfg := common.NewDefaultConfig().Browser
	if raw := os.Getenv(EnvWorkerConfig); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWorkerConfig, err)
		}
	}

	level := os.Getenv(EnvWorkerLogLevel)
	if level == "" {
		level = "info"
	}
	logger := common.NewWorkerLogger(common.LogsDir(), index, level)

	defer common.RecoverWithCrashFile(fmt.Sprintf("worker-%d", index))

	logger.Info().Int("index", index).Int("pid", os.Getpid()).Msg("Browser worker started")
	worker := NewWorker(DefaultWorkerOptions(index, &cfg, logger), logger)
	err := ServeStdio(ctx, worker, os.Stdin, os.Stdout, logger)
	logger.Info().Int("index", index).Msg("Browser worker stopped")
	return err
}
