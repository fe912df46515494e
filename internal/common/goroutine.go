// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// goroutineCounter tracks spawned goroutines for diagnostics
var goroutineCounter int64

// GetGoroutineCount returns the number of goroutines spawned via SafeGo
func GetGoroutineCount() int64 {
	return atomic.LoadInt64(&goroutineCounter)
}

// SafeGo runs a function in a goroutine with panic recovery.
// Panics are logged but don't crash the service.
//
// Example:
//
//	common.SafeGo(logger, "publishProgress", func() {
//	    eventService.Publish(ctx, event)
//	})
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer recoverGoroutine(logger, name)
		fn()
	}()
}

// TaskGroup runs panic-protected goroutines and lets the owner wait for all of them
type TaskGroup struct {
	logger arbor.ILogger
	wg     sync.WaitGroup
	active int64
}

// NewTaskGroup creates an empty TaskGroup
func NewTaskGroup(logger arbor.ILogger) *TaskGroup {
	return &TaskGroup{logger: logger}
}

// Go starts fn in a tracked goroutine
func (g *TaskGroup) Go(name string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)
	atomic.AddInt64(&g.active, 1)
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()
		defer atomic.AddInt64(&g.active, -1)
		defer recoverGoroutine(g.logger, name)
		fn()
	}()
}

// Active returns the number of goroutines still running
func (g *TaskGroup) Active() int {
	return int(atomic.LoadInt64(&g.active))
}

// Wait blocks until every goroutine started with Go has returned
func (g *TaskGroup) Wait() {
	g.wg.Wait()
}

func recoverGoroutine(logger arbor.ILogger, name string) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	stackTrace := string(buf[:n])

	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic in goroutine - continuing service operation")
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
}
