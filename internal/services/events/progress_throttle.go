package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/models"
)

// ProgressThrottle coalesces progress updates per submission so live
// clients receive at most one update per interval for each submission.
//
// Triggering:
//   - the first update after a quiet interval is sent at once
//   - later updates inside the interval replace each other; the newest is
//     sent by the periodic flush
//   - final stages are always sent at once and drop any pending update
type ProgressThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	pending  map[string]models.ProgressEntry
	lastSent map[string]time.Time
	onFlush  func(ctx context.Context, entries []models.ProgressEntry)
	now      func() time.Time
	logger   arbor.ILogger
}

// NewProgressThrottle creates a throttle. interval <= 0 defaults to 250ms.
func NewProgressThrottle(
	interval time.Duration,
	onFlush func(ctx context.Context, entries []models.ProgressEntry),
	logger arbor.ILogger,
) *ProgressThrottle {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &ProgressThrottle{
		interval: interval,
		pending:  make(map[string]models.ProgressEntry),
		lastSent: make(map[string]time.Time),
		onFlush:  onFlush,
		now:      time.Now,
		logger:   logger,
	}
}

// Record accepts one progress update
func (t *ProgressThrottle) Record(ctx context.Context, entry models.ProgressEntry) {
	t.mu.Lock()
	now := t.now()
	id := entry.SubmissionID

	if entry.Stage.IsFinal() {
		delete(t.pending, id)
		delete(t.lastSent, id)
		t.mu.Unlock()
		t.safeFlush(ctx, []models.ProgressEntry{entry})
		return
	}

	if last, ok := t.lastSent[id]; ok && now.Sub(last) < t.interval {
		t.pending[id] = entry
		t.mu.Unlock()
		return
	}
	t.lastSent[id] = now
	delete(t.pending, id)
	t.mu.Unlock()

	t.safeFlush(ctx, []models.ProgressEntry{entry})
}

// Flush sends pending updates whose interval has elapsed. force sends all.
func (t *ProgressThrottle) Flush(ctx context.Context, force bool) {
	t.mu.Lock()
	now := t.now()
	var due []models.ProgressEntry
	for id, entry := range t.pending {
		if !force && now.Sub(t.lastSent[id]) < t.interval {
			continue
		}
		due = append(due, entry)
		t.lastSent[id] = now
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool { return due[i].SubmissionID < due[j].SubmissionID })
	t.safeFlush(ctx, due)
}

// Start flushes periodically until ctx is done, then flushes everything
func (t *ProgressThrottle) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				t.Flush(context.Background(), true)
				return
			case <-ticker.C:
				t.Flush(ctx, false)
			}
		}
	}()
}

// Pending returns how many submissions have an unsent update
func (t *ProgressThrottle) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// safeFlush must not log on the success path; the websocket log stream
// would feed back into it
func (t *ProgressThrottle) safeFlush(ctx context.Context, entries []models.ProgressEntry) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Int("entries", len(entries)).
				Msg("PANIC in progress flush - recovered")
		}
	}()
	t.onFlush(ctx, entries)
}
