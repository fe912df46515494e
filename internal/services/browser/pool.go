// -----------------------------------------------------------------------
// Browser worker pool - routing, session affinity, timeouts, liveness
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
)

// ErrPoolUnusable is returned when no worker can take a command
const ErrPoolUnusable = "All browser workers are dead. Pool is unusable."

// PoolOptions configures a Pool
type PoolOptions struct {
	Size           int
	Isolation      string
	DefaultTimeout time.Duration
	FillFormFloor  time.Duration
	NavigateFloor  time.Duration
	StartupGrace   time.Duration
	StopGrace      time.Duration
	KillGrace      time.Duration
	PollInterval   time.Duration
	OrphanTTL      time.Duration
	RespawnDead    bool
}

// PoolOptionsFromConfig maps browser config onto PoolOptions
func PoolOptionsFromConfig(cfg *common.BrowserConfig) PoolOptions {
	return PoolOptions{
		Size:           cfg.PoolSize,
		Isolation:      cfg.Isolation,
		DefaultTimeout: common.ParseDuration(cfg.DefaultTimeout, 60*time.Second),
		FillFormFloor:  common.ParseDuration(cfg.FillFormTimeout, 120*time.Second),
		NavigateFloor:  common.ParseDuration(cfg.NavigateTimeout, 30*time.Second),
		StartupGrace:   common.ParseDuration(cfg.StartupGrace, 500*time.Millisecond),
		StopGrace:      common.ParseDuration(cfg.StopGrace, 5*time.Second),
		KillGrace:      common.ParseDuration(cfg.KillGrace, 2*time.Second),
		PollInterval:   common.ParseDuration(cfg.PollInterval, 100*time.Millisecond),
		OrphanTTL:      common.ParseDuration(cfg.OrphanTTL, 5*time.Minute),
		RespawnDead:    cfg.RespawnDead,
	}
}

// EffectiveTimeout returns max(requested or default, floor for kind)
func (o PoolOptions) EffectiveTimeout(kind models.CommandKind, requested time.Duration) time.Duration {
	timeout := requested
	if timeout <= 0 {
		timeout = o.DefaultTimeout
	}
	var floor time.Duration
	switch kind {
	case models.CommandFillForm:
		floor = o.FillFormFloor
	case models.CommandNavigate:
		floor = o.NavigateFloor
	}
	if timeout < floor {
		return floor
	}
	return timeout
}

type orphan struct {
	result *models.Result
	at     time.Time
}

// slot is one worker position. The handle is replaced on respawn.
type slot struct {
	index    int
	handle   WorkerHandle
	restarts int
	sessions int

	mu      sync.Mutex
	pending map[string]chan *models.Result
	orphans map[string]orphan

	completed    int64
	deathLogged  int32
	dispatchDone chan struct{}
}

func newSlot(index int, handle WorkerHandle, restarts int) *slot {
	return &slot{
		index:        index,
		handle:       handle,
		restarts:     restarts,
		pending:      make(map[string]chan *models.Result),
		orphans:      make(map[string]orphan),
		dispatchDone: make(chan struct{}),
	}
}

func (s *slot) alive() bool {
	return s.handle != nil && s.handle.Alive()
}

func (s *slot) register(id string, ch chan *models.Result) {
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
}

func (s *slot) unregister(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// deliver hands res to its waiting caller or buffers it as an orphan.
// Caller channels have room for one result, so sending under the lock
// never blocks and abandonCall sees either the entry or the result.
func (s *slot) deliver(res *models.Result, logger arbor.ILogger) {
	s.mu.Lock()
	ch, ok := s.pending[res.ID]
	if ok {
		delete(s.pending, res.ID)
		ch <- res
	} else {
		s.orphans[res.ID] = orphan{result: res, at: time.Now()}
	}
	s.mu.Unlock()

	if ok {
		return
	}
	logger.Warn().
		Int("worker", s.index).
		Str("command_id", res.ID).
		Str("status", string(res.Status)).
		Msg("Result has no waiting caller, buffered as orphan")
}

// abandonCall unregisters a caller that stopped waiting. A result already
// handed to its channel moves to the orphan buffer.
func (s *slot) abandonCall(id string, ch chan *models.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; ok {
		delete(s.pending, id)
		return
	}
	select {
	case res := <-ch:
		s.orphans[id] = orphan{result: res, at: time.Now()}
	default:
	}
}

// dispatch routes results until the worker's result stream closes, then
// fails every caller still waiting
func (s *slot) dispatch(logger arbor.ILogger) {
	defer close(s.dispatchDone)
	for res := range s.handle.Results() {
		s.deliver(res, logger)
	}

	s.mu.Lock()
	for id, ch := range s.pending {
		ch <- models.ErrorResult(id, models.ErrorWorkerUnavailable, fmt.Sprintf("worker %d exited before answering", s.index))
	}
	s.pending = make(map[string]chan *models.Result)
	s.mu.Unlock()
}

func (s *slot) pruneOrphans(ttl time.Duration, now time.Time, logger arbor.ILogger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.orphans {
		if now.Sub(o.at) > ttl {
			delete(s.orphans, id)
			logger.Debug().Int("worker", s.index).Str("command_id", id).Msg("Orphan result expired")
		}
	}
}

func (s *slot) takeOrphan(id string) (*models.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orphans[id]
	if ok {
		delete(s.orphans, id)
	}
	return o.result, ok
}

func (s *slot) status() models.WorkerStatus {
	s.mu.Lock()
	inFlight, orphans := len(s.pending), len(s.orphans)
	s.mu.Unlock()

	st := models.WorkerStatus{
		Index:     s.index,
		Alive:     s.alive(),
		InFlight:  inFlight,
		Orphans:   orphans,
		Restarts:  s.restarts,
		Completed: atomic.LoadInt64(&s.completed),
	}
	if s.handle != nil {
		st.ID = s.handle.ID()
	}
	return st
}

// Pool routes commands to a fixed number of browser workers
type Pool struct {
	opts    PoolOptions
	spawner Spawner
	logger  arbor.ILogger

	mu       sync.Mutex
	slots    []*slot
	sessions map[string]int
	next     int
	started  bool
	closed   bool

	stopMonitor chan struct{}
	monitorDone chan struct{}
}

var _ interfaces.CommandExecutor = (*Pool)(nil)

// NewPool creates a pool. Workers start in Start.
func NewPool(opts PoolOptions, spawner Spawner, logger arbor.ILogger) *Pool {
	if opts.Size < 1 {
		opts.Size = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Pool{
		opts:        opts,
		spawner:     spawner,
		logger:      logger,
		sessions:    make(map[string]int),
		stopMonitor: make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
}

// Start spawns every worker, waits the startup grace and verifies each one
// is alive. Any failure tears down the workers already started.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pool already started")
	}

	slots := make([]*slot, 0, p.opts.Size)
	for i := 0; i < p.opts.Size; i++ {
		handle, err := p.spawner(ctx, i)
		if err != nil {
			p.teardown(slots)
			return fmt.Errorf("failed to start browser worker %d: %w", i, err)
		}
		s := newSlot(i, handle, 0)
		go s.dispatch(p.logger)
		slots = append(slots, s)
	}

	if err := sleepCtx(ctx, p.opts.StartupGrace); err != nil {
		p.teardown(slots)
		return err
	}

	for _, s := range slots {
		if !s.alive() {
			p.teardown(slots)
			return fmt.Errorf("browser worker %d died during startup", s.index)
		}
	}

	p.slots = slots
	p.started = true
	go p.monitor()

	p.logger.Info().
		Int("size", p.opts.Size).
		Str("isolation", p.opts.Isolation).
		Msg("Browser worker pool started")
	return nil
}

func (p *Pool) teardown(slots []*slot) {
	var wg sync.WaitGroup
	for _, s := range slots {
		wg.Add(1)
		go func(s *slot) {
			defer wg.Done()
			if err := s.handle.Stop(p.opts.StopGrace, p.opts.KillGrace); err != nil {
				p.logger.Warn().Int("worker", s.index).Err(err).Msg("Worker stop failed")
				return
			}
			<-s.dispatchDone
		}(s)
	}
	wg.Wait()
}

// monitor logs worker deaths and expires orphan results
func (p *Pool) monitor() {
	defer close(p.monitorDone)
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopMonitor:
			return
		case now := <-ticker.C:
			p.mu.Lock()
			slots := append([]*slot(nil), p.slots...)
			p.mu.Unlock()

			for _, s := range slots {
				if !s.alive() && atomic.CompareAndSwapInt32(&s.deathLogged, 0, 1) {
					p.logger.Error().Int("worker", s.index).Msg("Browser worker died")
				}
				s.pruneOrphans(p.opts.OrphanTTL, now, p.logger)
			}
		}
	}
}

// Execute sends one command and waits for its result. A returned error
// means the command could not be completed. Worker-side failures come back
// as an error Result.
func (p *Pool) Execute(ctx context.Context, kind models.CommandKind, params interface{}, opts interfaces.ExecOptions) (*models.Result, error) {
	timeout := p.opts.EffectiveTimeout(kind, opts.Timeout)

	cmd, err := models.NewCommand(common.NewCommandID(), kind, params)
	if err != nil {
		return nil, &models.WorkflowError{Kind: models.ErrorInvalidCommand, Message: err.Error()}
	}
	cmd.TimeoutMS = timeout.Milliseconds()

	s, err := p.selectSlot(ctx, opts.SessionID)
	if err != nil {
		return nil, err
	}

	ch := make(chan *models.Result, 1)
	s.register(cmd.ID, ch)
	if err := s.handle.Send(cmd); err != nil {
		s.unregister(cmd.ID)
		return nil, &models.WorkflowError{Kind: models.ErrorWorkerUnavailable, Message: fmt.Sprintf("worker %d rejected command", s.index), Err: err}
	}

	p.logger.Trace().
		Int("worker", s.index).
		Str("command_id", cmd.ID).
		Str("kind", string(kind)).
		Dur("timeout", timeout).
		Msg("Command sent")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		atomic.AddInt64(&s.completed, 1)
		return res, nil
	case <-timer.C:
		return nil, p.abandon(s, cmd, ch, &models.WorkflowError{
			Kind:    models.ErrorTimeout,
			Message: fmt.Sprintf("%s timed out after %s", kind, timeout),
		})
	case <-ctx.Done():
		return nil, p.abandon(s, cmd, ch, &models.WorkflowError{
			Kind:    models.ErrorTimeout,
			Message: fmt.Sprintf("%s cancelled", kind),
			Err:     ctx.Err(),
		})
	}
}

// abandon stops waiting for cmd. A result arriving later is kept as an orphan.
func (p *Pool) abandon(s *slot, cmd *models.Command, ch chan *models.Result, err error) error {
	s.abandonCall(cmd.ID, ch)
	p.logger.Warn().
		Int("worker", s.index).
		Str("command_id", cmd.ID).
		Str("kind", string(cmd.Kind)).
		Err(err).
		Msg("Stopped waiting for command result")
	return err
}

// selectSlot picks the worker for a command. A session keeps its worker
// while that worker lives. New sessions prefer workers with no session so
// pages are not shared.
func (p *Pool) selectSlot(ctx context.Context, sessionID string) (*slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || !p.started {
		return nil, &models.WorkflowError{Kind: models.ErrorWorkerUnavailable, Message: "browser pool is not running"}
	}

	if p.opts.RespawnDead {
		p.respawnDead(ctx)
	}

	if sessionID != "" {
		if idx, ok := p.sessions[sessionID]; ok {
			s := p.slots[idx]
			if s.alive() {
				return s, nil
			}
			p.logger.Warn().
				Str("session_id", sessionID).
				Int("worker", idx).
				Msg("Session worker is dead, reassigning session")
			p.dropSession(sessionID)
		}
	}

	var alive []*slot
	for i := 0; i < len(p.slots); i++ {
		s := p.slots[(p.next+i)%len(p.slots)]
		if s.alive() {
			alive = append(alive, s)
		}
	}
	if len(alive) == 0 {
		p.logger.Error().Msg(ErrPoolUnusable)
		return nil, &models.WorkflowError{Kind: models.ErrorWorkerUnavailable, Message: ErrPoolUnusable}
	}

	chosen := alive[0]
	if sessionID != "" {
		shared := true
		for _, s := range alive {
			if s.sessions == 0 {
				chosen = s
				shared = false
				break
			}
		}
		if shared {
			p.logger.Warn().
				Str("session_id", sessionID).
				Int("worker", chosen.index).
				Msg("No idle worker, session shares a page")
		}
		p.sessions[sessionID] = chosen.index
		chosen.sessions++
	}
	p.next = (chosen.index + 1) % len(p.slots)
	return chosen, nil
}

// respawnDead replaces dead workers. Caller holds p.mu.
func (p *Pool) respawnDead(ctx context.Context) {
	for i, s := range p.slots {
		if s.alive() {
			continue
		}

		handle, err := p.spawner(ctx, i)
		if err != nil {
			p.logger.Error().Int("worker", i).Err(err).Msg("Failed to respawn browser worker")
			continue
		}

		for id, idx := range p.sessions {
			if idx == i {
				delete(p.sessions, id)
			}
		}

		fresh := newSlot(i, handle, s.restarts+1)
		go fresh.dispatch(p.logger)
		p.slots[i] = fresh

		old := s
		common.SafeGo(p.logger, fmt.Sprintf("reap-worker-%d", i), func() {
			_ = old.handle.Stop(p.opts.StopGrace, p.opts.KillGrace)
		})

		p.logger.Warn().
			Int("worker", i).
			Int("restarts", fresh.restarts).
			Msg("Respawned dead browser worker")
	}
}

func (p *Pool) dropSession(sessionID string) {
	idx, ok := p.sessions[sessionID]
	if !ok {
		return
	}
	delete(p.sessions, sessionID)
	if s := p.slots[idx]; s.sessions > 0 {
		s.sessions--
	}
}

// ReleaseSession frees the session's worker for other sessions
func (p *Pool) ReleaseSession(sessionID string) {
	if sessionID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropSession(sessionID)
}

// OrphanResult returns and removes a buffered result whose caller gave up
func (p *Pool) OrphanResult(commandID string) (*models.Result, bool) {
	p.mu.Lock()
	slots := append([]*slot(nil), p.slots...)
	p.mu.Unlock()

	for _, s := range slots {
		if res, ok := s.takeOrphan(commandID); ok {
			return res, true
		}
	}
	return nil, false
}

// Status returns a snapshot of every worker slot
func (p *Pool) Status() *models.PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := &models.PoolStatus{
		Size:      p.opts.Size,
		Isolation: p.opts.Isolation,
		Sessions:  len(p.sessions),
		Workers:   make([]models.WorkerStatus, 0, len(p.slots)),
	}
	for _, s := range p.slots {
		ws := s.status()
		if ws.Alive {
			st.Alive++
		}
		st.Workers = append(st.Workers, ws)
	}
	return st
}

// Stop closes every worker's command stream and waits for them to exit,
// escalating to terminate and kill after the configured graces
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	slots := p.slots
	started := p.started
	p.mu.Unlock()

	if started {
		close(p.stopMonitor)
		<-p.monitorDone
	}

	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup
	for _, s := range slots {
		wg.Add(1)
		go func(s *slot) {
			defer wg.Done()
			if err := s.handle.Stop(p.opts.StopGrace, p.opts.KillGrace); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			<-s.dispatchDone
		}(s)
	}
	wg.Wait()

	p.logger.Info().Int("workers", len(slots)).Msg("Browser worker pool stopped")
	return errors.Join(errs...)
}
