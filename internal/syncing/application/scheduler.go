package application

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/nekosync/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/nekosync/internal/syncing/domain"
	"github.com/felixgeelhaar/nekosync/pkg/clock"
	"github.com/felixgeelhaar/nekosync/pkg/observability"
)

// LicenseGate answers the entitlement questions the sync layer asks.
type LicenseGate interface {
	// SyncAllowed reports whether the license grants sync at all.
	SyncAllowed(ctx context.Context) bool

	// AutoSyncAllowed reports whether data changes should schedule syncs
	// without user action.
	AutoSyncAllowed(ctx context.Context) bool
}

// ActionKind says what the armed timer will do when it fires.
type ActionKind string

const (
	// ActionNone means nothing is scheduled.
	ActionNone ActionKind = "none"
	// ActionDebounce is the trailing window after the last data change.
	ActionDebounce ActionKind = "debounce"
	// ActionCooldown is a start deferred to the end of the minimum gap
	// between consecutive sync starts.
	ActionCooldown ActionKind = "cooldown"
	// ActionRetry is a failed cycle waiting out its backoff rung.
	ActionRetry ActionKind = "retry"
)

// NextAction is the engine's one scheduled future step. There is never
// more than one; every event recomputes it, and a new trigger replaces
// rather than stacks.
type NextAction struct {
	Kind ActionKind `json:"kind"`
	At   time.Time  `json:"at,omitzero"`
}

// Snapshot is a read-only view of the engine state.
type Snapshot struct {
	Status     domain.SyncStatus `json:"status"`
	Connected  bool              `json:"connected"`
	LastSyncAt time.Time         `json:"last_sync_at,omitzero"`
	RetryCount int               `json:"retry_count"`
	LastError  string            `json:"last_error,omitempty"`
	NextAction NextAction        `json:"next_action"`
}

// Config tunes the scheduling windows. The retry ladder is fixed.
type Config struct {
	Debounce   time.Duration
	Cooldown   time.Duration
	MaxRetries int
}

// DefaultConfig returns the stock windows.
func DefaultConfig() Config {
	return Config{
		Debounce:   5 * time.Second,
		Cooldown:   30 * time.Second,
		MaxRetries: 5,
	}
}

// retryDelays is the backoff ladder between failed cycles. Attempts past
// the end reuse the last rung.
var retryDelays = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
	300 * time.Second,
}

func retryDelay(retryCount int) time.Duration {
	idx := retryCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retryDelays) {
		idx = len(retryDelays) - 1
	}
	return retryDelays[idx]
}

// SchedulerDeps bundles the scheduler's collaborators.
type SchedulerDeps struct {
	StateRepo domain.StateRepository
	History   domain.HistoryRepository
	Executor  Executor
	Gate      LicenseGate
	Clock     clock.Clock
	Timers    clock.Timers
	Publisher eventbus.Publisher
	Logger    *slog.Logger
	Metrics   observability.Metrics
	AccountID string
}

// Scheduler owns the sync engine state and decides when cycles run. One
// goroutine consumes triggers, connectivity changes, manual requests,
// timer fires and cycle completions; it is the only writer of the state
// and the only holder of the timer. Cycles execute off the loop, at most
// one in flight.
type Scheduler struct {
	stateRepo domain.StateRepository
	history   domain.HistoryRepository
	executor  Executor
	gate      LicenseGate
	clock     clock.Clock
	timers    clock.Timers
	publisher eventbus.Publisher
	logger    *slog.Logger
	metrics   observability.Metrics
	cfg       Config
	accountID string

	triggerCh chan struct{}
	connCh    chan bool
	manualCh  chan manualRequest
	doneCh    chan completion

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// Owned by the run loop; never touched from outside it.
	state       *domain.SyncState
	next        NextAction
	armedToken  clock.Token
	tokenSeq    uint64
	inFlight    bool
	pendingTrig bool
	lastStartAt time.Time

	subMu    sync.Mutex
	subs     map[int]chan Snapshot
	subSeq   int
	lastSnap atomic.Value
}

type manualRequest struct {
	reply chan bool
}

type completion struct {
	result CycleResult
	manual *manualRequest
}

// NewScheduler creates a sync scheduler.
func NewScheduler(deps SchedulerDeps, cfg Config) *Scheduler {
	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	s := &Scheduler{
		stateRepo: deps.StateRepo,
		history:   deps.History,
		executor:  deps.Executor,
		gate:      deps.Gate,
		clock:     clk,
		timers:    deps.Timers,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		metrics:   metrics,
		cfg:       cfg,
		accountID: deps.AccountID,
		triggerCh: make(chan struct{}, 1),
		connCh:    make(chan bool, 1),
		manualCh:  make(chan manualRequest),
		doneCh:    make(chan completion),
		state:     domain.NewSyncState(),
		next:      NextAction{Kind: ActionNone},
		subs:      make(map[int]chan Snapshot),
	}
	s.lastSnap.Store(s.buildSnapshot())
	return s
}

// Start loads the persisted state and begins the scheduling loop. Timers
// do not survive restarts: the engine boots idle and the cooldown anchor
// comes from the last recorded sync.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	loaded, err := s.stateRepo.Load(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}
	if loaded != nil {
		s.state = loaded
	}
	s.lastStartAt = s.state.LastSyncAt()
	s.lastSnap.Store(s.buildSnapshot())

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("sync scheduler started",
		"debounce", s.cfg.Debounce,
		"cooldown", s.cfg.Cooldown,
		"max_retries", s.cfg.MaxRetries,
		"last_sync_at", s.state.LastSyncAt(),
		"retry_count", s.state.RetryCount(),
	)
	return nil
}

// Stop halts the loop. A cycle already in flight finishes in the
// background but its completion is dropped; the state it would have
// produced is recovered from the repository on the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.timers.Close()
	s.logger.Info("sync scheduler stopped")
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerSync requests a sync after the debounce window. Safe to call at
// any rate from any goroutine; bursts coalesce into one scheduled sync
// fired one debounce after the last call.
func (s *Scheduler) TriggerSync() {
	s.metrics.Counter(observability.MetricSyncTriggers, 1)
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// SetConnected reports a connectivity change. The latest value wins when
// the loop is busy.
func (s *Scheduler) SetConnected(connected bool) {
	for {
		select {
		case s.connCh <- connected:
			return
		default:
		}
		select {
		case <-s.connCh:
		default:
		}
	}
}

// SyncNow forces an immediate sync, cancelling any scheduled action and
// clearing the error bookkeeping. It returns true when the cycle ran and
// succeeded. A request that cannot run (disconnected, unlicensed, or a
// cycle already in flight) returns false and leaves the engine untouched.
func (s *Scheduler) SyncNow(ctx context.Context) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	stop := s.stopCh
	s.mu.Unlock()

	req := manualRequest{reply: make(chan bool, 1)}
	select {
	case s.manualCh <- req:
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}

	select {
	case ok := <-req.reply:
		return ok
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}

// State returns the latest snapshot without blocking.
func (s *Scheduler) State() Snapshot {
	return s.lastSnap.Load().(Snapshot)
}

// Subscribe returns a stream of state snapshots and a cancel function.
// Slow subscribers miss intermediate snapshots rather than block the
// engine.
func (s *Scheduler) Subscribe() (<-chan Snapshot, func()) {
	s.subMu.Lock()
	s.subSeq++
	id := s.subSeq
	ch := make(chan Snapshot, 16)
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.disarm()
			return
		case <-s.stopCh:
			s.disarm()
			return
		case <-s.triggerCh:
			s.handleTrigger()
		case connected := <-s.connCh:
			s.handleConnectivity(connected)
		case req := <-s.manualCh:
			s.handleManual(ctx, req)
		case tok := <-s.timers.Fired():
			s.handleTimerFired(ctx, tok)
		case done := <-s.doneCh:
			s.handleCompletion(ctx, done)
		}
	}
}

func (s *Scheduler) handleTrigger() {
	if s.inFlight {
		// Re-evaluated when the running cycle completes so the latest
		// edit is never dropped.
		s.pendingTrig = true
		return
	}
	if s.gaveUp() {
		// The ladder is spent; only a manual sync resumes.
		return
	}
	s.armDebounce()
}

func (s *Scheduler) handleConnectivity(connected bool) {
	if connected == s.state.Connected() {
		return
	}
	s.state.SetConnected(connected)
	s.logger.Info("connectivity changed", "connected", connected)

	if connected && !s.inFlight &&
		s.state.Status() == domain.SyncStatusError &&
		!s.state.GaveUp() {
		// A ladder paused by the disconnect picks back up. A parked
		// engine stays parked; reconnecting fixes neither credentials
		// nor an exhausted budget.
		s.armDebounce()
		return
	}
	s.emit()
}

func (s *Scheduler) handleManual(ctx context.Context, req manualRequest) {
	if !s.canSync(ctx) {
		// Explicit no-op: retry count and status stay as they were.
		req.reply <- false
		return
	}
	s.disarm()
	s.pendingTrig = false
	s.state.ResetForManual()
	s.persistState(ctx)
	s.startCycle(ctx, &req)
}

func (s *Scheduler) handleTimerFired(ctx context.Context, tok clock.Token) {
	if tok != s.armedToken {
		// Stale fire from a timer replaced after delivery was queued.
		return
	}
	s.armedToken = 0
	s.next = NextAction{Kind: ActionNone}
	s.tryStart(ctx, nil)
}

// tryStart runs the gate checks for a due sync. Automatic starts respect
// the cooldown; manual ones answer only to canSync.
func (s *Scheduler) tryStart(ctx context.Context, manual *manualRequest) {
	if manual == nil {
		if wait := s.cooldownRemaining(); wait > 0 {
			// Deferred, not dropped: the start lands exactly at cooldown
			// expiry.
			s.arm(ActionCooldown, wait)
			s.state.MarkPending()
			s.emit()
			return
		}
	}

	if !s.canSync(ctx) {
		if manual != nil {
			manual.reply <- false
		}
		if s.state.Status() == domain.SyncStatusPendingDebounce {
			s.state.MarkIdle()
		}
		s.emit()
		return
	}

	s.startCycle(ctx, manual)
}

func (s *Scheduler) startCycle(ctx context.Context, manual *manualRequest) {
	s.disarm()
	s.inFlight = true
	s.pendingTrig = false
	s.lastStartAt = s.clock.Now()
	s.state.MarkSyncing()
	s.metrics.Counter(observability.MetricSyncStarts, 1,
		observability.T("manual", strconv.FormatBool(manual != nil)))
	s.emit()

	s.mu.Lock()
	stop := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result := s.executor.Execute(ctx, manual != nil)
		select {
		case s.doneCh <- completion{result: result, manual: manual}:
		case <-stop:
		case <-ctx.Done():
		}
	}()
}

func (s *Scheduler) handleCompletion(ctx context.Context, done completion) {
	s.inFlight = false
	result := done.result

	if result.Err == nil {
		s.state.MarkSuccess(s.clock.Now())
		s.persistState(ctx)
		s.recordCycle(ctx, result, done.manual != nil)
		s.metrics.Counter(observability.MetricSyncSuccesses, 1)
		s.logger.Info("sync completed",
			"direction", result.Direction,
			"duration", result.FinishedAt.Sub(result.StartedAt),
			"manual", done.manual != nil,
		)
		s.emit()
		s.state.MarkIdle()
		s.emit()
		if done.manual != nil {
			done.manual.reply <- true
		}
		if s.pendingTrig {
			// A change arrived mid-cycle; it gets its own debounced sync.
			s.pendingTrig = false
			s.armDebounce()
		}
		return
	}

	errMsg := result.Err.Error()
	s.recordCycle(ctx, result, done.manual != nil)
	s.metrics.Counter(observability.MetricSyncFailures, 1)
	s.pendingTrig = false

	switch {
	case errors.Is(result.Err, domain.ErrUnauthorized):
		// Credential failures abort the ladder; reconnecting will not
		// fix an entitlement problem.
		s.state.MarkGaveUp(errMsg)
		s.persistState(ctx)
		s.logger.Error("sync aborted, remote rejected credentials", "error", errMsg)
		s.emit()

	case s.state.ShouldRetry(s.cfg.MaxRetries):
		s.state.MarkFailure(errMsg)
		s.persistState(ctx)
		delay := retryDelay(s.state.RetryCount())
		s.arm(ActionRetry, delay)
		s.metrics.Counter(observability.MetricSyncRetries, 1)
		s.logger.Warn("sync failed, retry scheduled",
			"error", errMsg,
			"retry_count", s.state.RetryCount(),
			"retry_in", delay,
		)
		s.emit()

	default:
		s.state.MarkGaveUp(errMsg)
		s.persistState(ctx)
		s.logger.Error("sync retries exhausted",
			"error", errMsg,
			"retry_count", s.state.RetryCount(),
		)
		s.emit()
	}

	if done.manual != nil {
		done.manual.reply <- false
	}
}

// canSync is re-checked immediately before dispatch, not only when the
// sync was scheduled, so entitlement lost in between aborts the start.
func (s *Scheduler) canSync(ctx context.Context) bool {
	return !s.inFlight && s.state.Connected() && s.gate.SyncAllowed(ctx)
}

// gaveUp reports whether the engine is parked in Error waiting for a
// manual sync. Both kinds of give-up set the flag explicitly: a credential
// abort can land at any rung of the ladder, so the retry count alone
// cannot tell a parked engine from a ladder still running.
func (s *Scheduler) gaveUp() bool {
	return s.state.GaveUp()
}

func (s *Scheduler) cooldownRemaining() time.Duration {
	if s.lastStartAt.IsZero() {
		return 0
	}
	elapsed := s.clock.Now().Sub(s.lastStartAt)
	if elapsed >= s.cfg.Cooldown {
		return 0
	}
	return s.cfg.Cooldown - elapsed
}

func (s *Scheduler) armDebounce() {
	s.arm(ActionDebounce, s.cfg.Debounce)
	s.state.MarkPending()
	s.emit()
}

// arm replaces the scheduled action. The previous timer, if any, is
// cancelled; a fire from it that already left the timer is ignored by the
// token check.
func (s *Scheduler) arm(kind ActionKind, delay time.Duration) {
	if s.armedToken != 0 {
		s.timers.Cancel(s.armedToken)
	}
	s.tokenSeq++
	s.armedToken = clock.Token(s.tokenSeq)
	s.next = NextAction{Kind: kind, At: s.clock.Now().Add(delay)}
	s.timers.Schedule(delay, s.armedToken)
}

func (s *Scheduler) disarm() {
	if s.armedToken != 0 {
		s.timers.Cancel(s.armedToken)
		s.armedToken = 0
	}
	s.next = NextAction{Kind: ActionNone}
}

func (s *Scheduler) persistState(ctx context.Context) {
	if err := s.stateRepo.Save(ctx, s.state); err != nil {
		s.logger.Warn("failed to persist sync state", "error", err)
	}
}

func (s *Scheduler) recordCycle(ctx context.Context, result CycleResult, manual bool) {
	outcome := domain.OutcomeSuccess
	errMsg := ""
	route := eventbus.RouteSyncCompleted
	if result.Err != nil {
		outcome = domain.OutcomeFailure
		errMsg = result.Err.Error()
		route = eventbus.RouteSyncFailed
	}
	cycle := domain.NewSyncCycle(result.StartedAt, result.FinishedAt, result.Direction, outcome, errMsg, manual)

	if s.history != nil {
		if err := s.history.Append(ctx, cycle); err != nil {
			s.logger.Warn("failed to record sync cycle", "error", err)
		}
	}
	if s.publisher != nil {
		event := eventbus.SyncEvent{
			Event:      route,
			CycleID:    cycle.ID.String(),
			AccountID:  s.accountID,
			Direction:  string(result.Direction),
			Manual:     manual,
			DurationMS: cycle.Duration().Milliseconds(),
			Error:      errMsg,
			OccurredAt: s.clock.Now(),
		}
		if err := eventbus.PublishJSON(ctx, s.publisher, route, event); err != nil {
			s.logger.Warn("failed to publish sync event", "event", route, "error", err)
		}
	}
}

func (s *Scheduler) buildSnapshot() Snapshot {
	return Snapshot{
		Status:     s.state.Status(),
		Connected:  s.state.Connected(),
		LastSyncAt: s.state.LastSyncAt(),
		RetryCount: s.state.RetryCount(),
		LastError:  s.state.LastError(),
		NextAction: s.next,
	}
}

func (s *Scheduler) emit() {
	snap := s.buildSnapshot()
	s.lastSnap.Store(snap)
	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	s.subMu.Unlock()
}
