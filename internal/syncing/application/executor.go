package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/nekosync/internal/syncing/domain"
	"github.com/felixgeelhaar/nekosync/pkg/clock"
	"github.com/felixgeelhaar/nekosync/pkg/observability"
)

// CycleResult is the outcome of one sync cycle.
type CycleResult struct {
	Direction  domain.Direction
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Executor runs one full sync cycle against the remote store.
type Executor interface {
	Execute(ctx context.Context, manual bool) CycleResult
}

// SyncExecutor moves the library between the local store and the remote
// store. Resolution is last writer wins by modification time: local newer
// pushes, remote newer pulls, equal does nothing. No merge.
type SyncExecutor struct {
	remote  domain.RemoteStore
	local   domain.LocalStore
	lease   domain.Lease
	clock   clock.Clock
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewSyncExecutor creates a sync executor. lease may be nil when no
// cross-device coordination is configured.
func NewSyncExecutor(remote domain.RemoteStore, local domain.LocalStore, lease domain.Lease, clk clock.Clock, logger *slog.Logger, metrics observability.Metrics) *SyncExecutor {
	if clk == nil {
		clk = clock.System()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &SyncExecutor{
		remote:  remote,
		local:   local,
		lease:   lease,
		clock:   clk,
		logger:  logger,
		metrics: metrics,
	}
}

// Execute runs one cycle and reports how it went. Errors are carried in
// the result rather than returned; the scheduler owns the retry policy.
func (e *SyncExecutor) Execute(ctx context.Context, manual bool) CycleResult {
	startedAt := e.clock.Now()
	direction, err := e.run(ctx)
	finishedAt := e.clock.Now()

	outcome := string(domain.OutcomeSuccess)
	if err != nil {
		outcome = string(domain.OutcomeFailure)
	}
	e.metrics.Timing(observability.MetricSyncDuration, finishedAt.Sub(startedAt),
		observability.T("outcome", outcome))

	return CycleResult{
		Direction:  direction,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Err:        err,
	}
}

func (e *SyncExecutor) run(ctx context.Context) (domain.Direction, error) {
	if e.lease != nil {
		if err := e.lease.Acquire(ctx); err != nil {
			return domain.DirectionNone, err
		}
		defer e.lease.Release(ctx)
	}

	local, err := e.local.Snapshot(ctx)
	if err != nil {
		return domain.DirectionNone, err
	}

	info, err := e.remote.Exists(ctx)
	if err != nil {
		return domain.DirectionNone, err
	}

	switch {
	case local == nil && !info.Exists:
		// Nothing on either side yet.
		return domain.DirectionNone, nil
	case local == nil:
		return e.pull(ctx)
	case !info.Exists:
		return e.push(ctx, local)
	}

	switch {
	case local.ModifiedAt.After(info.ModifiedAt):
		return e.push(ctx, local)
	case info.ModifiedAt.After(local.ModifiedAt):
		return e.pull(ctx)
	default:
		return domain.DirectionNone, nil
	}
}

func (e *SyncExecutor) push(ctx context.Context, local *domain.LocalSnapshot) (domain.Direction, error) {
	pushedAt, err := e.remote.Push(ctx, local.Content)
	if err != nil {
		return domain.DirectionPush, err
	}
	if err := e.local.MarkPushed(ctx, local, pushedAt); err != nil {
		// Worst case the next cycle pulls back identical content.
		e.logger.Warn("failed to align local timestamp after push", "error", err)
	}
	e.metrics.Counter(observability.MetricRemotePushes, 1)
	e.logger.Debug("pushed local library",
		"bytes", len(local.Content),
		"remote_modified_at", pushedAt,
	)
	return domain.DirectionPush, nil
}

func (e *SyncExecutor) pull(ctx context.Context) (domain.Direction, error) {
	snap, err := e.remote.Pull(ctx)
	if err != nil {
		return domain.DirectionPull, err
	}
	if err := e.local.Apply(ctx, snap); err != nil {
		return domain.DirectionPull, err
	}
	e.metrics.Counter(observability.MetricRemotePulls, 1)
	e.logger.Debug("pulled remote library",
		"bytes", len(snap.Content),
		"remote_modified_at", snap.ModifiedAt,
	)
	return domain.DirectionPull, nil
}

var _ Executor = (*SyncExecutor)(nil)
