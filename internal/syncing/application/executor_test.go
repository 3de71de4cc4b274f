package application_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/felixgeelhaar/nekosync/internal/syncing/application"
	"github.com/felixgeelhaar/nekosync/internal/syncing/domain"
	"github.com/felixgeelhaar/nekosync/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemoteStore struct {
	info      *domain.RemoteInfo
	snapshot  *domain.RemoteSnapshot
	pushedAt  time.Time
	pushed    [][]byte
	pulls     int
	existsErr error
	pullErr   error
	pushErr   error
}

func (r *fakeRemoteStore) Exists(ctx context.Context) (*domain.RemoteInfo, error) {
	if r.existsErr != nil {
		return nil, r.existsErr
	}
	return r.info, nil
}

func (r *fakeRemoteStore) Pull(ctx context.Context) (*domain.RemoteSnapshot, error) {
	r.pulls++
	if r.pullErr != nil {
		return nil, r.pullErr
	}
	return r.snapshot, nil
}

func (r *fakeRemoteStore) Push(ctx context.Context, content []byte) (time.Time, error) {
	if r.pushErr != nil {
		return time.Time{}, r.pushErr
	}
	r.pushed = append(r.pushed, append([]byte(nil), content...))
	return r.pushedAt, nil
}

type fakeLocalStore struct {
	snapshot    *domain.LocalSnapshot
	applied     *domain.RemoteSnapshot
	markedAt    time.Time
	markedCalls int
	snapshotErr error
	applyErr    error
}

func (l *fakeLocalStore) Snapshot(ctx context.Context) (*domain.LocalSnapshot, error) {
	if l.snapshotErr != nil {
		return nil, l.snapshotErr
	}
	return l.snapshot, nil
}

func (l *fakeLocalStore) Apply(ctx context.Context, snap *domain.RemoteSnapshot) error {
	if l.applyErr != nil {
		return l.applyErr
	}
	l.applied = snap
	return nil
}

func (l *fakeLocalStore) MarkPushed(ctx context.Context, snap *domain.LocalSnapshot, remoteModifiedAt time.Time) error {
	l.markedCalls++
	l.markedAt = remoteModifiedAt
	return nil
}

type fakeLease struct {
	acquireErr error
	acquired   int
	released   int
}

func (l *fakeLease) Acquire(ctx context.Context) error {
	l.acquired++
	return l.acquireErr
}

func (l *fakeLease) Release(ctx context.Context) {
	l.released++
}

func newTestExecutor(remote *fakeRemoteStore, local *fakeLocalStore, lease domain.Lease) *application.SyncExecutor {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return application.NewSyncExecutor(remote, local, lease, clock.NewFake(testStart), logger, nil)
}

func TestSyncExecutor_LocalNewerPushes(t *testing.T) {
	remoteTime := testStart.Add(-time.Hour)
	remote := &fakeRemoteStore{
		info:     &domain.RemoteInfo{Exists: true, ModifiedAt: remoteTime},
		pushedAt: testStart,
	}
	local := &fakeLocalStore{
		snapshot: &domain.LocalSnapshot{ModifiedAt: testStart.Add(-time.Minute), Content: []byte(`{"decks":[1]}`)},
	}
	exec := newTestExecutor(remote, local, nil)

	result := exec.Execute(context.Background(), false)

	require.NoError(t, result.Err)
	assert.Equal(t, domain.DirectionPush, result.Direction)
	require.Len(t, remote.pushed, 1)
	assert.Equal(t, []byte(`{"decks":[1]}`), remote.pushed[0])
	// The local timestamp is aligned with what the remote recorded, so an
	// unchanged library compares equal on the next cycle.
	assert.Equal(t, 1, local.markedCalls)
	assert.True(t, local.markedAt.Equal(testStart))
}

func TestSyncExecutor_RemoteNewerPulls(t *testing.T) {
	remoteTime := testStart.Add(time.Minute)
	remote := &fakeRemoteStore{
		info:     &domain.RemoteInfo{Exists: true, ModifiedAt: remoteTime},
		snapshot: &domain.RemoteSnapshot{ModifiedAt: remoteTime, Content: []byte(`{"decks":[2]}`)},
	}
	local := &fakeLocalStore{
		snapshot: &domain.LocalSnapshot{ModifiedAt: testStart.Add(-time.Hour), Content: []byte(`{"decks":[1]}`)},
	}
	exec := newTestExecutor(remote, local, nil)

	result := exec.Execute(context.Background(), false)

	require.NoError(t, result.Err)
	assert.Equal(t, domain.DirectionPull, result.Direction)
	require.NotNil(t, local.applied)
	assert.Equal(t, []byte(`{"decks":[2]}`), local.applied.Content)
	assert.Empty(t, remote.pushed)
}

func TestSyncExecutor_EqualTimestampsDoNothing(t *testing.T) {
	remote := &fakeRemoteStore{
		info: &domain.RemoteInfo{Exists: true, ModifiedAt: testStart},
	}
	local := &fakeLocalStore{
		snapshot: &domain.LocalSnapshot{ModifiedAt: testStart, Content: []byte(`{}`)},
	}
	exec := newTestExecutor(remote, local, nil)

	result := exec.Execute(context.Background(), false)

	require.NoError(t, result.Err)
	assert.Equal(t, domain.DirectionNone, result.Direction)
	assert.Empty(t, remote.pushed)
	assert.Equal(t, 0, remote.pulls)
	assert.Nil(t, local.applied)
}

func TestSyncExecutor_FirstPushWhenRemoteMissing(t *testing.T) {
	remote := &fakeRemoteStore{
		info:     &domain.RemoteInfo{Exists: false},
		pushedAt: testStart,
	}
	local := &fakeLocalStore{
		snapshot: &domain.LocalSnapshot{ModifiedAt: testStart.Add(-time.Hour), Content: []byte(`{}`)},
	}
	exec := newTestExecutor(remote, local, nil)

	result := exec.Execute(context.Background(), false)

	require.NoError(t, result.Err)
	assert.Equal(t, domain.DirectionPush, result.Direction)
	require.Len(t, remote.pushed, 1)
}

func TestSyncExecutor_FirstPullWhenLocalMissing(t *testing.T) {
	remote := &fakeRemoteStore{
		info:     &domain.RemoteInfo{Exists: true, ModifiedAt: testStart},
		snapshot: &domain.RemoteSnapshot{ModifiedAt: testStart, Content: []byte(`{}`)},
	}
	local := &fakeLocalStore{}
	exec := newTestExecutor(remote, local, nil)

	result := exec.Execute(context.Background(), false)

	require.NoError(t, result.Err)
	assert.Equal(t, domain.DirectionPull, result.Direction)
	require.NotNil(t, local.applied)
}

func TestSyncExecutor_NothingOnEitherSide(t *testing.T) {
	remote := &fakeRemoteStore{info: &domain.RemoteInfo{Exists: false}}
	local := &fakeLocalStore{}
	exec := newTestExecutor(remote, local, nil)

	result := exec.Execute(context.Background(), false)

	require.NoError(t, result.Err)
	assert.Equal(t, domain.DirectionNone, result.Direction)
}

func TestSyncExecutor_LeaseWrapsTheCycle(t *testing.T) {
	remote := &fakeRemoteStore{info: &domain.RemoteInfo{Exists: false}}
	local := &fakeLocalStore{}
	lease := &fakeLease{}
	exec := newTestExecutor(remote, local, lease)

	result := exec.Execute(context.Background(), false)

	require.NoError(t, result.Err)
	assert.Equal(t, 1, lease.acquired)
	assert.Equal(t, 1, lease.released)
}

func TestSyncExecutor_LeaseHeldAbortsBeforeTouchingStores(t *testing.T) {
	remote := &fakeRemoteStore{info: &domain.RemoteInfo{Exists: true, ModifiedAt: testStart}}
	local := &fakeLocalStore{snapshot: &domain.LocalSnapshot{ModifiedAt: testStart}}
	lease := &fakeLease{acquireErr: fmt.Errorf("%w: held by device-0002", domain.ErrLeaseHeld)}
	exec := newTestExecutor(remote, local, lease)

	result := exec.Execute(context.Background(), false)

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, domain.ErrLeaseHeld)
	assert.Equal(t, domain.DirectionNone, result.Direction)
	assert.Equal(t, 0, lease.released)
	assert.Empty(t, remote.pushed)
	assert.Nil(t, local.applied)
}

func TestSyncExecutor_NetworkFailureSurfacesInResult(t *testing.T) {
	remote := &fakeRemoteStore{
		existsErr: fmt.Errorf("%w: connection refused", domain.ErrNetworkUnavailable),
	}
	local := &fakeLocalStore{snapshot: &domain.LocalSnapshot{ModifiedAt: testStart}}
	exec := newTestExecutor(remote, local, nil)

	result := exec.Execute(context.Background(), false)

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, domain.ErrNetworkUnavailable)
	assert.Equal(t, domain.DirectionNone, result.Direction)
}

func TestSyncExecutor_PushFailureReportsDirection(t *testing.T) {
	remote := &fakeRemoteStore{
		info:    &domain.RemoteInfo{Exists: false},
		pushErr: fmt.Errorf("%w: 502 Bad Gateway", domain.ErrNetworkUnavailable),
	}
	local := &fakeLocalStore{snapshot: &domain.LocalSnapshot{ModifiedAt: testStart, Content: []byte(`{}`)}}
	exec := newTestExecutor(remote, local, nil)

	result := exec.Execute(context.Background(), false)

	require.Error(t, result.Err)
	assert.Equal(t, domain.DirectionPush, result.Direction)
	assert.Equal(t, 0, local.markedCalls)
}
