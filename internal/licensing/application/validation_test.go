package application_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/felixgeelhaar/nekosync/internal/licensing/application"
	"github.com/felixgeelhaar/nekosync/internal/licensing/domain"
	"github.com/felixgeelhaar/nekosync/pkg/clock"
	"github.com/felixgeelhaar/nekosync/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidationScheduler(repo *mockRepository, authority *mockAuthority) (*application.ValidationScheduler, *clock.Fake, *observability.InMemoryMetrics) {
	fc := clock.NewFake(testNow)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := application.NewService(repo, authority, nil, fc, logger, testAccount, testDevice, application.DefaultConfig())
	metrics := observability.NewInMemoryMetrics()
	sched := application.NewValidationScheduler(svc, logger, metrics)
	return sched, fc, metrics
}

func TestValidationScheduler_NeedsValidation(t *testing.T) {
	tests := []struct {
		name    string
		license *domain.License
		want    bool
	}{
		{name: "fresh license", license: activeLicense(testNow), want: false},
		{name: "stale license", license: activeLicense(testNow.Add(-25 * time.Hour)), want: true},
		{name: "exactly at interval", license: activeLicense(testNow.Add(-24 * time.Hour)), want: true},
		{name: "unactivated", license: domain.NewUnactivated(), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, _, _ := newTestValidationScheduler(&mockRepository{license: tt.license}, newMockAuthority())

			due, err := sched.NeedsValidation(context.Background())

			require.NoError(t, err)
			assert.Equal(t, tt.want, due)
		})
	}
}

func TestValidationScheduler_EnsureFresh_SkipsFreshLicense(t *testing.T) {
	authority := newMockAuthority()
	sched, _, _ := newTestValidationScheduler(&mockRepository{license: activeLicense(testNow)}, authority)

	require.NoError(t, sched.EnsureFresh(context.Background()))
	assert.Zero(t, authority.checkCalls)
}

func TestValidationScheduler_EnsureFresh_ValidatesStaleLicense(t *testing.T) {
	authority := newMockAuthority()
	repo := &mockRepository{license: activeLicense(testNow.Add(-25 * time.Hour))}
	sched, _, metrics := newTestValidationScheduler(repo, authority)

	require.NoError(t, sched.EnsureFresh(context.Background()))

	assert.Equal(t, 1, authority.checkCalls)
	assert.Equal(t, int64(1),
		metrics.GetCounter(observability.MetricLicenseValidations, observability.T("status", "active")))
	assert.Equal(t, testNow, repo.license.LastValidatedAt)
}

func TestValidationScheduler_EnsureFresh_TamperForcesValidation(t *testing.T) {
	license := activeLicense(testNow)
	license.FlagTimeTamper()
	authority := newMockAuthority()
	sched, _, _ := newTestValidationScheduler(&mockRepository{license: license}, authority)

	require.NoError(t, sched.EnsureFresh(context.Background()))
	assert.Equal(t, 1, authority.checkCalls)
}

func TestValidationScheduler_EnsureFresh_CountsGraceEntryOnce(t *testing.T) {
	authority := newMockAuthority()
	authority.checkErr = domain.ErrNetworkUnavailable
	repo := &mockRepository{license: activeLicense(testNow.Add(-25 * time.Hour))}
	sched, _, metrics := newTestValidationScheduler(repo, authority)

	ctx := context.Background()
	require.NoError(t, sched.EnsureFresh(ctx))
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricLicenseGraceEntries))

	// A second offline attempt is already inside the window.
	require.NoError(t, sched.EnsureFresh(ctx))
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricLicenseGraceEntries))
}

func TestValidationScheduler_EnsureFresh_BackwardsClockForcesValidation(t *testing.T) {
	// The wall clock reads an hour before the last validation. That must
	// count as due, or the tamper check in the validation path never runs.
	authority := newMockAuthority()
	repo := &mockRepository{license: activeLicense(testNow.Add(time.Hour))}
	sched, _, metrics := newTestValidationScheduler(repo, authority)

	require.NoError(t, sched.EnsureFresh(context.Background()))

	assert.Equal(t, 1, authority.checkCalls)
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricLicenseTamperFlags))
	assert.Equal(t, testNow, repo.license.LastValidatedAt)
	assert.False(t, repo.license.TimeTamperDetected)
}

func TestValidationScheduler_CustomInterval(t *testing.T) {
	authority := newMockAuthority()
	repo := &mockRepository{license: activeLicense(testNow.Add(-2 * time.Hour))}
	fc := clock.NewFake(testNow)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := application.NewService(repo, authority, nil, fc, logger, testAccount, testDevice,
		application.Config{ValidationInterval: time.Hour})
	sched := application.NewValidationScheduler(svc, logger, nil)

	due, err := sched.NeedsValidation(context.Background())

	require.NoError(t, err)
	assert.True(t, due)
}

func TestValidationScheduler_EnsureFresh_UnactivatedIsNoop(t *testing.T) {
	authority := newMockAuthority()
	sched, _, _ := newTestValidationScheduler(&mockRepository{}, authority)

	require.NoError(t, sched.EnsureFresh(context.Background()))
	assert.Zero(t, authority.checkCalls)
}
