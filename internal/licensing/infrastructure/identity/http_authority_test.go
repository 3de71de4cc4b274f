package identity_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/nekosync/internal/licensing/domain"
	"github.com/felixgeelhaar/nekosync/internal/licensing/infrastructure/identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthority(t *testing.T, url string) *identity.HTTPAuthority {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return identity.NewHTTPAuthority(url, 5*time.Second, logger, nil)
}

func TestHTTPAuthority_Bind_Success(t *testing.T) {
	expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/licenses/bind", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "NEKO-TEST-1234-5678", req["license_key"])
		assert.Equal(t, "testuser", req["account_id"])
		assert.Equal(t, "device-0001", req["device_id"])

		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]any{
			"plan":       "pro",
			"expires_at": expires,
		})
		require.NoError(t, err)
	}))
	defer srv.Close()

	authority := newAuthority(t, srv.URL)
	result, err := authority.Bind(context.Background(), "NEKO-TEST-1234-5678", "testuser", "device-0001")

	require.NoError(t, err)
	assert.Equal(t, "pro", result.Plan)
	assert.True(t, expires.Equal(result.ExpiresAt))
}

func TestHTTPAuthority_Bind_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		errorCode string
		wantErr   error
	}{
		{name: "invalid key", errorCode: "invalid_key", wantErr: domain.ErrInvalidKey},
		{name: "revoked", errorCode: "revoked", wantErr: domain.ErrKeyRevoked},
		{name: "already bound", errorCode: "already_bound", wantErr: domain.ErrAlreadyBound},
		{name: "device limit", errorCode: "device_limit_reached", wantErr: domain.ErrDeviceLimitReached},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				err := json.NewEncoder(w).Encode(map[string]string{"error_code": tt.errorCode})
				require.NoError(t, err)
			}))
			defer srv.Close()

			authority := newAuthority(t, srv.URL)
			_, err := authority.Bind(context.Background(), "NEKO-TEST-1234-5678", "otheruser", "device-0001")

			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHTTPAuthority_UnknownRejectionIsPlainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		err := json.NewEncoder(w).Encode(map[string]string{"error_code": "quota_exceeded", "message": "try later"})
		require.NoError(t, err)
	}))
	defer srv.Close()

	authority := newAuthority(t, srv.URL)
	_, err := authority.Bind(context.Background(), "NEKO-TEST-1234-5678", "testuser", "device-0001")

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidKey)
	assert.NotErrorIs(t, err, domain.ErrNetworkUnavailable)
	assert.Contains(t, err.Error(), "try later")
}

func TestHTTPAuthority_ServerErrorMapsToNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	authority := newAuthority(t, srv.URL)
	_, err := authority.CheckEntitlement(context.Background(), "NEKO-TEST-1234-5678", "testuser")

	require.ErrorIs(t, err, domain.ErrNetworkUnavailable)
}

func TestHTTPAuthority_UnreachableHostMapsToNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	authority := newAuthority(t, srv.URL)
	_, err := authority.CheckEntitlement(context.Background(), "NEKO-TEST-1234-5678", "testuser")

	require.ErrorIs(t, err, domain.ErrNetworkUnavailable)
}

func TestHTTPAuthority_CheckEntitlement_Verdicts(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   domain.EntitlementStatus
	}{
		{name: "active", status: "active", want: domain.EntitlementActive},
		{name: "expired", status: "expired", want: domain.EntitlementExpired},
		{name: "revoked", status: "revoked", want: domain.EntitlementRevoked},
		{name: "uppercase active", status: "ACTIVE", want: domain.EntitlementActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/licenses/validate", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				err := json.NewEncoder(w).Encode(map[string]any{
					"status":     tt.status,
					"plan":       "pro",
					"expires_at": time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
				})
				require.NoError(t, err)
			}))
			defer srv.Close()

			authority := newAuthority(t, srv.URL)
			result, err := authority.CheckEntitlement(context.Background(), "NEKO-TEST-1234-5678", "testuser")

			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, "pro", result.Plan)
		})
	}
}

func TestHTTPAuthority_CheckEntitlement_UnknownVerdictRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]string{"status": "suspended"})
		require.NoError(t, err)
	}))
	defer srv.Close()

	authority := newAuthority(t, srv.URL)
	_, err := authority.CheckEntitlement(context.Background(), "NEKO-TEST-1234-5678", "testuser")

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNetworkUnavailable)
	assert.Contains(t, err.Error(), "unknown entitlement status")
}

func TestHTTPAuthority_Unbind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/licenses/unbind", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte("{}"))
		require.NoError(t, err)
	}))
	defer srv.Close()

	authority := newAuthority(t, srv.URL)
	err := authority.Unbind(context.Background(), "NEKO-TEST-1234-5678", "testuser", "device-0001")

	require.NoError(t, err)
}

func TestHTTPAuthority_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	authority := newAuthority(t, srv.URL)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := authority.CheckEntitlement(ctx, "NEKO-TEST-1234-5678", "testuser")
		require.ErrorIs(t, err, domain.ErrNetworkUnavailable)
	}
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))

	// Breaker is open: the next attempt fails without touching the server.
	_, err := authority.CheckEntitlement(ctx, "NEKO-TEST-1234-5678", "testuser")
	require.ErrorIs(t, err, domain.ErrNetworkUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestLoadOrCreateDeviceID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device_id")

	first, err := identity.LoadOrCreateDeviceID(path)
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	require.NoError(t, err)

	second, err := identity.LoadOrCreateDeviceID(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateDeviceID_ReplacesGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device_id")
	require.NoError(t, os.WriteFile(path, []byte("not-a-uuid"), 0600))

	id, err := identity.LoadOrCreateDeviceID(path)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", id)
}
