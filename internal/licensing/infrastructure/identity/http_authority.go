// Package identity implements the client for the remote license authority.
// Rejections arrive as string error codes on the wire and are decoded into
// the closed sentinel set in the licensing domain; anything the authority
// might answer outside that set is an error, not a new state.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/felixgeelhaar/nekosync/internal/licensing/domain"
	"github.com/felixgeelhaar/nekosync/pkg/observability"
)

const maxResponseBytes = 1 << 20

// HTTPAuthority talks to the license authority over HTTPS. Transport
// failures and 5xx responses map to domain.ErrNetworkUnavailable; a tripped
// circuit breaker answers the same way without touching the network.
type HTTPAuthority struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*wireEnvelope]
	logger     *slog.Logger
	metrics    observability.Metrics
}

// NewHTTPAuthority creates a client for the authority at baseURL.
func NewHTTPAuthority(baseURL string, timeout time.Duration, logger *slog.Logger, metrics observability.Metrics) *HTTPAuthority {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	a := &HTTPAuthority{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    metrics,
	}
	a.breaker = gobreaker.NewCircuitBreaker[*wireEnvelope](gobreaker.Settings{
		Name:        "license-authority",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return a
}

// wireEnvelope is a raw authority response. Business rejections ride inside
// it; only transport failures and 5xx count against the breaker.
type wireEnvelope struct {
	status int
	body   []byte
}

type bindRequest struct {
	LicenseKey string `json:"license_key"`
	AccountID  string `json:"account_id"`
	DeviceID   string `json:"device_id"`
}

type bindResponse struct {
	Plan      string    `json:"plan"`
	ExpiresAt time.Time `json:"expires_at"`
}

type validateRequest struct {
	LicenseKey string `json:"license_key"`
	AccountID  string `json:"account_id"`
}

type validateResponse struct {
	Status    string    `json:"status"`
	Plan      string    `json:"plan"`
	ExpiresAt time.Time `json:"expires_at"`
}

type unbindRequest struct {
	LicenseKey string `json:"license_key"`
	AccountID  string `json:"account_id"`
	DeviceID   string `json:"device_id"`
}

// Bind activates key for the account on this device.
func (a *HTTPAuthority) Bind(ctx context.Context, key, accountID, deviceID string) (*domain.BindResult, error) {
	timer := observability.StartTimer("license.bind").WithMetrics(a.metrics)
	result, err := a.bind(ctx, key, accountID, deviceID)
	timer.StopWithError(err)
	return result, err
}

func (a *HTTPAuthority) bind(ctx context.Context, key, accountID, deviceID string) (*domain.BindResult, error) {
	env, err := a.post(ctx, "/v1/licenses/bind", bindRequest{
		LicenseKey: key,
		AccountID:  accountID,
		DeviceID:   deviceID,
	})
	if err != nil {
		return nil, err
	}
	if env.status != http.StatusOK {
		return nil, decodeRejection(env.status, env.body)
	}

	var resp bindResponse
	if err := json.Unmarshal(env.body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bind response: %w", err)
	}
	return &domain.BindResult{Plan: resp.Plan, ExpiresAt: resp.ExpiresAt}, nil
}

// CheckEntitlement revalidates a bound key.
func (a *HTTPAuthority) CheckEntitlement(ctx context.Context, key, accountID string) (*domain.EntitlementResult, error) {
	timer := observability.StartTimer("license.validate").WithMetrics(a.metrics)
	result, err := a.checkEntitlement(ctx, key, accountID)
	timer.StopWithError(err)
	return result, err
}

func (a *HTTPAuthority) checkEntitlement(ctx context.Context, key, accountID string) (*domain.EntitlementResult, error) {
	env, err := a.post(ctx, "/v1/licenses/validate", validateRequest{
		LicenseKey: key,
		AccountID:  accountID,
	})
	if err != nil {
		return nil, err
	}
	if env.status != http.StatusOK {
		return nil, decodeRejection(env.status, env.body)
	}

	var resp validateResponse
	if err := json.Unmarshal(env.body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode validate response: %w", err)
	}
	status, err := parseEntitlementStatus(resp.Status)
	if err != nil {
		return nil, err
	}
	return &domain.EntitlementResult{Status: status, Plan: resp.Plan, ExpiresAt: resp.ExpiresAt}, nil
}

// Unbind releases the key binding for this device.
func (a *HTTPAuthority) Unbind(ctx context.Context, key, accountID, deviceID string) error {
	timer := observability.StartTimer("license.unbind").WithMetrics(a.metrics)
	err := a.unbind(ctx, key, accountID, deviceID)
	timer.StopWithError(err)
	return err
}

func (a *HTTPAuthority) unbind(ctx context.Context, key, accountID, deviceID string) error {
	env, err := a.post(ctx, "/v1/licenses/unbind", unbindRequest{
		LicenseKey: key,
		AccountID:  accountID,
		DeviceID:   deviceID,
	})
	if err != nil {
		return err
	}
	if env.status != http.StatusOK {
		return decodeRejection(env.status, env.body)
	}
	return nil
}

func (a *HTTPAuthority) post(ctx context.Context, path string, payload any) (*wireEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	env, err := a.breaker.Execute(func() (*wireEnvelope, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("authority returned %d", resp.StatusCode)
		}
		return &wireEnvelope{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		a.logger.Debug("license authority unreachable", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrNetworkUnavailable, err)
	}
	return env, nil
}

// decodeRejection maps an authority rejection onto the closed error set.
func decodeRejection(status int, body []byte) error {
	var reject struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	_ = json.Unmarshal(body, &reject)

	switch reject.ErrorCode {
	case "invalid_key":
		return domain.ErrInvalidKey
	case "revoked":
		return domain.ErrKeyRevoked
	case "already_bound":
		return domain.ErrAlreadyBound
	case "device_limit_reached":
		return domain.ErrDeviceLimitReached
	}
	if reject.Message != "" {
		return fmt.Errorf("authority rejected request (%d): %s", status, reject.Message)
	}
	return fmt.Errorf("authority rejected request (%d)", status)
}

func parseEntitlementStatus(raw string) (domain.EntitlementStatus, error) {
	switch status := domain.EntitlementStatus(strings.ToLower(raw)); status {
	case domain.EntitlementActive, domain.EntitlementExpired, domain.EntitlementRevoked:
		return status, nil
	default:
		return "", fmt.Errorf("authority returned unknown entitlement status %q", raw)
	}
}

var _ domain.IdentityAuthority = (*HTTPAuthority)(nil)
