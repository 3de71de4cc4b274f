// Package remotestore implements the remote data store over WebDAV. Each
// account owns a single library blob at <endpoint>/<account>/library.json;
// the store never interprets its content, it only moves bytes and reports
// modification times for the last-writer-wins comparison.
package remotestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/felixgeelhaar/nekosync/internal/syncing/domain"
	"github.com/felixgeelhaar/nekosync/pkg/observability"
)

const libraryFileName = "library.json"

const maxLibraryBytes = 64 << 20

// Config describes the WebDAV endpoint and credentials. Basic auth and
// OAuth2 client credentials are both supported; TokenURL selects the latter.
type Config struct {
	Endpoint     string
	AccountID    string
	Username     string
	Password     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// WebDAVStore implements domain.RemoteStore against a WebDAV collection.
// Transport failures and 5xx responses map to domain.ErrNetworkUnavailable;
// 401/403 map to domain.ErrUnauthorized and never reach the retry ladder.
type WebDAVStore struct {
	client  *webdav.Client
	dir     string
	file    string
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewWebDAVStore creates a remote store for the configured account.
func NewWebDAVStore(cfg Config, logger *slog.Logger, metrics observability.Metrics) (*WebDAVStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("remote store endpoint is not configured")
	}
	if cfg.AccountID == "" {
		return nil, errors.New("remote store account id is not configured")
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: authClassifier{base: http.DefaultTransport},
	}

	var authed webdav.HTTPClient
	switch {
	case cfg.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		authed = cc.Client(ctx)
	case cfg.Username != "":
		authed = webdav.HTTPClientWithBasicAuth(httpClient, cfg.Username, cfg.Password)
	default:
		authed = httpClient
	}

	client, err := webdav.NewClient(authed, strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	s := &WebDAVStore{
		client:  client,
		dir:     cfg.AccountID,
		file:    path.Join(cfg.AccountID, libraryFileName),
		logger:  logger,
		metrics: metrics,
	}
	s.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "remote-store",
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
	return s, nil
}

// Exists checks whether the account has a remote library.
func (s *WebDAVStore) Exists(ctx context.Context) (*domain.RemoteInfo, error) {
	timer := observability.StartTimer("remote.exists").WithMetrics(s.metrics)
	info, err := s.exists(ctx)
	timer.StopWithError(err)
	return info, err
}

func (s *WebDAVStore) exists(ctx context.Context) (*domain.RemoteInfo, error) {
	res, err := s.breaker.Execute(func() (any, error) {
		fi, err := s.client.Stat(ctx, s.file)
		if webdav.IsNotFound(err) {
			return (*webdav.FileInfo)(nil), nil
		}
		return fi, err
	})
	if err != nil {
		return nil, s.classify(err)
	}
	fi := res.(*webdav.FileInfo)
	if fi == nil {
		return &domain.RemoteInfo{Exists: false}, nil
	}
	return &domain.RemoteInfo{Exists: true, ModifiedAt: fi.ModTime}, nil
}

// Pull downloads the remote library.
func (s *WebDAVStore) Pull(ctx context.Context) (*domain.RemoteSnapshot, error) {
	timer := observability.StartTimer("remote.pull").WithMetrics(s.metrics)
	snap, err := s.pull(ctx)
	timer.StopWithError(err)
	return snap, err
}

func (s *WebDAVStore) pull(ctx context.Context) (*domain.RemoteSnapshot, error) {
	res, err := s.breaker.Execute(func() (any, error) {
		fi, err := s.client.Stat(ctx, s.file)
		if err != nil {
			return nil, err
		}
		body, err := s.client.Open(ctx, s.file)
		if err != nil {
			return nil, err
		}
		defer body.Close()

		content, err := io.ReadAll(io.LimitReader(body, maxLibraryBytes))
		if err != nil {
			return nil, err
		}
		return &domain.RemoteSnapshot{ModifiedAt: fi.ModTime, Content: content}, nil
	})
	if err != nil {
		return nil, s.classify(err)
	}
	return res.(*domain.RemoteSnapshot), nil
}

// Push uploads the library and returns the modification time the store
// recorded for it, which becomes the local file's timestamp so both sides
// compare equal next cycle.
func (s *WebDAVStore) Push(ctx context.Context, content []byte) (time.Time, error) {
	timer := observability.StartTimer("remote.push").WithMetrics(s.metrics)
	modifiedAt, err := s.push(ctx, content)
	timer.StopWithError(err)
	return modifiedAt, err
}

func (s *WebDAVStore) push(ctx context.Context, content []byte) (time.Time, error) {
	res, err := s.breaker.Execute(func() (any, error) {
		// Collections are not implicitly created by PUT on most servers.
		// An existing collection answers 405; either way the PUT decides.
		if err := s.client.Mkdir(ctx, s.dir); err != nil {
			s.logger.Debug("mkdir on account collection", "dir", s.dir, "error", err)
		}

		w, err := s.client.Create(ctx, s.file)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(content); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

		// The server's timestamp is authoritative, not ours.
		fi, err := s.client.Stat(ctx, s.file)
		if err != nil {
			return nil, err
		}
		return fi.ModTime, nil
	})
	if err != nil {
		return time.Time{}, s.classify(err)
	}
	return res.(time.Time), nil
}

// classify maps a transport error onto the closed sync error set.
func (s *WebDAVStore) classify(err error) error {
	if errors.Is(err, domain.ErrUnauthorized) {
		return fmt.Errorf("%w: webdav credentials rejected", domain.ErrUnauthorized)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit breaker open", domain.ErrNetworkUnavailable)
	}
	return fmt.Errorf("%w: %v", domain.ErrNetworkUnavailable, err)
}

// authClassifier converts 401/403 responses into a typed error at the
// transport so every operation above it, go-webdav's included, surfaces
// domain.ErrUnauthorized through errors.Is.
type authClassifier struct {
	base http.RoundTripper
}

func (t authClassifier) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", domain.ErrUnauthorized, resp.Status)
	}
	return resp, nil
}

var _ domain.RemoteStore = (*WebDAVStore)(nil)
