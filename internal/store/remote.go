// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/mwhitman/coursevault/internal/logging"
	"github.com/mwhitman/coursevault/internal/metrics"
)

// RemoteConfig configures the remote key/value backend. URL and Token
// together make the backend available; everything else has defaults.
type RemoteConfig struct {
	// URL is the base URL of the Redis-compatible REST service.
	URL string

	// Token is the bearer credential.
	Token string

	// Namespace prefixes every key as "<namespace>:<collection>".
	Namespace string

	// Timeout bounds each round trip. Default 10s.
	Timeout time.Duration

	// MaxRetries is the number of reinitialize-and-retry cycles after a
	// network-classified failure. Default 1.
	MaxRetries int
}

func (c *RemoteConfig) withDefaults() RemoteConfig {
	out := *c
	if out.Namespace == "" {
		out.Namespace = "coursevault"
	}
	if out.Timeout <= 0 {
		out.Timeout = 10 * time.Second
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 1
	}
	return out
}

// RemoteBackend talks to a Redis-compatible HTTP key/value service
// (GET /get/<key>, POST /set/<key>, GET /del/<key>, bearer auth). Each
// collection snapshot is stored as one JSON document under
// "<namespace>:<collection>".
//
// The HTTP client has a two-phase lifecycle: it is built lazily on first
// use and rebuilt at most once per failed call, paced by a rate limiter so
// a flapping remote cannot trigger a reinitialization storm. All calls run
// through a circuit breaker.
type RemoteBackend struct {
	cfg    RemoteConfig
	events EventSink

	mu      sync.Mutex
	client  *http.Client
	reinits *rate.Limiter

	cb *gobreaker.CircuitBreaker[[]byte]
}

var _ Backend = (*RemoteBackend)(nil)

// NewRemoteBackend builds the backend. It never dials: the client is
// initialized lazily on the first call so an unreachable remote cannot
// block startup.
func NewRemoteBackend(cfg RemoteConfig, events EventSink) *RemoteBackend {
	if events == nil {
		events = NopSink()
	}

	b := &RemoteBackend{
		cfg:    cfg.withDefaults(),
		events: events,
		// One reinitialization per 10 seconds, small burst for the
		// initial retry contract.
		reinits: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}

	b.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "remote-kv",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return b
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Name implements Backend.
func (b *RemoteBackend) Name() string { return TierRemote }

// Available implements Backend: credentials are configured. It says
// nothing about reachability; see TestConnection.
func (b *RemoteBackend) Available() bool {
	return b.cfg.URL != "" && b.cfg.Token != ""
}

// Key returns the remote key for a collection or reserved document.
func (b *RemoteBackend) Key(name string) string {
	return b.cfg.Namespace + ":" + name
}

// httpClient returns the shared client, building it on first use.
func (b *RemoteBackend) httpClient() *http.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		b.client = &http.Client{Timeout: b.cfg.Timeout}
	}
	return b.client
}

// reinitClient tears down the current client and builds a fresh one, if
// the pacing limiter allows. The client is swapped atomically under the
// lock; in-flight requests keep their old transport.
func (b *RemoteBackend) reinitClient() bool {
	if !b.reinits.Allow() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.CloseIdleConnections()
	}
	b.client = &http.Client{Timeout: b.cfg.Timeout}
	metrics.RemoteClientReinits.Inc()
	return true
}

// command performs one REST command ("get", "set", "del") against a key,
// returning the raw result payload from the {"result": ...} envelope.
func (b *RemoteBackend) command(ctx context.Context, cmd, key string, body []byte) (json.RawMessage, error) {
	if !b.Available() {
		return nil, ErrBackendUnavailable
	}

	endpoint := fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(b.cfg.URL, "/"), cmd, url.PathEscape(key))

	result, err := b.cb.Execute(func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()

		method := http.MethodGet
		var reqBody io.Reader
		if cmd == "set" {
			method = http.MethodPost
			reqBody = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", cmd, err)
		}
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/octet-stream")
		}

		resp, err := b.httpClient().Do(req)
		if err != nil {
			return nil, &ConnectionError{Tier: TierRemote, Err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		if err != nil {
			return nil, &ConnectionError{Tier: TierRemote, Err: err}
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &ConnectionError{Tier: TierRemote, Err: fmt.Errorf("%s %s returned status %d: %s", cmd, key, resp.StatusCode, truncate(payload, 200))}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s %s returned status %d: %s", cmd, key, resp.StatusCode, truncate(payload, 200))
		}
		return payload, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &ConnectionError{Tier: TierRemote, Err: err}
		}
		return nil, err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(result, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", cmd, err)
	}
	if envelope.Error != "" {
		return nil, fmt.Errorf("%s %s: remote error: %s", cmd, key, envelope.Error)
	}
	return envelope.Result, nil
}

// withRetry runs fn, and on a network-classified error reinitializes the
// client and retries up to MaxRetries times before surfacing the failure.
func (b *RemoteBackend) withRetry(ctx context.Context, op string, fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return nil, &ConnectionError{Tier: TierRemote, Err: err}
			}
			if !b.reinitClient() {
				break
			}
			metrics.RemoteRetries.WithLabelValues(op).Inc()
		}
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsConnectionError(err) || errors.Is(err, gobreaker.ErrOpenState) {
			return nil, err
		}
	}
	return nil, lastErr
}

// getValue fetches a key's value. found is false for a null result.
func (b *RemoteBackend) getValue(ctx context.Context, key string) ([]byte, bool, error) {
	result, err := b.withRetry(ctx, "get", func() (json.RawMessage, error) {
		return b.command(ctx, "get", key, nil)
	})
	if err != nil {
		return nil, false, err
	}
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, false, nil
	}
	var value string
	if err := json.Unmarshal(result, &value); err != nil {
		return nil, false, fmt.Errorf("decode value for %s: %w", key, err)
	}
	return []byte(value), true, nil
}

// setValue stores a key's value.
func (b *RemoteBackend) setValue(ctx context.Context, key string, value []byte) error {
	result, err := b.withRetry(ctx, "set", func() (json.RawMessage, error) {
		return b.command(ctx, "set", key, value)
	})
	if err != nil {
		return err
	}
	var status string
	if err := json.Unmarshal(result, &status); err != nil || status != "OK" {
		return fmt.Errorf("set %s: unexpected result %s", key, truncate(result, 100))
	}
	return nil
}

// delValue removes a key.
func (b *RemoteBackend) delValue(ctx context.Context, key string) error {
	_, err := b.withRetry(ctx, "del", func() (json.RawMessage, error) {
		return b.command(ctx, "del", key, nil)
	})
	return err
}

// Load implements Backend. A missing key yields a default snapshot with
// found=false. Network failures surface as *ConnectionError; the
// Coordinator treats the remote tier as optional and falls back to a
// default snapshot on its read path.
func (b *RemoteBackend) Load(ctx context.Context, collection string) (*Snapshot, bool, error) {
	col, ok := LookupCollection(collection)
	if !ok {
		return nil, false, errUnknownCollection(collection)
	}

	start := time.Now()
	value, found, err := b.getValue(ctx, b.Key(col.Name))
	if err != nil {
		metrics.SnapshotLoads.WithLabelValues(TierRemote, collection, OutcomeFailure).Inc()
		return nil, false, err
	}
	if !found {
		metrics.SnapshotLoads.WithLabelValues(TierRemote, collection, "absent").Inc()
		return NewSnapshot(), false, nil
	}

	snap, repaired, err := UnmarshalSnapshot(col, value)
	if err != nil {
		metrics.SnapshotLoads.WithLabelValues(TierRemote, collection, "corrupt").Inc()
		return nil, false, err
	}
	if repaired {
		logging.Warn().Str("collection", collection).Msg("Remote snapshot shape repaired on load")
		emit(b.events, Event{
			Operation:  "load",
			Collection: collection,
			Tier:       TierRemote,
			Outcome:    OutcomeRepaired,
			Latency:    time.Since(start),
		})
	}
	metrics.SnapshotLoads.WithLabelValues(TierRemote, collection, OutcomeSuccess).Inc()
	return snap, true, nil
}

// Save implements Backend.
func (b *RemoteBackend) Save(ctx context.Context, collection string, snap *Snapshot) error {
	col, ok := LookupCollection(collection)
	if !ok {
		return errUnknownCollection(collection)
	}

	data, err := MarshalSnapshot(col, snap)
	if err != nil {
		return err
	}

	start := time.Now()
	err = b.setValue(ctx, b.Key(col.Name), data)
	metrics.SnapshotSaveDuration.WithLabelValues(TierRemote, collection).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SnapshotSaveFailures.WithLabelValues(TierRemote, collection).Inc()
		emit(b.events, Event{
			Operation:  "save",
			Collection: collection,
			Tier:       TierRemote,
			Outcome:    OutcomeFailure,
			Latency:    time.Since(start),
			Detail:     err.Error(),
		})
		return err
	}

	emit(b.events, Event{
		Operation:  "save",
		Collection: collection,
		Tier:       TierRemote,
		Outcome:    OutcomeSuccess,
		Latency:    time.Since(start),
	})
	return nil
}

// LoadRaw implements Backend for reserved documents (backups).
func (b *RemoteBackend) LoadRaw(ctx context.Context, name string) ([]byte, bool, error) {
	return b.getValue(ctx, b.Key(name))
}

// SaveRaw implements Backend for reserved documents (backups).
func (b *RemoteBackend) SaveRaw(ctx context.Context, name string, data []byte) error {
	return b.setValue(ctx, b.Key(name), data)
}

// TestConnection implements Backend with a write+read+cleanup round trip
// against a throwaway probe key.
func (b *RemoteBackend) TestConnection(ctx context.Context) error {
	if !b.Available() {
		return ErrBackendUnavailable
	}

	key := b.Key("probe:" + uuid.NewString())
	nonce := time.Now().UTC().Format(time.RFC3339Nano)

	if err := b.setValue(ctx, key, []byte(nonce)); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}
	value, found, err := b.getValue(ctx, key)
	if err != nil {
		return fmt.Errorf("probe read: %w", err)
	}
	if !found || string(value) != nonce {
		return fmt.Errorf("probe read returned unexpected value")
	}
	if err := b.delValue(ctx, key); err != nil {
		return fmt.Errorf("probe cleanup: %w", err)
	}
	return nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
