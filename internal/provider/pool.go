// Package provider hands out verified, network-matched JSON-RPC connections from an
// ordered list of interchangeable endpoints.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AlexZinkM/paygate/internal/client"
	"github.com/AlexZinkM/paygate/internal/logging"
	"github.com/AlexZinkM/paygate/internal/metrics"
	"github.com/AlexZinkM/paygate/internal/retry"
)

// ErrNoProviderAvailable is returned when no endpoint passes the health check and no fresh
// last-known-good connection exists.
var ErrNoProviderAvailable = fmt.Errorf("%w", retry.ErrNoProvider)

// ErrWrongNetwork reports an endpoint answering for a different network.
var ErrWrongNetwork = errors.New("wrong network")

// Tier orders endpoints: custom before primary before fallback.
type Tier int

const (
	TierCustom Tier = iota
	TierPrimary
	TierFallback
)

func (t Tier) String() string {
	switch t {
	case TierCustom:
		return "custom"
	case TierPrimary:
		return "primary"
	default:
		return "fallback"
	}
}

// Endpoint is one JSON-RPC URL and its priority tier.
type Endpoint struct {
	URL  string
	Tier Tier
}

// Acquirer hands out connections. *Pool implements it; tests substitute stubs.
type Acquirer[C client.Chain] interface {
	Acquire(ctx context.Context) (C, error)
}

// DialFunc opens a connection to url.
type DialFunc[C client.Chain] func(ctx context.Context, url string) (C, error)

// Pool produces connections for one network.
type Pool[C client.Chain] struct {
	network   string
	expected  string
	endpoints []Endpoint
	dial      DialFunc[C]
	timeout   time.Duration
	check     retry.Policy
	lastGood  *LastKnownGood[C]
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu    sync.Mutex
	conns map[string]C
}

// Option configures a Pool.
type Option[C client.Chain] func(*Pool[C])

// WithTimeout bounds each endpoint's dial and health check.
func WithTimeout[C client.Chain](d time.Duration) Option[C] {
	return func(p *Pool[C]) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithCheckPolicy sets how a single endpoint's health check is retried.
func WithCheckPolicy[C client.Chain](policy retry.Policy) Option[C] {
	return func(p *Pool[C]) { p.check = policy }
}

// WithLogger sets the logger.
func WithLogger[C client.Chain](l *slog.Logger) Option[C] {
	return func(p *Pool[C]) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics[C client.Chain](m *metrics.Metrics) Option[C] {
	return func(p *Pool[C]) { p.metrics = m }
}

// New builds a pool for network. expectedNetworkID is compared, case-insensitively,
// against each candidate's NetworkID. lastGood may be shared to survive pool rebuilds.
func New[C client.Chain](network, expectedNetworkID string, endpoints []Endpoint, dial DialFunc[C], lastGood *LastKnownGood[C], opts ...Option[C]) *Pool[C] {
	ordered := make([]Endpoint, 0, len(endpoints))
	seen := make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		url := strings.TrimSpace(ep.URL)
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		ordered = append(ordered, Endpoint{URL: url, Tier: ep.Tier})
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Tier < ordered[j].Tier })

	p := &Pool[C]{
		network:   network,
		expected:  strings.TrimSpace(expectedNetworkID),
		endpoints: ordered,
		dial:      dial,
		timeout:   5 * time.Second,
		check:     retry.Policy{Attempts: 1},
		lastGood:  lastGood,
		log:       logging.Discard(),
		conns:     make(map[string]C),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.lastGood == nil {
		p.lastGood = NewLastKnownGood[C](time.Hour)
	}
	return p
}

// Network returns the network name the pool serves.
func (p *Pool[C]) Network() string { return p.network }

// Endpoints returns the endpoints in the order they are tried.
func (p *Pool[C]) Endpoints() []Endpoint {
	out := make([]Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// Acquire returns the first endpoint that passes the health check on the expected network.
// When none does, a last-known-good connection younger than the freshness ceiling is
// returned instead. Acquire never retries the whole list; callers decide that.
func (p *Pool[C]) Acquire(ctx context.Context) (C, error) {
	var failures []string
	for _, ep := range p.endpoints {
		if ctx.Err() != nil {
			failures = append(failures, ctx.Err().Error())
			break
		}
		conn, err := p.try(ctx, ep)
		if err != nil {
			p.log.Warn("provider rejected", "network", p.network, "tier", ep.Tier.String(), "url", ep.URL, "error", err.Error())
			failures = append(failures, fmt.Sprintf("%s: %v", ep.URL, err))
			continue
		}
		p.lastGood.Remember(conn, ep.URL)
		p.metrics.ProviderAcquire(p.network, "ok")
		return conn, nil
	}

	if conn, url, at, ok := p.lastGood.Fresh(); ok {
		p.log.Warn("all providers failed, using last known good",
			"network", p.network, "url", url, "age", time.Since(at).Round(time.Second).String())
		p.metrics.ProviderAcquire(p.network, "degraded")
		return conn, nil
	}

	p.metrics.ProviderAcquire(p.network, "failed")
	var zero C
	return zero, fmt.Errorf("%w for %s: %s", ErrNoProviderAvailable, p.network, strings.Join(failures, "; "))
}

func (p *Pool[C]) try(ctx context.Context, ep Endpoint) (C, error) {
	var accepted C
	_, err := p.check.Do(ctx, func(ctx context.Context, _ int) error {
		epCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		conn, err := p.connFor(epCtx, ep.URL)
		if err != nil {
			return err
		}
		if err := p.verify(epCtx, conn); err != nil {
			return err
		}
		accepted = conn
		return nil
	})
	return accepted, err
}

// connFor reuses the open connection to url or dials a new one.
func (p *Pool[C]) connFor(ctx context.Context, url string) (C, error) {
	p.mu.Lock()
	conn, ok := p.conns[url]
	p.mu.Unlock()
	if ok {
		return conn, nil
	}

	conn, err := p.dial(ctx, url)
	if err != nil {
		return conn, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[url]; ok {
		conn.Close()
		return existing, nil
	}
	p.conns[url] = conn
	return conn, nil
}

// Close closes every open connection. A connection that fails its health check stays
// open until then: callers may still hold it, and it is checked again on the next Acquire.
func (p *Pool[C]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, conn := range p.conns {
		conn.Close()
		delete(p.conns, url)
	}
}

func (p *Pool[C]) verify(ctx context.Context, conn C) error {
	if _, err := conn.BlockNumber(ctx); err != nil {
		return fmt.Errorf("liveness check failed: %w", err)
	}
	id, err := conn.NetworkID(ctx)
	if err != nil {
		return fmt.Errorf("network check failed: %w", err)
	}
	if p.expected != "" && !strings.EqualFold(strings.TrimSpace(id), p.expected) {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongNetwork, id, p.expected)
	}
	return nil
}
