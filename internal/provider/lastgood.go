package provider

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/AlexZinkM/paygate/internal/client"
)

const lastGoodKey = "conn"

type stamped[C client.Chain] struct {
	conn C
	url  string
	at   time.Time
}

// LastKnownGood remembers the most recently verified connection for a bounded time.
// It is advisory: losing it only costs a fresh round of health checks.
type LastKnownGood[C client.Chain] struct {
	store     *cache.Cache
	freshness time.Duration
	now       func() time.Time
}

// NewLastKnownGood creates a holder whose entries go stale after freshness.
func NewLastKnownGood[C client.Chain](freshness time.Duration) *LastKnownGood[C] {
	if freshness <= 0 {
		freshness = time.Hour
	}
	return &LastKnownGood[C]{
		store:     cache.New(freshness, 2*freshness),
		freshness: freshness,
		now:       time.Now,
	}
}

// Remember stores conn as the last known good connection.
func (l *LastKnownGood[C]) Remember(conn C, url string) {
	l.store.Set(lastGoodKey, stamped[C]{conn: conn, url: url, at: l.now()}, l.freshness)
}

// Fresh returns the remembered connection if it is younger than the freshness ceiling.
func (l *LastKnownGood[C]) Fresh() (C, string, time.Time, bool) {
	var zero C
	v, ok := l.store.Get(lastGoodKey)
	if !ok {
		return zero, "", time.Time{}, false
	}
	s := v.(stamped[C])
	if !IsFresh(s.at, l.now(), l.freshness) {
		return zero, "", time.Time{}, false
	}
	return s.conn, s.url, s.at, true
}

// Forget drops the remembered connection.
func (l *LastKnownGood[C]) Forget() {
	l.store.Delete(lastGoodKey)
}

// IsFresh reports whether a value stamped at `at` is still within ttl at now.
func IsFresh(at, now time.Time, ttl time.Duration) bool {
	return !at.IsZero() && now.Sub(at) < ttl
}
