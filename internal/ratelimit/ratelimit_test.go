package ratelimit

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	l := NewLimiter(cfg)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("10.0.0.1"); err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
	}
	var nilLimiter *Limiter
	if err := nilLimiter.Allow("x"); err != nil {
		t.Errorf("nil limiter: %v", err)
	}
}

func TestLimiter_BurstThenLimited(t *testing.T) {
	l, now := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})
	for i := 0; i < 3; i++ {
		if err := l.Allow("a"); err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
	}
	err := l.Allow("a")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	var le *LimitError
	if !errors.As(err, &le) || le.RetryAfter != time.Second {
		t.Errorf("RetryAfter = %v, want 1s", le)
	}

	// Another client has its own bucket.
	if err := l.Allow("b"); err != nil {
		t.Errorf("client b limited: %v", err)
	}

	*now = now.Add(time.Second)
	if err := l.Allow("a"); err != nil {
		t.Errorf("after refill: %v", err)
	}
}

func TestLimiter_EvictsIdleBuckets(t *testing.T) {
	l, now := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 2})
	_ = l.Allow("a")
	_ = l.Allow("b")
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
	*now = now.Add(time.Minute)
	_ = l.Allow("c")
	if l.Len() != 1 {
		t.Errorf("Len = %d after idle period, want 1", l.Len())
	}
}

func TestClientKey_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 1})
	r := httptest.NewRequest("GET", "/diagnostics", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	if got := l.ClientKey(r); got != "192.0.2.10" {
		t.Errorf("ClientKey = %q, want 192.0.2.10", got)
	}

	// Rotating the header must not yield a fresh bucket.
	for i, xff := range []string{"203.0.113.7", "203.0.113.8"} {
		r.Header.Set("X-Forwarded-For", xff)
		key := l.ClientKey(r)
		if key != "192.0.2.10" {
			t.Errorf("ClientKey with XFF %s = %q, want 192.0.2.10", xff, key)
		}
		err := l.Allow(key)
		if i == 0 && err != nil {
			t.Fatalf("first Allow: %v", err)
		}
		if i == 1 && !errors.Is(err, ErrRateLimited) {
			t.Errorf("second Allow = %v, want ErrRateLimited", err)
		}
	}
}

func TestClientKey_TrustedProxy(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	l := NewLimiter(Config{RequestsPerMinute: 60, TrustedProxies: proxies})

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"no header", "10.1.2.3:80", "", "10.1.2.3"},
		{"single hop", "10.1.2.3:80", "203.0.113.7", "203.0.113.7"},
		{"spoofed left hop", "10.1.2.3:80", "198.51.100.1, 203.0.113.7", "203.0.113.7"},
		{"chained proxies", "192.0.2.1:80", "203.0.113.7, 10.9.9.9", "203.0.113.7"},
		{"untrusted peer", "198.51.100.9:80", "203.0.113.7", "198.51.100.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/diagnostics", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := l.ClientKey(r); got != tt.want {
				t.Errorf("ClientKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTrustedProxies_Invalid(t *testing.T) {
	if _, err := ParseTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Error("invalid CIDR accepted")
	}
	if _, err := ParseTrustedProxies([]string{"proxy.local"}); err == nil {
		t.Error("host name accepted")
	}
}
