package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// csrfMinter issues stateless X-CSRF-Token values. A token is the HMAC of
// the hour it was minted in and is honoured for that hour and the next, so a
// till left open over the hour boundary keeps working.
type csrfMinter struct {
	key []byte
	now func() time.Time
}

func newCSRFMinter() *csrfMinter {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		key = []byte("csrf-fallback-secret-change-me!!")
	}
	return &csrfMinter{key: key, now: time.Now}
}

func (m *csrfMinter) hour() time.Time {
	return m.now().UTC().Truncate(time.Hour)
}

func (m *csrfMinter) sign(hour time.Time) string {
	mac := hmac.New(sha256.New, m.key)
	mac.Write(strconv.AppendInt(nil, hour.Unix(), 10))
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *csrfMinter) mint() string {
	return m.sign(m.hour())
}

func (m *csrfMinter) accepts(token string) bool {
	if token == "" {
		return false
	}
	current := m.hour()
	for _, hour := range []time.Time{current, current.Add(-time.Hour)} {
		if hmac.Equal([]byte(token), []byte(m.sign(hour))) {
			return true
		}
	}
	return false
}

// signInThrottle bounds sign-in attempts per client inside a sliding window.
// Every attempt is counted when it starts; a successful sign-in forgives the
// client's history, so a stall tablet that logs in all day is never locked
// out while a PIN guesser is.
type signInThrottle struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	now      func() time.Time
	attempts map[string][]time.Time
}

func newSignInThrottle(max int, window time.Duration) *signInThrottle {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &signInThrottle{max: max, window: window, now: time.Now, attempts: make(map[string][]time.Time)}
}

// take records an attempt for key and reports whether it may go ahead.
func (t *signInThrottle) take(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	recent := t.attempts[key][:0]
	for _, at := range t.attempts[key] {
		if now.Sub(at) < t.window {
			recent = append(recent, at)
		}
	}
	if len(recent) >= t.max {
		t.attempts[key] = recent
		return false
	}
	t.attempts[key] = append(recent, now)
	return true
}

func (t *signInThrottle) reset(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.attempts, key)
	t.mu.Unlock()
}

// clientKey is the remote IP without its port.
func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
