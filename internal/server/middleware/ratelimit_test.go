package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterSetEvictsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	set := newLimiterSet(1, 1)
	set.now = func() time.Time { return now }

	assert.True(t, set.allow("10.0.0.1"))
	assert.False(t, set.allow("10.0.0.1"))

	now = now.Add(idleEviction + time.Second)
	assert.True(t, set.allow("10.0.0.2"))
	assert.Len(t, set.visitors, 1)
	assert.Contains(t, set.visitors, "10.0.0.2")
}

func TestExtractClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:4711"
	assert.Equal(t, "192.0.2.1", extractClientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", extractClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", extractClientIP(r))
}
