package cache

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yitech/candlerelay/model/candle"
)

// Needs a live server: REDIS_ADDR=localhost:6379 go test ./cache/...
func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	r, err := NewRedis(addr, os.Getenv("REDIS_PASSWORD"), 0, time.Minute)
	require.NoError(t, err)
	defer r.Close()
	r.prefix = "candlerelay:test:" + t.Name()

	_, ok, err := r.Get(t.Context(), "SOLUSDTM", "1min")
	require.NoError(t, err)
	assert.False(t, ok)

	batch := candle.HistoryBatch{{Time: 1, Open: 8, Close: 9, High: 9, Low: 7}}
	require.NoError(t, r.Set(t.Context(), "SOLUSDTM", "1min", batch))

	got, ok, err := r.Get(t.Context(), "SOLUSDTM", "1min")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, batch, got)
}

func TestNewRedisUnreachable(t *testing.T) {
	_, err := NewRedis("127.0.0.1:1", "", 0, time.Minute)
	assert.Error(t, err)
}
