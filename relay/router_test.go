package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yitech/candlerelay/model/candle"
)

const testTopic = "/contractMarket/limitCandle:SOLUSDTM_1min"

func update(ts int64, close float64) candle.LiveUpdate {
	return candle.LiveUpdate{
		Topic:  testTopic,
		Candle: candle.Candle{Time: ts, Open: 1, High: close + 1, Low: 0.5, Close: close},
	}
}

func receive(t *testing.T, s *Subscriber) pushMsg {
	t.Helper()
	select {
	case raw := <-s.C():
		var m pushMsg
		require.NoError(t, json.Unmarshal(raw, &m))
		return m
	case <-time.After(time.Second):
		t.Fatal("nothing delivered")
	}
	return pushMsg{}
}

func TestPublishSkipsClosedSubscriber(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	a, b, c := NewSubscriber(4), NewSubscriber(4), NewSubscriber(4)
	reg.Register(a)
	reg.Register(b)
	reg.Register(c)
	b.Close()

	assert.NotPanics(t, func() { router.Publish(update(60, 2)) })

	for _, s := range []*Subscriber{a, c} {
		m := receive(t, s)
		assert.Equal(t, testTopic, m.Topic)
		assert.Equal(t, int64(60), m.Data.Time)
		assert.Equal(t, 2.0, m.Data.Close)
	}
	assert.Empty(t, b.C())
	assert.Equal(t, 2, reg.Len())
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	slow, fast := NewSubscriber(1), NewSubscriber(8)
	reg.Register(slow)
	reg.Register(fast)

	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 3; i++ {
			router.Publish(update(60*(i+1), float64(i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}

	for i := int64(0); i < 3; i++ {
		assert.Equal(t, 60*(i+1), receive(t, fast).Data.Time)
	}
	assert.Equal(t, int64(60), receive(t, slow).Data.Time)
	assert.Equal(t, uint64(2), slow.Dropped())

	published, dropped := router.Stats()
	assert.Equal(t, uint64(3), published)
	assert.Equal(t, uint64(2), dropped)
}

func TestRouterLatest(t *testing.T) {
	router := NewRouter(NewRegistry(), nil)
	_, ok := router.Latest()
	assert.False(t, ok)

	router.Publish(update(60, 1))
	router.Publish(update(60, 3))
	got, ok := router.Latest()
	require.True(t, ok)
	assert.Equal(t, 3.0, got.Candle.Close)
}

func TestRegistryConcurrentMutation(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := NewSubscriber(1)
				reg.Register(s)
				router.Publish(update(int64(j), 1))
				assert.True(t, reg.Deregister(s))
				assert.False(t, reg.Deregister(s))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.Snapshot())
}
