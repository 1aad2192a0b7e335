package candle

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromMillis(t *testing.T) {
	assert.Equal(t, int64(1), FromMillis(1000))
	assert.Equal(t, int64(1), FromMillis(1999))
	assert.Equal(t, int64(1707822000), FromMillis(1707822000123))
}

func TestNormalizeEpoch(t *testing.T) {
	assert.Equal(t, int64(1707822000), NormalizeEpoch(1707822000))
	assert.Equal(t, int64(1707822000), NormalizeEpoch(1707822000999))
}

func TestValid(t *testing.T) {
	assert.True(t, Candle{Time: 1, Open: 1, High: 2, Low: 0.5, Close: 1.5}.Valid())
	assert.False(t, Candle{Time: 1, Open: math.NaN(), High: 2, Low: 1, Close: 1}.Valid())
	assert.False(t, Candle{Time: 1, Open: 1, High: math.Inf(1), Low: 1, Close: 1}.Valid())
}

func TestIsCandleTopic(t *testing.T) {
	assert.True(t, IsCandleTopic("/contractMarket/limitCandle:SOLUSDTM_1min"))
	assert.False(t, IsCandleTopic("/contractMarket/tickerV2:SOLUSDTM"))
}

func TestOrder(t *testing.T) {
	times := func(b HistoryBatch) []int64 {
		out := make([]int64, 0, len(b))
		for _, c := range b {
			out = append(out, c.Time)
		}
		return out
	}

	tests := []struct {
		name string
		in   []int64
		want []int64
	}{
		{"empty", nil, []int64{}},
		{"single", []int64{5}, []int64{5}},
		{"ascending", []int64{1, 2, 3}, []int64{1, 2, 3}},
		{"descending", []int64{3, 2, 1}, []int64{1, 2, 3}},
		{"shuffled", []int64{2, 3, 1, 4}, []int64{1, 2, 3, 4}},
		{"duplicates", []int64{3, 2, 2, 1}, []int64{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := make([]Candle, 0, len(tt.in))
			for _, ts := range tt.in {
				raw = append(raw, Candle{Time: ts, Open: 1, High: 1, Low: 1, Close: 1})
			}
			got := Order(raw)
			assert.Equal(t, tt.want, times(got))
			assert.True(t, got.Ascending())
		})
	}
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	raw := []Candle{{Time: 2}, {Time: 1}}
	_ = Order(raw)
	assert.Equal(t, int64(2), raw[0].Time)
}
