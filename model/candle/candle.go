package candle

import (
	"math"
	"slices"
	"strings"
)

// Candle is the normalized OHLC record shared by the live stream and history
// responses. Time is the period open in Unix seconds.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Valid reports whether every price is a finite number.
func (c Candle) Valid() bool {
	for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// FromMillis converts a millisecond timestamp to whole seconds, truncating.
func FromMillis(ms int64) int64 {
	return ms / 1000
}

// NormalizeEpoch accepts either seconds or milliseconds and returns seconds.
// Anything at or above 1e12 is treated as milliseconds (year 2001 onwards).
func NormalizeEpoch(ts int64) int64 {
	if ts >= 1e12 {
		return FromMillis(ts)
	}
	return ts
}

// LiveUpdate is a single in-progress or just-closed candle from the upstream
// feed. Consumers replace, not append, updates that share a Time.
type LiveUpdate struct {
	Topic  string
	Candle Candle
}

// IsCandleTopic reports whether topic identifies a candle-stick stream.
func IsCandleTopic(topic string) bool {
	return strings.Contains(strings.ToLower(topic), "candle")
}

// HistoryBatch is an oldest-first, strictly ascending sequence of candles.
type HistoryBatch []Candle

// Ascending reports whether b is strictly ascending by Time.
func (b HistoryBatch) Ascending() bool {
	for i := 1; i < len(b); i++ {
		if b[i].Time <= b[i-1].Time {
			return false
		}
	}
	return true
}

// Order returns the batch oldest-first.
//
// A newest-first input (first Time after last Time) is reversed, which is the
// common provider layout. Inputs in neither order are sorted, and equal times
// collapse into the last record seen for that period after orientation.
func Order(raw []Candle) HistoryBatch {
	out := make(HistoryBatch, len(raw))
	copy(out, raw)
	if len(out) < 2 {
		return out
	}

	if out[0].Time > out[len(out)-1].Time {
		slices.Reverse(out)
	}
	if out.Ascending() {
		return out
	}

	slices.SortStableFunc(out, func(a, b Candle) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})

	dedup := out[:0]
	for _, c := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Time == c.Time {
			dedup[n-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup
}
