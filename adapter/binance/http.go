package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/yitech/candlerelay/adapter"
	"github.com/yitech/candlerelay/model/candle"
)

const (
	klinePath  = "/api/v3/klines"
	klineLimit = 500
)

// fetchKlines requests the latest klineLimit klines for symbol/interval.
// Rows that fail to parse are counted in dropped.
func fetchKlines(ctx context.Context, client *http.Client, restURL, symbol, interval string) (out []candle.Candle, dropped int, err error) {
	u, err := url.Parse(restURL + klinePath)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: binance: parse url: %w", adapter.ErrHistory, err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", klineInterval(interval))
	q.Set("limit", strconv.Itoa(klineLimit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: binance: build request: %w", adapter.ErrHistory, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: binance: http get: %w", adapter.ErrHistory, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("%w: binance: unexpected status %s", adapter.ErrHistory, resp.Status)
	}

	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("%w: binance: decode response: %w", adapter.ErrHistory, err)
	}

	out, dropped = parseKlines(raw)
	return out, dropped, nil
}

// parseKlines converts Binance kline rows into candles.
//
// Binance kline array layout:
//
//	[0]  Open time  (int64, Unix ms)
//	[1]  Open       (string)
//	[2]  High       (string)
//	[3]  Low        (string)
//	[4]  Close      (string)
//	[5:] volume, close time and trade stats, unused
func parseKlines(raw [][]json.RawMessage) ([]candle.Candle, int) {
	out := make([]candle.Candle, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		if len(r) < 5 {
			dropped++
			continue
		}
		var f [5]float64
		ok := true
		for i := range f {
			v, err := parseNumber(r[i])
			if err != nil {
				ok = false
				break
			}
			f[i] = v
		}
		if !ok {
			dropped++
			continue
		}
		c := candle.Candle{
			Time:  candle.FromMillis(int64(f[0])),
			Open:  f[1],
			High:  f[2],
			Low:   f[3],
			Close: f[4],
		}
		if !c.Valid() {
			dropped++
			continue
		}
		out = append(out, c)
	}
	return out, dropped
}

var errMissingField = errors.New("missing field")

// parseNumber accepts a JSON number or a numeric JSON string.
func parseNumber(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errMissingField
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(s, 64)
	}
	return strconv.ParseFloat(string(raw), 64)
}
