package kucoin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/yitech/candlerelay/adapter"
	"github.com/yitech/candlerelay/model/candle"
)

const klinePath = "/api/v1/kline/query"

// fetchKlines requests historical klines for symbol/interval from the KuCoin
// REST API. Rows come back in provider order (newest-first for KuCoin); the
// history service owns reordering. Rows that fail to parse are counted in
// dropped rather than failing the whole request.
func fetchKlines(ctx context.Context, client *http.Client, restURL, symbol, interval string) (out []candle.Candle, dropped int, err error) {
	gran, err := granularity(interval)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", adapter.ErrHistory, err)
	}

	u, err := url.Parse(restURL + klinePath)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: kucoin: parse url: %w", adapter.ErrHistory, err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("granularity", strconv.Itoa(gran))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: kucoin: build request: %w", adapter.ErrHistory, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: kucoin: http get: %w", adapter.ErrHistory, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("%w: kucoin: unexpected status %s", adapter.ErrHistory, resp.Status)
	}

	var envelope struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, 0, fmt.Errorf("%w: kucoin: decode response: %w", adapter.ErrHistory, err)
	}
	if envelope.Code != "" && envelope.Code != codeOK {
		return nil, 0, fmt.Errorf("%w: kucoin: api error %s: %s", adapter.ErrHistory, envelope.Code, envelope.Msg)
	}

	out, dropped = parseKlines(envelope.Data)
	return out, dropped, nil
}

// parseKlines converts the KuCoin kline rows into candles.
// Absent, null or non-array data yields an empty result.
//
// KuCoin kline array layout:
//
//	[0] time   (period start, ms)
//	[1] open
//	[2] close
//	[3] high
//	[4] low
//	[5] volume, unused
func parseKlines(data json.RawMessage) ([]candle.Candle, int) {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return []candle.Candle{}, 0
	}

	out := make([]candle.Candle, 0, len(rows))
	dropped := 0
	for _, raw := range rows {
		var row []json.RawMessage
		if err := json.Unmarshal(raw, &row); err != nil {
			dropped++
			continue
		}
		c, err := candleFromRow(row, false)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, c)
	}
	return out, dropped
}

var errMissingField = errors.New("missing field")

// candleFromRow maps a [time, open, close, high, low, ...] row. When live is
// set the timestamp may be seconds or milliseconds; history rows are always ms.
func candleFromRow(row []json.RawMessage, live bool) (candle.Candle, error) {
	field := func(i int, name string) (float64, error) {
		if i >= len(row) {
			return 0, fmt.Errorf("%s: %w", name, errMissingField)
		}
		v, err := parseNumber(row[i])
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return v, nil
	}

	ts, err := field(0, "time")
	if err != nil {
		return candle.Candle{}, err
	}
	cl, err := field(2, "close")
	if err != nil {
		return candle.Candle{}, err
	}
	op, err := field(1, "open")
	if err != nil {
		return candle.Candle{}, err
	}
	hi, err := field(3, "high")
	if err != nil {
		return candle.Candle{}, err
	}
	lo, err := field(4, "low")
	if err != nil {
		return candle.Candle{}, err
	}

	t := int64(ts)
	if live {
		t = candle.NormalizeEpoch(t)
	} else {
		t = candle.FromMillis(t)
	}

	c := candle.Candle{Time: t, Open: op, High: hi, Low: lo, Close: cl}
	if !c.Valid() {
		return candle.Candle{}, fmt.Errorf("non-finite price in %v", c)
	}
	return c, nil
}

// parseNumber accepts a JSON number or a numeric JSON string.
func parseNumber(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errMissingField
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, errMissingField
		}
	}
	return strconv.ParseFloat(s, 64)
}
