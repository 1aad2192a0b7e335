package kucoin

import (
	"fmt"
	"strconv"
	"strings"
)

// granularity converts a KuCoin channel interval ("1min", "4hour", "1week")
// to the kline endpoint's granularity in minutes. Plain numbers pass through.
func granularity(interval string) (int, error) {
	interval = strings.TrimSpace(strings.ToLower(interval))
	if n, err := strconv.Atoi(interval); err == nil && n > 0 {
		return n, nil
	}

	i := strings.IndexFunc(interval, func(r rune) bool { return r < '0' || r > '9' })
	if i <= 0 {
		return 0, fmt.Errorf("kucoin: unsupported interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:i])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("kucoin: unsupported interval %q", interval)
	}

	switch interval[i:] {
	case "min":
		return n, nil
	case "hour":
		return n * 60, nil
	case "day":
		return n * 24 * 60, nil
	case "week":
		return n * 7 * 24 * 60, nil
	default:
		return 0, fmt.Errorf("kucoin: unsupported interval %q", interval)
	}
}
