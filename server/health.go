package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yitech/candlerelay/relay"
)

// Pinger is an optional dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	state  func() relay.State
	reg    *relay.Registry
	router *relay.Router
	cache  Pinger
	logger *slog.Logger
}

// NewHealthHandler reports upstream state from state. cache may be nil.
func NewHealthHandler(state func() relay.State, reg *relay.Registry, router *relay.Router, cache Pinger, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		state:  state,
		reg:    reg,
		router: router,
		cache:  cache,
		logger: logger,
	}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	upstream := h.state()
	overallStatus := "ok"
	if upstream != relay.Live {
		overallStatus = "degraded"
	}

	published, dropped := h.router.Stats()
	response := map[string]any{
		"upstream":    upstream.String(),
		"subscribers": h.reg.Len(),
		"published":   published,
		"dropped":     dropped,
	}

	if h.cache != nil {
		cacheStatus := "ok"
		if err := h.cache.Ping(r.Context()); err != nil {
			cacheStatus = "unavailable"
			h.logger.Warn("cache health check failed", "error", err)
		}
		response["cache"] = cacheStatus
	}
	response["status"] = overallStatus

	statusCode := http.StatusOK
	if overallStatus == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
