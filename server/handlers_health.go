package server

import (
	"encoding/json"
	"net/http"
)

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with detailed checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"encryption_key", func() error {
			// A vault that can round-trip proves the key is usable.
			_, err := h.deps.Vault.Encrypt([]byte("probe"))
			return err
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus reports pipeline counters for the operator dashboard.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]any{}

	for _, status := range []string{"pending", "posted", "failed"} {
		n, err := h.deps.Configs.CountByStatus(ctx, status)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out[status+"_tweets"] = n
	}

	var activeConnections int
	if err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM social_connections WHERE is_active = TRUE`).Scan(&activeConnections); err == nil {
		out["active_connections"] = activeConnections
	}

	var lastTick string
	if err := h.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = 'last_tick_at'`).Scan(&lastTick); err == nil {
		out["last_tick_at"] = lastTick
	}

	writeJSON(w, http.StatusOK, out)
}
