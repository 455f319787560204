package server

import (
	"encoding/json"
	"net/http"

	"github.com/onnwee/castpromo/promo"
)

// HandleAdminTick triggers an immediate promotion tick. The scheduler's
// single-instance rule still applies: a tick already in flight makes this a
// no-op.
func (h *Handlers) HandleAdminTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.deps.Sched != nil {
		if err := h.deps.Sched.RunNow(PromoTickJob); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "tick triggered"})
		return
	}
	// No scheduler wired (tests): run synchronously.
	sum, err := h.deps.Runner.Tick(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// HandleAdminFanOut creates pending configs for every host of an item's
// series. Idempotent per (item, host) pair.
// POST /admin/fanout {"item_id": N}
func (h *Handlers) HandleAdminFanOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		ItemID int64 `json:"item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ItemID <= 0 {
		writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}
	ctx := r.Context()

	item, err := h.deps.Series.GetItem(ctx, body.ItemID)
	if err != nil {
		if err == promo.ErrNoCurrentItem {
			writeError(w, http.StatusNotFound, "content item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	hosts, err := h.deps.Series.ListHosts(ctx, item.SeriesID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ids := make([]int64, 0, len(hosts))
	for _, host := range hosts {
		ids = append(ids, host.ID)
	}
	created, err := h.deps.Configs.EnsureForHosts(ctx, item.ID, ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"created": created, "hosts": len(ids)})
}
