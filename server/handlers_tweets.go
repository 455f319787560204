package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/onnwee/castpromo/promo"
	"github.com/onnwee/castpromo/twitterapi"
)

// tweetConfigView is the operator-facing shape of a config: the stored
// fields plus the character counts the dashboard shows.
type tweetConfigView struct {
	*promo.TweetConfig
	GeneratedLength int `json:"generated_length"`
	CustomLength    int `json:"custom_length"`
}

func viewOf(c *promo.TweetConfig) tweetConfigView {
	return tweetConfigView{
		TweetConfig:     c,
		GeneratedLength: utf8.RuneCountInString(c.GeneratedContent),
		CustomLength:    utf8.RuneCountInString(c.CustomContent),
	}
}

// HandleTweetsList lists tweet configs filtered by item or status.
// GET /tweets?item_id= | ?status=&limit=&offset=
func (h *Handlers) HandleTweetsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	var configs []*promo.TweetConfig
	var err error
	if itemID := parseInt64Query(r, "item_id", 0); itemID > 0 {
		configs, err = h.deps.Configs.ListForItem(ctx, itemID)
	} else {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = promo.StatusPending
		}
		configs, err = h.deps.Configs.ListByStatus(ctx, status,
			parseIntQuery(r, "limit", 50), parseIntQuery(r, "offset", 0))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]tweetConfigView, 0, len(configs))
	for _, c := range configs {
		views = append(views, viewOf(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tweets": views, "count": len(views)})
}

// HandleTweetsDispatcher routes /tweets/{id} and /tweets/{id}/{action}.
func (h *Handlers) HandleTweetsDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tweets/")
	parts := strings.SplitN(rest, "/", 2)

	// Collection-level action.
	if parts[0] == "retry-failed" {
		h.handleRetryFailed(w, r)
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid tweet config id")
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.handleTweetGet(w, r, id)
		case http.MethodPatch, http.MethodPut:
			h.handleTweetUpdate(w, r, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "post":
		h.handleTweetPostNow(w, r, id)
	case "reset":
		h.handleTweetReset(w, r, id)
	case "regenerate":
		h.handleTweetRegenerate(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

func (h *Handlers) handleTweetGet(w http.ResponseWriter, r *http.Request, id int64) {
	cfg, err := h.deps.Configs.GetByID(r.Context(), id)
	if errors.Is(err, promo.ErrConfigNotFound) {
		writeError(w, http.StatusNotFound, "tweet config not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(cfg))
}

// handleTweetUpdate lets a host or operator adjust content and flags.
func (h *Handlers) handleTweetUpdate(w http.ResponseWriter, r *http.Request, id int64) {
	var body struct {
		CustomContent    *string `json:"custom_content"`
		GeneratedContent *string `json:"generated_content"`
		Enabled          *bool   `json:"enabled"`
		IncludeLink      *bool   `json:"include_link"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.CustomContent != nil {
		if n := utf8.RuneCountInString(*body.CustomContent); n > twitterapi.MaxPostLength {
			writeError(w, http.StatusBadRequest,
				"custom content is "+strconv.Itoa(n)+" characters, limit is "+strconv.Itoa(twitterapi.MaxPostLength))
			return
		}
	}

	err := h.deps.Configs.UpdateContent(r.Context(), id,
		body.GeneratedContent, body.CustomContent, body.Enabled, body.IncludeLink)
	if errors.Is(err, promo.ErrConfigNotFound) {
		writeError(w, http.StatusNotFound, "tweet config not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.handleTweetGet(w, r, id)
}

// handleTweetPostNow triggers a manual post outside the scheduler.
func (h *Handlers) handleTweetPostNow(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	logRow, err := h.deps.Runner.PostNow(r.Context(), id)
	if errors.Is(err, promo.ErrConfigNotFound) {
		writeError(w, http.StatusNotFound, "tweet config not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	status := http.StatusOK
	if !logRow.Success {
		// The attempt ran but the platform rejected it; the log row has why.
		status = http.StatusBadGateway
	}
	writeJSON(w, status, logRow)
}

func (h *Handlers) handleTweetReset(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	changed, err := h.deps.Configs.Reset(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !changed {
		writeError(w, http.StatusConflict, "config is not in a resettable state")
		return
	}
	h.handleTweetGet(w, r, id)
}

func (h *Handlers) handleTweetRegenerate(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	text, err := h.deps.Runner.Regenerate(r.Context(), id)
	if errors.Is(err, promo.ErrConfigNotFound) {
		writeError(w, http.StatusNotFound, "tweet config not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"generated_content": text})
}

// handleRetryFailed re-queues failed configs under the retry cap.
// POST /tweets/retry-failed?max_retries=
func (h *Handlers) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	max := parseIntQuery(r, "max_retries", h.deps.Cfg.MaxPostRetries)
	n, err := h.deps.Runner.RetryFailed(r.Context(), max)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}
