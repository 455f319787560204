package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/castpromo/social"
)

// connectionView strips the credential blob from API responses.
type connectionView struct {
	ID               int64     `json:"id"`
	HostID           int64     `json:"host_id"`
	Platform         string    `json:"platform"`
	PlatformUsername string    `json:"platform_username"`
	TokenExpiresAt   time.Time `json:"token_expires_at"`
	LastUsedAt       time.Time `json:"last_used_at,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	ReconnectNeeded  bool      `json:"reconnect_needed"`
}

func connectionViewOf(c *social.Connection) connectionView {
	return connectionView{
		ID:               c.ID,
		HostID:           c.HostID,
		Platform:         c.Platform,
		PlatformUsername: c.PlatformUsername,
		TokenExpiresAt:   c.TokenExpiresAt,
		LastUsedAt:       c.LastUsedAt,
		LastError:        c.LastError,
		ReconnectNeeded:  c.LastError != "" && strings.Contains(c.LastError, "reconnect"),
	}
}

// HandleConnectionsList lists active connections.
// GET /connections?platform=
func (h *Handlers) HandleConnectionsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	platform := r.URL.Query().Get("platform")
	if platform == "" {
		platform = social.PlatformTwitter
	}
	conns, err := h.deps.Connections.ListActive(r.Context(), platform)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		views = append(views, connectionViewOf(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": views, "count": len(views)})
}

// HandleConnectionsDispatcher routes /connections/{host_id}.
// DELETE disconnects (soft delete); GET returns the host's connection.
func (h *Handlers) HandleConnectionsDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/connections/")
	hostID, err := strconv.ParseInt(strings.SplitN(rest, "/", 2)[0], 10, 64)
	if err != nil || hostID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid host id")
		return
	}
	platform := r.URL.Query().Get("platform")
	if platform == "" {
		platform = social.PlatformTwitter
	}

	switch r.Method {
	case http.MethodGet:
		conn, err := h.deps.Connections.GetActive(r.Context(), hostID, platform)
		if errors.Is(err, social.ErrNoConnection) {
			writeError(w, http.StatusNotFound, "no active connection")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, connectionViewOf(conn))
	case http.MethodDelete:
		err := h.deps.Connections.Disconnect(r.Context(), hostID, platform)
		if errors.Is(err, social.ErrNoConnection) {
			writeError(w, http.StatusNotFound, "no active connection")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandlePostLogs lists the posting audit trail.
// GET /postlogs?host_id=&limit=&offset=
func (h *Handlers) HandlePostLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	logs, err := h.deps.Logs.List(r.Context(),
		parseInt64Query(r, "host_id", 0),
		parseIntQuery(r, "limit", 50),
		parseIntQuery(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}
