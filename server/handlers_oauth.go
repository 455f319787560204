package server

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/castpromo/crypto"
	"github.com/onnwee/castpromo/social"
	"github.com/onnwee/castpromo/twitterapi"
)

const oauthFlowTTL = 10 * time.Minute

// HandleTwitterOAuthStart initiates the Twitter connect flow for a host.
// The PKCE verifier and CSRF state are persisted server-side in oauth_flows
// so the callback can run on any instance.
func (h *Handlers) HandleTwitterOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cfg.TwitterClientID == "" || h.deps.Cfg.TwitterRedirectURI == "" {
		writeError(w, http.StatusBadRequest, "oauth not configured (need TWITTER_CLIENT_ID + TWITTER_REDIRECT_URI)")
		return
	}
	hostID := parseInt64Query(r, "host_id", 0)
	if hostID <= 0 {
		writeError(w, http.StatusBadRequest, "host_id is required")
		return
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		writeError(w, http.StatusInternalServerError, "state generation error")
		return
	}
	state := hex.EncodeToString(b)
	verifier := twitterapi.GenerateVerifier()

	// Abandoned flows expire but are never consumed; sweep them here so the
	// table stays small. Best effort, the insert below is what matters.
	if _, err := h.db.ExecContext(r.Context(),
		`DELETE FROM oauth_flows WHERE expires_at < NOW()`,
	); err != nil {
		slog.Warn("sweep expired oauth flows failed", slog.Any("err", err))
	}

	if _, err := h.db.ExecContext(r.Context(),
		`INSERT INTO oauth_flows (state, code_verifier, host_id, platform, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		state, verifier, hostID, social.PlatformTwitter, time.Now().Add(oauthFlowTTL),
	); err != nil {
		slog.Error("store oauth flow failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "could not start flow")
		return
	}

	auth, err := h.deps.Registry.Auth(social.PlatformTwitter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	authURL, err := auth.AuthorizeURL(state, verifier)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitterOAuthCallback completes the connect flow: consumes the state
// (single use), exchanges the code, fetches the profile, and stores the
// encrypted credential set as the host's active connection.
func (h *Handlers) HandleTwitterOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing code/state")
		return
	}

	// Atomic consume: the row is deleted as it is read, so a replayed state
	// finds nothing and the table never accumulates finished flows.
	var verifier, platform string
	var hostID int64
	err := h.db.QueryRowContext(r.Context(),
		`DELETE FROM oauth_flows
		 WHERE state = $1 AND expires_at > NOW()
		 RETURNING code_verifier, host_id, platform`,
		state,
	).Scan(&verifier, &hostID, &platform)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}
	if err != nil {
		slog.Error("consume oauth flow failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "could not validate state")
		return
	}

	auth, err := h.deps.Registry.Auth(platform)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tok, err := auth.Exchange(r.Context(), code, verifier)
	if err != nil {
		slog.Warn("auth code exchange failed", slog.Int64("host_id", hostID), slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	profile, err := auth.FetchProfile(r.Context(), tok.AccessToken)
	if err != nil {
		slog.Warn("profile fetch failed", slog.Int64("host_id", hostID), slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "profile lookup failed")
		return
	}

	blob, err := crypto.EncryptCredentials(h.deps.Vault, map[string]string{
		"access_token":  tok.AccessToken,
		"refresh_token": tok.RefreshToken,
		"scope":         tok.Scope,
	})
	if err != nil {
		slog.Error("encrypt credentials failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "could not store credentials")
		return
	}

	conn := &social.Connection{
		HostID:           hostID,
		Platform:         platform,
		PlatformUserID:   profile.UserID,
		PlatformUsername: profile.Username,
		Credentials:      blob,
		TokenExpiresAt:   tok.ExpiresAt,
	}
	if err := h.deps.Connections.Upsert(r.Context(), conn); err != nil {
		slog.Error("store connection failed", slog.Int64("host_id", hostID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "could not store connection")
		return
	}

	slog.Info("host connected", slog.Int64("host_id", hostID),
		slog.String("platform", platform), slog.String("username", profile.Username))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "connected",
		"host_id":  hostID,
		"platform": platform,
		"username": profile.Username,
	})
}
