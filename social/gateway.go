package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/onnwee/castpromo/crypto"
	"github.com/onnwee/castpromo/telemetry"
	"github.com/onnwee/castpromo/twitterapi"
)

// maxTokenRefreshRetries bounds how many times a single Post call may refresh
// and re-send after a 401. One refresh is enough to recover from expiry; a
// second 401 means the grant itself is dead.
const maxTokenRefreshRetries = 1

// Stable error codes recorded on failed post results and logs.
const (
	ErrCodeTextTooLong       = "text_too_long"
	ErrCodeNoConnection      = "no_connection"
	ErrCodeCredentials       = "credential_error"
	ErrCodeReconnectRequired = "reconnect_required"
	ErrCodeUnsupported       = "unsupported_platform"
)

// PostResult is the structured outcome of a posting attempt. Expected
// failures are carried here, not as panics or bare errors.
type PostResult struct {
	Success           bool
	PostID            string
	PostURL           string
	ConnectionID      int64
	ErrorCode         string
	ErrorDetail       string
	ReconnectRequired bool
	Latency           time.Duration
}

// Gateway posts on a host's behalf using their stored connection, refreshing
// tokens transparently when the platform rejects them.
type Gateway struct {
	Store ConnectionStore
	Vault crypto.Encryptor
	Reg   *Registry
	Log   *slog.Logger
}

func NewGateway(store ConnectionStore, vault crypto.Encryptor, reg *Registry) *Gateway {
	return &Gateway{Store: store, Vault: vault, Reg: reg, Log: slog.Default()}
}

// Post publishes text through hostID's active connection on platform.
// The returned error is reserved for infrastructure faults (store failures);
// platform-level failures come back inside PostResult.
func (g *Gateway) Post(ctx context.Context, hostID int64, platform, text string) (PostResult, error) {
	start := time.Now()
	res := g.post(ctx, hostID, platform, text)
	res.Latency = time.Since(start)

	outcome := "success"
	if !res.Success {
		outcome = res.ErrorCode
	}
	telemetry.SocialPostsTotal.WithLabelValues(platform, outcome).Inc()
	telemetry.SocialPostDuration.WithLabelValues(platform).Observe(res.Latency.Seconds())
	return res, nil
}

func (g *Gateway) post(ctx context.Context, hostID int64, platform, text string) PostResult {
	posting, err := g.Reg.Posting(platform)
	if err != nil {
		return PostResult{ErrorCode: ErrCodeUnsupported, ErrorDetail: err.Error()}
	}
	if n := utf8.RuneCountInString(text); n > posting.MaxLength() {
		return PostResult{
			ErrorCode:   ErrCodeTextTooLong,
			ErrorDetail: fmt.Sprintf("post text is %d characters, limit is %d", n, posting.MaxLength()),
		}
	}

	conn, err := g.Store.GetActive(ctx, hostID, platform)
	if err != nil {
		if errors.Is(err, ErrNoConnection) {
			return PostResult{ErrorCode: ErrCodeNoConnection, ErrorDetail: "host has no active connection", ReconnectRequired: true}
		}
		return PostResult{ErrorCode: ErrCodeCredentials, ErrorDetail: err.Error()}
	}

	res := g.postWithConn(ctx, posting, conn, text)
	res.ConnectionID = conn.ID
	return res
}

func (g *Gateway) postWithConn(ctx context.Context, posting PostingProvider, conn *Connection, text string) PostResult {
	// Proactive refresh when the stored token is already past its expiry.
	if !conn.TokenExpiresAt.IsZero() && conn.TokenExpiresAt.Before(time.Now()) {
		if !g.Refresh(ctx, conn) {
			g.recordError(ctx, conn, "token expired and refresh failed")
			return PostResult{ErrorCode: ErrCodeReconnectRequired, ErrorDetail: "token expired and refresh failed", ReconnectRequired: true}
		}
	}

	for attempt := 0; ; attempt++ {
		creds, err := crypto.DecryptCredentials(g.Vault, conn.Credentials)
		if err != nil {
			// Undecryptable blob (key rotation, corruption): the stored
			// credentials are unusable, only a reconnect can fix it.
			g.recordError(ctx, conn, "stored credentials could not be decrypted")
			return PostResult{ErrorCode: ErrCodeCredentials, ErrorDetail: "stored credentials could not be decrypted", ReconnectRequired: true}
		}
		access := creds["access_token"]
		if access == "" {
			g.recordError(ctx, conn, "stored credentials missing access token")
			return PostResult{ErrorCode: ErrCodeCredentials, ErrorDetail: "stored credentials missing access token", ReconnectRequired: true}
		}

		postID, err := posting.Publish(ctx, access, text)
		if err == nil {
			if err := g.Store.MarkUsed(ctx, conn.ID); err != nil {
				g.Log.Warn("mark connection used failed", "connection_id", conn.ID, "error", err)
			}
			return PostResult{
				Success: true,
				PostID:  postID,
				PostURL: posting.PostURL(conn.PlatformUsername, postID),
			}
		}

		var apiErr *twitterapi.APIError
		if errors.As(err, &apiErr) && apiErr.TokenRejected() {
			if attempt < maxTokenRefreshRetries && g.Refresh(ctx, conn) {
				continue
			}
			g.recordError(ctx, conn, "access token rejected; reconnect required")
			return PostResult{ErrorCode: ErrCodeReconnectRequired, ErrorDetail: "access token rejected after refresh", ReconnectRequired: true}
		}

		g.recordError(ctx, conn, err.Error())
		code := twitterapi.CodeAPIError
		if errors.As(err, &apiErr) {
			code = apiErr.Code
		}
		return PostResult{ErrorCode: code, ErrorDetail: err.Error()}
	}
}

// Refresh redeems the connection's refresh token for a fresh access token,
// re-encrypts the credential blob, and persists it. On any failure the stored
// credentials are left untouched and false is returned.
func (g *Gateway) Refresh(ctx context.Context, conn *Connection) bool {
	auth, err := g.Reg.Auth(conn.Platform)
	if err != nil {
		g.Log.Warn("refresh: no auth provider", "platform", conn.Platform)
		return false
	}
	creds, err := crypto.DecryptCredentials(g.Vault, conn.Credentials)
	if err != nil {
		g.Log.Warn("refresh: decrypt credentials failed", "connection_id", conn.ID, "error", err)
		return false
	}
	refreshToken := creds["refresh_token"]
	if refreshToken == "" {
		g.Log.Warn("refresh: no refresh token stored", "connection_id", conn.ID)
		return false
	}

	tok, err := auth.Refresh(ctx, refreshToken)
	if err != nil {
		telemetry.TokenRefreshesTotal.WithLabelValues(conn.Platform, "error").Inc()
		g.Log.Warn("refresh: grant failed", "connection_id", conn.ID, "error", err)
		return false
	}

	creds["access_token"] = tok.AccessToken
	// Providers may rotate the refresh token; keep the old one otherwise.
	if tok.RefreshToken != "" {
		creds["refresh_token"] = tok.RefreshToken
	}
	if tok.Scope != "" {
		creds["scope"] = tok.Scope
	}
	blob, err := crypto.EncryptCredentials(g.Vault, creds)
	if err != nil {
		g.Log.Error("refresh: re-encrypt failed", "connection_id", conn.ID, "error", err)
		return false
	}
	if err := g.Store.UpdateCredentials(ctx, conn.ID, blob, tok.ExpiresAt); err != nil {
		g.Log.Error("refresh: persist failed", "connection_id", conn.ID, "error", err)
		return false
	}
	conn.Credentials = blob
	conn.TokenExpiresAt = tok.ExpiresAt
	telemetry.TokenRefreshesTotal.WithLabelValues(conn.Platform, "success").Inc()
	g.Log.Info("access token refreshed", "connection_id", conn.ID, "host_id", conn.HostID, "platform", conn.Platform)
	return true
}

func (g *Gateway) recordError(ctx context.Context, conn *Connection, msg string) {
	if err := g.Store.SetLastError(ctx, conn.ID, msg); err != nil {
		g.Log.Warn("record connection error failed", "connection_id", conn.ID, "error", err)
	}
}
