package twitterapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// API error codes surfaced to callers for classification.
const (
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeRateLimited  = "rate_limited"
	CodeServerError  = "server_error"
	CodeAPIError     = "api_error"
)

// APIError is a non-2xx response from the platform. StatusCode carries the
// HTTP status; Code is a stable machine-readable classification.
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter %s: status %d (%s): %s", e.Op, e.StatusCode, e.Code, e.Detail)
}

// TokenRejected reports whether the platform refused the presented access
// token, meaning a refresh (or full reconnect) is required.
func (e *APIError) TokenRejected() bool { return e.StatusCode == http.StatusUnauthorized }

// Retryable reports whether the failure is worth retrying on a later run.
// Forbidden and rate-limited responses repeat deterministically within a run,
// so they are terminal for the current attempt cycle.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests:
		return false
	}
	return true
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusForbidden:
		return CodeForbidden
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status >= 500:
		return CodeServerError
	default:
		return CodeAPIError
	}
}

// UserInfo is the authenticated user's public profile.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// GetUserInfo fetches the profile of the user the access token belongs to.
func (c *Client) GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase()+"/users/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("users/me request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, apiErrorFromResponse("users/me", resp.StatusCode, body)
	}
	var out struct {
		Data UserInfo `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode users/me response: %w", err)
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("users/me response missing user id")
	}
	return &out.Data, nil
}

// CreateTweet posts text as a new tweet and returns the created tweet ID.
// Length validation is the caller's responsibility; the platform rejects
// over-limit text with a 403.
func (c *Client) CreateTweet(ctx context.Context, accessToken, text string) (string, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase()+"/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("create tweet request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", apiErrorFromResponse("create tweet", resp.StatusCode, body)
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode create tweet response: %w", err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("create tweet response missing id")
	}
	return out.Data.ID, nil
}

func apiErrorFromResponse(op string, status int, body []byte) *APIError {
	detail := ""
	var errBody struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &errBody) == nil {
		detail = errBody.Detail
		if detail == "" {
			detail = errBody.Title
		}
	}
	if detail == "" {
		detail = truncateForLog(string(body), 200)
	}
	return &APIError{Op: op, StatusCode: status, Code: codeForStatus(status), Detail: detail}
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
