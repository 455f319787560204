// Package twitterapi contains minimal helpers to interact with the Twitter/X
// OAuth 2.0 endpoints and API v2: authorization-code-with-PKCE exchange,
// refresh-token grant, profile lookup, and tweet creation.
package twitterapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultAuthURL  = "https://twitter.com/i/oauth2/authorize"
	defaultTokenURL = "https://api.twitter.com/2/oauth2/token"
	defaultAPIBase  = "https://api.twitter.com/2"
)

// MaxPostLength is the tweet character limit.
const MaxPostLength = 280

// Client talks to the Twitter OAuth and API v2 endpoints as a confidential
// client. AuthURL/TokenURL/APIBase are overridable for tests.
type Client struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	AuthURL    string
	TokenURL   string
	APIBase    string
	HTTPClient *http.Client
}

// Token is the credential set returned by exchange and refresh grants.
type Token struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) apiBase() string {
	if c.APIBase != "" {
		return strings.TrimRight(c.APIBase, "/")
	}
	return defaultAPIBase
}

// oauthConfig builds the x/oauth2 config. Twitter authenticates confidential
// clients with HTTP basic auth at the token endpoint.
func (c *Client) oauthConfig() *oauth2.Config {
	authURL := c.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// GenerateVerifier returns a cryptographically random PKCE code verifier
// (43 URL-safe characters, 32 bytes of entropy).
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// BuildAuthorizeURL constructs the user authorization URL for the code grant
// with an S256 PKCE challenge derived from verifier. The plain challenge
// method is deliberately not supported.
func (c *Client) BuildAuthorizeURL(state, verifier string) (string, error) {
	if c.ClientID == "" || c.RedirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	if state == "" || verifier == "" {
		return "", errors.New("missing state or code verifier")
	}
	return c.oauthConfig().AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// ExchangeAuthCode exchanges an authorization code plus the PKCE verifier for
// access & refresh tokens.
func (c *Client) ExchangeAuthCode(ctx context.Context, code, verifier string) (*Token, error) {
	if c.ClientID == "" || c.ClientSecret == "" || code == "" || verifier == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http())
	tok, err := c.oauthConfig().Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyOAuthError("auth code exchange", err)
	}
	return fromOAuth2Token(tok), nil
}

// RefreshToken exchanges a refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	if c.ClientID == "" || c.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http())
	src := c.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyOAuthError("token refresh", err)
	}
	return fromOAuth2Token(tok), nil
}

func fromOAuth2Token(tok *oauth2.Token) *Token {
	scope, _ := tok.Extra("scope").(string)
	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        strings.TrimSpace(scope),
		ExpiresAt:    tok.Expiry,
	}
	if out.ExpiresAt.IsZero() {
		out.ExpiresAt = ComputeExpiry(0)
	}
	return out
}

// classifyOAuthError maps x/oauth2 retrieve errors onto *APIError so callers
// get a status code and machine-readable code to act on.
func classifyOAuthError(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		detail := rerr.ErrorDescription
		if detail == "" {
			detail = strings.TrimSpace(string(rerr.Body))
		}
		return &APIError{Op: op, StatusCode: status, Code: codeForStatus(status), Detail: detail}
	}
	return err
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +2h
// (the platform's usual access-token lifetime) when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(2 * time.Hour)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
