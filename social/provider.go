package social

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Token is a decoded credential set handed back by a provider.
type Token struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}

// Profile identifies the platform account a token belongs to.
type Profile struct {
	UserID   string
	Username string
}

// AuthProvider covers the OAuth side of a platform: building the
// authorization URL, redeeming codes, and refreshing tokens.
type AuthProvider interface {
	AuthorizeURL(state, verifier string) (string, error)
	Exchange(ctx context.Context, code, verifier string) (*Token, error)
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

// PostingProvider covers the publishing side of a platform.
type PostingProvider interface {
	// MaxLength is the platform's post character limit.
	MaxLength() int
	Publish(ctx context.Context, accessToken, text string) (postID string, err error)
	PostURL(username, postID string) string
}

// Registry maps platform names to their providers.
type Registry struct {
	mu   sync.RWMutex
	auth map[string]AuthProvider
	post map[string]PostingProvider
}

func NewRegistry() *Registry {
	return &Registry{
		auth: make(map[string]AuthProvider),
		post: make(map[string]PostingProvider),
	}
}

func (r *Registry) Register(platform string, auth AuthProvider, post PostingProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auth[platform] = auth
	r.post[platform] = post
}

func (r *Registry) Auth(platform string) (AuthProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.auth[platform]
	if !ok {
		return nil, fmt.Errorf("no auth provider registered for platform %q", platform)
	}
	return p, nil
}

func (r *Registry) Posting(platform string) (PostingProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.post[platform]
	if !ok {
		return nil, fmt.Errorf("no posting provider registered for platform %q", platform)
	}
	return p, nil
}
