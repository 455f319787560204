package social

import (
	"context"
	"fmt"

	"github.com/onnwee/castpromo/twitterapi"
)

// TwitterProvider adapts twitterapi.Client to the AuthProvider and
// PostingProvider interfaces.
type TwitterProvider struct {
	Client *twitterapi.Client
}

var (
	_ AuthProvider    = (*TwitterProvider)(nil)
	_ PostingProvider = (*TwitterProvider)(nil)
)

func (p *TwitterProvider) AuthorizeURL(state, verifier string) (string, error) {
	return p.Client.BuildAuthorizeURL(state, verifier)
}

func (p *TwitterProvider) Exchange(ctx context.Context, code, verifier string) (*Token, error) {
	tok, err := p.Client.ExchangeAuthCode(ctx, code, verifier)
	if err != nil {
		return nil, err
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        tok.Scope,
		ExpiresAt:    tok.ExpiresAt,
	}, nil
}

func (p *TwitterProvider) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	tok, err := p.Client.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        tok.Scope,
		ExpiresAt:    tok.ExpiresAt,
	}, nil
}

func (p *TwitterProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	info, err := p.Client.GetUserInfo(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return &Profile{UserID: info.ID, Username: info.Username}, nil
}

func (p *TwitterProvider) MaxLength() int { return twitterapi.MaxPostLength }

func (p *TwitterProvider) Publish(ctx context.Context, accessToken, text string) (string, error) {
	return p.Client.CreateTweet(ctx, accessToken, text)
}

func (p *TwitterProvider) PostURL(username, postID string) string {
	return fmt.Sprintf("https://twitter.com/%s/status/%s", username, postID)
}
