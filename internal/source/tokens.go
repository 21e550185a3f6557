package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"
)

// FileTokenProvider reads per-user OAuth tokens from a JSON file of the
// shape {"user-id": {"access_token": ..., "refresh_token": ...}} and wraps
// them in refreshing token sources.
//
// It covers CLI and single-node deployments. Larger installations replace
// this with a secret-manager-backed TokenProvider.
type FileTokenProvider struct {
	oauthConfig *oauth2.Config

	mu     sync.Mutex
	path   string
	tokens map[string]*oauth2.Token
}

// NewFileTokenProvider loads tokens from path.
func NewFileTokenProvider(path string, oauthConfig *oauth2.Config) (*FileTokenProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	tokens := map[string]*oauth2.Token{}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}

	return &FileTokenProvider{
		oauthConfig: oauthConfig,
		path:        path,
		tokens:      tokens,
	}, nil
}

// TokenSource implements TokenProvider.
func (p *FileTokenProvider) TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	token, ok := p.tokens[userID]
	if !ok {
		return nil, fmt.Errorf("%w: no stored token for user %s", ErrAuthFailed, userID)
	}
	if p.oauthConfig == nil {
		return oauth2.StaticTokenSource(token), nil
	}
	return p.oauthConfig.TokenSource(ctx, token), nil
}

// Users returns the user IDs with stored tokens.
func (p *FileTokenProvider) Users() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := make([]string, 0, len(p.tokens))
	for user := range p.tokens {
		users = append(users, user)
	}
	return users
}
