package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// ApplicationScope is the public-data scope granted to client-credentials tokens
const ApplicationScope = "https://api.ebay.com/oauth/api_scope"

// applicationTokenSkew renews cached application tokens slightly early
const applicationTokenSkew = time.Minute

// ApplicationTokenProvider issues client-credentials tokens for anonymous
// reads (taxonomy, browse). Its cache is separate from the user token store.
type ApplicationTokenProvider struct {
	conf     *clientcredentials.Config
	opts     options
	logger   zerolog.Logger
	flights  singleflight.Group
	mu       sync.Mutex
	cached   *ApplicationToken
	disabled bool
}

// NewApplicationTokenProvider creates a provider for creds against tokenURL
func NewApplicationTokenProvider(creds Credentials, tokenURL string, opts ...Option) *ApplicationTokenProvider {
	o := buildOptions(opts)

	return &ApplicationTokenProvider{
		conf: &clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{ApplicationScope},
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		opts:     o,
		logger:   o.logger.With().Str("component", "app_token").Logger(),
		disabled: !creds.Complete(),
	}
}

// GetApplicationToken returns a cached token or requests a new one
func (p *ApplicationTokenProvider) GetApplicationToken(ctx context.Context) (*ApplicationToken, error) {
	if p.disabled {
		return nil, fmt.Errorf("%w: application token requires client id and secret", ErrMissingConfiguration)
	}

	if tok := p.cachedToken(); tok != nil {
		return tok, nil
	}

	// Detached so one cancelled caller does not fail the others sharing it
	flightCtx := context.WithoutCancel(ctx)
	ch := p.flights.DoChan("application", func() (interface{}, error) {
		if tok := p.cachedToken(); tok != nil {
			return tok, nil
		}
		return p.issue(flightCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ApplicationToken), nil
	}
}

// AccessToken satisfies the marketplace client's token source
func (p *ApplicationTokenProvider) AccessToken(ctx context.Context) (string, error) {
	tok, err := p.GetApplicationToken(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Invalidate drops the cached token. The API client calls it when a request
// made with the token is rejected as unauthorized.
func (p *ApplicationTokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}

func (p *ApplicationTokenProvider) cachedToken() *ApplicationToken {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached == nil || !p.opts.now().Before(p.cached.ExpiresAt.Add(-applicationTokenSkew)) {
		return nil
	}
	tok := *p.cached
	return &tok
}

func (p *ApplicationTokenProvider) issue(ctx context.Context) (*ApplicationToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.opts.httpClient)

	token, err := p.conf.Token(ctx)
	if err != nil {
		p.opts.observer.ApplicationTokenIssued("error")
		return nil, fmt.Errorf("failed to obtain application token: %w", err)
	}

	now := p.opts.now()
	expiresAt := token.Expiry
	if token.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	}

	tok := &ApplicationToken{
		AccessToken:  token.AccessToken,
		ExpiresAt:    expiresAt.UTC(),
		ScopeOwnerID: p.conf.ClientID,
	}

	p.mu.Lock()
	p.cached = tok
	p.mu.Unlock()

	p.opts.observer.ApplicationTokenIssued("success")
	p.logger.Debug().Time("expires_at", tok.ExpiresAt).Msg("Issued application token")

	out := *tok
	return &out, nil
}
