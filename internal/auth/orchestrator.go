package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultScopes is the whitelisted scope set requested on authorization.
// Every entry must be enabled for the application on the marketplace:
// a single unknown scope makes the whole grant request fail with invalid_scope.
var DefaultScopes = []string{
	"https://api.ebay.com/oauth/api_scope",
	"https://api.ebay.com/oauth/api_scope/sell.inventory",
	"https://api.ebay.com/oauth/api_scope/sell.account",
	"https://api.ebay.com/oauth/api_scope/sell.fulfillment",
}

// refreshFlightKey keys the single-flight guard for the user token
const refreshFlightKey = "user_token"

// Observer receives token lifecycle events (metrics)
type Observer interface {
	TokenRefreshed(result string)
	ApplicationTokenIssued(result string)
}

type nopObserver struct{}

func (nopObserver) TokenRefreshed(string)         {}
func (nopObserver) ApplicationTokenIssued(string) {}

// OrchestratorConfig holds the static OAuth settings
type OrchestratorConfig struct {
	// Credentials from the environment. Submitted credentials take precedence.
	Credentials Credentials
	// RuName is the registered redirect identifier sent as redirect_uri
	RuName   string
	Endpoint oauth2.Endpoint
	Scopes   []string
}

// Orchestrator drives the authorization-code flow and keeps the stored
// token pair fresh
type Orchestrator struct {
	cfg        OrchestratorConfig
	store      TokenStore
	httpClient *http.Client
	now        func() time.Time
	logger     zerolog.Logger
	observer   Observer

	flights     singleflight.Group
	refreshing  atomic.Bool
	authorizing atomic.Bool
}

// Option configures an Orchestrator or ApplicationTokenProvider
type Option func(*options)

type options struct {
	httpClient *http.Client
	now        func() time.Time
	logger     zerolog.Logger
	observer   Observer
}

// WithHTTPClient sets the client used for token endpoint calls
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver sets the lifecycle observer
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

func buildOptions(opts []Option) options {
	o := options{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		logger:     zerolog.Nop(),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewOrchestrator creates an orchestrator over store
func NewOrchestrator(cfg OrchestratorConfig, store TokenStore, opts ...Option) *Orchestrator {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	o := buildOptions(opts)

	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		httpClient: o.httpClient,
		now:        o.now,
		logger:     o.logger.With().Str("component", "oauth").Logger(),
		observer:   o.observer,
	}
}

func (o *Orchestrator) oauthConfig(creds Credentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  o.cfg.RuName,
		Scopes:       o.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   o.cfg.Endpoint.AuthURL,
			TokenURL:  o.cfg.Endpoint.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func (o *Orchestrator) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

// SubmitCredentials stores application credentials ahead of authorization.
// Calling it again with the same values is harmless; no network call is made.
func (o *Orchestrator) SubmitCredentials(ctx context.Context, clientID, clientSecret string) error {
	creds := Credentials{ClientID: clientID, ClientSecret: clientSecret}
	if !creds.Complete() {
		return fmt.Errorf("%w: client id and client secret are required", ErrMissingConfiguration)
	}

	pending := PendingCredentials{Credentials: creds, SubmittedAt: o.now().UTC()}
	if err := o.store.SavePending(ctx, pending); err != nil {
		return err
	}

	o.logger.Info().Str("client_id", clientID).Msg("Stored pending credentials")
	return nil
}

// BuildAuthorizationRedirect returns the marketplace authorization URL.
// It fails with ErrMissingConfiguration before any network activity when the
// client id or the redirect identifier is unknown.
func (o *Orchestrator) BuildAuthorizationRedirect(ctx context.Context, state string) (string, error) {
	creds, err := o.authorizationCredentials(ctx)
	if err != nil {
		return "", err
	}
	if creds.ClientID == "" {
		return "", fmt.Errorf("%w: client id not set", ErrMissingConfiguration)
	}
	if o.cfg.RuName == "" {
		return "", fmt.Errorf("%w: redirect identifier (RuName) not set", ErrMissingConfiguration)
	}

	o.authorizing.Store(true)
	return o.oauthConfig(creds).AuthCodeURL(state), nil
}

// authorizationCredentials prefers submitted credentials over the environment
func (o *Orchestrator) authorizationCredentials(ctx context.Context) (Credentials, error) {
	pending, err := o.store.LoadPending(ctx)
	if err != nil {
		return Credentials{}, err
	}
	if pending != nil {
		return pending.Credentials, nil
	}
	return o.cfg.Credentials, nil
}

// HandleAuthorizationResult completes the flow. A callback error is returned
// as *AuthorizationError; a code is exchanged with the pending credentials.
func (o *Orchestrator) HandleAuthorizationResult(ctx context.Context, result AuthorizationResult) (*TokenPair, error) {
	defer o.authorizing.Store(false)

	if result.Error != "" {
		authErr := &AuthorizationError{Code: result.Error, Description: result.ErrorDescription}
		o.logger.Warn().Str("error", result.Error).Str("description", result.ErrorDescription).
			Msg("Authorization callback returned an error")
		return nil, authErr
	}
	if result.Code == "" {
		return nil, &AuthorizationError{Code: "missing_code", Description: "no authorization code in callback"}
	}

	pending, err := o.store.LoadPending(ctx)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	switch {
	case pending != nil && pending.Complete():
		creds = pending.Credentials
	case o.cfg.Credentials.Complete():
		creds = o.cfg.Credentials
	default:
		return nil, ErrNoPendingCredentials
	}

	token, err := o.oauthConfig(creds).Exchange(o.httpContext(ctx), result.Code)
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.ErrorCode != "" {
			return nil, &AuthorizationError{Code: rErr.ErrorCode, Description: rErr.ErrorDescription}
		}
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	pair := o.pairFromToken(token, nil)
	if err := o.store.SaveToken(ctx, pair); err != nil {
		return nil, err
	}
	if err := o.store.SaveClient(ctx, creds); err != nil {
		return nil, err
	}
	if err := o.store.ClearPending(ctx); err != nil {
		return nil, err
	}

	o.logger.Info().Time("expires_at", pair.ExpiresAt).Bool("has_refresh_token", pair.HasRefreshToken()).
		Msg("Authorization code exchanged")
	return &pair, nil
}

// GetValidAccessToken returns an access token valid for at least
// RefreshBuffer, refreshing and persisting a new pair first when needed
func (o *Orchestrator) GetValidAccessToken(ctx context.Context) (string, error) {
	pair, err := o.store.LoadToken(ctx)
	if err != nil {
		return "", err
	}
	if pair == nil {
		return "", ErrNotAuthenticated
	}
	if !pair.NeedsRefresh(o.now(), RefreshBuffer) {
		return pair.AccessToken, nil
	}

	refreshed, err := o.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// AccessToken satisfies the marketplace client's token source
func (o *Orchestrator) AccessToken(ctx context.Context) (string, error) {
	return o.GetValidAccessToken(ctx)
}

// Refresh refreshes the pair if it is inside the refresh buffer and returns
// the current pair
func (o *Orchestrator) Refresh(ctx context.Context) (*TokenPair, error) {
	return o.refresh(ctx, false)
}

// ForceRefresh refreshes the pair regardless of its remaining lifetime
func (o *Orchestrator) ForceRefresh(ctx context.Context) (*TokenPair, error) {
	return o.refresh(ctx, true)
}

// refresh runs at most one token-endpoint round trip at a time; concurrent
// callers share its result. The flight is detached from the caller that
// started it, so a cancelled request does not fail the others; each caller
// stops waiting when its own ctx is done.
func (o *Orchestrator) refresh(ctx context.Context, force bool) (*TokenPair, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := o.flights.DoChan(refreshFlightKey, func() (interface{}, error) {
		return o.doRefresh(flightCtx, force)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			o.logger.Debug().Msg("Joined in-flight token refresh")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TokenPair), nil
	}
}

func (o *Orchestrator) doRefresh(ctx context.Context, force bool) (*TokenPair, error) {
	// Re-read inside the flight: a previous flight may already have refreshed
	pair, err := o.store.LoadToken(ctx)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, ErrNotAuthenticated
	}
	if !force && !pair.NeedsRefresh(o.now(), RefreshBuffer) {
		return pair, nil
	}
	if !pair.HasRefreshToken() {
		return nil, ErrTokenExpired
	}

	creds, err := o.refreshCredentials(ctx)
	if err != nil {
		return nil, err
	}

	o.refreshing.Store(true)
	defer o.refreshing.Store(false)

	// An empty access token forces the source to hit the token endpoint
	src := o.oauthConfig(creds).TokenSource(o.httpContext(ctx), &oauth2.Token{RefreshToken: pair.RefreshToken})
	token, err := src.Token()
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.ErrorCode == "invalid_grant" {
			o.observer.TokenRefreshed("invalid_grant")
			o.logger.Warn().Str("description", rErr.ErrorDescription).
				Msg("Refresh token rejected, clearing stored tokens")
			if err := o.store.SaveRevokedAt(ctx, o.now()); err != nil {
				o.logger.Warn().Err(err).Msg("Failed to record token revocation")
			}
			if clearErr := o.store.ClearToken(ctx); clearErr != nil {
				return nil, fmt.Errorf("%w (clearing tokens failed: %v)", ErrRefreshFailed, clearErr)
			}
			return nil, fmt.Errorf("%w: %s", ErrRefreshFailed, rErr.ErrorDescription)
		}
		o.observer.TokenRefreshed("error")
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	refreshed := o.pairFromToken(token, pair)
	if err := o.store.SaveToken(ctx, refreshed); err != nil {
		o.observer.TokenRefreshed("error")
		return nil, err
	}

	if refreshed.NeedsRefresh(o.now(), RefreshBuffer) {
		// Kept so the next call refreshes again, but never handed out
		o.observer.TokenRefreshed("short_lived")
		o.logger.Warn().Time("expires_at", refreshed.ExpiresAt).Msg("Refreshed access token expires within the refresh buffer")
		return nil, fmt.Errorf("%w: refreshed access token expires at %s, within %s",
			ErrTokenExpired, refreshed.ExpiresAt.Format(time.RFC3339), RefreshBuffer)
	}

	o.observer.TokenRefreshed("success")
	o.logger.Info().Time("expires_at", refreshed.ExpiresAt).Msg("Access token refreshed")
	return &refreshed, nil
}

// refreshCredentials prefers the credentials bound at exchange time
func (o *Orchestrator) refreshCredentials(ctx context.Context) (Credentials, error) {
	bound, err := o.store.LoadClient(ctx)
	if err != nil {
		return Credentials{}, err
	}
	if bound != nil && bound.Complete() {
		return *bound, nil
	}
	if o.cfg.Credentials.Complete() {
		return o.cfg.Credentials, nil
	}
	return Credentials{}, fmt.Errorf("%w: no client credentials available for refresh", ErrMissingConfiguration)
}

// pairFromToken converts a token endpoint response. previous supplies the
// refresh token expiry when the response omits it (refresh responses do).
func (o *Orchestrator) pairFromToken(token *oauth2.Token, previous *TokenPair) TokenPair {
	now := o.now()

	expiresAt := token.Expiry
	if token.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	}

	pair := TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt.UTC(),
		TokenType:    token.TokenType,
		IssuedAt:     now.UTC(),
	}

	if secs := extraSeconds(token.Extra("refresh_token_expires_in")); secs > 0 {
		pair.RefreshExpiresAt = now.Add(time.Duration(secs) * time.Second).UTC()
	} else if previous != nil {
		pair.RefreshExpiresAt = previous.RefreshExpiresAt
	}
	if pair.RefreshToken == "" && previous != nil {
		pair.RefreshToken = previous.RefreshToken
	}
	return pair
}

// extraSeconds reads a numeric token response field that may be decoded as
// a JSON number or a string
func extraSeconds(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

// Status reports the connection without refreshing anything
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	pair, err := o.store.LoadToken(ctx)
	if err != nil {
		return Status{}, err
	}

	if pair == nil {
		st := Status{State: StateUnauthenticated}
		if o.authorizing.Load() {
			st.State = StateAuthorizing
		} else if pending, err := o.store.LoadPending(ctx); err != nil {
			return Status{}, err
		} else if pending != nil {
			st.State = StatePendingCredentials
		}
		return st, nil
	}

	now := o.now()
	expiresAt := pair.ExpiresAt
	expired := !now.Before(pair.ExpiresAt)

	st := Status{
		Connected:       !expired || pair.HasRefreshToken(),
		State:           StateAuthenticated,
		ExpiresAt:       &expiresAt,
		NeedsRefresh:    pair.NeedsRefresh(now, RefreshBuffer),
		HasRefreshToken: pair.HasRefreshToken(),
	}
	if o.refreshing.Load() {
		st.State = StateRefreshing
	}
	if !st.Connected {
		st.State = StateUnauthenticated
	}
	return st, nil
}

// CurrentToken returns the stored pair, or nil
func (o *Orchestrator) CurrentToken(ctx context.Context) (*TokenPair, error) {
	return o.store.LoadToken(ctx)
}

// Restore adopts a pair carried by the client (cookie) when nothing is stored,
// e.g. after a restart with the memory backend. Pairs issued before the last
// disconnect or invalid_grant are rejected. It reports whether the pair was
// adopted.
func (o *Orchestrator) Restore(ctx context.Context, pair TokenPair) (bool, error) {
	if pair.AccessToken == "" {
		return false, nil
	}

	current, err := o.store.LoadToken(ctx)
	if err != nil {
		return false, err
	}
	if current != nil {
		return false, nil
	}

	revokedAt, err := o.store.LoadRevokedAt(ctx)
	if err != nil {
		return false, err
	}
	if !revokedAt.IsZero() && !pair.IssuedAt.After(revokedAt) {
		o.logger.Info().Time("issued_at", pair.IssuedAt).Time("revoked_at", revokedAt).
			Msg("Ignoring cookie token pair issued before revocation")
		return false, nil
	}

	if err := o.store.SaveToken(ctx, pair); err != nil {
		return false, err
	}
	o.logger.Info().Time("expires_at", pair.ExpiresAt).Msg("Restored token pair from client cookie")
	return true, nil
}

// Disconnect clears all token state
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.authorizing.Store(false)

	if err := o.store.SaveRevokedAt(ctx, o.now()); err != nil {
		return err
	}
	if err := o.store.ClearToken(ctx); err != nil {
		return err
	}
	if err := o.store.ClearPending(ctx); err != nil {
		return err
	}

	o.logger.Info().Msg("Disconnected, token state cleared")
	return nil
}
