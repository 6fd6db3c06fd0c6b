package auth

import (
	"time"
)

// RefreshBuffer is the minimum remaining lifetime of any access token handed
// to callers. Tokens closer to expiry are refreshed first.
const RefreshBuffer = 5 * time.Minute

// TokenPair is the user's OAuth token set. It is replaced wholesale on refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	TokenType        string    `json:"tokenType"`
	IssuedAt         time.Time `json:"issuedAt"`
}

// NeedsRefresh reports whether the access token expires within buffer of now
func (p *TokenPair) NeedsRefresh(now time.Time, buffer time.Duration) bool {
	return !now.Before(p.ExpiresAt.Add(-buffer))
}

// HasRefreshToken reports whether the pair can be refreshed
func (p *TokenPair) HasRefreshToken() bool {
	return p.RefreshToken != ""
}

// Credentials identifies the marketplace application
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Complete reports whether both id and secret are set
func (c Credentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// PendingCredentials are submitted before authorization and consumed by the
// authorization-code exchange
type PendingCredentials struct {
	Credentials
	SubmittedAt time.Time `json:"submittedAt"`
}

// ApplicationToken is a client-credentials token for anonymous reads.
// It never carries a refresh token.
type ApplicationToken struct {
	AccessToken  string    `json:"accessToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	ScopeOwnerID string    `json:"scopeOwnerId"` // client id the token was issued to
}

// State is the connection state of the authorization flow
type State string

// Connection states
const (
	StateUnauthenticated    State = "UNAUTHENTICATED"
	StatePendingCredentials State = "PENDING_CREDENTIALS"
	StateAuthorizing        State = "AUTHORIZING"
	StateAuthenticated      State = "AUTHENTICATED"
	StateRefreshing         State = "REFRESHING"
)

// Status is a read-only snapshot of the connection
type Status struct {
	Connected       bool       `json:"connected"`
	State           State      `json:"state"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	NeedsRefresh    bool       `json:"needsRefresh"`
	HasRefreshToken bool       `json:"hasRefreshToken"`
}

// AuthorizationResult carries the query parameters of the marketplace callback
type AuthorizationResult struct {
	Code             string
	Error            string
	ErrorDescription string
}
