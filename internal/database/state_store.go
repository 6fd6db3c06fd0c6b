package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

// StateValue is the session key holding the OAuth state parameter
const StateValue = "state"

// MaxStateAge bounds how long a started authorization may take
const MaxStateAge = 10 * time.Minute

// StateStore is a sessions.Store for the OAuth state parameter. The cookie
// carries a signed handle; the state lives in oauth_states until the callback
// consumes it or it expires. Other session values are not persisted.
type StateStore struct {
	db      *DB
	codecs  []securecookie.Codec
	options sessions.Options
	now     func() time.Time
}

// NewStateStore creates a state store on db
func NewStateStore(db *DB, keyPairs ...[]byte) *StateStore {
	return &StateStore{
		db:     db,
		codecs: securecookie.CodecsFromPairs(keyPairs...),
		options: sessions.Options{
			Path:     "/",
			MaxAge:   int(MaxStateAge / time.Second),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
		now: time.Now,
	}
}

// SetOptions sets the cookie options of new sessions
func (s *StateStore) SetOptions(options *sessions.Options) {
	s.options = *options
}

// Get returns the session for name, cached per request
func (s *StateStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New returns the pending authorization of the request, or an empty session.
// An undecodable cookie yields an empty session and the decode error.
func (s *StateStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := s.options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}

	var handle string
	if err := securecookie.DecodeMulti(name, c.Value, &handle, s.codecs...); err != nil {
		return session, err
	}

	state, err := s.lookup(r.Context(), handle)
	if err != nil || state == "" {
		return session, err
	}

	session.ID = handle
	session.Values[StateValue] = state
	session.IsNew = false
	return session, nil
}

// Save stores the state and sets the handle cookie. A negative MaxAge or a
// session without state removes the row and expires the cookie.
func (s *StateStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	state, _ := session.Values[StateValue].(string)
	if session.Options.MaxAge < 0 || state == "" {
		if session.ID != "" {
			if _, err := s.db.ExecContext(r.Context(), `DELETE FROM oauth_states WHERE handle = ?`, session.ID); err != nil {
				return fmt.Errorf("failed to delete oauth state: %w", err)
			}
		}
		opts := *session.Options
		opts.MaxAge = -1
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", &opts))
		return nil
	}

	if session.ID == "" {
		handle, err := newHandle()
		if err != nil {
			return err
		}
		session.ID = handle
	}

	expiresAt := s.now().UTC().Add(stateTTL(session.Options.MaxAge))
	_, err := s.db.ExecContext(r.Context(), `
		INSERT INTO oauth_states (handle, state, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			state = excluded.state,
			expires_at = excluded.expires_at
	`, session.ID, state, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return err
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// PurgeExpired removes abandoned authorizations and reports how many
func (s *StateStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= ?`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// lookup returns the unexpired state for handle, "" when there is none
func (s *StateStore) lookup(ctx context.Context, handle string) (string, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM oauth_states
		WHERE handle = ? AND expires_at > ?
	`, handle, s.now().UTC()).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return state, err
}

// stateTTL is the cookie MaxAge capped at MaxStateAge; zero (a browser
// session cookie) also gets the cap
func stateTTL(maxAge int) time.Duration {
	ttl := time.Duration(maxAge) * time.Second
	if ttl <= 0 || ttl > MaxStateAge {
		return MaxStateAge
	}
	return ttl
}

func newHandle() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state handle: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
