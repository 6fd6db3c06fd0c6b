package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store keys
const (
	KeyUserToken          = "user_token"
	KeyPendingCredentials = "pending_credentials"
	KeyClientCredentials  = "client_credentials"
	KeyRevokedAt          = "revoked_at"
)

// Backend is a keyed byte store. Get returns (nil, nil) for missing keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// TokenStore holds the user token pair, credentials submitted before
// authorization, and the client credentials bound to the current pair.
// Load methods return (nil, nil) when nothing is stored.
type TokenStore interface {
	LoadToken(ctx context.Context) (*TokenPair, error)
	SaveToken(ctx context.Context, pair TokenPair) error
	ClearToken(ctx context.Context) error

	LoadPending(ctx context.Context) (*PendingCredentials, error)
	SavePending(ctx context.Context, pending PendingCredentials) error
	ClearPending(ctx context.Context) error

	LoadClient(ctx context.Context) (*Credentials, error)
	SaveClient(ctx context.Context, creds Credentials) error

	// LoadRevokedAt returns when the last pair was revoked (disconnect or
	// invalid_grant), zero if never
	LoadRevokedAt(ctx context.Context) (time.Time, error)
	SaveRevokedAt(ctx context.Context, at time.Time) error
}

// SealedStore implements TokenStore over a Backend, sealing every value
// with the Cipher before it is written
type SealedStore struct {
	backend Backend
	cipher  *Cipher
	logger  zerolog.Logger
}

// NewStore creates a TokenStore over backend
func NewStore(backend Backend, cipher *Cipher, logger zerolog.Logger) *SealedStore {
	return &SealedStore{
		backend: backend,
		cipher:  cipher,
		logger:  logger.With().Str("component", "token_store").Logger(),
	}
}

func (s *SealedStore) LoadToken(ctx context.Context) (*TokenPair, error) {
	var pair TokenPair
	found, err := s.load(ctx, KeyUserToken, &pair)
	if err != nil || !found {
		return nil, err
	}
	return &pair, nil
}

func (s *SealedStore) SaveToken(ctx context.Context, pair TokenPair) error {
	return s.save(ctx, KeyUserToken, pair)
}

func (s *SealedStore) ClearToken(ctx context.Context) error {
	return s.backend.Delete(ctx, KeyUserToken)
}

func (s *SealedStore) LoadPending(ctx context.Context) (*PendingCredentials, error) {
	var pending PendingCredentials
	found, err := s.load(ctx, KeyPendingCredentials, &pending)
	if err != nil || !found {
		return nil, err
	}
	return &pending, nil
}

func (s *SealedStore) SavePending(ctx context.Context, pending PendingCredentials) error {
	return s.save(ctx, KeyPendingCredentials, pending)
}

func (s *SealedStore) ClearPending(ctx context.Context) error {
	return s.backend.Delete(ctx, KeyPendingCredentials)
}

func (s *SealedStore) LoadClient(ctx context.Context) (*Credentials, error) {
	var creds Credentials
	found, err := s.load(ctx, KeyClientCredentials, &creds)
	if err != nil || !found {
		return nil, err
	}
	return &creds, nil
}

func (s *SealedStore) SaveClient(ctx context.Context, creds Credentials) error {
	return s.save(ctx, KeyClientCredentials, creds)
}

func (s *SealedStore) LoadRevokedAt(ctx context.Context) (time.Time, error) {
	var at time.Time
	if _, err := s.load(ctx, KeyRevokedAt, &at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

func (s *SealedStore) SaveRevokedAt(ctx context.Context, at time.Time) error {
	return s.save(ctx, KeyRevokedAt, at.UTC())
}

func (s *SealedStore) save(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	sealed, err := s.cipher.Seal(data)
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", key, err)
	}

	if err := s.backend.Put(ctx, key, sealed); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// load reports found == false for missing entries and for entries that no
// longer open (e.g. after a key rotation), so those read as "not stored".
func (s *SealedStore) load(ctx context.Context, key string, v interface{}) (bool, error) {
	sealed, err := s.backend.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if sealed == nil {
		return false, nil
	}

	data, err := s.cipher.Open(sealed)
	if err != nil {
		s.logger.Warn().Str("key", key).Msg("Discarding stored value that failed to decrypt")
		return false, nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn().Str("key", key).Err(err).Msg("Discarding stored value that failed to decode")
		return false, nil
	}
	return true, nil
}

// MemoryBackend is a process-local Backend. Contents are lost on restart.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	m.values[key] = v
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}
