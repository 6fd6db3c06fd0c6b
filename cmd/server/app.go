package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/julienbonastre/ebay-listing-publisher/internal/aspects"
	"github.com/julienbonastre/ebay-listing-publisher/internal/auth"
	"github.com/julienbonastre/ebay-listing-publisher/internal/cache"
	"github.com/julienbonastre/ebay-listing-publisher/internal/config"
	"github.com/julienbonastre/ebay-listing-publisher/internal/database"
	"github.com/julienbonastre/ebay-listing-publisher/internal/ebay"
	"github.com/julienbonastre/ebay-listing-publisher/internal/logging"
	"github.com/julienbonastre/ebay-listing-publisher/internal/metrics"
	"github.com/julienbonastre/ebay-listing-publisher/internal/publisher"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// app holds the wired components shared by all commands
type app struct {
	cfg    config.Config
	logger zerolog.Logger

	db    *database.DB
	redis *redis.Client

	cipher       *auth.Cipher
	store        *auth.SealedStore
	orchestrator *auth.Orchestrator
	appTokens    *auth.ApplicationTokenProvider
	client       *ebay.Client
	history      *database.HistoryRecorder
	publisher    *publisher.Publisher
	metrics      *metrics.Metrics
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Pretty)
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	key, err := auth.KeyFromBase64(cfg.Ebay.EncryptionKey)
	if err != nil {
		if cfg.App.Production() {
			return nil, err
		}
		// Stored and cookie tokens will not survive a restart with this key
		logger.Warn().Err(err).Msg("Using a random token encryption key")
		key = securecookie.GenerateRandomKey(auth.KeySize)
	}
	if a.cipher, err = auth.NewCipher(key); err != nil {
		return nil, err
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = auth.NewStore(backend, a.cipher, logger)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	endpoints := ebay.EndpointsFor(cfg.Ebay.Sandbox())
	creds := auth.Credentials{ClientID: cfg.Ebay.ClientID, ClientSecret: cfg.Ebay.ClientSecret}
	authOpts := []auth.Option{
		auth.WithHTTPClient(httpClient),
		auth.WithLogger(logger),
		auth.WithObserver(a.metrics),
	}

	a.orchestrator = auth.NewOrchestrator(auth.OrchestratorConfig{
		Credentials: creds,
		RuName:      cfg.Ebay.RuName,
		Endpoint:    oauth2.Endpoint{AuthURL: endpoints.AuthURL, TokenURL: endpoints.TokenURL},
	}, a.store, authOpts...)
	a.appTokens = auth.NewApplicationTokenProvider(creds, endpoints.TokenURL, authOpts...)

	a.client = ebay.NewClient(ebay.Config{
		BaseURL:       endpoints.APIBaseURL,
		MarketplaceID: cfg.Ebay.MarketplaceID,
	},
		ebay.WithHTTPClient(httpClient),
		ebay.WithUserTokens(a.orchestrator),
		ebay.WithApplicationTokens(a.appTokens),
	)

	resolver := aspects.NewResolver(a.client, cfg.Ebay.CategoryTreeID, nil, logger)
	pubOpts := []publisher.Option{
		publisher.WithObserver(a.metrics),
		publisher.WithLogger(logger),
	}
	if a.db != nil {
		a.history = database.NewHistoryRecorder(a.db)
		pubOpts = append(pubOpts, publisher.WithRecorder(a.history))
	}
	a.publisher = publisher.New(a.client, resolver, publisher.Settings{
		MarketplaceID:       cfg.Ebay.MarketplaceID,
		Currency:            cfg.Ebay.Currency,
		FulfillmentPolicyID: cfg.Ebay.FulfillmentPolicyID,
		PaymentPolicyID:     cfg.Ebay.PaymentPolicyID,
		ReturnPolicyID:      cfg.Ebay.ReturnPolicyID,
		MerchantLocationKey: cfg.Ebay.MerchantLocationKey,
	}, pubOpts...)

	logger.Info().
		Bool("sandbox", cfg.Ebay.Sandbox()).
		Str("marketplace", cfg.Ebay.MarketplaceID).
		Str("token_store", cfg.Storage.Backend).
		Msg("Application initialized")

	if cfg.Ebay.ClientID == "" {
		logger.Warn().Msg("EBAY_CLIENT_ID not set - credentials must be submitted before connecting")
	}
	return a, nil
}

func (a *app) openBackend(ctx context.Context) (auth.Backend, error) {
	switch a.cfg.Storage.Backend {
	case "redis":
		client, err := cache.NewClient(ctx, a.cfg.Storage.RedisAddr, a.cfg.Storage.RedisPassword, a.cfg.Storage.RedisDB)
		if err != nil {
			return nil, err
		}
		a.redis = client
		return cache.NewRedisBackend(client, cache.DefaultPrefix), nil
	case "memory":
		a.logger.Warn().Msg("Memory token store: pending credentials and tokens are lost on restart")
		return auth.NewMemoryBackend(), nil
	}

	db, err := database.Open(a.cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	return database.NewTokenBackend(db), nil
}

// sessionStore keeps the OAuth state in SQLite when available, otherwise in
// a signed cookie
func (a *app) sessionStore() (sessions.Store, *database.StateStore) {
	key := []byte(a.cfg.App.SessionKey)
	if len(key) == 0 {
		a.logger.Warn().Msg("SESSION_KEY not set - using a random key, pending authorizations will not survive restart")
		key = securecookie.GenerateRandomKey(32)
	}

	opts := &sessions.Options{
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   a.cfg.App.Production(),
		SameSite: http.SameSiteLaxMode,
	}

	if a.db != nil {
		store := database.NewStateStore(a.db, key)
		store.SetOptions(opts)
		return store, store
	}

	store := sessions.NewCookieStore(key)
	store.Options = opts
	return store, nil
}

// Close releases the storage connections
func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
}
