package handlers

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires all routes. Cross-origin requests are only allowed for
// allowedOrigins; credentials (the token cookie) are allowed unless the list
// is the "*" wildcard, which browsers refuse to combine with credentials.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Language"},
			AllowCredentials: !slices.Contains(allowedOrigins, "*"),
			MaxAge:           300,
		}))
	}

	r.Get("/health", h.HealthCheck)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/start", h.StartAuthorization)
		r.Get("/callback", h.OAuthCallback)
		r.Post("/credentials", h.SubmitCredentials)
		r.With(h.restoreFromCookie).Post("/refresh", h.RefreshToken)
		r.Get("/status", h.AuthStatus)
		r.Post("/disconnect", h.Disconnect)
	})

	// Routes that spend the user token may adopt it from the cookie
	r.Group(func(r chi.Router) {
		r.Use(h.restoreFromCookie)

		r.Put("/inventory/{sku}", h.PutInventoryItem)
		r.Get("/offer", h.ListOffers)
		r.Post("/offer", h.CreateOffer)
		r.Get("/offers/{sku}", h.GetOffersForSKU)
		r.Put("/offer/{offerID}", h.UpdateOffer)
		r.Delete("/offer/{offerID}", h.DeleteOffer)
		r.Post("/offer/{offerID}/publish", h.PublishOffer)
		r.Post("/listings/publish", h.PublishListings)
	})

	r.Get("/listings/history", h.GetHistory)

	r.Get("/price-check", h.PriceCheck)

	return r
}

// requestLogger logs one line per request
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		h.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
