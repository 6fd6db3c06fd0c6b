package handlers

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienbonastre/ebay-listing-publisher/internal/auth"
)

const (
	tokenCookieName   = "ebay_tokens"
	tokenCookieMaxAge = 30 * 24 * 60 * 60
	oauthSessionName  = "ebay_oauth"
)

var callbackTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .ExpiresAt}}<p>Access token valid until {{.ExpiresAt}}.</p>{{end}}
</body>
</html>
`))

type callbackPage struct {
	Title     string
	Message   string
	ExpiresAt string
}

// StartAuthorization stores a fresh state in the OAuth session and
// redirects to the marketplace consent page
func (h *Handler) StartAuthorization(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	redirect, err := h.orchestrator.BuildAuthorizationRedirect(r.Context(), state)
	if err != nil {
		if errors.Is(err, auth.ErrMissingConfiguration) {
			h.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to build authorization redirect")
		h.errorResponse(w, http.StatusInternalServerError, "failed to start authorization")
		return
	}

	sess, err := h.sessions.Get(r, oauthSessionName)
	if err != nil {
		// A stale or tampered session cookie still yields a usable new session
		h.logger.Debug().Err(err).Msg("Discarding unreadable OAuth session")
	}
	if sess == nil {
		h.errorResponse(w, http.StatusInternalServerError, "failed to start authorization")
		return
	}
	sess.Values["state"] = state
	if err := sess.Save(r, w); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save OAuth session")
		h.errorResponse(w, http.StatusInternalServerError, "failed to start authorization")
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

// OAuthCallback handles the OAuth callback
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result := auth.AuthorizationResult{
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	h.logger.Info().
		Bool("has_code", result.Code != "").
		Str("error", result.Error).
		Msg("OAuth callback received")

	if !h.consumeState(w, r, q.Get("state")) {
		h.renderCallback(w, http.StatusBadRequest, callbackPage{
			Title:   "Connection failed",
			Message: "The authorization response does not belong to this browser session. Start the connection again.",
		})
		return
	}

	pair, err := h.orchestrator.HandleAuthorizationResult(r.Context(), result)
	if err != nil {
		status, message := callbackError(err)
		if status == http.StatusBadGateway {
			h.logger.Error().Err(err).Msg("Token exchange failed")
		} else {
			h.logger.Warn().Err(err).Msg("Authorization rejected")
		}
		h.renderCallback(w, status, callbackPage{Title: "Connection failed", Message: message})
		return
	}

	h.setTokenCookie(w, pair)
	h.renderCallback(w, http.StatusOK, callbackPage{
		Title:     "Connected to eBay",
		Message:   "Authorization complete. You can close this window.",
		ExpiresAt: pair.ExpiresAt.Format(time.RFC1123),
	})
}

// consumeState checks the callback state against the session and removes it
func (h *Handler) consumeState(w http.ResponseWriter, r *http.Request, state string) bool {
	sess, err := h.sessions.Get(r, oauthSessionName)
	if err != nil || sess == nil {
		return false
	}

	expected, _ := sess.Values["state"].(string)
	if expected == "" || state != expected {
		h.logger.Warn().Msg("OAuth state mismatch")
		return false
	}

	delete(sess.Values, "state")
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to delete OAuth session")
	}
	return true
}

func callbackError(err error) (int, string) {
	var authErr *auth.AuthorizationError
	switch {
	case errors.As(err, &authErr):
		return http.StatusBadRequest, authErr.UserMessage()
	case errors.Is(err, auth.ErrNoPendingCredentials):
		return http.StatusBadRequest, "The submitted credentials were lost. Enter them again and reconnect."
	case errors.Is(err, auth.ErrMissingConfiguration):
		return http.StatusBadRequest, "eBay credentials are not configured."
	}
	return http.StatusBadGateway, "eBay could not be reached to complete the connection. Try again."
}

func (h *Handler) renderCallback(w http.ResponseWriter, status int, page callbackPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := callbackTemplate.Execute(w, page); err != nil {
		h.logger.Error().Err(err).Msg("Error rendering callback page")
	}
}

type credentialsRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// SubmitCredentials stores application credentials ahead of authorization
func (h *Handler) SubmitCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.orchestrator.SubmitCredentials(r.Context(), req.ClientID, req.ClientSecret); err != nil {
		if errors.Is(err, auth.ErrMissingConfiguration) {
			h.errorResponse(w, http.StatusBadRequest, "clientId and clientSecret are required")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to store credentials")
		h.errorResponse(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}

	h.jsonResponse(w, http.StatusOK, map[string]interface{}{"success": true})
}

// RefreshToken forces a refresh of the user token
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	pair, err := h.orchestrator.ForceRefresh(r.Context())
	if err != nil {
		if errors.Is(err, auth.ErrRefreshFailed) {
			h.clearTokenCookie(w)
		}
		h.logger.Warn().Err(err).Msg("Forced refresh failed")
		h.jsonResponse(w, http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	h.setTokenCookie(w, pair)
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"expiresAt": pair.ExpiresAt,
	})
}

// AuthStatus returns the connection status
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.orchestrator.Status(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Status lookup failed")
		h.errorResponse(w, http.StatusInternalServerError, "failed to read token state")
		return
	}
	h.jsonResponse(w, http.StatusOK, st)
}

// Disconnect clears the token cookie and all stored token state
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.Disconnect(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to clear token state")
		h.errorResponse(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}

	h.clearTokenCookie(w)
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{"success": true})
}

// restoreFromCookie adopts the cookie's token pair when the store is empty
func (h *Handler) restoreFromCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pair := h.cookiePair(r); pair != nil {
			if _, err := h.orchestrator.Restore(r.Context(), *pair); err != nil {
				h.logger.Warn().Err(err).Msg("Failed to restore token pair from cookie")
			}
		}
		next.ServeHTTP(w, r)
	})
}

// cookiePair returns the token pair carried by the request, or nil when the
// cookie is missing or cannot be revealed
func (h *Handler) cookiePair(r *http.Request) *auth.TokenPair {
	c, err := r.Cookie(tokenCookieName)
	if err != nil {
		return nil
	}

	data, ok := h.cipher.Reveal(c.Value)
	if !ok {
		return nil
	}

	var pair auth.TokenPair
	if err := json.Unmarshal(data, &pair); err != nil || pair.AccessToken == "" {
		return nil
	}
	return &pair
}

func (h *Handler) setTokenCookie(w http.ResponseWriter, pair *auth.TokenPair) {
	data, err := json.Marshal(pair)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode token cookie")
		return
	}

	value, err := h.cipher.Obscure(data)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to seal token cookie")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   tokenCookieMaxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// syncCookie rewrites the token cookie when the stored pair was replaced
// (refresh) during the request
func (h *Handler) syncCookie(w http.ResponseWriter, r *http.Request) {
	current, err := h.orchestrator.CurrentToken(r.Context())
	if err != nil || current == nil {
		return
	}
	if cp := h.cookiePair(r); cp != nil && cp.AccessToken == current.AccessToken {
		return
	}
	h.setTokenCookie(w, current)
}
