package middleware

import (
	"crypto/subtle"
	"net/http"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

const (
	apiKeyHeaderName = "X-API-Key"
	apiKeyQueryParam = "x-api-key"
)

// APIKeyAuthMiddleware guards the control endpoints with server.admin_api_key.
// The key is accepted from the X-API-Key header or the x-api-key query parameter.
// When no key is configured the endpoints are disabled.
func APIKeyAuthMiddleware(cfgProvider config.Provider, logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(apiKeyHeaderName)
			if apiKey == "" {
				apiKey = r.URL.Query().Get(apiKeyQueryParam)
			}

			expected := cfgProvider.Get().Server.AdminAPIKey
			if expected == "" {
				logger.Warn(r.Context(), "Control endpoint disabled: admin API key not configured", "path", r.URL.Path)
				domain.NewErrorResponse(domain.ErrCodeUnavailable, "Control endpoints are disabled", "Set server.admin_api_key to enable them.").WriteJSON(w, http.StatusServiceUnavailable)
				return
			}

			if apiKey == "" {
				logger.Warn(r.Context(), "API key authentication failed: Key missing", "path", r.URL.Path)
				domain.NewErrorResponse(domain.ErrCodeInvalidAPIKey, "API key is required", "Provide API key in X-API-Key header or x-api-key query parameter.").WriteJSON(w, http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(expected)) != 1 {
				logger.Warn(r.Context(), "API key authentication failed: Invalid key", "path", r.URL.Path)
				domain.NewErrorResponse(domain.ErrCodeInvalidAPIKey, "Invalid API key", "The provided API key is not valid.").WriteJSON(w, http.StatusUnauthorized)
				return
			}

			logger.Debug(r.Context(), "API key authentication successful", "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}
