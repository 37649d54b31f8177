// Package http serves the daemon's local health, status and control endpoints.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"gitlab.com/timkado/api/edumate-realtime/internal/application"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

// Client is the part of the ConnectionManager the endpoints need.
type Client interface {
	Status() domain.ConnectionStatus
	Listeners() application.ListenerCounts
	Reconnect(ctx context.Context) error
}

// DependencyCheck reports the health of one backing service for /ready.
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// StatusResponse is the body of GET /status and POST /reconnect.
type StatusResponse struct {
	Connection domain.ConnectionStatus    `json:"connection"`
	Listeners  application.ListenerCounts `json:"listeners"`
}

// ReadyResponse is the body of GET /ready.
type ReadyResponse struct {
	Status       string            `json:"status"`
	Messaging    string            `json:"messaging"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// HealthHandler answers liveness probes.
func HealthHandler(logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug(r.Context(), "Health check endpoint hit")
		writeJSON(w, r, logger, http.StatusOK, map[string]string{"status": "OK"})
	}
}

// ReadyHandler reports ready when the client is connected (or simulated) and
// every dependency check passes.
func ReadyHandler(client Client, logger domain.Logger, checks ...DependencyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := client.Status()
		ready := status.Connected || status.Mode == domain.ModeSimulated
		resp := ReadyResponse{Messaging: status.StateName}
		if status.Mode == domain.ModeSimulated {
			resp.Messaging = string(domain.ModeSimulated)
		}

		if len(checks) > 0 {
			resp.Dependencies = make(map[string]string, len(checks))
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			for _, c := range checks {
				if err := c.Check(ctx); err != nil {
					resp.Dependencies[c.Name] = "unavailable"
					ready = false
					logger.Warn(r.Context(), "Readiness check failed", "dependency", c.Name, "error", err.Error())
					continue
				}
				resp.Dependencies[c.Name] = "ok"
			}
		}

		code := http.StatusOK
		resp.Status = "READY"
		if !ready {
			resp.Status = "NOT_READY"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, logger, code, resp)
	}
}

// StatusHandler returns the connection status and listener counts.
func StatusHandler(client Client, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, logger, http.StatusOK, StatusResponse{Connection: client.Status(), Listeners: client.Listeners()})
	}
}

// ReconnectHandler drops the connection and connects again. It waits at most
// timeout for the outcome.
func ReconnectHandler(client Client, logger domain.Logger, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			domain.NewErrorResponse(domain.ErrCodeMethodNotAllowed, "Method not allowed", "Only POST method is allowed.").WriteJSON(w, http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		logger.Info(ctx, "Reconnect requested over HTTP")
		if err := client.Reconnect(ctx); err != nil {
			logger.Warn(ctx, "Reconnect request failed", "error", err.Error())
			domain.NewErrorResponse(domain.ErrCodeConnectFailed, "Reconnect failed", err.Error()).WriteJSON(w, http.StatusBadGateway)
			return
		}
		writeJSON(w, r, logger, http.StatusOK, StatusResponse{Connection: client.Status(), Listeners: client.Listeners()})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, logger domain.Logger, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error(r.Context(), "Failed to encode response", "path", r.URL.Path, "error", err.Error())
	}
}
