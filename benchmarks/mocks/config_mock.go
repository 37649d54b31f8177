package mocks

import (
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
)

// MockConfigProvider implements config.Provider for benchmarking
type MockConfigProvider struct {
	config *config.Config
}

// NewMockConfigProvider returns the defaults pointed at backendURL, with quiet
// logging, no keepalive pings and notifications off.
func NewMockConfigProvider(backendURL, token string) *MockConfigProvider {
	cfg := config.Defaults()
	cfg.Messaging.URL = backendURL
	cfg.Messaging.PingIntervalSeconds = 0
	cfg.Messaging.PollWaitSeconds = 1
	cfg.Auth.Token = token
	cfg.Notifications.Enabled = false
	cfg.Log.Level = "error" // Minimize I/O overhead during benchmarks
	return &MockConfigProvider{config: cfg}
}

// Get implements config.Provider.
func (m *MockConfigProvider) Get() *config.Config {
	return m.config
}
