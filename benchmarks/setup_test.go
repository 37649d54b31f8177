package benchmarks

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/edumate-realtime/benchmarks/mocks"
	"gitlab.com/timkado/api/edumate-realtime/benchmarks/utils"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/auth"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/logger"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/simulated"
	wsadapter "gitlab.com/timkado/api/edumate-realtime/internal/adapters/websocket"
	"gitlab.com/timkado/api/edumate-realtime/internal/application"
)

const benchUserID = 42

var benchLogger = logger.NewFromZap(zap.NewNop())

// setupLiveManager connects a ConnectionManager over websocket to a fresh MockBackend.
func setupLiveManager(b *testing.B) (*application.ConnectionManager, *utils.MockBackend) {
	b.Helper()
	token, err := utils.GenerateAccessToken(benchUserID)
	if err != nil {
		b.Fatal(err)
	}
	backend := utils.NewMockBackend(token)
	b.Cleanup(backend.Close)

	cfgProvider := mocks.NewMockConfigProvider(backend.URL, token)
	cfg := cfgProvider.Get().Messaging
	authProvider := auth.NewStaticProvider(cfgProvider, benchLogger)
	transport := application.NewLiveTransport(benchLogger, authProvider, wsadapter.NewDialer(benchLogger, cfgProvider),
		application.ReconnectPolicyFromConfig(cfg), cfg.AckTimeout())

	cm := application.NewConnectionManager(benchLogger, cfgProvider, transport, authProvider, nil)
	if err := cm.Connect(context.Background()); err != nil {
		b.Fatalf("connect: %v", err)
	}
	b.Cleanup(cm.Disconnect)
	return cm, backend
}

// setupSimulatedManager returns a connected simulated ConnectionManager and its transport.
func setupSimulatedManager(b *testing.B) (*application.ConnectionManager, *simulated.Transport) {
	b.Helper()
	cfgProvider := mocks.NewMockConfigProvider("http://localhost:0", "")
	transport := simulated.NewTransport(benchLogger, "demo")
	cm := application.NewConnectionManager(benchLogger, cfgProvider, transport, auth.NewStaticProvider(cfgProvider, benchLogger), nil)
	if err := cm.Connect(context.Background()); err != nil {
		b.Fatal(err)
	}
	return cm, transport
}
