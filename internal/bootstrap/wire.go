//go:build wireinject
// +build wireinject

//go:generate wire

package bootstrap

import (
	"context"

	"github.com/google/wire"
)

// InitializeApp creates and initializes a new application instance with all its dependencies.
// The cleanup function closes the connections opened by the providers and syncs the logger.
func InitializeApp(ctx context.Context) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
