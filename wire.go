//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"
)

// InitializeApplication loads the limiters of configPath and builds the HTTP
// router around them. The returned func closes the backend clients.
func InitializeApplication(configPath ConfigPath) (*application, func(), error) {
	wire.Build(
		provideLimiterSet,
		provideRegistry,
		provideMiddlewares,
		provideRouter,
		wire.Struct(new(application), "*"),
	)
	return nil, nil, nil
}
