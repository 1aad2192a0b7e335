//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"github.com/yitech/candlerelay/app"
)

// InitializeApp builds the relay process. The returned cleanup releases the
// history cache connection.
func InitializeApp(ctx context.Context, path app.ConfigPath) (*app.App, func(), error) {
	wire.Build(app.ProviderSet)
	return nil, nil, nil
}
