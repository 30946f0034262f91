//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/sandeepkv93/taskmanager-auth/internal/app"
	"github.com/sandeepkv93/taskmanager-auth/internal/config"
)

func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	wire.Build(observabilitySet, storeSet, serviceSet, httpSet)
	return nil, nil, nil
}
