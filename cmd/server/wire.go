//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"

	"livechat-api/internal/config"
	"livechat-api/internal/domain"
	"livechat-api/internal/interfaces"
)

// ProviderSet is the wire provider set for the application.
var ProviderSet = wire.NewSet(
	// Infrastructure providers
	ProvideServerID,
	ProvideBroker,
	ProvideDatabase,
	ProvideRepository,
	ProvideAuditRecorder,
	ProvideOutbound,
	ProvideNotifier,
	ProvideHubMetrics,
	ProvideSLARecorder,
	ProvideTransitionRecorder,
	ProvideWSHealth,
	ProvideVerifier,
	ProvideReadinessChecks,
	ProvideCrontab,

	// Domain providers
	domain.ServiceProvider,

	// Interface providers
	interfaces.InterfacesProvider,

	// Application
	NewApplication,
)

// CreateApplication creates the application with all dependencies wired.
func CreateApplication(
	ctx context.Context,
	cfg *config.Config,
	log zerolog.Logger,
) (*Application, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
