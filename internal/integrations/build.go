package integrations

import (
	"fmt"

	"github.com/angelmondragon/reviewflow-backend/internal/locations"
	"github.com/angelmondragon/reviewflow-backend/internal/providers"
	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	"github.com/angelmondragon/reviewflow-backend/pkg/db"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/redis"
	"github.com/angelmondragon/reviewflow-backend/pkg/vault"
)

// NewFromConfig wires the integration service and the location service it
// syncs into. Both binaries share this wiring.
func NewFromConfig(cfg *config.Config, database *db.Client, rdb *redis.Client, logg *logger.Logger) (*Service, *locations.Service, *Repository, error) {
	registry, err := providers.NewFromConfig(cfg, logg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("provider registry: %w", err)
	}
	credentials, err := vault.New(cfg.Vault.Key, cfg.Vault.Context, logg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("credential vault: %w", err)
	}
	state, err := providers.NewStateIssuer(rdb, cfg.Providers.StateTTL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("oauth state issuer: %w", err)
	}

	repo := NewRepository(database.DB())
	locationService, err := locations.NewService(locations.ServiceParams{
		DB:           database,
		Repo:         locations.NewRepository(database.DB()),
		Integrations: repo,
		Logger:       logg,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("location service: %w", err)
	}

	service, err := NewService(ServiceParams{
		Repo:        repo,
		Registry:    registry,
		StateIssuer: state,
		Vault:       credentials,
		Locks:       rdb,
		Locations:   locationService,
		App:         cfg.App,
		Providers:   cfg.Providers,
		Password:    cfg.Password,
		Dispatch:    cfg.Dispatch,
		Logger:      logg,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("integration service: %w", err)
	}
	return service, locationService, repo, nil
}
