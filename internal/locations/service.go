package locations

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/reviewflow-backend/internal/providers"
	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

type integrationLookup interface {
	FindByBusinessAndProvider(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*models.Integration, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the location service.
type ServiceParams struct {
	DB           txRunner
	Repo         *Repository
	Integrations integrationLookup
	Logger       *logger.Logger
}

// Service owns the local mirror of provider locations and the enabled set.
type Service struct {
	db           txRunner
	repo         *Repository
	integrations integrationLookup
	logg         *logger.Logger
}

// NewService validates dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db required")
	}
	if params.Repo == nil {
		return nil, errors.New("location repository required")
	}
	if params.Integrations == nil {
		return nil, errors.New("integration lookup required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &Service{
		db:           params.DB,
		repo:         params.Repo,
		integrations: params.Integrations,
		logg:         params.Logger,
	}, nil
}

// View is the business-facing shape of a location.
type View struct {
	ID                 uuid.UUID `json:"id"`
	ExternalLocationID string    `json:"external_location_id"`
	DisplayName        string    `json:"display_name"`
	Address            string    `json:"address"`
	Enabled            bool      `json:"enabled"`
}

// SyncResult counts what a sync changed.
type SyncResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// EnableResult reports the enabled set after a submission.
type EnableResult struct {
	Enabled []string `json:"enabled"`
	Ignored int      `json:"ignored"`
}

// Apply reconciles the stored locations of integrationID with a successful
// provider fetch. Rows are written only when name or address changed, new
// rows start disabled and rows absent from remote are removed.
func (s *Service) Apply(ctx context.Context, integrationID uuid.UUID, remote []providers.RemoteLocation) (*SyncResult, error) {
	result := &SyncResult{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.ListByIntegration(ctx, integrationID)
		if err != nil {
			return err
		}
		byExternal := make(map[string]models.Location, len(existing))
		for _, loc := range existing {
			byExternal[loc.ExternalLocationID] = loc
		}

		seen := make(map[string]struct{}, len(remote))
		for _, rl := range remote {
			externalID := strings.TrimSpace(rl.ExternalID)
			if externalID == "" {
				continue
			}
			if _, dup := seen[externalID]; dup {
				continue
			}
			seen[externalID] = struct{}{}

			name := strings.TrimSpace(rl.Name)
			if name == "" {
				name = externalID
			}
			address := strings.TrimSpace(rl.Address)

			current, ok := byExternal[externalID]
			if !ok {
				created, err := repo.CreateIfAbsent(ctx, &models.Location{
					IntegrationID:      integrationID,
					ExternalLocationID: externalID,
					DisplayName:        name,
					Address:            address,
				})
				if err != nil {
					return err
				}
				if created {
					result.Created++
				} else {
					result.Unchanged++
				}
				continue
			}
			if current.DisplayName == name && current.Address == address {
				result.Unchanged++
				continue
			}
			if err := repo.UpdateDetails(ctx, current.ID, name, address); err != nil {
				return err
			}
			result.Updated++
		}

		var stale []uuid.UUID
		for externalID, loc := range byExternal {
			if _, ok := seen[externalID]; !ok {
				stale = append(stale, loc.ID)
			}
		}
		if err := repo.DeleteByIDs(ctx, stale); err != nil {
			return err
		}
		result.Deleted = len(stale)
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sync locations")
	}
	return result, nil
}

// List returns the locations of the business's integration for provider.
func (s *Service) List(ctx context.Context, businessID uuid.UUID, provider enums.Provider) ([]View, error) {
	integ, err := s.integrations.FindByBusinessAndProvider(ctx, businessID, provider)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByIntegration(ctx, integ.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list locations")
	}
	out := make([]View, 0, len(rows))
	for _, loc := range rows {
		out = append(out, toView(loc))
	}
	return out, nil
}

// Enable sets the enabled locations of the business's integration to the
// submitted external ids. Ids the integration does not own are dropped and
// logged; owned ids left out of the submission are disabled.
func (s *Service) Enable(ctx context.Context, businessID uuid.UUID, provider enums.Provider, externalIDs []string) (*EnableResult, error) {
	integ, err := s.integrations.FindByBusinessAndProvider(ctx, businessID, provider)
	if err != nil {
		return nil, err
	}

	var result EnableResult
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		owned, err := repo.ListByIntegration(ctx, integ.ID)
		if err != nil {
			return err
		}
		ownedIDs := make(map[string]struct{}, len(owned))
		for _, loc := range owned {
			ownedIDs[loc.ExternalLocationID] = struct{}{}
		}

		allowed := make([]string, 0, len(externalIDs))
		picked := make(map[string]struct{}, len(externalIDs))
		for _, raw := range externalIDs {
			id := strings.TrimSpace(raw)
			if _, dup := picked[id]; dup {
				continue
			}
			picked[id] = struct{}{}
			if _, ok := ownedIDs[id]; !ok {
				result.Ignored++
				continue
			}
			allowed = append(allowed, id)
		}
		sort.Strings(allowed)

		if err := repo.SetEnabled(ctx, integ.ID, allowed); err != nil {
			return err
		}
		result.Enabled = allowed
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "enable locations")
	}

	if result.Ignored > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"business_id":      businessID.String(),
			"integration_id":   integ.ID.String(),
			"provider":         string(provider),
			"foreign_id_count": result.Ignored,
		})
		s.logg.Warn(logCtx, "location enable submitted ids outside the integration")
	}
	return &result, nil
}

// Resolve maps a provider location id to the stored location. It returns
// nil without error when the location is unknown.
func (s *Service) Resolve(ctx context.Context, integrationID uuid.UUID, externalID string) (*models.Location, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, nil
	}
	loc, err := s.repo.FindByExternalID(ctx, integrationID, externalID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve location")
	}
	return loc, nil
}

// Get loads a location by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	return s.repo.FindByID(ctx, id)
}

func toView(loc models.Location) View {
	return View{
		ID:                 loc.ID,
		ExternalLocationID: loc.ExternalLocationID,
		DisplayName:        loc.DisplayName,
		Address:            loc.Address,
		Enabled:            loc.Enabled,
	}
}
