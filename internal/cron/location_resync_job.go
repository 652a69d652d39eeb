package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/reviewflow-backend/internal/locations"
	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

type activeLister interface {
	ListActive(ctx context.Context, after uuid.UUID, limit int) ([]models.Integration, error)
}

type locationSyncer interface {
	SyncIntegration(ctx context.Context, integ *models.Integration) (*locations.SyncResult, error)
}

// LocationResyncJobParams configures the location re-sync.
type LocationResyncJobParams struct {
	Logger       *logger.Logger
	Integrations activeLister
	Syncer       locationSyncer
	BatchSize    int
}

// NewLocationResyncJob reconciles every active integration's locations with
// its provider.
func NewLocationResyncJob(params LocationResyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Integrations == nil {
		return nil, fmt.Errorf("integration repository required")
	}
	if params.Syncer == nil {
		return nil, fmt.Errorf("location syncer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &locationResyncJob{
		logg:         params.Logger,
		integrations: params.Integrations,
		syncer:       params.Syncer,
		batch:        batch,
	}, nil
}

type locationResyncJob struct {
	logg         *logger.Logger
	integrations activeLister
	syncer       locationSyncer
	batch        int
}

func (j *locationResyncJob) Name() string { return "location-resync" }

func (j *locationResyncJob) Run(ctx context.Context) error {
	var (
		errs    error
		after   uuid.UUID
		total   locations.SyncResult
		synced  int
		skipped int
	)
	for {
		page, err := j.integrations.ListActive(ctx, after, j.batch)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list active integrations: %w", err))
		}
		for i := range page {
			integ := &page[i]
			integCtx := j.logg.WithIntegration(ctx, string(integ.Provider), integ.ID.String())
			res, err := j.syncer.SyncIntegration(integCtx, integ)
			if err != nil {
				if pkgerrors.IsCode(err, pkgerrors.CodeReconnectRequired) {
					skipped++
					continue
				}
				errs = multierr.Append(errs, fmt.Errorf("sync %s: %w", integ.ID, err))
				continue
			}
			synced++
			total.Created += res.Created
			total.Updated += res.Updated
			total.Deleted += res.Deleted
		}
		if len(page) < j.batch {
			break
		}
		after = page[len(page)-1].ID
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"synced":  synced,
		"skipped": skipped,
		"created": total.Created,
		"updated": total.Updated,
		"deleted": total.Deleted,
	})
	j.logg.Info(logCtx, "location resync complete")
	return errs
}
