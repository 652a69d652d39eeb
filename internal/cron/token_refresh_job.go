package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

const (
	defaultRefreshHorizon = 30 * time.Minute
	defaultBatchSize      = 100
)

type expiringLister interface {
	ListExpiring(ctx context.Context, cutoff time.Time, limit int) ([]models.Integration, error)
}

type tokenRefresher interface {
	RefreshWithin(ctx context.Context, integ *models.Integration, window time.Duration) (*models.Integration, error)
}

// TokenRefreshJobParams configures the token refresh sweep.
type TokenRefreshJobParams struct {
	Logger       *logger.Logger
	Integrations expiringLister
	Refresher    tokenRefresher
	Horizon      time.Duration
	BatchSize    int
}

// NewTokenRefreshJob refreshes access tokens that expire within the horizon
// so webhook handling rarely has to refresh inline.
func NewTokenRefreshJob(params TokenRefreshJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Integrations == nil {
		return nil, fmt.Errorf("integration repository required")
	}
	if params.Refresher == nil {
		return nil, fmt.Errorf("token refresher required")
	}
	horizon := params.Horizon
	if horizon <= 0 {
		horizon = defaultRefreshHorizon
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &tokenRefreshJob{
		logg:         params.Logger,
		integrations: params.Integrations,
		refresher:    params.Refresher,
		horizon:      horizon,
		batch:        batch,
		now:          time.Now,
	}, nil
}

type tokenRefreshJob struct {
	logg         *logger.Logger
	integrations expiringLister
	refresher    tokenRefresher
	horizon      time.Duration
	batch        int
	now          func() time.Time
}

func (j *tokenRefreshJob) Name() string { return "token-refresh" }

// Run refreshes each expiring integration independently. A rejected refresh
// has already marked the integration expired and is counted, not returned;
// outages are collected and returned together.
func (j *tokenRefreshJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(j.horizon)
	candidates, err := j.integrations.ListExpiring(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query expiring integrations: %w", err)
	}

	var errs error
	refreshed, expired := 0, 0
	for i := range candidates {
		integ := &candidates[i]
		integCtx := j.logg.WithIntegration(ctx, string(integ.Provider), integ.ID.String())
		_, err := j.refresher.RefreshWithin(integCtx, integ, j.horizon)
		switch {
		case err == nil:
			refreshed++
		case pkgerrors.IsCode(err, pkgerrors.CodeReconnectRequired):
			expired++
		default:
			errs = multierr.Append(errs, fmt.Errorf("refresh %s: %w", integ.ID, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(candidates),
		"refreshed":  refreshed,
		"expired":    expired,
	})
	j.logg.Info(logCtx, "token refresh sweep complete")
	return errs
}
