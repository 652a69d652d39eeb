package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/reviewflow-backend/api/responses"
	"github.com/angelmondragon/reviewflow-backend/api/validators"
	"github.com/angelmondragon/reviewflow-backend/internal/locations"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

type LocationService interface {
	List(ctx context.Context, businessID uuid.UUID, provider enums.Provider) ([]locations.View, error)
	Enable(ctx context.Context, businessID uuid.UUID, provider enums.Provider, externalIDs []string) (*locations.EnableResult, error)
}

type LocationSyncer interface {
	SyncLocations(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*locations.SyncResult, error)
}

func ListLocations(svc LocationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "location service")
			return
		}
		businessID, provider, ok := businessScope(w, r, logg)
		if !ok {
			return
		}
		views, err := svc.List(r.Context(), businessID, provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views)
	}
}

// SyncLocations refetches the provider's locations for the integration.
func SyncLocations(svc LocationSyncer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "integration service")
			return
		}
		businessID, provider, ok := businessScope(w, r, logg)
		if !ok {
			return
		}
		result, err := svc.SyncLocations(r.Context(), businessID, provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type enableLocationsRequest struct {
	ExternalLocationIDs []string `json:"external_location_ids" validate:"max=500,dive,min=1,max=255"`
}

// SetEnabledLocations replaces the enabled set. Ids the integration does not
// own are ignored.
func SetEnabledLocations(svc LocationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "location service")
			return
		}
		businessID, provider, ok := businessScope(w, r, logg)
		if !ok {
			return
		}
		var body enableLocationsRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Enable(r.Context(), businessID, provider, body.ExternalLocationIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
