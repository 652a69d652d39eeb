package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/reviewflow-backend/api/middleware"
	"github.com/angelmondragon/reviewflow-backend/api/responses"
	"github.com/angelmondragon/reviewflow-backend/api/validators"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

// businessScope resolves the caller's business and the {provider} segment,
// writing the error response itself when either is missing.
func businessScope(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, enums.Provider, bool) {
	businessID, ok := businessFromRequest(w, r, logg)
	if !ok {
		return uuid.Nil, "", false
	}
	provider, err := validators.ProviderParam(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, "", false
	}
	return businessID, provider, true
}

func businessFromRequest(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	businessID, ok := middleware.BusinessIDFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "business context missing"))
		return uuid.Nil, false
	}
	return businessID, true
}

func serviceUnavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger, name string) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, name+" unavailable"))
}
