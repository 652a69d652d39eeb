package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/reviewflow-backend/api/responses"
	"github.com/angelmondragon/reviewflow-backend/api/validators"
	"github.com/angelmondragon/reviewflow-backend/internal/ledger"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/pagination"
)

type TransactionLister interface {
	List(ctx context.Context, businessID uuid.UUID, input ledger.ListInput) (*ledger.ListResult, error)
}

// ListTransactions pages the business's ledger newest first. Phones are masked.
func ListTransactions(svc TransactionLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "ledger service")
			return
		}
		businessID, ok := businessFromRequest(w, r, logg)
		if !ok {
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.OptionalDispatchStatusQuery(r, "status")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		provider, err := validators.OptionalProviderQuery(r, "provider")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), businessID, ledger.ListInput{
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
			Status:   status,
			Provider: provider,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
