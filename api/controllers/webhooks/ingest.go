package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/reviewflow-backend/api/responses"
	"github.com/angelmondragon/reviewflow-backend/internal/ingestion"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

const maxPayloadBytes = 1 << 20

// Gateway processes one authenticated provider delivery.
type Gateway interface {
	Handle(ctx context.Context, d ingestion.Delivery) (*ingestion.Summary, error)
}

// ProviderWebhook receives deliveries on both the app-level route and the
// per-integration token route. The raw body is read once and handed to the
// gateway unchanged so signatures can be verified over it.
func ProviderWebhook(gateway Gateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if gateway == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ingestion gateway unavailable"))
			return
		}

		provider, err := enums.ParseProvider(chi.URLParam(r, "provider"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown webhook"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		summary, err := gateway.Handle(ctx, ingestion.Delivery{
			Provider: provider,
			Token:    chi.URLParam(r, "token"),
			Request:  r,
			Body:     payload,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
