package controllers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/angelmondragon/reviewflow-backend/api/responses"
	"github.com/angelmondragon/reviewflow-backend/api/validators"
	"github.com/angelmondragon/reviewflow-backend/internal/integrations"
	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

// AuthorizationCompleter finishes an OAuth redirect.
type AuthorizationCompleter interface {
	CompleteAuthorization(ctx context.Context, provider enums.Provider, in integrations.CallbackInput) (*models.Integration, error)
}

// OAuthCallback handles the provider redirect. The browser is sent back to
// the dashboard with the outcome; without a dashboard URL the outcome is
// written as JSON.
func OAuthCallback(svc AuthorizationCompleter, dashboardURL string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "integration service")
			return
		}
		provider, err := validators.ProviderParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query := r.URL.Query()
		integ, err := svc.CompleteAuthorization(r.Context(), provider, integrations.CallbackInput{
			State:      query.Get("state"),
			Code:       query.Get("code"),
			ShopDomain: query.Get("shop"),
			MerchantID: query.Get("merchant_id"),
			URL:        r.URL,
		})

		if dashboardURL == "" {
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, map[string]any{"provider": provider, "integration_id": integ.ID})
			return
		}

		outcome := map[string]string{"provider": provider.String(), "status": "connected"}
		if err != nil {
			code := pkgerrors.CodeInternal
			if typed := pkgerrors.As(err); typed != nil {
				code = typed.Code()
			}
			if logg != nil {
				ctx := logg.WithFields(r.Context(), map[string]any{"provider": provider.String(), "code": string(code)})
				logg.Warn(ctx, "oauth.callback_failed")
			}
			outcome["status"] = "error"
			outcome["code"] = string(code)
		}
		http.Redirect(w, r, withQuery(dashboardURL, outcome), http.StatusFound)
	}
}

func withQuery(base string, values map[string]string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, v := range values {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
