package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/reviewflow-backend/api/responses"
	"github.com/angelmondragon/reviewflow-backend/api/validators"
	"github.com/angelmondragon/reviewflow-backend/internal/integrations"
	"github.com/angelmondragon/reviewflow-backend/internal/providers"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

// IntegrationService is the business-facing integration lifecycle.
type IntegrationService interface {
	List(ctx context.Context, businessID uuid.UUID) ([]integrations.View, error)
	BeginAuthorization(ctx context.Context, businessID uuid.UUID, provider enums.Provider, shopDomain string) (string, error)
	ConnectWithKeys(ctx context.Context, businessID uuid.UUID, provider enums.Provider, sub providers.KeySubmission) (*integrations.ConnectResult, error)
	RegenerateKey(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*integrations.ConnectResult, error)
	ConfirmConsent(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*integrations.View, error)
	SetTestMode(ctx context.Context, businessID uuid.UUID, provider enums.Provider, enabled bool, testPhone string) (*integrations.View, error)
	Disconnect(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*integrations.View, error)
}

// ListIntegrations returns one entry per provider, connected or not.
func ListIntegrations(svc IntegrationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "integration service")
			return
		}
		businessID, ok := businessFromRequest(w, r, logg)
		if !ok {
			return
		}
		views, err := svc.List(r.Context(), businessID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views)
	}
}

// AuthorizeIntegration returns the provider consent URL, or redirects to it
// when redirect=true.
func AuthorizeIntegration(svc IntegrationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "integration service")
			return
		}
		businessID, provider, ok := businessScope(w, r, logg)
		if !ok {
			return
		}
		shop := validators.SanitizeString(r.URL.Query().Get("shop"), 255)
		authURL, err := svc.BeginAuthorization(r.Context(), businessID, provider, shop)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if r.URL.Query().Get("redirect") == "true" {
			http.Redirect(w, r, authURL, http.StatusFound)
			return
		}
		responses.WriteSuccess(w, map[string]string{"authorization_url": authURL})
	}
}

type connectKeysRequest struct {
	StoreURL       string `json:"store_url" validate:"omitempty,url,max=255"`
	ConsumerKey    string `json:"consumer_key" validate:"omitempty,max=255"`
	ConsumerSecret string `json:"consumer_secret" validate:"omitempty,max=255"`
	SigningSecret  string `json:"signing_secret" validate:"omitempty,max=255"`
}

// ConnectIntegrationKeys links a key or pass-through provider. Generated
// secrets appear in the response once.
func ConnectIntegrationKeys(svc IntegrationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "integration service")
			return
		}
		businessID, provider, ok := businessScope(w, r, logg)
		if !ok {
			return
		}
		var body connectKeysRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// Length is enforced by the validate tags; credentials are never cut.
		result, err := svc.ConnectWithKeys(r.Context(), businessID, provider, providers.KeySubmission{
			StoreURL:       strings.TrimSpace(body.StoreURL),
			ConsumerKey:    strings.TrimSpace(body.ConsumerKey),
			ConsumerSecret: strings.TrimSpace(body.ConsumerSecret),
			SigningSecret:  strings.TrimSpace(body.SigningSecret),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// RegenerateIntegrationKey issues a new inbound key and invalidates the old one.
func RegenerateIntegrationKey(svc IntegrationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "integration service")
			return
		}
		businessID, provider, ok := businessScope(w, r, logg)
		if !ok {
			return
		}
		result, err := svc.RegenerateKey(r.Context(), businessID, provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccess(w, result)
	}
}

// ConfirmIntegrationConsent records the business's consent attestation.
func ConfirmIntegrationConsent(svc IntegrationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "integration service")
			return
		}
		businessID, provider, ok := businessScope(w, r, logg)
		if !ok {
			return
		}
		view, err := svc.ConfirmConsent(r.Context(), businessID, provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

type testModeRequest struct {
	Enabled   *bool  `json:"enabled" validate:"required"`
	TestPhone string `json:"test_phone" validate:"max=32"`
}

// SetIntegrationTestMode toggles test mode and its recipient.
func SetIntegrationTestMode(svc IntegrationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "integration service")
			return
		}
		businessID, provider, ok := businessScope(w, r, logg)
		if !ok {
			return
		}
		var body testModeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.SetTestMode(r.Context(), businessID, provider, *body.Enabled, validators.SanitizeString(body.TestPhone, 32))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// DisconnectIntegration revokes the integration. Its ledger rows remain.
func DisconnectIntegration(svc IntegrationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "integration service")
			return
		}
		businessID, provider, ok := businessScope(w, r, logg)
		if !ok {
			return
		}
		view, err := svc.Disconnect(r.Context(), businessID, provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessMessage(w, http.StatusOK, "integration disconnected", view)
	}
}
