package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/security"
)

// PassthroughAdapter accepts purchases pushed by automation hubs (Zapier) or
// a business's own systems, authenticated with a generated API key.
type PassthroughAdapter struct {
	provider enums.Provider
}

func NewZapierAdapter() *PassthroughAdapter {
	return &PassthroughAdapter{provider: enums.ProviderZapier}
}

func NewCustomWebhookAdapter() *PassthroughAdapter {
	return &PassthroughAdapter{provider: enums.ProviderCustomWebhook}
}

func (a *PassthroughAdapter) Provider() enums.Provider { return a.provider }
func (a *PassthroughAdapter) Kind() enums.ProviderKind { return enums.ProviderKindPassthrough }

func (a *PassthroughAdapter) Connect(_ context.Context, _ KeySubmission) (*KeyConnection, error) {
	return a.Regenerate()
}

// Regenerate issues a new inbound API key; the previous key stops working
// once the new hash is stored.
func (a *PassthroughAdapter) Regenerate() (*KeyConnection, error) {
	key, err := security.GenerateToken("rfk_", 32)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate api key")
	}
	return &KeyConnection{
		InboundKey: key,
		Reveal:     map[string]string{"api_key": key},
	}, nil
}

func (a *PassthroughAdapter) AuthenticateInbound(r *http.Request, _ []byte, secrets InboundSecrets) bool {
	if secrets.KeyHash == "" {
		return false
	}
	presented := strings.TrimSpace(r.Header.Get("X-Api-Key"))
	if presented == "" {
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			presented = strings.TrimSpace(auth[7:])
		}
	}
	if presented == "" {
		return false
	}
	ok, err := security.VerifySecret(presented, secrets.KeyHash)
	return err == nil && ok
}

type passthroughPayload struct {
	EventID        string          `json:"event_id"`
	CustomerName   string          `json:"customer_name"`
	CustomerPhone  string          `json:"customer_phone"`
	PurchaseAmount decimal.Decimal `json:"purchase_amount"`
	Currency       string          `json:"currency"`
	LocationID     string          `json:"location_id"`
}

func (a *PassthroughAdapter) ParseEvents(_ *http.Request, body []byte) ([]Event, error) {
	var payload passthroughPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid purchase payload")
	}
	if strings.TrimSpace(payload.CustomerPhone) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer_phone is required")
	}
	return []Event{{
		ID:      strings.TrimSpace(payload.EventID),
		Type:    "purchase.completed",
		Payload: &payload,
	}}, nil
}

func (a *PassthroughAdapter) Normalize(_ context.Context, _ Credentials, event Event) (*Purchase, error) {
	payload, ok := event.Payload.(*passthroughPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected %s payload %T", a.provider, event.Payload)
	}
	location := strings.TrimSpace(payload.LocationID)
	if location == "" {
		location = DefaultLocationID
	}
	currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
	if currency == "" {
		currency = "USD"
	}
	return &Purchase{
		EventID:            payload.EventID,
		CustomerName:       strings.TrimSpace(payload.CustomerName),
		CustomerPhone:      payload.CustomerPhone,
		Amount:             payload.PurchaseAmount,
		Currency:           currency,
		LocationExternalID: location,
	}, nil
}

func (a *PassthroughAdapter) ListLocations(_ context.Context, _ Credentials) ([]RemoteLocation, error) {
	return []RemoteLocation{{ExternalID: DefaultLocationID, Name: "Default"}}, nil
}
