package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
)

// DefaultLocationID is the synthetic location for providers without sites.
const DefaultLocationID = "default"

// StripeAdapter consumes a business's own Stripe account events, signed with
// the endpoint secret the business registered.
type StripeAdapter struct{}

func NewStripeAdapter() *StripeAdapter { return &StripeAdapter{} }

func (a *StripeAdapter) Provider() enums.Provider { return enums.ProviderStripe }
func (a *StripeAdapter) Kind() enums.ProviderKind { return enums.ProviderKindPassthrough }

func (a *StripeAdapter) Connect(_ context.Context, sub KeySubmission) (*KeyConnection, error) {
	secret := strings.TrimSpace(sub.SigningSecret)
	if !strings.HasPrefix(secret, "whsec_") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a Stripe webhook signing secret (whsec_...) is required")
	}
	return &KeyConnection{WebhookSecret: secret}, nil
}

func (a *StripeAdapter) AuthenticateInbound(r *http.Request, body []byte, secrets InboundSecrets) bool {
	if secrets.WebhookSecret == "" {
		return false
	}
	_, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), secrets.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	return err == nil
}

func (a *StripeAdapter) ParseEvents(_ *http.Request, body []byte) ([]Event, error) {
	var evt stripe.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe event")
	}
	if evt.Type != stripe.EventTypeChargeSucceeded || evt.Data == nil {
		return []Event{{ID: evt.ID, Type: string(evt.Type)}}, nil
	}

	var charge stripe.Charge
	if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe charge")
	}
	// Charge ids are stable across event redeliveries and retries.
	return []Event{{ID: charge.ID, Type: string(evt.Type), Payload: &charge}}, nil
}

func (a *StripeAdapter) Normalize(_ context.Context, _ Credentials, event Event) (*Purchase, error) {
	if event.Payload == nil {
		return nil, nil
	}
	charge, ok := event.Payload.(*stripe.Charge)
	if !ok {
		return nil, fmt.Errorf("unexpected stripe payload %T", event.Payload)
	}
	if !charge.Paid {
		return nil, nil
	}

	p := &Purchase{
		EventID:            charge.ID,
		Amount:             decimal.New(charge.Amount, -2),
		Currency:           strings.ToUpper(string(charge.Currency)),
		LocationExternalID: DefaultLocationID,
	}
	if charge.BillingDetails != nil {
		p.CustomerName = firstName(charge.BillingDetails.Name)
		p.CustomerPhone = charge.BillingDetails.Phone
	}
	if loc := strings.TrimSpace(charge.Metadata["location_id"]); loc != "" {
		p.LocationExternalID = loc
	}
	return p, nil
}

func (a *StripeAdapter) ListLocations(_ context.Context, _ Credentials) ([]RemoteLocation, error) {
	return []RemoteLocation{{ExternalID: DefaultLocationID, Name: "Stripe account"}}, nil
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
