package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/security"
	"github.com/angelmondragon/reviewflow-backend/pkg/square"
)

const squareSignatureHeader = "X-Square-Hmacsha256-Signature"

type squareAPI interface {
	AuthorizeURL(state, redirectURI string) string
	ObtainToken(ctx context.Context, code, redirectURI string) (*square.TokenSet, error)
	RevokeToken(ctx context.Context, accessToken string) error
	ListLocations(ctx context.Context, accessToken string) ([]*sq.Location, error)
	GetBuyer(ctx context.Context, accessToken, customerID string) (square.Buyer, error)
}

// SquareAdapter links sellers through Square OAuth and consumes payment webhooks.
type SquareAdapter struct {
	client          squareAPI
	redirectURL     string
	notificationURL string
	signatureKey    string
}

func NewSquareAdapter(client squareAPI, redirectURL, notificationURL, signatureKey string) *SquareAdapter {
	return &SquareAdapter{
		client:          client,
		redirectURL:     redirectURL,
		notificationURL: notificationURL,
		signatureKey:    signatureKey,
	}
}

func (a *SquareAdapter) Provider() enums.Provider { return enums.ProviderSquare }
func (a *SquareAdapter) Kind() enums.ProviderKind { return enums.ProviderKindOAuth }

func (a *SquareAdapter) AuthorizationURL(state, _ string) (string, error) {
	return a.client.AuthorizeURL(state, a.redirectURL), nil
}

// ExchangeCode trades the code for a seller token. Square tokens are treated
// as non-expiring so no expiry is recorded and no refresh is scheduled.
func (a *SquareAdapter) ExchangeCode(ctx context.Context, params CallbackParams) (*TokenSet, error) {
	set, err := a.client.ObtainToken(ctx, params.Code, a.redirectURL)
	if err != nil {
		return nil, err
	}
	if set.MerchantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square token response missing merchant id")
	}
	return &TokenSet{
		AccessToken:        set.AccessToken,
		RefreshToken:       set.RefreshToken,
		ProviderMerchantID: set.MerchantID,
	}, nil
}

func (a *SquareAdapter) Revoke(ctx context.Context, creds Credentials) error {
	return a.client.RevokeToken(ctx, creds.AccessToken)
}

// AuthenticateApp verifies base64(HMAC-SHA256(key, notificationURL + body)).
func (a *SquareAdapter) AuthenticateApp(r *http.Request, body []byte) bool {
	if a.signatureKey == "" || a.notificationURL == "" {
		return false
	}
	message := make([]byte, 0, len(a.notificationURL)+len(body))
	message = append(message, a.notificationURL...)
	message = append(message, body...)
	return security.VerifyHMACBase64(a.signatureKey, message, r.Header.Get(squareSignatureHeader))
}

func (a *SquareAdapter) ParseEvents(_ *http.Request, body []byte) ([]Event, error) {
	evt, err := square.ParseEvent(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid square event")
	}
	return []Event{{
		ID:        evt.EventID,
		AccountID: evt.MerchantID,
		Type:      evt.Type,
		Payload:   evt,
	}}, nil
}

func (a *SquareAdapter) Normalize(ctx context.Context, creds Credentials, event Event) (*Purchase, error) {
	evt, ok := event.Payload.(*square.Event)
	if !ok {
		return nil, fmt.Errorf("unexpected square payload %T", event.Payload)
	}
	payment := evt.CompletedPayment()
	if payment == nil {
		return nil, nil
	}

	buyer, err := a.client.GetBuyer(ctx, creds.AccessToken, deref(payment.GetCustomerID()))
	if err != nil {
		return nil, err
	}
	minor, currency := square.PaymentAmount(payment)

	// payment.updated repeats for the same payment; key on the payment id.
	eventID := deref(payment.GetID())
	if eventID == "" {
		eventID = event.ID
	}
	return &Purchase{
		EventID:            eventID,
		CustomerName:       buyer.Name,
		CustomerPhone:      buyer.Phone,
		Amount:             decimal.New(minor, -2),
		Currency:           currency,
		LocationExternalID: deref(payment.GetLocationID()),
	}, nil
}

func (a *SquareAdapter) ListLocations(ctx context.Context, creds Credentials) ([]RemoteLocation, error) {
	raw, err := a.client.ListLocations(ctx, creds.AccessToken)
	if err != nil {
		return nil, err
	}
	out := make([]RemoteLocation, 0, len(raw))
	for _, loc := range raw {
		if loc == nil || deref(loc.GetID()) == "" {
			continue
		}
		if status := loc.GetStatus(); status != nil && *status == sq.LocationStatusInactive {
			continue
		}
		out = append(out, RemoteLocation{
			ExternalID: deref(loc.GetID()),
			Name:       deref(loc.GetName()),
			Address:    squareAddress(loc.GetAddress()),
		})
	}
	return out, nil
}

func squareAddress(addr *sq.Address) string {
	if addr == nil {
		return ""
	}
	parts := []string{}
	for _, p := range []*string{
		addr.GetAddressLine1(),
		addr.GetLocality(),
		addr.GetAdministrativeDistrictLevel1(),
		addr.GetPostalCode(),
	} {
		if v := strings.TrimSpace(deref(p)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
