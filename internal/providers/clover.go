package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/angelmondragon/reviewflow-backend/pkg/clover"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
)

const cloverPaymentSucceeded = "SUCCESS"

type cloverAPI interface {
	AuthorizeURL(state string) string
	VerifyWebhook(header string) bool
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	GetMerchant(ctx context.Context, accessToken, merchantID string) (*clover.Merchant, error)
	GetPayment(ctx context.Context, accessToken, merchantID, paymentID string) (*clover.Payment, error)
}

// CloverAdapter links merchants through Clover OAuth v2 with expiring tokens.
// A Clover merchant is a single location.
type CloverAdapter struct {
	client cloverAPI
}

func NewCloverAdapter(client cloverAPI) *CloverAdapter {
	return &CloverAdapter{client: client}
}

func (a *CloverAdapter) Provider() enums.Provider { return enums.ProviderClover }
func (a *CloverAdapter) Kind() enums.ProviderKind { return enums.ProviderKindOAuth }

func (a *CloverAdapter) AuthorizationURL(state, _ string) (string, error) {
	return a.client.AuthorizeURL(state), nil
}

func (a *CloverAdapter) ExchangeCode(ctx context.Context, params CallbackParams) (*TokenSet, error) {
	merchantID := strings.TrimSpace(params.MerchantID)
	if merchantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant_id required")
	}
	tok, err := a.client.ExchangeCode(ctx, params.Code)
	if err != nil {
		return nil, err
	}
	if _, err := a.client.GetMerchant(ctx, tok.AccessToken, merchantID); err != nil {
		return nil, err
	}
	return tokenSetFromOAuth(tok, merchantID), nil
}

func (a *CloverAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	tok, err := a.client.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return tokenSetFromOAuth(tok, ""), nil
}

func (a *CloverAdapter) AuthenticateApp(r *http.Request, _ []byte) bool {
	return a.client.VerifyWebhook(r.Header.Get("X-Clover-Auth"))
}

func (a *CloverAdapter) ParseEvents(_ *http.Request, body []byte) ([]Event, error) {
	n, err := clover.ParseNotification(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid clover notification")
	}
	refs := n.CreatedPayments()
	events := make([]Event, 0, len(refs))
	for _, ref := range refs {
		events = append(events, Event{
			ID:        ref.PaymentID,
			AccountID: ref.MerchantID,
			Type:      "payment.created",
			Payload:   ref,
		})
	}
	return events, nil
}

func (a *CloverAdapter) Normalize(ctx context.Context, creds Credentials, event Event) (*Purchase, error) {
	ref, ok := event.Payload.(clover.PaymentRef)
	if !ok {
		return nil, fmt.Errorf("unexpected clover payload %T", event.Payload)
	}
	payment, err := a.client.GetPayment(ctx, creds.AccessToken, ref.MerchantID, ref.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Result != cloverPaymentSucceeded {
		return nil, nil
	}
	return &Purchase{
		EventID:            ref.PaymentID,
		CustomerName:       payment.FirstName,
		CustomerPhone:      payment.Phone,
		Amount:             payment.Amount,
		Currency:           "USD",
		LocationExternalID: ref.MerchantID,
	}, nil
}

func (a *CloverAdapter) ListLocations(ctx context.Context, creds Credentials) ([]RemoteLocation, error) {
	m, err := a.client.GetMerchant(ctx, creds.AccessToken, creds.ExternalAccountID)
	if err != nil {
		return nil, err
	}
	return []RemoteLocation{{ExternalID: m.ID, Name: m.Name, Address: m.Address}}, nil
}

func tokenSetFromOAuth(tok *oauth2.Token, merchantID string) *TokenSet {
	set := &TokenSet{
		AccessToken:        tok.AccessToken,
		RefreshToken:       tok.RefreshToken,
		ProviderMerchantID: merchantID,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC()
		set.ExpiresAt = &expiry
	}
	return set
}
