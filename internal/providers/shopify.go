package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/shopify"
)

type shopifyAPI interface {
	AuthorizeURL(shop, state string) (string, error)
	VerifyCallback(u *url.URL) bool
	VerifyWebhook(r *http.Request) bool
	ExchangeCode(ctx context.Context, shop, code string) (string, error)
	ListLocations(ctx context.Context, shop, token string) ([]shopify.Location, error)
	RevokeAccess(ctx context.Context, shop, token string) error
}

// ShopifyAdapter links shops through Shopify OAuth and consumes order webhooks.
type ShopifyAdapter struct {
	client shopifyAPI
}

func NewShopifyAdapter(client shopifyAPI) *ShopifyAdapter {
	return &ShopifyAdapter{client: client}
}

func (a *ShopifyAdapter) Provider() enums.Provider { return enums.ProviderShopify }
func (a *ShopifyAdapter) Kind() enums.ProviderKind { return enums.ProviderKindOAuth }

func (a *ShopifyAdapter) NormalizeShop(raw string) (string, error) {
	return shopify.NormalizeShopDomain(raw)
}

func (a *ShopifyAdapter) AuthorizationURL(state, shopDomain string) (string, error) {
	if shopDomain == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "shop domain required")
	}
	return a.client.AuthorizeURL(shopDomain, state)
}

func (a *ShopifyAdapter) VerifyCallback(u *url.URL) bool {
	return a.client.VerifyCallback(u)
}

func (a *ShopifyAdapter) ExchangeCode(ctx context.Context, params CallbackParams) (*TokenSet, error) {
	shop, err := shopify.NormalizeShopDomain(params.ShopDomain)
	if err != nil {
		return nil, err
	}
	token, err := a.client.ExchangeCode(ctx, shop, params.Code)
	if err != nil {
		return nil, err
	}
	return &TokenSet{AccessToken: token, ProviderMerchantID: shop}, nil
}

func (a *ShopifyAdapter) Revoke(ctx context.Context, creds Credentials) error {
	return a.client.RevokeAccess(ctx, creds.ExternalAccountID, creds.AccessToken)
}

func (a *ShopifyAdapter) AuthenticateApp(r *http.Request, body []byte) bool {
	r.Body = io.NopCloser(bytes.NewReader(body))
	return a.client.VerifyWebhook(r)
}

func (a *ShopifyAdapter) ParseEvents(r *http.Request, body []byte) ([]Event, error) {
	topic := strings.TrimSpace(r.Header.Get("X-Shopify-Topic"))
	shop, err := shopify.NormalizeShopDomain(r.Header.Get("X-Shopify-Shop-Domain"))
	if err != nil {
		return nil, err
	}

	event := Event{AccountID: shop, Type: topic, ID: r.Header.Get("X-Shopify-Webhook-Id")}
	if topic != shopify.TopicOrdersPaid {
		return []Event{event}, nil
	}

	order, err := shopify.ParseOrder(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shopify order")
	}
	event.ID = order.EventID()
	event.Payload = order
	return []Event{event}, nil
}

func (a *ShopifyAdapter) Normalize(_ context.Context, _ Credentials, event Event) (*Purchase, error) {
	if event.Type != shopify.TopicOrdersPaid || event.Payload == nil {
		return nil, nil
	}
	order, ok := event.Payload.(*shopify.Order)
	if !ok {
		return nil, fmt.Errorf("unexpected shopify payload %T", event.Payload)
	}
	return &Purchase{
		EventID:            order.EventID(),
		CustomerName:       order.CustomerFirstName(),
		CustomerPhone:      order.CustomerPhone(),
		Amount:             order.TotalPrice,
		Currency:           order.Currency,
		LocationExternalID: order.ExternalLocationID(),
	}, nil
}

// ListLocations returns the shop's active locations plus the online store.
func (a *ShopifyAdapter) ListLocations(ctx context.Context, creds Credentials) ([]RemoteLocation, error) {
	raw, err := a.client.ListLocations(ctx, creds.ExternalAccountID, creds.AccessToken)
	if err != nil {
		return nil, err
	}
	out := make([]RemoteLocation, 0, len(raw)+1)
	for _, loc := range raw {
		if !loc.Active {
			continue
		}
		out = append(out, RemoteLocation{ExternalID: loc.ID, Name: loc.Name, Address: loc.Address})
	}
	out = append(out, RemoteLocation{
		ExternalID: shopify.OnlineLocationID,
		Name:       "Online store",
		Address:    creds.ExternalAccountID,
	})
	return out, nil
}
