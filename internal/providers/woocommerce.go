package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/security"
)

const (
	wooSignatureHeader = "X-WC-Webhook-Signature"
	wooTopicHeader     = "X-WC-Webhook-Topic"
	wooStatusCompleted = "completed"

	// StoreLocationID is the single synthetic location of a WooCommerce store.
	StoreLocationID = "store"
)

// WooCommerceAdapter links a store with REST consumer keys and verifies
// order webhooks with a generated secret.
type WooCommerceAdapter struct{}

func NewWooCommerceAdapter() *WooCommerceAdapter { return &WooCommerceAdapter{} }

func (a *WooCommerceAdapter) Provider() enums.Provider { return enums.ProviderWooCommerce }
func (a *WooCommerceAdapter) Kind() enums.ProviderKind { return enums.ProviderKindKey }

func (a *WooCommerceAdapter) Connect(_ context.Context, sub KeySubmission) (*KeyConnection, error) {
	store, err := normalizeStoreURL(sub.StoreURL)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(sub.ConsumerKey)
	secret := strings.TrimSpace(sub.ConsumerSecret)
	if !strings.HasPrefix(key, "ck_") || !strings.HasPrefix(secret, "cs_") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "consumer key and secret must be WooCommerce REST credentials")
	}

	conn, err := a.Regenerate()
	if err != nil {
		return nil, err
	}
	conn.ExternalAccountID = store
	conn.APIKey = key + ":" + secret
	return conn, nil
}

// Regenerate issues a new webhook secret; the old one stops verifying.
func (a *WooCommerceAdapter) Regenerate() (*KeyConnection, error) {
	webhookSecret, err := security.GenerateToken("wcwh_", 32)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate webhook secret")
	}
	return &KeyConnection{
		WebhookSecret: webhookSecret,
		Reveal:        map[string]string{"webhook_secret": webhookSecret},
	}, nil
}

func (a *WooCommerceAdapter) AuthenticateInbound(r *http.Request, body []byte, secrets InboundSecrets) bool {
	return security.VerifyHMACBase64(secrets.WebhookSecret, body, r.Header.Get(wooSignatureHeader))
}

type wooOrder struct {
	ID       int64           `json:"id"`
	Status   string          `json:"status"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
	Billing  struct {
		FirstName string `json:"first_name"`
		Phone     string `json:"phone"`
	} `json:"billing"`
}

func (a *WooCommerceAdapter) ParseEvents(r *http.Request, body []byte) ([]Event, error) {
	topic := r.Header.Get(wooTopicHeader)
	if !strings.HasPrefix(topic, "order.") {
		return []Event{{Type: topic}}, nil
	}
	var order wooOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid woocommerce order")
	}
	if order.ID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "woocommerce order missing id")
	}
	return []Event{{
		ID:      strconv.FormatInt(order.ID, 10),
		Type:    topic,
		Payload: &order,
	}}, nil
}

func (a *WooCommerceAdapter) Normalize(_ context.Context, _ Credentials, event Event) (*Purchase, error) {
	if event.Payload == nil {
		return nil, nil
	}
	order, ok := event.Payload.(*wooOrder)
	if !ok {
		return nil, fmt.Errorf("unexpected woocommerce payload %T", event.Payload)
	}
	if order.Status != wooStatusCompleted {
		return nil, nil
	}
	return &Purchase{
		EventID:            event.ID,
		CustomerName:       order.Billing.FirstName,
		CustomerPhone:      order.Billing.Phone,
		Amount:             order.Total,
		Currency:           order.Currency,
		LocationExternalID: StoreLocationID,
	}, nil
}

func (a *WooCommerceAdapter) ListLocations(_ context.Context, creds Credentials) ([]RemoteLocation, error) {
	return []RemoteLocation{{
		ExternalID: StoreLocationID,
		Name:       creds.ExternalAccountID,
		Address:    creds.ExternalAccountID,
	}}, nil
}

func normalizeStoreURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "store url required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid store url")
	}
	return strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/"), nil
}
