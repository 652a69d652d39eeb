package providers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
)

// Credentials are the decrypted secrets of one integration. They are built per
// call and never persisted or logged.
type Credentials struct {
	AccessToken       string
	RefreshToken      string
	ExternalAccountID string
	APIKey            string
}

// TokenSet is the normalized result of a code exchange or refresh.
type TokenSet struct {
	AccessToken        string
	RefreshToken       string
	ExpiresAt          *time.Time
	ProviderMerchantID string
}

// RemoteLocation is a provider location as returned by ListLocations.
type RemoteLocation struct {
	ExternalID string
	Name       string
	Address    string
}

// Event is one parsed inbound delivery. AccountID is set for app-level
// webhooks and identifies the integration by provider account.
type Event struct {
	ID        string
	AccountID string
	Type      string
	Payload   any
}

// Purchase is a completed purchase ready for the dispatch gate.
type Purchase struct {
	EventID            string
	CustomerName       string
	CustomerPhone      string
	Amount             decimal.Decimal
	Currency           string
	LocationExternalID string
}

// CallbackParams carries the query values of an OAuth redirect.
type CallbackParams struct {
	Code       string
	ShopDomain string
	MerchantID string
	URL        *url.URL
}

// InboundSecrets are the per-integration values used to authenticate
// deliveries on the tokenized webhook route.
type InboundSecrets struct {
	WebhookSecret string
	KeyHash       string
}

// KeySubmission is what a business pastes in to connect a key-based provider.
type KeySubmission struct {
	StoreURL       string
	ConsumerKey    string
	ConsumerSecret string
	SigningSecret  string
}

// KeyConnection is the result of a key submission or regeneration. Reveal
// holds generated values shown once to the business.
type KeyConnection struct {
	ExternalAccountID string
	APIKey            string
	WebhookSecret     string
	InboundKey        string
	Reveal            map[string]string
}

// Adapter is implemented by every provider.
type Adapter interface {
	Provider() enums.Provider
	Kind() enums.ProviderKind
	ParseEvents(r *http.Request, body []byte) ([]Event, error)
	// Normalize returns nil when the event is not a completed purchase.
	Normalize(ctx context.Context, creds Credentials, event Event) (*Purchase, error)
	ListLocations(ctx context.Context, creds Credentials) ([]RemoteLocation, error)
}

// Authorizer is implemented by OAuth providers.
type Authorizer interface {
	AuthorizationURL(state, shopDomain string) (string, error)
	ExchangeCode(ctx context.Context, params CallbackParams) (*TokenSet, error)
}

// ShopScoped providers are multi-tenant by domain; the domain is bound into
// the OAuth state.
type ShopScoped interface {
	NormalizeShop(raw string) (string, error)
}

// CallbackVerifier providers sign the OAuth redirect query.
type CallbackVerifier interface {
	VerifyCallback(u *url.URL) bool
}

// Refresher providers issue expiring access tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// Revoker providers support remote revocation.
type Revoker interface {
	Revoke(ctx context.Context, creds Credentials) error
}

// AppAuthenticator providers sign every delivery with one app-level secret.
type AppAuthenticator interface {
	AuthenticateApp(r *http.Request, body []byte) bool
}

// SecretAuthenticator providers sign deliveries with a per-integration secret.
type SecretAuthenticator interface {
	AuthenticateInbound(r *http.Request, body []byte, secrets InboundSecrets) bool
}

// KeyConnector providers are linked with submitted or generated keys.
type KeyConnector interface {
	Connect(ctx context.Context, sub KeySubmission) (*KeyConnection, error)
}

// KeyRegenerator providers can rotate their generated inbound secret.
type KeyRegenerator interface {
	Regenerate() (*KeyConnection, error)
}
