package enums

import (
	"fmt"
	"strings"
)

// Provider maps to the integration_provider enum in Postgres.
type Provider string

const (
	ProviderSquare        Provider = "square"
	ProviderShopify       Provider = "shopify"
	ProviderClover        Provider = "clover"
	ProviderWooCommerce   Provider = "woocommerce"
	ProviderStripe        Provider = "stripe"
	ProviderZapier        Provider = "zapier"
	ProviderCustomWebhook Provider = "custom_webhook"
)

var validProviders = []Provider{
	ProviderSquare,
	ProviderShopify,
	ProviderClover,
	ProviderWooCommerce,
	ProviderStripe,
	ProviderZapier,
	ProviderCustomWebhook,
}

// AllProviders returns the closed provider set in display order.
func AllProviders() []Provider {
	out := make([]Provider, len(validProviders))
	copy(out, validProviders)
	return out
}

// IsValid reports whether the value matches the canonical provider enum.
func (p Provider) IsValid() bool {
	for _, candidate := range validProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

func (p Provider) String() string {
	return string(p)
}

// ParseProvider converts raw path or query values into a Provider.
func ParseProvider(value string) (Provider, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validProviders {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider %q", value)
}

// ProviderKind groups providers by how they connect.
type ProviderKind string

const (
	// ProviderKindOAuth providers link through a redirect and token exchange.
	ProviderKindOAuth ProviderKind = "oauth"
	// ProviderKindKey providers link with credentials the business pastes in.
	ProviderKindKey ProviderKind = "key"
	// ProviderKindPassthrough providers push events to us with a generated or submitted secret.
	ProviderKindPassthrough ProviderKind = "passthrough"
)
