package providers

import (
	"fmt"

	"github.com/angelmondragon/reviewflow-backend/pkg/clover"
	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/shopify"
	"github.com/angelmondragon/reviewflow-backend/pkg/square"
)

// CallbackPath returns the OAuth redirect path for p.
func CallbackPath(p enums.Provider) string {
	return fmt.Sprintf("/oauth/%s/callback", p)
}

// WebhookPath returns the app-level webhook path for p.
func WebhookPath(p enums.Provider) string {
	return fmt.Sprintf("/webhooks/%s", p)
}

// NewFromConfig registers every key and pass-through adapter plus the OAuth
// adapters whose app credentials are configured.
func NewFromConfig(cfg *config.Config, logg *logger.Logger) (*Registry, error) {
	adapters := []Adapter{
		NewWooCommerceAdapter(),
		NewStripeAdapter(),
		NewZapierAdapter(),
		NewCustomWebhookAdapter(),
	}

	if cfg.Square.Enabled() {
		client, err := square.NewClient(cfg.Square, cfg.Providers.Timeout, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		adapters = append(adapters, NewSquareAdapter(
			client,
			cfg.App.CallbackURL(CallbackPath(enums.ProviderSquare)),
			cfg.App.CallbackURL(WebhookPath(enums.ProviderSquare)),
			cfg.Square.WebhookKey,
		))
	}
	if cfg.Shopify.Enabled() {
		client, err := shopify.NewClient(cfg.Shopify, cfg.App.CallbackURL(CallbackPath(enums.ProviderShopify)), logg)
		if err != nil {
			return nil, fmt.Errorf("shopify client: %w", err)
		}
		adapters = append(adapters, NewShopifyAdapter(client))
	}
	if cfg.Clover.Enabled() {
		client, err := clover.NewClient(cfg.Clover, cfg.App.CallbackURL(CallbackPath(enums.ProviderClover)), cfg.Providers.Timeout, logg)
		if err != nil {
			return nil, fmt.Errorf("clover client: %w", err)
		}
		adapters = append(adapters, NewCloverAdapter(client))
	}

	return NewRegistry(adapters...)
}
