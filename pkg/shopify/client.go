package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	goshopify "github.com/bold-commerce/go-shopify/v4"

	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

var (
	errAppCredentialsRequired = errors.New("shopify api key and secret are required")
	errLoggerRequired         = errors.New("shopify logger is required")

	shopDomainRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)
)

// Client wraps the go-shopify app for OAuth and per-shop admin reads.
type Client struct {
	app        goshopify.App
	apiVersion string
	httpClient *http.Client
	logger     *logger.Logger
}

// Location is the normalized subset of a Shopify location.
type Location struct {
	ID      string
	Name    string
	Address string
	Active  bool
}

// NewClient validates the app credentials.
func NewClient(cfg config.ShopifyConfig, redirectURL string, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if !cfg.Enabled() {
		return nil, errAppCredentialsRequired
	}
	return &Client{
		app: goshopify.App{
			ApiKey:      strings.TrimSpace(cfg.APIKey),
			ApiSecret:   strings.TrimSpace(cfg.APISecret),
			RedirectUrl: redirectURL,
			Scope:       cfg.Scopes,
		},
		apiVersion: cfg.APIVersion,
		logger:     logg,
	}, nil
}

// NormalizeShopDomain lowercases and validates a *.myshopify.com domain.
func NormalizeShopDomain(raw string) (string, error) {
	shop := strings.ToLower(strings.TrimSpace(raw))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	shop = strings.TrimSuffix(shop, "/")
	if !strings.HasSuffix(shop, ".myshopify.com") {
		shop += ".myshopify.com"
	}
	if !shopDomainRe.MatchString(shop) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid shop domain")
	}
	return shop, nil
}

// AuthorizeURL returns the shop's install/consent URL.
func (c *Client) AuthorizeURL(shop, state string) (string, error) {
	authURL, err := c.app.AuthorizeUrl(shop, state)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "build shopify authorize url")
	}
	return authURL, nil
}

// VerifyCallback checks the hmac query parameter Shopify appends to the
// OAuth redirect (sorted-query-parameter HMAC).
func (c *Client) VerifyCallback(u *url.URL) bool {
	if u == nil || u.Query().Get("hmac") == "" {
		return false
	}
	ok, err := c.app.VerifyAuthorizationURL(u)
	return err == nil && ok
}

// VerifyWebhook checks X-Shopify-Hmac-Sha256 against the raw body. The body
// is restored on the request by the library.
func (c *Client) VerifyWebhook(r *http.Request) bool {
	if r == nil || r.Header.Get("X-Shopify-Hmac-Sha256") == "" {
		return false
	}
	return c.app.VerifyWebhookRequest(r)
}

// ExchangeCode trades an authorization code for an offline access token.
// The shop domain identifies the account, so no shop lookup follows.
func (c *Client) ExchangeCode(ctx context.Context, shop, code string) (string, error) {
	c.log(ctx, "request", "access_token", map[string]any{"shop": shop})
	token, err := c.app.GetAccessToken(ctx, shop, code)
	if err != nil {
		c.log(ctx, "error", "access_token", map[string]any{"shop": shop, "error": err.Error()})
		return "", mapShopifyError(err, "exchange code")
	}
	return token, nil
}

// ListLocations returns the shop's locations.
func (c *Client) ListLocations(ctx context.Context, shop, token string) ([]Location, error) {
	client, err := c.shopClient(shop, token)
	if err != nil {
		return nil, err
	}
	c.log(ctx, "request", "list_locations", map[string]any{"shop": shop})
	raw, err := client.Location.List(ctx, nil)
	if err != nil {
		c.log(ctx, "error", "list_locations", map[string]any{"shop": shop, "error": err.Error()})
		return nil, mapShopifyError(err, "list locations")
	}

	out := make([]Location, 0, len(raw))
	for _, loc := range raw {
		out = append(out, Location{
			ID:      strconv.FormatUint(loc.Id, 10),
			Name:    loc.Name,
			Address: joinNonEmpty(", ", loc.Address1, loc.City, loc.Province, loc.Zip),
			Active:  loc.Active,
		})
	}
	return out, nil
}

// RevokeAccess uninstalls the app from the shop, invalidating the token.
func (c *Client) RevokeAccess(ctx context.Context, shop, token string) error {
	client, err := c.shopClient(shop, token)
	if err != nil {
		return err
	}
	if err := client.Delete(ctx, "admin/api_permissions/current.json"); err != nil {
		return mapShopifyError(err, "revoke access")
	}
	return nil
}

func (c *Client) shopClient(shop, token string) (*goshopify.Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeReconnectRequired, "shopify credentials unavailable")
	}
	opts := []goshopify.Option{}
	if c.apiVersion != "" {
		opts = append(opts, goshopify.WithVersion(c.apiVersion))
	}
	if c.httpClient != nil {
		opts = append(opts, goshopify.WithHTTPClient(c.httpClient))
	}
	client, err := goshopify.NewClient(c.app, shop, token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create shopify client: %w", err)
	}
	return client, nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	logFields := map[string]any{"provider": "shopify", "operation": op, "phase": phase}
	for k, v := range fields {
		if k == "error" {
			continue
		}
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	if phase == "error" {
		c.logger.Error(ctx, fmt.Sprintf("shopify %s", op), errors.New(fmt.Sprint(fields["error"])))
		return
	}
	c.logger.Info(ctx, fmt.Sprintf("shopify %s", phase))
}

func mapShopifyError(err error, op string) error {
	var respErr goshopify.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.GetStatus(); {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return pkgerrors.Wrap(pkgerrors.CodeReconnectRequired, err, fmt.Sprintf("shopify %s rejected credentials", op))
		case status == http.StatusNotFound:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, fmt.Sprintf("shopify %s not found", op))
		case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("shopify %s failed", op))
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("shopify %s failed", op))
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
