package clover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/security"
)

const (
	sandboxWebURL = "https://sandbox.dev.clover.com"
	sandboxAPIURL = "https://apisandbox.dev.clover.com"
	prodWebURL    = "https://www.clover.com"
	prodAPIURL    = "https://api.clover.com"

	maxResponseBytes = 1 << 20
)

var (
	errAppCredentialsRequired = errors.New("clover app id and secret are required")
	errLoggerRequired         = errors.New("clover logger is required")
)

// Client talks to the Clover OAuth v2 endpoints and the v3 REST API.
type Client struct {
	oauth       *oauth2.Config
	apiURL      string
	webhookAuth string
	httpClient  *http.Client
	logger      *logger.Logger
}

// Merchant is the Clover merchant; each merchant is a single location.
type Merchant struct {
	ID      string
	Name    string
	Address string
}

// NewClient builds a client for the configured environment.
func NewClient(cfg config.CloverConfig, redirectURL string, timeout time.Duration, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if !cfg.Enabled() {
		return nil, errAppCredentialsRequired
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	webURL, apiURL := sandboxWebURL, sandboxAPIURL
	if strings.EqualFold(strings.TrimSpace(cfg.Env), "production") {
		webURL, apiURL = prodWebURL, prodAPIURL
	}

	c := &Client{
		oauth: &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.AppID),
			ClientSecret: strings.TrimSpace(cfg.AppSecret),
			RedirectURL:  redirectURL,
		},
		webhookAuth: cfg.WebhookAuth,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logg,
	}
	c.setEndpoints(webURL, apiURL)
	return c, nil
}

// WithBaseURL points both the OAuth and REST calls at a single host.
func (c *Client) WithBaseURL(base string) *Client {
	base = strings.TrimRight(base, "/")
	c.setEndpoints(base, base)
	return c
}

func (c *Client) setEndpoints(webURL, apiURL string) {
	c.apiURL = apiURL
	c.oauth.Endpoint = oauth2.Endpoint{
		AuthURL:   webURL + "/oauth/v2/authorize",
		TokenURL:  apiURL + "/oauth/v2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// AuthorizeURL returns the merchant consent URL.
func (c *Client) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// VerifyWebhook compares the X-Clover-Auth header with the app's auth code.
func (c *Client) VerifyWebhook(header string) bool {
	return security.ConstantTimeEqual(c.webhookAuth, strings.TrimSpace(header))
}

type tokenResponse struct {
	AccessToken            string `json:"access_token"`
	AccessTokenExpiration  int64  `json:"access_token_expiration"`
	RefreshToken           string `json:"refresh_token"`
	RefreshTokenExpiration int64  `json:"refresh_token_expiration"`
}

func (t tokenResponse) token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    "Bearer",
	}
	if t.AccessTokenExpiration > 0 {
		tok.Expiry = time.Unix(t.AccessTokenExpiration, 0).UTC()
	}
	return tok
}

// ExchangeCode trades an authorization code for an expiring token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	payload := map[string]string{
		"client_id":     c.oauth.ClientID,
		"client_secret": c.oauth.ClientSecret,
		"code":          code,
	}
	return c.postToken(ctx, "exchange_code", c.oauth.Endpoint.TokenURL, payload)
}

// Refresh rotates the token pair. A rejected refresh token means the merchant
// must reconnect.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeReconnectRequired, "clover refresh token unavailable")
	}
	payload := map[string]string{
		"client_id":     c.oauth.ClientID,
		"refresh_token": refreshToken,
	}
	return c.postToken(ctx, "refresh_token", c.apiURL+"/oauth/v2/refresh", payload)
}

func (c *Client) postToken(ctx context.Context, op, endpoint string, payload map[string]string) (*oauth2.Token, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode clover %s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build clover %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out tokenResponse
	if err := c.do(ctx, c.httpClient, op, req, &out); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeReconnectRequired, err, "clover rejected the grant")
		}
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "clover returned an empty access token")
	}
	return out.token(), nil
}

// GetMerchant fetches the merchant profile with its address.
func (c *Client) GetMerchant(ctx context.Context, accessToken, merchantID string) (*Merchant, error) {
	var out struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Address *struct {
			Address1 string `json:"address1"`
			City     string `json:"city"`
			State    string `json:"state"`
			Zip      string `json:"zip"`
		} `json:"address"`
	}
	path := fmt.Sprintf("/v3/merchants/%s?expand=address", url.PathEscape(merchantID))
	if err := c.get(ctx, "get_merchant", accessToken, path, &out); err != nil {
		return nil, err
	}

	merchant := &Merchant{ID: out.ID, Name: out.Name}
	if merchant.ID == "" {
		merchant.ID = merchantID
	}
	if out.Address != nil {
		parts := []string{}
		for _, p := range []string{out.Address.Address1, out.Address.City, out.Address.State, out.Address.Zip} {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		merchant.Address = strings.Join(parts, ", ")
	}
	return merchant, nil
}

func (c *Client) get(ctx context.Context, op, accessToken, path string, out any) error {
	if strings.TrimSpace(accessToken) == "" {
		return pkgerrors.New(pkgerrors.CodeReconnectRequired, "clover credentials unavailable")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("build clover %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	authCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	httpClient := oauth2.NewClient(authCtx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
	return c.do(ctx, httpClient, op, req, out)
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, op string, req *http.Request, out any) error {
	logCtx := c.logger.WithFields(ctx, map[string]any{"provider": "clover", "operation": op})
	c.logger.Debug(logCtx, "clover request")

	resp, err := httpClient.Do(req)
	if err != nil {
		c.logger.Error(logCtx, "clover request failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("clover %s failed", op))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("read clover %s response", op))
	}
	if resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("clover %s returned status %d", op, resp.StatusCode)
		c.logger.Error(c.logger.WithField(logCtx, "status", resp.StatusCode), "clover request rejected", statusErr)
		return pkgerrors.Wrap(codeForStatus(resp.StatusCode), statusErr, fmt.Sprintf("clover %s failed", op))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode clover %s response", op))
	}
	return nil
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized:
		return pkgerrors.CodeReconnectRequired
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		return pkgerrors.CodeDependency
	default:
		return pkgerrors.CodeValidation
	}
}
