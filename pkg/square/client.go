package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAppCredentialsRequired = errors.New("square application id and secret are required")
	errAccessTokenRequired    = errors.New("square access token is required")
	errInvalidSquareEnv       = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired         = errors.New("square logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Client performs application-level OAuth calls and merchant-scoped reads on
// behalf of connected sellers. Merchant calls build a short-lived SDK client
// per access token; tokens are never retained on the struct.
type Client struct {
	appID      string
	appSecret  string
	scopes     []string
	env        string
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// TokenSet is the normalized result of a code exchange.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	MerchantID   string
}

// NewClient validates the application credentials and selects the environment.
func NewClient(cfg config.SquareConfig, timeout time.Duration, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if !cfg.Enabled() {
		return nil, errAppCredentialsRequired
	}
	env, err := normalizeEnv(cfg.Env)
	if err != nil {
		return nil, err
	}
	return &Client{
		appID:      strings.TrimSpace(cfg.ApplicationID),
		appSecret:  strings.TrimSpace(cfg.ApplicationSecret),
		scopes:     strings.Fields(cfg.Scopes),
		env:        env,
		baseURL:    baseURLs[env],
		httpClient: &http.Client{Timeout: timeout},
		logger:     logg,
	}, nil
}

// WithBaseURL points the client at an alternate host, used by tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	clone := *c
	clone.baseURL = strings.TrimRight(baseURL, "/")
	return &clone
}

// Environment reports the normalized Square environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.env
}

// AuthorizeURL builds the seller consent URL carrying the opaque state.
func (c *Client) AuthorizeURL(state, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", c.appID)
	q.Set("scope", strings.Join(c.scopes, " "))
	q.Set("session", "false")
	q.Set("state", state)
	if redirectURI != "" {
		q.Set("redirect_uri", redirectURI)
	}
	return c.baseURL + "/oauth2/authorize?" + q.Encode()
}

// ObtainToken exchanges an authorization code for a seller token set.
func (c *Client) ObtainToken(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	req := &sq.ObtainTokenRequest{
		ClientID:     c.appID,
		ClientSecret: sq.String(c.appSecret),
		Code:         sq.String(code),
		GrantType:    "authorization_code",
	}
	if redirectURI != "" {
		req.RedirectURI = sq.String(redirectURI)
	}
	c.log(ctx, "request", "obtain_token", map[string]any{"code": code})

	resp, err := c.appSDK().OAuth.ObtainToken(ctx, req)
	if err != nil {
		c.log(ctx, "error", "obtain_token", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "obtain token")
	}

	set := &TokenSet{
		AccessToken:  stringValue(resp.GetAccessToken()),
		RefreshToken: stringValue(resp.GetRefreshToken()),
		MerchantID:   stringValue(resp.GetMerchantID()),
	}
	if raw := stringValue(resp.GetExpiresAt()); raw != "" {
		if parsed, perr := time.Parse(time.RFC3339, raw); perr == nil {
			set.ExpiresAt = &parsed
		}
	}
	if set.AccessToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square returned an empty access token")
	}
	c.log(ctx, "response", "obtain_token", map[string]any{"merchant_id": set.MerchantID})
	return set, nil
}

// RevokeToken revokes every token the seller granted this application.
func (c *Client) RevokeToken(ctx context.Context, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return errAccessTokenRequired
	}
	req := &sq.RevokeTokenRequest{
		ClientID:    sq.String(c.appID),
		AccessToken: sq.String(accessToken),
	}
	c.log(ctx, "request", "revoke_token", nil)

	header := http.Header{}
	header.Set("Authorization", "Client "+c.appSecret)
	if _, err := c.appSDK().OAuth.RevokeToken(ctx, req, sqoption.WithHTTPHeader(header)); err != nil {
		c.log(ctx, "error", "revoke_token", map[string]any{"error": err.Error()})
		return c.mapSquareError(err, "revoke token")
	}
	c.log(ctx, "response", "revoke_token", nil)
	return nil
}

// ListLocations returns the seller's locations.
func (c *Client) ListLocations(ctx context.Context, accessToken string) ([]*sq.Location, error) {
	sdk, err := c.merchantSDK(accessToken)
	if err != nil {
		return nil, err
	}
	c.log(ctx, "request", "list_locations", nil)

	resp, err := sdk.Locations.List(ctx)
	if err != nil {
		c.log(ctx, "error", "list_locations", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "list locations")
	}
	locations := resp.GetLocations()
	c.log(ctx, "response", "list_locations", map[string]any{"count": len(locations)})
	return locations, nil
}

func (c *Client) appSDK() *sqclient.Client {
	return sqclient.NewClient(
		sqoption.WithBaseURL(c.baseURL),
		sqoption.WithHTTPClient(c.httpClient),
	)
}

func (c *Client) merchantSDK(accessToken string) (*sqclient.Client, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeReconnectRequired, errAccessTokenRequired, "square credentials unavailable")
	}
	return sqclient.NewClient(
		sqoption.WithBaseURL(c.baseURL),
		sqoption.WithHTTPClient(c.httpClient),
		sqoption.WithToken(token),
	), nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"provider":  "square",
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("square %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("square %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"code", "token", "secret", "email", "phone", "name"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func (c *Client) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s timed out", op))
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		for _, sqErr := range c.extractSquareErrors(apiErr) {
			if sqErr == nil {
				continue
			}
			if sqErr.Category == sq.ErrorCategoryAuthenticationError {
				code = pkgerrors.CodeReconnectRequired
				break
			}
			if sqErr.Code == sq.ErrorCodeRateLimited {
				code = pkgerrors.CodeDependency
				break
			}
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s failed", op))
}

func (c *Client) extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

// domainCodeForStatus maps Square HTTP statuses. Throttling and server errors
// stay retryable.
func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeReconnectRequired
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusTooManyRequests:
		return pkgerrors.CodeDependency
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidSquareEnv
	}
}
