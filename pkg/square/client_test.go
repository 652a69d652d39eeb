package square

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"

	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(config.SquareConfig{
		ApplicationID:     "sq0idp-app",
		ApplicationSecret: "sq0csp-secret",
		Env:               "sandbox",
		Scopes:            "MERCHANT_PROFILE_READ PAYMENTS_READ",
	}, 0, logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test"})
	if _, err := NewClient(config.SquareConfig{}, 0, logg); err == nil {
		t.Fatal("expected missing credentials to fail")
	}
	if _, err := NewClient(config.SquareConfig{ApplicationID: "a", ApplicationSecret: "b", Env: "staging"}, 0, logg); err == nil {
		t.Fatal("expected unknown environment to fail")
	}
	if _, err := NewClient(config.SquareConfig{ApplicationID: "a", ApplicationSecret: "b"}, 0, nil); err == nil {
		t.Fatal("expected missing logger to fail")
	}
}

func TestAuthorizeURL(t *testing.T) {
	c := newTestClient(t)
	raw := c.AuthorizeURL("biz:nonce", "https://api.example.com/oauth/square/callback")

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if parsed.Host != "connect.squareupsandbox.com" || parsed.Path != "/oauth2/authorize" {
		t.Fatalf("unexpected authorize endpoint %s", raw)
	}
	q := parsed.Query()
	if q.Get("state") != "biz:nonce" || q.Get("client_id") != "sq0idp-app" {
		t.Fatalf("unexpected query %v", q)
	}
	if q.Get("scope") != "MERCHANT_PROFILE_READ PAYMENTS_READ" {
		t.Fatalf("unexpected scope %q", q.Get("scope"))
	}
}

func TestMerchantSDKRequiresToken(t *testing.T) {
	c := newTestClient(t)
	_, err := c.ListLocations(context.Background(), "  ")
	if !pkgerrors.IsCode(err, pkgerrors.CodeReconnectRequired) {
		t.Fatalf("expected reconnect required, got %v", err)
	}
}

func TestRedact(t *testing.T) {
	c := &Client{}
	for _, key := range []string{"access_token", "code", "customer_phone", "given_name"} {
		if out := c.redact(key, "value"); out != "[REDACTED]" {
			t.Fatalf("expected %s to be redacted, got %v", key, out)
		}
	}
	if v := c.redact("merchant_id", "M1"); v != "M1" {
		t.Fatalf("unexpected redaction for safe key")
	}
}

func TestDomainCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeReconnectRequired},
		{http.StatusForbidden, pkgerrors.CodeForbidden},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusTooManyRequests, pkgerrors.CodeDependency},
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusInternalServerError, pkgerrors.CodeDependency},
		{http.StatusBadGateway, pkgerrors.CodeDependency},
	}
	for _, tt := range tests {
		if got := domainCodeForStatus(tt.status); got != tt.code {
			t.Fatalf("status %d expected %s got %s", tt.status, tt.code, got)
		}
	}
}

func TestMapSquareError(t *testing.T) {
	c := &Client{}
	table := []struct {
		name     string
		err      error
		wantCode pkgerrors.Code
	}{
		{
			name:     "authentication error",
			err:      sqcore.NewAPIError(http.StatusUnauthorized, errors.New(`{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`)),
			wantCode: pkgerrors.CodeReconnectRequired,
		},
		{
			name:     "server error",
			err:      sqcore.NewAPIError(http.StatusServiceUnavailable, errors.New(`{"errors":[{"category":"API_ERROR","code":"SERVICE_UNAVAILABLE"}]}`)),
			wantCode: pkgerrors.CodeDependency,
		},
		{
			name:     "timeout",
			err:      context.DeadlineExceeded,
			wantCode: pkgerrors.CodeDependency,
		},
	}
	for _, tt := range table {
		typed := pkgerrors.As(c.mapSquareError(tt.err, "operation"))
		if typed == nil {
			t.Fatalf("%s: result is not pkgerror", tt.name)
		}
		if typed.Code() != tt.wantCode {
			t.Fatalf("%s: expected code %s, got %s", tt.name, tt.wantCode, typed.Code())
		}
	}
}

func TestExtractSquareErrors(t *testing.T) {
	c := &Client{}
	payload := `{"errors":[{"category":"API_ERROR","code":"BAD_REQUEST","detail":"oops"}]}`
	got := c.extractSquareErrors(sqcore.NewAPIError(http.StatusBadRequest, errors.New(payload)))
	if len(got) != 1 {
		t.Fatalf("expected 1 error, got %d", len(got))
	}
	if got[0].GetCode() != sq.ErrorCodeBadRequest {
		t.Fatalf("unexpected error code %s", got[0].GetCode())
	}
}

func TestParseEventCompletedPayment(t *testing.T) {
	body := `{
	  "merchant_id": "ML1",
	  "type": "payment.updated",
	  "event_id": "evt-1",
	  "data": {"type": "payment", "id": "pay-1", "object": {"payment": {
	    "id": "pay-1", "status": "COMPLETED", "location_id": "L1", "customer_id": "C1",
	    "amount_money": {"amount": 1250, "currency": "USD"},
	    "total_money": {"amount": 1500, "currency": "USD"}
	  }}}
	}`
	evt, err := ParseEvent([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	payment := evt.CompletedPayment()
	if payment == nil {
		t.Fatal("expected completed payment")
	}
	if stringValue(payment.GetLocationID()) != "L1" || stringValue(payment.GetCustomerID()) != "C1" {
		t.Fatalf("unexpected payment ids")
	}
	amount, currency := PaymentAmount(payment)
	if amount != 1500 || currency != "USD" {
		t.Fatalf("expected total money 1500 USD, got %d %s", amount, currency)
	}
}

func TestParseEventIgnoresPendingPayment(t *testing.T) {
	body := `{"merchant_id":"ML1","type":"payment.created","event_id":"evt-2","data":{"object":{"payment":{"status":"APPROVED"}}}}`
	evt, err := ParseEvent([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.CompletedPayment() != nil {
		t.Fatal("approved payments are not purchases yet")
	}
	if _, err := ParseEvent([]byte(`{"type":"payment.created"}`)); err == nil || !strings.Contains(err.Error(), "event_id") {
		t.Fatalf("expected missing ids to fail, got %v", err)
	}
}
