package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
)

type testModeBody struct {
	Enabled   *bool  `json:"enabled" validate:"required"`
	TestPhone string `json:"test_phone" validate:"omitempty,e164"`
}

func TestDecodeJSONBodyValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"test_phone":"555-1234"}`))
	var body testModeBody
	err := DecodeJSONBody(req, &body)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := err.(*pkgerrors.Error).Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %#v", err.(*pkgerrors.Error).Details())
	}
	if details["enabled"] != "is required" || details["test_phone"] != "must be an E.164 phone number" {
		t.Fatalf("unexpected details %#v", details)
	}
}

func TestDecodeJSONBodyRejectsUnknownFieldsAndEmptyBody(t *testing.T) {
	var body testModeBody
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"enabled":true,"role":"admin"}`))
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected unknown field rejection, got %v", err)
	}
	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(""))
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected empty body rejection, got %v", err)
	}
}

func TestProviderParam(t *testing.T) {
	withParam := func(value string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rc := chi.NewRouteContext()
		rc.URLParams.Add("provider", value)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	}

	provider, err := ProviderParam(withParam("Clover"))
	if err != nil || provider != enums.ProviderClover {
		t.Fatalf("expected clover, got %q err=%v", provider, err)
	}
	if _, err := ProviderParam(withParam("toast")); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOptionalFilters(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?status=SENT&provider=shopify", nil)
	status, err := OptionalDispatchStatusQuery(req, "status")
	if err != nil || status == nil || *status != enums.DispatchStatusSent {
		t.Fatalf("unexpected status %v err=%v", status, err)
	}
	provider, err := OptionalProviderQuery(req, "provider")
	if err != nil || provider == nil || *provider != enums.ProviderShopify {
		t.Fatalf("unexpected provider %v err=%v", provider, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?status=queued", nil)
	if _, err := OptionalDispatchStatusQuery(req, "status"); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
	empty := httptest.NewRequest(http.MethodGet, "/", nil)
	if status, err := OptionalDispatchStatusQuery(empty, "status"); err != nil || status != nil {
		t.Fatalf("expected no filter, got %v err=%v", status, err)
	}
}
