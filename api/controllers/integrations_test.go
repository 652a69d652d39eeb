package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/reviewflow-backend/api/middleware"
	"github.com/angelmondragon/reviewflow-backend/internal/integrations"
	"github.com/angelmondragon/reviewflow-backend/internal/providers"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
)

type stubIntegrationService struct {
	businessID uuid.UUID
	provider   enums.Provider
	submission providers.KeySubmission
	testMode   *bool
	testPhone  string
	authURL    string
	err        error
}

func (s *stubIntegrationService) List(_ context.Context, businessID uuid.UUID) ([]integrations.View, error) {
	s.businessID = businessID
	return []integrations.View{{Provider: enums.ProviderSquare, Kind: enums.ProviderKindOAuth}}, s.err
}

func (s *stubIntegrationService) BeginAuthorization(_ context.Context, businessID uuid.UUID, provider enums.Provider, _ string) (string, error) {
	s.businessID, s.provider = businessID, provider
	return s.authURL, s.err
}

func (s *stubIntegrationService) ConnectWithKeys(_ context.Context, businessID uuid.UUID, provider enums.Provider, sub providers.KeySubmission) (*integrations.ConnectResult, error) {
	s.businessID, s.provider, s.submission = businessID, provider, sub
	if s.err != nil {
		return nil, s.err
	}
	return &integrations.ConnectResult{
		Integration: integrations.View{Provider: provider, Connected: true},
		Reveal:      map[string]string{"api_key": "rfk_once"},
	}, nil
}

func (s *stubIntegrationService) RegenerateKey(_ context.Context, businessID uuid.UUID, provider enums.Provider) (*integrations.ConnectResult, error) {
	s.businessID, s.provider = businessID, provider
	if s.err != nil {
		return nil, s.err
	}
	return &integrations.ConnectResult{Reveal: map[string]string{"api_key": "rfk_new"}}, nil
}

func (s *stubIntegrationService) ConfirmConsent(_ context.Context, businessID uuid.UUID, provider enums.Provider) (*integrations.View, error) {
	s.businessID, s.provider = businessID, provider
	if s.err != nil {
		return nil, s.err
	}
	return &integrations.View{Provider: provider, ConsentConfirmed: true}, nil
}

func (s *stubIntegrationService) SetTestMode(_ context.Context, businessID uuid.UUID, provider enums.Provider, enabled bool, testPhone string) (*integrations.View, error) {
	s.businessID, s.provider, s.testMode, s.testPhone = businessID, provider, &enabled, testPhone
	if s.err != nil {
		return nil, s.err
	}
	return &integrations.View{Provider: provider, TestMode: enabled, TestPhone: testPhone}, nil
}

func (s *stubIntegrationService) Disconnect(_ context.Context, businessID uuid.UUID, provider enums.Provider) (*integrations.View, error) {
	s.businessID, s.provider = businessID, provider
	if s.err != nil {
		return nil, s.err
	}
	return &integrations.View{Provider: provider, Status: enums.IntegrationStatusRevoked}, nil
}

func businessRequest(method, target string, body []byte, businessID uuid.UUID, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	if businessID != uuid.Nil {
		ctx = middleware.WithBusinessID(ctx, businessID)
	}
	return req.WithContext(ctx)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) (bool, string) {
	t.Helper()
	var envelope struct {
		OK   bool            `json:"ok"`
		Code string          `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	if data != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return envelope.OK, envelope.Code
}

func TestListIntegrationsRequiresBusiness(t *testing.T) {
	svc := &stubIntegrationService{}
	rec := httptest.NewRecorder()
	ListIntegrations(svc, nil).ServeHTTP(rec, businessRequest(http.MethodGet, "/api/v1/integrations", nil, uuid.Nil, nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestListIntegrationsScopesToBusiness(t *testing.T) {
	svc := &stubIntegrationService{}
	businessID := uuid.New()
	rec := httptest.NewRecorder()
	ListIntegrations(svc, nil).ServeHTTP(rec, businessRequest(http.MethodGet, "/api/v1/integrations", nil, businessID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.businessID != businessID {
		t.Fatalf("expected business %s, got %s", businessID, svc.businessID)
	}
	var views []integrations.View
	if ok, _ := decodeEnvelope(t, rec, &views); !ok || len(views) != 1 {
		t.Fatalf("unexpected payload %s", rec.Body.String())
	}
}

func TestAuthorizeIntegrationRedirectsOnRequest(t *testing.T) {
	svc := &stubIntegrationService{authURL: "https://connect.squareup.com/oauth2/authorize?state=x"}
	params := map[string]string{"provider": "square"}

	rec := httptest.NewRecorder()
	AuthorizeIntegration(svc, nil).ServeHTTP(rec, businessRequest(http.MethodGet, "/api/v1/integrations/square/authorize", nil, uuid.New(), params))
	var payload map[string]string
	if ok, _ := decodeEnvelope(t, rec, &payload); !ok || payload["authorization_url"] != svc.authURL {
		t.Fatalf("unexpected payload %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	AuthorizeIntegration(svc, nil).ServeHTTP(rec, businessRequest(http.MethodGet, "/api/v1/integrations/square/authorize?redirect=true", nil, uuid.New(), params))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != svc.authURL {
		t.Fatalf("expected redirect to provider, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestAuthorizeIntegrationRejectsUnknownProvider(t *testing.T) {
	svc := &stubIntegrationService{}
	rec := httptest.NewRecorder()
	AuthorizeIntegration(svc, nil).ServeHTTP(rec, businessRequest(http.MethodGet, "/api/v1/integrations/toast/authorize", nil, uuid.New(), map[string]string{"provider": "toast"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.provider != "" {
		t.Fatal("service should not be called for unknown provider")
	}
}

func TestConnectIntegrationKeysRevealsOnce(t *testing.T) {
	svc := &stubIntegrationService{}
	body := []byte(`{"store_url":"https://shop.example.com","consumer_key":" ck_1 ","consumer_secret":"cs_1"}`)
	rec := httptest.NewRecorder()
	ConnectIntegrationKeys(svc, nil).ServeHTTP(rec, businessRequest(http.MethodPost, "/api/v1/integrations/woocommerce/keys", body, uuid.New(), map[string]string{"provider": "woocommerce"}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatal("key reveal must not be cached")
	}
	if svc.submission.ConsumerKey != "ck_1" || svc.submission.StoreURL != "https://shop.example.com" {
		t.Fatalf("unexpected submission %+v", svc.submission)
	}
	var result integrations.ConnectResult
	if ok, _ := decodeEnvelope(t, rec, &result); !ok || result.Reveal["api_key"] != "rfk_once" {
		t.Fatalf("unexpected payload %s", rec.Body.String())
	}
}

func TestConnectIntegrationKeysValidatesBody(t *testing.T) {
	svc := &stubIntegrationService{}
	rec := httptest.NewRecorder()
	ConnectIntegrationKeys(svc, nil).ServeHTTP(rec, businessRequest(http.MethodPost, "/api/v1/integrations/woocommerce/keys", []byte(`{"store_url":"not a url"}`), uuid.New(), map[string]string{"provider": "woocommerce"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.provider != "" {
		t.Fatal("service should not be called for invalid body")
	}
}

func TestConnectIntegrationKeysRejectsOverlongCredentials(t *testing.T) {
	svc := &stubIntegrationService{}
	payload, err := json.Marshal(connectKeysRequest{
		StoreURL:       "https://shop.example.com",
		ConsumerKey:    "ck_" + strings.Repeat("a", 253),
		ConsumerSecret: "cs_1",
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	ConnectIntegrationKeys(svc, nil).ServeHTTP(rec, businessRequest(http.MethodPost, "/api/v1/integrations/woocommerce/keys", payload, uuid.New(), map[string]string{"provider": "woocommerce"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "consumer_key") {
		t.Fatalf("expected consumer_key in validation details: %s", rec.Body.String())
	}
	if svc.provider != "" {
		t.Fatal("service should not be called for an overlong credential")
	}
}

func TestConnectIntegrationKeysPassesMultibyteSecretIntact(t *testing.T) {
	svc := &stubIntegrationService{}
	// 200 runes, 400 bytes: within the limit and never cut mid-rune.
	secret := strings.Repeat("é", 200)
	payload, err := json.Marshal(connectKeysRequest{SigningSecret: " " + secret + " "})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	ConnectIntegrationKeys(svc, nil).ServeHTTP(rec, businessRequest(http.MethodPost, "/api/v1/integrations/custom_webhook/keys", payload, uuid.New(), map[string]string{"provider": "custom_webhook"}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.submission.SigningSecret != secret {
		t.Fatalf("signing secret altered: got %d bytes, want %d", len(svc.submission.SigningSecret), len(secret))
	}
}

func TestSetIntegrationTestMode(t *testing.T) {
	svc := &stubIntegrationService{}
	rec := httptest.NewRecorder()
	SetIntegrationTestMode(svc, nil).ServeHTTP(rec, businessRequest(http.MethodPut, "/api/v1/integrations/clover/test-mode", []byte(`{"enabled":true,"test_phone":"(555) 123-4567"}`), uuid.New(), map[string]string{"provider": "clover"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.testMode == nil || !*svc.testMode || svc.testPhone != "(555) 123-4567" {
		t.Fatalf("unexpected call enabled=%v phone=%q", svc.testMode, svc.testPhone)
	}

	rec = httptest.NewRecorder()
	SetIntegrationTestMode(svc, nil).ServeHTTP(rec, businessRequest(http.MethodPut, "/api/v1/integrations/clover/test-mode", []byte(`{"test_phone":"5551234567"}`), uuid.New(), map[string]string{"provider": "clover"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without enabled flag, got %d", rec.Code)
	}
}

func TestDisconnectIntegrationPropagatesNotFound(t *testing.T) {
	svc := &stubIntegrationService{err: pkgerrors.New(pkgerrors.CodeNotFound, "integration not found")}
	rec := httptest.NewRecorder()
	DisconnectIntegration(svc, nil).ServeHTTP(rec, businessRequest(http.MethodDelete, "/api/v1/integrations/shopify", nil, uuid.New(), map[string]string{"provider": "shopify"}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if ok, code := decodeEnvelope(t, rec, nil); ok || code != string(pkgerrors.CodeNotFound) {
		t.Fatalf("unexpected envelope ok=%v code=%s", ok, code)
	}
}

func TestConfirmConsentAndRegenerate(t *testing.T) {
	svc := &stubIntegrationService{}
	businessID := uuid.New()
	params := map[string]string{"provider": "zapier"}

	rec := httptest.NewRecorder()
	ConfirmIntegrationConsent(svc, nil).ServeHTTP(rec, businessRequest(http.MethodPost, "/api/v1/integrations/zapier/consent", nil, businessID, params))
	var view integrations.View
	if ok, _ := decodeEnvelope(t, rec, &view); !ok || !view.ConsentConfirmed {
		t.Fatalf("unexpected consent payload %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	RegenerateIntegrationKey(svc, nil).ServeHTTP(rec, businessRequest(http.MethodPost, "/api/v1/integrations/zapier/keys/regenerate", nil, businessID, params))
	var result integrations.ConnectResult
	if ok, _ := decodeEnvelope(t, rec, &result); !ok || result.Reveal["api_key"] != "rfk_new" {
		t.Fatalf("unexpected regenerate payload %s", rec.Body.String())
	}
	if svc.provider != enums.ProviderZapier || svc.businessID != businessID {
		t.Fatalf("unexpected scope %s %s", svc.provider, svc.businessID)
	}
}
