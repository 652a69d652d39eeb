package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/reviewflow-backend/internal/ingestion"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
)

type fakeGateway struct {
	deliveries []ingestion.Delivery
	err        error
}

func (f *fakeGateway) Handle(_ context.Context, d ingestion.Delivery) (*ingestion.Summary, error) {
	f.deliveries = append(f.deliveries, d)
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.Summary{Received: 1}, nil
}

func serve(handler http.Handler, path string, body []byte) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Post("/webhooks/{provider}", handler.ServeHTTP)
	router.Post("/webhooks/{provider}/{token}", handler.ServeHTTP)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body)))
	return rec
}

func TestProviderWebhookPassesRawBodyAndToken(t *testing.T) {
	gateway := &fakeGateway{}
	body := []byte(`{"event_id":"evt_1"}`)
	rec := serve(ProviderWebhook(gateway, nil), "/webhooks/zapier/tok_123", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(gateway.deliveries) != 1 {
		t.Fatalf("expected one delivery, got %d", len(gateway.deliveries))
	}
	d := gateway.deliveries[0]
	if d.Provider != enums.ProviderZapier || d.Token != "tok_123" || !bytes.Equal(d.Body, body) {
		t.Fatalf("unexpected delivery %+v", d)
	}
}

func TestProviderWebhookAppRouteHasNoToken(t *testing.T) {
	gateway := &fakeGateway{}
	serve(ProviderWebhook(gateway, nil), "/webhooks/square", []byte(`{}`))
	if len(gateway.deliveries) != 1 || gateway.deliveries[0].Token != "" {
		t.Fatalf("unexpected deliveries %+v", gateway.deliveries)
	}
}

func TestProviderWebhookRejectsUnknownProvider(t *testing.T) {
	gateway := &fakeGateway{}
	rec := serve(ProviderWebhook(gateway, nil), "/webhooks/toast", []byte(`{}`))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if len(gateway.deliveries) != 0 {
		t.Fatal("gateway should not be called")
	}
}

func TestProviderWebhookMapsAuthFailure(t *testing.T) {
	gateway := &fakeGateway{err: pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid signature")}
	rec := serve(ProviderWebhook(gateway, nil), "/webhooks/shopify", []byte(`{}`))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}

	gateway.err = pkgerrors.New(pkgerrors.CodeDependency, "dispatch lock held")
	rec = serve(ProviderWebhook(gateway, nil), "/webhooks/shopify", []byte(`{}`))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected retryable 503 got %d", rec.Code)
	}
}
