package ingestion

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/reviewflow-backend/internal/dispatch"
	"github.com/angelmondragon/reviewflow-backend/internal/ledger"
	"github.com/angelmondragon/reviewflow-backend/internal/providers"
	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/metrics"
	"github.com/angelmondragon/reviewflow-backend/pkg/security"
)

// appAdapter stands in for an OAuth provider whose deliveries carry the
// merchant id and an app-level signature header.
type appAdapter struct {
	purchase  *providers.Purchase
	normErr   error
	normCalls int
}

func (a *appAdapter) Provider() enums.Provider { return enums.ProviderSquare }
func (a *appAdapter) Kind() enums.ProviderKind { return enums.ProviderKindOAuth }

func (a *appAdapter) AuthenticateApp(r *http.Request, _ []byte) bool {
	return r.Header.Get("X-Test-Signature") == "valid"
}

func (a *appAdapter) ParseEvents(r *http.Request, body []byte) ([]providers.Event, error) {
	return []providers.Event{{ID: r.Header.Get("X-Test-Event"), AccountID: string(body), Type: "payment.updated"}}, nil
}

func (a *appAdapter) Normalize(_ context.Context, _ providers.Credentials, _ providers.Event) (*providers.Purchase, error) {
	a.normCalls++
	return a.purchase, a.normErr
}

func (a *appAdapter) ListLocations(context.Context, providers.Credentials) ([]providers.RemoteLocation, error) {
	return nil, nil
}

type stubIntegrations struct {
	byAccount   map[string]*models.Integration
	byToken     map[string]*models.Integration
	keyHash     string
	refreshErr  error
	credsErr    error
	lookups     int
	tokenLookup int
}

func (s *stubIntegrations) FindByAccount(_ context.Context, _ enums.Provider, accountID string) (*models.Integration, error) {
	s.lookups++
	if integ, ok := s.byAccount[accountID]; ok {
		return integ, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "integration not found")
}

func (s *stubIntegrations) FindByInboundToken(_ context.Context, _ enums.Provider, token string) (*models.Integration, error) {
	s.tokenLookup++
	if integ, ok := s.byToken[token]; ok {
		return integ, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "integration not found")
}

func (s *stubIntegrations) InboundSecrets(context.Context, *models.Integration) providers.InboundSecrets {
	return providers.InboundSecrets{KeyHash: s.keyHash}
}

func (s *stubIntegrations) RefreshIfNeeded(_ context.Context, integ *models.Integration) (*models.Integration, error) {
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return integ, nil
}

func (s *stubIntegrations) Credentials(context.Context, *models.Integration) (providers.Credentials, error) {
	return providers.Credentials{AccessToken: "token"}, s.credsErr
}

type stubLocations struct {
	byExternal map[string]*models.Location
}

func (s *stubLocations) Resolve(_ context.Context, _ uuid.UUID, externalID string) (*models.Location, error) {
	return s.byExternal[externalID], nil
}

type recordingLedger struct {
	recorded []ledger.RecordInput
	byEvent  map[string]*models.Transaction
}

func (l *recordingLedger) Record(_ context.Context, in ledger.RecordInput) (*models.Transaction, bool, error) {
	if existing, ok := l.byEvent[in.ProviderEventID]; ok && in.ProviderEventID != "" {
		return existing, false, nil
	}
	l.recorded = append(l.recorded, in)
	txn := &models.Transaction{
		ID:             uuid.New(),
		BusinessID:     in.BusinessID,
		IntegrationID:  in.IntegrationID,
		LocationID:     in.LocationID,
		Provider:       in.Provider,
		CustomerPhone:  in.CustomerPhone,
		DispatchStatus: enums.DispatchStatusPending,
	}
	l.byEvent[in.ProviderEventID] = txn
	return txn, true, nil
}

type recordingGate struct {
	inputs []dispatch.Input
	err    error
}

func (g *recordingGate) Evaluate(_ context.Context, in dispatch.Input) (*dispatch.Result, error) {
	g.inputs = append(g.inputs, in)
	if g.err != nil {
		return nil, g.err
	}
	return &dispatch.Result{TransactionID: in.Transaction.ID, Status: enums.DispatchStatusSent}, nil
}

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "rf:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

type harness struct {
	gateway      *Gateway
	adapter      *appAdapter
	integrations *stubIntegrations
	ledger       *recordingLedger
	gate         *recordingGate
	reg          *prometheus.Registry
	integ        *models.Integration
	zapier       *models.Integration
	location     *models.Location
	apiKey       string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	adapter := &appAdapter{}
	registry, err := providers.NewRegistry(adapter, providers.NewZapierAdapter())
	require.NoError(t, err)

	apiKey := "rfk_test_inbound_key"
	hash, err := security.HashSecret(apiKey, config.PasswordConfig{
		ArgonMemoryKB:    32768,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	})
	require.NoError(t, err)

	integ := &models.Integration{
		ID:               uuid.New(),
		BusinessID:       uuid.New(),
		Provider:         enums.ProviderSquare,
		Status:           enums.IntegrationStatusLinked,
		IsActive:         true,
		ConsentConfirmed: true,
	}
	zapier := &models.Integration{
		ID:           uuid.New(),
		BusinessID:   integ.BusinessID,
		Provider:     enums.ProviderZapier,
		Status:       enums.IntegrationStatusLinked,
		IsActive:     true,
		InboundToken: "tok_zapier",
	}
	location := &models.Location{ID: uuid.New(), IntegrationID: integ.ID, ExternalLocationID: "L1", Enabled: true}

	integrations := &stubIntegrations{
		byAccount: map[string]*models.Integration{"MERCHANT-A": integ},
		byToken:   map[string]*models.Integration{"tok_zapier": zapier},
		keyHash:   hash,
	}
	guard, err := NewIdempotencyGuard(&memoryStore{values: map[string]string{}}, time.Hour, "webhook")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	led := &recordingLedger{byEvent: map[string]*models.Transaction{}}
	gate := &recordingGate{}
	gw, err := NewGateway(GatewayParams{
		Registry:     registry,
		Integrations: integrations,
		Locations:    &stubLocations{byExternal: map[string]*models.Location{"L1": location}},
		Ledger:       led,
		Gate:         gate,
		Guard:        guard,
		Metrics:      metrics.NewDispatchMetrics(reg),
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}}),
	})
	require.NoError(t, err)

	adapter.purchase = &providers.Purchase{
		EventID:            "pay-1",
		CustomerName:       "Ada Lovelace",
		CustomerPhone:      "(555) 123-4567",
		Amount:             decimal.RequireFromString("42.50"),
		Currency:           "USD",
		LocationExternalID: "L1",
	}
	return &harness{
		gateway:      gw,
		adapter:      adapter,
		integrations: integrations,
		ledger:       led,
		gate:         gate,
		reg:          reg,
		integ:        integ,
		zapier:       zapier,
		location:     location,
		apiKey:       apiKey,
	}
}

func appDelivery(signature, eventID, account string) Delivery {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/square", strings.NewReader(account))
	req.Header.Set("X-Test-Signature", signature)
	req.Header.Set("X-Test-Event", eventID)
	return Delivery{Provider: enums.ProviderSquare, Request: req, Body: []byte(account)}
}

func zapierDelivery(token, key, body string) Delivery {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/zapier/"+token, strings.NewReader(body))
	if key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	return Delivery{Provider: enums.ProviderZapier, Token: token, Request: req, Body: []byte(body)}
}

func TestHandleRejectsInvalidSignatureBeforeLookup(t *testing.T) {
	h := newHarness(t)

	_, err := h.gateway.Handle(context.Background(), appDelivery("forged", "evt-1", "MERCHANT-A"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	assert.Zero(t, h.integrations.lookups, "integration must not be resolved")
	assert.Empty(t, h.ledger.recorded)
	assert.Empty(t, h.gate.inputs)

	mfs, err := h.reg.Gather()
	require.NoError(t, err)
	var rejected float64
	for _, mf := range mfs {
		if mf.GetName() == "ingestion_auth_rejections_total" {
			rejected = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), rejected)
}

func TestHandleRecordsAndDispatches(t *testing.T) {
	h := newHarness(t)

	summary, err := h.gateway.Handle(context.Background(), appDelivery("valid", "evt-1", "MERCHANT-A"))
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, enums.DispatchStatusSent, summary.Results[0].Status)

	require.Len(t, h.ledger.recorded, 1)
	rec := h.ledger.recorded[0]
	assert.Equal(t, "+15551234567", rec.CustomerPhone)
	assert.Equal(t, "pay-1", rec.ProviderEventID)
	assert.Equal(t, h.location.ID, *rec.LocationID)
	assert.True(t, decimal.RequireFromString("42.50").Equal(rec.PurchaseAmount))

	require.Len(t, h.gate.inputs, 1)
	assert.Equal(t, "Ada", h.gate.inputs[0].FirstName)
	assert.Same(t, h.location, h.gate.inputs[0].Location)
}

func TestHandleAcceptsUnknownIntegration(t *testing.T) {
	h := newHarness(t)

	summary, err := h.gateway.Handle(context.Background(), appDelivery("valid", "evt-1", "MERCHANT-UNKNOWN"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ignored)
	assert.Empty(t, h.ledger.recorded)
}

func TestHandleUnknownLocationRecordsWithoutLocation(t *testing.T) {
	h := newHarness(t)
	h.adapter.purchase.LocationExternalID = "L2"

	_, err := h.gateway.Handle(context.Background(), appDelivery("valid", "evt-1", "MERCHANT-A"))
	require.NoError(t, err)
	require.Len(t, h.ledger.recorded, 1)
	assert.Nil(t, h.ledger.recorded[0].LocationID)
	require.Len(t, h.gate.inputs, 1)
	assert.Nil(t, h.gate.inputs[0].Location)
}

func TestHandleSkipsRedelivery(t *testing.T) {
	h := newHarness(t)

	_, err := h.gateway.Handle(context.Background(), appDelivery("valid", "evt-1", "MERCHANT-A"))
	require.NoError(t, err)
	summary, err := h.gateway.Handle(context.Background(), appDelivery("valid", "evt-1", "MERCHANT-A"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Duplicates)
	assert.Len(t, h.gate.inputs, 1)
}

func TestHandleClearsMarkWhenDispatchFails(t *testing.T) {
	h := newHarness(t)
	h.gate.err = pkgerrors.New(pkgerrors.CodeDependency, "dispatch in progress for recipient")

	_, err := h.gateway.Handle(context.Background(), appDelivery("valid", "evt-1", "MERCHANT-A"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))

	h.gate.err = nil
	summary, err := h.gateway.Handle(context.Background(), appDelivery("valid", "evt-1", "MERCHANT-A"))
	require.NoError(t, err)
	assert.Zero(t, summary.Duplicates)
	assert.Len(t, h.gate.inputs, 2)
	assert.Len(t, h.ledger.recorded, 1, "retry reuses the recorded transaction")
}

func TestHandleIgnoresNonPurchaseEvents(t *testing.T) {
	h := newHarness(t)
	h.adapter.purchase = nil

	summary, err := h.gateway.Handle(context.Background(), appDelivery("valid", "evt-1", "MERCHANT-A"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ignored)
	assert.Empty(t, h.ledger.recorded)
}

func TestHandleExpiredIntegrationReachesGateUnusable(t *testing.T) {
	h := newHarness(t)
	h.integrations.refreshErr = pkgerrors.New(pkgerrors.CodeReconnectRequired, "refresh rejected")

	_, err := h.gateway.Handle(context.Background(), appDelivery("valid", "evt-1", "MERCHANT-A"))
	require.NoError(t, err)
	require.Len(t, h.gate.inputs, 1)
	assert.False(t, h.gate.inputs[0].Integration.Usable(time.Now()))
	assert.True(t, h.integ.IsActive, "stored integration is not mutated")
}

func TestHandleProviderOutageIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.integrations.refreshErr = pkgerrors.New(pkgerrors.CodeDependency, "refresh access token")

	_, err := h.gateway.Handle(context.Background(), appDelivery("valid", "evt-1", "MERCHANT-A"))
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.Empty(t, h.ledger.recorded)
}

func TestHandleDropsPurchaseWhenCredentialsUnreadable(t *testing.T) {
	h := newHarness(t)
	h.integrations.credsErr = pkgerrors.New(pkgerrors.CodeReconnectRequired, "stored credentials unreadable")
	h.adapter.normErr = errors.New("square: unauthorized")

	summary, err := h.gateway.Handle(context.Background(), appDelivery("valid", "evt-1", "MERCHANT-A"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ignored)
	assert.Empty(t, h.ledger.recorded)
}

func TestHandleTokenizedRoute(t *testing.T) {
	body := `{"event_id":"z-1","customer_name":"Grace Hopper","customer_phone":"+1 555 765 4321","purchase_amount":"10.00"}`

	t.Run("unknown token", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.gateway.Handle(context.Background(), zapierDelivery("tok_missing", h.apiKey, body))
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
		assert.Empty(t, h.ledger.recorded)
	})

	t.Run("wrong key", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.gateway.Handle(context.Background(), zapierDelivery("tok_zapier", "rfk_wrong", body))
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
		assert.Empty(t, h.ledger.recorded)
		assert.Empty(t, h.gate.inputs)
	})

	t.Run("valid key", func(t *testing.T) {
		h := newHarness(t)
		summary, err := h.gateway.Handle(context.Background(), zapierDelivery("tok_zapier", h.apiKey, body))
		require.NoError(t, err)
		require.Len(t, summary.Results, 1)
		require.Len(t, h.ledger.recorded, 1)
		assert.Equal(t, h.zapier.ID, h.ledger.recorded[0].IntegrationID)
		assert.Equal(t, "+15557654321", h.ledger.recorded[0].CustomerPhone)
		assert.Equal(t, "Grace", h.gate.inputs[0].FirstName)
	})
}

func TestHandleUnknownProvider(t *testing.T) {
	h := newHarness(t)
	_, err := h.gateway.Handle(context.Background(), Delivery{Provider: enums.ProviderClover})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
