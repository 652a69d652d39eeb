package ingestion

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reviewflow-backend/internal/dispatch"
	"github.com/angelmondragon/reviewflow-backend/internal/ledger"
	"github.com/angelmondragon/reviewflow-backend/internal/providers"
	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/metrics"
	"github.com/angelmondragon/reviewflow-backend/pkg/phone"
)

type integrationService interface {
	FindByAccount(ctx context.Context, provider enums.Provider, accountID string) (*models.Integration, error)
	FindByInboundToken(ctx context.Context, provider enums.Provider, token string) (*models.Integration, error)
	InboundSecrets(ctx context.Context, integ *models.Integration) providers.InboundSecrets
	RefreshIfNeeded(ctx context.Context, integ *models.Integration) (*models.Integration, error)
	Credentials(ctx context.Context, integ *models.Integration) (providers.Credentials, error)
}

type locationResolver interface {
	Resolve(ctx context.Context, integrationID uuid.UUID, externalID string) (*models.Location, error)
}

type ledgerRecorder interface {
	Record(ctx context.Context, input ledger.RecordInput) (*models.Transaction, bool, error)
}

type dispatchGate interface {
	Evaluate(ctx context.Context, in dispatch.Input) (*dispatch.Result, error)
}

type eventGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// GatewayParams wires the ingestion gateway.
type GatewayParams struct {
	Registry      *providers.Registry
	Integrations  integrationService
	Locations     locationResolver
	Ledger        ledgerRecorder
	Gate          dispatchGate
	Guard         eventGuard
	Metrics       *metrics.DispatchMetrics
	DefaultRegion string
	Logger        *logger.Logger
	Now           func() time.Time
}

// Gateway turns authenticated provider deliveries into ledger rows and hands
// each one to the dispatch gate.
type Gateway struct {
	registry      *providers.Registry
	integrations  integrationService
	locations     locationResolver
	ledger        ledgerRecorder
	gate          dispatchGate
	guard         eventGuard
	metrics       *metrics.DispatchMetrics
	defaultRegion string
	logg          *logger.Logger
	now           func() time.Time
}

func NewGateway(params GatewayParams) (*Gateway, error) {
	switch {
	case params.Registry == nil:
		return nil, errors.New("provider registry required")
	case params.Integrations == nil:
		return nil, errors.New("integration service required")
	case params.Locations == nil:
		return nil, errors.New("location resolver required")
	case params.Ledger == nil:
		return nil, errors.New("ledger required")
	case params.Gate == nil:
		return nil, errors.New("dispatch gate required")
	case params.Guard == nil:
		return nil, errors.New("idempotency guard required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	region := params.DefaultRegion
	if region == "" {
		region = "US"
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Gateway{
		registry:      params.Registry,
		integrations:  params.Integrations,
		locations:     params.Locations,
		ledger:        params.Ledger,
		gate:          params.Gate,
		guard:         params.Guard,
		metrics:       params.Metrics,
		defaultRegion: region,
		logg:          params.Logger,
		now:           now,
	}, nil
}

// Delivery is one inbound webhook request. Token is empty on app-level routes.
type Delivery struct {
	Provider enums.Provider
	Token    string
	Request  *http.Request
	Body     []byte
}

// Summary counts what happened to the events of one delivery.
type Summary struct {
	Received   int               `json:"received"`
	Duplicates int               `json:"duplicates"`
	Ignored    int               `json:"ignored"`
	Results    []dispatch.Result `json:"results,omitempty"`
}

// Handle authenticates a delivery and processes each of its events. Nothing
// is resolved or recorded for a delivery that fails authentication.
func (g *Gateway) Handle(ctx context.Context, d Delivery) (*Summary, error) {
	adapter, err := g.registry.Get(d.Provider)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown webhook endpoint")
	}
	ctx = g.logg.WithField(ctx, "provider", string(d.Provider))

	if d.Token == "" {
		return g.handleApp(ctx, adapter, d)
	}
	return g.handleTokenized(ctx, adapter, d)
}

func (g *Gateway) handleApp(ctx context.Context, adapter providers.Adapter, d Delivery) (*Summary, error) {
	auth, ok := adapter.(providers.AppAuthenticator)
	if !ok || !auth.AuthenticateApp(d.Request, d.Body) {
		return nil, g.reject(ctx, d.Provider)
	}
	events, err := adapter.ParseEvents(d.Request, d.Body)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Received: len(events)}
	for _, event := range events {
		integ, err := g.integrations.FindByAccount(ctx, d.Provider, event.AccountID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				g.logg.Info(g.logg.WithFields(ctx, map[string]any{
					"account_id": event.AccountID,
					"event_id":   event.ID,
				}), "webhook for unknown integration accepted")
				summary.Ignored++
				continue
			}
			return summary, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve integration")
		}
		if err := g.process(ctx, adapter, integ, event, summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (g *Gateway) handleTokenized(ctx context.Context, adapter providers.Adapter, d Delivery) (*Summary, error) {
	auth, ok := adapter.(providers.SecretAuthenticator)
	if !ok {
		return nil, g.reject(ctx, d.Provider)
	}
	integ, err := g.integrations.FindByInboundToken(ctx, d.Provider, d.Token)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, g.reject(ctx, d.Provider)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve integration")
	}
	if !auth.AuthenticateInbound(d.Request, d.Body, g.integrations.InboundSecrets(ctx, integ)) {
		return nil, g.reject(ctx, d.Provider)
	}

	events, err := adapter.ParseEvents(d.Request, d.Body)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Received: len(events)}
	for _, event := range events {
		if err := g.process(ctx, adapter, integ, event, summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (g *Gateway) reject(ctx context.Context, provider enums.Provider) error {
	g.metrics.IncAuthRejected(string(provider))
	g.logg.Warn(ctx, "webhook authentication failed")
	return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook authentication failed")
}

// process runs one event under the redelivery guard. The mark is cleared on
// failure so the provider's retry is processed again.
func (g *Gateway) process(ctx context.Context, adapter providers.Adapter, integ *models.Integration, event providers.Event, summary *Summary) error {
	ctx = g.logg.WithIntegration(ctx, string(integ.Provider), integ.ID.String())
	ctx = g.logg.WithBusinessID(ctx, integ.BusinessID.String())

	guardKey := ""
	if event.ID != "" {
		guardKey = string(integ.Provider) + ":" + integ.ID.String() + ":" + event.ID
		seen, err := g.guard.CheckAndMark(ctx, guardKey)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
		}
		if seen {
			summary.Duplicates++
			return nil
		}
	}

	result, err := g.dispatch(ctx, adapter, integ, event)
	if err != nil {
		if guardKey != "" {
			if delErr := g.guard.Delete(context.WithoutCancel(ctx), guardKey); delErr != nil {
				g.logg.Warn(g.logg.WithField(ctx, "error", delErr.Error()), "clear idempotency mark")
			}
		}
		return err
	}
	if result == nil {
		summary.Ignored++
		return nil
	}
	summary.Results = append(summary.Results, *result)
	return nil
}

func (g *Gateway) dispatch(ctx context.Context, adapter providers.Adapter, integ *models.Integration, event providers.Event) (*dispatch.Result, error) {
	current, creds, err := g.prepare(ctx, integ)
	if err != nil {
		return nil, err
	}

	purchase, err := adapter.Normalize(ctx, creds, event)
	if err != nil {
		if !current.Usable(g.now()) {
			g.logg.Warn(g.logg.WithField(ctx, "event_id", event.ID), "purchase dropped; integration requires reconnect")
			return nil, nil
		}
		return nil, err
	}
	if purchase == nil {
		return nil, nil
	}

	customerPhone, phoneErr := phone.NormalizeE164(purchase.CustomerPhone, g.defaultRegion)
	if phoneErr != nil {
		g.logg.Warn(g.logg.WithField(ctx, "event_id", purchase.EventID), "purchase phone not normalizable")
		customerPhone = ""
	}

	loc, err := g.locations.Resolve(ctx, current.ID, purchase.LocationExternalID)
	if err != nil {
		return nil, err
	}
	var locationID *uuid.UUID
	if loc != nil {
		locationID = &loc.ID
	}

	txn, created, err := g.ledger.Record(ctx, ledger.RecordInput{
		BusinessID:      current.BusinessID,
		IntegrationID:   current.ID,
		LocationID:      locationID,
		Provider:        current.Provider,
		ProviderEventID: purchase.EventID,
		CustomerName:    purchase.CustomerName,
		CustomerPhone:   customerPhone,
		PurchaseAmount:  purchase.Amount,
		Currency:        purchase.Currency,
		TestMode:        current.TestMode,
		ReceivedAt:      g.now(),
	})
	if err != nil {
		return nil, err
	}
	if !created {
		g.logg.Debug(g.logg.WithField(ctx, "transaction_id", txn.ID.String()), "purchase already recorded")
	}

	return g.gate.Evaluate(ctx, dispatch.Input{
		Transaction: txn,
		Integration: current,
		Location:    loc,
		FirstName:   firstName(purchase.CustomerName),
	})
}

// prepare refreshes credentials when they are about to expire. An integration
// that can no longer be refreshed is returned as is so the gate records the
// purchase as failed.
func (g *Gateway) prepare(ctx context.Context, integ *models.Integration) (*models.Integration, providers.Credentials, error) {
	current, err := g.integrations.RefreshIfNeeded(ctx, integ)
	switch {
	case err == nil:
	case pkgerrors.IsCode(err, pkgerrors.CodeReconnectRequired):
		expired := *integ
		expired.Status = enums.IntegrationStatusExpired
		expired.IsActive = false
		current = &expired
	default:
		return nil, providers.Credentials{}, err
	}

	creds, err := g.integrations.Credentials(ctx, current)
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeReconnectRequired) {
			return nil, providers.Credentials{}, err
		}
		unreadable := *current
		unreadable.IsActive = false
		current = &unreadable
	}
	return current, creds, nil
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
