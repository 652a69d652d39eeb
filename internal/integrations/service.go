package integrations

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reviewflow-backend/internal/locations"
	"github.com/angelmondragon/reviewflow-backend/internal/providers"
	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	"github.com/angelmondragon/reviewflow-backend/pkg/db"
	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/phone"
	"github.com/angelmondragon/reviewflow-backend/pkg/redis"
	"github.com/angelmondragon/reviewflow-backend/pkg/security"
)

const (
	uniqueBusinessProviderConstraint = "integrations_business_provider_key"
	defaultRefreshWindow             = 5 * time.Minute
	inboundTokenBytes                = 24
)

type repository interface {
	Create(ctx context.Context, integ *models.Integration) error
	UpdateIfVersion(ctx context.Context, id uuid.UUID, expectedVersion int, fields map[string]any) (bool, error)
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Integration, error)
	FindByBusinessAndProvider(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*models.Integration, error)
	FindActiveByAccount(ctx context.Context, provider enums.Provider, accountID string) (*models.Integration, error)
	FindByInboundToken(ctx context.Context, provider enums.Provider, token string) (*models.Integration, error)
	ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]models.Integration, error)
	UpdateTokensIfVersion(ctx context.Context, id uuid.UUID, expectedVersion int, update TokenUpdate) (bool, error)
	MarkExpired(ctx context.Context, id uuid.UUID) error
}

type stateIssuer interface {
	Issue(ctx context.Context, provider enums.Provider, businessID uuid.UUID, shopDomain string) (string, error)
	Consume(ctx context.Context, provider enums.Provider, state string) (*providers.StateClaims, error)
}

type credentialVault interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ctx context.Context, blob []byte) (string, bool)
}

type lockStore interface {
	redis.LockStore
	LockKey(scope string, parts ...string) string
}

// LocationSyncer reconciles stored locations with a provider fetch.
type LocationSyncer interface {
	Apply(ctx context.Context, integrationID uuid.UUID, remote []providers.RemoteLocation) (*locations.SyncResult, error)
}

// ServiceParams wires the integration service.
type ServiceParams struct {
	Repo        repository
	Registry    *providers.Registry
	StateIssuer stateIssuer
	Vault       credentialVault
	Locks       lockStore
	Locations   LocationSyncer
	App         config.AppConfig
	Providers   config.ProvidersConfig
	Password    config.PasswordConfig
	Dispatch    config.DispatchConfig
	Logger      *logger.Logger
	Now         func() time.Time
}

// Service manages the lifecycle of provider integrations.
type Service struct {
	repo      repository
	registry  *providers.Registry
	state     stateIssuer
	vault     credentialVault
	locks     lockStore
	locations LocationSyncer
	app       config.AppConfig
	cfg       config.ProvidersConfig
	password  config.PasswordConfig
	region    string
	logg      *logger.Logger
	now       func() time.Time
}

// NewService validates dependencies.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, errors.New("integration repository required")
	case params.Registry == nil:
		return nil, errors.New("provider registry required")
	case params.StateIssuer == nil:
		return nil, errors.New("state issuer required")
	case params.Vault == nil:
		return nil, errors.New("vault required")
	case params.Locks == nil:
		return nil, errors.New("lock store required")
	case params.Locations == nil:
		return nil, errors.New("location syncer required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	cfg := params.Providers
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = defaultRefreshWindow
	}
	return &Service{
		repo:      params.Repo,
		registry:  params.Registry,
		state:     params.StateIssuer,
		vault:     params.Vault,
		locks:     params.Locks,
		locations: params.Locations,
		app:       params.App,
		cfg:       cfg,
		password:  params.Password,
		region:    params.Dispatch.DefaultRegion,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// View is the business-facing shape of an integration. It never carries
// credentials.
type View struct {
	Provider           enums.Provider          `json:"provider"`
	Kind               enums.ProviderKind      `json:"kind"`
	Connected          bool                    `json:"connected"`
	ID                 *uuid.UUID              `json:"id,omitempty"`
	Status             enums.IntegrationStatus `json:"status,omitempty"`
	IsActive           bool                    `json:"is_active"`
	ExternalAccountID  string                  `json:"external_account_id,omitempty"`
	TestMode           bool                    `json:"test_mode"`
	TestPhone          string                  `json:"test_phone,omitempty"`
	ConsentConfirmed   bool                    `json:"consent_confirmed"`
	ConsentConfirmedAt *time.Time              `json:"consent_confirmed_at,omitempty"`
	TokenExpiresAt     *time.Time              `json:"token_expires_at,omitempty"`
	WebhookURL         string                  `json:"webhook_url,omitempty"`
	ConnectedAt        *time.Time              `json:"connected_at,omitempty"`
	DisconnectedAt     *time.Time              `json:"disconnected_at,omitempty"`
}

// ConnectResult is returned by key connections and regenerations. Reveal is
// shown once and never stored in plaintext.
type ConnectResult struct {
	Integration View              `json:"integration"`
	Reveal      map[string]string `json:"reveal,omitempty"`
}

// CallbackInput carries an OAuth redirect.
type CallbackInput struct {
	State      string
	Code       string
	ShopDomain string
	MerchantID string
	URL        *url.URL
}

// Registry exposes the adapters the service was built with.
func (s *Service) Registry() *providers.Registry {
	return s.registry
}

// List returns one entry per available provider.
func (s *Service) List(ctx context.Context, businessID uuid.UUID) ([]View, error) {
	rows, err := s.repo.ListByBusiness(ctx, businessID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list integrations")
	}
	byProvider := make(map[enums.Provider]*models.Integration, len(rows))
	for i := range rows {
		byProvider[rows[i].Provider] = &rows[i]
	}

	var out []View
	for _, p := range s.registry.Providers() {
		adapter, err := s.registry.Get(p)
		if err != nil {
			continue
		}
		if integ, ok := byProvider[p]; ok {
			out = append(out, s.view(adapter, integ))
			continue
		}
		out = append(out, View{Provider: p, Kind: adapter.Kind()})
	}
	return out, nil
}

// Get returns the view of the business's integration for provider.
func (s *Service) Get(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*View, error) {
	adapter, integ, err := s.load(ctx, businessID, provider)
	if err != nil {
		return nil, err
	}
	v := s.view(adapter, integ)
	return &v, nil
}

// BeginAuthorization returns the provider consent URL for an OAuth provider.
func (s *Service) BeginAuthorization(ctx context.Context, businessID uuid.UUID, provider enums.Provider, shopDomain string) (string, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return "", err
	}
	authorizer, ok := adapter.(providers.Authorizer)
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "provider does not use oauth")
	}

	shop := ""
	if scoped, ok := adapter.(providers.ShopScoped); ok {
		shop, err = scoped.NormalizeShop(shopDomain)
		if err != nil {
			return "", err
		}
	}

	state, err := s.state.Issue(ctx, provider, businessID, shop)
	if err != nil {
		return "", err
	}
	return authorizer.AuthorizationURL(state, shop)
}

// CompleteAuthorization validates the callback, exchanges the code and links
// the integration. Re-authorizing overwrites credentials and re-syncs
// locations.
func (s *Service) CompleteAuthorization(ctx context.Context, provider enums.Provider, in CallbackInput) (*models.Integration, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	authorizer, ok := adapter.(providers.Authorizer)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider does not use oauth")
	}
	if verifier, ok := adapter.(providers.CallbackVerifier); ok {
		if in.URL == nil || !verifier.VerifyCallback(in.URL) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "callback signature invalid")
		}
	}

	claims, err := s.state.Consume(ctx, provider, in.State)
	if err != nil {
		return nil, err
	}
	if scoped, ok := adapter.(providers.ShopScoped); ok {
		shop, err := scoped.NormalizeShop(in.ShopDomain)
		if err != nil || shop != claims.ShopDomain {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "oauth state invalid or expired")
		}
		in.ShopDomain = shop
	}
	if strings.TrimSpace(in.Code) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization code required")
	}

	ctx = s.logg.WithBusinessID(ctx, claims.BusinessID.String())
	tokens, err := authorizer.ExchangeCode(ctx, providers.CallbackParams{
		Code:       in.Code,
		ShopDomain: in.ShopDomain,
		MerchantID: in.MerchantID,
		URL:        in.URL,
	})
	if err != nil {
		return nil, err
	}
	if err := s.ensureAccountUnclaimed(ctx, provider, tokens.ProviderMerchantID, claims.BusinessID); err != nil {
		return nil, err
	}

	access, err := s.vault.Encrypt(tokens.AccessToken)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt access token")
	}
	refresh, err := s.vault.Encrypt(tokens.RefreshToken)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt refresh token")
	}

	integ, err := s.upsert(ctx, claims.BusinessID, provider, linkCredentials{
		access:    access,
		refresh:   refresh,
		expiresAt: tokens.ExpiresAt,
		accountID: optionalString(tokens.ProviderMerchantID),
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithIntegration(ctx, string(provider), integ.ID.String())
	s.logg.Info(ctx, "integration linked")
	if _, err := s.SyncIntegration(ctx, integ); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "initial location sync failed")
	}
	return integ, nil
}

// ConnectWithKeys links a key or pass-through provider. Generated secrets are
// returned once in Reveal.
func (s *Service) ConnectWithKeys(ctx context.Context, businessID uuid.UUID, provider enums.Provider, sub providers.KeySubmission) (*ConnectResult, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	connector, ok := adapter.(providers.KeyConnector)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider does not accept keys")
	}

	conn, err := connector.Connect(ctx, sub)
	if err != nil {
		return nil, err
	}
	if err := s.ensureAccountUnclaimed(ctx, provider, conn.ExternalAccountID, businessID); err != nil {
		return nil, err
	}
	secrets, err := s.sealConnection(conn)
	if err != nil {
		return nil, err
	}

	integ, err := s.upsert(ctx, businessID, provider, linkCredentials{
		apiKey:        secrets.apiKey,
		webhookSecret: secrets.webhookSecret,
		keyHash:       secrets.keyHash,
		accountID:     optionalString(conn.ExternalAccountID),
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithIntegration(s.logg.WithBusinessID(ctx, businessID.String()), string(provider), integ.ID.String())
	s.logg.Info(ctx, "integration connected with keys")
	if _, err := s.SyncIntegration(ctx, integ); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "initial location sync failed")
	}

	view := s.view(adapter, integ)
	return &ConnectResult{Integration: view, Reveal: s.reveal(conn.Reveal, view)}, nil
}

// RegenerateKey rotates the generated inbound secret. The previous secret
// stops working immediately.
func (s *Service) RegenerateKey(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*ConnectResult, error) {
	adapter, integ, err := s.load(ctx, businessID, provider)
	if err != nil {
		return nil, err
	}
	regenerator, ok := adapter.(providers.KeyRegenerator)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider has no generated key")
	}
	if integ.Status != enums.IntegrationStatusLinked {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "integration is not linked")
	}

	conn, err := regenerator.Regenerate()
	if err != nil {
		return nil, err
	}
	secrets, err := s.sealConnection(conn)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if secrets.webhookSecret != nil {
		fields["webhook_secret_ciphertext"] = secrets.webhookSecret
	}
	if secrets.keyHash != nil {
		fields["inbound_key_hash"] = *secrets.keyHash
	}
	if len(fields) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "regenerated connection carries no secret")
	}
	integ, err = s.updateCurrent(ctx, integ, fields, "save regenerated key")
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithIntegration(s.logg.WithBusinessID(ctx, businessID.String()), string(provider), integ.ID.String())
	s.logg.Info(ctx, "inbound key regenerated")

	view := s.view(adapter, integ)
	return &ConnectResult{Integration: view, Reveal: s.reveal(conn.Reveal, view)}, nil
}

// ConfirmConsent records that the business confirmed its customers agreed
// to receive review requests.
func (s *Service) ConfirmConsent(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*View, error) {
	adapter, integ, err := s.load(ctx, businessID, provider)
	if err != nil {
		return nil, err
	}
	if !integ.ConsentConfirmed {
		integ, err = s.updateCurrent(ctx, integ, map[string]any{
			"consent_confirmed":    true,
			"consent_confirmed_at": s.now(),
		}, "save consent")
		if err != nil {
			return nil, err
		}
	}
	v := s.view(adapter, integ)
	return &v, nil
}

// SetTestMode routes all sends of the integration to testPhone while enabled.
func (s *Service) SetTestMode(ctx context.Context, businessID uuid.UUID, provider enums.Provider, enabled bool, testPhone string) (*View, error) {
	adapter, integ, err := s.load(ctx, businessID, provider)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{"test_mode": false, "test_phone": nil}
	if enabled {
		normalized, err := phone.NormalizeE164(testPhone, s.region)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "test phone must be a valid phone number")
		}
		fields["test_mode"] = true
		fields["test_phone"] = normalized
	}
	integ, err = s.updateCurrent(ctx, integ, fields, "save test mode")
	if err != nil {
		return nil, err
	}
	v := s.view(adapter, integ)
	return &v, nil
}

// Disconnect revokes remotely when supported and always deactivates locally.
func (s *Service) Disconnect(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*View, error) {
	adapter, integ, err := s.load(ctx, businessID, provider)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithIntegration(s.logg.WithBusinessID(ctx, businessID.String()), string(provider), integ.ID.String())

	if revoker, ok := adapter.(providers.Revoker); ok && integ.Status == enums.IntegrationStatusLinked {
		creds, err := s.Credentials(ctx, integ)
		if err == nil {
			err = revoker.Revoke(ctx, creds)
		}
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "remote revoke failed; deactivating locally")
		}
	}

	if err := s.repo.Revoke(ctx, integ.ID, s.now()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save disconnect")
	}
	integ, err = s.repo.FindByID(ctx, integ.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload integration")
	}
	s.logg.Info(ctx, "integration disconnected")
	v := s.view(adapter, integ)
	return &v, nil
}

// RefreshIfNeeded refreshes the access token when it expires within the
// refresh window. Refreshes are serialized per integration with a redis lock
// and guarded by the row version. A rejected refresh marks the integration
// expired; a provider outage leaves it untouched.
func (s *Service) RefreshIfNeeded(ctx context.Context, integ *models.Integration) (*models.Integration, error) {
	return s.RefreshWithin(ctx, integ, s.cfg.RefreshWindow)
}

// RefreshWithin refreshes the access token when it expires within window.
func (s *Service) RefreshWithin(ctx context.Context, integ *models.Integration, window time.Duration) (*models.Integration, error) {
	if !s.needsRefresh(integ, window) {
		return integ, nil
	}
	adapter, err := s.registry.Get(integ.Provider)
	if err != nil {
		return nil, err
	}
	refresher, ok := adapter.(providers.Refresher)
	if !ok {
		return integ, nil
	}

	ctx = s.logg.WithIntegration(ctx, string(integ.Provider), integ.ID.String())
	result := integ
	key := s.locks.LockKey("refresh", integ.ID.String())
	err = redis.TryWithLock(ctx, s.locks, key, s.cfg.LockTTL, func(ctx context.Context) error {
		current, err := s.repo.FindByID(ctx, integ.ID)
		if err != nil {
			return err
		}
		result = current
		if !s.needsRefresh(current, window) {
			return nil
		}

		refreshToken, ok := s.vault.Decrypt(ctx, current.RefreshTokenCiphertext)
		if !ok {
			return s.expire(ctx, current, pkgerrors.New(pkgerrors.CodeReconnectRequired, "refresh token unavailable"))
		}

		refreshCtx, cancel := s.withTimeout(ctx)
		defer cancel()
		tokens, err := refresher.Refresh(refreshCtx, refreshToken)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeReconnectRequired) {
				return s.expire(ctx, current, err)
			}
			return dependencyError(err, "refresh access token")
		}
		if tokens.RefreshToken == "" {
			tokens.RefreshToken = refreshToken
		}

		update := TokenUpdate{TokenExpiresAt: tokens.ExpiresAt}
		if update.AccessTokenCiphertext, err = s.vault.Encrypt(tokens.AccessToken); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt access token")
		}
		if update.RefreshTokenCiphertext, err = s.vault.Encrypt(tokens.RefreshToken); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt refresh token")
		}
		applied, err := s.repo.UpdateTokensIfVersion(ctx, current.ID, current.Version, update)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist refreshed tokens")
		}
		if reloaded, err := s.repo.FindByID(ctx, current.ID); err == nil {
			result = reloaded
		}
		if applied {
			s.logg.Info(ctx, "access token refreshed")
		}
		return nil
	})
	if errors.Is(err, redis.ErrLockHeld) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "token refresh in progress")
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Credentials decrypts the integration's stored secrets for one call.
func (s *Service) Credentials(ctx context.Context, integ *models.Integration) (providers.Credentials, error) {
	creds := providers.Credentials{}
	if integ.ExternalAccountID != nil {
		creds.ExternalAccountID = *integ.ExternalAccountID
	}
	if len(integ.AccessTokenCiphertext) > 0 {
		token, ok := s.vault.Decrypt(ctx, integ.AccessTokenCiphertext)
		if !ok {
			return providers.Credentials{}, pkgerrors.New(pkgerrors.CodeReconnectRequired, "stored credentials unreadable")
		}
		creds.AccessToken = token
	}
	if len(integ.RefreshTokenCiphertext) > 0 {
		if token, ok := s.vault.Decrypt(ctx, integ.RefreshTokenCiphertext); ok {
			creds.RefreshToken = token
		}
	}
	if len(integ.APIKeyCiphertext) > 0 {
		key, ok := s.vault.Decrypt(ctx, integ.APIKeyCiphertext)
		if !ok {
			return providers.Credentials{}, pkgerrors.New(pkgerrors.CodeReconnectRequired, "stored credentials unreadable")
		}
		creds.APIKey = key
	}
	return creds, nil
}

// InboundSecrets returns the values used to authenticate deliveries on the
// tokenized webhook route. Unreadable secrets come back empty so
// authentication fails closed.
func (s *Service) InboundSecrets(ctx context.Context, integ *models.Integration) providers.InboundSecrets {
	var out providers.InboundSecrets
	if secret, ok := s.vault.Decrypt(ctx, integ.WebhookSecretCiphertext); ok {
		out.WebhookSecret = secret
	}
	if integ.InboundKeyHash != nil {
		out.KeyHash = *integ.InboundKeyHash
	}
	return out
}

// FindByAccount resolves an app-level delivery to its active integration.
func (s *Service) FindByAccount(ctx context.Context, provider enums.Provider, accountID string) (*models.Integration, error) {
	return s.repo.FindActiveByAccount(ctx, provider, accountID)
}

// FindByInboundToken resolves a tokenized delivery URL to its integration.
func (s *Service) FindByInboundToken(ctx context.Context, provider enums.Provider, token string) (*models.Integration, error) {
	return s.repo.FindByInboundToken(ctx, provider, token)
}

// FindByBusinessAndProvider loads the business's integration for provider.
func (s *Service) FindByBusinessAndProvider(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*models.Integration, error) {
	return s.repo.FindByBusinessAndProvider(ctx, businessID, provider)
}

// SyncLocations fetches the business's provider locations and reconciles the
// local mirror.
func (s *Service) SyncLocations(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*locations.SyncResult, error) {
	_, integ, err := s.load(ctx, businessID, provider)
	if err != nil {
		return nil, err
	}
	return s.SyncIntegration(ctx, integ)
}

// SyncIntegration reconciles the locations of one usable integration.
func (s *Service) SyncIntegration(ctx context.Context, integ *models.Integration) (*locations.SyncResult, error) {
	adapter, err := s.registry.Get(integ.Provider)
	if err != nil {
		return nil, err
	}
	integ, err = s.RefreshIfNeeded(ctx, integ)
	if err != nil {
		return nil, err
	}
	if !integ.Usable(s.now()) {
		return nil, pkgerrors.New(pkgerrors.CodeReconnectRequired, "integration must be reconnected")
	}
	creds, err := s.Credentials(ctx, integ)
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	remote, err := adapter.ListLocations(fetchCtx, creds)
	if err != nil {
		return nil, dependencyError(err, "list provider locations")
	}
	return s.locations.Apply(ctx, integ.ID, remote)
}

func (s *Service) load(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (providers.Adapter, *models.Integration, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, nil, err
	}
	integ, err := s.repo.FindByBusinessAndProvider(ctx, businessID, provider)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, nil, err
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load integration")
	}
	return adapter, integ, nil
}

// linkCredentials is the credential set written when an integration is
// linked. Columns left nil are cleared.
type linkCredentials struct {
	access        []byte
	refresh       []byte
	expiresAt     *time.Time
	apiKey        []byte
	webhookSecret []byte
	keyHash       *string
	accountID     *string
}

func (s *Service) upsert(ctx context.Context, businessID uuid.UUID, provider enums.Provider, creds linkCredentials) (*models.Integration, error) {
	now := s.now()
	integ, err := s.repo.FindByBusinessAndProvider(ctx, businessID, provider)
	switch {
	case err == nil:
		return s.updateCurrent(ctx, integ, map[string]any{
			"access_token_ciphertext":   creds.access,
			"refresh_token_ciphertext":  creds.refresh,
			"token_expires_at":          creds.expiresAt,
			"api_key_ciphertext":        creds.apiKey,
			"webhook_secret_ciphertext": creds.webhookSecret,
			"inbound_key_hash":          creds.keyHash,
			"external_account_id":       creds.accountID,
			"status":                    enums.IntegrationStatusLinked,
			"is_active":                 true,
			"connected_at":              now,
			"disconnected_at":           nil,
		}, "save integration")
	case !pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load integration")
	}

	token, err := security.GenerateToken("", inboundTokenBytes)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate inbound token")
	}
	integ = &models.Integration{
		BusinessID:              businessID,
		Provider:                provider,
		Status:                  enums.IntegrationStatusLinked,
		IsActive:                true,
		AccessTokenCiphertext:   creds.access,
		RefreshTokenCiphertext:  creds.refresh,
		TokenExpiresAt:          creds.expiresAt,
		APIKeyCiphertext:        creds.apiKey,
		WebhookSecretCiphertext: creds.webhookSecret,
		InboundKeyHash:          creds.keyHash,
		InboundToken:            token,
		ExternalAccountID:       creds.accountID,
		Version:                 1,
		ConnectedAt:             &now,
	}
	if err := s.repo.Create(ctx, integ); err != nil {
		if db.IsUniqueViolation(err, uniqueBusinessProviderConstraint) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "integration is being linked concurrently")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create integration")
	}
	return integ, nil
}

// updateCurrent writes fields to the row integ was loaded from and returns
// the stored row. A concurrent change since the load is a conflict.
func (s *Service) updateCurrent(ctx context.Context, integ *models.Integration, fields map[string]any, op string) (*models.Integration, error) {
	applied, err := s.repo.UpdateIfVersion(ctx, integ.ID, integ.Version, fields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, op)
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "integration changed concurrently; retry")
	}
	stored, err := s.repo.FindByID(ctx, integ.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload integration")
	}
	return stored, nil
}

func (s *Service) ensureAccountUnclaimed(ctx context.Context, provider enums.Provider, accountID string, businessID uuid.UUID) error {
	if strings.TrimSpace(accountID) == "" {
		return nil
	}
	existing, err := s.repo.FindActiveByAccount(ctx, provider, accountID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check provider account")
	}
	if existing.BusinessID != businessID {
		return pkgerrors.New(pkgerrors.CodeConflict, "provider account is linked to another business")
	}
	return nil
}

func (s *Service) expire(ctx context.Context, integ *models.Integration, cause error) error {
	if err := s.repo.MarkExpired(ctx, integ.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark integration expired")
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", cause.Error()), "integration expired; reconnect required")
	if typed := pkgerrors.As(cause); typed != nil && typed.Code() == pkgerrors.CodeReconnectRequired {
		return cause
	}
	return pkgerrors.Wrap(pkgerrors.CodeReconnectRequired, cause, "integration must be reconnected")
}

func (s *Service) needsRefresh(integ *models.Integration, window time.Duration) bool {
	if integ == nil || integ.TokenExpiresAt == nil || integ.Status != enums.IntegrationStatusLinked {
		return false
	}
	return integ.TokenExpiresAt.Before(s.now().Add(window))
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

type sealedSecrets struct {
	apiKey        []byte
	webhookSecret []byte
	keyHash       *string
}

func (s *Service) sealConnection(conn *providers.KeyConnection) (sealedSecrets, error) {
	var out sealedSecrets
	var err error
	if out.apiKey, err = s.vault.Encrypt(conn.APIKey); err != nil {
		return out, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt api key")
	}
	if out.webhookSecret, err = s.vault.Encrypt(conn.WebhookSecret); err != nil {
		return out, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt webhook secret")
	}
	if conn.InboundKey != "" {
		hash, err := security.HashSecret(conn.InboundKey, s.password)
		if err != nil {
			return out, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash inbound key")
		}
		out.keyHash = &hash
	}
	return out, nil
}

func (s *Service) reveal(values map[string]string, view View) map[string]string {
	out := make(map[string]string, len(values)+1)
	for k, v := range values {
		out[k] = v
	}
	if view.WebhookURL != "" {
		out["webhook_url"] = view.WebhookURL
	}
	return out
}

func (s *Service) view(adapter providers.Adapter, integ *models.Integration) View {
	id := integ.ID
	v := View{
		Provider:           integ.Provider,
		Kind:               adapter.Kind(),
		Connected:          integ.Status == enums.IntegrationStatusLinked,
		ID:                 &id,
		Status:             integ.Status,
		IsActive:           integ.IsActive,
		TestMode:           integ.TestMode,
		ConsentConfirmed:   integ.ConsentConfirmed,
		ConsentConfirmedAt: integ.ConsentConfirmedAt,
		TokenExpiresAt:     integ.TokenExpiresAt,
		ConnectedAt:        integ.ConnectedAt,
		DisconnectedAt:     integ.DisconnectedAt,
	}
	if integ.ExternalAccountID != nil {
		v.ExternalAccountID = *integ.ExternalAccountID
	}
	if integ.TestPhone != nil {
		v.TestPhone = phone.Mask(*integ.TestPhone)
	}
	if adapter.Kind() != enums.ProviderKindOAuth && integ.Status == enums.IntegrationStatusLinked {
		v.WebhookURL = s.app.CallbackURL(providers.WebhookPath(integ.Provider) + "/" + integ.InboundToken)
	}
	return v
}

func dependencyError(err error, message string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message+" timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
