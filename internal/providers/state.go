package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/redis"
	"github.com/angelmondragon/reviewflow-backend/pkg/security"
)

const defaultStateTTL = 10 * time.Minute

// StateStore is the subset of the redis client used for OAuth state.
type StateStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	GetDel(ctx context.Context, key string) (string, error)
	OAuthStateKey(nonce string) string
}

// StateClaims is what a consumed state token proves about the callback.
type StateClaims struct {
	BusinessID uuid.UUID
	ShopDomain string
}

// StateIssuer issues single-use OAuth state tokens bound to a business,
// a provider and, for shop-scoped providers, a shop domain.
type StateIssuer struct {
	store StateStore
	ttl   time.Duration
}

func NewStateIssuer(store StateStore, ttl time.Duration) (*StateIssuer, error) {
	if store == nil {
		return nil, errors.New("state store required")
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StateIssuer{store: store, ttl: ttl}, nil
}

// Issue returns `<businessId>:<nonce>` or `<businessId>:<shopDomain>:<nonce>`.
func (s *StateIssuer) Issue(ctx context.Context, provider enums.Provider, businessID uuid.UUID, shopDomain string) (string, error) {
	if businessID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if strings.Contains(shopDomain, ":") {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid shop domain")
	}
	nonce, err := security.GenerateToken("", 24)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate oauth state")
	}

	parts := []string{businessID.String()}
	if shopDomain != "" {
		parts = append(parts, shopDomain)
	}
	parts = append(parts, nonce)
	state := strings.Join(parts, ":")

	if err := s.store.Set(ctx, s.store.OAuthStateKey(nonce), stateBinding(provider, state), s.ttl); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store oauth state")
	}
	return state, nil
}

// Consume validates and deletes the state. Unknown, expired, replayed or
// foreign states are rejected as unauthorized.
func (s *StateIssuer) Consume(ctx context.Context, provider enums.Provider, state string) (*StateClaims, error) {
	claims, nonce, err := parseState(state)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.GetDel(ctx, s.store.OAuthStateKey(nonce))
	if err != nil {
		if redis.IsNil(err) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "oauth state invalid or expired")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read oauth state")
	}
	if !security.ConstantTimeEqual(stored, stateBinding(provider, state)) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "oauth state invalid or expired")
	}
	return claims, nil
}

func stateBinding(provider enums.Provider, state string) string {
	return fmt.Sprintf("%s|%s", provider, state)
}

func parseState(state string) (*StateClaims, string, error) {
	invalid := pkgerrors.New(pkgerrors.CodeUnauthorized, "oauth state invalid or expired")

	parts := strings.Split(strings.TrimSpace(state), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return nil, "", invalid
	}
	businessID, err := uuid.Parse(parts[0])
	if err != nil || businessID == uuid.Nil {
		return nil, "", invalid
	}
	nonce := parts[len(parts)-1]
	if nonce == "" {
		return nil, "", invalid
	}

	claims := &StateClaims{BusinessID: businessID}
	if len(parts) == 3 {
		if parts[1] == "" {
			return nil, "", invalid
		}
		claims.ShopDomain = parts[1]
	}
	return claims, nonce, nil
}
