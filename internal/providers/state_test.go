package providers

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
)

type memoryStateStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStateStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryStateStore) GetDel(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	delete(m.data, key)
	return v, nil
}

func (m *memoryStateStore) OAuthStateKey(nonce string) string { return "rf:oauth_state:" + nonce }

func TestStateIssuerRoundTrip(t *testing.T) {
	store := newMemoryStateStore()
	issuer, err := NewStateIssuer(store, 0)
	require.NoError(t, err)

	biz := uuid.New()
	state, err := issuer.Issue(context.Background(), enums.ProviderSquare, biz, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(state, biz.String()+":"))
	assert.Len(t, strings.Split(state, ":"), 2)
	for _, ttl := range store.ttls {
		assert.Equal(t, 10*time.Minute, ttl)
	}

	claims, err := issuer.Consume(context.Background(), enums.ProviderSquare, state)
	require.NoError(t, err)
	assert.Equal(t, biz, claims.BusinessID)
	assert.Empty(t, claims.ShopDomain)

	_, err = issuer.Consume(context.Background(), enums.ProviderSquare, state)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), "state must be single use")
}

func TestStateIssuerShopScoped(t *testing.T) {
	issuer, err := NewStateIssuer(newMemoryStateStore(), time.Minute)
	require.NoError(t, err)

	biz := uuid.New()
	state, err := issuer.Issue(context.Background(), enums.ProviderShopify, biz, "acme.myshopify.com")
	require.NoError(t, err)
	parts := strings.Split(state, ":")
	require.Len(t, parts, 3)
	assert.Equal(t, "acme.myshopify.com", parts[1])

	claims, err := issuer.Consume(context.Background(), enums.ProviderShopify, state)
	require.NoError(t, err)
	assert.Equal(t, "acme.myshopify.com", claims.ShopDomain)
}

func TestStateIssuerRejectsForeignState(t *testing.T) {
	issuer, err := NewStateIssuer(newMemoryStateStore(), time.Minute)
	require.NoError(t, err)

	biz := uuid.New()
	state, err := issuer.Issue(context.Background(), enums.ProviderClover, biz, "")
	require.NoError(t, err)

	nonce := strings.Split(state, ":")[1]
	forged := uuid.NewString() + ":" + nonce
	_, err = issuer.Consume(context.Background(), enums.ProviderClover, forged)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	for _, bad := range []string{"", "garbage", "not-a-uuid:nonce", biz.String() + ":", "a:b:c:d"} {
		_, err = issuer.Consume(context.Background(), enums.ProviderClover, bad)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), "state %q", bad)
	}
}

func TestStateIssuerRejectsProviderSwap(t *testing.T) {
	issuer, err := NewStateIssuer(newMemoryStateStore(), time.Minute)
	require.NoError(t, err)

	state, err := issuer.Issue(context.Background(), enums.ProviderSquare, uuid.New(), "")
	require.NoError(t, err)

	_, err = issuer.Consume(context.Background(), enums.ProviderClover, state)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}
