package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
)

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(NewCustomWebhookAdapter(), NewWooCommerceAdapter(), NewZapierAdapter())
	require.NoError(t, err)

	a, err := reg.Parse(" WooCommerce ")
	require.NoError(t, err)
	assert.Equal(t, enums.ProviderWooCommerce, a.Provider())

	_, err = reg.Get(enums.ProviderSquare)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = reg.Parse("lightspeed")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	assert.Equal(t, []enums.Provider{enums.ProviderWooCommerce, enums.ProviderZapier, enums.ProviderCustomWebhook}, reg.Providers())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(NewZapierAdapter(), NewZapierAdapter())
	require.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	var a Adapter = NewSquareAdapter(nil, "", "", "")
	_, isAuthorizer := a.(Authorizer)
	_, isRefresher := a.(Refresher)
	_, isRevoker := a.(Revoker)
	assert.True(t, isAuthorizer)
	assert.False(t, isRefresher, "square tokens are not refreshed")
	assert.True(t, isRevoker)

	a = NewCloverAdapter(nil)
	_, isRefresher = a.(Refresher)
	_, isRevoker = a.(Revoker)
	assert.True(t, isRefresher)
	assert.False(t, isRevoker)

	a = NewShopifyAdapter(nil)
	_, isShopScoped := a.(ShopScoped)
	_, verifiesCallback := a.(CallbackVerifier)
	assert.True(t, isShopScoped)
	assert.True(t, verifiesCallback)

	for _, keyed := range []Adapter{NewWooCommerceAdapter(), NewStripeAdapter(), NewZapierAdapter()} {
		_, connects := keyed.(KeyConnector)
		_, secretAuth := keyed.(SecretAuthenticator)
		_, appAuth := keyed.(AppAuthenticator)
		assert.True(t, connects, keyed.Provider())
		assert.True(t, secretAuth, keyed.Provider())
		assert.False(t, appAuth, keyed.Provider())
	}
}
