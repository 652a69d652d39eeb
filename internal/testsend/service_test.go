package testsend

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/reviewflow-backend/internal/notifications"
	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	"github.com/angelmondragon/reviewflow-backend/pkg/db"
	"github.com/angelmondragon/reviewflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

type stubIntegrations struct {
	integ *models.Integration
}

func (s stubIntegrations) FindByBusinessAndProvider(_ context.Context, businessID uuid.UUID, provider enums.Provider) (*models.Integration, error) {
	if s.integ == nil || s.integ.BusinessID != businessID || s.integ.Provider != provider {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "integration not found")
	}
	return s.integ, nil
}

type countingSender struct {
	calls int
	texts []string
	err   error
}

func (c *countingSender) Send(_ context.Context, _ string, text string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	c.texts = append(c.texts, text)
	return uuid.NewString(), nil
}

type fixture struct {
	svc    *Service
	repo   *Repository
	sender *countingSender
	biz    uuid.UUID
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	testPhone := "+15550001111"
	biz := uuid.New()
	renderer, err := notifications.NewRenderer("Hi {{.FirstName}}, thanks for visiting {{.LocationName}}!")
	require.NoError(t, err)

	f := &fixture{
		repo:   repo,
		sender: &countingSender{},
		biz:    biz,
		now:    time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.svc, err = NewService(ServiceParams{
		DB:   db.Wrap(conn),
		Repo: repo,
		Integrations: stubIntegrations{integ: &models.Integration{
			ID:         uuid.New(),
			BusinessID: biz,
			Provider:   enums.ProviderSquare,
			TestPhone:  &testPhone,
		}},
		Sender:   f.sender,
		Renderer: renderer,
		Config:   config.TestSendConfig{DailyLimit: 5, Timezone: "America/New_York"},
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}}),
		Now:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) send(t *testing.T) (*Result, error) {
	t.Helper()
	return f.svc.Send(context.Background(), f.biz, Input{Provider: enums.ProviderSquare})
}

func TestSendEnforcesDailyCeiling(t *testing.T) {
	f := newFixture(t)

	for i := 1; i <= 5; i++ {
		res, err := f.send(t)
		require.NoError(t, err)
		assert.Equal(t, 5-i, res.Remaining)
	}

	_, err := f.send(t)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, 0, typed.Details().(map[string]any)["remaining"])

	assert.Equal(t, 5, f.sender.calls, "sixth attempt must not reach the sender")
	quota, err := f.repo.Find(context.Background(), f.biz)
	require.NoError(t, err)
	assert.Equal(t, 5, quota.SentCount)
}

func TestSendResetsOnNewDayInConfiguredTimezone(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		_, err := f.send(t)
		require.NoError(t, err)
	}

	// 03:00 UTC on the 11th is still the 10th in New York.
	f.now = time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC)
	_, err := f.send(t)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit))

	f.now = time.Date(2026, 3, 11, 5, 0, 0, 0, time.UTC)
	res, err := f.send(t)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Remaining)

	quota, err := f.repo.Find(context.Background(), f.biz)
	require.NoError(t, err)
	assert.Equal(t, 1, quota.SentCount)
	assert.Equal(t, "2026-03-11", quota.ResetOn)
}

func TestSendFailureIsNotCounted(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("carrier unavailable")

	_, err := f.send(t)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))

	status, err := f.svc.Status(context.Background(), f.biz)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Used)
	assert.Equal(t, 5, status.Remaining)
}

func TestSendUsesExplicitPhoneAndMarksMessage(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Send(context.Background(), f.biz, Input{Provider: enums.ProviderSquare, Phone: "555-123-4567"})
	require.NoError(t, err)
	assert.NotContains(t, res.To, "123")
	require.Len(t, f.sender.texts, 1)
	assert.Equal(t, "[TEST] Hi there, thanks for visiting us!", f.sender.texts[0])
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), f.biz, Input{Provider: enums.ProviderSquare, Phone: "not a phone"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Send(context.Background(), f.biz, Input{Provider: enums.ProviderShopify})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Zero(t, f.sender.calls)
}

func TestStatusBeforeFirstSend(t *testing.T) {
	f := newFixture(t)
	status, err := f.svc.Status(context.Background(), f.biz)
	require.NoError(t, err)
	assert.Equal(t, &Status{Limit: 5, Used: 0, Remaining: 5, ResetOn: "2026-03-10"}, status)
}
