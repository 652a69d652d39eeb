package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/reviewflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	"github.com/angelmondragon/reviewflow-backend/pkg/pagination"
)

func newSQLiteService(t *testing.T) Service {
	t.Helper()
	svc, err := NewService(NewRepository(dbtest.Open(t)))
	require.NoError(t, err)
	return svc
}

func recordInput(businessID, integrationID uuid.UUID, eventID, phone string, at time.Time) RecordInput {
	return RecordInput{
		BusinessID:      businessID,
		IntegrationID:   integrationID,
		Provider:        enums.ProviderSquare,
		ProviderEventID: eventID,
		CustomerName:    "Ada",
		CustomerPhone:   phone,
		PurchaseAmount:  decimal.RequireFromString("42.50"),
		Currency:        "usd",
		ReceivedAt:      at,
	}
}

func TestRecordDeduplicatesProviderEvents(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()
	biz, integ := uuid.New(), uuid.New()
	now := time.Now().UTC()

	first, created, err := svc.Record(ctx, recordInput(biz, integ, "evt-1", "+15551234567", now))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, enums.DispatchStatusPending, first.DispatchStatus)
	assert.Equal(t, "USD", first.Currency)

	again, created, err := svc.Record(ctx, recordInput(biz, integ, "evt-1", "+15551234567", now))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, created, err = svc.Record(ctx, recordInput(biz, integ, "", "+15551234567", now))
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = svc.Record(ctx, recordInput(biz, integ, "", "+15551234567", now))
	require.NoError(t, err)
	assert.True(t, created, "events without an id are never deduplicated here")
}

func TestCompleteIsWrittenOnce(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()
	txn, _, err := svc.Record(ctx, recordInput(uuid.New(), uuid.New(), "evt", "+15551234567", time.Now().UTC()))
	require.NoError(t, err)

	attempted, err := svc.MarkAttempted(ctx, txn.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, attempted)
	attempted, err = svc.MarkAttempted(ctx, txn.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, attempted)

	msgID := "msg-1"
	ok, err := svc.Complete(ctx, txn.ID, Outcome{Status: enums.DispatchStatusSent, MessageID: &msgID})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Complete(ctx, txn.ID, Outcome{Status: enums.DispatchStatusFailed})
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DispatchStatusSent, stored.DispatchStatus)
	require.NotNil(t, stored.MessageID)
	assert.Equal(t, "msg-1", *stored.MessageID)
	assert.NotNil(t, stored.CompletedAt)
}

func TestLastSentSinceIgnoresSkipsTestSendsAndOldRows(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()
	biz, integ := uuid.New(), uuid.New()
	phone := "+15551234567"
	now := time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC)

	mark := func(eventID string, at time.Time, status enums.DispatchStatus, testMode bool) {
		in := recordInput(biz, integ, eventID, phone, at)
		in.TestMode = testMode
		txn, _, err := svc.Record(ctx, in)
		require.NoError(t, err)
		_, err = svc.Complete(ctx, txn.ID, Outcome{Status: status, CompletedAt: at})
		require.NoError(t, err)
	}
	mark("old", now.Add(-31*24*time.Hour), enums.DispatchStatusSent, false)
	mark("skipped", now.Add(-time.Hour), enums.DispatchStatusSkippedFrequency, false)
	mark("test", now.Add(-time.Hour), enums.DispatchStatusSent, true)

	since := now.Add(-30 * 24 * time.Hour)
	got, err := svc.LastSentSince(ctx, biz, phone, since)
	require.NoError(t, err)
	assert.Nil(t, got)

	mark("live", now.Add(-2*time.Hour), enums.DispatchStatusSent, false)
	got, err = svc.LastSentSince(ctx, biz, phone, since)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "live", *got.ProviderEventID)

	other, err := svc.LastSentSince(ctx, uuid.New(), phone, since)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestListPaginatesAndMasksPhones(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()
	biz, integ := uuid.New(), uuid.New()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, _, err := svc.Record(ctx, recordInput(biz, integ, uuid.NewString(), "+15551234567", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, _, err := svc.Record(ctx, recordInput(uuid.New(), integ, "foreign", "+15550000000", base))
	require.NoError(t, err)

	page, err := svc.List(ctx, biz, ListInput{Params: pagination.Params{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt))
	assert.NotContains(t, page.Items[0].CustomerPhone, "555123")

	seen := map[uuid.UUID]bool{}
	cursor := ""
	for {
		res, err := svc.List(ctx, biz, ListInput{Params: pagination.Params{Limit: 2, Cursor: cursor}})
		require.NoError(t, err)
		for _, item := range res.Items {
			assert.False(t, seen[item.ID], "row returned twice")
			seen[item.ID] = true
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	assert.Len(t, seen, 5)

	_, err = svc.List(ctx, biz, ListInput{Params: pagination.Params{Cursor: "%%%"}})
	assert.Error(t, err)
}

func TestCompleteRecordsRecipientAndListMasksIt(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()
	biz, integ := uuid.New(), uuid.New()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	in := recordInput(biz, integ, "evt-test", "+15551234567", at)
	in.TestMode = true
	txn, _, err := svc.Record(ctx, in)
	require.NoError(t, err)

	testPhone := "+15550009999"
	written, err := svc.Complete(ctx, txn.ID, Outcome{Status: enums.DispatchStatusSent, RecipientPhone: &testPhone, CompletedAt: at})
	require.NoError(t, err)
	require.True(t, written)

	stored, err := svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RecipientPhone)
	assert.Equal(t, testPhone, *stored.RecipientPhone)
	assert.Equal(t, "+15551234567", stored.CustomerPhone)

	page, err := svc.List(ctx, biz, ListInput{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.NotEmpty(t, page.Items[0].RecipientPhone)
	assert.NotContains(t, page.Items[0].RecipientPhone, "555000")

	got, err := svc.LastSentSince(ctx, biz, "+15551234567", at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got, "a test send never reached the customer")
}
