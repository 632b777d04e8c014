package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-bridge/internal/fulfillment"
)

type fakeSettler struct {
	calls []string
	err   error
}

func (f *fakeSettler) ProcessSettleOK(_ context.Context, cartID string) error {
	f.calls = append(f.calls, cartID)
	return f.err
}

type fakeAlerter struct {
	titles []string
	fields []map[string]string
}

func (f *fakeAlerter) SendCriticalAlert(_ context.Context, title string, fields map[string]string) {
	f.titles = append(f.titles, title)
	f.fields = append(f.fields, fields)
}

func newSettlementFixture(settleErr error) (*SettlementService, *memoryEventStore, *fakeSettler, *fakeAlerter) {
	st := newMemoryEventStore()
	settler := &fakeSettler{err: settleErr}
	alerter := &fakeAlerter{}
	svc := NewSettlementService(NewIdempotencyCoordinator(st), settler, alerter, nil)
	return svc, st, settler, alerter
}

func TestHandleProviderWebhookSettles(t *testing.T) {
	svc, st, settler, alerter := newSettlementFixture(nil)

	outcome, err := svc.HandleProviderWebhook(context.Background(),
		"evt-1", "order.updated", "cart-1", "settle_ok", []byte(`{"order":{}}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecute, outcome)
	assert.Equal(t, []string{"cart-1"}, settler.calls)
	assert.Empty(t, alerter.titles)

	stored, err := st.GetEventByEventID(context.Background(), "evt-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Processed)
	assert.Nil(t, stored.ErrorMessage)
}

func TestHandleProviderWebhookNonSettleStatus(t *testing.T) {
	svc, st, settler, _ := newSettlementFixture(nil)

	outcome, err := svc.HandleProviderWebhook(context.Background(),
		"evt-2", "order.updated", "cart-1", "created", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecute, outcome)
	assert.Empty(t, settler.calls, "non settle_ok statuses must not capture")

	stored, _ := st.GetEventByEventID(context.Background(), "evt-2")
	require.NotNil(t, stored)
	assert.True(t, stored.Processed)
}

func TestHandleProviderWebhookDuplicateSkips(t *testing.T) {
	svc, _, settler, _ := newSettlementFixture(nil)
	ctx := context.Background()

	_, err := svc.HandleProviderWebhook(ctx, "evt-3", "order.updated", "cart-1", "settle_ok", []byte(`{}`))
	require.NoError(t, err)

	outcome, err := svc.HandleProviderWebhook(ctx, "evt-3", "order.updated", "cart-1", "settle_ok", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkip, outcome)
	assert.Len(t, settler.calls, 1, "a redelivered event must not settle twice")
}

func TestHandleProviderWebhookFailureRecordsAndAlerts(t *testing.T) {
	settleErr := &fulfillment.SettleError{Step: "capture", Err: errors.New("backend returned 409")}
	svc, st, _, alerter := newSettlementFixture(settleErr)
	ctx := context.Background()

	outcome, err := svc.HandleProviderWebhook(ctx, "evt-4", "order.updated", "cart-9", "settle_ok", []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, OutcomeExecute, outcome)

	stored, _ := st.GetEventByEventID(ctx, "evt-4")
	require.NotNil(t, stored)
	assert.False(t, stored.Processed)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "capture")

	require.Len(t, alerter.titles, 1)
	assert.Equal(t, "Order settlement failed", alerter.titles[0])
	assert.Equal(t, "capture", alerter.fields[0]["step"])
	assert.Equal(t, "cart-9", alerter.fields[0]["cart_id"])
}

func TestHandleProviderWebhookRedeliveryRetriesFailure(t *testing.T) {
	svc, _, settler, _ := newSettlementFixture(&fulfillment.SettleError{Step: "capture", Err: errors.New("down")})
	ctx := context.Background()

	_, err := svc.HandleProviderWebhook(ctx, "evt-5", "order.updated", "cart-1", "settle_ok", []byte(`{}`))
	require.Error(t, err)

	settler.err = nil
	outcome, err := svc.HandleProviderWebhook(ctx, "evt-5", "order.updated", "cart-1", "settle_ok", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, outcome)
	assert.Len(t, settler.calls, 2)
}

func TestHandleProviderWebhookSettleOKWithoutCartFails(t *testing.T) {
	svc, st, settler, _ := newSettlementFixture(nil)

	_, err := svc.HandleProviderWebhook(context.Background(),
		"evt-6", "order.updated", "", "settle_ok", []byte(`{}`))
	require.Error(t, err)
	assert.Empty(t, settler.calls)

	stored, _ := st.GetEventByEventID(context.Background(), "evt-6")
	require.NotNil(t, stored)
	require.NotNil(t, stored.ErrorMessage)
}

func TestHandleOrderGrooveOrder(t *testing.T) {
	svc, st, _, _ := newSettlementFixture(nil)
	ctx := context.Background()

	outcome, err := svc.HandleOrderGrooveOrder(ctx, "og-1", []byte(`{"orderPublicId":"og-1"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecute, outcome)

	stored, _ := st.GetEventByEventID(ctx, "og-1")
	require.NotNil(t, stored)
	assert.True(t, stored.Processed)

	outcome, err = svc.HandleOrderGrooveOrder(ctx, "og-1", []byte(`{"orderPublicId":"og-1"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkip, outcome)
}
