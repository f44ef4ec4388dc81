package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-engine/internal/kyc/metrics"
	"kyc-engine/internal/kyc/models"
	"kyc-engine/internal/kyc/store"
	"kyc-engine/internal/platform/logger"
)

type failingNotifier struct {
	result Result
	err    error
}

func (n failingNotifier) Send(context.Context, models.NotificationType, models.ChannelType, string, string) (Result, error) {
	return n.result, n.err
}

func fixedClock(t time.Time) models.Clock {
	return func() time.Time { return t }
}

func TestDispatchRecordsDelivery(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	d := NewDispatcher(st, NewLoggerNotifier(logger.Discard()),
		WithClock(fixedClock(now)), WithLogger(logger.Discard()))

	record := d.Dispatch(context.Background(), "FGR20260312-001", models.ChannelSMS, "+242068881234",
		models.NotifyWelcome, "hello")

	assert.True(t, record.Delivered)
	require.NotNil(t, record.DeliveredAt)
	assert.Equal(t, now, record.SentAt)

	stored, err := st.ListNotifications(context.Background(), "FGR20260312-001")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Delivered)
	assert.Equal(t, models.NotifyWelcome, stored[0].Type)
}

func TestDispatchRecordsFailureWithoutErroring(t *testing.T) {
	st := store.NewInMemoryStore()
	d := NewDispatcher(st, failingNotifier{err: errors.New("gateway down")},
		WithLogger(logger.Discard()))

	record := d.Dispatch(context.Background(), "FGR20260312-002", models.ChannelWhatsApp, "+242068881234",
		models.NotifyTimeoutWarning, "expiring soon")

	assert.False(t, record.Delivered)
	assert.Equal(t, "gateway down", record.ErrorMessage)

	stored, err := st.ListNotifications(context.Background(), "FGR20260312-002")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.False(t, stored[0].Delivered)
	assert.Equal(t, "gateway down", stored[0].ErrorMessage)
}

func TestDispatchRecordsUndeliveredReason(t *testing.T) {
	st := store.NewInMemoryStore()
	d := NewDispatcher(st, failingNotifier{result: Result{Delivered: false, Reason: "number opted out"}},
		WithLogger(logger.Discard()))

	record := d.Dispatch(context.Background(), "FGR20260312-003", models.ChannelSMS, "+242068881234",
		models.NotifyWelcome, "hello")

	assert.False(t, record.Delivered)
	assert.Equal(t, "number opted out", record.ErrorMessage)
}

func TestDispatchCountsOutcomes(t *testing.T) {
	st := store.NewInMemoryStore()
	m := metrics.New()
	d := NewDispatcher(st, failingNotifier{err: errors.New("gateway down")},
		WithLogger(logger.Discard()), WithMetrics(m))
	ctx := context.Background()

	d.Dispatch(ctx, "FGR20260312-005", models.ChannelSMS, "+242068881234", models.NotifyWelcome, "hello")
	d.Dispatch(ctx, "FGR20260312-005", models.ChannelSMS, "+242068881234", models.NotifyWelcome, "hello again")

	failed := m.Notifications.WithLabelValues(string(models.NotifyWelcome), "false")
	assert.Equal(t, 2.0, testutil.ToFloat64(failed))
	delivered := m.Notifications.WithLabelValues(string(models.NotifyWelcome), "true")
	assert.Equal(t, 0.0, testutil.ToFloat64(delivered))
}

func TestAlreadySent(t *testing.T) {
	st := store.NewInMemoryStore()
	d := NewDispatcher(st, NewLoggerNotifier(logger.Discard()), WithLogger(logger.Discard()))
	ctx := context.Background()

	sent, err := d.AlreadySent(ctx, "FGR20260312-004", models.NotifyTimeoutWarning)
	require.NoError(t, err)
	assert.False(t, sent)

	d.Dispatch(ctx, "FGR20260312-004", models.ChannelSMS, "+242068881234", models.NotifyTimeoutWarning, "warn")

	sent, err = d.AlreadySent(ctx, "FGR20260312-004", models.NotifyTimeoutWarning)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = d.AlreadySent(ctx, "FGR20260312-004", models.NotifyWelcome)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestRecipientSelection(t *testing.T) {
	identifiers := []models.CustomerIdentifier{
		{Type: models.IdentifierEmail, Value: "backup@example.com"},
		{Type: models.IdentifierEmail, Value: "primary@example.com", Primary: true},
		{Type: models.IdentifierPhoneNumber, Value: "+242068880000"},
		{Type: models.IdentifierPhoneNumber, Value: "+242068881111", Primary: true},
	}

	t.Run("messaging channels pick the primary phone", func(t *testing.T) {
		assert.Equal(t, "+242068881111", Recipient(models.ChannelSMS, identifiers))
		assert.Equal(t, "+242068881111", Recipient(models.ChannelWhatsApp, identifiers))
	})

	t.Run("web picks the primary email", func(t *testing.T) {
		assert.Equal(t, "primary@example.com", Recipient(models.ChannelWeb, identifiers))
	})

	t.Run("falls back to any identifier of the wanted type", func(t *testing.T) {
		noPrimary := []models.CustomerIdentifier{
			{Type: models.IdentifierPhoneNumber, Value: "+242068882222"},
		}
		assert.Equal(t, "+242068882222", Recipient(models.ChannelUSSD, noPrimary))
	})

	t.Run("empty when nothing matches", func(t *testing.T) {
		assert.Empty(t, Recipient(models.ChannelSMS, nil))
	})
}
