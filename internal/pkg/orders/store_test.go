package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/apperror"
	"github.com/roamwire/roamwire/internal/pkg/dbtest"
)

func newOrder(paymentRef string) *models.Order {
	ref := paymentRef
	return &models.Order{
		TransactionID: uuid.NewString(),
		PaymentRef:    &ref,
		PlanSKU:       "eu-5gb-30d",
		PriceAmount:   2000,
		PriceCurrency: "usd",
		CustomerEmail: "ana@example.com",
		CustomerName:  "Ana",
	}
}

func TestCreateForcesPendingAndRejectsDuplicates(t *testing.T) {
	store := NewStore(dbtest.New(t))
	ctx := context.Background()

	order := newOrder("pi_1")
	order.Status = models.ORDER_STATUS_ACTIVE
	iccid := "8944"
	order.ConfirmationICCID = &iccid
	require.NoError(t, store.Create(ctx, nil, order))
	assert.Equal(t, models.ORDER_STATUS_PENDING, order.Status)
	assert.Nil(t, order.Confirmation())

	dup := newOrder("pi_2")
	dup.TransactionID = order.TransactionID
	err := store.Create(ctx, nil, dup)
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))

	err = store.Create(ctx, nil, &models.Order{})
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestGetNotFound(t *testing.T) {
	store := NewStore(dbtest.New(t))

	_, err := store.Get(context.Background(), "nope")
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func TestResolveFallsBackThroughReferences(t *testing.T) {
	store := NewStore(dbtest.New(t))
	ctx := context.Background()

	order := newOrder("pi_resolve")
	require.NoError(t, store.Create(ctx, nil, order))
	require.NoError(t, store.AttachProviderOrderRef(ctx, nil, order.TransactionID, "prov_9"))

	tests := []struct {
		name string
		c    Correlation
	}{
		{"transaction id", Correlation{TransactionID: order.TransactionID}},
		{"payment ref", Correlation{PaymentRef: "pi_resolve"}},
		{"provider ref", Correlation{ProviderOrderRef: "prov_9"}},
		{"unknown transaction id then provider ref", Correlation{TransactionID: "stale", ProviderOrderRef: "prov_9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Resolve(ctx, nil, tt.c)
			require.NoError(t, err)
			assert.Equal(t, order.TransactionID, got.TransactionID)
		})
	}

	_, err := store.Resolve(ctx, nil, Correlation{PaymentRef: "pi_other"})
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func TestAttachProviderOrderRefKeepsFirstValue(t *testing.T) {
	store := NewStore(dbtest.New(t))
	ctx := context.Background()

	order := newOrder("pi_attach")
	require.NoError(t, store.Create(ctx, nil, order))
	require.NoError(t, store.AttachProviderOrderRef(ctx, nil, order.TransactionID, "prov_1"))
	require.NoError(t, store.AttachProviderOrderRef(ctx, nil, order.TransactionID, "prov_2"))

	got, err := store.Get(ctx, order.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, got.ProviderOrderRef)
	assert.Equal(t, "prov_1", *got.ProviderOrderRef)
}

func TestTransitionIsCompareAndSwap(t *testing.T) {
	store := NewStore(dbtest.New(t))
	ctx := context.Background()

	order := newOrder("pi_cas")
	require.NoError(t, store.Create(ctx, nil, order))

	applied, err := store.Transition(ctx, nil, Transition{
		TransactionID: order.TransactionID,
		From:          models.ORDER_STATUS_PENDING,
		To:            models.ORDER_STATUS_PROCESSING,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.Transition(ctx, nil, Transition{
		TransactionID: order.TransactionID,
		From:          models.ORDER_STATUS_PENDING,
		To:            models.ORDER_STATUS_CANCELLED,
	})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := store.Get(ctx, order.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.ORDER_STATUS_PROCESSING, got.Status)
}

func TestTransitionKeepsConfirmationInvariant(t *testing.T) {
	store := NewStore(dbtest.New(t))
	ctx := context.Background()

	order := newOrder("pi_conf")
	require.NoError(t, store.Create(ctx, nil, order))
	_, err := store.Transition(ctx, nil, Transition{TransactionID: order.TransactionID, From: models.ORDER_STATUS_PENDING, To: models.ORDER_STATUS_PROCESSING})
	require.NoError(t, err)

	_, err = store.Transition(ctx, nil, Transition{TransactionID: order.TransactionID, From: models.ORDER_STATUS_PROCESSING, To: models.ORDER_STATUS_PROVIDER_FULFILLED})
	assert.True(t, apperror.IsKind(err, apperror.KindFatal))

	conf := &models.Confirmation{ICCID: "8944500000000000001", ActivationCode: "LPA:1$smdp.example$ABC", SMDPAddress: "smdp.example"}
	applied, err := store.Transition(ctx, nil, Transition{TransactionID: order.TransactionID, From: models.ORDER_STATUS_PROCESSING, To: models.ORDER_STATUS_PROVIDER_FULFILLED, Confirmation: conf})
	require.NoError(t, err)
	require.True(t, applied)

	got, err := store.Get(ctx, order.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, conf, got.Confirmation())

	applied, err = store.Transition(ctx, nil, Transition{TransactionID: order.TransactionID, From: models.ORDER_STATUS_PROVIDER_FULFILLED, To: models.ORDER_STATUS_ACTIVE})
	require.NoError(t, err)
	require.True(t, applied)
	got, err = store.Get(ctx, order.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, conf, got.Confirmation())

	applied, err = store.Transition(ctx, nil, Transition{TransactionID: order.TransactionID, From: models.ORDER_STATUS_ACTIVE, To: models.ORDER_STATUS_CANCELLED, Reason: "refunded"})
	require.NoError(t, err)
	require.True(t, applied)
	got, err = store.Get(ctx, order.TransactionID)
	require.NoError(t, err)
	assert.Nil(t, got.Confirmation())
	assert.Equal(t, "refunded", got.StatusReason)
}

func TestNotificationClaims(t *testing.T) {
	store := NewStore(dbtest.New(t))
	ctx := context.Background()

	order := newOrder("pi_notify")
	require.NoError(t, store.Create(ctx, nil, order))
	kind := models.NOTIFICATION_KIND_ACTIVATION_EMAIL

	claimed, err := store.ClaimNotification(ctx, nil, order.TransactionID, kind)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.ClaimNotification(ctx, nil, order.TransactionID, kind)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, store.CompleteNotification(ctx, nil, order.TransactionID, kind, "msg-1"))
	got, err := store.Get(ctx, order.TransactionID)
	require.NoError(t, err)
	assert.True(t, got.HasNotification(kind))

	require.NoError(t, store.ReleaseNotification(ctx, nil, order.TransactionID, kind))
	claimed, err = store.ClaimNotification(ctx, nil, order.TransactionID, kind)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestListUnnotified(t *testing.T) {
	store := NewStore(dbtest.New(t))
	ctx := context.Background()
	kind := models.NOTIFICATION_KIND_ACTIVATION_EMAIL
	conf := &models.Confirmation{ICCID: "8944500000000000002"}

	fulfil := func(o *models.Order) {
		require.NoError(t, store.Create(ctx, nil, o))
		_, err := store.Transition(ctx, nil, Transition{TransactionID: o.TransactionID, From: models.ORDER_STATUS_PENDING, To: models.ORDER_STATUS_PROCESSING})
		require.NoError(t, err)
		_, err = store.Transition(ctx, nil, Transition{TransactionID: o.TransactionID, From: models.ORDER_STATUS_PROCESSING, To: models.ORDER_STATUS_PROVIDER_FULFILLED, Confirmation: conf})
		require.NoError(t, err)
	}

	missing := newOrder("pi_missing")
	fulfil(missing)
	notified := newOrder("pi_notified")
	fulfil(notified)
	_, err := store.ClaimNotification(ctx, nil, notified.TransactionID, kind)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, nil, newOrder("pi_pending")))

	got, err := store.ListUnnotified(ctx, kind, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, missing.TransactionID, got[0].TransactionID)

	got, err = store.ListUnnotified(ctx, kind, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
