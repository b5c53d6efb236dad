package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"invite-checkout/internal/notify"
	"invite-checkout/internal/referral"
	"invite-checkout/models"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStatusAPI struct {
	mock.Mock
}

func (m *MockStatusAPI) PurchaseStatus(ctx context.Context, purchaseID string) (models.StatusResult, error) {
	args := m.Called(ctx, purchaseID)
	return args.Get(0).(models.StatusResult), args.Error(1)
}

func (m *MockStatusAPI) RegisterSale(ctx context.Context, req models.SaleRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishStatus(ctx context.Context, ev notify.StatusEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func newTestPoller(api StatusAPI, pub notify.Publisher, cfg PollerConfig) *Poller {
	log, _ := logtest.NewNullLogger()
	return NewPoller(api, pub, cfg, nil, log)
}

func collect(t *testing.T, ch <-chan StatusUpdate) []StatusUpdate {
	t.Helper()
	var got []StatusUpdate
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, u)
		case <-timeout:
			t.Fatal("watch did not finish")
			return got
		}
	}
}

func status(s models.PaymentStatus) models.StatusResult {
	return models.StatusResult{PurchaseID: "abc123", PaymentID: "42", Status: s}
}

func amountOf(n int64) *decimal.Decimal {
	d := decimal.NewFromInt(n)
	return &d
}

func TestPoller_PendingThenApprovedRegistersOneSale(t *testing.T) {
	api := new(MockStatusAPI)
	pub := new(MockPublisher)

	api.On("PurchaseStatus", mock.Anything, "abc123").Return(status(models.StatusPending), nil).Times(3)
	api.On("PurchaseStatus", mock.Anything, "abc123").Return(status(models.StatusApproved), nil).Once()
	api.On("RegisterSale", mock.Anything, models.SaleRequest{
		ReferralCode:      "V123",
		PaymentID:         "42",
		PurchaseID:        "abc123",
		Status:            models.StatusApproved,
		TransactionAmount: amountOf(60),
	}).Return(nil).Once()
	pub.On("PublishStatus", mock.Anything, notify.StatusEvent{PurchaseID: "abc123", PaymentID: "42", Status: models.StatusApproved}).Return(nil).Once()

	p := newTestPoller(api, pub, PollerConfig{Interval: time.Millisecond})
	updates := collect(t, p.Watch(context.Background(), WatchRequest{
		PurchaseID: "abc123",
		Amount:     decimal.NewFromInt(60),
		Referral:   referral.NewContext("V123"),
	}))

	require.Len(t, updates, 4)
	for i, u := range updates[:3] {
		assert.Equal(t, models.StatusPending, u.Result.Status)
		assert.Equal(t, i+1, u.Attempt)
	}
	assert.Equal(t, models.StatusApproved, updates[3].Result.Status)
	assert.NoError(t, updates[3].Err)

	api.AssertExpectations(t)
	api.AssertNumberOfCalls(t, "PurchaseStatus", 4)
	api.AssertNumberOfCalls(t, "RegisterSale", 1)
	pub.AssertExpectations(t)
}

func TestPoller_ResumedSaleUsesReplyAmount(t *testing.T) {
	api := new(MockStatusAPI)
	pub := new(MockPublisher)

	approved := status(models.StatusApproved)
	approved.Amount = amountOf(60)
	api.On("PurchaseStatus", mock.Anything, "abc123").Return(approved, nil).Once()
	api.On("RegisterSale", mock.Anything, mock.MatchedBy(func(req models.SaleRequest) bool {
		return req.TransactionAmount != nil && req.TransactionAmount.Equal(decimal.NewFromInt(60))
	})).Return(nil).Once()
	pub.On("PublishStatus", mock.Anything, mock.Anything).Return(nil).Once()

	p := newTestPoller(api, pub, PollerConfig{Interval: time.Millisecond})
	collect(t, p.Watch(context.Background(), WatchRequest{PurchaseID: "abc123", Referral: referral.NewContext("V123")}))

	api.AssertExpectations(t)
}

func TestPoller_ResumedSaleWithoutAmountOmitsIt(t *testing.T) {
	api := new(MockStatusAPI)
	pub := new(MockPublisher)

	api.On("PurchaseStatus", mock.Anything, "abc123").Return(status(models.StatusApproved), nil).Once()
	api.On("RegisterSale", mock.Anything, mock.MatchedBy(func(req models.SaleRequest) bool {
		return req.TransactionAmount == nil
	})).Return(nil).Once()
	pub.On("PublishStatus", mock.Anything, mock.Anything).Return(nil).Once()

	p := newTestPoller(api, pub, PollerConfig{Interval: time.Millisecond})
	collect(t, p.Watch(context.Background(), WatchRequest{PurchaseID: "abc123", Referral: referral.NewContext("V123")}))

	api.AssertExpectations(t)
}

func TestPoller_RejectedStopsWithoutSale(t *testing.T) {
	api := new(MockStatusAPI)
	pub := new(MockPublisher)

	api.On("PurchaseStatus", mock.Anything, "abc123").Return(status(models.StatusInProcess), nil).Once()
	api.On("PurchaseStatus", mock.Anything, "abc123").Return(status(models.StatusRejected), nil).Once()
	pub.On("PublishStatus", mock.Anything, mock.Anything).Return(errors.New("pubnub down")).Once()

	p := newTestPoller(api, pub, PollerConfig{Interval: time.Millisecond})
	updates := collect(t, p.Watch(context.Background(), WatchRequest{PurchaseID: "abc123", Referral: referral.NewContext("V123")}))

	require.Len(t, updates, 2)
	assert.Equal(t, models.StatusRejected, updates[1].Result.Status)
	api.AssertNotCalled(t, "RegisterSale", mock.Anything, mock.Anything)
}

func TestPoller_ApprovedWithoutReferralSkipsSale(t *testing.T) {
	api := new(MockStatusAPI)

	api.On("PurchaseStatus", mock.Anything, "abc123").Return(status(models.StatusApproved), nil).Once()

	p := newTestPoller(api, nil, PollerConfig{Interval: time.Millisecond})
	updates := collect(t, p.Watch(context.Background(), WatchRequest{PurchaseID: "abc123"}))

	require.Len(t, updates, 1)
	api.AssertNotCalled(t, "RegisterSale", mock.Anything, mock.Anything)
}

func TestPoller_TransientFailuresAreNotSurfaced(t *testing.T) {
	api := new(MockStatusAPI)

	api.On("PurchaseStatus", mock.Anything, "abc123").Return(models.StatusResult{}, errors.New("503")).Twice()
	api.On("PurchaseStatus", mock.Anything, "abc123").Return(status(models.StatusApproved), nil).Once()

	p := newTestPoller(api, nil, PollerConfig{Interval: time.Millisecond, MaxConsecutiveFailures: 3})
	updates := collect(t, p.Watch(context.Background(), WatchRequest{PurchaseID: "abc123"}))

	require.Len(t, updates, 1)
	assert.Equal(t, 3, updates[0].Attempt)
	assert.Equal(t, models.StatusApproved, updates[0].Result.Status)
}

func TestPoller_AbandonsAfterConsecutiveFailures(t *testing.T) {
	api := new(MockStatusAPI)

	api.On("PurchaseStatus", mock.Anything, "abc123").Return(models.StatusResult{}, errors.New("503"))

	p := newTestPoller(api, nil, PollerConfig{Interval: time.Millisecond, MaxConsecutiveFailures: 3})
	updates := collect(t, p.Watch(context.Background(), WatchRequest{PurchaseID: "abc123"}))

	require.Len(t, updates, 1)
	assert.ErrorIs(t, updates[0].Err, ErrPollingAbandoned)
	api.AssertNumberOfCalls(t, "PurchaseStatus", 3)
}

func TestPoller_GivesUpAfterMaxDuration(t *testing.T) {
	api := new(MockStatusAPI)

	api.On("PurchaseStatus", mock.Anything, "abc123").Return(status(models.StatusPending), nil)

	p := newTestPoller(api, nil, PollerConfig{Interval: 2 * time.Millisecond, MaxDuration: 10 * time.Millisecond})
	updates := collect(t, p.Watch(context.Background(), WatchRequest{PurchaseID: "abc123"}))

	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.ErrorIs(t, last.Err, ErrPaymentStuck)
	for _, u := range updates[:len(updates)-1] {
		assert.Equal(t, models.StatusPending, u.Result.Status)
	}
}

func TestPoller_CancelStopsPolling(t *testing.T) {
	api := new(MockStatusAPI)

	api.On("PurchaseStatus", mock.Anything, "abc123").Return(status(models.StatusPending), nil)

	ctx, cancel := context.WithCancel(context.Background())
	p := newTestPoller(api, nil, PollerConfig{Interval: time.Hour})
	ch := p.Watch(ctx, WatchRequest{PurchaseID: "abc123"})

	first := <-ch
	assert.Equal(t, models.StatusPending, first.Result.Status)
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	api.AssertNumberOfCalls(t, "PurchaseStatus", 1)
}
