package payment

import (
	"context"
	"errors"
	"testing"

	"invite-checkout/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCreditCardPayment(ctx context.Context, req models.CardPaymentRequest) (models.PaymentResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.PaymentResult), args.Error(1)
}

func (m *MockGateway) CreateDebitCardPayment(ctx context.Context, req models.CardPaymentRequest) (models.PaymentResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.PaymentResult), args.Error(1)
}

func (m *MockGateway) CreatePixPayment(ctx context.Context, req models.PixPaymentRequest) (models.PaymentResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.PaymentResult), args.Error(1)
}

func testOrder() Order {
	return Order{
		PurchaseID:   "abc123",
		Amount:       decimal.NewFromInt(60),
		Contact:      models.ContactInfo{Name: "Ana", Surname: "Lima", Phone: "11 91234-5678"},
		ReferralCode: "V123",
	}
}

func TestRouter_CreditCard(t *testing.T) {
	gw := new(MockGateway)
	router := NewDefaultRouter(gw, Config{})

	gw.On("CreateCreditCardPayment", mock.Anything, mock.MatchedBy(func(req models.CardPaymentRequest) bool {
		return req.Token == "tok" &&
			req.Installments == 3 &&
			req.ExternalReference == "abc123" &&
			req.TransactionAmount.Equal(decimal.NewFromInt(60)) &&
			req.StatementDescriptor == DefaultStatementDescriptor &&
			req.Payer.FirstName == "Ana" &&
			req.Payer.LastName == "Lima" &&
			req.ReferralCode == "V123"
	})).Return(models.PaymentResult{PaymentID: "1", Status: models.StatusApproved}, nil).Once()

	res, err := router.Route(context.Background(), testOrder(), models.SubmitPayload{
		PaymentMethodID: "visa",
		PaymentTypeID:   "credit_card",
		Token:           "tok",
		Installments:    3,
		// the widget amount is ignored in favour of the authoritative one
		TransactionAmount: decimal.NewFromInt(1),
		Payer:             models.Payer{Email: "ana@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1", res.PaymentID)
	gw.AssertExpectations(t)
	gw.AssertNotCalled(t, "CreateDebitCardPayment", mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "CreatePixPayment", mock.Anything, mock.Anything)
}

func TestRouter_DebitCardForcesSingleInstallment(t *testing.T) {
	gw := new(MockGateway)
	router := NewDefaultRouter(gw, Config{StatementDescriptor: "GLK"})

	gw.On("CreateDebitCardPayment", mock.Anything, mock.MatchedBy(func(req models.CardPaymentRequest) bool {
		return req.Installments == 1 && req.StatementDescriptor == "GLK"
	})).Return(models.PaymentResult{PaymentID: "2", Status: models.StatusInProcess}, nil).Once()

	_, err := router.Route(context.Background(), testOrder(), models.SubmitPayload{
		PaymentMethodID: "debvisa",
		PaymentTypeID:   "debit_card",
		Token:           "tok",
		Installments:    6,
	})
	require.NoError(t, err)
	gw.AssertExpectations(t)
}

func TestRouter_Pix(t *testing.T) {
	gw := new(MockGateway)
	router := NewDefaultRouter(gw, Config{NotificationURL: "https://example.com/status"})

	gw.On("CreatePixPayment", mock.Anything, mock.MatchedBy(func(req models.PixPaymentRequest) bool {
		return req.PaymentMethodID == "pix" &&
			req.NotificationURL == "https://example.com/status" &&
			req.Payer.Email == "ana@example.com" &&
			req.Payer.FirstName == "Ana"
	})).Return(models.PaymentResult{PaymentID: "3", Status: models.StatusPending, Pix: &models.PixCharge{QRCode: "000201"}}, nil).Once()

	res, err := router.Route(context.Background(), testOrder(), models.SubmitPayload{
		PaymentMethodID: "pix",
		Payer:           models.Payer{Email: "ana@example.com"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Pix)
	gw.AssertExpectations(t)
}

func TestRouter_OneAttemptOnFailure(t *testing.T) {
	gw := new(MockGateway)
	router := NewDefaultRouter(gw, Config{})

	gw.On("CreateCreditCardPayment", mock.Anything, mock.Anything).
		Return(models.PaymentResult{}, errors.New("boom")).Once()

	_, err := router.Route(context.Background(), testOrder(), models.SubmitPayload{PaymentMethodID: "master", Token: "tok"})
	assert.Error(t, err)
	gw.AssertNumberOfCalls(t, "CreateCreditCardPayment", 1)
}

func TestRouter_LocalRejections(t *testing.T) {
	gw := new(MockGateway)
	router := NewDefaultRouter(gw, Config{})

	_, err := router.Route(context.Background(), testOrder(), models.SubmitPayload{PaymentMethodID: "visa"})
	assert.ErrorIs(t, err, ErrMissingToken)

	order := testOrder()
	order.PurchaseID = ""
	_, err = router.Route(context.Background(), order, models.SubmitPayload{PaymentMethodID: "pix"})
	assert.ErrorIs(t, err, ErrMissingPurchase)

	pixOnly := NewRouter(&pixCreator{gw: gw})
	_, err = pixOnly.Route(context.Background(), testOrder(), models.SubmitPayload{PaymentMethodID: "visa", Token: "tok"})
	assert.ErrorIs(t, err, ErrUnsupportedMethod)

	gw.AssertExpectations(t)
}

func TestRouter_Supported(t *testing.T) {
	router := NewDefaultRouter(new(MockGateway), Config{})
	assert.Equal(t, []models.PaymentMethod{models.MethodCreditCard, models.MethodDebitCard, models.MethodPix}, router.Supported())
}
