// Package payment turns a widget submit into exactly one payment-creation call,
// chosen by payment method.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"invite-checkout/models"

	"github.com/shopspring/decimal"
)

const DefaultStatementDescriptor = "Compra Evento"

var (
	ErrUnsupportedMethod = errors.New("payment: unsupported payment method")
	ErrMissingToken      = errors.New("payment: card token is missing")
	ErrMissingPurchase   = errors.New("payment: purchase id is missing")
)

// Gateway is the backend surface the creators call. *api.Client implements it.
type Gateway interface {
	CreateCreditCardPayment(ctx context.Context, req models.CardPaymentRequest) (models.PaymentResult, error)
	CreateDebitCardPayment(ctx context.Context, req models.CardPaymentRequest) (models.PaymentResult, error)
	CreatePixPayment(ctx context.Context, req models.PixPaymentRequest) (models.PaymentResult, error)
}

// Order is the session side of a payment: what is being paid and by whom.
type Order struct {
	PurchaseID   string
	Amount       decimal.Decimal
	Contact      models.ContactInfo
	ReferralCode string
}

// Creator builds and sends the request of one payment method.
type Creator interface {
	Method() models.PaymentMethod
	Create(ctx context.Context, order Order, payload models.SubmitPayload) (models.PaymentResult, error)
}

type Config struct {
	StatementDescriptor string
	NotificationURL     string
}

// Router dispatches a submit to the creator registered for its method.
type Router struct {
	creators map[models.PaymentMethod]Creator
}

func NewRouter(creators ...Creator) *Router {
	r := &Router{creators: make(map[models.PaymentMethod]Creator, len(creators))}
	for _, c := range creators {
		r.creators[c.Method()] = c
	}
	return r
}

// NewDefaultRouter registers credit, debit and PIX against gw.
func NewDefaultRouter(gw Gateway, cfg Config) *Router {
	if cfg.StatementDescriptor == "" {
		cfg.StatementDescriptor = DefaultStatementDescriptor
	}
	return NewRouter(
		&cardCreator{method: models.MethodCreditCard, send: gw.CreateCreditCardPayment, cfg: cfg},
		&cardCreator{method: models.MethodDebitCard, send: gw.CreateDebitCardPayment, cfg: cfg},
		&pixCreator{gw: gw, cfg: cfg},
	)
}

// Route sends the payload to exactly one creator. It never retries.
func (r *Router) Route(ctx context.Context, order Order, payload models.SubmitPayload) (models.PaymentResult, error) {
	if order.PurchaseID == "" {
		return models.PaymentResult{}, ErrMissingPurchase
	}
	method := payload.Method()
	c, ok := r.creators[method]
	if !ok {
		return models.PaymentResult{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return c.Create(ctx, order, payload)
}

// Supported returns the registered methods, sorted.
func (r *Router) Supported() []models.PaymentMethod {
	out := make([]models.PaymentMethod, 0, len(r.creators))
	for m := range r.creators {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type cardCreator struct {
	method models.PaymentMethod
	send   func(context.Context, models.CardPaymentRequest) (models.PaymentResult, error)
	cfg    Config
}

func (c *cardCreator) Method() models.PaymentMethod { return c.method }

func (c *cardCreator) Create(ctx context.Context, order Order, p models.SubmitPayload) (models.PaymentResult, error) {
	if strings.TrimSpace(p.Token) == "" {
		return models.PaymentResult{}, ErrMissingToken
	}
	installments := p.Installments
	if installments < 1 || c.method == models.MethodDebitCard {
		installments = 1
	}
	descriptor := p.StatementDescriptor
	if descriptor == "" {
		descriptor = c.cfg.StatementDescriptor
	}

	return c.send(ctx, models.CardPaymentRequest{
		PaymentMethodID:     p.PaymentMethodID,
		Token:               p.Token,
		IssuerID:            p.IssuerID,
		TransactionAmount:   order.Amount,
		ExternalReference:   order.PurchaseID,
		Installments:        installments,
		StatementDescriptor: descriptor,
		Payer:               payer(p.Payer, order.Contact),
		ReferralCode:        order.ReferralCode,
	})
}

type pixCreator struct {
	gw  Gateway
	cfg Config
}

func (c *pixCreator) Method() models.PaymentMethod { return models.MethodPix }

func (c *pixCreator) Create(ctx context.Context, order Order, p models.SubmitPayload) (models.PaymentResult, error) {
	return c.gw.CreatePixPayment(ctx, models.PixPaymentRequest{
		PaymentMethodID:   string(models.MethodPix),
		TransactionAmount: order.Amount,
		ExternalReference: order.PurchaseID,
		NotificationURL:   c.cfg.NotificationURL,
		Payer:             payer(p.Payer, order.Contact),
		ReferralCode:      order.ReferralCode,
	})
}

// payer fills missing names from the contact form.
func payer(p models.Payer, contact models.ContactInfo) models.Payer {
	if p.FirstName == "" {
		p.FirstName = contact.Name
	}
	if p.LastName == "" {
		p.LastName = contact.Surname
	}
	return p
}
