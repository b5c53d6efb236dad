// Package api is the HTTP client of the event's purchase backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"invite-checkout/models"
	"invite-checkout/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Endpoint paths, relative to the base URL.
const (
	PathInitiatePurchase = "/iniciar-compra"
	PathCreditPayment    = "/criar-pagamento-cartao-credito"
	PathDebitPayment     = "/criar-pagamento-cartao-debito"
	PathPixPayment       = "/criar-pagamento-pix"
	PathSelectTable      = "/select-table"
	PathPurchaseStatus   = "/status-compra/"
	PathRegisterSale     = "/registrar-venda"
)

const validationPrefix = "Validation error:"

var ErrMissingPurchaseID = errors.New("api: response has no purchase id")

// Error is a non-2xx answer of the backend.
type Error struct {
	Endpoint   string
	StatusCode int
	Message    string
	Body       string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api %s: status %d", e.Endpoint, e.StatusCode)
}

// IsValidation reports whether the backend rejected the shape of the payload
// rather than failing to process it.
func (e *Error) IsValidation() bool {
	if strings.HasPrefix(e.Message, validationPrefix) {
		return true
	}
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
}

// IsValidation unwraps err looking for a validation-class *Error.
func IsValidation(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.IsValidation()
}

// Observer receives the outcome and latency of every call.
type Observer interface {
	TrackAPIRequest(endpoint, outcome string, d time.Duration)
}

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	// baseURL is the backend root, without trailing slash.
	baseURL string

	// hc is the http client.
	hc *http.Client

	// breaker stops hammering a backend that keeps failing.
	breaker *utils.CircuitBreaker

	log      logrus.FieldLogger
	observer Observer
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func WithBreaker(cb *utils.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a backend client. Validation answers do not count as
// breaker failures.
func NewClient(cfg ClientConfig, log logrus.FieldLogger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		breaker: utils.NewCircuitBreaker("purchase-api",
			utils.WithMaxRequests(20),
			utils.WithTimeout(30*time.Second),
			utils.WithIsSuccessful(func(err error) bool {
				return err == nil || IsValidation(err)
			}),
		),
		log: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) InitiatePurchase(ctx context.Context, req models.PurchaseRequest) (models.PurchaseResponse, error) {
	var reply models.PurchaseResponse
	if err := c.call(ctx, http.MethodPost, PathInitiatePurchase, req, &reply); err != nil {
		return models.PurchaseResponse{}, fmt.Errorf("initiate purchase: %w", err)
	}
	if reply.PurchaseID == "" {
		return models.PurchaseResponse{}, fmt.Errorf("initiate purchase: %w", ErrMissingPurchaseID)
	}
	return reply, nil
}

func (c *Client) CreateCreditCardPayment(ctx context.Context, req models.CardPaymentRequest) (models.PaymentResult, error) {
	res, err := c.createPayment(ctx, PathCreditPayment, req)
	if err != nil {
		return models.PaymentResult{}, fmt.Errorf("create credit card payment: %w", err)
	}
	return res, nil
}

func (c *Client) CreateDebitCardPayment(ctx context.Context, req models.CardPaymentRequest) (models.PaymentResult, error) {
	res, err := c.createPayment(ctx, PathDebitPayment, req)
	if err != nil {
		return models.PaymentResult{}, fmt.Errorf("create debit card payment: %w", err)
	}
	return res, nil
}

func (c *Client) CreatePixPayment(ctx context.Context, req models.PixPaymentRequest) (models.PaymentResult, error) {
	res, err := c.createPayment(ctx, PathPixPayment, req)
	if err != nil {
		return models.PaymentResult{}, fmt.Errorf("create pix payment: %w", err)
	}
	return res, nil
}

// ReserveTable claims a table for a purchase. A taken table comes back as an
// *Error.
func (c *Client) ReserveTable(ctx context.Context, req models.TableReservationRequest) error {
	if err := c.call(ctx, http.MethodPost, PathSelectTable, req, nil); err != nil {
		return fmt.Errorf("reserve table %s: %w", req.TableID, err)
	}
	return nil
}

func (c *Client) PurchaseStatus(ctx context.Context, purchaseID string) (models.StatusResult, error) {
	var reply struct {
		PaymentID models.FlexibleID `json:"payment_id"`
		Status    string            `json:"status"`
		Amount    *decimal.Decimal  `json:"transaction_amount"`
	}
	if err := c.call(ctx, http.MethodGet, PathPurchaseStatus+url.PathEscape(purchaseID), nil, &reply); err != nil {
		return models.StatusResult{}, fmt.Errorf("purchase status %s: %w", purchaseID, err)
	}
	status, err := models.ParsePaymentStatus(reply.Status)
	if err != nil {
		return models.StatusResult{}, fmt.Errorf("purchase status %s: %w", purchaseID, err)
	}
	return models.StatusResult{
		PurchaseID: purchaseID,
		PaymentID:  string(reply.PaymentID),
		Status:     status,
		Amount:     reply.Amount,
	}, nil
}

func (c *Client) RegisterSale(ctx context.Context, req models.SaleRequest) error {
	if err := c.call(ctx, http.MethodPost, PathRegisterSale, req, nil); err != nil {
		return fmt.Errorf("register sale %s: %w", req.PurchaseID, err)
	}
	return nil
}

type paymentReply struct {
	PaymentID          models.FlexibleID `json:"payment_id"`
	ID                 models.FlexibleID `json:"id"`
	Status             string            `json:"status"`
	StatusDetail       string            `json:"status_detail"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (c *Client) createPayment(ctx context.Context, path string, body any) (models.PaymentResult, error) {
	var reply paymentReply
	if err := c.call(ctx, http.MethodPost, path, body, &reply); err != nil {
		return models.PaymentResult{}, err
	}

	status, err := models.ParsePaymentStatus(reply.Status)
	if err != nil {
		c.log.WithField("status", reply.Status).Warn("unknown payment status, treating as pending")
	}

	res := models.PaymentResult{
		PaymentID:    string(reply.PaymentID),
		Status:       status,
		StatusDetail: reply.StatusDetail,
	}
	if res.PaymentID == "" {
		res.PaymentID = string(reply.ID)
	}
	if td := reply.PointOfInteraction.TransactionData; td.QRCode != "" {
		res.Pix = &models.PixCharge{
			QRCode:       td.QRCode,
			QRCodeBase64: td.QRCodeBase64,
			TicketURL:    td.TicketURL,
		}
	}
	return res, nil
}

// call sends one request through the breaker and decodes a 2xx body into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	endpoint := strings.TrimSuffix(path, "/")
	if i := strings.Index(endpoint[1:], "/"); i >= 0 {
		endpoint = endpoint[:i+1]
	}

	start := time.Now()
	_, err := c.breaker.Execute(ctx, func() (any, error) {
		return nil, c.do(ctx, method, path, in, out)
	})

	outcome := "ok"
	switch {
	case err == nil:
	case IsValidation(err):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	if c.observer != nil {
		c.observer.TrackAPIRequest(endpoint, outcome, time.Since(start))
	}

	c.log.WithFields(logrus.Fields{
		"method":      method,
		"endpoint":    endpoint,
		"outcome":     outcome,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("api call")

	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("json.Marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("http.NewRequest: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("http.Do: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Endpoint: path, StatusCode: resp.StatusCode, Body: string(raw)}
		var reply struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(raw, &reply) == nil {
			apiErr.Message = reply.Message
			if apiErr.Message == "" {
				apiErr.Message = reply.Error
			}
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("json.Decode: %w", err)
	}
	return nil
}
