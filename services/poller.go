package services

import (
	"context"
	"fmt"
	"time"

	"invite-checkout/internal/notify"
	"invite-checkout/internal/referral"
	"invite-checkout/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// StatusAPI is the part of the backend the poller talks to.
type StatusAPI interface {
	PurchaseStatus(ctx context.Context, purchaseID string) (models.StatusResult, error)
	RegisterSale(ctx context.Context, req models.SaleRequest) error
}

type PollerConfig struct {
	Interval time.Duration
	// MaxDuration bounds the whole watch; zero means no bound.
	MaxDuration time.Duration
	// MaxConsecutiveFailures abandons the watch; zero means never.
	MaxConsecutiveFailures int
}

// WatchRequest names the purchase to follow and what a sale is attributed to.
// A zero Amount (a resumed purchase) defers to the amount of the status reply.
type WatchRequest struct {
	PurchaseID string
	Amount     decimal.Decimal
	Referral   *referral.Context
}

// StatusUpdate is one successful poll, or the final error when the watch is
// abandoned.
type StatusUpdate struct {
	Attempt int
	Result  models.StatusResult
	Err     error
}

// Poller follows a purchase until its payment settles.
type Poller struct {
	api       StatusAPI
	publisher notify.Publisher
	cfg       PollerConfig
	metrics   Metrics
	log       logrus.FieldLogger
}

func NewPoller(api StatusAPI, publisher notify.Publisher, cfg PollerConfig, metrics Metrics, log logrus.FieldLogger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Poller{api: api, publisher: publisher, cfg: cfg, metrics: metrics, log: log}
}

// Watch polls at once and then Interval after each answer, so at most one
// request is in flight. Every successful answer is sent on the channel; the
// channel closes after a terminal status, after the watch is abandoned, or
// when ctx is done. On approval the sale is registered once when the referral
// context carries a code.
func (p *Poller) Watch(ctx context.Context, req WatchRequest) <-chan StatusUpdate {
	out := make(chan StatusUpdate)
	go p.run(ctx, req, out)
	return out
}

func (p *Poller) run(ctx context.Context, req WatchRequest, out chan<- StatusUpdate) {
	defer close(out)

	log := p.log.WithField("purchase_id", req.PurchaseID)
	start := time.Now()
	failures := 0

	send := func(u StatusUpdate) bool {
		select {
		case out <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		res, err := p.api.PurchaseStatus(ctx, req.PurchaseID)
		switch {
		case err != nil && ctx.Err() != nil:
			return

		case err != nil:
			failures++
			p.metrics.TrackPoll("error")
			log.WithError(err).WithField("consecutive_failures", failures).Warn("status poll failed")

			if p.cfg.MaxConsecutiveFailures > 0 && failures >= p.cfg.MaxConsecutiveFailures {
				p.metrics.TrackPollDuration("abandoned", time.Since(start))
				send(StatusUpdate{Attempt: attempt, Err: fmt.Errorf("%w: %v", ErrPollingAbandoned, err)})
				return
			}

		default:
			failures = 0
			p.metrics.TrackPoll(string(res.Status))

			if res.Status.Terminal() {
				p.metrics.TrackPollDuration(string(res.Status), time.Since(start))
				p.settle(ctx, req, res, log)
				send(StatusUpdate{Attempt: attempt, Result: res})
				return
			}
			if !send(StatusUpdate{Attempt: attempt, Result: res}) {
				return
			}
		}

		if p.cfg.MaxDuration > 0 && time.Since(start) >= p.cfg.MaxDuration {
			p.metrics.TrackPollDuration("stuck", time.Since(start))
			send(StatusUpdate{Attempt: attempt, Err: fmt.Errorf("%w after %s", ErrPaymentStuck, p.cfg.MaxDuration)})
			return
		}

		timer.Reset(p.cfg.Interval)
	}
}

// settle runs the one-shot side effects of a terminal status. Failures are
// logged; the buyer's outcome does not depend on them.
func (p *Poller) settle(ctx context.Context, req WatchRequest, res models.StatusResult, log logrus.FieldLogger) {
	log = log.WithFields(logrus.Fields{"payment_id": res.PaymentID, "status": res.Status})

	if res.Status == models.StatusApproved {
		if code := req.Referral.Code(); code != "" {
			err := p.api.RegisterSale(ctx, models.SaleRequest{
				ReferralCode:      code,
				PaymentID:         res.PaymentID,
				PurchaseID:        req.PurchaseID,
				Status:            res.Status,
				TransactionAmount: saleAmount(req, res),
			})
			if err != nil {
				log.WithError(err).WithField("referral_code", code).Error("sale registration failed")
			} else {
				log.WithField("referral_code", code).Info("sale registered")
			}
		}
	}

	err := p.publisher.PublishStatus(ctx, notify.StatusEvent{
		PurchaseID: req.PurchaseID,
		PaymentID:  res.PaymentID,
		Status:     res.Status,
	})
	if err != nil {
		log.WithError(err).Warn("status broadcast failed")
	}
	log.Info("payment settled")
}

// saleAmount is nil when neither the session nor the backend knows the amount;
// the field is then left out of the sale.
func saleAmount(req WatchRequest, res models.StatusResult) *decimal.Decimal {
	if !req.Amount.IsZero() {
		amount := req.Amount
		return &amount
	}
	return res.Amount
}
