package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkout_active_sessions",
			Help: "Current number of open checkout sessions",
		},
	)

	stepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_step_transitions_total",
			Help: "Checkout step transitions",
		},
		[]string{"from", "to"},
	)

	paymentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_payment_attempts_total",
			Help: "Payment creation attempts by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	statusPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_status_polls_total",
			Help: "Purchase status polls by result",
		},
		[]string{"result"},
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkout_poll_duration_seconds",
			Help:    "Time from first poll to the end of polling",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"result"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkout_api_request_duration_seconds",
			Help:    "Latency of purchase API calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "outcome"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "checkout_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	storedReferrals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkout_stored_referral_codes",
			Help: "Seller codes currently stored in redis",
		},
	)
)

// Monitor records checkout metrics. The collectors are package level, so every
// method but Run also works on a nil *Monitor.
type Monitor struct {
	redis *redis.Client
	log   logrus.FieldLogger
}

func NewMonitor(redisClient *redis.Client, log logrus.FieldLogger) *Monitor {
	return &Monitor{redis: redisClient, log: log}
}

// Run samples redis every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.collectReferralMetrics(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) collectReferralMetrics(ctx context.Context) {
	if m.redis == nil {
		return
	}
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := m.redis.Scan(ctx, cursor, "referral:*", 500).Result()
		if err != nil {
			m.log.WithError(err).Debug("referral scan failed")
			return
		}
		for _, k := range keys {
			if strings.HasPrefix(k, "referral:changes:") {
				continue
			}
			count++
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	storedReferrals.Set(float64(count))
}

func (m *Monitor) SessionOpened() { activeSessions.Inc() }

func (m *Monitor) SessionClosed() { activeSessions.Dec() }

func (m *Monitor) TrackTransition(from, to string) {
	stepTransitions.WithLabelValues(from, to).Inc()
}

func (m *Monitor) TrackPaymentAttempt(method, outcome string) {
	paymentAttempts.WithLabelValues(method, outcome).Inc()
}

func (m *Monitor) TrackPoll(result string) {
	statusPolls.WithLabelValues(result).Inc()
}

func (m *Monitor) TrackPollDuration(result string, d time.Duration) {
	pollDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Monitor) TrackAPIRequest(endpoint, outcome string, d time.Duration) {
	apiRequestDuration.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
}

// SetBreakerState takes the breaker state as its integer value.
func (m *Monitor) SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}
