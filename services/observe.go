package services

import "time"

// Metrics is the slice of monitoring the checkout reports to.
// *monitoring.Monitor implements it.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	TrackTransition(from, to string)
	TrackPaymentAttempt(method, outcome string)
	TrackPoll(result string)
	TrackPollDuration(result string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened()                          {}
func (nopMetrics) SessionClosed()                          {}
func (nopMetrics) TrackTransition(string, string)          {}
func (nopMetrics) TrackPaymentAttempt(string, string)      {}
func (nopMetrics) TrackPoll(string)                        {}
func (nopMetrics) TrackPollDuration(string, time.Duration) {}
