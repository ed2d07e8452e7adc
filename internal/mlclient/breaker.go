package mlclient

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

func newBreaker(name string, log *logrus.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// Rejected input is the caller's fault and does not count against the service.
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker changed state")
		},
	})
}

// BreakerStates reports the state of every endpoint breaker
func (c *Client) BreakerStates() map[string]string {
	return map[string]string{
		endpointPredict: c.predictBreaker.State().String(),
		endpointExtract: c.extractBreaker.State().String(),
		endpointTrain:   c.trainBreaker.State().String(),
	}
}
