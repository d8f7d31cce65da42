package classifier

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/mxpv/pledgesync/pkg/metrics"
	"github.com/mxpv/pledgesync/pkg/model"
)

// Breaker stops hammering an unhealthy backend. While open, every call is
// a *Failure, which leaves the signal for a later run.
type Breaker struct {
	next    Classifier
	breaker *gobreaker.CircuitBreaker
}

var _ Classifier = (*Breaker)(nil)

func NewBreaker(next Classifier, maxFailures int, cooldown time.Duration) *Breaker {
	settings := gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &Breaker{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *Breaker) Classify(ctx context.Context, conversation string, candidates []model.Candidate) (*Verdict, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.Classify(ctx, conversation, candidates)
	})

	if err != nil {
		metrics.RecordClassifier("failure")

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fail(errors.Wrap(err, "classifier is unavailable"))
		}
		if IsFailure(err) {
			return nil, err
		}
		return nil, fail(err)
	}

	verdict := result.(*Verdict)
	metrics.RecordClassifier(string(verdict.Status))
	return verdict, nil
}

func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}
