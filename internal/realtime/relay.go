package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/sensechat/internal/metrics"
)

// Relay feeds envelopes published by other instances into the local
// dispatcher.
type Relay struct {
	bus        EventBus
	dispatcher *Dispatcher
	logger     zerolog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewRelay(bus EventBus, dispatcher *Dispatcher, logger zerolog.Logger) *Relay {
	return &Relay{
		bus:        bus,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "relay").Logger(),
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Run listens until ctx is cancelled. Subscription failures are logged and
// retried with capped exponential backoff.
func (r *Relay) Run(ctx context.Context) error {
	channel := r.dispatcher.Channel()
	backoff := r.minBackoff

	for {
		msgs, err := r.bus.Subscribe(ctx, channel)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.RelayErrors.Inc()
			r.logger.Error().Err(err).Dur("retry_in", backoff).Msg("relay subscribe failed")
		} else {
			r.logger.Info().Str("channel", channel).Msg("relay subscribed")
			backoff = r.minBackoff
			r.consume(msgs)
			if ctx.Err() != nil {
				return nil
			}
			metrics.RelayErrors.Inc()
			r.logger.Warn().Dur("retry_in", backoff).Msg("relay subscription dropped")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

func (r *Relay) consume(msgs <-chan []byte) {
	for data := range msgs {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			r.logger.Warn().Err(err).Msg("dropping malformed relay envelope")
			continue
		}
		r.dispatcher.HandleEnvelope(env)
	}
}
