package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stockwatch/internal/config"

	"github.com/sony/gobreaker"
)

// breakerSender short-circuits a channel after consecutive failures.
type breakerSender struct {
	next    ChannelSender
	breaker *gobreaker.CircuitBreaker
}

// WithBreaker wraps sender in circuit breaker.
// Params: sender, breaker config, and logger for state changes.
// Returns: wrapped sender with same channel key.
func WithBreaker(sender ChannelSender, cfg config.BreakerConfig, logger *slog.Logger) ChannelSender {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	return &breakerSender{
		next: sender,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        sender.Channel(),
			MaxRequests: 1,
			Timeout:     time.Duration(cfg.OpenSec) * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("notify circuit state changed", "channel", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Channel returns wrapped channel key.
func (b *breakerSender) Channel() string {
	return b.next.Channel()
}

// Send executes wrapped sender through breaker.
func (b *breakerSender) Send(ctx context.Context, delivery Delivery) (SendResult, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.Send(ctx, delivery)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return SendResult{}, fmt.Errorf("%s circuit open: %w", b.next.Channel(), err)
		}
		return SendResult{}, err
	}
	result, _ := out.(SendResult)
	return result, nil
}
