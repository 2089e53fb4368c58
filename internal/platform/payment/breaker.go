package payment

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// Breaker fails transfers fast after consecutive RPC failures instead of
// letting every leg wait out its timeout against a dead node.
type Breaker struct {
	next Transferer
	cb   *gobreaker.CircuitBreaker
}

type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenFor             time.Duration
}

func NewBreaker(next Transferer, cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenFor == 0 {
		cfg.OpenFor = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "solana-transfer",
		MaxRequests: 1,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Transfer(ctx context.Context, wallet string, amount decimal.Decimal) (string, error) {
	// bad input is the caller's fault and must not count against the node
	if err := ValidateAddress(wallet); err != nil {
		return "", err
	}
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Transfer(ctx, wallet, amount)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
