package fetch

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig mirrors the gobreaker knobs exposed through configuration.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// Breakers keeps one circuit breaker per origin host so a failing CDN does
// not trip requests to healthy ones.
type Breakers struct {
	cfg BreakerConfig
	log *zap.Logger

	mu sync.Mutex
	m  map[string]*gobreaker.CircuitBreaker
}

func NewBreakers(cfg BreakerConfig, log *zap.Logger) *Breakers {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Breakers{cfg: cfg, log: log, m: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *Breakers) get(host string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.m[host]; ok {
		return cb
	}
	threshold := b.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: b.cfg.MaxRequests,
		Interval:    b.cfg.Interval,
		Timeout:     b.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Info("circuit-breaker state change", zap.String("host", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	b.m[host] = cb
	return cb
}

// State reports the breaker state for host; hosts never seen are closed.
func (b *Breakers) State(host string) gobreaker.State {
	b.mu.Lock()
	cb, ok := b.m[host]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}
