package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"trading-signalsync/internal/model"
	"trading-signalsync/internal/strategy"
)

const (
	defaultLatestTTL    = 30 * time.Minute
	defaultStreamMaxLen = 5000
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Key helpers shared with readers of the published data.
func LatestKey(instrument string) string     { return "ind:latest:" + instrument }
func SignalStream(instrument string) string  { return "signals:" + instrument }
func BarChannel(instrument string) string    { return "pub:bar:" + instrument }
func SignalChannel(instrument string) string { return "pub:signal:" + instrument }

// Publisher mirrors each cycle's latest indicator row and every signal
// transition into Redis for downstream consumers.
type Publisher struct {
	client  *goredis.Client
	breaker *CircuitBreaker

	latestTTL    time.Duration
	streamMaxLen int64
}

// New connects, pings, and returns a publisher.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client) *Publisher {
	cb := NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
	}
	return &Publisher{
		client:       client,
		breaker:      cb,
		latestTTL:    defaultLatestTTL,
		streamMaxLen: defaultStreamMaxLen,
	}
}

// Client returns the underlying client for health checks and config
// version bumps.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker state for health reporting.
func (p *Publisher) Breaker() *CircuitBreaker { return p.breaker }

// PublishRow stores the latest indicator row and announces it.
func (p *Publisher) PublishRow(ctx context.Context, instrument string, row model.IndicatorRow) error {
	data := string(row.JSON())
	return p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, LatestKey(instrument), data, p.latestTTL)
		pipe.Publish(ctx, BarChannel(instrument), data)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis publish row %s: %w", instrument, err)
		}
		return nil
	})
}

// PublishSignal appends a transition to the instrument's signal stream and
// announces it.
func (p *Publisher) PublishSignal(ctx context.Context, instrument string, tr strategy.Transition) error {
	b, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	data := string(b)
	return p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: SignalStream(instrument),
			MaxLen: p.streamMaxLen,
			Approx: true,
			Values: []interface{}{"kind", string(tr.Kind), "data", data},
		})
		pipe.Publish(ctx, SignalChannel(instrument), data)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis publish signal %s: %w", instrument, err)
		}
		return nil
	})
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
