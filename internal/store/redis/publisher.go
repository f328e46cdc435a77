// Package redis publishes quote and opportunity events for external
// consumers (the gateway, dashboards) and keeps a latest-value cache.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/archserver/vbtrader-sub001/internal/model"
)

const defaultLatestTTL = 30 * time.Minute

// Config configures the Redis publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher fans quote and opportunity events out over Redis pub/sub and
// maintains per-symbol latest-value keys with a TTL.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New connects and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Close closes the connection.
func (p *Publisher) Close() error { return p.client.Close() }

// RunQuotes consumes quotes and publishes each one. Blocks until ctx is
// cancelled or the channel is closed. Publish failures are logged and the
// event dropped; the feed must not stall on a slow Redis.
func (p *Publisher) RunQuotes(ctx context.Context, quoteCh <-chan model.Quote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quoteCh:
			if !ok {
				return
			}
			p.publishQuote(ctx, q)
		}
	}
}

// RunOpportunities consumes scored opportunities and publishes each one.
func (p *Publisher) RunOpportunities(ctx context.Context, oppCh <-chan model.Opportunity) {
	for {
		select {
		case <-ctx.Done():
			return
		case opp, ok := <-oppCh:
			if !ok {
				return
			}
			p.publishOpportunity(ctx, opp)
		}
	}
}

func (p *Publisher) publishQuote(ctx context.Context, q model.Quote) {
	payload := string(q.JSON())
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, "pub:quote:"+q.Symbol, payload)
	pipe.Set(ctx, "latest:quote:"+q.Symbol, payload, defaultLatestTTL)
	if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[redis] quote publish failed: %v", err)
	}
}

func (p *Publisher) publishOpportunity(ctx context.Context, opp model.Opportunity) {
	payload := string(opp.JSON())
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, "pub:opportunity", payload)
	pipe.Set(ctx, "latest:opportunity:"+opp.Symbol, payload, defaultLatestTTL)
	if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[redis] opportunity publish failed: %v", err)
	}
}
