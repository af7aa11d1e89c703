package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache provides fast access to the latest spot prices.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, asset string) (decimal.Decimal, time.Time, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// EventPublisher ships settled-record events to an external broker.
type EventPublisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Bus channels.
const (
	ChannelTransactions = "transactions"
	ChannelFlows        = "flows"
	StreamTransactions  = "stream:transactions"
)
