// Package notifier delivers batches of changed products to the operator.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"melonbooks-monitor/internal/models"
)

const (
	DefaultChunkSize  = 5
	DefaultChunkDelay = time.Second
)

// ErrNotify matches every delivery failure.
var ErrNotify = errors.New("notification failed")

// Channel delivers one message per call.
type Channel interface {
	SendNew(ctx context.Context, artist string, products []models.Product) error
	SendReruns(ctx context.Context, artist string, products []models.Product) error
}

// Options configures chunking.
type Options struct {
	ChunkSize  int
	ChunkDelay time.Duration
	// Sleep waits between chunks; defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Notifier splits product lists into chunks and hands each chunk to its channel.
type Notifier struct {
	channel    Channel
	chunkSize  int
	chunkDelay time.Duration
	sleep      func(time.Duration)
}

// New creates a Notifier. A nil channel makes every notification a no-op.
func New(channel Channel, opts Options) *Notifier {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Notifier{
		channel:    channel,
		chunkSize:  opts.ChunkSize,
		chunkDelay: opts.ChunkDelay,
		sleep:      opts.Sleep,
	}
}

// NotifyNew announces products found for the first time.
func (n *Notifier) NotifyNew(ctx context.Context, artist string, products []models.Product) error {
	if n.channel == nil {
		return nil
	}
	if err := n.deliver(ctx, artist, products, n.channel.SendNew); err != nil {
		return fmt.Errorf("%w: new products of %s: %w", ErrNotify, artist, err)
	}
	return nil
}

// NotifyReruns announces products that can be bought again.
func (n *Notifier) NotifyReruns(ctx context.Context, artist string, products []models.Product) error {
	if n.channel == nil {
		return nil
	}
	if err := n.deliver(ctx, artist, products, n.channel.SendReruns); err != nil {
		return fmt.Errorf("%w: reruns of %s: %w", ErrNotify, artist, err)
	}
	return nil
}

type sendFunc func(ctx context.Context, artist string, products []models.Product) error

func (n *Notifier) deliver(ctx context.Context, artist string, products []models.Product, send sendFunc) error {
	for i, chunk := range chunks(products, n.chunkSize) {
		if i > 0 {
			n.sleep(n.chunkDelay)
		}
		if err := send(ctx, artist, chunk); err != nil {
			return err
		}
	}
	return nil
}

func chunks(products []models.Product, size int) [][]models.Product {
	var out [][]models.Product
	for start := 0; start < len(products); start += size {
		end := min(start+size, len(products))
		out = append(out, products[start:end])
	}
	return out
}

// Multi sends every message to all of its channels in order.
type Multi []Channel

// SendNew stops at the first channel that fails.
func (m Multi) SendNew(ctx context.Context, artist string, products []models.Product) error {
	for _, c := range m {
		if err := c.SendNew(ctx, artist, products); err != nil {
			return err
		}
	}
	return nil
}

// SendReruns implements Channel.
func (m Multi) SendReruns(ctx context.Context, artist string, products []models.Product) error {
	for _, c := range m {
		if err := c.SendReruns(ctx, artist, products); err != nil {
			return err
		}
	}
	return nil
}
