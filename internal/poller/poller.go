// Package poller reads a register map on a fixed interval and hands each
// cycle's readings to a publisher.
package poller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	modbus "github.com/bronystylecrazy/gomodbus"
)

// Publisher receives the successful readings of one cycle.
type Publisher interface {
	Publish(ctx context.Context, ts time.Time, results []modbus.ReadResult) error
}

// Cycle summarises one poll.
type Cycle struct {
	Started  time.Time
	Duration time.Duration
	Read     int
	Failed   int
	Err      error
}

type Poller struct {
	client    modbus.RegisterReader
	registers []modbus.RegisterDescriptor
	publisher Publisher
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func New(client modbus.RegisterReader, registers []modbus.RegisterDescriptor, publisher Publisher, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		client:    client,
		registers: registers,
		publisher: publisher,
		interval:  interval,
		logger:    logger.Named("poller"),
		now:       time.Now,
	}
}

// PollOnce reads every register and publishes what succeeded.
func (p *Poller) PollOnce(ctx context.Context) Cycle {
	c := Cycle{Started: p.now()}
	results := p.client.ReadMultipleRegisters(ctx, p.registers)
	c.Read = len(results)
	c.Failed = len(p.registers) - len(results)
	if len(results) > 0 && p.publisher != nil {
		c.Err = p.publisher.Publish(ctx, c.Started, results)
	}
	c.Duration = p.now().Sub(c.Started)

	fields := []zap.Field{
		zap.Int("read", c.Read),
		zap.Int("failed", c.Failed),
		zap.Duration("duration", c.Duration),
	}
	switch {
	case c.Err != nil:
		p.logger.Error("publish failed", append(fields, zap.Error(c.Err))...)
	case c.Read == 0:
		p.logger.Warn("poll cycle read nothing", fields...)
	default:
		p.logger.Info("poll cycle", fields...)
	}
	return c
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("starting", zap.Int("registers", len(p.registers)), zap.Duration("interval", p.interval))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.PollOnce(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
