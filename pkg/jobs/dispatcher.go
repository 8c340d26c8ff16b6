// Package jobs runs the asynchronous email dispatch pool.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Email is one outbound message queued for delivery.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a single email. Implementations must be safe for
// concurrent use.
type Sender func(context.Context, Email) error

// DispatcherConfig tunes the worker pool and its retry behaviour.
type DispatcherConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// delivery carries one email through the pool with its retry count.
type delivery struct {
	email    Email
	attempt  int
	enqueued time.Time
}

// Dispatcher fans queued emails out to a fixed pool of workers. Failed
// deliveries are retried with a fixed delay up to MaxRetries, then dropped
// with an error log; delivery is best-effort by contract.
type Dispatcher struct {
	send       Sender
	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	pending chan delivery
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewDispatcher builds a dispatcher around the provided sender.
func NewDispatcher(send Sender, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Dispatcher{
		send:       send,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		pending:    make(chan delivery, cfg.BufferSize),
	}
}

// Start spins up the workers. Safe to call once.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.started = true
	d.logger.Sugar().Infow("email dispatcher started", "workers", d.workers)
}

// Stop cancels the workers and waits for them to exit. Buffered emails
// that have not been picked up are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
	d.logger.Sugar().Infow("email dispatcher stopped")
}

// Enqueue queues one email for delivery.
func (d *Dispatcher) Enqueue(e Email) error {
	d.mu.Lock()
	ctx := d.ctx
	started := d.started
	d.mu.Unlock()

	if !started {
		return fmt.Errorf("email dispatcher not started")
	}
	return d.push(ctx, delivery{email: e, enqueued: time.Now().UTC()})
}

func (d *Dispatcher) push(ctx context.Context, dv delivery) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("email dispatcher stopped: %w", ctx.Err())
	case d.pending <- dv:
		return nil
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case dv := <-d.pending:
			if err := d.send(d.ctx, dv.email); err != nil {
				d.retry(dv, err)
			}
		}
	}
}

func (d *Dispatcher) retry(dv delivery, err error) {
	dv.attempt++
	if dv.attempt > d.maxRetries {
		d.logger.Sugar().Errorw("email delivery exceeded retries",
			"to", dv.email.To, "subject", dv.email.Subject, "error", err)
		return
	}
	d.logger.Sugar().Warnw("email delivery failed, retrying",
		"to", dv.email.To, "attempt", dv.attempt, "error", err)

	go func() {
		timer := time.NewTimer(d.retryDelay)
		defer timer.Stop()
		select {
		case <-d.ctx.Done():
		case <-timer.C:
			if err := d.push(d.ctx, dv); err != nil {
				d.logger.Sugar().Errorw("failed to requeue email", "to", dv.email.To, "error", err)
			}
		}
	}()
}
