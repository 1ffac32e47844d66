// Package fulfillment runs best-effort post-settlement work on a bounded
// worker pool.
package fulfillment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task names.
const (
	TaskWhatsAppConfirmation = "whatsapp.order_confirmation"
	TaskEmailConfirmation    = "email.order_confirmation"
	TaskShipmentCreate       = "shipment.create"
	TaskShipmentCancel       = "shipment.cancel"
	TaskLowStockAlert        = "whatsapp.low_stock_alert"
	TaskShippingUpdate       = "whatsapp.shipping_update"
)

// Task is one unit of background work.
type Task struct {
	Name    string
	OrderID string
	Run     func(ctx context.Context) error
}

// Config sizes the worker pool.
type Config struct {
	Workers     int           `default:"4"`
	QueueSize   int           `default:"256"`
	TaskTimeout time.Duration `default:"15s"`
}

// Dispatcher queues tasks and runs them on a fixed set of workers.
type Dispatcher struct {
	cfg   Config
	queue chan Task
	lg    *zap.Logger
	tasks metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a Dispatcher. Call Run to start the workers.
func NewDispatcher(cfg Config, lg *zap.Logger, mp metric.MeterProvider) (*Dispatcher, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 15 * time.Second
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	tasks, err := mp.Meter("github.com/xenking/nopego-checkout/internal/fulfillment").
		Int64Counter("checkout.tasks", metric.WithDescription("Fulfillment tasks by outcome"))
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		cfg:   cfg,
		queue: make(chan Task, cfg.QueueSize),
		lg:    lg.Named("fulfillment"),
		tasks: tasks,
	}, nil
}

// Enqueue hands a task to the pool. It never blocks: when the queue is full
// or the dispatcher is shutting down the task is dropped and logged.
func (d *Dispatcher) Enqueue(t Task) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	lg := d.lg.With(zap.String("task", t.Name), zap.String("order_id", t.OrderID))
	if d.closed {
		d.record(context.Background(), t.Name, "dropped")
		lg.Warn("Dispatcher stopped, dropping task")
		return
	}
	select {
	case d.queue <- t:
	default:
		d.record(context.Background(), t.Name, "dropped")
		lg.Warn("Fulfillment queue full, dropping task", zap.Int("queue_size", d.cfg.QueueSize))
	}
}

// Run starts the workers and blocks until ctx is cancelled and the queue is
// drained, or drainTimeout passes after cancellation.
func (d *Dispatcher) Run(ctx context.Context, drainTimeout time.Duration) error {
	// Workers keep running after ctx ends so queued tasks still complete.
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	g, gctx := errgroup.WithContext(workCtx)
	for range d.cfg.Workers {
		g.Go(func() error {
			for t := range d.queue {
				d.run(gctx, t)
			}
			return nil
		})
	}

	<-ctx.Done()
	d.mu.Lock()
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.lg.Info("Draining fulfillment queue", zap.Int("pending", len(d.queue)))
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		d.lg.Warn("Fulfillment drain timed out", zap.Int("pending", len(d.queue)))
		cancel()
		<-done
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, t Task) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
	defer cancel()

	lg := d.lg.With(zap.String("task", t.Name), zap.String("order_id", t.OrderID))
	ctx = zctx.Base(ctx, lg)

	start := time.Now()
	err := safeRun(ctx, t)
	if err != nil {
		d.record(ctx, t.Name, "failed")
		lg.Warn("Fulfillment task failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	d.record(ctx, t.Name, "ok")
	lg.Debug("Fulfillment task done", zap.Duration("duration", time.Since(start)))
}

func (d *Dispatcher) record(ctx context.Context, task, result string) {
	d.tasks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task", task),
		attribute.String("result", result),
	))
}

// safeRun converts a panicking task into an error.
func safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return t.Run(ctx)
}

type panicError struct{ value any }

func (p *panicError) Error() string {
	return fmt.Sprintf("task panicked: %v", p.value)
}
