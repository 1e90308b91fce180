package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
)

// ErrQueueFull is returned by Submit when the job queue is saturated.
var ErrQueueFull = errors.New("dispatch queue full")

// ErrDispatcherStopped is returned by Submit after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Processor is the part of Engine the dispatcher drives.
type Processor interface {
	Process(ctx context.Context, ev domain.Event) (domain.Result, error)
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
}

// Dispatcher processes events in the background with a fixed worker pool.
// Used by webhook endpoints that acknowledge before processing.
type Dispatcher struct {
	proc     Processor
	logger   *slog.Logger
	jobChan  chan domain.Event
	workerWg sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher starts the worker pool.
func NewDispatcher(proc Processor, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		proc:    proc,
		logger:  logger,
		jobChan: make(chan domain.Event, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.workerWg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.workerWg.Done()

	for ev := range d.jobChan {
		res, err := d.proc.Process(d.ctx, ev)
		if err != nil {
			d.logger.Error("Background processing error",
				"user_id", ev.UserID,
				"event_type", ev.Type,
				"error", err,
			)
			continue
		}
		d.logger.Debug("Background event processed",
			"user_id", ev.UserID,
			"action", res.Action,
		)
	}
}

// Submit enqueues an event without blocking.
func (d *Dispatcher) Submit(ev domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	select {
	case d.jobChan <- ev:
		return nil
	default:
		d.logger.Warn("Dispatch queue full, dropping event",
			"user_id", ev.UserID,
			"event_type", ev.Type,
		)
		return ErrQueueFull
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return len(d.jobChan)
}

// Stop drains queued events and waits for the workers. When ctx expires
// first, in-flight generation is cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.jobChan)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
