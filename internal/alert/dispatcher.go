package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
)

// Processor turns new events into notifications.
type Processor interface {
	Process(ctx context.Context, events []domain.HazardEvent) (Result, error)
}

// DispatcherConfig controls when and how often evaluation is attempted.
type DispatcherConfig struct {
	// Delay between hand-off and evaluation. Retries back off from it,
	// doubling up to MaxDelay. Zero evaluates inline on the caller's goroutine.
	Delay    time.Duration
	MaxDelay time.Duration
	// MaxRetries is the number of extra attempts after a failed evaluation.
	MaxRetries int
}

// Dispatcher decouples event ingest from alert evaluation. It satisfies the
// orchestrator's alert hand-off.
type Dispatcher struct {
	proc    Processor
	cfg     DispatcherConfig
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[clockwork.Timer]struct{}
	closed  bool
	running sync.WaitGroup
}

// NewDispatcher creates a Dispatcher feeding proc.
func NewDispatcher(proc Processor, cfg DispatcherConfig, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MaxDelay < cfg.Delay {
		cfg.MaxDelay = 8 * cfg.Delay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		proc:    proc,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[clockwork.Timer]struct{}),
	}
}

// Dispatch hands events to the processor. With no delay configured the
// evaluation and its retries run before Dispatch returns.
func (d *Dispatcher) Dispatch(ctx context.Context, events []domain.HazardEvent) {
	if len(events) == 0 {
		return
	}
	if d.cfg.Delay <= 0 {
		d.runInline(ctx, events)
		return
	}
	d.schedule(events, 0, d.cfg.Delay)
}

func (d *Dispatcher) runInline(ctx context.Context, events []domain.HazardEvent) {
	for attempt := 0; ; attempt++ {
		err := d.attempt(ctx, events, attempt)
		if err == nil || ctx.Err() != nil {
			return
		}
		if attempt >= d.cfg.MaxRetries {
			d.giveUp(events, err)
			return
		}
	}
}

func (d *Dispatcher) schedule(events []domain.HazardEvent, attempt int, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, dropping alert evaluation", "events", len(events))
		return
	}

	var timer clockwork.Timer
	d.running.Add(1)
	timer = d.clock.AfterFunc(delay, func() {
		defer d.running.Done()
		d.mu.Lock()
		delete(d.pending, timer)
		d.mu.Unlock()

		err := d.attempt(d.ctx, events, attempt)
		switch {
		case err == nil || d.ctx.Err() != nil:
		case attempt < d.cfg.MaxRetries:
			d.schedule(events, attempt+1, retry.NextBackoff(delay, d.cfg.MaxDelay))
		default:
			d.giveUp(events, err)
		}
	})
	d.pending[timer] = struct{}{}
}

func (d *Dispatcher) attempt(ctx context.Context, events []domain.HazardEvent, attempt int) error {
	_, err := d.proc.Process(ctx, events)
	if err != nil {
		d.logger.Warn("alert evaluation failed", "error", err, "attempt", attempt+1, "events", len(events))
	}
	return err
}

func (d *Dispatcher) giveUp(events []domain.HazardEvent, err error) {
	d.metrics.AlertDispatchErrors.Inc()
	keys := make([]string, len(events))
	for i, e := range events {
		keys[i] = e.IdentityKey
	}
	d.logger.Error("alert evaluation abandoned", "error", err, "identity_keys", keys)
}

// Close cancels pending evaluations and waits for running ones to return.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	for t := range d.pending {
		if t.Stop() {
			d.running.Done()
		}
		delete(d.pending, t)
	}
	d.mu.Unlock()

	d.cancel()
	d.running.Wait()
}
