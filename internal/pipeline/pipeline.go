package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
)

// ErrUnknownKind is returned for a hazard kind no orchestrator polls.
var ErrUnknownKind = errors.New("no orchestrator for hazard kind")

// Pipeline schedules one orchestrator per hazard kind and is the entry point
// the HTTP API and the CLI use to read and inject events.
type Pipeline struct {
	orchestrators map[domain.Kind]*Orchestrator
	order         []domain.Kind
	intervals     map[domain.Kind]time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics
	ready         atomic.Bool
}

// New creates a Pipeline. Each orchestrator runs every intervals[kind];
// a missing or non-positive interval falls back to five minutes.
func New(orchestrators []*Orchestrator, intervals map[domain.Kind]time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	p := &Pipeline{
		orchestrators: make(map[domain.Kind]*Orchestrator, len(orchestrators)),
		intervals:     intervals,
		logger:        logger,
		metrics:       metrics,
	}
	for _, o := range orchestrators {
		p.orchestrators[o.Kind()] = o
		p.order = append(p.order, o.Kind())
	}
	return p
}

// CheckReadiness returns nil once every orchestrator has completed a cycle,
// or an error naming the first kind still waiting.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if p.ready.Load() {
		return nil
	}
	for _, kind := range p.order {
		if !p.orchestrators[kind].Completed() {
			return fmt.Errorf("%s pipeline has not completed a cycle yet", kind)
		}
	}
	p.ready.Store(true)
	return nil
}

// Run warms the caches, runs a first cycle for every kind and then polls on
// each kind's interval until ctx is cancelled. It waits for running cycles
// to finish before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "kinds", len(p.order))
	p.metrics.SchedulerRunning.Set(1)
	defer p.metrics.SchedulerRunning.Set(0)

	for _, kind := range p.order {
		if err := p.orchestrators[kind].Warm(ctx); err != nil {
			p.logger.Warn("cache warm-up failed", "kind", string(kind), "error", err)
		}
	}

	cl := cronLogger{p.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	var first sync.WaitGroup
	for _, kind := range p.order {
		o := p.orchestrators[kind]
		interval := p.interval(kind)
		id := c.Schedule(cron.Every(interval), cron.FuncJob(func() {
			// Failures are logged and counted by the orchestrator.
			_, _ = o.RunCycle(ctx)
		}))
		p.logger.Info("polling scheduled", "kind", string(kind), "interval", interval)
		first.Go(c.Entry(id).WrappedJob.Run)
	}
	c.Start()

	<-ctx.Done()
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	<-c.Stop().Done()
	first.Wait()
	return nil
}

func (p *Pipeline) interval(kind domain.Kind) time.Duration {
	if d := p.intervals[kind]; d > 0 {
		return d
	}
	return 5 * time.Minute
}

func (p *Pipeline) orchestrator(kind domain.Kind) (*Orchestrator, error) {
	o, ok := p.orchestrators[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return o, nil
}

// RunCycle runs one cycle for kind immediately.
func (p *Pipeline) RunCycle(ctx context.Context, kind domain.Kind) (CycleReport, error) {
	o, err := p.orchestrator(kind)
	if err != nil {
		return CycleReport{}, err
	}
	return o.RunCycle(ctx)
}

// ActiveEvents returns the cached active set for kind.
func (p *Pipeline) ActiveEvents(kind domain.Kind) (ActiveSet, error) {
	o, err := p.orchestrator(kind)
	if err != nil {
		return ActiveSet{}, err
	}
	return o.ActiveEvents(), nil
}

// Inject persists an operator-supplied test event for kind.
func (p *Pipeline) Inject(ctx context.Context, kind domain.Kind, raw domain.ProvisionalRecord) (domain.HazardEvent, bool, error) {
	o, err := p.orchestrator(kind)
	if err != nil {
		return domain.HazardEvent{}, false, err
	}
	return o.Inject(ctx, raw)
}

// Status returns the status of every orchestrator in polling order.
func (p *Pipeline) Status() []Status {
	out := make([]Status, 0, len(p.order))
	for _, kind := range p.order {
		out = append(out, p.orchestrators[kind].Status())
	}
	return out
}

// cronLogger routes scheduler logs through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
