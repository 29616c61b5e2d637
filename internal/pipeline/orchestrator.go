package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/hazard-alert-service/internal/cache"
	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/source"
	"github.com/couchcryptid/hazard-alert-service/internal/store"
)

// OperatorSource is the provenance entry of operator-injected events.
const OperatorSource = "operator"

// ActiveCache holds the merged active set of every hazard kind, keyed by kind.
type ActiveCache = cache.Cache[[]domain.HazardEvent]

// Snapshotter mirrors active sets outside the process.
type Snapshotter interface {
	Save(ctx context.Context, key string, entry cache.Entry[[]domain.HazardEvent]) error
	Load(ctx context.Context, key string) (cache.Entry[[]domain.HazardEvent], bool, error)
}

// EventPublisher streams persisted events to downstream consumers.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []domain.HazardEvent) error
}

// AlertSink receives events whose identity keys were seen for the first time.
type AlertSink interface {
	Dispatch(ctx context.Context, events []domain.HazardEvent)
}

// Deps are the collaborators shared by every orchestrator. Store, Cache,
// Logger and Metrics are required; the rest are optional.
type Deps struct {
	Store     store.HazardStore
	Cache     *ActiveCache
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Geocoder  domain.Geocoder
	Snapshots Snapshotter
	Publisher EventPublisher
	Alerts    AlertSink
}

// SourceResult is one adapter's contribution to a cycle.
type SourceResult struct {
	SourceID string        `json:"source_id"`
	Records  int           `json:"records"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CycleReport summarizes one completed cycle.
type CycleReport struct {
	Kind       domain.Kind    `json:"kind"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []SourceResult `json:"sources"`
	Dropped    int            `json:"dropped"`
	Events     int            `json:"events"`
	NewKeys    []string       `json:"new_keys,omitempty"`
	Degraded   bool           `json:"degraded"`
	Error      string         `json:"error,omitempty"`
}

// Status is a point-in-time view of an orchestrator.
type Status struct {
	Kind       domain.Kind  `json:"kind"`
	State      State        `json:"state"`
	Degraded   bool         `json:"degraded"`
	Cycles     int64        `json:"cycles"`
	LastReport *CycleReport `json:"last_report,omitempty"`
}

// ActiveSet is the cached event set of one kind.
type ActiveSet struct {
	Kind      domain.Kind          `json:"kind"`
	Events    []domain.HazardEvent `json:"events"`
	FetchedAt time.Time            `json:"fetched_at"`
	Fresh     bool                 `json:"fresh"`
	Degraded  bool                 `json:"degraded"`
}

// Orchestrator runs fetch cycles for one hazard kind.
type Orchestrator struct {
	kind     domain.Kind
	adapters []source.Adapter
	ranks    map[string]int
	ttl      time.Duration
	budget   time.Duration
	deps     Deps
	logger   *slog.Logger

	state    atomic.Int32
	degraded atomic.Bool
	cycles   atomic.Int64
	last     atomic.Pointer[CycleReport]
	onState  func(State)

	// mu serializes cycles and injections so the read-merge-write against
	// the store is not interleaved for one kind.
	mu sync.Mutex
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithFetchBudget overrides how long a cycle waits for its adapters. The
// default is the slowest adapter timeout.
func WithFetchBudget(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.budget = d
		}
	}
}

// NewOrchestrator builds the orchestrator for kind. ttl is the freshness
// window of the cached active set.
func NewOrchestrator(kind domain.Kind, adapters []source.Adapter, ttl time.Duration, deps Deps, opts ...Option) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	o := &Orchestrator{
		kind:     kind,
		adapters: adapters,
		ranks:    map[string]int{OperatorSource: 0},
		ttl:      ttl,
		deps:     deps,
		logger:   deps.Logger.With("kind", string(kind)),
	}
	var slowest time.Duration
	for _, a := range adapters {
		d := a.Descriptor()
		o.ranks[d.ID] = d.Rank
		slowest = max(slowest, d.Timeout)
	}
	o.budget = slowest
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Kind returns the hazard kind this orchestrator polls.
func (o *Orchestrator) Kind() domain.Kind { return o.kind }

func (o *Orchestrator) rank(sourceID string) int {
	if r, ok := o.ranks[sourceID]; ok {
		return r
	}
	return unranked
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	if o.onState != nil {
		o.onState(s)
	}
}

// State returns the phase the current cycle is in.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Status returns the current state and the last cycle report.
func (o *Orchestrator) Status() Status {
	return Status{
		Kind:       o.kind,
		State:      o.State(),
		Degraded:   o.degraded.Load(),
		Cycles:     o.cycles.Load(),
		LastReport: o.last.Load(),
	}
}

// Completed reports whether at least one cycle has finished.
func (o *Orchestrator) Completed() bool {
	return o.cycles.Load() > 0
}

// RunCycle fetches from every adapter, merges and classifies the results,
// persists them and hands newly seen events to alerting. Source failures
// never fail the cycle; a store failure does.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer o.setState(StateIdle)

	start := o.deps.Clock.Now()
	report := CycleReport{Kind: o.kind, StartedAt: start.UTC()}
	previous := o.previousKeys()

	o.setState(StateFetching)
	fetched := o.fetchAll(ctx)

	o.setState(StateMerging)
	var (
		events []domain.HazardEvent
		usable int // normalized records plus readings filtered as not hazardous
	)
	for _, f := range fetched {
		report.Sources = append(report.Sources, f.result())
		for _, raw := range f.records {
			e, err := domain.Normalize(raw, f.desc.ID, o.kind)
			if err != nil {
				report.Dropped++
				o.recordDrop(f.desc.ID, err)
				if errors.Is(err, domain.ErrNotHazard) {
					usable++
				}
				continue
			}
			usable++
			events = append(events, e)
		}
	}
	merged := Merge(events, o.rank)

	o.setState(StateClassifying)
	if usable == 0 {
		return o.fallback(report, start)
	}
	for i := range merged {
		merged[i].Reclassify()
	}

	persisted, newKeys, err := o.persist(ctx, merged, previous)
	if err != nil {
		return o.fail(report, start, err)
	}

	o.setState(StatePersisted)
	o.storeActive(ctx, persisted, start)
	o.publish(ctx, persisted)
	newEvents := o.handOff(ctx, persisted, newKeys)

	report.Events = len(persisted)
	report.NewKeys = keysOf(newEvents)
	return o.finish(report, start, "ok"), nil
}

// Inject runs an operator-supplied record through normalization, merge,
// persistence and alerting. The cached active set is not modified.
func (o *Orchestrator) Inject(ctx context.Context, raw domain.ProvisionalRecord) (domain.HazardEvent, bool, error) {
	raw.Synthetic = true
	e, err := domain.Normalize(raw, OperatorSource, o.kind)
	if err != nil {
		return domain.HazardEvent{}, false, fmt.Errorf("normalize injected record: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	e.Reclassify()
	persisted, newKeys, err := o.persist(ctx, []domain.HazardEvent{e}, o.previousKeys())
	if err != nil {
		return domain.HazardEvent{}, false, err
	}
	o.publish(ctx, persisted)
	isNew := len(o.handOff(ctx, persisted, newKeys)) > 0

	o.logger.Info("synthetic event injected", "identity_key", persisted[0].IdentityKey, "new", isNew)
	return persisted[0], isNew, nil
}

// ActiveEvents returns the cached active set, stale or not. An empty set is
// returned when nothing has ever been cached.
func (o *Orchestrator) ActiveEvents() ActiveSet {
	set := ActiveSet{Kind: o.kind, Degraded: o.degraded.Load()}
	entry, ok := o.deps.Cache.Entry(string(o.kind))
	if !ok {
		set.Events = []domain.HazardEvent{}
		return set
	}
	set.Events = cloneAll(entry.Data)
	set.FetchedAt = entry.FetchedAt
	set.Fresh = entry.FreshAt(o.deps.Clock.Now())
	return set
}

// Warm loads the last snapshot into the cache so the stale fallback works
// after a restart. A snapshot never replaces a newer cached entry.
func (o *Orchestrator) Warm(ctx context.Context) error {
	if o.deps.Snapshots == nil {
		return nil
	}
	entry, ok, err := o.deps.Snapshots.Load(ctx, string(o.kind))
	if err != nil {
		return fmt.Errorf("load %s snapshot: %w", o.kind, err)
	}
	if !ok {
		return nil
	}
	if o.deps.Cache.SetAt(string(o.kind), entry.Data, entry.TTL, entry.FetchedAt) {
		o.logger.Info("cache warmed from snapshot", "events", len(entry.Data), "fetched_at", entry.FetchedAt)
	}
	return nil
}

// --- fetching ---

type fetchOutcome struct {
	desc      source.Descriptor
	records   []domain.ProvisionalRecord
	err       error
	elapsed   time.Duration
	abandoned bool
	panicked  bool
}

func (f fetchOutcome) result() SourceResult {
	r := SourceResult{SourceID: f.desc.ID, Records: len(f.records), Duration: f.elapsed}
	if f.err != nil {
		r.Error = f.err.Error()
	}
	return r
}

var errAbandoned = errors.New("abandoned after fetch budget")

// fetchAll runs every adapter concurrently and collects each outcome.
// Adapters still running when the budget expires are abandoned; their
// late results go to a buffered channel nobody reads.
func (o *Orchestrator) fetchAll(ctx context.Context) []fetchOutcome {
	ctx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	type indexed struct {
		i   int
		out fetchOutcome
	}
	results := make(chan indexed, len(o.adapters))
	for i, a := range o.adapters {
		go func() {
			desc := a.Descriptor()
			started := time.Now()
			out := fetchOutcome{desc: desc}
			defer func() {
				if p := recover(); p != nil {
					out.records, out.err = nil, fmt.Errorf("adapter panic: %v", p)
					out.panicked = true
				}
				out.elapsed = time.Since(started)
				results <- indexed{i, out}
			}()
			out.records, out.err = a.Fetch(ctx)
		}()
	}

	outcomes := make([]fetchOutcome, len(o.adapters))
	done := make([]bool, len(o.adapters))
	for pending := len(o.adapters); pending > 0; pending-- {
		select {
		case r := <-results:
			outcomes[r.i], done[r.i] = r.out, true
			o.observeFetch(r.out)
		case <-ctx.Done():
			for i, a := range o.adapters {
				if !done[i] {
					outcomes[i] = fetchOutcome{desc: a.Descriptor(), err: errAbandoned, elapsed: o.budget, abandoned: true}
					o.observeFetch(outcomes[i])
				}
			}
			return outcomes
		}
	}
	return outcomes
}

func (o *Orchestrator) observeFetch(f fetchOutcome) {
	m := o.deps.Metrics
	m.SourceFetchDuration.WithLabelValues(f.desc.ID).Observe(f.elapsed.Seconds())
	switch {
	case f.abandoned:
		m.SourceFetches.WithLabelValues(f.desc.ID, "abandoned").Inc()
	case f.panicked:
		m.SourceFetches.WithLabelValues(f.desc.ID, "panic").Inc()
	case f.err != nil && len(f.records) == 0:
		m.SourceFetches.WithLabelValues(f.desc.ID, "error").Inc()
	case len(f.records) == 0:
		m.SourceFetches.WithLabelValues(f.desc.ID, "empty").Inc()
	default:
		m.SourceFetches.WithLabelValues(f.desc.ID, "success").Inc()
	}
	if f.err != nil {
		o.logger.Warn("source fetch failed", "source", f.desc.ID, "error", f.err, "duration", f.elapsed)
	}
}

func (o *Orchestrator) recordDrop(sourceID string, err error) {
	reason := "invalid"
	if errors.Is(err, domain.ErrNotHazard) {
		reason = "not_hazard"
		o.logger.Debug("record below hazard threshold", "source", sourceID, "error", err)
	} else {
		o.logger.Warn("dropping malformed record", "source", sourceID, "error", err)
	}
	o.deps.Metrics.RecordsDropped.WithLabelValues(string(o.kind), reason).Inc()
}

// --- persisting ---

// persist folds each event into its stored version, fills in place names
// and upserts it. It returns the persisted events and the keys that are new
// both to the store and to the previous active set.
func (o *Orchestrator) persist(ctx context.Context, events []domain.HazardEvent, previous map[string]bool) ([]domain.HazardEvent, map[string]bool, error) {
	now := o.deps.Clock.Now().UTC()
	out := make([]domain.HazardEvent, 0, len(events))
	newKeys := make(map[string]bool)

	for _, e := range events {
		stored, err := o.deps.Store.GetEvent(ctx, e.IdentityKey)
		switch {
		case err == nil:
			e = carryForward(stored, e, o.rank)
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, nil, fmt.Errorf("load event %s: %w", e.IdentityKey, err)
		}
		if e.IngestedAt.IsZero() {
			e.IngestedAt = now
		}
		e = domain.FillPlace(ctx, e, o.deps.Geocoder, o.logger)

		created, err := o.deps.Store.UpsertEvent(ctx, e)
		if err != nil {
			return nil, nil, fmt.Errorf("persist event %s: %w", e.IdentityKey, err)
		}
		if created && !previous[e.IdentityKey] {
			newKeys[e.IdentityKey] = true
		}
		out = append(out, e)
	}
	return out, newKeys, nil
}

func (o *Orchestrator) previousKeys() map[string]bool {
	prev, _ := o.deps.Cache.GetStaleIfPresent(string(o.kind))
	keys := make(map[string]bool, len(prev))
	for _, e := range prev {
		keys[e.IdentityKey] = true
	}
	return keys
}

func (o *Orchestrator) storeActive(ctx context.Context, events []domain.HazardEvent, fetchedAt time.Time) {
	key := string(o.kind)
	if !o.deps.Cache.SetAt(key, events, o.ttl, fetchedAt) {
		o.logger.Warn("newer active set already cached, keeping it")
		return
	}
	o.deps.Metrics.ActiveEvents.WithLabelValues(key).Set(float64(len(events)))
	if o.deps.Snapshots == nil {
		return
	}
	entry := cache.Entry[[]domain.HazardEvent]{Data: events, FetchedAt: fetchedAt, TTL: o.ttl}
	if err := o.deps.Snapshots.Save(ctx, key, entry); err != nil {
		o.logger.Warn("cache snapshot failed", "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, events []domain.HazardEvent) {
	if o.deps.Publisher == nil || len(events) == 0 {
		return
	}
	if err := o.deps.Publisher.PublishEvents(ctx, events); err != nil {
		o.logger.Warn("publish events failed", "error", err, "events", len(events))
	}
}

func (o *Orchestrator) handOff(ctx context.Context, events []domain.HazardEvent, newKeys map[string]bool) []domain.HazardEvent {
	var fresh []domain.HazardEvent
	for _, e := range events {
		if newKeys[e.IdentityKey] {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	o.deps.Metrics.NewEvents.WithLabelValues(string(o.kind)).Add(float64(len(fresh)))
	if o.deps.Alerts != nil {
		o.deps.Alerts.Dispatch(ctx, cloneAll(fresh))
	}
	return fresh
}

// --- cycle outcomes ---

// fallback completes a cycle in which no adapter returned a usable record
// by serving the last cached set.
func (o *Orchestrator) fallback(report CycleReport, start time.Time) (CycleReport, error) {
	stale, ok := o.deps.Cache.GetStaleIfPresent(string(o.kind))
	report.Degraded = true
	report.Events = len(stale)
	o.setState(StatePersisted)
	o.logger.Warn("no usable source data, serving cached events",
		"cached", ok, "events", len(stale), "dropped", report.Dropped)
	return o.finish(report, start, "degraded"), nil
}

func (o *Orchestrator) fail(report CycleReport, start time.Time, err error) (CycleReport, error) {
	report.Error = err.Error()
	o.logger.Error("cycle aborted", "error", err)
	o.finish(report, start, "failed")
	return report, fmt.Errorf("%s cycle: %w", o.kind, err)
}

func (o *Orchestrator) finish(report CycleReport, start time.Time, outcome string) CycleReport {
	end := o.deps.Clock.Now()
	report.FinishedAt = end.UTC()

	kind := string(o.kind)
	o.deps.Metrics.Cycles.WithLabelValues(kind, outcome).Inc()
	o.deps.Metrics.CycleDuration.WithLabelValues(kind).Observe(end.Sub(start).Seconds())
	if outcome != "failed" {
		o.degraded.Store(report.Degraded)
		o.cycles.Add(1)
		if report.Degraded {
			o.deps.Metrics.Degraded.WithLabelValues(kind).Set(1)
		} else {
			o.deps.Metrics.Degraded.WithLabelValues(kind).Set(0)
		}
	}
	o.last.Store(&report)

	o.logger.Info("cycle finished",
		"outcome", outcome,
		"events", report.Events,
		"new", len(report.NewKeys),
		"dropped", report.Dropped,
		"duration", end.Sub(start),
	)
	return report
}

func cloneAll(events []domain.HazardEvent) []domain.HazardEvent {
	out := make([]domain.HazardEvent, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}

func keysOf(events []domain.HazardEvent) []string {
	keys := make([]string, len(events))
	for i, e := range events {
		keys[i] = e.IdentityKey
	}
	return keys
}
