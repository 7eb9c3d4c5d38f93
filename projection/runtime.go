package projection

import (
	"context"
	"log/slog"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/authapp/iamcore/eventstore"
)

// InstanceLister discovers which instances a Runtime should poll. The
// instances read table (populated by InstancesTable, the one projection
// that is never itself instance-scoped at discovery time) backs this in
// cmd/iamd; tests can supply a fixed list.
type InstanceLister interface {
	InstanceIDs(ctx context.Context) ([]string, error)
}

// StaticInstances is an InstanceLister over a fixed set, for tests and
// single-tenant deployments.
type StaticInstances []string

func (s StaticInstances) InstanceIDs(context.Context) ([]string, error) { return []string(s), nil }

// Table is one projection: a named, idempotent reducer over a read model.
// Reduce must tolerate re-delivery of the same event and must tolerate
// removal events for rows it has never seen (a projection that starts
// mid-stream, or a reset).
type Table interface {
	Name() string
	Reduce(ctx context.Context, e eventstore.Event) error
}

// maxReducerAttempts bounds how many times the runtime retries a reducer
// error in place before parking the event and moving on: increment an
// error counter, park after N attempts, and continue without blocking
// the log.
const maxReducerAttempts = 5

// Config tunes one Runtime. Zero values take the documented defaults.
type Config struct {
	// BatchSize bounds how many events a single poll cycle filters and
	// applies before checkpointing.
	BatchSize int
	// PollInterval is how long a (projection, instance) worker sleeps after
	// an empty poll; 50-500ms is typical.
	PollInterval time.Duration
	// StallThreshold is how far behind the instance's max position a
	// checkpoint may lag before the worker is considered stalled.
	StallThreshold int64
	// StallDuration is how long the lag must persist before StallThreshold
	// triggers unhealthy, avoiding false positives from a brief burst.
	StallDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 10000
	}
	if c.StallDuration <= 0 {
		c.StallDuration = 30 * time.Second
	}
	return c
}

// Runtime drives one or more Tables over one or more instances. One worker
// goroutine runs per (table, instance) pair; workers cooperate via the
// checkpoint row rather than in-memory state.
type Runtime struct {
	store      eventstore.Querier
	checkpoint CheckpointStore
	logger     *slog.Logger
	cfg        Config

	eventsApplied   *prometheus.CounterVec
	reducerErrors   *prometheus.CounterVec
	checkpointLag   *prometheus.GaugeVec

	mu      map[string]*workerState
}

type workerState struct {
	lastAdvance time.Time
	laggingSince time.Time
	stalled     bool
}

// NewRuntime constructs a Runtime. reg may be nil to skip metrics
// registration.
func NewRuntime(store eventstore.Querier, checkpoint CheckpointStore, logger *slog.Logger, cfg Config, reg prometheus.Registerer) *Runtime {
	r := &Runtime{
		store:      store,
		checkpoint: checkpoint,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		mu:         make(map[string]*workerState),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iamcore_projection_events_applied_total",
			Help: "Events successfully reduced, by projection.",
		}, []string{"projection"}),
		reducerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iamcore_projection_reducer_errors_total",
			Help: "Reducer errors, by projection.",
		}, []string{"projection"}),
		checkpointLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iamcore_projection_checkpoint_lag",
			Help: "Positions between a projection's checkpoint and the instance's latest event.",
		}, []string{"projection", "instance_id"}),
	}
	if reg != nil {
		reg.MustRegister(r.eventsApplied, r.reducerErrors, r.checkpointLag)
	}
	return r
}

// Run drives table for instanceID until ctx is cancelled: poll for new
// events past the checkpoint, reduce each one, advance the checkpoint.
// It is meant to be run in its own goroutine (e.g. as one member of an
// oklog/run.Group).
func (r *Runtime) Run(ctx context.Context, table Table, instanceID string) error {
	name := table.Name()
	r.logger.InfoContext(ctx, "projection worker starting", "projection", name, "instance_id", instanceID)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "projection worker stopping", "projection", name, "instance_id", instanceID)
			return nil
		default:
		}

		advanced, err := r.pollOnce(ctx, table, instanceID)
		if err != nil {
			return err
		}
		if !advanced {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.cfg.PollInterval):
			}
		}
	}
}

// RunAll drives every table in tables against every instance lister
// returns, one goroutine per (table, instance) pair, using an oklog/run
// group so that any single worker's fatal error tears down the rest and
// ctx cancellation drains them all — the same run-group idiom cmd/iamd
// uses for its top-level server components.
func (r *Runtime) RunAll(ctx context.Context, tables []Table, instances InstanceLister) error {
	ids, err := instances.InstanceIDs(ctx)
	if err != nil {
		return err
	}

	var g run.Group
	for _, table := range tables {
		for _, instanceID := range ids {
			table, instanceID := table, instanceID
			workerCtx, cancel := context.WithCancel(ctx)
			g.Add(func() error {
				return r.Run(workerCtx, table, instanceID)
			}, func(error) {
				cancel()
			})
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return g.Run()
}

// pollOnce runs a single filter-and-apply cycle and reports whether any
// events were applied (so Run can skip the sleep and immediately drain a
// backlog).
func (r *Runtime) pollOnce(ctx context.Context, table Table, instanceID string) (bool, error) {
	name := table.Name()
	cp, err := r.checkpoint.Load(ctx, name, instanceID)
	if err != nil {
		return false, err
	}

	events, err := r.store.Filter(ctx, eventstore.Filter{
		InstanceID:    instanceID,
		PositionAfter: cp.Position,
		Limit:         r.cfg.BatchSize,
	})
	if err != nil {
		return false, err
	}

	r.updateLag(ctx, name, instanceID, cp.Position)

	if len(events) == 0 {
		return false, nil
	}

	for _, e := range events {
		if err := r.applyWithRetry(ctx, table, e); err != nil {
			// Parked: advance past it anyway so one poisoned event never
			// blocks the rest of the log.
			r.logger.ErrorContext(ctx, "projection reducer parked event",
				"projection", name, "instance_id", instanceID, "position", e.Position, "error", err)
		}
		cp.Position = e.Position
		cp.ProjectionName = name
		cp.InstanceID = instanceID
		cp.Status = StatusRunning
		if err := r.checkpoint.Save(ctx, cp); err != nil {
			return true, err
		}
	}
	r.markAdvanced(name, instanceID)
	return true, nil
}

func (r *Runtime) applyWithRetry(ctx context.Context, table Table, e eventstore.Event) error {
	name := table.Name()
	var lastErr error
	for attempt := 0; attempt < maxReducerAttempts; attempt++ {
		if err := table.Reduce(ctx, e); err != nil {
			lastErr = err
			r.reducerErrors.WithLabelValues(name).Inc()
			continue
		}
		r.eventsApplied.WithLabelValues(name).Inc()
		return nil
	}
	if parkErr := r.checkpoint.ParkFailedEvent(ctx, name, e.InstanceID, e.Position, lastErr.Error()); parkErr != nil {
		return parkErr
	}
	return lastErr
}

func (r *Runtime) updateLag(ctx context.Context, name, instanceID string, checkpointPos int64) {
	latest, err := r.store.LatestPosition(ctx, instanceID)
	if err != nil {
		return
	}
	lag := latest - checkpointPos
	if lag < 0 {
		lag = 0
	}
	r.checkpointLag.WithLabelValues(name, instanceID).Set(float64(lag))

	key := name + "\x00" + instanceID
	ws, ok := r.mu[key]
	if !ok {
		ws = &workerState{lastAdvance: time.Now()}
		r.mu[key] = ws
	}
	if lag <= r.cfg.StallThreshold {
		ws.laggingSince = time.Time{}
		ws.stalled = false
		return
	}
	if ws.laggingSince.IsZero() {
		ws.laggingSince = time.Now()
	}
	ws.stalled = time.Since(ws.laggingSince) > r.cfg.StallDuration
}

func (r *Runtime) markAdvanced(name, instanceID string) {
	key := name + "\x00" + instanceID
	if ws, ok := r.mu[key]; ok {
		ws.lastAdvance = time.Now()
	}
}

// Stalled reports whether (projection, instance) has lagged by more than
// StallThreshold for more than StallDuration. Used by HealthCheck and by
// operator tooling.
func (r *Runtime) Stalled(name, instanceID string) bool {
	if ws, ok := r.mu[name+"\x00"+instanceID]; ok {
		return ws.stalled
	}
	return false
}

// HealthCheck returns a go-sundheit check reporting unhealthy if any
// registered (projection, instance) worker is stalled, using the same
// checks.CustomCheck wrapper pattern as other custom health checks in
// this tree.
func (r *Runtime) HealthCheck() gosundheit.Check {
	return &checks.CustomCheck{
		CheckName: "projection-lag",
		CheckFunc: func(_ context.Context) (interface{}, error) {
			for key, ws := range r.mu {
				if ws.stalled {
					return map[string]string{"worker": key}, errStalled
				}
			}
			return nil, nil
		},
	}
}

var errStalled = stalledError{}

type stalledError struct{}

func (stalledError) Error() string { return "one or more projections have stalled" }
