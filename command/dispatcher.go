package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
	"github.com/authapp/iamcore/tokenengine"
)

// maxConcurrencyRetries bounds how many times the dispatcher reloads and
// retries a command after losing an optimistic-concurrency race before
// surfacing the error to the caller.
const maxConcurrencyRetries = 3

// Dispatcher loads an aggregate's write model, invokes a command handler,
// and pushes the resulting events, retrying on optimistic-concurrency
// conflicts. One Dispatcher is shared by every request handler; it holds
// no per-command state.
type Dispatcher struct {
	store   eventstore.Store
	logger  *slog.Logger
	signer  *tokenengine.Signer
	rotator *tokenengine.KeyRotator

	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
}

// SetIDTokenSigner configures a single, non-rotating signer used by
// IssueIDToken. An instance with no signer or rotator configured cannot
// mint ID tokens; opaque access/refresh tokens via IssueToken are
// unaffected. Superseded by SetKeyRotator if both are set.
func (d *Dispatcher) SetIDTokenSigner(signer *tokenengine.Signer) {
	d.signer = signer
}

// SetKeyRotator configures a rotating signing key: IssueIDToken signs with
// whichever key is currently active, and the rotator keeps retired keys'
// public halves around for verifiers until in-flight ID tokens expire.
func (d *Dispatcher) SetKeyRotator(rotator *tokenengine.KeyRotator) {
	d.rotator = rotator
}

// IssueIDToken signs an OIDC ID token alongside an already-issued access
// token. Unlike IssueToken, the ID token itself is not event-sourced: it
// is a transient, re-derivable signed claims set, not an aggregate.
func (d *Dispatcher) IssueIDToken(claims tokenengine.IDTokenClaims, accessToken string) (string, error) {
	signer := d.signer
	if d.rotator != nil {
		signer = d.rotator.Active()
	}
	if signer == nil {
		return "", errors.New("no id token signer configured")
	}
	return signer.SignIDToken(claims, accessToken)
}

// NewDispatcher constructs a Dispatcher. reg may be nil to skip metrics
// registration (e.g. in unit tests).
func NewDispatcher(store eventstore.Store, logger *slog.Logger, reg prometheus.Registerer) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		logger: logger,
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iamcore_commands_total",
			Help: "Commands dispatched, by command name and outcome.",
		}, []string{"command", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "iamcore_command_duration_seconds",
			Help: "Command dispatch latency, by command name.",
		}, []string{"command"}),
	}
	if reg != nil {
		reg.MustRegister(d.commandsTotal, d.commandDuration)
	}
	return d
}

// handlerResult is what a command handler returns: the events and unique
// constraint operations to append, or nothing if the command was a no-op.
type handlerResult struct {
	events      []eventstore.PendingEvent
	constraints []eventstore.UniqueConstraint
}

// dispatch implements the shared per-command algorithm: load, fold,
// invoke, push, retry on OptimisticConcurrency.
func dispatch(ctx context.Context, d *Dispatcher, commandName string, aggregateType domain.AggregateType, aggregateID string, loadAndHandle func() (int64, *handlerResult, error)) (int64, error) {
	start := time.Now()
	var version int64
	var outcome string

	defer func() {
		d.commandDuration.WithLabelValues(commandName).Observe(time.Since(start).Seconds())
		d.commandsTotal.WithLabelValues(commandName, outcome).Inc()
	}()

	for attempt := 0; ; attempt++ {
		currentVersion, result, err := loadAndHandle()
		if err != nil {
			outcome = "error"
			return 0, err
		}
		if result == nil || len(result.events) == 0 {
			// Idempotent no-op: the handler detected nothing changed.
			outcome = "noop"
			return currentVersion, nil
		}

		pushed, err := d.store.Push(ctx, eventstore.AggregateWrite{
			AggregateType:     aggregateType,
			AggregateID:       aggregateID,
			ExpectedVersion:   eventstore.ExpectedVersion(currentVersion),
			Events:            result.events,
			UniqueConstraints: result.constraints,
		})
		if err != nil {
			if domain.IsKind(err, domain.KindOptimisticConcurrency) && attempt < maxConcurrencyRetries {
				d.logger.WarnContext(ctx, "optimistic concurrency conflict, retrying",
					"command", commandName, "aggregate_id", aggregateID, "attempt", attempt)
				continue
			}
			outcome = "error"
			return 0, err
		}
		version = pushed[len(pushed)-1].AggregateVersion
		outcome = "ok"
		return version, nil
	}
}

// errNotFound is a convenience for handlers loading an aggregate that
// must already exist.
func errNotFound(kind domain.AggregateType, id string) error {
	return domain.NotFoundf("%s %q not found", kind, id)
}

var errAlreadyTerminal = errors.New("aggregate already in a terminal state")
