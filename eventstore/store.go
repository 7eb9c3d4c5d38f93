package eventstore

import (
	"context"

	"github.com/authapp/iamcore/domain"
)

// ExpectedVersion pins the optimistic-concurrency check for one aggregate
// within a Push call. NoStream means the aggregate must not already exist.
type ExpectedVersion int64

// NoStream asserts the target aggregate has no prior events: version 1 is
// being written for the first time.
const NoStream ExpectedVersion = 0

// AggregateWrite groups the events destined for one aggregate in a Push
// call along with the version the caller last observed.
type AggregateWrite struct {
	AggregateType     domain.AggregateType
	AggregateID       string
	ExpectedVersion   ExpectedVersion
	Events            []PendingEvent
	UniqueConstraints []UniqueConstraint
}

// Pusher appends events atomically. A Push either commits every event in
// the batch or none of it: a version mismatch on any aggregate, or a
// collision on any unique constraint, aborts the whole transaction.
type Pusher interface {
	// Push appends writes, returns each event with Position/CreatedAt
	// filled in, in the same order as writes were flattened. On an
	// optimistic-concurrency failure it returns a domain.Error with
	// Kind == domain.KindOptimisticConcurrency; on a unique-constraint
	// collision, domain.KindUniqueConstraintViolation.
	Push(ctx context.Context, writes ...AggregateWrite) ([]Event, error)
}

// Querier reads events back in global position order.
type Querier interface {
	// Filter returns events matching f in ascending Position order,
	// bounded by f.Limit. It must never return an event whose Position is
	// less than a still-in-flight transaction's eventual position: once a
	// reader has processed up to position p it must never later observe
	// p' < p (the "no gaps" invariant projections depend on).
	Filter(ctx context.Context, f Filter) ([]Event, error)

	// LatestByAggregate returns the highest AggregateVersion currently
	// stored for (aggregateType, aggregateID), or 0 if the aggregate has
	// no events yet.
	LatestByAggregate(ctx context.Context, instanceID string, aggregateType domain.AggregateType, aggregateID string) (int64, error)

	// LatestPosition returns the highest event Position currently stored
	// for instanceID, or 0 if the instance has no events yet. Used by the
	// projection runtime's stall detection to measure checkpoint lag.
	LatestPosition(ctx context.Context, instanceID string) (int64, error)
}

// Store is the full event-store surface a command dispatcher and a
// projection runtime depend on.
type Store interface {
	Pusher
	Querier
	Close() error
}
