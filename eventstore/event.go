// Package eventstore defines the append-only event log: the Event shape,
// the unique-constraint side table, and the Store interface every backend
// (SQL, in-memory) implements. Commands push events through it; projections
// filter events back out in global order.
package eventstore

import (
	"encoding/json"
	"time"

	"github.com/authapp/iamcore/domain"
)

// Event is one row of the log. Payload is kept as a raw JSON tree rather
// than a concrete struct so that unknown fields round-trip untouched
// across deployments that add fields to an event type, per the dynamic
// payload-typing note: reducers decode only the fields they know about.
type Event struct {
	// Position is assigned by the store at commit time and is strictly
	// increasing within one instance. Zero until Push returns.
	Position int64

	InstanceID       string
	AggregateType    domain.AggregateType
	AggregateID      string
	AggregateVersion int64
	EventType        domain.EventType
	ResourceOwner    domain.ResourceOwner

	Payload json.RawMessage

	// EditorUserID is the acting principal, threaded from the command
	// Context so reducers and audit projections don't need to re-derive it.
	EditorUserID string

	CreatedAt time.Time
}

// UniqueConstraintOp is the action a unique-constraint entry requests
// within the same transaction as the event that provoked it.
type UniqueConstraintOp int

const (
	UniqueConstraintAdd UniqueConstraintOp = iota
	UniqueConstraintRemove
)

// UniqueConstraint ties an event append to a row in the unique-constraint
// side table: adding a user named "alice" inserts
// (instance, "user.username", "alice"); removing or renaming deletes it.
// A colliding insert fails the whole push with UniqueConstraintViolation.
type UniqueConstraint struct {
	Op    UniqueConstraintOp
	Name  string
	Value string
	// ErrMessage is surfaced on a collision, e.g. "username taken".
	ErrMessage string
}

// PendingEvent is what a command handler produces: an event not yet
// assigned a Position. The unique-constraint operations that must commit
// atomically with it travel beside it in AggregateWrite.
type PendingEvent struct {
	InstanceID       string
	AggregateType    domain.AggregateType
	AggregateID      string
	AggregateVersion int64
	EventType        domain.EventType
	ResourceOwner    domain.ResourceOwner
	Payload          interface{}
	EditorUserID     string
}

// Filter selects a slice of the log for a projection or a write-model
// reload. All fields are ANDed together; slice fields are OR'd internally.
type Filter struct {
	InstanceID    string
	AggregateType []domain.AggregateType
	AggregateID   []string
	EventType     []domain.EventType
	Owner         []domain.ResourceOwner
	PositionAfter int64
	CreatedAfter  time.Time
	Limit         int
}
