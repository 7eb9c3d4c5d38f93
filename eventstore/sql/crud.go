package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

var _ eventstore.Store = (*conn)(nil)

// Push implements eventstore.Pusher. Every aggregate in writes is checked
// against its expected version and appended in a single SERIALIZABLE
// transaction (see flavorPostgres.executeTx); a mismatch on any aggregate,
// or a collision on any unique constraint, rolls the whole batch back.
func (c *conn) Push(ctx context.Context, writes ...eventstore.AggregateWrite) ([]eventstore.Event, error) {
	var out []eventstore.Event

	err := c.ExecTx(func(tx *trans) error {
		out = out[:0]
		for _, w := range writes {
			if len(w.Events) == 0 {
				continue
			}
			instanceID := w.Events[0].InstanceID

			var current sql.NullInt64
			err := tx.QueryRowContext(ctx,
				`select max(aggregate_version) from events where instance_id = $1 and aggregate_type = $2 and aggregate_id = $3`,
				instanceID, string(w.AggregateType), w.AggregateID,
			).Scan(&current)
			if err != nil {
				return fmt.Errorf("load current version: %w", err)
			}
			var currentVersion int64
			if current.Valid {
				currentVersion = current.Int64
			}
			if currentVersion != int64(w.ExpectedVersion) {
				return &domain.Error{Kind: domain.KindOptimisticConcurrency, Message: fmt.Sprintf(
					"aggregate %s/%s at version %d, expected %d", w.AggregateType, w.AggregateID, currentVersion, w.ExpectedVersion)}
			}

			nextVersion := currentVersion
			for _, pe := range w.Events {
				nextVersion++
				payload, err := json.Marshal(pe.Payload)
				if err != nil {
					return fmt.Errorf("marshal event payload: %w", err)
				}

				var position int64
				var createdAt time.Time
				err = tx.QueryRowContext(ctx, `
					insert into events (
						instance_id, aggregate_type, aggregate_id, aggregate_version,
						event_type, resource_owner_type, resource_owner_id,
						payload, editor_user_id, created_at
					) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
					returning position, created_at
				`,
					pe.InstanceID, string(pe.AggregateType), pe.AggregateID, nextVersion,
					string(pe.EventType), string(pe.ResourceOwner.Type), pe.ResourceOwner.ID,
					payload, pe.EditorUserID,
				).Scan(&position, &createdAt)
				if err != nil {
					return fmt.Errorf("insert event: %w", err)
				}

				out = append(out, eventstore.Event{
					Position:         position,
					InstanceID:       pe.InstanceID,
					AggregateType:    pe.AggregateType,
					AggregateID:      pe.AggregateID,
					AggregateVersion: nextVersion,
					EventType:        pe.EventType,
					ResourceOwner:    pe.ResourceOwner,
					Payload:          payload,
					EditorUserID:     pe.EditorUserID,
					CreatedAt:        createdAt,
				})
			}

			if err := c.applyUniqueConstraints(ctx, tx, instanceID, w.UniqueConstraints); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var domErr *domain.Error
		if asDomainError(err, &domErr) {
			return nil, domErr
		}
		return nil, err
	}
	return out, nil
}

func (c *conn) applyUniqueConstraints(ctx context.Context, tx *trans, instanceID string, constraints []eventstore.UniqueConstraint) error {
	for _, uc := range constraints {
		switch uc.Op {
		case eventstore.UniqueConstraintAdd:
			_, err := tx.ExecContext(ctx,
				`insert into unique_constraints (instance_id, constraint_name, value) values ($1, $2, $3)`,
				instanceID, uc.Name, uc.Value,
			)
			if err != nil {
				if c.uniqueViolation(err) {
					msg := uc.ErrMessage
					if msg == "" {
						msg = "already taken"
					}
					return &domain.Error{Kind: domain.KindUniqueConstraintViolation, Constraint: uc.Name, Message: msg}
				}
				return fmt.Errorf("insert unique constraint %s: %w", uc.Name, err)
			}
		case eventstore.UniqueConstraintRemove:
			if _, err := tx.ExecContext(ctx,
				`delete from unique_constraints where instance_id = $1 and constraint_name = $2 and value = $3`,
				instanceID, uc.Name, uc.Value,
			); err != nil {
				return fmt.Errorf("delete unique constraint %s: %w", uc.Name, err)
			}
		}
	}
	return nil
}

func asDomainError(err error, target **domain.Error) bool {
	if de, ok := err.(*domain.Error); ok {
		*target = de
		return true
	}
	return false
}

// Filter implements eventstore.Querier.
func (c *conn) Filter(ctx context.Context, f eventstore.Filter) ([]eventstore.Event, error) {
	where := []string{"instance_id = $1"}
	args := []interface{}{f.InstanceID}

	if len(f.AggregateType) > 0 {
		ph := placeholders(&args, toStrings(f.AggregateType))
		where = append(where, "aggregate_type in ("+ph+")")
	}
	if len(f.AggregateID) > 0 {
		ph := placeholders(&args, f.AggregateID)
		where = append(where, "aggregate_id in ("+ph+")")
	}
	if len(f.EventType) > 0 {
		ph := placeholders(&args, toEventStrings(f.EventType))
		where = append(where, "event_type in ("+ph+")")
	}
	if f.PositionAfter > 0 {
		args = append(args, f.PositionAfter)
		where = append(where, fmt.Sprintf("position > $%d", len(args)))
	}
	if !f.CreatedAfter.IsZero() {
		args = append(args, f.CreatedAfter)
		where = append(where, fmt.Sprintf("created_at > $%d", len(args)))
	}

	q := `select position, instance_id, aggregate_type, aggregate_id, aggregate_version,
			event_type, resource_owner_type, resource_owner_id, payload, editor_user_id, created_at
		from events where ` + strings.Join(where, " and ") + ` order by position asc`
	if f.Limit > 0 {
		q += fmt.Sprintf(" limit %d", f.Limit)
	}

	rows, err := c.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("filter events: %w", err)
	}
	defer rows.Close()

	var out []eventstore.Event
	for rows.Next() {
		var e eventstore.Event
		var aggType, evType, ownerType string
		if err := rows.Scan(&e.Position, &e.InstanceID, &aggType, &e.AggregateID, &e.AggregateVersion,
			&evType, &ownerType, &e.ResourceOwner.ID, &e.Payload, &e.EditorUserID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.AggregateType = domain.AggregateType(aggType)
		e.EventType = domain.EventType(evType)
		e.ResourceOwner.Type = domain.OwnerType(ownerType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestByAggregate implements eventstore.Querier.
func (c *conn) LatestByAggregate(ctx context.Context, instanceID string, aggregateType domain.AggregateType, aggregateID string) (int64, error) {
	var v sql.NullInt64
	err := c.QueryRowContext(ctx,
		`select max(aggregate_version) from events where instance_id = $1 and aggregate_type = $2 and aggregate_id = $3`,
		instanceID, string(aggregateType), aggregateID,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("latest version: %w", err)
	}
	return v.Int64, nil
}

// LatestPosition implements eventstore.Querier.
func (c *conn) LatestPosition(ctx context.Context, instanceID string) (int64, error) {
	var p sql.NullInt64
	err := c.QueryRowContext(ctx,
		`select max(position) from events where instance_id = $1`,
		instanceID,
	).Scan(&p)
	if err != nil {
		return 0, fmt.Errorf("latest position: %w", err)
	}
	return p.Int64, nil
}

func placeholders(args *[]interface{}, values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		*args = append(*args, v)
		parts[i] = "$" + strconv.Itoa(len(*args))
	}
	return strings.Join(parts, ", ")
}

func toStrings(ts []domain.AggregateType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

func toEventStrings(ts []domain.EventType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}
