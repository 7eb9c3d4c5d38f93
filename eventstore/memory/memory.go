// Package memory provides an in-memory event store, used in tests and for
// single-process development, backed by a mutex-guarded map.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

// New returns an empty in-memory event store.
func New() eventstore.Store {
	return &store{
		uniques: make(map[uniqueKey]bool),
	}
}

type uniqueKey struct {
	instanceID string
	name       string
	value      string
}

type store struct {
	mu      sync.Mutex
	events  []eventstore.Event
	uniques map[uniqueKey]bool
	nextPos int64
}

func (s *store) Close() error { return nil }

func (s *store) tx(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f()
}

func (s *store) Push(ctx context.Context, writes ...eventstore.AggregateWrite) ([]eventstore.Event, error) {
	var out []eventstore.Event
	var resultErr error

	s.tx(func() {
		startLen := len(s.events)
		var undo []func()
		defer func() {
			if resultErr != nil {
				s.events = s.events[:startLen]
				for i := len(undo) - 1; i >= 0; i-- {
					undo[i]()
				}
			}
		}()
		for _, w := range writes {
			if len(w.Events) == 0 {
				continue
			}
			instanceID := w.Events[0].InstanceID

			current := s.latestLocked(instanceID, w.AggregateType, w.AggregateID)
			if current != int64(w.ExpectedVersion) {
				resultErr = &domain.Error{Kind: domain.KindOptimisticConcurrency, Message: fmt.Sprintf(
					"aggregate %s/%s at version %d, expected %d", w.AggregateType, w.AggregateID, current, w.ExpectedVersion)}
				return
			}

			for _, uc := range w.UniqueConstraints {
				key := uniqueKey{instanceID, uc.Name, uc.Value}
				switch uc.Op {
				case eventstore.UniqueConstraintAdd:
					if s.uniques[key] {
						msg := uc.ErrMessage
						if msg == "" {
							msg = "already taken"
						}
						resultErr = &domain.Error{Kind: domain.KindUniqueConstraintViolation, Constraint: uc.Name, Message: msg}
						return
					}
				}
			}

			nextVersion := current
			var staged []eventstore.Event
			for _, pe := range w.Events {
				nextVersion++
				payload, err := json.Marshal(pe.Payload)
				if err != nil {
					resultErr = fmt.Errorf("marshal event payload: %w", err)
					return
				}
				s.nextPos++
				staged = append(staged, eventstore.Event{
					Position:         s.nextPos,
					InstanceID:       pe.InstanceID,
					AggregateType:    pe.AggregateType,
					AggregateID:      pe.AggregateID,
					AggregateVersion: nextVersion,
					EventType:        pe.EventType,
					ResourceOwner:    pe.ResourceOwner,
					Payload:          payload,
					EditorUserID:     pe.EditorUserID,
					CreatedAt:        time.Now(),
				})
			}

			for _, uc := range w.UniqueConstraints {
				key := uniqueKey{instanceID, uc.Name, uc.Value}
				switch uc.Op {
				case eventstore.UniqueConstraintAdd:
					s.uniques[key] = true
					undo = append(undo, func() { delete(s.uniques, key) })
				case eventstore.UniqueConstraintRemove:
					if s.uniques[key] {
						undo = append(undo, func() { s.uniques[key] = true })
					}
					delete(s.uniques, key)
				}
			}

			s.events = append(s.events, staged...)
			out = append(out, staged...)
		}
	})
	if resultErr != nil {
		return nil, resultErr
	}
	return out, nil
}

func (s *store) latestLocked(instanceID string, aggregateType domain.AggregateType, aggregateID string) int64 {
	var latest int64
	for _, e := range s.events {
		if e.InstanceID == instanceID && e.AggregateType == aggregateType && e.AggregateID == aggregateID {
			if e.AggregateVersion > latest {
				latest = e.AggregateVersion
			}
		}
	}
	return latest
}

func (s *store) LatestByAggregate(ctx context.Context, instanceID string, aggregateType domain.AggregateType, aggregateID string) (int64, error) {
	var v int64
	s.tx(func() { v = s.latestLocked(instanceID, aggregateType, aggregateID) })
	return v, nil
}

func (s *store) LatestPosition(ctx context.Context, instanceID string) (int64, error) {
	var latest int64
	s.tx(func() {
		for _, e := range s.events {
			if e.InstanceID == instanceID && e.Position > latest {
				latest = e.Position
			}
		}
	})
	return latest, nil
}

func (s *store) Filter(ctx context.Context, f eventstore.Filter) ([]eventstore.Event, error) {
	var out []eventstore.Event
	s.tx(func() {
		for _, e := range s.events {
			if !matches(e, f) {
				continue
			}
			out = append(out, e)
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}
	})
	return out, nil
}

func matches(e eventstore.Event, f eventstore.Filter) bool {
	if f.InstanceID != "" && e.InstanceID != f.InstanceID {
		return false
	}
	if e.Position <= f.PositionAfter {
		return false
	}
	if !f.CreatedAfter.IsZero() && !e.CreatedAt.After(f.CreatedAfter) {
		return false
	}
	if len(f.AggregateType) > 0 && !containsAggType(f.AggregateType, e.AggregateType) {
		return false
	}
	if len(f.AggregateID) > 0 && !containsString(f.AggregateID, e.AggregateID) {
		return false
	}
	if len(f.EventType) > 0 && !containsEventType(f.EventType, e.EventType) {
		return false
	}
	if len(f.Owner) > 0 && !containsOwner(f.Owner, e.ResourceOwner) {
		return false
	}
	return true
}

func containsAggType(s []domain.AggregateType, v domain.AggregateType) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsEventType(s []domain.EventType, v domain.EventType) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsOwner(s []domain.ResourceOwner, v domain.ResourceOwner) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
