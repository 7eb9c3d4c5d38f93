// Package conformance provides a shared test suite run against every
// eventstore.Store implementation (in-memory and SQL), following the
// teacher's storage/conformance pattern of one RunTests entry point that
// takes a constructor and exercises both backends identically.
package conformance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

type subTest struct {
	name string
	run  func(t *testing.T, s eventstore.Store)
}

// RunTests runs the full conformance suite against newStore(), closing the
// store after each sub-test. newStore must return an empty store.
func RunTests(t *testing.T, newStore func() eventstore.Store) {
	tests := []subTest{
		{"PushAssignsPosition", testPushAssignsPosition},
		{"OptimisticConcurrency", testOptimisticConcurrency},
		{"UniqueConstraintViolation", testUniqueConstraintViolation},
		{"FilterOrdering", testFilterOrdering},
		{"FilterByEventType", testFilterByEventType},
		{"NoGapsAfterPositionAfter", testPositionAfter},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			tc.run(t, s)
		})
	}
}

func push(t *testing.T, s eventstore.Store, instanceID string, aggID string, expected eventstore.ExpectedVersion, eventTypes ...domain.EventType) []eventstore.Event {
	t.Helper()
	var events []eventstore.PendingEvent
	for _, et := range eventTypes {
		events = append(events, eventstore.PendingEvent{
			InstanceID:    instanceID,
			AggregateType: domain.AggregateUser,
			AggregateID:   aggID,
			EventType:     et,
			ResourceOwner: domain.ResourceOwner{Type: domain.OwnerInstance, ID: instanceID},
			Payload:       map[string]string{"k": "v"},
		})
	}
	out, err := s.Push(context.Background(), eventstore.AggregateWrite{
		AggregateType:   domain.AggregateUser,
		AggregateID:     aggID,
		ExpectedVersion: expected,
		Events:          events,
	})
	require.NoError(t, err)
	return out
}

func testPushAssignsPosition(t *testing.T, s eventstore.Store) {
	out := push(t, s, "inst1", "user1", eventstore.NoStream, domain.EventUserHumanAdded, domain.EventUserDeactivated)
	require.Len(t, out, 2)
	require.Greater(t, out[1].Position, out[0].Position)
	require.EqualValues(t, 1, out[0].AggregateVersion)
	require.EqualValues(t, 2, out[1].AggregateVersion)
}

func testOptimisticConcurrency(t *testing.T, s eventstore.Store) {
	push(t, s, "inst1", "user1", eventstore.NoStream, domain.EventUserHumanAdded)

	_, err := s.Push(context.Background(), eventstore.AggregateWrite{
		AggregateType:   domain.AggregateUser,
		AggregateID:     "user1",
		ExpectedVersion: eventstore.NoStream, // stale: aggregate is already at version 1
		Events: []eventstore.PendingEvent{{
			InstanceID: "inst1", AggregateType: domain.AggregateUser, AggregateID: "user1",
			EventType: domain.EventUserDeactivated, ResourceOwner: domain.ResourceOwner{Type: domain.OwnerInstance, ID: "inst1"},
			Payload: map[string]string{},
		}},
	})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindOptimisticConcurrency))
}

func testUniqueConstraintViolation(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	_, err := s.Push(ctx, eventstore.AggregateWrite{
		AggregateType:   domain.AggregateUser,
		AggregateID:     "user1",
		ExpectedVersion: eventstore.NoStream,
		Events: []eventstore.PendingEvent{{
			InstanceID: "inst1", AggregateType: domain.AggregateUser, AggregateID: "user1",
			EventType: domain.EventUserHumanAdded, ResourceOwner: domain.ResourceOwner{Type: domain.OwnerInstance, ID: "inst1"},
			Payload: map[string]string{"username": "alice"},
		}},
		UniqueConstraints: []eventstore.UniqueConstraint{{Op: eventstore.UniqueConstraintAdd, Name: "user.username", Value: "alice"}},
	})
	require.NoError(t, err)

	_, err = s.Push(ctx, eventstore.AggregateWrite{
		AggregateType:   domain.AggregateUser,
		AggregateID:     "user2",
		ExpectedVersion: eventstore.NoStream,
		Events: []eventstore.PendingEvent{{
			InstanceID: "inst1", AggregateType: domain.AggregateUser, AggregateID: "user2",
			EventType: domain.EventUserHumanAdded, ResourceOwner: domain.ResourceOwner{Type: domain.OwnerInstance, ID: "inst1"},
			Payload: map[string]string{"username": "alice"},
		}},
		UniqueConstraints: []eventstore.UniqueConstraint{{Op: eventstore.UniqueConstraintAdd, Name: "user.username", Value: "alice"}},
	})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindUniqueConstraintViolation))
}

func testFilterOrdering(t *testing.T, s eventstore.Store) {
	push(t, s, "inst1", "user1", eventstore.NoStream, domain.EventUserHumanAdded)
	push(t, s, "inst1", "user2", eventstore.NoStream, domain.EventUserHumanAdded)

	events, err := s.Filter(context.Background(), eventstore.Filter{InstanceID: "inst1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Less(t, events[0].Position, events[1].Position)
}

func testFilterByEventType(t *testing.T, s eventstore.Store) {
	push(t, s, "inst1", "user1", eventstore.NoStream, domain.EventUserHumanAdded, domain.EventUserDeactivated)

	events, err := s.Filter(context.Background(), eventstore.Filter{
		InstanceID: "inst1",
		EventType:  []domain.EventType{domain.EventUserDeactivated},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventUserDeactivated, events[0].EventType)
}

func testPositionAfter(t *testing.T, s eventstore.Store) {
	first := push(t, s, "inst1", "user1", eventstore.NoStream, domain.EventUserHumanAdded)
	push(t, s, "inst1", "user1", eventstore.ExpectedVersion(1), domain.EventUserDeactivated)

	events, err := s.Filter(context.Background(), eventstore.Filter{InstanceID: "inst1", PositionAfter: first[0].Position})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventUserDeactivated, events[0].EventType)
}
