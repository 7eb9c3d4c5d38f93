package projection_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/command"
	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
	"github.com/authapp/iamcore/eventstore/memory"
	"github.com/authapp/iamcore/projection"
)

func eventstoreFilter(instanceID string) eventstore.Filter {
	return eventstore.Filter{InstanceID: instanceID}
}

func makeEvent(instanceID string, eventType domain.EventType, aggregateID string, version int64, payload interface{}) eventstore.Event {
	raw, _ := json.Marshal(payload)
	return eventstore.Event{
		InstanceID: instanceID, EventType: eventType, AggregateID: aggregateID,
		AggregateVersion: version, Payload: raw, CreatedAt: time.Now(),
	}
}

func newTestDispatcher() *command.Dispatcher {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return command.NewDispatcher(memory.New(), logger, nil)
}

func runOnce(t *testing.T, rt *projection.Runtime, table projection.Table, instanceID string) {
	t.Helper()
	// pollOnce is unexported; drive it indirectly by running the worker
	// with a short-lived context and letting the first iteration apply
	// whatever is pending before ctx cancels it.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = rt.Run(ctx, table, instanceID)
}

func TestUsersTable_ReducesAndIsIdempotent(t *testing.T) {
	store := memory.New()
	d := command.NewDispatcher(store, slog.New(slog.NewTextHandler(os.Stderr, nil)), nil)
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddHumanUser(ctx, cc, "org1", "user1", command.AddHumanUserData{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	_, err = d.DeactivateUser(ctx, cc, "org1", "user1")
	require.NoError(t, err)

	readStore := projection.NewMemoryStore()
	checkpoints := projection.NewMemoryCheckpointStore()
	rt := projection.NewRuntime(store, checkpoints, slog.New(slog.NewTextHandler(os.Stderr, nil)), projection.Config{}, nil)
	table := projection.NewUsersTable(readStore)

	runOnce(t, rt, table, "inst1")

	row, ok := readStore.GetUser("inst1", "user1")
	require.True(t, ok)
	require.Equal(t, "alice", row.Username)
	require.Equal(t, string(domain.StateInactive), row.State)
	require.Equal(t, int64(2), row.Sequence)

	// Re-delivering the same events directly must no-op rather than
	// regress the row.
	events, err := store.Filter(ctx, eventstoreFilter("inst1"))
	require.NoError(t, err)
	for _, e := range events {
		require.NoError(t, table.Reduce(ctx, e))
	}
	row2, ok := readStore.GetUser("inst1", "user1")
	require.True(t, ok)
	require.Equal(t, row, row2)
}

func TestOrgsAndDomainsTable(t *testing.T) {
	store := memory.New()
	d := command.NewDispatcher(store, slog.New(slog.NewTextHandler(os.Stderr, nil)), nil)
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddOrg(ctx, cc, "org1", command.AddOrgData{Name: "Acme"})
	require.NoError(t, err)
	_, err = d.AddOrgDomain(ctx, cc, "org1", command.AddDomainData{Domain: "acme.com", IsPrimary: true})
	require.NoError(t, err)

	readStore := projection.NewMemoryStore()
	orgs := projection.NewOrgsTable(readStore)
	domains := projection.NewDomainsTable(readStore)

	events, err := store.Filter(ctx, eventstoreFilter("inst1"))
	require.NoError(t, err)
	for _, e := range events {
		require.NoError(t, orgs.Reduce(ctx, e))
		require.NoError(t, domains.Reduce(ctx, e))
	}

	org, ok := readStore.GetOrg("inst1", "org1")
	require.True(t, ok)
	require.Equal(t, "Acme", org.Name)

	doms := readStore.ListDomainsByOrg("inst1", "org1")
	require.Len(t, doms, 1)
	require.True(t, doms[0].IsPrimary)
}

func TestAuthRequestsTable_Code(t *testing.T) {
	store := memory.New()
	d := command.NewDispatcher(store, slog.New(slog.NewTextHandler(os.Stderr, nil)), nil)
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddAuthRequest(ctx, cc, "org1", "ar1", command.AddAuthRequestData{ClientID: "client1", RedirectURI: "https://cb"})
	require.NoError(t, err)

	readStore := projection.NewMemoryStore()
	table := projection.NewAuthRequestsTable(readStore)

	events, err := store.Filter(ctx, eventstoreFilter("inst1"))
	require.NoError(t, err)
	for _, e := range events {
		require.NoError(t, table.Reduce(ctx, e))
	}

	row, ok := readStore.GetAuthRequest("inst1", "ar1")
	require.True(t, ok)
	require.Equal(t, "client1", row.ClientID)
	require.Equal(t, "initial", row.State)
}

func TestDeviceAuthsTable_Removal(t *testing.T) {
	// A removal/terminal event for a row never observed by this table must
	// no-op rather than error.
	readStore := projection.NewMemoryStore()
	table := projection.NewDeviceAuthsTable(readStore)

	e := makeEvent("inst1", domain.EventDeviceAuthDenied, "missing-id", 1, nil)
	require.NoError(t, table.Reduce(context.Background(), e))
	_, ok := readStore.GetDeviceAuth("inst1", "missing-id")
	require.False(t, ok)
}
