package gc_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/command"
	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore/memory"
	"github.com/authapp/iamcore/gc"
	"github.com/authapp/iamcore/projection"
	"github.com/authapp/iamcore/query"
)

func TestSweeper_ExpiresDueDeviceAuthsAndAuthRequests(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store := memory.New()
	dispatcher := command.NewDispatcher(store, logger, nil)
	ctx := context.Background()
	cc := domain.Context{InstanceID: "inst1"}

	_, _, _, _, err := dispatcher.AddDeviceAuth(ctx, cc, "da1", command.AddDeviceAuthData{
		ClientID: "client1", VerificationURI: "https://example.com/device", TTL: time.Millisecond,
	})
	require.NoError(t, err)
	_, err = dispatcher.AddAuthRequest(ctx, cc, "org1", "ar1", command.AddAuthRequestData{
		ClientID: "client1", RedirectURI: "https://app.example.com/callback", TTL: time.Millisecond,
	})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	readStore := projection.NewMemoryStore()
	checkpoints := projection.NewMemoryCheckpointStore()
	runtime := projection.NewRuntime(store, checkpoints, logger, projection.Config{}, nil)
	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	go runtime.RunAll(runCtx, projection.AllTables(readStore), projection.StaticInstances{"inst1"})
	require.Eventually(t, func() bool {
		_, ok := readStore.GetDeviceAuth("inst1", "da1")
		return ok
	}, 200*time.Millisecond, time.Millisecond)

	queries := query.New(readStore)
	sweeper := gc.New(dispatcher, queries, projection.StaticInstances{"inst1"}, logger, time.Millisecond)
	sweepCtx, cancelSweep := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelSweep()
	_ = sweeper.Run(sweepCtx)

	require.Eventually(t, func() bool {
		row, ok := readStore.GetDeviceAuth("inst1", "da1")
		return ok && row.Status == "expired"
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		row, ok := readStore.GetAuthRequest("inst1", "ar1")
		return ok && row.State == "failed"
	}, time.Second, 5*time.Millisecond)
}
