package sql

import (
	"log/slog"
	"os"
	"strconv"
	"testing"

	"github.com/authapp/iamcore/eventstore"
	"github.com/authapp/iamcore/eventstore/conformance"
)

const testPostgresEnv = "IAMCORE_POSTGRES_HOST"

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestPostgres only runs against a real Postgres instance, pointed to by
// IAMCORE_POSTGRES_HOST, an opt-in so conformance tests don't require a
// database in CI by default.
func TestPostgres(t *testing.T) {
	host := os.Getenv(testPostgresEnv)
	if host == "" {
		t.Skipf("test environment variable %q not set, skipping", testPostgresEnv)
	}

	port := uint64(5432)
	if raw := os.Getenv("IAMCORE_POSTGRES_PORT"); raw != "" {
		var err error
		port, err = strconv.ParseUint(raw, 10, 32)
		if err != nil {
			t.Fatalf("invalid postgres port %q: %s", raw, err)
		}
	}

	cfg := &Postgres{
		NetworkDB: NetworkDB{
			Database: getenv("IAMCORE_POSTGRES_DATABASE", "postgres"),
			User:     getenv("IAMCORE_POSTGRES_USER", "postgres"),
			Password: getenv("IAMCORE_POSTGRES_PASSWORD", "postgres"),
			Host:     host,
			Port:     uint16(port),
		},
		SSL: SSL{Mode: "disable"},
	}

	conformance.RunTests(t, func() eventstore.Store {
		store, err := cfg.Open(slog.Default())
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		return store
	})
}
