package sql

import (
	"log/slog"
	"testing"

	"github.com/authapp/iamcore/eventstore"
	"github.com/authapp/iamcore/eventstore/conformance"
)

func TestSQLite(t *testing.T) {
	conformance.RunTests(t, func() eventstore.Store {
		s := &SQLite{File: ":memory:"}
		store, err := s.Open(slog.Default())
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		return store
	})
}
