package memory

import (
	"testing"

	"github.com/authapp/iamcore/eventstore"
	"github.com/authapp/iamcore/eventstore/conformance"
)

func TestStorage(t *testing.T) {
	conformance.RunTests(t, func() eventstore.Store { return New() })
}
