package command

import (
	"context"
	"fmt"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

// writeModel is a pure, in-process fold of one aggregate's events, built
// on demand to validate the next command. It is never persisted; the
// dispatcher discards it once the command completes.
type writeModel interface {
	// reduce applies a single event to the model. It must be pure and
	// side-effect-free: the same event applied twice in sequence across
	// two identical folds must produce identical state.
	reduce(e eventstore.Event)
}

// loadWriteModel replays every event of (aggregateType, aggregateID) into
// wm and returns the aggregate's current version (0 if it has no events
// yet), implementing steps 2-3 of the command-dispatch algorithm.
func loadWriteModel(ctx context.Context, store eventstore.Store, instanceID string, aggregateType domain.AggregateType, aggregateID string, wm writeModel) (int64, error) {
	events, err := store.Filter(ctx, eventstore.Filter{
		InstanceID:    instanceID,
		AggregateType: []domain.AggregateType{aggregateType},
		AggregateID:   []string{aggregateID},
	})
	if err != nil {
		return 0, fmt.Errorf("load write model: %w", err)
	}
	var version int64
	for _, e := range events {
		wm.reduce(e)
		version = e.AggregateVersion
	}
	return version, nil
}
