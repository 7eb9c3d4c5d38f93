package command

import (
	"context"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

type instanceState struct {
	exists bool
	state  domain.LifecycleState
	name   string
}

func (m *instanceState) reduce(e eventstore.Event) {
	switch e.EventType {
	case domain.EventInstanceAdded:
		var p struct {
			Name string `json:"name"`
		}
		decodePayload(e, &p)
		m.exists = true
		m.state = domain.StateActive
		m.name = p.Name
	case domain.EventInstanceChanged:
		var p struct {
			Name string `json:"name"`
		}
		decodePayload(e, &p)
		m.name = p.Name
	case domain.EventInstanceRemoved:
		m.state = domain.StateRemoved
	}
}

func (m *instanceState) checkExists() error {
	if !m.exists || m.state == domain.StateRemoved {
		return domain.Preconditionf("deleted")
	}
	return nil
}

func instanceOwner(instanceID string) domain.ResourceOwner {
	return domain.ResourceOwner{Type: domain.OwnerInstance, ID: instanceID}
}

// AddInstanceData is the command payload for AddInstance.
type AddInstanceData struct {
	Name string
}

// AddInstance provisions a new tenant boundary, claiming Name instance-wide
// (instance names share a single unique-constraint namespace since there is
// no parent scope above an instance).
func (d *Dispatcher) AddInstance(ctx context.Context, cc domain.Context, instanceID string, data AddInstanceData) (int64, error) {
	return dispatch(ctx, d, "add_instance", domain.AggregateInstance, instanceID, func() (int64, *handlerResult, error) {
		wm := &instanceState{}
		version, err := loadWriteModel(ctx, d.store, instanceID, domain.AggregateInstance, instanceID, wm)
		if err != nil {
			return 0, nil, err
		}
		if wm.exists {
			return version, nil, domain.Preconditionf("instance already exists")
		}
		if data.Name == "" {
			return version, nil, domain.InvalidInputf("name", "must not be empty")
		}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateInstance, instanceID, domain.EventInstanceAdded, instanceOwner(instanceID), data)},
			constraints: []eventstore.UniqueConstraint{{
				Op: eventstore.UniqueConstraintAdd, Name: "instance.name", Value: data.Name, ErrMessage: "instance name taken",
			}},
		}, nil
	})
}

// ChangeInstanceData is the command payload for ChangeInstance.
type ChangeInstanceData struct {
	Name string
}

// ChangeInstance renames an instance, moving its name claim.
func (d *Dispatcher) ChangeInstance(ctx context.Context, cc domain.Context, instanceID string, data ChangeInstanceData) (int64, error) {
	return dispatch(ctx, d, "change_instance", domain.AggregateInstance, instanceID, func() (int64, *handlerResult, error) {
		wm := &instanceState{}
		version, err := loadWriteModel(ctx, d.store, instanceID, domain.AggregateInstance, instanceID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.name == data.Name {
			return version, nil, nil
		}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateInstance, instanceID, domain.EventInstanceChanged, instanceOwner(instanceID), data)},
			constraints: []eventstore.UniqueConstraint{
				{Op: eventstore.UniqueConstraintRemove, Name: "instance.name", Value: wm.name},
				{Op: eventstore.UniqueConstraintAdd, Name: "instance.name", Value: data.Name, ErrMessage: "instance name taken"},
			},
		}, nil
	})
}

// RemoveInstance tombstones an instance and frees its name claim. It does
// not cascade: org/project/application aggregates scoped to this instance
// are left for an administrative sweep, consistent with projections having
// no cross-aggregate foreign keys.
func (d *Dispatcher) RemoveInstance(ctx context.Context, cc domain.Context, instanceID string) (int64, error) {
	return dispatch(ctx, d, "remove_instance", domain.AggregateInstance, instanceID, func() (int64, *handlerResult, error) {
		wm := &instanceState{}
		version, err := loadWriteModel(ctx, d.store, instanceID, domain.AggregateInstance, instanceID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateInstance, instanceID, domain.EventInstanceRemoved, instanceOwner(instanceID), nil)},
			constraints: []eventstore.UniqueConstraint{
				{Op: eventstore.UniqueConstraintRemove, Name: "instance.name", Value: wm.name},
			},
		}, nil
	})
}
