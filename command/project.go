package command

import (
	"context"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

type projectState struct {
	exists bool
	state  domain.LifecycleState
	orgID  string
	name   string
}

func (m *projectState) reduce(e eventstore.Event) {
	switch e.EventType {
	case domain.EventProjectAdded:
		var p struct {
			Name string `json:"name"`
		}
		decodePayload(e, &p)
		m.exists = true
		m.state = domain.StateActive
		m.orgID = e.ResourceOwner.ID
		m.name = p.Name
	case domain.EventProjectChanged:
		var p struct {
			Name string `json:"name"`
		}
		decodePayload(e, &p)
		m.name = p.Name
	case domain.EventProjectDeactivated:
		m.state = domain.StateInactive
	case domain.EventProjectReactivated:
		m.state = domain.StateActive
	case domain.EventProjectRemoved:
		m.state = domain.StateRemoved
	}
}

func (m *projectState) checkExists() error {
	if !m.exists || m.state == domain.StateRemoved {
		return domain.Preconditionf("deleted")
	}
	return nil
}

// AddProjectData is the command payload for AddProject.
type AddProjectData struct {
	Name string
}

// AddProject creates a project aggregate owned by orgID, claiming Name
// per org.
func (d *Dispatcher) AddProject(ctx context.Context, cc domain.Context, orgID, projectID string, data AddProjectData) (int64, error) {
	return dispatch(ctx, d, "add_project", domain.AggregateProject, projectID, func() (int64, *handlerResult, error) {
		wm := &projectState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateProject, projectID, wm)
		if err != nil {
			return 0, nil, err
		}
		if wm.exists {
			return version, nil, domain.Preconditionf("project already exists")
		}
		if data.Name == "" {
			return version, nil, domain.InvalidInputf("name", "must not be empty")
		}
		owner := orgOwner(orgID)
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateProject, projectID, domain.EventProjectAdded, owner, data)},
			constraints: []eventstore.UniqueConstraint{{
				Op: eventstore.UniqueConstraintAdd, Name: "project.name", Value: orgID + "/" + data.Name, ErrMessage: "project name taken",
			}},
		}, nil
	})
}

// ChangeProjectData is the command payload for ChangeProject.
type ChangeProjectData struct {
	Name string
}

// ChangeProject renames a project. Identical name is a no-op.
func (d *Dispatcher) ChangeProject(ctx context.Context, cc domain.Context, projectID string, data ChangeProjectData) (int64, error) {
	return dispatch(ctx, d, "change_project", domain.AggregateProject, projectID, func() (int64, *handlerResult, error) {
		wm := &projectState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateProject, projectID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.name == data.Name {
			return version, nil, nil
		}
		owner := orgOwner(wm.orgID)
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateProject, projectID, domain.EventProjectChanged, owner, data)},
			constraints: []eventstore.UniqueConstraint{
				{Op: eventstore.UniqueConstraintRemove, Name: "project.name", Value: wm.orgID + "/" + wm.name},
				{Op: eventstore.UniqueConstraintAdd, Name: "project.name", Value: wm.orgID + "/" + data.Name, ErrMessage: "project name taken"},
			},
		}, nil
	})
}

// DeactivateProject deactivates an active project.
func (d *Dispatcher) DeactivateProject(ctx context.Context, cc domain.Context, projectID string) (int64, error) {
	return dispatch(ctx, d, "deactivate_project", domain.AggregateProject, projectID, func() (int64, *handlerResult, error) {
		wm := &projectState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateProject, projectID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.state == domain.StateInactive {
			return version, nil, domain.Preconditionf("already inactive")
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateProject, projectID, domain.EventProjectDeactivated, orgOwner(wm.orgID), nil),
		}}, nil
	})
}

// ReactivateProject reactivates an inactive project.
func (d *Dispatcher) ReactivateProject(ctx context.Context, cc domain.Context, projectID string) (int64, error) {
	return dispatch(ctx, d, "reactivate_project", domain.AggregateProject, projectID, func() (int64, *handlerResult, error) {
		wm := &projectState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateProject, projectID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.state == domain.StateActive {
			return version, nil, domain.Preconditionf("already active")
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateProject, projectID, domain.EventProjectReactivated, orgOwner(wm.orgID), nil),
		}}, nil
	})
}

// RemoveProject tombstones a project and frees its name claim.
func (d *Dispatcher) RemoveProject(ctx context.Context, cc domain.Context, projectID string) (int64, error) {
	return dispatch(ctx, d, "remove_project", domain.AggregateProject, projectID, func() (int64, *handlerResult, error) {
		wm := &projectState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateProject, projectID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateProject, projectID, domain.EventProjectRemoved, orgOwner(wm.orgID), nil)},
			constraints: []eventstore.UniqueConstraint{
				{Op: eventstore.UniqueConstraintRemove, Name: "project.name", Value: wm.orgID + "/" + wm.name},
			},
		}, nil
	})
}
