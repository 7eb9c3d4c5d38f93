package command

import (
	"context"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

type userState struct {
	exists   bool
	state    domain.LifecycleState
	orgID    string
	username string
	email    string
}

func (m *userState) reduce(e eventstore.Event) {
	switch e.EventType {
	case domain.EventUserHumanAdded:
		var p struct {
			Username string `json:"username"`
			Email    string `json:"email"`
		}
		decodePayload(e, &p)
		m.exists = true
		m.state = domain.StateActive
		m.orgID = e.ResourceOwner.ID
		m.username = p.Username
		m.email = p.Email
	case domain.EventUserDeactivated:
		m.state = domain.StateInactive
	case domain.EventUserReactivated:
		m.state = domain.StateActive
	case domain.EventUserUsernameChanged:
		var p struct {
			Username string `json:"username"`
		}
		decodePayload(e, &p)
		m.username = p.Username
	case domain.EventUserProfileChanged:
		var p struct {
			Email string `json:"email"`
		}
		decodePayload(e, &p)
		m.email = p.Email
	case domain.EventUserRemoved:
		m.state = domain.StateRemoved
	}
}

func (m *userState) checkExists() error {
	if !m.exists || m.state == domain.StateRemoved {
		return domain.Preconditionf("deleted")
	}
	return nil
}

// AddHumanUserData is the command payload for AddHumanUser.
type AddHumanUserData struct {
	Username string
	Email    string
}

// AddHumanUser creates a new user aggregate owned by orgID, claiming
// Username via the unique-constraint side table, scoped per org.
func (d *Dispatcher) AddHumanUser(ctx context.Context, cc domain.Context, orgID, userID string, data AddHumanUserData) (int64, error) {
	return dispatch(ctx, d, "add_human_user", domain.AggregateUser, userID, func() (int64, *handlerResult, error) {
		wm := &userState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateUser, userID, wm)
		if err != nil {
			return 0, nil, err
		}
		if wm.exists {
			return version, nil, domain.Preconditionf("user already exists")
		}
		if data.Username == "" {
			return version, nil, domain.InvalidInputf("username", "must not be empty")
		}

		owner := domain.ResourceOwner{Type: domain.OwnerOrg, ID: orgID}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateUser, userID, domain.EventUserHumanAdded, owner, data)},
			constraints: []eventstore.UniqueConstraint{{
				Op: eventstore.UniqueConstraintAdd, Name: "user.username", Value: orgID + "/" + data.Username,
				ErrMessage: "username taken",
			}},
		}, nil
	})
}

// DeactivateUser marks an active user inactive. Fails Precondition if
// already inactive or removed.
func (d *Dispatcher) DeactivateUser(ctx context.Context, cc domain.Context, userID string) (int64, error) {
	return dispatch(ctx, d, "deactivate_user", domain.AggregateUser, userID, func() (int64, *handlerResult, error) {
		wm := &userState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateUser, userID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.state == domain.StateInactive {
			return version, nil, domain.Preconditionf("already inactive")
		}
		owner := domain.ResourceOwner{Type: domain.OwnerOrg, ID: wm.orgID}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateUser, userID, domain.EventUserDeactivated, owner, nil),
		}}, nil
	})
}

// ReactivateUser marks an inactive user active again.
func (d *Dispatcher) ReactivateUser(ctx context.Context, cc domain.Context, userID string) (int64, error) {
	return dispatch(ctx, d, "reactivate_user", domain.AggregateUser, userID, func() (int64, *handlerResult, error) {
		wm := &userState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateUser, userID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.state == domain.StateActive {
			return version, nil, domain.Preconditionf("already active")
		}
		owner := domain.ResourceOwner{Type: domain.OwnerOrg, ID: wm.orgID}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateUser, userID, domain.EventUserReactivated, owner, nil),
		}}, nil
	})
}

// ChangeUsernameData is the command payload for ChangeUsername.
type ChangeUsernameData struct {
	Username string
}

// ChangeUsername renames a user, moving the unique-constraint claim from
// the old username to the new one. A rename to the existing value is a
// no-op per the dispatcher's idempotency contract.
func (d *Dispatcher) ChangeUsername(ctx context.Context, cc domain.Context, userID string, data ChangeUsernameData) (int64, error) {
	return dispatch(ctx, d, "change_username", domain.AggregateUser, userID, func() (int64, *handlerResult, error) {
		wm := &userState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateUser, userID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if data.Username == "" {
			return version, nil, domain.InvalidInputf("username", "must not be empty")
		}
		if wm.username == data.Username {
			return version, nil, nil
		}
		owner := domain.ResourceOwner{Type: domain.OwnerOrg, ID: wm.orgID}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateUser, userID, domain.EventUserUsernameChanged, owner, data)},
			constraints: []eventstore.UniqueConstraint{
				{Op: eventstore.UniqueConstraintRemove, Name: "user.username", Value: wm.orgID + "/" + wm.username},
				{Op: eventstore.UniqueConstraintAdd, Name: "user.username", Value: wm.orgID + "/" + data.Username, ErrMessage: "username taken"},
			},
		}, nil
	})
}

// ChangeProfileData is the command payload for ChangeProfile.
type ChangeProfileData struct {
	Email string
}

// ChangeProfile updates profile fields. Identical values produce no
// event, per the handler-local idempotency rule.
func (d *Dispatcher) ChangeProfile(ctx context.Context, cc domain.Context, userID string, data ChangeProfileData) (int64, error) {
	return dispatch(ctx, d, "change_profile", domain.AggregateUser, userID, func() (int64, *handlerResult, error) {
		wm := &userState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateUser, userID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.email == data.Email {
			return version, nil, nil
		}
		owner := domain.ResourceOwner{Type: domain.OwnerOrg, ID: wm.orgID}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateUser, userID, domain.EventUserProfileChanged, owner, data),
		}}, nil
	})
}

// RemoveUser tombstones a user and frees its username claim. Any command
// on this user after removal fails Precondition("deleted").
func (d *Dispatcher) RemoveUser(ctx context.Context, cc domain.Context, userID string) (int64, error) {
	return dispatch(ctx, d, "remove_user", domain.AggregateUser, userID, func() (int64, *handlerResult, error) {
		wm := &userState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateUser, userID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		owner := domain.ResourceOwner{Type: domain.OwnerOrg, ID: wm.orgID}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateUser, userID, domain.EventUserRemoved, owner, nil)},
			constraints: []eventstore.UniqueConstraint{
				{Op: eventstore.UniqueConstraintRemove, Name: "user.username", Value: wm.orgID + "/" + wm.username},
			},
		}, nil
	})
}
