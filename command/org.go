package command

import (
	"context"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

type orgDomain struct {
	name      string
	isPrimary bool
}

type orgMember struct {
	userID string
	roles  []string
}

type orgState struct {
	exists  bool
	state   domain.LifecycleState
	name    string
	domains map[string]orgDomain
	members map[string]orgMember
}

func newOrgState() *orgState {
	return &orgState{domains: map[string]orgDomain{}, members: map[string]orgMember{}}
}

func (m *orgState) reduce(e eventstore.Event) {
	switch e.EventType {
	case domain.EventOrgAdded:
		var p struct {
			Name string `json:"name"`
		}
		decodePayload(e, &p)
		m.exists = true
		m.state = domain.StateActive
		m.name = p.Name
	case domain.EventOrgChanged:
		var p struct {
			Name string `json:"name"`
		}
		decodePayload(e, &p)
		m.name = p.Name
	case domain.EventOrgDeactivated:
		m.state = domain.StateInactive
	case domain.EventOrgReactivated:
		m.state = domain.StateActive
	case domain.EventOrgRemoved:
		m.state = domain.StateRemoved
	case domain.EventOrgDomainAdded:
		var p struct {
			Domain    string `json:"domain"`
			IsPrimary bool   `json:"is_primary"`
		}
		decodePayload(e, &p)
		if p.IsPrimary {
			for k, d := range m.domains {
				d.isPrimary = false
				m.domains[k] = d
			}
		}
		m.domains[p.Domain] = orgDomain{name: p.Domain, isPrimary: p.IsPrimary}
	case domain.EventOrgDomainRemoved:
		var p struct {
			Domain string `json:"domain"`
		}
		decodePayload(e, &p)
		delete(m.domains, p.Domain)
	case domain.EventOrgMemberAdded:
		var p struct {
			UserID string   `json:"user_id"`
			Roles  []string `json:"roles"`
		}
		decodePayload(e, &p)
		m.members[p.UserID] = orgMember{userID: p.UserID, roles: p.Roles}
	case domain.EventOrgMemberChanged:
		var p struct {
			UserID string   `json:"user_id"`
			Roles  []string `json:"roles"`
		}
		decodePayload(e, &p)
		m.members[p.UserID] = orgMember{userID: p.UserID, roles: p.Roles}
	case domain.EventOrgMemberRemoved:
		var p struct {
			UserID string `json:"user_id"`
		}
		decodePayload(e, &p)
		delete(m.members, p.UserID)
	}
}

func (m *orgState) checkExists() error {
	if !m.exists || m.state == domain.StateRemoved {
		return domain.Preconditionf("deleted")
	}
	return nil
}

func orgOwner(orgID string) domain.ResourceOwner {
	return domain.ResourceOwner{Type: domain.OwnerOrg, ID: orgID}
}

// AddOrgData is the command payload for AddOrg.
type AddOrgData struct {
	Name string
}

// AddOrg creates a new org aggregate, claiming Name instance-wide.
func (d *Dispatcher) AddOrg(ctx context.Context, cc domain.Context, orgID string, data AddOrgData) (int64, error) {
	return dispatch(ctx, d, "add_org", domain.AggregateOrg, orgID, func() (int64, *handlerResult, error) {
		wm := newOrgState()
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateOrg, orgID, wm)
		if err != nil {
			return 0, nil, err
		}
		if wm.exists {
			return version, nil, domain.Preconditionf("org already exists")
		}
		if data.Name == "" {
			return version, nil, domain.InvalidInputf("name", "must not be empty")
		}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateOrg, orgID, domain.EventOrgAdded, orgOwner(orgID), data)},
			constraints: []eventstore.UniqueConstraint{{
				Op: eventstore.UniqueConstraintAdd, Name: "org.name", Value: data.Name, ErrMessage: "org name taken",
			}},
		}, nil
	})
}

// DeactivateOrg deactivates an active org.
func (d *Dispatcher) DeactivateOrg(ctx context.Context, cc domain.Context, orgID string) (int64, error) {
	return dispatch(ctx, d, "deactivate_org", domain.AggregateOrg, orgID, func() (int64, *handlerResult, error) {
		wm := newOrgState()
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateOrg, orgID, wm)
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
			newEvent(cc, domain.AggregateOrg, orgID, domain.EventOrgDeactivated, orgOwner(orgID), nil),
		}}, nil
	})
}

// ReactivateOrg reactivates an inactive org.
func (d *Dispatcher) ReactivateOrg(ctx context.Context, cc domain.Context, orgID string) (int64, error) {
	return dispatch(ctx, d, "reactivate_org", domain.AggregateOrg, orgID, func() (int64, *handlerResult, error) {
		wm := newOrgState()
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateOrg, orgID, wm)
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
			newEvent(cc, domain.AggregateOrg, orgID, domain.EventOrgReactivated, orgOwner(orgID), nil),
		}}, nil
	})
}

// RemoveOrg tombstones an org and frees its name claim.
func (d *Dispatcher) RemoveOrg(ctx context.Context, cc domain.Context, orgID string) (int64, error) {
	return dispatch(ctx, d, "remove_org", domain.AggregateOrg, orgID, func() (int64, *handlerResult, error) {
		wm := newOrgState()
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateOrg, orgID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateOrg, orgID, domain.EventOrgRemoved, orgOwner(orgID), nil)},
			constraints: []eventstore.UniqueConstraint{
				{Op: eventstore.UniqueConstraintRemove, Name: "org.name", Value: wm.name},
			},
		}, nil
	})
}

// AddDomainData is the command payload for AddOrgDomain.
type AddDomainData struct {
	Domain    string `json:"domain"`
	IsPrimary bool   `json:"is_primary"`
}

// AddOrgDomain claims Domain instance-wide for orgID via the unique
// constraint table.
func (d *Dispatcher) AddOrgDomain(ctx context.Context, cc domain.Context, orgID string, data AddDomainData) (int64, error) {
	return dispatch(ctx, d, "add_org_domain", domain.AggregateOrg, orgID, func() (int64, *handlerResult, error) {
		wm := newOrgState()
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateOrg, orgID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if data.Domain == "" {
			return version, nil, domain.InvalidInputf("domain", "must not be empty")
		}
		if _, ok := wm.domains[data.Domain]; ok {
			return version, nil, nil
		}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateOrg, orgID, domain.EventOrgDomainAdded, orgOwner(orgID), data)},
			constraints: []eventstore.UniqueConstraint{{
				Op: eventstore.UniqueConstraintAdd, Name: "org.domain", Value: data.Domain, ErrMessage: "domain taken",
			}},
		}, nil
	})
}

// RemoveOrgDomain removes a domain claim. Fails Precondition if the
// domain is the org's primary domain.
func (d *Dispatcher) RemoveOrgDomain(ctx context.Context, cc domain.Context, orgID, dom string) (int64, error) {
	return dispatch(ctx, d, "remove_org_domain", domain.AggregateOrg, orgID, func() (int64, *handlerResult, error) {
		wm := newOrgState()
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateOrg, orgID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		existing, ok := wm.domains[dom]
		if !ok {
			return version, nil, nil
		}
		if existing.isPrimary {
			return version, nil, domain.Preconditionf("cannot remove primary domain")
		}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateOrg, orgID, domain.EventOrgDomainRemoved, orgOwner(orgID), struct {
				Domain string `json:"domain"`
			}{dom})},
			constraints: []eventstore.UniqueConstraint{
				{Op: eventstore.UniqueConstraintRemove, Name: "org.domain", Value: dom},
			},
		}, nil
	})
}

// AddOrgMemberData is the command payload for AddOrgMember.
type AddOrgMemberData struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// AddOrgMember grants userID membership with the given roles.
func (d *Dispatcher) AddOrgMember(ctx context.Context, cc domain.Context, orgID string, data AddOrgMemberData) (int64, error) {
	return dispatch(ctx, d, "add_org_member", domain.AggregateOrg, orgID, func() (int64, *handlerResult, error) {
		wm := newOrgState()
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateOrg, orgID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if _, ok := wm.members[data.UserID]; ok {
			return version, nil, domain.Preconditionf("already a member")
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateOrg, orgID, domain.EventOrgMemberAdded, orgOwner(orgID), data),
		}}, nil
	})
}

// ChangeOrgMember replaces a member's roles. Identical roles are a no-op.
func (d *Dispatcher) ChangeOrgMember(ctx context.Context, cc domain.Context, orgID string, data AddOrgMemberData) (int64, error) {
	return dispatch(ctx, d, "change_org_member", domain.AggregateOrg, orgID, func() (int64, *handlerResult, error) {
		wm := newOrgState()
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateOrg, orgID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		existing, ok := wm.members[data.UserID]
		if !ok {
			return version, nil, errNotFound(domain.AggregateOrg, orgID+"/"+data.UserID)
		}
		if sameRoles(existing.roles, data.Roles) {
			return version, nil, nil
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateOrg, orgID, domain.EventOrgMemberChanged, orgOwner(orgID), data),
		}}, nil
	})
}

// RemoveOrgMember revokes userID's membership.
func (d *Dispatcher) RemoveOrgMember(ctx context.Context, cc domain.Context, orgID, userID string) (int64, error) {
	return dispatch(ctx, d, "remove_org_member", domain.AggregateOrg, orgID, func() (int64, *handlerResult, error) {
		wm := newOrgState()
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateOrg, orgID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if _, ok := wm.members[userID]; !ok {
			return version, nil, nil
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateOrg, orgID, domain.EventOrgMemberRemoved, orgOwner(orgID), struct {
				UserID string `json:"user_id"`
			}{userID}),
		}}, nil
	})
}

func sameRoles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
