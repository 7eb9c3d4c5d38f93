package command

import (
	"context"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

type applicationState struct {
	exists                  bool
	state                   domain.LifecycleState
	orgID                   string
	projectID               string
	name                    string
	secret                  string
	redirectURIs            []string
	registrationAccessToken string
}

func (m *applicationState) reduce(e eventstore.Event) {
	switch e.EventType {
	case domain.EventApplicationAdded:
		var p struct {
			ProjectID               string   `json:"project_id"`
			Name                    string   `json:"name"`
			Secret                  string   `json:"secret"`
			RedirectURIs            []string `json:"redirect_uris"`
			RegistrationAccessToken string   `json:"registration_access_token"`
		}
		decodePayload(e, &p)
		m.exists = true
		m.state = domain.StateActive
		m.orgID = e.ResourceOwner.ID
		m.projectID = p.ProjectID
		m.name = p.Name
		m.secret = p.Secret
		m.redirectURIs = p.RedirectURIs
		m.registrationAccessToken = p.RegistrationAccessToken
	case domain.EventApplicationRegistrationTokenRotated:
		var p struct {
			RegistrationAccessToken string `json:"registration_access_token"`
		}
		decodePayload(e, &p)
		m.registrationAccessToken = p.RegistrationAccessToken
	case domain.EventApplicationChanged:
		var p struct {
			Name string `json:"name"`
		}
		decodePayload(e, &p)
		m.name = p.Name
	case domain.EventApplicationSecretChanged:
		var p struct {
			Secret string `json:"secret"`
		}
		decodePayload(e, &p)
		m.secret = p.Secret
	case domain.EventApplicationRedirectURIAdded:
		var p struct {
			URI string `json:"uri"`
		}
		decodePayload(e, &p)
		m.redirectURIs = append(m.redirectURIs, p.URI)
	case domain.EventApplicationRedirectURIRemoved:
		var p struct {
			URI string `json:"uri"`
		}
		decodePayload(e, &p)
		out := m.redirectURIs[:0]
		for _, u := range m.redirectURIs {
			if u != p.URI {
				out = append(out, u)
			}
		}
		m.redirectURIs = out
	case domain.EventApplicationDeactivated:
		m.state = domain.StateInactive
	case domain.EventApplicationReactivated:
		m.state = domain.StateActive
	case domain.EventApplicationRemoved:
		m.state = domain.StateRemoved
	}
}

func (m *applicationState) checkExists() error {
	if !m.exists || m.state == domain.StateRemoved {
		return domain.Preconditionf("deleted")
	}
	return nil
}

func (m *applicationState) hasRedirectURI(uri string) bool {
	for _, u := range m.redirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AddApplicationData is the command payload for AddApplication.
type AddApplicationData struct {
	ProjectID    string   `json:"project_id"`
	Name         string   `json:"name"`
	Secret       string   `json:"secret"`
	RedirectURIs []string `json:"redirect_uris"`
}

// addApplicationPayload is what actually gets stored: AddApplicationData
// plus the registration_access_token RFC 7592's configuration endpoint
// requires, generated at registration time rather than supplied by the
// caller.
type addApplicationPayload struct {
	AddApplicationData
	RegistrationAccessToken string `json:"registration_access_token"`
}

// AddApplication creates an OIDC application aggregate under projectID and
// returns the registration_access_token RFC 7592 callers must present to
// later read, update, or delete the client's configuration.
func (d *Dispatcher) AddApplication(ctx context.Context, cc domain.Context, orgID, appID string, data AddApplicationData) (string, int64, error) {
	token := domain.NewOpaqueToken(32)
	version, err := dispatch(ctx, d, "add_application", domain.AggregateApplication, appID, func() (int64, *handlerResult, error) {
		wm := &applicationState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, appID, wm)
		if err != nil {
			return 0, nil, err
		}
		if wm.exists {
			return version, nil, domain.Preconditionf("application already exists")
		}
		if data.Name == "" {
			return version, nil, domain.InvalidInputf("name", "must not be empty")
		}
		if len(data.RedirectURIs) == 0 {
			return version, nil, domain.InvalidInputf("redirect_uris", "must have at least one redirect URI")
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationAdded, orgOwner(orgID),
				addApplicationPayload{data, token}),
		}}, nil
	})
	return token, version, err
}

// checkRegistrationAccessToken guards the RFC 7592 configuration
// endpoints: the caller must present the token issued at registration (or
// by the last RotateRegistrationAccessToken call).
func (m *applicationState) checkRegistrationAccessToken(token string) error {
	if token == "" || token != m.registrationAccessToken {
		return domain.PermissionDeniedf("invalid registration access token")
	}
	return nil
}

// RotateRegistrationAccessToken replaces an application's RFC 7592
// registration_access_token, invalidating the previous one, and returns
// the new token.
func (d *Dispatcher) RotateRegistrationAccessToken(ctx context.Context, cc domain.Context, appID, currentToken string) (string, int64, error) {
	newToken := domain.NewOpaqueToken(32)
	version, err := dispatch(ctx, d, "rotate_application_registration_token", domain.AggregateApplication, appID, func() (int64, *handlerResult, error) {
		wm := &applicationState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, appID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if err := wm.checkRegistrationAccessToken(currentToken); err != nil {
			return version, nil, err
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationRegistrationTokenRotated, orgOwner(wm.orgID), struct {
				RegistrationAccessToken string `json:"registration_access_token"`
			}{newToken}),
		}}, nil
	})
	return newToken, version, err
}

// RegistrationConfigData is the command payload for
// UpdateApplicationConfiguration: RFC 7592's configuration PUT replaces
// the client's name and full redirect URI set, rather than patching them
// incrementally.
type RegistrationConfigData struct {
	RegistrationAccessToken string
	Name                    string
	RedirectURIs            []string
}

// UpdateApplicationConfiguration implements RFC 7592's configuration PUT.
func (d *Dispatcher) UpdateApplicationConfiguration(ctx context.Context, cc domain.Context, appID string, data RegistrationConfigData) (int64, error) {
	return dispatch(ctx, d, "update_application_configuration", domain.AggregateApplication, appID, func() (int64, *handlerResult, error) {
		wm := &applicationState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, appID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if err := wm.checkRegistrationAccessToken(data.RegistrationAccessToken); err != nil {
			return version, nil, err
		}
		if len(data.RedirectURIs) == 0 {
			return version, nil, domain.InvalidInputf("redirect_uris", "must have at least one redirect URI")
		}
		var events []eventstore.PendingEvent
		if data.Name != "" && data.Name != wm.name {
			events = append(events, newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationChanged, orgOwner(wm.orgID), struct {
				Name string `json:"name"`
			}{data.Name}))
		}
		for _, uri := range missingFrom(wm.redirectURIs, data.RedirectURIs) {
			events = append(events, newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationRedirectURIAdded, orgOwner(wm.orgID), struct {
				URI string `json:"uri"`
			}{uri}))
		}
		for _, uri := range missingFrom(data.RedirectURIs, wm.redirectURIs) {
			events = append(events, newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationRedirectURIRemoved, orgOwner(wm.orgID), struct {
				URI string `json:"uri"`
			}{uri}))
		}
		if len(events) == 0 {
			return version, nil, nil
		}
		return version, &handlerResult{events: events}, nil
	})
}

// missingFrom returns the elements of want absent from have, preserving
// want's order.
func missingFrom(have, want []string) []string {
	present := make(map[string]bool, len(have))
	for _, v := range have {
		present[v] = true
	}
	var out []string
	for _, v := range want {
		if !present[v] {
			out = append(out, v)
		}
	}
	return out
}

// DeleteApplicationConfiguration implements RFC 7592's configuration
// DELETE: the registration_access_token stands in for the usual caller
// authorization checked elsewhere in this package.
func (d *Dispatcher) DeleteApplicationConfiguration(ctx context.Context, cc domain.Context, appID, registrationAccessToken string) (int64, error) {
	return dispatch(ctx, d, "delete_application_configuration", domain.AggregateApplication, appID, func() (int64, *handlerResult, error) {
		wm := &applicationState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, appID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if err := wm.checkRegistrationAccessToken(registrationAccessToken); err != nil {
			return version, nil, err
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationRemoved, orgOwner(wm.orgID), nil),
		}}, nil
	})
}

// ChangeApplicationData is the command payload for ChangeApplication.
type ChangeApplicationData struct {
	Name string `json:"name"`
}

// ChangeApplication renames an application. Identical name is a no-op.
func (d *Dispatcher) ChangeApplication(ctx context.Context, cc domain.Context, appID string, data ChangeApplicationData) (int64, error) {
	return dispatch(ctx, d, "change_application", domain.AggregateApplication, appID, func() (int64, *handlerResult, error) {
		wm := &applicationState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, appID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.name == data.Name {
			return version, nil, nil
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationChanged, orgOwner(wm.orgID), data),
		}}, nil
	})
}

// ChangeApplicationSecretData is the command payload for
// ChangeApplicationSecret.
type ChangeApplicationSecretData struct {
	Secret string `json:"secret"`
}

// ChangeApplicationSecret rotates the application's client secret.
func (d *Dispatcher) ChangeApplicationSecret(ctx context.Context, cc domain.Context, appID string, data ChangeApplicationSecretData) (int64, error) {
	return dispatch(ctx, d, "change_application_secret", domain.AggregateApplication, appID, func() (int64, *handlerResult, error) {
		wm := &applicationState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, appID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if data.Secret == "" {
			return version, nil, domain.InvalidInputf("secret", "must not be empty")
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationSecretChanged, orgOwner(wm.orgID), data),
		}}, nil
	})
}

// AddApplicationRedirectURI appends a redirect URI.
func (d *Dispatcher) AddApplicationRedirectURI(ctx context.Context, cc domain.Context, appID, uri string) (int64, error) {
	return dispatch(ctx, d, "add_application_redirect_uri", domain.AggregateApplication, appID, func() (int64, *handlerResult, error) {
		wm := &applicationState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, appID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if uri == "" {
			return version, nil, domain.InvalidInputf("uri", "must not be empty")
		}
		if wm.hasRedirectURI(uri) {
			return version, nil, nil
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationRedirectURIAdded, orgOwner(wm.orgID), struct {
				URI string `json:"uri"`
			}{uri}),
		}}, nil
	})
}

// RemoveApplicationRedirectURI removes a redirect URI. Fails Precondition
// if it is the application's only remaining redirect URI.
func (d *Dispatcher) RemoveApplicationRedirectURI(ctx context.Context, cc domain.Context, appID, uri string) (int64, error) {
	return dispatch(ctx, d, "remove_application_redirect_uri", domain.AggregateApplication, appID, func() (int64, *handlerResult, error) {
		wm := &applicationState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, appID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if !wm.hasRedirectURI(uri) {
			return version, nil, nil
		}
		if len(wm.redirectURIs) <= 1 {
			return version, nil, domain.Preconditionf("cannot remove last redirect URI")
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationRedirectURIRemoved, orgOwner(wm.orgID), struct {
				URI string `json:"uri"`
			}{uri}),
		}}, nil
	})
}

// DeactivateApplication deactivates an active application.
func (d *Dispatcher) DeactivateApplication(ctx context.Context, cc domain.Context, appID string) (int64, error) {
	return dispatch(ctx, d, "deactivate_application", domain.AggregateApplication, appID, func() (int64, *handlerResult, error) {
		wm := &applicationState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, appID, wm)
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
			newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationDeactivated, orgOwner(wm.orgID), nil),
		}}, nil
	})
}

// ReactivateApplication reactivates an inactive application.
func (d *Dispatcher) ReactivateApplication(ctx context.Context, cc domain.Context, appID string) (int64, error) {
	return dispatch(ctx, d, "reactivate_application", domain.AggregateApplication, appID, func() (int64, *handlerResult, error) {
		wm := &applicationState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, appID, wm)
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
			newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationReactivated, orgOwner(wm.orgID), nil),
		}}, nil
	})
}

// RemoveApplication tombstones an application.
func (d *Dispatcher) RemoveApplication(ctx context.Context, cc domain.Context, appID string) (int64, error) {
	return dispatch(ctx, d, "remove_application", domain.AggregateApplication, appID, func() (int64, *handlerResult, error) {
		wm := &applicationState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateApplication, appID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateApplication, appID, domain.EventApplicationRemoved, orgOwner(wm.orgID), nil),
		}}, nil
	})
}
