package projection

import (
	"context"
	"encoding/json"
	"time"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

func decode(e eventstore.Event, dest interface{}) {
	if len(e.Payload) == 0 {
		return
	}
	_ = json.Unmarshal(e.Payload, dest)
}

// UsersTable reduces user.* events into the users read table.
type UsersTable struct{ store Store }

func NewUsersTable(store Store) *UsersTable { return &UsersTable{store: store} }

func (t *UsersTable) Name() string { return "users" }

func (t *UsersTable) Reduce(_ context.Context, e eventstore.Event) error {
	switch e.EventType {
	case domain.EventUserHumanAdded:
		var p struct {
			Username string `json:"username"`
			Email    string `json:"email"`
		}
		decode(e, &p)
		return t.store.UpsertUser(UserRow{
			InstanceID: e.InstanceID, OrgID: e.ResourceOwner.ID, UserID: e.AggregateID,
			Username: p.Username, Email: p.Email, State: string(domain.StateActive), Sequence: e.AggregateVersion,
		})
	case domain.EventUserDeactivated, domain.EventUserReactivated, domain.EventUserUsernameChanged,
		domain.EventUserProfileChanged, domain.EventUserRemoved:
		row, ok := t.store.GetUser(e.InstanceID, e.AggregateID)
		if !ok {
			// Removal (or any update) of a row this table never saw: nothing
			// to tolerate beyond a no-op.
			return nil
		}
		if row.Sequence >= e.AggregateVersion {
			return nil
		}
		switch e.EventType {
		case domain.EventUserDeactivated:
			row.State = string(domain.StateInactive)
		case domain.EventUserReactivated:
			row.State = string(domain.StateActive)
		case domain.EventUserUsernameChanged:
			var p struct {
				Username string `json:"username"`
			}
			decode(e, &p)
			row.Username = p.Username
		case domain.EventUserProfileChanged:
			var p struct {
				Email string `json:"email"`
			}
			decode(e, &p)
			row.Email = p.Email
		case domain.EventUserRemoved:
			row.State = string(domain.StateRemoved)
		}
		row.Sequence = e.AggregateVersion
		return t.store.UpsertUser(row)
	}
	return nil
}

// OrgsTable reduces org.* lifecycle events into the orgs read table; domain
// and member events are handled by DomainsTable/MembersTable since they
// touch independent rows of the same aggregate's event stream.
type OrgsTable struct{ store Store }

func NewOrgsTable(store Store) *OrgsTable { return &OrgsTable{store: store} }

func (t *OrgsTable) Name() string { return "orgs" }

func (t *OrgsTable) Reduce(_ context.Context, e eventstore.Event) error {
	switch e.EventType {
	case domain.EventOrgAdded:
		var p struct {
			Name string `json:"name"`
		}
		decode(e, &p)
		return t.store.UpsertOrg(OrgRow{
			InstanceID: e.InstanceID, OrgID: e.AggregateID, Name: p.Name,
			State: string(domain.StateActive), Sequence: e.AggregateVersion,
		})
	case domain.EventOrgChanged, domain.EventOrgDeactivated, domain.EventOrgReactivated, domain.EventOrgRemoved:
		row, ok := t.store.GetOrg(e.InstanceID, e.AggregateID)
		if !ok || row.Sequence >= e.AggregateVersion {
			return nil
		}
		switch e.EventType {
		case domain.EventOrgChanged:
			var p struct {
				Name string `json:"name"`
			}
			decode(e, &p)
			row.Name = p.Name
		case domain.EventOrgDeactivated:
			row.State = string(domain.StateInactive)
		case domain.EventOrgReactivated:
			row.State = string(domain.StateActive)
		case domain.EventOrgRemoved:
			row.State = string(domain.StateRemoved)
		}
		row.Sequence = e.AggregateVersion
		return t.store.UpsertOrg(row)
	}
	return nil
}

// DomainsTable reduces org.domain.* events into per-org domain rows.
type DomainsTable struct{ store Store }

func NewDomainsTable(store Store) *DomainsTable { return &DomainsTable{store: store} }

func (t *DomainsTable) Name() string { return "org_domains" }

func (t *DomainsTable) Reduce(_ context.Context, e eventstore.Event) error {
	switch e.EventType {
	case domain.EventOrgDomainAdded:
		var p struct {
			Domain    string `json:"domain"`
			IsPrimary bool   `json:"is_primary"`
		}
		decode(e, &p)
		return t.store.UpsertDomain(DomainRow{
			InstanceID: e.InstanceID, OrgID: e.AggregateID, Domain: p.Domain, IsPrimary: p.IsPrimary,
		})
	case domain.EventOrgDomainRemoved:
		var p struct {
			Domain string `json:"domain"`
		}
		decode(e, &p)
		return t.store.DeleteDomain(e.InstanceID, e.AggregateID, p.Domain)
	}
	return nil
}

// MembersTable reduces org.member.* events into per-org membership rows.
type MembersTable struct{ store Store }

func NewMembersTable(store Store) *MembersTable { return &MembersTable{store: store} }

func (t *MembersTable) Name() string { return "members" }

func (t *MembersTable) Reduce(_ context.Context, e eventstore.Event) error {
	switch e.EventType {
	case domain.EventOrgMemberAdded, domain.EventOrgMemberChanged:
		var p struct {
			UserID string   `json:"user_id"`
			Roles  []string `json:"roles"`
		}
		decode(e, &p)
		return t.store.UpsertMember(MemberRow{
			InstanceID: e.InstanceID, OrgID: e.AggregateID, UserID: p.UserID, Roles: p.Roles, Sequence: e.AggregateVersion,
		})
	case domain.EventOrgMemberRemoved:
		var p struct {
			UserID string `json:"user_id"`
		}
		decode(e, &p)
		return t.store.DeleteMember(e.InstanceID, e.AggregateID, p.UserID)
	}
	return nil
}

// ProjectsTable reduces project.* events into the projects read table.
type ProjectsTable struct{ store Store }

func NewProjectsTable(store Store) *ProjectsTable { return &ProjectsTable{store: store} }

func (t *ProjectsTable) Name() string { return "projects" }

func (t *ProjectsTable) Reduce(_ context.Context, e eventstore.Event) error {
	switch e.EventType {
	case domain.EventProjectAdded:
		var p struct {
			Name string `json:"name"`
		}
		decode(e, &p)
		return t.store.UpsertProject(ProjectRow{
			InstanceID: e.InstanceID, OrgID: e.ResourceOwner.ID, ProjectID: e.AggregateID,
			Name: p.Name, State: string(domain.StateActive), Sequence: e.AggregateVersion,
		})
	case domain.EventProjectChanged, domain.EventProjectDeactivated, domain.EventProjectReactivated, domain.EventProjectRemoved:
		row, ok := t.store.GetProject(e.InstanceID, e.AggregateID)
		if !ok || row.Sequence >= e.AggregateVersion {
			return nil
		}
		switch e.EventType {
		case domain.EventProjectChanged:
			var p struct {
				Name string `json:"name"`
			}
			decode(e, &p)
			row.Name = p.Name
		case domain.EventProjectDeactivated:
			row.State = string(domain.StateInactive)
		case domain.EventProjectReactivated:
			row.State = string(domain.StateActive)
		case domain.EventProjectRemoved:
			row.State = string(domain.StateRemoved)
		}
		row.Sequence = e.AggregateVersion
		return t.store.UpsertProject(row)
	}
	return nil
}

// ApplicationsTable reduces application.* events into the applications
// read table, including redirect URI management.
type ApplicationsTable struct{ store Store }

func NewApplicationsTable(store Store) *ApplicationsTable { return &ApplicationsTable{store: store} }

func (t *ApplicationsTable) Name() string { return "applications" }

func (t *ApplicationsTable) Reduce(_ context.Context, e eventstore.Event) error {
	switch e.EventType {
	case domain.EventApplicationAdded:
		var p struct {
			ProjectID    string   `json:"project_id"`
			Name         string   `json:"name"`
			RedirectURIs []string `json:"redirect_uris"`
		}
		decode(e, &p)
		return t.store.UpsertApplication(ApplicationRow{
			InstanceID: e.InstanceID, OrgID: e.ResourceOwner.ID, ProjectID: p.ProjectID, AppID: e.AggregateID,
			Name: p.Name, State: string(domain.StateActive), RedirectURIs: p.RedirectURIs, Sequence: e.AggregateVersion,
		})
	case domain.EventApplicationChanged, domain.EventApplicationSecretChanged, domain.EventApplicationRedirectURIAdded,
		domain.EventApplicationRedirectURIRemoved, domain.EventApplicationDeactivated, domain.EventApplicationReactivated,
		domain.EventApplicationRemoved:
		row, ok := t.store.GetApplication(e.InstanceID, e.AggregateID)
		if !ok || row.Sequence >= e.AggregateVersion {
			return nil
		}
		switch e.EventType {
		case domain.EventApplicationChanged:
			var p struct {
				Name string `json:"name"`
			}
			decode(e, &p)
			row.Name = p.Name
		case domain.EventApplicationRedirectURIAdded:
			var p struct {
				URI string `json:"uri"`
			}
			decode(e, &p)
			row.RedirectURIs = append(row.RedirectURIs, p.URI)
		case domain.EventApplicationRedirectURIRemoved:
			var p struct {
				URI string `json:"uri"`
			}
			decode(e, &p)
			out := row.RedirectURIs[:0]
			for _, u := range row.RedirectURIs {
				if u != p.URI {
					out = append(out, u)
				}
			}
			row.RedirectURIs = out
		case domain.EventApplicationDeactivated:
			row.State = string(domain.StateInactive)
		case domain.EventApplicationReactivated:
			row.State = string(domain.StateActive)
		case domain.EventApplicationRemoved:
			row.State = string(domain.StateRemoved)
		}
		row.Sequence = e.AggregateVersion
		return t.store.UpsertApplication(row)
	}
	return nil
}

// IDPsTable reduces org.idp.*/instance.idp.* events into the idps read
// table, spanning both owner scopes.
type IDPsTable struct{ store Store }

func NewIDPsTable(store Store) *IDPsTable { return &IDPsTable{store: store} }

func (t *IDPsTable) Name() string { return "idps" }

var idpAddedKind = map[domain.EventType]domain.IDPKind{
	domain.EventOrgIDPOIDCAdded: domain.IDPKindOIDC, domain.EventInstanceIDPOIDCAdded: domain.IDPKindOIDC,
	domain.EventOrgIDPOAuth2Added: domain.IDPKindOAuth2, domain.EventInstanceIDPOAuth2Added: domain.IDPKindOAuth2,
	domain.EventOrgIDPSAMLAdded: domain.IDPKindSAML, domain.EventInstanceIDPSAMLAdded: domain.IDPKindSAML,
	domain.EventOrgIDPGoogleAdded: domain.IDPKindGoogle, domain.EventInstanceIDPGoogleAdded: domain.IDPKindGoogle,
	domain.EventOrgIDPAzureADAdded: domain.IDPKindAzureAD, domain.EventInstanceIDPAzureADAdded: domain.IDPKindAzureAD,
	domain.EventOrgIDPAppleAdded: domain.IDPKindApple, domain.EventInstanceIDPAppleAdded: domain.IDPKindApple,
	domain.EventOrgIDPGitHubAdded: domain.IDPKindGitHub, domain.EventInstanceIDPGitHubAdded: domain.IDPKindGitHub,
	domain.EventOrgIDPGitLabAdded: domain.IDPKindGitLab, domain.EventInstanceIDPGitLabAdded: domain.IDPKindGitLab,
	domain.EventOrgIDPJWTAdded: domain.IDPKindJWT, domain.EventInstanceIDPJWTAdded: domain.IDPKindJWT,
}

func (t *IDPsTable) Reduce(_ context.Context, e eventstore.Event) error {
	if kind, ok := idpAddedKind[e.EventType]; ok {
		var p struct {
			Name string `json:"name"`
		}
		decode(e, &p)
		return t.store.UpsertIDP(IDPRow{
			InstanceID: e.InstanceID, OwnerType: string(e.ResourceOwner.Type), OwnerID: e.ResourceOwner.ID,
			IDPID: e.AggregateID, Kind: string(kind), Name: p.Name, Sequence: e.AggregateVersion,
		})
	}
	switch e.EventType {
	case domain.EventOrgIDPChanged, domain.EventInstanceIDPChanged:
		row, ok := t.store.GetIDP(e.InstanceID, e.AggregateID)
		if !ok || row.Sequence >= e.AggregateVersion {
			return nil
		}
		var p struct {
			Name string `json:"name"`
		}
		decode(e, &p)
		row.Name = p.Name
		row.Sequence = e.AggregateVersion
		return t.store.UpsertIDP(row)
	case domain.EventOrgIDPRemoved, domain.EventInstanceIDPRemoved:
		return t.store.DeleteIDP(e.InstanceID, e.AggregateID)
	}
	return nil
}

// InstancesTable reduces instance.* events into the instances read table.
type InstancesTable struct{ store Store }

func NewInstancesTable(store Store) *InstancesTable { return &InstancesTable{store: store} }

func (t *InstancesTable) Name() string { return "instances" }

func (t *InstancesTable) Reduce(_ context.Context, e eventstore.Event) error {
	switch e.EventType {
	case domain.EventInstanceAdded:
		var p struct {
			Name string `json:"name"`
		}
		decode(e, &p)
		return t.store.UpsertInstance(InstanceRow{
			InstanceID: e.AggregateID, Name: p.Name, State: string(domain.StateActive), Sequence: e.AggregateVersion,
		})
	case domain.EventInstanceChanged, domain.EventInstanceRemoved:
		row, ok := t.store.GetInstance(e.AggregateID)
		if !ok || row.Sequence >= e.AggregateVersion {
			return nil
		}
		if e.EventType == domain.EventInstanceChanged {
			var p struct {
				Name string `json:"name"`
			}
			decode(e, &p)
			row.Name = p.Name
		} else {
			row.State = string(domain.StateRemoved)
		}
		row.Sequence = e.AggregateVersion
		return t.store.UpsertInstance(row)
	}
	return nil
}

// AuthRequestsTable reduces auth_request.* events into the auth_requests
// read table, the denormalized counterpart to command/authrequest.go's
// write-model fold.
type AuthRequestsTable struct{ store Store }

func NewAuthRequestsTable(store Store) *AuthRequestsTable { return &AuthRequestsTable{store: store} }

func (t *AuthRequestsTable) Name() string { return "auth_requests" }

func (t *AuthRequestsTable) Reduce(_ context.Context, e eventstore.Event) error {
	switch e.EventType {
	case domain.EventAuthRequestAdded:
		var p struct {
			ClientID    string    `json:"client_id"`
			RedirectURI string    `json:"redirect_uri"`
			ExpiresAt   time.Time `json:"expires_at"`
		}
		decode(e, &p)
		return t.store.UpsertAuthRequest(AuthRequestRow{
			InstanceID: e.InstanceID, OrgID: e.ResourceOwner.ID, AuthRequestID: e.AggregateID,
			ClientID: p.ClientID, RedirectURI: p.RedirectURI, State: "initial", ExpiresAt: p.ExpiresAt,
			Sequence: e.AggregateVersion,
		})
	case domain.EventAuthRequestUserSelected, domain.EventAuthRequestSucceeded, domain.EventAuthRequestFailed, domain.EventAuthRequestExpired:
		row, ok := t.store.GetAuthRequest(e.InstanceID, e.AggregateID)
		if !ok || row.Sequence >= e.AggregateVersion {
			return nil
		}
		switch e.EventType {
		case domain.EventAuthRequestUserSelected:
			var p struct {
				UserID string `json:"user_id"`
			}
			decode(e, &p)
			row.SelectedUserID = p.UserID
			row.State = "user_selected"
		case domain.EventAuthRequestSucceeded:
			var p struct {
				Code string `json:"code"`
			}
			decode(e, &p)
			row.Code = p.Code
			row.State = "succeeded"
		case domain.EventAuthRequestFailed:
			row.State = "failed"
		case domain.EventAuthRequestExpired:
			row.State = "failed"
		}
		row.Sequence = e.AggregateVersion
		return t.store.UpsertAuthRequest(row)
	}
	return nil
}

// DeviceAuthsTable reduces device_auth.* events into the device_auths read
// table RFC 8628's polling endpoint reads from.
type DeviceAuthsTable struct{ store Store }

func NewDeviceAuthsTable(store Store) *DeviceAuthsTable { return &DeviceAuthsTable{store: store} }

func (t *DeviceAuthsTable) Name() string { return "device_auths" }

func (t *DeviceAuthsTable) Reduce(_ context.Context, e eventstore.Event) error {
	switch e.EventType {
	case domain.EventDeviceAuthAdded:
		var p struct {
			ClientID        string    `json:"client_id"`
			UserCode        string    `json:"user_code"`
			VerificationURI string    `json:"verification_uri"`
			ExpiresAt       time.Time `json:"expires_at"`
		}
		decode(e, &p)
		return t.store.UpsertDeviceAuth(DeviceAuthRow{
			InstanceID: e.InstanceID, DeviceAuthID: e.AggregateID, ClientID: p.ClientID,
			UserCode: p.UserCode, VerificationURI: p.VerificationURI, Status: "pending", ExpiresAt: p.ExpiresAt,
			Sequence: e.AggregateVersion,
		})
	case domain.EventDeviceAuthApproved, domain.EventDeviceAuthDenied, domain.EventDeviceAuthCancelled, domain.EventDeviceAuthExpired:
		row, ok := t.store.GetDeviceAuth(e.InstanceID, e.AggregateID)
		if !ok || row.Sequence >= e.AggregateVersion {
			return nil
		}
		switch e.EventType {
		case domain.EventDeviceAuthApproved:
			var p struct {
				UserID string `json:"user_id"`
			}
			decode(e, &p)
			row.ApprovedUserID = p.UserID
			row.Status = "approved"
		case domain.EventDeviceAuthDenied:
			row.Status = "denied"
		case domain.EventDeviceAuthCancelled:
			row.Status = "cancelled"
		case domain.EventDeviceAuthExpired:
			row.Status = "expired"
		}
		row.Sequence = e.AggregateVersion
		return t.store.UpsertDeviceAuth(row)
	}
	return nil
}

// TokensTable reduces oauth_token.* events into the token-introspection
// read table (RFC 7662 shape, materialized rather than recomputed from
// the write model on every introspect call).
type TokensTable struct{ store Store }

func NewTokensTable(store Store) *TokensTable { return &TokensTable{store: store} }

func (t *TokensTable) Name() string { return "tokens" }

func (t *TokensTable) Reduce(_ context.Context, e eventstore.Event) error {
	switch e.EventType {
	case domain.EventTokenIssued:
		var p struct {
			ClientID  string           `json:"client_id"`
			UserID    string           `json:"user_id"`
			TokenType domain.TokenType `json:"token_type"`
			Scope     []string         `json:"scope"`
			IssuedAt  time.Time        `json:"issued_at"`
			ExpiresAt time.Time        `json:"expires_at"`
			Audience  []string         `json:"audience"`
		}
		decode(e, &p)
		return t.store.UpsertToken(TokenRow{
			InstanceID: e.InstanceID, TokenID: e.AggregateID, ClientID: p.ClientID, UserID: p.UserID,
			TokenType: string(p.TokenType), Scope: p.Scope, IssuedAt: p.IssuedAt, ExpiresAt: p.ExpiresAt,
			Audience: p.Audience, Sequence: e.AggregateVersion,
		})
	case domain.EventTokenRevoked:
		row, ok := t.store.GetToken(e.InstanceID, e.AggregateID)
		if !ok || row.Sequence >= e.AggregateVersion {
			return nil
		}
		row.Revoked = true
		row.RevokedAt = e.CreatedAt
		row.Sequence = e.AggregateVersion
		return t.store.UpsertToken(row)
	}
	return nil
}

// AllTables returns one Table per read model this package projects,
// wired against a shared Store, for callers (cmd/iamd) that want to start
// every projection worker without enumerating them by hand.
func AllTables(store Store) []Table {
	return []Table{
		NewUsersTable(store),
		NewOrgsTable(store),
		NewDomainsTable(store),
		NewMembersTable(store),
		NewProjectsTable(store),
		NewApplicationsTable(store),
		NewIDPsTable(store),
		NewInstancesTable(store),
		NewAuthRequestsTable(store),
		NewDeviceAuthsTable(store),
		NewTokensTable(store),
	}
}
