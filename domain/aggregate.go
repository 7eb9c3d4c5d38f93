package domain

// AggregateType names the kind of entity an event belongs to. The first
// dotted segment of every EventType matches one of these.
type AggregateType string

const (
	AggregateUser        AggregateType = "user"
	AggregateOrg         AggregateType = "org"
	AggregateProject     AggregateType = "project"
	AggregateApplication AggregateType = "application"
	AggregateAuthRequest AggregateType = "auth_request"
	AggregateDeviceAuth  AggregateType = "device_auth"
	AggregateIDP         AggregateType = "idp"
	AggregateInstance    AggregateType = "instance"
	AggregateOAuthToken  AggregateType = "oauth_token"
)

// EventType is the dotted event name recorded on every event row, e.g.
// "user.human.added" or "org.member.changed". Reducers dispatch on this
// value; transport layers never see it.
type EventType string

// User events.
const (
	EventUserHumanAdded      EventType = "user.human.added"
	EventUserDeactivated     EventType = "user.deactivated"
	EventUserReactivated     EventType = "user.reactivated"
	EventUserUsernameChanged EventType = "user.username.changed"
	EventUserProfileChanged  EventType = "user.profile.changed"
	EventUserRemoved         EventType = "user.removed"
)

// Org events.
const (
	EventOrgAdded          EventType = "org.added"
	EventOrgChanged        EventType = "org.changed"
	EventOrgDeactivated    EventType = "org.deactivated"
	EventOrgReactivated    EventType = "org.reactivated"
	EventOrgRemoved        EventType = "org.removed"
	EventOrgDomainAdded    EventType = "org.domain.added"
	EventOrgDomainRemoved  EventType = "org.domain.removed"
	EventOrgMemberAdded    EventType = "org.member.added"
	EventOrgMemberChanged  EventType = "org.member.changed"
	EventOrgMemberRemoved  EventType = "org.member.removed"
)

// Project events.
const (
	EventProjectAdded       EventType = "project.added"
	EventProjectChanged     EventType = "project.changed"
	EventProjectDeactivated EventType = "project.deactivated"
	EventProjectReactivated EventType = "project.reactivated"
	EventProjectRemoved     EventType = "project.removed"
)

// Application events.
const (
	EventApplicationAdded              EventType = "application.added"
	EventApplicationChanged            EventType = "application.changed"
	EventApplicationDeactivated        EventType = "application.deactivated"
	EventApplicationReactivated        EventType = "application.reactivated"
	EventApplicationRemoved            EventType = "application.removed"
	EventApplicationSecretChanged      EventType = "application.secret.changed"
	EventApplicationRedirectURIAdded   EventType = "application.redirect_uri.added"
	EventApplicationRedirectURIRemoved EventType = "application.redirect_uri.removed"
	EventApplicationRegistrationTokenRotated EventType = "application.registration_token.rotated"
)

// Auth-request events.
const (
	EventAuthRequestAdded          EventType = "auth_request.added"
	EventAuthRequestUserSelected   EventType = "auth_request.user_selected"
	EventAuthRequestPasswordChecked EventType = "auth_request.password_checked"
	EventAuthRequestTOTPChecked    EventType = "auth_request.totp_checked"
	EventAuthRequestSucceeded      EventType = "auth_request.succeeded"
	EventAuthRequestFailed         EventType = "auth_request.failed"
	EventAuthRequestExpired        EventType = "auth_request.expired"
)

// Device-authorization events.
const (
	EventDeviceAuthAdded     EventType = "device_auth.added"
	EventDeviceAuthApproved  EventType = "device_auth.approved"
	EventDeviceAuthDenied    EventType = "device_auth.denied"
	EventDeviceAuthCancelled EventType = "device_auth.cancelled"
	EventDeviceAuthExpired   EventType = "device_auth.expired"
)

// Token events.
const (
	EventTokenIssued  EventType = "oauth_token.issued"
	EventTokenRevoked EventType = "oauth_token.revoked"
)

// IDP events. Kind is encoded in the event type alongside owner scope, e.g.
// "org.idp.oidc.added" or "instance.idp.google.added".
const (
	EventOrgIDPOIDCAdded       EventType = "org.idp.oidc.added"
	EventOrgIDPOAuth2Added     EventType = "org.idp.oauth2.added"
	EventOrgIDPSAMLAdded       EventType = "org.idp.saml.added"
	EventOrgIDPGoogleAdded     EventType = "org.idp.google.added"
	EventOrgIDPAzureADAdded    EventType = "org.idp.azuread.added"
	EventOrgIDPAppleAdded      EventType = "org.idp.apple.added"
	EventOrgIDPGitHubAdded     EventType = "org.idp.github.added"
	EventOrgIDPGitLabAdded     EventType = "org.idp.gitlab.added"
	EventOrgIDPJWTAdded        EventType = "org.idp.jwt.added"
	EventOrgIDPChanged         EventType = "org.idp.changed"
	EventOrgIDPRemoved         EventType = "org.idp.removed"

	EventInstanceIDPOIDCAdded    EventType = "instance.idp.oidc.added"
	EventInstanceIDPOAuth2Added  EventType = "instance.idp.oauth2.added"
	EventInstanceIDPSAMLAdded    EventType = "instance.idp.saml.added"
	EventInstanceIDPGoogleAdded  EventType = "instance.idp.google.added"
	EventInstanceIDPAzureADAdded EventType = "instance.idp.azuread.added"
	EventInstanceIDPAppleAdded   EventType = "instance.idp.apple.added"
	EventInstanceIDPGitHubAdded  EventType = "instance.idp.github.added"
	EventInstanceIDPGitLabAdded  EventType = "instance.idp.gitlab.added"
	EventInstanceIDPJWTAdded     EventType = "instance.idp.jwt.added"
	EventInstanceIDPChanged      EventType = "instance.idp.changed"
	EventInstanceIDPRemoved      EventType = "instance.idp.removed"

	EventInstanceAdded   EventType = "instance.added"
	EventInstanceChanged EventType = "instance.changed"
	EventInstanceRemoved EventType = "instance.removed"
)

// IDPKind enumerates the polymorphic identity-provider kinds; IDP
// registry commands and the projection tables dispatch on this.
type IDPKind string

const (
	IDPKindOIDC    IDPKind = "oidc"
	IDPKindOAuth2  IDPKind = "oauth2"
	IDPKindSAML    IDPKind = "saml"
	IDPKindGoogle  IDPKind = "google"
	IDPKindAzureAD IDPKind = "azuread"
	IDPKindApple   IDPKind = "apple"
	IDPKindGitHub  IDPKind = "github"
	IDPKindGitLab  IDPKind = "gitlab"
	IDPKindJWT     IDPKind = "jwt"
)

// OwnerType distinguishes instance-wide IDPs/settings from org-scoped ones.
type OwnerType string

const (
	OwnerInstance OwnerType = "instance"
	OwnerOrg      OwnerType = "org"
)
