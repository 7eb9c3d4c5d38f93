package command

import (
	"context"
	"time"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

type deviceAuthStatus string

const (
	deviceAuthPending   deviceAuthStatus = "pending"
	deviceAuthApproved  deviceAuthStatus = "approved"
	deviceAuthDenied    deviceAuthStatus = "denied"
	deviceAuthCancelled deviceAuthStatus = "cancelled"
	deviceAuthExpired   deviceAuthStatus = "expired"
)

// OAuth2 token-polling error codes an RFC 8628 device_code grant returns
// from the token endpoint, per RFC 8628 §3.5 and RFC 6749 §5.2.
const (
	OAuthAuthorizationPending = "authorization_pending"
	OAuthAccessDenied         = "access_denied"
	OAuthExpiredToken         = "expired_token"
	OAuthInvalidClient        = "invalid_client"
	OAuthInvalidGrant         = "invalid_grant"
)

type deviceAuthState struct {
	exists          bool
	status          deviceAuthStatus
	clientID        string
	scope           []string
	userCode        string
	verificationURI string
	approvedUserID  string
	expiresAt       time.Time
}

func (m *deviceAuthState) reduce(e eventstore.Event) {
	switch e.EventType {
	case domain.EventDeviceAuthAdded:
		var p struct {
			ClientID        string    `json:"client_id"`
			Scope           []string  `json:"scope"`
			UserCode        string    `json:"user_code"`
			VerificationURI string    `json:"verification_uri"`
			ExpiresAt       time.Time `json:"expires_at"`
		}
		decodePayload(e, &p)
		m.exists = true
		m.status = deviceAuthPending
		m.clientID = p.ClientID
		m.scope = p.Scope
		m.userCode = p.UserCode
		m.verificationURI = p.VerificationURI
		m.expiresAt = p.ExpiresAt
	case domain.EventDeviceAuthApproved:
		var p struct {
			UserID string `json:"user_id"`
		}
		decodePayload(e, &p)
		m.status = deviceAuthApproved
		m.approvedUserID = p.UserID
	case domain.EventDeviceAuthDenied:
		m.status = deviceAuthDenied
	case domain.EventDeviceAuthCancelled:
		m.status = deviceAuthCancelled
	case domain.EventDeviceAuthExpired:
		m.status = deviceAuthExpired
	}
}

func (m *deviceAuthState) checkExists() error {
	if !m.exists {
		return errNotFound(domain.AggregateDeviceAuth, "")
	}
	return nil
}

// AddDeviceAuthData is the command payload for AddDeviceAuth. TTL is the
// lifetime of the flow before the gc sweeper expires it; a zero TTL never
// expires.
type AddDeviceAuthData struct {
	ClientID        string
	Scope           []string
	VerificationURI string
	TTL             time.Duration
}

// deviceAuthPayload is the event payload for EventDeviceAuthAdded, carrying
// the codes generated by AddDeviceAuth alongside the caller-supplied data.
type deviceAuthPayload struct {
	ClientID                string    `json:"client_id"`
	Scope                   []string  `json:"scope"`
	DeviceCode              string    `json:"device_code"`
	UserCode                string    `json:"user_code"`
	VerificationURI         string    `json:"verification_uri"`
	VerificationURIComplete string    `json:"verification_uri_complete"`
	ExpiresAt               time.Time `json:"expires_at"`
}

// AddDeviceAuth starts a device-authorization flow in cc.InstanceID,
// generating a device_code and a user_code and claiming the user_code
// instance-wide via the unique-constraint side table per RFC 8628. A
// user_code collision regenerates both codes and tries again, up to
// maxUserCodeAttempts times in all, then fails Transient.
func (d *Dispatcher) AddDeviceAuth(ctx context.Context, cc domain.Context, deviceAuthID string, data AddDeviceAuthData) (string, string, string, int64, error) {
	const maxUserCodeAttempts = 3
	var deviceCode, userCode, verificationURIComplete string
	handle := func() (int64, *handlerResult, error) {
		wm := &deviceAuthState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateDeviceAuth, deviceAuthID, wm)
		if err != nil {
			return 0, nil, err
		}
		if wm.exists {
			return version, nil, domain.Preconditionf("device auth already exists")
		}
		if data.ClientID == "" {
			return version, nil, domain.InvalidInputf("client_id", "must not be empty")
		}

		deviceCode = domain.NewDeviceCode()
		userCode = domain.NewUserCode()
		verificationURIComplete = data.VerificationURI + "?user_code=" + userCode

		payload := deviceAuthPayload{
			ClientID:                data.ClientID,
			Scope:                   data.Scope,
			DeviceCode:              deviceCode,
			UserCode:                userCode,
			VerificationURI:         data.VerificationURI,
			VerificationURIComplete: verificationURIComplete,
			ExpiresAt:               expiryOf(ctx, data.TTL),
		}
		owner := domain.ResourceOwner{Type: domain.OwnerInstance, ID: cc.InstanceID}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateDeviceAuth, deviceAuthID, domain.EventDeviceAuthAdded, owner, payload)},
			constraints: []eventstore.UniqueConstraint{{
				Op: eventstore.UniqueConstraintAdd, Name: "device_auth.user_code", Value: userCode, ErrMessage: "user_code collision",
			}},
		}, nil
	}
	version, err := dispatch(ctx, d, "add_device_auth", domain.AggregateDeviceAuth, deviceAuthID, handle)
	for attempt := 1; attempt < maxUserCodeAttempts && domain.IsKind(err, domain.KindUniqueConstraintViolation); attempt++ {
		version, err = dispatch(ctx, d, "add_device_auth", domain.AggregateDeviceAuth, deviceAuthID, handle)
	}
	if domain.IsKind(err, domain.KindUniqueConstraintViolation) {
		err = domain.Transientf(err, "user_code collision after %d attempts", maxUserCodeAttempts)
	}
	if err != nil {
		return "", "", "", 0, err
	}
	return deviceCode, userCode, verificationURIComplete, version, nil
}

// ApproveDeviceAuth approves a pending device-authorization flow on behalf
// of the context's authenticated user. Fails if userID disagrees with the
// acting context's UserID.
func (d *Dispatcher) ApproveDeviceAuth(ctx context.Context, cc domain.Context, deviceAuthID, userCode, userID string) (int64, error) {
	return dispatch(ctx, d, "approve_device_auth", domain.AggregateDeviceAuth, deviceAuthID, func() (int64, *handlerResult, error) {
		wm := &deviceAuthState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateDeviceAuth, deviceAuthID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.status != deviceAuthPending {
			return version, nil, errAlreadyTerminal
		}
		if cc.UserID != userID {
			return version, nil, domain.PermissionDeniedf("user mismatch")
		}
		owner := domain.ResourceOwner{Type: domain.OwnerInstance, ID: cc.InstanceID}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateDeviceAuth, deviceAuthID, domain.EventDeviceAuthApproved, owner, struct {
				UserID string `json:"user_id"`
			}{userID}),
			},
			constraints: []eventstore.UniqueConstraint{{
				Op: eventstore.UniqueConstraintRemove, Name: "device_auth.user_code", Value: wm.userCode,
			}},
		}, nil
	})
}

// DenyDeviceAuth denies a pending device-authorization flow.
func (d *Dispatcher) DenyDeviceAuth(ctx context.Context, cc domain.Context, deviceAuthID string) (int64, error) {
	return dispatch(ctx, d, "deny_device_auth", domain.AggregateDeviceAuth, deviceAuthID, func() (int64, *handlerResult, error) {
		wm := &deviceAuthState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateDeviceAuth, deviceAuthID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.status != deviceAuthPending {
			return version, nil, errAlreadyTerminal
		}
		owner := domain.ResourceOwner{Type: domain.OwnerInstance, ID: cc.InstanceID}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateDeviceAuth, deviceAuthID, domain.EventDeviceAuthDenied, owner, nil)},
			constraints: []eventstore.UniqueConstraint{{
				Op: eventstore.UniqueConstraintRemove, Name: "device_auth.user_code", Value: wm.userCode,
			}},
		}, nil
	})
}

// CancelDeviceAuth cancels a device-authorization flow from the client
// side, identified by deviceAuthID. Only valid from pending.
func (d *Dispatcher) CancelDeviceAuth(ctx context.Context, cc domain.Context, deviceAuthID string) (int64, error) {
	return dispatch(ctx, d, "cancel_device_auth", domain.AggregateDeviceAuth, deviceAuthID, func() (int64, *handlerResult, error) {
		wm := &deviceAuthState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateDeviceAuth, deviceAuthID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.status != deviceAuthPending {
			return version, nil, errAlreadyTerminal
		}
		owner := domain.ResourceOwner{Type: domain.OwnerInstance, ID: cc.InstanceID}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateDeviceAuth, deviceAuthID, domain.EventDeviceAuthCancelled, owner, nil)},
			constraints: []eventstore.UniqueConstraint{{
				Op: eventstore.UniqueConstraintRemove, Name: "device_auth.user_code", Value: wm.userCode,
			}},
		}, nil
	})
}

// ExpireDeviceAuth transitions a still-pending flow to expired once its
// TTL has elapsed. Called by the gc sweeper; a flow with no TTL set never
// expires. Already-terminal or not-yet-expired flows are a no-op, not an
// error, so the sweeper can call it speculatively against every pending
// row it lists.
func (d *Dispatcher) ExpireDeviceAuth(ctx context.Context, cc domain.Context, deviceAuthID string, now time.Time) (int64, error) {
	return dispatch(ctx, d, "expire_device_auth", domain.AggregateDeviceAuth, deviceAuthID, func() (int64, *handlerResult, error) {
		wm := &deviceAuthState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateDeviceAuth, deviceAuthID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.status != deviceAuthPending || wm.expiresAt.IsZero() || now.Before(wm.expiresAt) {
			return version, nil, nil
		}
		owner := domain.ResourceOwner{Type: domain.OwnerInstance, ID: cc.InstanceID}
		return version, &handlerResult{
			events: []eventstore.PendingEvent{newEvent(cc, domain.AggregateDeviceAuth, deviceAuthID, domain.EventDeviceAuthExpired, owner, nil)},
			constraints: []eventstore.UniqueConstraint{{
				Op: eventstore.UniqueConstraintRemove, Name: "device_auth.user_code", Value: wm.userCode,
			}},
		}, nil
	})
}

// ResolveDeviceAuthExchange maps a device-authorization write model's
// current state to the RFC 8628 token-polling outcome for a client
// presenting device_code at the token endpoint as of now: the approved
// user ID and no error code on success, or one of the OAuth* error codes
// above. It is a pure function of the write model so a token endpoint can
// call it directly off the event log without a round trip through a
// command.
func ResolveDeviceAuthExchange(wm *deviceAuthState, clientID string, now time.Time) (userID, errCode string) {
	if !wm.exists {
		return "", OAuthInvalidGrant
	}
	if wm.clientID != clientID {
		return "", OAuthInvalidClient
	}
	switch wm.status {
	case deviceAuthPending:
		if !wm.expiresAt.IsZero() && !now.Before(wm.expiresAt) {
			return "", OAuthExpiredToken
		}
		return "", OAuthAuthorizationPending
	case deviceAuthApproved:
		return wm.approvedUserID, ""
	case deviceAuthDenied, deviceAuthCancelled:
		return "", OAuthAccessDenied
	case deviceAuthExpired:
		return "", OAuthExpiredToken
	}
	return "", OAuthInvalidGrant
}
