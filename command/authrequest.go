package command

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

type authRequestState struct {
	exists              bool
	terminal            bool
	orgID               string
	clientID            string
	redirectURI         string
	scope               []string
	responseType        string
	codeChallenge       string
	codeChallengeMethod string
	state               string
	selectedUserID      string
	passwordChecked     bool
	totpChecked         bool
	code                string
	expiresAt           time.Time
}

func (m *authRequestState) reduce(e eventstore.Event) {
	switch e.EventType {
	case domain.EventAuthRequestAdded:
		var p struct {
			ClientID            string    `json:"client_id"`
			RedirectURI         string    `json:"redirect_uri"`
			Scope               []string  `json:"scope"`
			ResponseType        string    `json:"response_type"`
			CodeChallenge       string    `json:"code_challenge"`
			CodeChallengeMethod string    `json:"code_challenge_method"`
			State               string    `json:"state"`
			ExpiresAt           time.Time `json:"expires_at"`
		}
		decodePayload(e, &p)
		m.exists = true
		m.orgID = e.ResourceOwner.ID
		m.clientID = p.ClientID
		m.redirectURI = p.RedirectURI
		m.scope = p.Scope
		m.responseType = p.ResponseType
		m.codeChallenge = p.CodeChallenge
		m.codeChallengeMethod = p.CodeChallengeMethod
		m.state = p.State
		m.expiresAt = p.ExpiresAt
	case domain.EventAuthRequestUserSelected:
		var p struct {
			UserID string `json:"user_id"`
		}
		decodePayload(e, &p)
		m.selectedUserID = p.UserID
	case domain.EventAuthRequestPasswordChecked:
		var p struct {
			Success bool `json:"success"`
		}
		decodePayload(e, &p)
		m.passwordChecked = p.Success
	case domain.EventAuthRequestTOTPChecked:
		var p struct {
			Success bool `json:"success"`
		}
		decodePayload(e, &p)
		m.totpChecked = p.Success
	case domain.EventAuthRequestSucceeded:
		var p struct {
			Code string `json:"code"`
		}
		decodePayload(e, &p)
		m.terminal = true
		m.code = p.Code
	case domain.EventAuthRequestFailed, domain.EventAuthRequestExpired:
		m.terminal = true
	}
}

func (m *authRequestState) checkExists() error {
	if !m.exists {
		return errNotFound(domain.AggregateAuthRequest, "")
	}
	return nil
}

// AddAuthRequestData is the command payload for AddAuthRequest. TTL is the
// lifetime of the flow before the gc sweeper expires it; a zero TTL never
// expires.
type AddAuthRequestData struct {
	ClientID            string   `json:"client_id"`
	RedirectURI         string   `json:"redirect_uri"`
	Scope               []string `json:"scope"`
	ResponseType        string   `json:"response_type"`
	CodeChallenge       string   `json:"code_challenge"`
	CodeChallengeMethod string   `json:"code_challenge_method"`
	State               string   `json:"state"`
	TTL                 time.Duration
}

// AddAuthRequest begins an authorization-code flow, placing the aggregate
// in the initial state.
func (d *Dispatcher) AddAuthRequest(ctx context.Context, cc domain.Context, orgID, authRequestID string, data AddAuthRequestData) (int64, error) {
	return dispatch(ctx, d, "add_auth_request", domain.AggregateAuthRequest, authRequestID, func() (int64, *handlerResult, error) {
		wm := &authRequestState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateAuthRequest, authRequestID, wm)
		if err != nil {
			return 0, nil, err
		}
		if wm.exists {
			return version, nil, domain.Preconditionf("auth request already exists")
		}
		if data.ClientID == "" {
			return version, nil, domain.InvalidInputf("client_id", "must not be empty")
		}
		if data.RedirectURI == "" {
			return version, nil, domain.InvalidInputf("redirect_uri", "must not be empty")
		}
		owner := orgOwner(orgID)
		payload := struct {
			AddAuthRequestData
			ExpiresAt time.Time `json:"expires_at"`
		}{data, expiryOf(ctx, data.TTL)}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateAuthRequest, authRequestID, domain.EventAuthRequestAdded, owner, payload),
		}}, nil
	})
}

// expiryOf returns clockNow(ctx).Add(ttl), or the zero time (never
// expires) when ttl is zero.
func expiryOf(ctx context.Context, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return clockNow(ctx).Add(ttl)
}

// SelectUser records the user chosen to authenticate in this flow.
func (d *Dispatcher) SelectUser(ctx context.Context, cc domain.Context, authRequestID, userID string) (int64, error) {
	return dispatch(ctx, d, "select_user", domain.AggregateAuthRequest, authRequestID, func() (int64, *handlerResult, error) {
		wm := &authRequestState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateAuthRequest, authRequestID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.terminal {
			return version, nil, errAlreadyTerminal
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateAuthRequest, authRequestID, domain.EventAuthRequestUserSelected, orgOwner(wm.orgID), struct {
				UserID string `json:"user_id"`
			}{userID}),
		}}, nil
	})
}

// CheckPassword records a password-factor check outcome. Success requires
// a user to have already been selected.
func (d *Dispatcher) CheckPassword(ctx context.Context, cc domain.Context, authRequestID string, success bool) (int64, error) {
	return dispatch(ctx, d, "check_password", domain.AggregateAuthRequest, authRequestID, func() (int64, *handlerResult, error) {
		wm := &authRequestState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateAuthRequest, authRequestID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.terminal {
			return version, nil, errAlreadyTerminal
		}
		if success && wm.selectedUserID == "" {
			return version, nil, domain.Preconditionf("no user selected")
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateAuthRequest, authRequestID, domain.EventAuthRequestPasswordChecked, orgOwner(wm.orgID), struct {
				Success bool `json:"success"`
			}{success}),
		}}, nil
	})
}

// CheckTOTP records a TOTP-factor check outcome, analogous to
// CheckPassword.
func (d *Dispatcher) CheckTOTP(ctx context.Context, cc domain.Context, authRequestID string, success bool) (int64, error) {
	return dispatch(ctx, d, "check_totp", domain.AggregateAuthRequest, authRequestID, func() (int64, *handlerResult, error) {
		wm := &authRequestState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateAuthRequest, authRequestID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.terminal {
			return version, nil, errAlreadyTerminal
		}
		if success && wm.selectedUserID == "" {
			return version, nil, domain.Preconditionf("no user selected")
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateAuthRequest, authRequestID, domain.EventAuthRequestTOTPChecked, orgOwner(wm.orgID), struct {
				Success bool `json:"success"`
			}{success}),
		}}, nil
	})
}

// RequiredFactors describes which factor checks a login policy demands
// before an auth request may succeed.
type RequiredFactors struct {
	Password bool
	TOTP     bool
}

// SucceedAuthRequest transitions the flow to succeeded and mints the
// authorization code, provided a user is selected and every factor the
// policy requires has passed.
func (d *Dispatcher) SucceedAuthRequest(ctx context.Context, cc domain.Context, authRequestID string, policy RequiredFactors) (int64, error) {
	return dispatch(ctx, d, "succeed_auth_request", domain.AggregateAuthRequest, authRequestID, func() (int64, *handlerResult, error) {
		wm := &authRequestState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateAuthRequest, authRequestID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.terminal {
			return version, nil, errAlreadyTerminal
		}
		if wm.selectedUserID == "" {
			return version, nil, domain.Preconditionf("no user selected")
		}
		if policy.Password && !wm.passwordChecked {
			return version, nil, domain.Preconditionf("password factor not satisfied")
		}
		if policy.TOTP && !wm.totpChecked {
			return version, nil, domain.Preconditionf("totp factor not satisfied")
		}
		code := domain.NewOpaqueToken(32)
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateAuthRequest, authRequestID, domain.EventAuthRequestSucceeded, orgOwner(wm.orgID), struct {
				Code string `json:"code"`
			}{code}),
		}}, nil
	})
}

// FailAuthRequest transitions the flow to failed with the given reason
// (invalid_request, access_denied, consent_required, ...).
func (d *Dispatcher) FailAuthRequest(ctx context.Context, cc domain.Context, authRequestID, reason string) (int64, error) {
	return dispatch(ctx, d, "fail_auth_request", domain.AggregateAuthRequest, authRequestID, func() (int64, *handlerResult, error) {
		wm := &authRequestState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateAuthRequest, authRequestID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.terminal {
			return version, nil, errAlreadyTerminal
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateAuthRequest, authRequestID, domain.EventAuthRequestFailed, orgOwner(wm.orgID), struct {
				Reason string `json:"reason"`
			}{reason}),
		}}, nil
	})
}

// ExpireAuthRequest transitions a still-pending flow to expired once its
// TTL has elapsed. Called by the gc sweeper, not by request-handling
// code; a flow with no TTL set (expiresAt zero) never expires. Already-
// terminal or not-yet-expired requests are a no-op, not an error, so the
// sweeper can call it speculatively against every pending row it lists.
func (d *Dispatcher) ExpireAuthRequest(ctx context.Context, cc domain.Context, authRequestID string, now time.Time) (int64, error) {
	return dispatch(ctx, d, "expire_auth_request", domain.AggregateAuthRequest, authRequestID, func() (int64, *handlerResult, error) {
		wm := &authRequestState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateAuthRequest, authRequestID, wm)
		if err != nil {
			return 0, nil, err
		}
		if err := wm.checkExists(); err != nil {
			return version, nil, err
		}
		if wm.terminal || wm.expiresAt.IsZero() || now.Before(wm.expiresAt) {
			return version, nil, nil
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateAuthRequest, authRequestID, domain.EventAuthRequestExpired, orgOwner(wm.orgID), nil),
		}}, nil
	})
}

// VerifyPKCE validates a code_verifier presented at the token endpoint
// against the challenge recorded when the auth request was created. An
// auth request with no challenge on file always verifies, since PKCE was
// optional for that flow.
func VerifyPKCE(challenge, method, verifier string) bool {
	if challenge == "" {
		return true
	}
	switch method {
	case "", "plain":
		return verifier == challenge
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
	default:
		return false
	}
}
