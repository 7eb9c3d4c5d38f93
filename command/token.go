package command

import (
	"context"
	"time"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/eventstore"
)

type tokenState struct {
	exists    bool
	revoked   bool
	clientID  string
	userID    string
	tokenType domain.TokenType
	scope     []string
	issuedAt  time.Time
	expiresAt time.Time
	audience  []string
	dpopJKT   string
}

func (m *tokenState) reduce(e eventstore.Event) {
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
			DPoPJKT   string           `json:"dpop_jkt"`
		}
		decodePayload(e, &p)
		m.exists = true
		m.clientID = p.ClientID
		m.userID = p.UserID
		m.tokenType = p.TokenType
		m.scope = p.Scope
		m.issuedAt = p.IssuedAt
		m.expiresAt = p.ExpiresAt
		m.audience = p.Audience
		m.dpopJKT = p.DPoPJKT
	case domain.EventTokenRevoked:
		m.revoked = true
	}
}

// IssueTokenData is the command payload for IssueToken.
type IssueTokenData struct {
	ClientID  string
	UserID    string
	TokenType domain.TokenType
	Scope     []string
	TTL       time.Duration
	Audience  []string
	DPoPJKT   string
}

// IssueToken creates a new oauth_token aggregate representing an access
// or refresh token.
func (d *Dispatcher) IssueToken(ctx context.Context, cc domain.Context, tokenID string, data IssueTokenData) (int64, error) {
	return dispatch(ctx, d, "issue_token", domain.AggregateOAuthToken, tokenID, func() (int64, *handlerResult, error) {
		wm := &tokenState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateOAuthToken, tokenID, wm)
		if err != nil {
			return 0, nil, err
		}
		if wm.exists {
			return version, nil, domain.Preconditionf("token already exists")
		}
		if data.ClientID == "" {
			return version, nil, domain.InvalidInputf("client_id", "must not be empty")
		}
		now := clockNow(ctx)
		payload := struct {
			ClientID  string           `json:"client_id"`
			UserID    string           `json:"user_id"`
			TokenType domain.TokenType `json:"token_type"`
			Scope     []string         `json:"scope"`
			IssuedAt  time.Time        `json:"issued_at"`
			ExpiresAt time.Time        `json:"expires_at"`
			Audience  []string         `json:"audience"`
			DPoPJKT   string           `json:"dpop_jkt"`
		}{
			ClientID: data.ClientID, UserID: data.UserID, TokenType: data.TokenType,
			Scope: data.Scope, IssuedAt: now, ExpiresAt: now.Add(data.TTL),
			Audience: data.Audience, DPoPJKT: data.DPoPJKT,
		}
		owner := domain.ResourceOwner{Type: domain.OwnerInstance, ID: cc.InstanceID}
		if cc.OrgID != "" {
			owner = orgOwner(cc.OrgID)
		}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateOAuthToken, tokenID, domain.EventTokenIssued, owner, payload),
		}}, nil
	})
}

// RevokeToken revokes an issued token. Revoking an already-revoked token
// fails Precondition, deliberately not idempotent so double-revocation
// attempts remain observable.
func (d *Dispatcher) RevokeToken(ctx context.Context, cc domain.Context, tokenID string) (int64, error) {
	return dispatch(ctx, d, "revoke_token", domain.AggregateOAuthToken, tokenID, func() (int64, *handlerResult, error) {
		wm := &tokenState{}
		version, err := loadWriteModel(ctx, d.store, cc.InstanceID, domain.AggregateOAuthToken, tokenID, wm)
		if err != nil {
			return 0, nil, err
		}
		if !wm.exists {
			return version, nil, errNotFound(domain.AggregateOAuthToken, tokenID)
		}
		if wm.revoked {
			return version, nil, domain.Preconditionf("token already revoked")
		}
		owner := domain.ResourceOwner{Type: domain.OwnerInstance, ID: cc.InstanceID}
		return version, &handlerResult{events: []eventstore.PendingEvent{
			newEvent(cc, domain.AggregateOAuthToken, tokenID, domain.EventTokenRevoked, owner, nil),
		}}, nil
	})
}

// IntrospectTokenState reports RFC 7662-shaped introspection state built
// purely from the write model; it is provided here for callers that
// introspect directly off the event log rather than a projection table.
// tokenID and issuer are stamped into JTI/Iss since the write model itself
// only carries the aggregate's own state, not its ID or the instance's
// configured issuer URL.
func IntrospectTokenState(wm *tokenState, now time.Time, tokenID, issuer string) domain.IntrospectionResult {
	active := wm.exists && !wm.revoked && now.Before(wm.expiresAt)
	if !active {
		return domain.IntrospectionResult{Active: false}
	}
	return domain.IntrospectionResult{
		Active: true, Scope: wm.scope, ClientID: wm.clientID, UserID: wm.userID,
		TokenType: wm.tokenType, Exp: wm.expiresAt.Unix(), Iat: wm.issuedAt.Unix(),
		Sub: wm.userID, Aud: wm.audience, Iss: issuer, JTI: tokenID,
	}
}

func clockNow(ctx context.Context) time.Time {
	return time.Now()
}
