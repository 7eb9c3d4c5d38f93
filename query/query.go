// Package query implements the read-only query layer: thin lookups and
// searches over the projection package's read tables, with typed
// predicates and {limit, offset} paging. It holds no business logic of
// its own — every answer is already materialized by a projection.Table
// reducer.
package query

import (
	"context"
	"sort"
	"time"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/projection"
)

// Page bounds a list query's result window via {limit, offset} paging.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) withDefaults() Page {
	if p.Limit <= 0 || p.Limit > 1000 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Queries answers read-model lookups against one projection.Store. It is
// safe for concurrent use to the same extent the underlying Store is.
type Queries struct {
	store projection.Store
}

// New constructs a Queries over store.
func New(store projection.Store) *Queries {
	return &Queries{store: store}
}

// NotFound is returned when a Get* lookup misses, letting callers use
// errors.Is(err, query.NotFound) without importing the domain package.
var NotFound = domain.ErrNotFound

// GetUser returns one user by ID.
func (q *Queries) GetUser(_ context.Context, instanceID, userID string) (projection.UserRow, error) {
	row, ok := q.store.GetUser(instanceID, userID)
	if !ok {
		return projection.UserRow{}, domain.ErrNotFound
	}
	return row, nil
}

// ListUsersByOrg returns an org's users, sorted by user ID, paged.
func (q *Queries) ListUsersByOrg(_ context.Context, instanceID, orgID string, page Page) []projection.UserRow {
	page = page.withDefaults()
	rows := q.store.ListUsersByOrg(instanceID, orgID)
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return paginate(rows, page)
}

// GetOrg returns one org by ID.
func (q *Queries) GetOrg(_ context.Context, instanceID, orgID string) (projection.OrgRow, error) {
	row, ok := q.store.GetOrg(instanceID, orgID)
	if !ok {
		return projection.OrgRow{}, domain.ErrNotFound
	}
	return row, nil
}

// ListDomainsByOrg returns every domain an org has added, sorted by name.
func (q *Queries) ListDomainsByOrg(_ context.Context, instanceID, orgID string) []projection.DomainRow {
	rows := q.store.ListDomainsByOrg(instanceID, orgID)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Domain < rows[j].Domain })
	return rows
}

// ListMembersByOrg returns an org's memberships, paged.
func (q *Queries) ListMembersByOrg(_ context.Context, instanceID, orgID string, page Page) []projection.MemberRow {
	page = page.withDefaults()
	rows := q.store.ListMembersByOrg(instanceID, orgID)
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return paginate(rows, page)
}

// GetProject returns one project by ID.
func (q *Queries) GetProject(_ context.Context, instanceID, projectID string) (projection.ProjectRow, error) {
	row, ok := q.store.GetProject(instanceID, projectID)
	if !ok {
		return projection.ProjectRow{}, domain.ErrNotFound
	}
	return row, nil
}

// GetApplication returns one application by ID.
func (q *Queries) GetApplication(_ context.Context, instanceID, appID string) (projection.ApplicationRow, error) {
	row, ok := q.store.GetApplication(instanceID, appID)
	if !ok {
		return projection.ApplicationRow{}, domain.ErrNotFound
	}
	return row, nil
}

// GetIDP returns one identity provider by ID, instance- or org-scoped.
func (q *Queries) GetIDP(_ context.Context, instanceID, idpID string) (projection.IDPRow, error) {
	row, ok := q.store.GetIDP(instanceID, idpID)
	if !ok {
		return projection.IDPRow{}, domain.ErrNotFound
	}
	return row, nil
}

// ListIDPsByOwner returns the identity providers registered for one owner
// (an org, or the instance itself).
func (q *Queries) ListIDPsByOwner(_ context.Context, instanceID string, ownerType domain.OwnerType, ownerID string) []projection.IDPRow {
	rows := q.store.ListIDPsByOwner(instanceID, string(ownerType), ownerID)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

// GetAuthRequest returns one auth request by ID, for the authorize-flow
// continuation endpoints.
func (q *Queries) GetAuthRequest(_ context.Context, instanceID, authRequestID string) (projection.AuthRequestRow, error) {
	row, ok := q.store.GetAuthRequest(instanceID, authRequestID)
	if !ok {
		return projection.AuthRequestRow{}, domain.ErrNotFound
	}
	return row, nil
}

// GetAuthRequestByCode resolves the authorization code minted by
// EventAuthRequestSucceeded, for the token endpoint's authorization_code
// grant.
func (q *Queries) GetAuthRequestByCode(_ context.Context, instanceID, code string) (projection.AuthRequestRow, error) {
	row, ok := q.store.GetAuthRequestByCode(instanceID, code)
	if !ok {
		return projection.AuthRequestRow{}, domain.ErrNotFound
	}
	return row, nil
}

// ListPendingAuthRequests returns every auth request not yet succeeded,
// failed, or expired, for the gc sweeper to check against expiry.
func (q *Queries) ListPendingAuthRequests(_ context.Context, instanceID string) []projection.AuthRequestRow {
	return q.store.ListPendingAuthRequests(instanceID)
}

// GetDeviceAuth returns one device authorization by ID.
func (q *Queries) GetDeviceAuth(_ context.Context, instanceID, deviceAuthID string) (projection.DeviceAuthRow, error) {
	row, ok := q.store.GetDeviceAuth(instanceID, deviceAuthID)
	if !ok {
		return projection.DeviceAuthRow{}, domain.ErrNotFound
	}
	return row, nil
}

// GetDeviceAuthByUserCode resolves the short user_code RFC 8628's
// verification page asks the user to type in.
func (q *Queries) GetDeviceAuthByUserCode(_ context.Context, instanceID, userCode string) (projection.DeviceAuthRow, error) {
	row, ok := q.store.GetDeviceAuthByUserCode(instanceID, userCode)
	if !ok {
		return projection.DeviceAuthRow{}, domain.ErrNotFound
	}
	return row, nil
}

// ListPendingDeviceAuths returns every device authorization still
// pending, for the gc sweeper to check against expiry.
func (q *Queries) ListPendingDeviceAuths(_ context.Context, instanceID string) []projection.DeviceAuthRow {
	return q.store.ListPendingDeviceAuths(instanceID)
}

// IntrospectToken returns the RFC 7662-shaped introspection result for a
// token, active iff it exists, is unrevoked, and has not expired as of
// now. issuer is stamped into Iss as-is; it is the caller's configured
// issuer URL, not something the read model tracks per token.
func (q *Queries) IntrospectToken(_ context.Context, instanceID, tokenID string, now time.Time, issuer string) domain.IntrospectionResult {
	row, ok := q.store.GetToken(instanceID, tokenID)
	if !ok || row.Revoked || !now.Before(row.ExpiresAt) {
		return domain.IntrospectionResult{Active: false}
	}
	return domain.IntrospectionResult{
		Active: true, Scope: row.Scope, ClientID: row.ClientID, UserID: row.UserID,
		TokenType: domain.TokenType(row.TokenType), Exp: row.ExpiresAt.Unix(), Iat: row.IssuedAt.Unix(),
		Sub: row.UserID, Aud: row.Audience, Iss: issuer, JTI: tokenID,
	}
}

// ListInstances returns every provisioned instance, for administrative
// tooling and the projection runtime's instance discovery.
func (q *Queries) ListInstances(_ context.Context) []projection.InstanceRow {
	rows := q.store.ListInstances()
	sort.Slice(rows, func(i, j int) bool { return rows[i].InstanceID < rows[j].InstanceID })
	return rows
}

func paginate[T any](rows []T, page Page) []T {
	if page.Offset >= len(rows) {
		return nil
	}
	end := page.Offset + page.Limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[page.Offset:end]
}
