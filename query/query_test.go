package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/projection"
	"github.com/authapp/iamcore/query"
)

func TestGetUser_NotFound(t *testing.T) {
	q := query.New(projection.NewMemoryStore())
	_, err := q.GetUser(context.Background(), "inst1", "missing")
	require.ErrorIs(t, err, query.NotFound)
}

func TestListUsersByOrg_PagesAndSorts(t *testing.T) {
	store := projection.NewMemoryStore()
	for _, id := range []string{"u3", "u1", "u2"} {
		require.NoError(t, store.UpsertUser(projection.UserRow{InstanceID: "inst1", OrgID: "org1", UserID: id, Sequence: 1}))
	}
	q := query.New(store)

	page := q.ListUsersByOrg(context.Background(), "inst1", "org1", query.Page{Limit: 2})
	require.Len(t, page, 2)
	require.Equal(t, "u1", page[0].UserID)
	require.Equal(t, "u2", page[1].UserID)

	rest := q.ListUsersByOrg(context.Background(), "inst1", "org1", query.Page{Limit: 2, Offset: 2})
	require.Len(t, rest, 1)
	require.Equal(t, "u3", rest[0].UserID)
}

func TestIntrospectToken(t *testing.T) {
	store := projection.NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.UpsertToken(projection.TokenRow{
		InstanceID: "inst1", TokenID: "tok1", ClientID: "client1", UserID: "user1",
		TokenType: string(domain.TokenAccess), Scope: []string{"openid"}, Audience: []string{"client1"},
		IssuedAt: now, ExpiresAt: now.Add(time.Hour), Sequence: 1,
	}))
	q := query.New(store)

	result := q.IntrospectToken(context.Background(), "inst1", "tok1", now, "https://issuer.example")
	require.True(t, result.Active)
	require.Equal(t, "client1", result.ClientID)
	require.Equal(t, "user1", result.Sub)
	require.Equal(t, "tok1", result.JTI)
	require.Equal(t, "https://issuer.example", result.Iss)
	require.Equal(t, []string{"client1"}, result.Aud)

	expired := q.IntrospectToken(context.Background(), "inst1", "tok1", now.Add(2*time.Hour), "https://issuer.example")
	require.False(t, expired.Active)

	missing := q.IntrospectToken(context.Background(), "inst1", "no-such-token", now, "https://issuer.example")
	require.False(t, missing.Active)
}

func TestListIDPsByOwner(t *testing.T) {
	store := projection.NewMemoryStore()
	require.NoError(t, store.UpsertIDP(projection.IDPRow{
		InstanceID: "inst1", OwnerType: string(domain.OwnerOrg), OwnerID: "org1",
		IDPID: "idp1", Kind: string(domain.IDPKindOIDC), Name: "Corp SSO", Sequence: 1,
	}))
	q := query.New(store)

	rows := q.ListIDPsByOwner(context.Background(), "inst1", domain.OwnerOrg, "org1")
	require.Len(t, rows, 1)
	require.Equal(t, "Corp SSO", rows[0].Name)
}
