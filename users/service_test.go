package users_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/internal/authtest"
	"github.com/jrsteele09/go-auth-client/notify"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, staleTime time.Duration) (*authtest.Backend, *users.Service) {
	t.Helper()
	backend := authtest.NewBackend(t)
	admin := backend.AddUser(t, "admin@example.com", "secret", "Admin", users.RoleAdmin)
	backend.AddUser(t, "user@example.com", "secret", "User", users.RoleUser)

	store := sessions.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), backend.TokensFor(t, admin.Email), nil))

	client := apiclient.New(backend.URL+"/api/v1", store,
		apiclient.WithNotifier(&notify.Recorder{}),
		apiclient.WithLogger(zerolog.Nop()),
	)
	return backend, users.NewService(client, staleTime, users.WithLogger(zerolog.Nop()))
}

func TestService_List(t *testing.T) {
	backend, svc := setup(t, time.Minute)
	ctx := context.Background()

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	// Served from cache while fresh.
	_, err = svc.List(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, backend.UsersCalls.Load())

	svc.Invalidate()
	_, err = svc.List(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, backend.UsersCalls.Load())
}

func TestService_ListGoesStale(t *testing.T) {
	backend, svc := setup(t, 50*time.Millisecond)
	ctx := context.Background()

	_, err := svc.List(ctx)
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)
	_, err = svc.List(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, backend.UsersCalls.Load())
}

func TestService_ListCopiesCachedSlice(t *testing.T) {
	_, svc := setup(t, time.Minute)
	ctx := context.Background()

	list, err := svc.List(ctx)
	require.NoError(t, err)
	list[0].Name = "changed"

	again, err := svc.List(ctx)
	require.NoError(t, err)
	require.NotEqual(t, "changed", again[0].Name)
}

func TestService_ListError(t *testing.T) {
	backend, svc := setup(t, time.Minute)
	backend.SetUsersStatus(http.StatusForbidden)

	_, err := svc.List(context.Background())
	var apiErr *apiclient.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.Status)

	// Failures are not cached.
	backend.SetUsersStatus(0)
	_, err = svc.List(context.Background())
	require.NoError(t, err)
}

func TestService_GetByID(t *testing.T) {
	_, svc := setup(t, time.Minute)
	ctx := context.Background()

	list, err := svc.List(ctx)
	require.NoError(t, err)

	u, err := svc.GetByID(ctx, list[1].ID)
	require.NoError(t, err)
	require.Equal(t, list[1].Email, u.Email)

	_, err = svc.GetByID(ctx, 999)
	require.ErrorIs(t, err, users.ErrUserNotFound)
}

const userListBody = `[
  {
    "id": 1,
    "name": "Leanne Graham",
    "username": "Bret",
    "email": "Sincere@april.biz",
    "address": {
      "street": "Kulas Light",
      "suite": "Apt. 556",
      "city": "Gwenborough",
      "zipcode": "92998-3874",
      "geo": {"lat": "-37.3159", "lng": "81.1496"}
    },
    "phone": "1-770-736-8031 x56442",
    "website": "hildegard.org",
    "company": {
      "name": "Romaguera-Crona",
      "catchPhrase": "Multi-layered client-server neural-net",
      "bs": "harness real-time e-markets"
    }
  },
  {"id": 2, "name": "Ervin Howell", "username": "Antonette", "email": "Shanna@melissa.tv"}
]`

func TestService_DecodesBackendUserList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1"+apiclient.RouteUsers, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userListBody))
	}))
	defer srv.Close()

	client := apiclient.New(srv.URL+"/api/v1", sessions.NewMemoryStore(),
		apiclient.WithNotifier(&notify.Recorder{}),
		apiclient.WithLogger(zerolog.Nop()),
	)
	svc := users.NewService(client, time.Minute, users.WithLogger(zerolog.Nop()))
	ctx := context.Background()

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	leanne := list[0]
	require.Equal(t, 1, leanne.ID)
	require.Equal(t, "Bret", leanne.Username)
	require.Equal(t, "Gwenborough", leanne.Address.City)
	require.Equal(t, users.Geo{Lat: "-37.3159", Lng: "81.1496"}, leanne.Address.Geo)
	require.Equal(t, "1-770-736-8031 x56442", leanne.Phone)
	require.Equal(t, "hildegard.org", leanne.Website)
	require.Equal(t, "Romaguera-Crona", leanne.Company.Name)
	require.Equal(t, "harness real-time e-markets", leanne.Company.BS)
	require.Empty(t, leanne.Roles)

	ervin, err := svc.GetByID(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "Ervin Howell", ervin.Name)
}

func TestUser_Roles(t *testing.T) {
	u := users.User{Roles: []string{users.RoleAdmin}}
	require.True(t, u.IsAdmin())
	require.True(t, u.HasRole(users.RoleAdmin))
	require.False(t, u.HasRole(users.RoleUser))
}
