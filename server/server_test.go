package server_test

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	wordpress "github.com/wordpress-mobile/go-wordpress-api"
	"github.com/wordpress-mobile/go-wordpress-api/server"
)

func newManager(t *testing.T, s *server.Server) *wordpress.Manager {
	t.Helper()

	m := wordpress.New(
		wordpress.WithHostURL(s.GetHostURL()),
		wordpress.WithLoginHostURL(s.GetHostURL()),
		wordpress.WithTransport(wordpress.InsecureTransport()),
	)
	t.Cleanup(m.Close)

	return m
}

func TestServer_CallWatcher(t *testing.T) {
	s := server.New()
	defer s.Close()

	m := newManager(t, s)

	_, err := s.CreateUser("user", "user@example.com", "pass")
	require.NoError(t, err)

	var (
		calls []server.Call
		lock  sync.Mutex
	)

	s.AddCallWatcher(func(call server.Call) {
		lock.Lock()
		defer lock.Unlock()

		calls = append(calls, call)
	}, "/oauth2/")

	_, err = m.Authenticate(context.Background(), "user", "pass", "").Get()
	require.NoError(t, err)

	_, err = m.Do(context.Background(), mustBuild(t, m.NewRequestBuilder().Path("/tests/ping")))
	require.NoError(t, err)

	lock.Lock()
	defer lock.Unlock()

	// Only the token call is watched.
	require.Len(t, calls, 1)
	require.Equal(t, http.MethodPost, calls[0].Method)
	require.Equal(t, http.StatusOK, calls[0].Status)
	require.Contains(t, string(calls[0].RequestBody), "grant_type=password")
	require.Contains(t, string(calls[0].ResponseBody), "access_token")
}

func TestServer_WithoutTLS(t *testing.T) {
	s := server.New(server.WithTLS(false))
	defer s.Close()

	require.Contains(t, s.GetHostURL(), "http://")

	m := wordpress.New(wordpress.WithHostURL(s.GetHostURL()))
	defer m.Close()

	_, err := m.Do(context.Background(), mustBuild(t, m.NewRequestBuilder().Path("/tests/ping")))
	require.NoError(t, err)
}

func TestServer_RemoveUser(t *testing.T) {
	s := server.New()
	defer s.Close()

	m := newManager(t, s)

	userID, err := s.CreateUser("user", "user@example.com", "pass")
	require.NoError(t, err)

	auth, err := m.Authenticate(context.Background(), "user", "pass", "").Get()
	require.NoError(t, err)

	c := m.NewClient(auth.TokenSource())
	defer c.Close()

	require.NoError(t, s.RemoveUser(userID))
	require.Error(t, s.RemoveUser(userID))

	// The user's tokens are gone with it.
	_, err = c.GetMe(context.Background())
	require.Error(t, err)

	_, err = m.Authenticate(context.Background(), "user", "pass", "").Get()
	require.Error(t, err)
}

func TestServer_DuplicateUser(t *testing.T) {
	s := server.New()
	defer s.Close()

	_, err := s.CreateUser("user", "user@example.com", "pass")
	require.NoError(t, err)

	_, err = s.CreateUser("user", "other@example.com", "pass")
	require.Error(t, err)

	_, err = s.CreateUser("other", "user@example.com", "pass")
	require.Error(t, err)
}

func TestServer_UnsupportedGrantType(t *testing.T) {
	s := server.New()
	defer s.Close()

	m := newManager(t, s)

	req := mustBuild(t, wordpress.NewRequestBuilder(s.GetHostURL()).
		Method(http.MethodPost).
		Path("/oauth2/token").
		FormBody(map[string]string{"grant_type": "authorization_code"}))

	res := wordpress.Perform[struct{}](context.Background(), m, req)
	require.Equal(t, http.StatusBadRequest, res.Err().Response().StatusCode)

	failure, err := wordpress.DecodeAuthenticationFailure(res.Err().Response().Body)
	require.NoError(t, err)
	require.Equal(t, wordpress.FailureUnsupportedGrantType, failure.Kind)
}

func TestServer_UnknownLoginAction(t *testing.T) {
	s := server.New()
	defer s.Close()

	m := newManager(t, s)

	req := mustBuild(t, wordpress.NewRequestBuilder(s.GetHostURL()).
		Method(http.MethodPost).
		Path("/wp-login.php").
		Query("action", "nothing").
		FormBody(map[string]string{}))

	res := wordpress.Perform[struct{}](context.Background(), m, req)
	require.Equal(t, http.StatusNotFound, res.Err().Response().StatusCode)
	require.Contains(t, res.Err().Response().Header.Get("Content-Type"), "text/html")
}

func mustBuild(t *testing.T, b wordpress.RequestBuilder) *wordpress.Request {
	t.Helper()

	req, err := b.Build()
	require.NoError(t, err)

	return req
}
