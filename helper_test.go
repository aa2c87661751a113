package wordpress_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	wordpress "github.com/wordpress-mobile/go-wordpress-api"
	"github.com/wordpress-mobile/go-wordpress-api/server"
)

func newTestServer(t *testing.T, opts ...server.Option) *server.Server {
	t.Helper()

	s := server.New(opts...)
	t.Cleanup(s.Close)

	return s
}

// newTestManager returns a manager talking to the fake server for every API family.
func newTestManager(t *testing.T, s *server.Server, opts ...wordpress.Option) *wordpress.Manager {
	t.Helper()

	m := wordpress.New(append([]wordpress.Option{
		wordpress.WithHostURL(s.GetHostURL()),
		wordpress.WithLoginHostURL(s.GetHostURL()),
		wordpress.WithTransport(wordpress.InsecureTransport()),
	}, opts...)...)
	t.Cleanup(m.Close)

	return m
}

func mustBuild(t *testing.T, b wordpress.RequestBuilder) *wordpress.Request {
	t.Helper()

	req, err := b.Build()
	require.NoError(t, err)

	return req
}

// asAPIError extracts the typed API error from err.
func asAPIError[E any](t *testing.T, err error) *wordpress.APIError[E] {
	t.Helper()

	apiErr := new(wordpress.APIError[E])
	require.True(t, errors.As(err, &apiErr), "expected an API error, got %T: %v", err, err)

	return apiErr
}

// requireEndpointError checks that res failed with an endpoint error and returns it.
func requireEndpointError[T, E any](t *testing.T, res wordpress.Result[T, E]) E {
	t.Helper()

	require.False(t, res.IsSuccess())
	require.Equal(t, wordpress.ErrorKindEndpoint, res.Err().Kind(), res.Err().Error())

	endpoint, ok := res.Err().Endpoint()
	require.True(t, ok)

	return endpoint
}
