package netctl_test

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wordpress-mobile/go-wordpress-api/internal/netctl"
)

func TestNetCtl_ReadLimit(t *testing.T) {
	// Create a test http server that writes 100 bytes.
	// Including the header, this is 217 bytes (100 bytes + 117 bytes).
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write(make([]byte, 100)); err != nil {
			t.Fatal(err)
		}
	}))
	defer ts.Close()

	ctl := netctl.New()

	client := &http.Client{
		Transport: netctl.NewDialer(ctl, &tls.Config{InsecureSkipVerify: true}).GetRoundTripper(),
	}

	// Set the read limit to 300 bytes -- the first request should succeed, the second should fail.
	ctl.SetReadLimit(300)

	// This should succeed.
	res, err := client.Get(ts.URL)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	// This should fail.
	_, err = client.Get(ts.URL) //nolint:bodyclose
	require.Error(t, err)
}

func TestNetCtl_WriteLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			t.Fatal(err)
		}
	}))
	defer ts.Close()

	ctl := netctl.New()

	client := &http.Client{
		Transport: netctl.NewDialer(ctl, &tls.Config{InsecureSkipVerify: true}).GetRoundTripper(),
	}

	// Set the write limit to 300 bytes -- the first request should succeed, the second should fail.
	ctl.SetWriteLimit(300)

	// This should succeed.
	res, err := client.Post(ts.URL, "application/octet-stream", bytes.NewReader(make([]byte, 100)))
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	// This should fail.
	_, err = client.Post(ts.URL, "application/octet-stream", bytes.NewReader(make([]byte, 100))) //nolint:bodyclose
	require.Error(t, err)
}

func TestNetCtl_CannotDial(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	ctl := netctl.New()

	client := &http.Client{
		Transport: netctl.NewDialer(ctl, nil).GetRoundTripper(),
	}

	ctl.Disable()

	// The failure looks like a refused dial.
	_, err := client.Get(ts.URL) //nolint:bodyclose
	require.ErrorIs(t, err, netctl.ErrDialDisabled)

	var opErr *net.OpError
	require.True(t, errors.As(err, &opErr))
	require.Equal(t, "dial", opErr.Op)

	ctl.Enable()

	// This should succeed.
	res, err := client.Get(ts.URL)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
}

func TestNetCtl_OnDial(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	ctl := netctl.New()

	var dials int

	ctl.OnDial(func(net.Conn) { dials++ })

	client := &http.Client{
		Transport: netctl.NewDialer(ctl, nil).GetRoundTripper(),
	}

	res, err := client.Get(ts.URL)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	require.Equal(t, 1, dials)
}
