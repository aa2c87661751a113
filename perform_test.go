package wordpress_test

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wordpress "github.com/wordpress-mobile/go-wordpress-api"
	"github.com/wordpress-mobile/go-wordpress-api/internal/netctl"
	"github.com/wordpress-mobile/go-wordpress-api/server"
	"golang.org/x/text/language"
)

func TestPerform_StatusCodes(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	body := []byte(`{"hello":"world"}`)

	for _, code := range []int{200, 201, 299, 400, 404, 418, 500, 503} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			req := mustBuild(t, m.NewRequestBuilder().
				Method(http.MethodPost).
				Path("/tests/status/"+strconv.Itoa(code)).
				RawJSONBody(body))

			res := wordpress.Perform[struct{}](context.Background(), m, req)

			if code < 300 {
				require.True(t, res.IsSuccess())
				require.Equal(t, code, res.Value().StatusCode)
				require.Equal(t, body, res.Value().Body)

				return
			}

			require.Equal(t, wordpress.ErrorKindUnacceptableStatusCode, res.Err().Kind())
			require.Equal(t, code, res.Err().Response().StatusCode)
			require.Equal(t, body, res.Err().Response().Body)
		})
	}
}

func TestPerform_AcceptableStatusCodes(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	req := mustBuild(t, m.NewRequestBuilder().Path("/tests/status/404"))

	res := wordpress.Perform[struct{}](context.Background(), m, req, wordpress.WithAcceptableStatusCodes(wordpress.StatusRange{Min: 200, Max: 299}, wordpress.StatusRange{Min: 404, Max: 404}))
	require.True(t, res.IsSuccess())

	res = wordpress.Perform[struct{}](context.Background(), m, req, wordpress.WithAcceptableStatusCodes(wordpress.StatusRange{Min: 201, Max: 201}))
	require.Equal(t, wordpress.ErrorKindUnacceptableStatusCode, res.Err().Kind())
}

func TestPerform_Headers(t *testing.T) {
	s := newTestServer(t)

	m := newTestManager(t, s,
		wordpress.WithAppVersion("wordpress-test/1.2.3"),
		wordpress.WithLocale(language.French),
	)

	var calls []server.Call

	s.AddCallWatcher(func(call server.Call) {
		calls = append(calls, call)
	}, "/tests/ping")

	_, err := m.Do(context.Background(), mustBuild(t, m.NewRequestBuilder().Path("/tests/ping").Header("X-Custom", "yes")))
	require.NoError(t, err)

	require.Len(t, calls, 1)
	require.Equal(t, "wordpress-test/1.2.3", calls[0].RequestHeader.Get("User-Agent"))
	require.Equal(t, "yes", calls[0].RequestHeader.Get("X-Custom"))
	require.Equal(t, "fr", calls[0].URL.Query().Get("locale"))

	// A user agent set on the request is kept.
	_, err = m.Do(context.Background(), mustBuild(t, m.NewRequestBuilder().Path("/tests/ping").Header("User-Agent", "custom/1.0")))
	require.NoError(t, err)

	require.Len(t, calls, 2)
	require.Equal(t, "custom/1.0", calls[1].RequestHeader.Get("User-Agent"))
}

func TestPerform_MinAppVersion(t *testing.T) {
	s := newTestServer(t)
	s.SetMinAppVersion(semver.MustParse("2.0.0"))

	req := func(m *wordpress.Manager) *wordpress.Request {
		return mustBuild(t, m.NewRequestBuilder().Path("/tests/ping"))
	}

	old := newTestManager(t, s, wordpress.WithAppVersion("wordpress-test/1.9.0"))

	_, err := old.Do(context.Background(), req(old))

	restErr, ok := asAPIError[wordpress.RESTError](t, err).Endpoint()
	require.True(t, ok)
	require.Equal(t, "upgrade_required", restErr.Code)
	require.Equal(t, http.StatusBadRequest, restErr.Status)

	current := newTestManager(t, s, wordpress.WithAppVersion("wordpress-test/2.0.1"))

	_, err = current.Do(context.Background(), req(current))
	require.NoError(t, err)
}

func TestPerform_Offline(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	s.SetOffline(true)

	// The empty 503 body is not a REST error.
	_, err := m.Do(context.Background(), mustBuild(t, m.NewRequestBuilder().Path("/tests/ping")))

	apiErr := asAPIError[wordpress.RESTError](t, err)
	require.Equal(t, wordpress.ErrorKindUnparsableResponse, apiErr.Kind())
	require.Equal(t, http.StatusServiceUnavailable, apiErr.Response().StatusCode)

	s.SetOffline(false)

	_, err = m.Do(context.Background(), mustBuild(t, m.NewRequestBuilder().Path("/tests/ping")))
	require.NoError(t, err)
}

func TestPerform_RateLimit(t *testing.T) {
	s := newTestServer(t, server.WithRateLimit(1, time.Minute))
	m := newTestManager(t, s)

	req := mustBuild(t, m.NewRequestBuilder().Path("/tests/ping"))

	require.True(t, wordpress.Perform[struct{}](context.Background(), m, req).IsSuccess())

	// Calls are never retried; the 429 is reported as is.
	res := wordpress.Perform[struct{}](context.Background(), m, req)
	require.Equal(t, wordpress.ErrorKindUnacceptableStatusCode, res.Err().Kind())
	require.Equal(t, http.StatusTooManyRequests, res.Err().Response().StatusCode)
	require.NotEmpty(t, res.Err().Response().Header.Get("Retry-After"))
}

func TestPerform_CannotConnect(t *testing.T) {
	s := newTestServer(t)

	ctl := netctl.New()

	m := newTestManager(t, s, wordpress.WithTransport(netctl.NewDialer(ctl, &tls.Config{InsecureSkipVerify: true}).GetRoundTripper())) //nolint:gosec

	req := mustBuild(t, m.NewRequestBuilder().Path("/tests/ping"))

	require.True(t, wordpress.Perform[struct{}](context.Background(), m, req).IsSuccess())

	ctl.Disable()

	// Drop the pooled connection so the next call has to dial.
	m.Close()

	res := wordpress.Perform[struct{}](context.Background(), m, req)
	require.Equal(t, wordpress.ErrorKindConnection, res.Err().Kind())
	require.Equal(t, wordpress.ConnectionCannotConnect, res.Err().ConnectionCode())

	ctl.Enable()

	require.True(t, wordpress.Perform[struct{}](context.Background(), m, req).IsSuccess())
}

func TestPerform_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	m := wordpress.New(wordpress.WithHostURL(url))
	defer m.Close()

	res := wordpress.Perform[struct{}](context.Background(), m, mustBuild(t, m.NewRequestBuilder().Path("/me")))
	require.Equal(t, wordpress.ErrorKindConnection, res.Err().Kind())
	require.Equal(t, wordpress.ConnectionCannotConnect, res.Err().ConnectionCode())
}

// newLargeBodyServer serves a 1 MiB body. The first KiB is flushed at once; the rest waits for proceed.
func newLargeBodyServer(t *testing.T, proceed <-chan struct{}) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(1<<20))
		w.WriteHeader(http.StatusOK)

		_, _ = w.Write(make([]byte, 1<<10))
		w.(http.Flusher).Flush()

		select {
		case <-proceed:
			_, _ = w.Write(make([]byte, 1<<20-1<<10))

		case <-r.Context().Done():
		}
	}))
	t.Cleanup(ts.Close)

	return ts
}

func TestPerform_ConnectionLost(t *testing.T) {
	ctl := netctl.New()

	proceed := make(chan struct{})

	var once sync.Once

	// Cut reads as soon as the first bytes of the response arrive.
	ctl.OnRead(func([]byte) {
		once.Do(func() {
			ctl.SetCanRead(false)
			close(proceed)
		})
	})

	ts := newLargeBodyServer(t, proceed)

	m := wordpress.New(wordpress.WithHostURL(ts.URL), wordpress.WithTransport(netctl.NewDialer(ctl, nil).GetRoundTripper()))
	defer m.Close()

	res := wordpress.Perform[struct{}](context.Background(), m, mustBuild(t, m.NewRequestBuilder().Path("/large")))
	require.Equal(t, wordpress.ErrorKindConnection, res.Err().Kind())
	require.Equal(t, wordpress.ConnectionLost, res.Err().ConnectionCode())
	require.ErrorIs(t, res.Err(), netctl.ErrReadDisabled)
}

func TestPerform_ReadLimit(t *testing.T) {
	ctl := netctl.New()
	ctl.SetReadLimit(64 << 10)

	proceed := make(chan struct{})
	close(proceed)

	ts := newLargeBodyServer(t, proceed)

	m := wordpress.New(wordpress.WithHostURL(ts.URL), wordpress.WithTransport(netctl.NewDialer(ctl, nil).GetRoundTripper()))
	defer m.Close()

	progress := wordpress.NewProgress(100)

	res := wordpress.Perform[struct{}](context.Background(), m, mustBuild(t, m.NewRequestBuilder().Path("/large")), wordpress.WithProgress(progress))
	require.Equal(t, wordpress.ErrorKindConnection, res.Err().Kind())
	require.Equal(t, wordpress.ConnectionLost, res.Err().ConnectionCode())
	require.ErrorIs(t, res.Err(), netctl.ErrReadLimit)

	// The body stopped part way, so the progress never completed.
	require.Less(t, progress.CompletedUnits(), int64(100))
}

func TestPerform_Timeout(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res := wordpress.Perform[struct{}](ctx, m, mustBuild(t, m.NewRequestBuilder().Path("/tests/hang")))
	require.Equal(t, wordpress.ErrorKindConnection, res.Err().Kind())
	require.Equal(t, wordpress.ConnectionTimedOut, res.Err().ConnectionCode())
}

func TestPerform_ProgressCancel(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	progress := wordpress.NewProgress(100)

	time.AfterFunc(100*time.Millisecond, progress.Cancel)

	res := wordpress.Perform[struct{}](context.Background(), m, mustBuild(t, m.NewRequestBuilder().Path("/tests/hang")), wordpress.WithProgress(progress))
	require.Equal(t, wordpress.ErrorKindConnection, res.Err().Kind())
	require.Equal(t, wordpress.ConnectionCancelled, res.Err().ConnectionCode())
	require.True(t, progress.IsCancelled())
}

func TestPerform_ProgressCancelledBeforeStart(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	progress := wordpress.NewProgress(100)
	progress.Cancel()

	res := wordpress.Perform[struct{}](context.Background(), m, mustBuild(t, m.NewRequestBuilder().Path("/tests/ping")), wordpress.WithProgress(progress))
	require.Equal(t, wordpress.ConnectionCancelled, res.Err().ConnectionCode())
}

func TestPerform_ProgressInUse(t *testing.T) {
	arrived := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-r.Context().Done()
	}))
	defer ts.Close()

	m := wordpress.New(wordpress.WithHostURL(ts.URL))
	defer m.Close()

	req := mustBuild(t, m.NewRequestBuilder().Path("/slow"))

	progress := wordpress.NewProgress(100)

	var (
		wg    sync.WaitGroup
		first wordpress.Result[*wordpress.Response, struct{}]
	)

	wg.Add(1)

	go func() {
		defer wg.Done()
		first = wordpress.Perform[struct{}](context.Background(), m, req, wordpress.WithProgress(progress))
	}()

	<-arrived

	second := wordpress.Perform[struct{}](context.Background(), m, req, wordpress.WithProgress(progress))
	require.Equal(t, wordpress.ErrorKindRequestEncoding, second.Err().Kind())
	require.ErrorIs(t, second.Err(), wordpress.ErrProgressInUse)

	progress.Cancel()
	wg.Wait()

	require.Equal(t, wordpress.ConnectionCancelled, first.Err().ConnectionCode())
}

func TestPerform_InvalidProgress(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	res := wordpress.Perform[struct{}](context.Background(), m, mustBuild(t, m.NewRequestBuilder().Path("/tests/ping")), wordpress.WithProgress(wordpress.NewProgress(0)))
	require.Equal(t, wordpress.ErrorKindRequestEncoding, res.Err().Kind())
	require.ErrorIs(t, res.Err(), wordpress.ErrInvalidProgress)
}

func TestPerform_UploadProgress(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	body := `{"data":"` + strings.Repeat("x", 256*1024) + `"}`

	progress := wordpress.NewProgress(1000)

	var (
		updates []int64
		lock    sync.Mutex
	)

	progress.OnChange(func(completed, total int64) {
		lock.Lock()
		defer lock.Unlock()

		assert.Equal(t, int64(1000), total)
		updates = append(updates, completed)
	})

	req := mustBuild(t, m.NewRequestBuilder().Method(http.MethodPost).Path("/tests/echo").RawJSONBody([]byte(body)))

	res := wordpress.Perform[struct{}](context.Background(), m, req, wordpress.WithProgress(progress))
	require.True(t, res.IsSuccess())
	require.Equal(t, body, string(res.Value().Body))

	lock.Lock()
	defer lock.Unlock()

	require.NotEmpty(t, updates)
	require.Equal(t, int64(1000), updates[len(updates)-1])
	require.IsIncreasing(t, updates)
	require.Equal(t, 1.0, progress.Fraction())
}

func TestPerform_Metrics(t *testing.T) {
	s := newTestServer(t)

	reg := prometheus.NewRegistry()

	m := newTestManager(t, s, wordpress.WithMetrics(reg))

	require.True(t, wordpress.Perform[struct{}](context.Background(), m, mustBuild(t, m.NewRequestBuilder().Path("/tests/ping"))).IsSuccess())
	require.False(t, wordpress.Perform[struct{}](context.Background(), m, mustBuild(t, m.NewRequestBuilder().Path("/tests/status/404"))).IsSuccess())

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP wordpress_api_requests_total Requests performed, by method and outcome
# TYPE wordpress_api_requests_total counter
wordpress_api_requests_total{method="GET",outcome="success"} 1
wordpress_api_requests_total{method="GET",outcome="unacceptable_status_code"} 1
`), "wordpress_api_requests_total"))

	count, err := testutil.GatherAndCount(reg, "wordpress_api_request_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
