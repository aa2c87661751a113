package wordpress

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

var log = logrus.WithField("pkg", "go-wordpress-api")

// Manager performs requests against WordPress.com and runs the login flows.
// It holds no session state; tokens and nonces are passed in explicitly by the caller.
type Manager struct {
	rc *resty.Client

	hostURL  string
	oauthURL string
	loginURL string

	clientID     string
	clientSecret string

	locale language.Tag

	metrics *metrics
}

func New(opts ...Option) *Manager {
	builder := newManagerBuilder()

	for _, opt := range opts {
		opt.config(builder)
	}

	return builder.build()
}

// NewRequestBuilder returns a builder rooted at the REST host, carrying the manager's locale.
func (m *Manager) NewRequestBuilder() RequestBuilder {
	return NewRequestBuilder(m.hostURL).Locale(m.locale)
}

func (m *Manager) Close() {
	m.rc.GetClient().CloseIdleConnections()
}

func (m *Manager) r(ctx context.Context) *resty.Request {
	return m.rc.R().SetContext(ctx)
}

// InsecureTransport returns a transport that skips TLS verification; it is meant for tests against a local server.
func InsecureTransport() *http.Transport {
	return &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
	}
}
