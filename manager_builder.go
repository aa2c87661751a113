package wordpress

import (
	"net/http"
	"net/http/cookiejar"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/language"
)

const (
	// DefaultHostURL is the default host of the WordPress.com REST and OAuth APIs.
	DefaultHostURL = "https://public-api.wordpress.com"

	// DefaultLoginHostURL is the default host of the wp-login.php endpoints used by social, SMS and WebAuthn logins.
	DefaultLoginHostURL = "https://wordpress.com"

	// DefaultAppVersion is the default user agent used to communicate with the API.
	// This should be changed (using the WithAppVersion option) for production use.
	DefaultAppVersion = "go-wordpress-api"
)

type managerBuilder struct {
	hostURL      string
	oauthURL     string
	loginURL     string
	appVersion   string
	transport    http.RoundTripper
	cookieJar    http.CookieJar
	logger       resty.Logger
	debug        bool
	locale       language.Tag
	clientID     string
	clientSecret string
	registerer   prometheus.Registerer
}

func newManagerBuilder() *managerBuilder {
	return &managerBuilder{
		hostURL:    DefaultHostURL,
		loginURL:   DefaultLoginHostURL,
		appVersion: DefaultAppVersion,
		transport:  http.DefaultTransport,
		cookieJar:  nil,
		logger:     nil,
		debug:      false,
		locale:     language.Und,
	}
}

func (builder *managerBuilder) build() *Manager {
	if builder.oauthURL == "" {
		builder.oauthURL = builder.hostURL
	}

	m := &Manager{
		rc: resty.New(),

		hostURL:  builder.hostURL,
		oauthURL: builder.oauthURL,
		loginURL: builder.loginURL,

		clientID:     builder.clientID,
		clientSecret: builder.clientSecret,

		locale: builder.locale,
	}

	// Set the API host.
	m.rc.SetBaseURL(builder.hostURL)

	// Set the transport; progress tracking wraps whatever transport is used.
	m.rc.SetTransport(&progressTransport{RoundTripper: builder.transport})

	// Set the cookie jar. The wp-login.php flows rely on cookies set by previous steps.
	if builder.cookieJar != nil {
		m.rc.SetCookieJar(builder.cookieJar)
	} else if jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err == nil {
		m.rc.SetCookieJar(jar)
	}

	// Set the logger.
	if builder.logger != nil {
		m.rc.SetLogger(builder.logger)
	} else {
		m.rc.SetLogger(log)
	}

	// Set the debug flag.
	m.rc.SetDebug(builder.debug)

	// Set app version in header, unless the request names its own user agent.
	m.rc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if req.Header.Get("User-Agent") == "" {
			req.SetHeader("User-Agent", builder.appVersion)
		}

		return nil
	})

	// Every call is a single attempt.
	m.rc.SetRetryCount(0)

	// Set up metrics.
	if builder.registerer != nil {
		m.metrics = newMetrics(builder.registerer)
	}

	return m
}
