package wordpress

import (
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/language"
)

// Option represents a type that can be used to configure the manager.
type Option interface {
	config(*managerBuilder)
}

// WithHostURL sets the host of the REST and OAuth APIs.
func WithHostURL(hostURL string) Option {
	return &withHostURL{
		hostURL: hostURL,
	}
}

type withHostURL struct {
	hostURL string
}

func (opt withHostURL) config(builder *managerBuilder) {
	builder.hostURL = opt.hostURL
}

// WithOAuthHostURL sets the host serving /oauth2/token. It defaults to the REST host.
func WithOAuthHostURL(oauthURL string) Option {
	return &withOAuthHostURL{
		oauthURL: oauthURL,
	}
}

type withOAuthHostURL struct {
	oauthURL string
}

func (opt withOAuthHostURL) config(builder *managerBuilder) {
	builder.oauthURL = opt.oauthURL
}

// WithLoginHostURL sets the host serving wp-login.php.
func WithLoginHostURL(loginURL string) Option {
	return &withLoginHostURL{
		loginURL: loginURL,
	}
}

type withLoginHostURL struct {
	loginURL string
}

func (opt withLoginHostURL) config(builder *managerBuilder) {
	builder.loginURL = opt.loginURL
}

func WithAppVersion(appVersion string) Option {
	return &withAppVersion{
		appVersion: appVersion,
	}
}

type withAppVersion struct {
	appVersion string
}

func (opt withAppVersion) config(builder *managerBuilder) {
	builder.appVersion = opt.appVersion
}

func WithTransport(transport http.RoundTripper) Option {
	return &withTransport{
		transport: transport,
	}
}

type withTransport struct {
	transport http.RoundTripper
}

func (opt withTransport) config(builder *managerBuilder) {
	builder.transport = opt.transport
}

// WithCookieJar replaces the default public-suffix aware cookie jar.
func WithCookieJar(jar http.CookieJar) Option {
	return &withCookieJar{
		jar: jar,
	}
}

type withCookieJar struct {
	jar http.CookieJar
}

func (opt withCookieJar) config(builder *managerBuilder) {
	builder.cookieJar = opt.jar
}

func WithLogger(logger resty.Logger) Option {
	return &withLogger{
		logger: logger,
	}
}

type withLogger struct {
	logger resty.Logger
}

func (opt withLogger) config(builder *managerBuilder) {
	builder.logger = opt.logger
}

func WithDebug(debug bool) Option {
	return &withDebug{
		debug: debug,
	}
}

type withDebug struct {
	debug bool
}

func (opt withDebug) config(builder *managerBuilder) {
	builder.debug = opt.debug
}

// WithLocale sets the locale sent with REST requests created by the manager.
func WithLocale(locale language.Tag) Option {
	return &withLocale{
		locale: locale,
	}
}

type withLocale struct {
	locale language.Tag
}

func (opt withLocale) config(builder *managerBuilder) {
	builder.locale = opt.locale
}

// WithOAuthClient sets the OAuth client credentials used by the login endpoints.
func WithOAuthClient(clientID, clientSecret string) Option {
	return &withOAuthClient{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

type withOAuthClient struct {
	clientID     string
	clientSecret string
}

func (opt withOAuthClient) config(builder *managerBuilder) {
	builder.clientID = opt.clientID
	builder.clientSecret = opt.clientSecret
}

// WithMetrics registers request metrics with the given registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return &withMetrics{
		registerer: registerer,
	}
}

type withMetrics struct {
	registerer prometheus.Registerer
}

func (opt withMetrics) config(builder *managerBuilder) {
	builder.registerer = opt.registerer
}
