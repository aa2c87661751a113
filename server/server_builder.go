package server

import (
	"io"
	"net/http/httptest"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wordpress-mobile/go-wordpress-api/server/backend"
)

type serverBuilder struct {
	withTLS        bool
	relyingPartyID string
	logger         io.Writer
	rateLimiter    *rateLimiter
	clientID       string
	clientSecret   string
	authLife       time.Duration
}

func newServerBuilder() *serverBuilder {
	var logger io.Writer

	if os.Getenv("GO_WORDPRESS_API_SERVER_LOGGER_ENABLED") != "" {
		logger = gin.DefaultWriter
	} else {
		logger = io.Discard
	}

	return &serverBuilder{
		withTLS:        true,
		relyingPartyID: "wordpress.com",
		logger:         logger,
		authLife:       time.Hour,
	}
}

func (builder *serverBuilder) build() *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		r: gin.New(),
		b: backend.New(builder.authLife),

		rateLimit:      builder.rateLimiter,
		clientID:       builder.clientID,
		clientSecret:   builder.clientSecret,
		relyingPartyID: builder.relyingPartyID,
	}

	if builder.withTLS {
		s.s = httptest.NewTLSServer(s.r)
	} else {
		s.s = httptest.NewServer(s.r)
	}

	s.r.Use(
		gin.LoggerWithConfig(gin.LoggerConfig{Output: builder.logger}),
		gin.Recovery(),
		s.logCalls(),
		s.handleOffline(),
	)

	initRouter(s)

	return s
}

// Option represents a type that can be used to configure the server.
type Option interface {
	config(*serverBuilder)
}

// WithTLS controls whether the server should serve over TLS.
func WithTLS(tls bool) Option {
	return &withTLS{
		withTLS: tls,
	}
}

type withTLS struct {
	withTLS bool
}

func (opt withTLS) config(builder *serverBuilder) {
	builder.withTLS = opt.withTLS
}

// WithRelyingPartyID controls the WebAuthn relying party of issued challenges.
func WithRelyingPartyID(relyingPartyID string) Option {
	return &withRelyingPartyID{
		relyingPartyID: relyingPartyID,
	}
}

type withRelyingPartyID struct {
	relyingPartyID string
}

func (opt withRelyingPartyID) config(builder *serverBuilder) {
	builder.relyingPartyID = opt.relyingPartyID
}

// WithLogger controls where Gin logs to.
func WithLogger(logger io.Writer) Option {
	return &withLogger{
		logger: logger,
	}
}

type withLogger struct {
	logger io.Writer
}

func (opt withLogger) config(builder *serverBuilder) {
	builder.logger = opt.logger
}

func WithRateLimit(limit int, window time.Duration) Option {
	return &withRateLimit{
		limit:  limit,
		window: window,
	}
}

type withRateLimit struct {
	limit  int
	window time.Duration
}

func (opt withRateLimit) config(builder *serverBuilder) {
	builder.rateLimiter = newRateLimiter(opt.limit, opt.window)
}

// WithOAuthClient makes the server reject OAuth clients other than the given one.
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

func (opt withOAuthClient) config(builder *serverBuilder) {
	builder.clientID = opt.clientID
	builder.clientSecret = opt.clientSecret
}

// WithAuthLife controls how long issued bearer tokens stay valid.
func WithAuthLife(authLife time.Duration) Option {
	return &withAuthLife{
		authLife: authLife,
	}
}

type withAuthLife struct {
	authLife time.Duration
}

func (opt withAuthLife) config(builder *serverBuilder) {
	builder.authLife = opt.authLife
}
