package server

import (
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gin-gonic/gin"
	"github.com/wordpress-mobile/go-wordpress-api/server/backend"
)

// Server is a fake WordPress.com serving the OAuth, wp-login.php and a subset of the REST endpoints.
type Server struct {
	// r is the gin router.
	r *gin.Engine

	// s is the underlying server.
	s *httptest.Server

	// b is the server backend, which manages accounts, second factors, tokens and media.
	b *backend.Backend

	// callWatchers records callWatchers received by the server.
	callWatchers     []callWatcher
	callWatchersLock sync.RWMutex

	// minAppVersion is the minimum app version that the server will accept.
	minAppVersion *semver.Version

	// rateLimit limits the number of calls the server accepts, if set.
	rateLimit *rateLimiter

	// clientID and clientSecret are the accepted OAuth client credentials; any are accepted when empty.
	clientID     string
	clientSecret string

	// relyingPartyID is the WebAuthn relying party the server issues challenges for.
	relyingPartyID string

	// offline is whether to pretend the server is offline and return 5xx errors.
	offline atomic.Bool
}

// TwoStep configures the second factors of an account.
type TwoStep = backend.TwoStep

func New(opts ...Option) *Server {
	builder := newServerBuilder()

	for _, opt := range opts {
		opt.config(builder)
	}

	return builder.build()
}

func (s *Server) GetHostURL() string {
	return s.s.URL
}

func (s *Server) AddCallWatcher(fn func(Call), paths ...string) {
	s.callWatchersLock.Lock()
	defer s.callWatchersLock.Unlock()

	s.callWatchers = append(s.callWatchers, newCallWatcher(fn, paths...))
}

// CreateUser creates an account and returns its user ID.
func (s *Server) CreateUser(username, email, password string) (int64, error) {
	return s.b.CreateUser(username, email, password)
}

func (s *Server) RemoveUser(userID int64) error {
	return s.b.RemoveUser(userID)
}

// GetPrimaryBlog returns the ID of the site created along with the user.
func (s *Server) GetPrimaryBlog(userID int64) (int64, error) {
	user, err := s.b.GetUser(userID)
	if err != nil {
		return 0, err
	}

	return user.PrimaryBlog, nil
}

func (s *Server) EnableTwoStep(userID int64, twoStep TwoStep) error {
	return s.b.EnableTwoStep(userID, twoStep)
}

func (s *Server) ConnectSocial(userID int64, service, idToken string) error {
	return s.b.ConnectSocial(userID, service, idToken)
}

// AddSocialIdentity registers a social identity that is not connected to any account.
func (s *Server) AddSocialIdentity(service, idToken, email string) {
	s.b.AddSocialIdentity(service, idToken, email)
}

// GetSentSMSCode returns the last code sent to the user by SMS.
func (s *Server) GetSentSMSCode(userID int64) (string, bool) {
	return s.b.GetSentSMSCode(userID)
}

func (s *Server) GetMedia(siteID int64) []backend.Media {
	return s.b.GetMedia(siteID)
}

func (s *Server) SetAuthLife(authLife time.Duration) {
	s.b.SetAuthLife(authLife)
}

func (s *Server) SetMinAppVersion(minAppVersion *semver.Version) {
	s.minAppVersion = minAppVersion
}

func (s *Server) SetOffline(offline bool) {
	s.offline.Store(offline)
}

// RevokeUser invalidates every bearer token of the user.
func (s *Server) RevokeUser(userID int64) {
	s.b.RevokeTokens(userID)
}

func (s *Server) Close() {
	s.s.Close()
}
