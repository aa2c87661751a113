package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gin-gonic/gin"
	"github.com/wordpress-mobile/go-wordpress-api/server/backend"
)

func initRouter(s *Server) {
	s.r.Use(
		s.requireValidAppVersion(),
		s.applyRateLimit(),
	)

	s.r.NoRoute(s.handleNotFound())

	// These routes are not protected by authentication.
	s.r.POST("/oauth2/token", s.handlePostOAuth2Token())
	s.r.POST("/wp-login.php", s.handlePostWPLogin())

	// REST routes require a bearer token.
	if rest := s.r.Group("/rest/v1.1", s.requireAuth()); rest != nil {
		rest.GET("/me", s.handleGetMe())

		if media := rest.Group("/sites/:siteID/media"); media != nil {
			media.GET("", s.handleGetMedia())
			media.POST("/new", s.handlePostMediaNew())
		}
	}

	// Test routes don't need authentication.
	if tests := s.r.Group("/tests"); tests != nil {
		tests.GET("/ping", s.handleGetPing())
		tests.Any("/status/:code", s.handleAnyStatus())
		tests.POST("/echo", s.handlePostEcho())
		tests.GET("/hang", s.handleGetHang())
	}
}

// requireValidAppVersion rejects user agents of the form "<name>/<version>" older than the minimum version.
func (s *Server) requireValidAppVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.minAppVersion == nil {
			return
		}

		if !s.validateAppVersion(c.Request.Header.Get("User-Agent")) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "upgrade_required",
				"message": "This version of the app is no longer supported, please update to continue using the app",
			})
		}
	}
}

func (s *Server) applyRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimit == nil {
			return
		}

		if wait := s.rateLimit.exceeded(c.ClientIP()); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests, please try again later",
			})
		}
	}
}

func (s *Server) logCalls() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := io.ReadAll(c.Request.Body)
		if err != nil {
			panic(err)
		} else {
			c.Request.Body = io.NopCloser(bytes.NewReader(req))
		}

		res, err := newBodyWriter(c.Writer)
		if err != nil {
			panic(err)
		} else {
			c.Writer = res
		}

		c.Next()

		s.callWatchersLock.RLock()
		defer s.callWatchersLock.RUnlock()

		for _, call := range s.callWatchers {
			if call.isWatching(c.Request.URL.Path) {
				call.publish(Call{
					URL:    c.Request.URL,
					Method: c.Request.Method,
					Status: c.Writer.Status(),

					RequestHeader: c.Request.Header,
					RequestBody:   req,

					ResponseHeader: c.Writer.Header(),
					ResponseBody:   res.bytes(),
				})
			}
		}
	}
}

func (s *Server) handleOffline() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.offline.Load() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
	}
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		scheme, tok, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			abortREST(c, http.StatusUnauthorized, "authorization_required", "An active access token must be used to access this resource.")
			return
		}

		userID, err := s.b.VerifyToken(tok)
		if err != nil {
			abortREST(c, http.StatusUnauthorized, "invalid_token", "The OAuth2 token is invalid.")
			return
		}

		c.Set("UserID", userID)
	}
}

func (s *Server) handleNotFound() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Data(http.StatusNotFound, "text/html; charset=utf-8", []byte(
			"<!DOCTYPE html><html><head><title>Page not found</title></head><body><h1>Nothing here</h1></body></html>",
		))
	}
}

func (s *Server) validateAppVersion(userAgent string) bool {
	_, rawVersion, ok := strings.Cut(userAgent, "/")
	if !ok {
		return false
	}

	version, err := semver.NewVersion(rawVersion)
	if err != nil {
		return false
	}

	return !version.LessThan(s.minAppVersion)
}

// checkClient verifies the OAuth client credentials of a form request.
func (s *Server) checkClient(c *gin.Context) error {
	if s.clientID == "" {
		return nil
	}

	if c.PostForm("client_id") != s.clientID || c.PostForm("client_secret") != s.clientSecret {
		return &backend.Error{Status: http.StatusBadRequest, Code: "invalid_client", Message: "Unknown client_id."}
	}

	return nil
}

func abortREST(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}

// asBackendError returns err as a backend error, or an internal server error.
func asBackendError(err error) *backend.Error {
	if apiErr := new(backend.Error); errors.As(err, &apiErr) {
		return apiErr
	}

	return &backend.Error{Status: http.StatusInternalServerError, Code: "internal_error", Message: err.Error()}
}

type bodyWriter struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func newBodyWriter(w gin.ResponseWriter) (*bodyWriter, error) {
	if w == nil {
		return nil, errors.New("response writer is nil")
	}

	return &bodyWriter{
		ResponseWriter: w,

		buf: &bytes.Buffer{},
	}, nil
}

func (w bodyWriter) Write(b []byte) (int, error) {
	if n, err := w.buf.Write(b); err != nil {
		return n, err
	}

	return w.ResponseWriter.Write(b)
}

func (w bodyWriter) bytes() []byte {
	return w.buf.Bytes()
}
