package wordpress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// clientID is a unique identifier for a client.
var clientID atomic.Uint64

// Handler is a generic function that can be registered for a certain event (e.g. deauth).
type Handler func()

// RESTError is the endpoint error of the WordPress.com REST API.
type RESTError struct {
	Code    string
	Message string
	Status  int
}

func (err RESTError) Error() string {
	return fmt.Sprintf("%v: %v", err.Code, err.Message)
}

// decodeRESTError accepts both {"error": ..., "message": ...} and the wp/v2 {"code": ..., "message": ...} shape.
func decodeRESTError(res *Response) (RESTError, error) {
	if !gjson.ValidBytes(res.Body) {
		return RESTError{}, errors.New("REST error is not valid JSON")
	}

	doc := gjson.ParseBytes(res.Body)

	restErr := RESTError{
		Message: doc.Get("message").String(),
		Status:  res.StatusCode,
	}

	if code := doc.Get("error"); code.Type == gjson.String {
		restErr.Code = code.String()
	} else {
		restErr.Code = doc.Get("code").String()
	}

	if restErr.Code == "" {
		return RESTError{}, ErrMissingErrorCode
	}

	return restErr, nil
}

// Client calls the WordPress.com REST API on behalf of a user.
type Client struct {
	m *Manager

	// clientID is this client's unique ID.
	clientID uint64

	ts oauth2.TokenSource

	deauthHandlers []Handler
	hookLock       sync.RWMutex

	deauthOnce sync.Once
}

// NewClient returns a client that authorizes its requests with tokens from ts.
func (m *Manager) NewClient(ts oauth2.TokenSource) *Client {
	return &Client{
		m:        m,
		clientID: clientID.Add(1),
		ts:       ts,
	}
}

func (c *Client) AddDeauthHandler(handler Handler) {
	c.hookLock.Lock()
	defer c.hookLock.Unlock()

	c.deauthHandlers = append(c.deauthHandlers, handler)
}

func (c *Client) AddPreRequestHook(hook resty.RequestMiddleware) {
	c.hookLock.Lock()
	defer c.hookLock.Unlock()

	c.m.rc.OnBeforeRequest(func(rc *resty.Client, r *resty.Request) error {
		if clientID, ok := ClientIDFromContext(r.Context()); !ok || clientID != c.clientID {
			return nil
		}

		return hook(rc, r)
	})
}

func (c *Client) AddPostRequestHook(hook resty.ResponseMiddleware) {
	c.hookLock.Lock()
	defer c.hookLock.Unlock()

	c.m.rc.OnAfterResponse(func(rc *resty.Client, r *resty.Response) error {
		if clientID, ok := ClientIDFromContext(r.Request.Context()); !ok || clientID != c.clientID {
			return nil
		}

		return hook(rc, r)
	})
}

func (c *Client) Close() {
	c.hookLock.Lock()
	defer c.hookLock.Unlock()

	c.deauthHandlers = nil
}

// Path returns the path of a REST endpoint in the given API version, e.g. Path("me", "1.1") is "/rest/v1.1/me".
func (c *Client) Path(endpoint, version string) string {
	return "/rest/v" + version + "/" + strings.TrimPrefix(endpoint, "/")
}

// NewRequestBuilder returns a builder rooted at the REST host.
func (c *Client) NewRequestBuilder() RequestBuilder {
	return c.m.NewRequestBuilder()
}

// Perform performs an authorized request. Unacceptable status codes are decoded into RESTError,
// and a 401 notifies the deauth handlers once.
func (c *Client) Perform(ctx context.Context, req *Request, opts ...CallOption) Result[*Response, RESTError] {
	tok, err := c.ts.Token()
	if err != nil {
		return Failure[*Response](NewUnknownError[RESTError](fmt.Errorf("failed to get token: %w", err)))
	} else if tok == nil || tok.AccessToken == "" {
		return Failure[*Response](NewUnknownError[RESTError](errors.New("token source returned no access token")))
	}

	authed := *req
	authed.Header = req.Header.Clone()

	if authed.Header == nil {
		authed.Header = make(http.Header)
	}

	authed.Header.Set("Authorization", tok.Type()+" "+tok.AccessToken)

	res := MapUnacceptableStatusCodeError(Perform[RESTError](WithClient(ctx, c.clientID), c.m, &authed, opts...), decodeRESTError)

	if apiErr := res.Err(); apiErr != nil && apiErr.Response() != nil && apiErr.Response().StatusCode == http.StatusUnauthorized {
		c.deauth()
	}

	return res
}

func (c *Client) deauth() {
	c.deauthOnce.Do(func() {
		c.hookLock.RLock()
		defer c.hookLock.RUnlock()

		for _, handler := range c.deauthHandlers {
			handler()
		}
	})
}

// GetJSON performs a GET of a REST path and decodes the JSON response into T.
func GetJSON[T any](ctx context.Context, c *Client, path string, query url.Values) Result[T, RESTError] {
	req, err := c.NewRequestBuilder().Path(path).QueryItems(query).Build()
	if err != nil {
		return Failure[T](NewRequestEncodingError[RESTError](err))
	}

	return DecodeSuccess[T](c.Perform(ctx, req))
}

// PostJSON performs a POST of a JSON body to a REST path and decodes the JSON response into T.
// A nil body sends no body at all.
func PostJSON[T any](ctx context.Context, c *Client, path string, body any) Result[T, RESTError] {
	b := c.NewRequestBuilder().Method(http.MethodPost).Path(path)

	if body != nil {
		b = b.JSONBody(body)
	}

	req, err := b.Build()
	if err != nil {
		return Failure[T](NewRequestEncodingError[RESTError](err))
	}

	return DecodeSuccess[T](c.Perform(ctx, req))
}

type clientIDKey struct{}

// WithClient marks a context as belonging to the client with the given ID.
func WithClient(parent context.Context, clientID uint64) context.Context {
	return context.WithValue(parent, clientIDKey{}, clientID)
}

// ClientIDFromContext returns the ID of the client a context belongs to.
func ClientIDFromContext(ctx context.Context) (uint64, bool) {
	clientID, ok := ctx.Value(clientIDKey{}).(uint64)
	return clientID, ok
}
