package wordpress

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/language"
)

var (
	ErrMissingPath    = errors.New("request path is not set")
	ErrBodyNotAllowed = errors.New("request method does not allow a body")
	ErrInvalidURL     = errors.New("request url is invalid")
)

// RequestBuildError is returned by RequestBuilder.Build when the configured request is not valid.
type RequestBuildError struct {
	Method string
	Path   string
	Err    error
}

func (err *RequestBuildError) Error() string {
	return fmt.Sprintf("failed to build %v %q: %v", err.Method, err.Path, err.Err)
}

func (err *RequestBuildError) Unwrap() error {
	return err.Err
}

// Request is a fully resolved request descriptor, ready to be performed.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   RequestBody
}

type queryItem struct {
	name  string
	value string
}

// RequestBuilder assembles a Request.
// It is a value type: every method returns a modified copy and leaves the receiver untouched,
// so partially configured builders can be shared and reused.
type RequestBuilder struct {
	base string

	method string
	path   string

	header http.Header
	query  []queryItem

	body func() (RequestBody, error)
}

func NewRequestBuilder(baseURL string) RequestBuilder {
	return RequestBuilder{
		base:   baseURL,
		method: http.MethodGet,
		header: make(http.Header),
	}
}

func (b RequestBuilder) clone() RequestBuilder {
	b.header = b.header.Clone()
	b.query = append([]queryItem(nil), b.query...)

	return b
}

func (b RequestBuilder) Method(method string) RequestBuilder {
	b = b.clone()
	b.method = strings.ToUpper(method)

	return b
}

// Path sets the request path. Relative paths are joined to the base URL; an absolute URL replaces it.
func (b RequestBuilder) Path(path string) RequestBuilder {
	b = b.clone()
	b.path = path

	return b
}

// AppendPath appends a path segment to the currently configured path.
func (b RequestBuilder) AppendPath(path string) RequestBuilder {
	b = b.clone()
	b.path = joinPath(b.path, path)

	return b
}

// Header sets a header value. The last write for a given name wins.
func (b RequestBuilder) Header(name, value string) RequestBuilder {
	b = b.clone()
	b.header.Set(name, value)

	return b
}

// Query appends a query parameter, keeping any existing values for the same name.
func (b RequestBuilder) Query(name, value string) RequestBuilder {
	b = b.clone()
	b.query = append(b.query, queryItem{name: name, value: value})

	return b
}

// SetQuery replaces every existing value of the named query parameter.
func (b RequestBuilder) SetQuery(name, value string) RequestBuilder {
	b = b.clone()
	b.query = removeQuery(b.query, name)
	b.query = append(b.query, queryItem{name: name, value: value})

	return b
}

func (b RequestBuilder) QueryItems(values url.Values) RequestBuilder {
	b = b.clone()

	for _, name := range sortedKeys(values) {
		for _, value := range values[name] {
			b.query = append(b.query, queryItem{name: name, value: value})
		}
	}

	return b
}

// Locale sets the locale query parameter. An undetermined tag removes it.
func (b RequestBuilder) Locale(tag language.Tag) RequestBuilder {
	if tag == language.Und {
		b = b.clone()
		b.query = removeQuery(b.query, localeQueryParam)

		return b
	}

	return b.SetQuery(localeQueryParam, strings.ToLower(tag.String()))
}

// JSONBody attaches a JSON body. The value is encoded when the request is built.
func (b RequestBuilder) JSONBody(v any) RequestBuilder {
	b = b.clone()
	b.body = func() (RequestBody, error) {
		return newJSONBody(v)
	}

	return b
}

// RawJSONBody attaches an already encoded JSON document.
func (b RequestBuilder) RawJSONBody(data []byte) RequestBuilder {
	b = b.clone()
	b.body = func() (RequestBody, error) {
		return newBytesBody(contentTypeJSON, data), nil
	}

	return b
}

// FormBody attaches an application/x-www-form-urlencoded body.
func (b RequestBuilder) FormBody(form map[string]string) RequestBuilder {
	fields := make(map[string]string, len(form))

	for key, val := range form {
		fields[key] = val
	}

	b = b.clone()
	b.body = func() (RequestBody, error) {
		return newBytesBody(contentTypeForm, []byte(encodeForm(fields))), nil
	}

	return b
}

// MultipartBody attaches a multipart/form-data body made of the given fields.
func (b RequestBuilder) MultipartBody(fields ...MultipartField) RequestBuilder {
	fields = append([]MultipartField(nil), fields...)

	b = b.clone()
	b.body = func() (RequestBody, error) {
		return newMultipartBody(fields)
	}

	return b
}

// Build validates the configuration and resolves it into a Request.
func (b RequestBuilder) Build() (*Request, error) {
	fail := func(err error) (*Request, error) {
		return nil, &RequestBuildError{Method: b.method, Path: b.path, Err: err}
	}

	if b.path == "" {
		return fail(ErrMissingPath)
	}

	if b.body != nil && !methodAllowsBody(b.method) {
		return fail(ErrBodyNotAllowed)
	}

	u, err := b.resolveURL()
	if err != nil {
		return fail(err)
	}

	req := &Request{
		Method: b.method,
		URL:    u,
		Header: b.header.Clone(),
	}

	if b.body != nil {
		body, err := b.body()
		if err != nil {
			return fail(err)
		}

		req.Body = body
		req.Header.Set("Content-Type", body.ContentType())
	}

	return req, nil
}

func (b RequestBuilder) resolveURL() (*url.URL, error) {
	ref, err := url.Parse(b.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	var u *url.URL

	if ref.IsAbs() {
		u = ref
	} else {
		base, err := url.Parse(b.base)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}

		u = &url.URL{
			Scheme:   base.Scheme,
			User:     base.User,
			Host:     base.Host,
			Path:     joinPath(base.Path, ref.Path),
			RawQuery: joinRawQuery(base.RawQuery, ref.RawQuery),
		}
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no scheme or host", ErrInvalidURL, u.String())
	}

	u.Path = collapseSlashes(u.Path)
	u.RawQuery = joinRawQuery(u.RawQuery, encodeQuery(b.query))

	return u, nil
}

const localeQueryParam = "locale"

func methodAllowsBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true

	default:
		return false
	}
}

func removeQuery(items []queryItem, name string) []queryItem {
	out := items[:0]

	for _, item := range items {
		if item.name != name {
			out = append(out, item)
		}
	}

	return out
}

func joinPath(base, path string) string {
	switch {
	case base == "":
		return path

	case path == "":
		return base

	default:
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}
}

func collapseSlashes(path string) string {
	if path == "" {
		return "/"
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}

	return path
}

func joinRawQuery(a, b string) string {
	switch {
	case a == "":
		return b

	case b == "":
		return a

	default:
		return a + "&" + b
	}
}

func encodeQuery(items []queryItem) string {
	parts := make([]string, 0, len(items))

	for _, item := range items {
		parts = append(parts, percentEncode(item.name)+"="+percentEncode(item.value))
	}

	return strings.Join(parts, "&")
}
