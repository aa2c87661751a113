package wordpress

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrorKind is the variant of an APIError.
type ErrorKind int

const (
	// ErrorKindRequestEncoding means the request could not be built or encoded; it is a client-side bug.
	ErrorKindRequestEncoding ErrorKind = iota + 1

	// ErrorKindConnection means no HTTP response was received.
	ErrorKindConnection

	// ErrorKindEndpoint means the server answered with a recognized, endpoint-specific error.
	ErrorKindEndpoint

	// ErrorKindUnacceptableStatusCode means the status code was outside the accepted ranges.
	ErrorKindUnacceptableStatusCode

	// ErrorKindUnparsableResponse means a response was received but could not be decoded.
	ErrorKindUnparsableResponse

	ErrorKindUnknown
)

func (kind ErrorKind) String() string {
	switch kind {
	case ErrorKindRequestEncoding:
		return "request encoding failure"

	case ErrorKindConnection:
		return "connection failure"

	case ErrorKindEndpoint:
		return "endpoint error"

	case ErrorKindUnacceptableStatusCode:
		return "unacceptable status code"

	case ErrorKindUnparsableResponse:
		return "unparsable response"

	default:
		return "unknown error"
	}
}

// label is a metric and log friendly name of the kind.
func (kind ErrorKind) label() string {
	switch kind {
	case ErrorKindRequestEncoding:
		return "request_encoding"

	case ErrorKindConnection:
		return "connection"

	case ErrorKindEndpoint:
		return "endpoint"

	case ErrorKindUnacceptableStatusCode:
		return "unacceptable_status_code"

	case ErrorKindUnparsableResponse:
		return "unparsable_response"

	default:
		return "unknown"
	}
}

// APIError is the failure branch of a Result.
// Exactly one variant is populated; values are only created through the New*Error constructors.
type APIError[E any] struct {
	kind ErrorKind

	code     ConnectionCode
	endpoint E
	response *Response
	cause    error
}

func NewRequestEncodingError[E any](cause error) *APIError[E] {
	return &APIError[E]{kind: ErrorKindRequestEncoding, cause: cause}
}

func NewConnectionError[E any](code ConnectionCode, cause error) *APIError[E] {
	return &APIError[E]{kind: ErrorKindConnection, code: code, cause: cause}
}

// NewEndpointError wraps a decoded endpoint error. The response is optional.
func NewEndpointError[E any](endpoint E, res *Response) *APIError[E] {
	return &APIError[E]{kind: ErrorKindEndpoint, endpoint: endpoint, response: res}
}

func NewUnacceptableStatusCodeError[E any](res *Response) *APIError[E] {
	return &APIError[E]{kind: ErrorKindUnacceptableStatusCode, response: res}
}

func NewUnparsableResponseError[E any](res *Response, cause error) *APIError[E] {
	return &APIError[E]{kind: ErrorKindUnparsableResponse, response: res, cause: cause}
}

func NewUnknownError[E any](cause error) *APIError[E] {
	return &APIError[E]{kind: ErrorKindUnknown, cause: cause}
}

func (err *APIError[E]) Kind() ErrorKind {
	return err.kind
}

// ConnectionCode returns the transport failure code; it is ConnectionUnknown for other variants.
func (err *APIError[E]) ConnectionCode() ConnectionCode {
	return err.code
}

// Endpoint returns the decoded endpoint error, if this is an endpoint error.
// It may be called on a nil error, as returned by Result.Err for successes.
func (err *APIError[E]) Endpoint() (E, bool) {
	if err == nil || err.kind != ErrorKindEndpoint {
		var zero E
		return zero, false
	}

	return err.endpoint, true
}

// Response returns the received response for status, unparsable and endpoint errors.
func (err *APIError[E]) Response() *Response {
	return err.response
}

func (err *APIError[E]) Unwrap() error {
	return err.cause
}

func (err *APIError[E]) Error() string {
	switch err.kind {
	case ErrorKindConnection:
		return fmt.Sprintf("%v (%v): %v", err.kind, err.code, err.cause)

	case ErrorKindEndpoint:
		if e, ok := any(err.endpoint).(error); ok {
			return fmt.Sprintf("%v: %v", err.kind, e)
		}

		return fmt.Sprintf("%v: %+v", err.kind, err.endpoint)

	case ErrorKindUnacceptableStatusCode:
		if err.response == nil {
			return err.kind.String()
		}

		return fmt.Sprintf("%v: %v", err.kind, err.response.StatusCode)

	case ErrorKindUnparsableResponse:
		if err.response == nil {
			return fmt.Sprintf("%v: %v", err.kind, err.cause)
		}

		if title := htmlTitle(err.response); title != "" {
			return fmt.Sprintf("%v (%v %q): %v", err.kind, err.response.StatusCode, title, err.cause)
		}

		return fmt.Sprintf("%v (%v): %v", err.kind, err.response.StatusCode, err.cause)

	default:
		return fmt.Sprintf("%v: %v", err.kind, err.cause)
	}
}

// htmlTitle returns the document title of an HTML response body, which usually names the failure
// when a proxy or web server answers instead of the API.
func htmlTitle(res *Response) string {
	if !strings.Contains(res.Header.Get("Content-Type"), "html") && !bytes.HasPrefix(bytes.TrimSpace(res.Body), []byte("<")) {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(doc.Find("title").First().Text())
}
