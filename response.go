package wordpress

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

// Response is a received HTTP response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        *url.URL
}

func (res *Response) DecodeJSON(v any) error {
	return json.Unmarshal(res.Body, v)
}

// StatusRange is an inclusive range of HTTP status codes.
type StatusRange struct {
	Min, Max int
}

func (r StatusRange) Contains(code int) bool {
	return r.Min <= code && code <= r.Max
}

var defaultAcceptableStatusCodes = []StatusRange{{Min: 200, Max: 299}}

func statusAcceptable(code int, ranges []StatusRange) bool {
	for _, r := range ranges {
		if r.Contains(code) {
			return true
		}
	}

	return false
}

// ConnectionCode identifies the kind of transport failure behind a connection error.
type ConnectionCode int

const (
	ConnectionUnknown ConnectionCode = iota
	ConnectionCancelled
	ConnectionTimedOut
	ConnectionCannotFindHost
	ConnectionCannotConnect
	ConnectionLost
	ConnectionSecureFailure
)

func (code ConnectionCode) String() string {
	switch code {
	case ConnectionCancelled:
		return "cancelled"

	case ConnectionTimedOut:
		return "timed out"

	case ConnectionCannotFindHost:
		return "cannot find host"

	case ConnectionCannotConnect:
		return "cannot connect to host"

	case ConnectionLost:
		return "network connection lost"

	case ConnectionSecureFailure:
		return "secure connection failed"

	default:
		return "unknown"
	}
}

// classifyTransportError decides whether a request that produced no response failed at the network level.
// It reports false when the error is not recognizable as a transport failure.
func classifyTransportError(err error) (ConnectionCode, bool) {
	if code := connectionCode(err); code != ConnectionUnknown {
		return code, true
	}

	var (
		urlErr *url.Error
		netErr net.Error
	)

	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return ConnectionUnknown, true
	}

	return ConnectionUnknown, false
}

func connectionCode(err error) ConnectionCode {
	var (
		dnsErr     *net.DNSError
		opErr      *net.OpError
		netErr     net.Error
		certErr    *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
		recordErr  tls.RecordHeaderError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return ConnectionCancelled

	case errors.Is(err, context.DeadlineExceeded):
		return ConnectionTimedOut

	case errors.As(err, &dnsErr):
		return ConnectionCannotFindHost

	case errors.As(err, &certErr), errors.As(err, &unknownCA), errors.As(err, &hostErr), errors.As(err, &invalidErr), errors.As(err, &recordErr):
		return ConnectionSecureFailure

	case errors.As(err, &netErr) && netErr.Timeout():
		return ConnectionTimedOut

	case errors.As(err, &opErr) && opErr.Op == "dial":
		return ConnectionCannotConnect

	case errors.Is(err, syscall.ECONNREFUSED):
		return ConnectionCannotConnect

	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return ConnectionLost

	default:
		return ConnectionUnknown
	}
}
