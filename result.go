package wordpress

import (
	"encoding/json"
	"fmt"
)

// Result is the outcome of an API call: either a success value or an APIError parametrized by
// the endpoint error type of the API family that was called.
type Result[T, E any] struct {
	value T
	err   *APIError[E]
}

func Success[T, E any](value T) Result[T, E] {
	return Result[T, E]{value: value}
}

// Failure returns a failed result. A nil error is reported as an unknown failure.
func Failure[T, E any](err *APIError[E]) Result[T, E] {
	if err == nil {
		err = NewUnknownError[E](fmt.Errorf("failure without error"))
	}

	return Result[T, E]{err: err}
}

func (r Result[T, E]) IsSuccess() bool {
	return r.err == nil
}

func (r Result[T, E]) Value() T {
	return r.value
}

func (r Result[T, E]) Err() *APIError[E] {
	return r.err
}

// Get returns the result in Go's usual (value, error) form.
func (r Result[T, E]) Get() (T, error) {
	if r.err != nil {
		var zero T
		return zero, r.err
	}

	return r.value, nil
}

// MapSuccess transforms the success value; failures pass through unchanged.
func MapSuccess[T, U, E any](r Result[T, E], fn func(T) U) Result[U, E] {
	if r.err != nil {
		return Failure[U](r.err)
	}

	return Success[U, E](fn(r.value))
}

// FlatMapSuccess transforms the success value into another result; failures pass through unchanged.
func FlatMapSuccess[T, U, E any](r Result[T, E], fn func(T) Result[U, E]) Result[U, E] {
	if r.err != nil {
		return Failure[U](r.err)
	}

	return fn(r.value)
}

// DecodeSuccess decodes the JSON body of a successful response into U.
// A body that cannot be decoded yields an unparsable response failure.
func DecodeSuccess[U, E any](r Result[*Response, E]) Result[U, E] {
	return FlatMapSuccess(r, func(res *Response) Result[U, E] {
		var out U

		if err := json.Unmarshal(res.Body, &out); err != nil {
			return Failure[U](NewUnparsableResponseError[E](res, err))
		}

		return Success[U, E](out)
	})
}

// MapUnacceptableStatusCodeError promotes an unacceptable status code failure into an endpoint error
// by decoding the response. If decoding fails, the result becomes an unparsable response failure that
// keeps the original response and the decoding error. Other branches pass through unchanged.
func MapUnacceptableStatusCodeError[T, E any](r Result[T, E], decode func(*Response) (E, error)) Result[T, E] {
	if r.err == nil || r.err.kind != ErrorKindUnacceptableStatusCode {
		return r
	}

	res := r.err.response

	endpoint, err := decode(res)
	if err != nil {
		return Failure[T](NewUnparsableResponseError[E](res, err))
	}

	return Failure[T](NewEndpointError(endpoint, res))
}

// MapEndpointError lets the caller reinterpret an endpoint error, e.g. as an alternate success.
// Other branches pass through unchanged.
func MapEndpointError[T, E any](r Result[T, E], fn func(E, *Response) Result[T, E]) Result[T, E] {
	if r.err == nil || r.err.kind != ErrorKindEndpoint {
		return r
	}

	return fn(r.err.endpoint, r.err.response)
}
