package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotAuthenticated is wrapped by the TransportError returned when no
// bearer credential could be obtained. No network call is made in that case.
var ErrNotAuthenticated = errors.New("not authenticated")

// Kind identifies which variant of an Outcome is populated.
type Kind int

const (
	KindSuccess Kind = iota
	KindHTTPError
	KindTimeout
	KindTransportError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindHTTPError:
		return "http_error"
	case KindTimeout:
		return "timeout"
	case KindTransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the classified result of one remote call. Only the fields of
// the variant named by Kind are set:
//
//	KindSuccess:        Payload
//	KindHTTPError:      Status, Message, Body
//	KindTimeout:        Message, Elapsed
//	KindTransportError: Cause
type Outcome struct {
	Kind     Kind
	Function string

	Payload json.RawMessage

	Status  int
	Message string
	Body    []byte

	Elapsed time.Duration

	Cause error
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool { return o.Kind == KindSuccess }

// Err returns nil on success and the typed error for every other variant.
func (o Outcome) Err() error {
	switch o.Kind {
	case KindSuccess:
		return nil
	case KindHTTPError:
		return &HTTPError{Function: o.Function, Status: o.Status, Message: o.Message, Body: o.Body}
	case KindTimeout:
		return &TimeoutError{Function: o.Function, Elapsed: o.Elapsed, Message: o.Message}
	default:
		return &TransportError{Function: o.Function, Cause: o.Cause}
	}
}

// Decode unmarshals the success payload into v.
func (o Outcome) Decode(v any) error {
	if err := o.Err(); err != nil {
		return err
	}
	if err := json.Unmarshal(o.Payload, v); err != nil {
		return &TransportError{Function: o.Function, Cause: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// HTTPError is a function-level failure: a non-2xx status, or a 2xx whose
// body carried an error field. Message is the server's message or raw text.
type HTTPError struct {
	Function string
	Status   int
	Message  string
	Body     []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Function, e.Status, e.Message)
}

// TimeoutError means the call's own deadline fired.
type TimeoutError struct {
	Function string
	Elapsed  time.Duration
	Message  string
}

func (e *TimeoutError) Error() string { return e.Message }

// TransportError covers every other fault: credential failure, DNS,
// connection reset, caller cancellation, or an undecodable 2xx body.
type TransportError struct {
	Function string
	Cause    error
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return e.Function + ": transport error"
	}
	return e.Function + ": " + e.Cause.Error()
}

func (e *TransportError) Unwrap() error { return e.Cause }
