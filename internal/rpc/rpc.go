// Package rpc implements the wire layer between metadata servers and
// between a client and the servers: an HTTP/JSON transport per
// spec.md §4.5, a membership table, reconnect backoff, and the typed
// error/redirection envelope every call returns.
//
// The REDESIGN FLAG from spec.md §9 is applied here: redirection is a
// plain field on Envelope, never an error value thrown across the RPC
// boundary, so a caller's retry loop is an ordinary for loop (see
// internal/client).
package rpc

import (
	"encoding/json"
	"fmt"
)

// ErrorKind enumerates the RPC-level exception taxonomy of spec.md §6.
// Redirection is deliberately not a Kind — it is carried by
// Envelope.Redirect instead, per the REDESIGN FLAG.
type ErrorKind string

const (
	KindNotFound              ErrorKind = "not_found"
	KindAlreadyExists         ErrorKind = "already_exists"
	KindDirectoryExpected     ErrorKind = "directory_expected"
	KindUnrecognizedDirectory ErrorKind = "unrecognized_directory"
	KindWrongServer           ErrorKind = "wrong_server"
	KindIOError               ErrorKind = "io_error"
	KindNotSupported          ErrorKind = "not_supported"
	KindInternal              ErrorKind = "internal"
)

// RPCError is the typed error every RPC handler returns in place of a
// bare error, so clients can branch on Kind without string matching.
type RPCError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc: %s: %s", e.Kind, e.Message)
}

// NewError builds an RPCError from a Kind and a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *RPCError {
	return &RPCError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Envelope wraps every RPC response. Exactly one of Redirect, Error or
// Result is meaningful:
//   - Redirect set: the server that received the call no longer (or
//     never did) own the requested partition; Redirect carries that
//     server's current view of the directory's index (index.Encode
//     bytes) so the caller can route itself and retry.
//   - Error set: the call failed for a reason other than routing.
//   - Result set: the call succeeded; Result holds the method-specific
//     JSON response payload.
type Envelope struct {
	Redirect []byte          `json:"redirect,omitempty"`
	Error    *RPCError       `json:"error,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// OK builds a successful Envelope carrying result, JSON-encoded.
func OK(result any) (*Envelope, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Envelope{Result: b}, nil
}

// Redirected builds an Envelope carrying a redirection hint.
func Redirected(encodedIndex []byte) *Envelope {
	return &Envelope{Redirect: encodedIndex}
}

// Failed builds an Envelope carrying an error.
func Failed(err *RPCError) *Envelope {
	return &Envelope{Error: err}
}

// Decode unmarshals the Envelope's Result into out. Callers must check
// Redirect and Error first.
func (e *Envelope) Decode(out any) error {
	if len(e.Result) == 0 {
		return nil
	}
	return json.Unmarshal(e.Result, out)
}
