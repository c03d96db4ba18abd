// Package apperr defines the error-kind taxonomy of spec §7 and a stable
// mapping from each kind onto a JSON-RPC error code, so the dispatcher never
// has to string-match an error message to decide how to report it.
package apperr

import "fmt"

// Kind is one of the error kinds named in spec §7.
type Kind string

const (
	KindArgument           Kind = "ArgumentError"
	KindMetadataUnavailable Kind = "MetadataUnavailable"
	KindAuth               Kind = "AuthError"
	KindCSRF               Kind = "CSRFError"
	KindUpstream           Kind = "UpstreamError"
	KindTransport          Kind = "TransportError"
	KindPolicy             Kind = "PolicyError"
	KindInternal           Kind = "InternalError"
)

// jsonRPCCode gives each Kind a stable numeric JSON-RPC error code. The
// standard JSON-RPC range (-32700..-32600) is reserved for protocol-level
// errors raised directly by internal/mcp; application-level kinds use the
// -32000..-32099 "server error" range reserved by the JSON-RPC spec,
// partitioned one code per kind so a client can distinguish them without
// parsing the message text.
var jsonRPCCode = map[Kind]int{
	KindArgument:            -32001,
	KindMetadataUnavailable: -32002,
	KindAuth:                -32003,
	KindCSRF:                -32004,
	KindUpstream:            -32005,
	KindTransport:           -32006,
	KindPolicy:              -32007,
	KindInternal:            -32008,
}

// Error is the typed error carried from handlers through the client and
// bridge layers up to the dispatcher.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int                    // set for KindUpstream
	Code       string                 // server-supplied error code, set for KindUpstream
	Details    map[string]interface{} // extra context: URL, method, redacted headers under --verbose-errors
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// JSONRPCCode returns the stable numeric code for this error's kind.
func (e *Error) JSONRPCCode() int {
	if c, ok := jsonRPCCode[e.Kind]; ok {
		return c
	}
	return jsonRPCCode[KindInternal]
}

// New builds a bare Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind, carrying cause as context.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Argument is a convenience constructor for bad/missing tool arguments.
func Argument(format string, args ...interface{}) *Error {
	return New(KindArgument, fmt.Sprintf(format, args...))
}

// Policy is a convenience constructor for operations disabled by mode.
func Policy(format string, args ...interface{}) *Error {
	return New(KindPolicy, fmt.Sprintf(format, args...))
}

// Upstream builds a structured UpstreamError carrying the extracted
// {http_status, code, message, details} shape (spec §7).
func Upstream(httpStatus int, code, message string, details map[string]interface{}) *Error {
	return &Error{Kind: KindUpstream, Message: message, HTTPStatus: httpStatus, Code: code, Details: details}
}

// AsAppError unwraps err looking for an *Error, returning nil if none is
// found anywhere in the chain.
func AsAppError(err error) *Error {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}
