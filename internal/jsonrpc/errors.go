package jsonrpc

import "fmt"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
	// ErrorCodeServerNotInitialized is returned for requests that arrive before
	// the initialize handshake has completed.
	ErrorCodeServerNotInitialized ErrorCode = -32002
)

// DecodeErrorKind classifies envelope decoding failures.
type DecodeErrorKind int

const (
	DecodeMalformed DecodeErrorKind = iota
	DecodeMissingVersion
	DecodeMissingMethod
	DecodeInvalidID
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeMissingVersion:
		return "missing version"
	case DecodeMissingMethod:
		return "missing method"
	case DecodeInvalidID:
		return "invalid id"
	default:
		return "malformed envelope"
	}
}

// DecodeError is returned by Decode. The sentinel values below carry no
// detail and match any DecodeError of the same kind via errors.Is.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
}

var (
	ErrMalformed      = &DecodeError{Kind: DecodeMalformed}
	ErrMissingVersion = &DecodeError{Kind: DecodeMissingVersion}
	ErrMissingMethod  = &DecodeError{Kind: DecodeMissingMethod}
	ErrInvalidID      = &DecodeError{Kind: DecodeInvalidID}
)

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return "jsonrpc: " + e.Kind.String()
	}
	return fmt.Sprintf("jsonrpc: %s: %s", e.Kind, e.Detail)
}

func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Detail == "" || t.Detail == e.Detail)
}

// Code maps the failure to the JSON-RPC code used when reporting it to a peer.
func (e *DecodeError) Code() ErrorCode {
	if e.Kind == DecodeMalformed {
		return ErrorCodeParseError
	}
	return ErrorCodeInvalidRequest
}
