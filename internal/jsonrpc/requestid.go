package jsonrpc

import (
	"strconv"
)

// RequestID is the integer id of an inbound request. A nil *RequestID means
// the envelope carried no id (or an explicit null).
type RequestID struct {
	value int64
}

// NewRequestID creates a RequestID holding v.
func NewRequestID(v int64) *RequestID {
	return &RequestID{value: v}
}

// IsNil returns true if no id was supplied.
func (id *RequestID) IsNil() bool {
	return id == nil
}

// Value returns the id, or 0 when no id was supplied. Callers that need to
// tell the two apart must check IsNil first.
func (id *RequestID) Value() int64 {
	if id == nil {
		return 0
	}
	return id.value
}

// String returns the decimal form of the id, or "" when absent.
func (id *RequestID) String() string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(id.value, 10)
}

// MarshalJSON implements json.Marshaler. An absent id is encoded as 0.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, id.Value(), 10), nil
}
