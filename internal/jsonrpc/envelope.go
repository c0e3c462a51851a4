package jsonrpc

import (
	"encoding/json"
	"strconv"

	"github.com/buger/jsonparser"
)

// ProtocolVersion is the JSON-RPC version emitted on every outbound message.
const ProtocolVersion = "2.0"

// Envelope holds the top-level fields of one inbound message. Params is the
// raw, unparsed span of the "params" member; it is empty when the member is
// absent or null.
type Envelope struct {
	Version string
	ID      *RequestID
	Method  string
	Params  json.RawMessage
}

// IsNotification reports whether the envelope carries no id.
func (e *Envelope) IsNotification() bool {
	return e.ID.IsNil()
}

// Decode walks the top-level members of the JSON object in src exactly once,
// extracting jsonrpc, method, id and params. Unknown members are skipped
// without being parsed. Params are copied out so callers may reuse src after
// Decode returns.
func Decode(src []byte) (*Envelope, error) {
	var (
		env        Envelope
		hasVersion bool
		hasMethod  bool
	)

	err := jsonparser.ObjectEach(src, func(key []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		switch string(key) {
		case "jsonrpc":
			if dataType != jsonparser.String {
				return nil
			}
			v, err := jsonparser.ParseString(value)
			if err != nil {
				return &DecodeError{Kind: DecodeMalformed, Detail: "jsonrpc: " + err.Error()}
			}
			env.Version = v
			hasVersion = true
		case "method":
			if dataType != jsonparser.String {
				return nil
			}
			v, err := jsonparser.ParseString(value)
			if err != nil {
				return &DecodeError{Kind: DecodeMalformed, Detail: "method: " + err.Error()}
			}
			env.Method = v
			hasMethod = true
		case "id":
			id, err := parseID(value, dataType)
			if err != nil {
				return err
			}
			env.ID = id
		case "params":
			switch dataType {
			case jsonparser.Null, jsonparser.NotExist:
				env.Params = nil
			case jsonparser.String:
				// ObjectEach hands back string values without their quotes.
				raw := make(json.RawMessage, 0, len(value)+2)
				raw = append(raw, '"')
				raw = append(raw, value...)
				env.Params = append(raw, '"')
			default:
				env.Params = append(json.RawMessage(nil), value...)
			}
		}
		return nil
	})
	if err != nil {
		if de, ok := err.(*DecodeError); ok {
			return nil, de
		}
		return nil, &DecodeError{Kind: DecodeMalformed, Detail: err.Error()}
	}

	if !hasVersion {
		return nil, ErrMissingVersion
	}
	if !hasMethod {
		return nil, ErrMissingMethod
	}

	return &env, nil
}

// parseID accepts a base-10 integer JSON number. null means no id. String
// ids are rejected since responses always echo the id as a number.
func parseID(value []byte, dataType jsonparser.ValueType) (*RequestID, error) {
	switch dataType {
	case jsonparser.Null:
		return nil, nil
	case jsonparser.Number:
		n, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return nil, &DecodeError{Kind: DecodeInvalidID, Detail: "id is not an integer: " + string(value)}
		}
		return NewRequestID(n), nil
	default:
		return nil, &DecodeError{Kind: DecodeInvalidID, Detail: "id is not an integer: " + string(value)}
	}
}
