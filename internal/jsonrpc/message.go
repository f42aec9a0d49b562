// Package jsonrpc defines the wire types for the JSON-RPC 2.0 dialect MCP
// speaks, and a strict decoder that rejects the case-folding ambiguities
// Go's encoding/json otherwise allows.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcpkit/runtime/internal/debugflag"
)

const Version = "2.0"

// Request is a single JSON-RPC 2.0 request or notification. ID is absent
// (nil, IDPresent false) for notifications, and may be a string, a
// float64, or explicitly null.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`

	ID any `json:"id,omitempty"`

	idPresent    bool
	idNull       bool
	idBadFormat  bool
}

// HasID reports whether this message is a request (carries a usable id)
// rather than a notification.
func (r Request) HasID() bool {
	return r.idPresent && !r.idNull && !r.idBadFormat
}

// IsNotification reports whether the message omitted id entirely.
func (r Request) IsNotification() bool {
	return !r.idPresent
}

// HasMalformedID reports whether id was present but explicitly null or of
// a type the JSON-RPC spec does not allow (object, array, bool).
func (r Request) HasMalformedID() bool {
	return r.idPresent && (r.idNull || r.idBadFormat)
}

// UnmarshalJSON tracks id-presence/null/type separately from its zero value
// so a notification (no id) can be told apart from a request whose id
// happens to be absent after decode.
func (r *Request) UnmarshalJSON(data []byte) error {
	var shape struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	r.Method = shape.Method
	r.Params = shape.Params
	r.ID = nil
	r.idNull = false
	r.idBadFormat = false

	rawID, present := obj["id"]
	r.idPresent = present
	if !present {
		return nil
	}

	trimmed := bytes.TrimSpace(rawID)
	if bytes.Equal(trimmed, []byte("null")) {
		r.idNull = true
		return nil
	}

	var id any
	if err := json.Unmarshal(trimmed, &id); err != nil {
		return err
	}
	switch id.(type) {
	case string, float64:
		r.ID = id
	default:
		r.idBadFormat = true
	}
	return nil
}

// MarshalJSON emits the canonical jsonrpc:"2.0" envelope, including id only
// when the request actually carried one.
func (r Request) MarshalJSON() ([]byte, error) {
	type wire struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      any             `json:"id,omitempty"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}
	w := wire{JSONRPC: Version, Method: r.Method, Params: r.Params}
	if r.idPresent && !r.idNull {
		w.ID = r.ID
	}
	return json.Marshal(w)
}

// Response is a JSON-RPC 2.0 reply. Exactly one of Result/Error is set.
type Response struct {
	ID     any             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	type wire struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      any             `json:"id"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *Error          `json:"error,omitempty"`
	}
	return json.Marshal(wire{JSONRPC: Version, ID: r.ID, Result: r.Result, Error: r.Error})
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewResponse builds a successful response with result marshaled to JSON.
func NewResponse(id any, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response. id may be nil for parse
// errors where no id could be recovered.
func NewErrorResponse(id any, err *Error) *Response {
	return &Response{ID: id, Error: err}
}

// requestWireFields are the only top-level keys a JSON-RPC request may
// carry. Request.UnmarshalJSON reads through an intermediate shape that
// has no field for a stray key, so it would otherwise ignore one
// silently; strict mode uses this set to reject it instead.
var requestWireFields = map[string]bool{"jsonrpc": true, "id": true, "method": true, "params": true}

// DecodeRequest parses a single JSON-RPC message, rejecting case-variant
// duplicate keys before handing off to Request's own lenient id handling
// (Request.UnmarshalJSON already tolerates an absent/null/malformed id so
// the caller can classify the parse failure instead of bailing out).
//
// With MCPKIT_DEBUG=strictjson=1, it additionally rejects any top-level
// field outside requestWireFields.
func DecodeRequest(data []byte) (*Request, error) {
	if err := rejectCaseVariantKeys(data); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if debugflag.Value("strictjson") == "1" {
		if err := rejectUnknownTopLevelKeys(data, requestWireFields); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.Method == "" {
		return nil, errNoMethod
	}
	return &req, nil
}

func rejectUnknownTopLevelKeys(data []byte, allowed map[string]bool) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil // not an object; rejectCaseVariantKeys already handled this
	}
	for key := range raw {
		if !allowed[key] {
			return fmt.Errorf("unknown field %q", key)
		}
	}
	return nil
}

var errNoMethod = errors.New("missing method")
