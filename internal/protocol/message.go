package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// frame type discriminants for the tunnel wire protocol.
const (
	TypeTunnelAssigned = "tunnel-assigned"
	TypeTunnelRequest  = "tunnel-request"
	TypeTunnelResponse = "tunnel-response"
	TypeTunnelError    = "tunnel-error"
	TypePing           = "ping"
	TypePong           = "pong"
)

// Frame is one complete message on the control channel: a tagged union
// discriminated by Type. Only the fields belonging to the discriminant
// are populated; the rest stay off the wire.
type Frame struct {
	Type      string         `json:"type"`
	Subdomain string         `json:"subdomain,omitempty"`
	URL       string         `json:"url,omitempty"`
	Request   *RequestFrame  `json:"request,omitempty"`
	Response  *ResponseFrame `json:"response,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// RequestFrame is the serialised form of a public http request forwarded
// through the tunnel. Body is base64 of the raw bytes, or null when absent.
type RequestFrame struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Body    *string           `json:"body"`
}

// ResponseFrame is the serialised form of the origin's http response.
type ResponseFrame struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    *string           `json:"body"`
}

// KnownType reports whether t is one of the protocol discriminants.
func KnownType(t string) bool {
	switch t {
	case TypeTunnelAssigned, TypeTunnelRequest, TypeTunnelResponse,
		TypeTunnelError, TypePing, TypePong:
		return true
	}
	return false
}

// MarshalFrame serialises a frame into its wire form.
func MarshalFrame(f *Frame) ([]byte, error) {
	if !KnownType(f.Type) {
		return nil, fmt.Errorf("unknown frame type: %q", f.Type)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshalling frame: %w", err)
	}
	return data, nil
}

// UnmarshalFrame deserialises a wire message into a frame. An unknown
// discriminant is an error so callers can drop the frame with a warning.
func UnmarshalFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing frame: %w", err)
	}
	if !KnownType(f.Type) {
		return nil, fmt.Errorf("unknown frame type: %q", f.Type)
	}
	return &f, nil
}

// EncodeBody converts raw bytes to the wire representation of a body.
// absent and zero-length bodies are both the null marker, never "".
func EncodeBody(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	s := base64.StdEncoding.EncodeToString(raw)
	return &s
}

// DecodeBody converts a wire body back to raw bytes (empty for null).
func DecodeBody(body *string) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(*body)
	if err != nil {
		return nil, fmt.Errorf("decoding body: %w", err)
	}
	return raw, nil
}
