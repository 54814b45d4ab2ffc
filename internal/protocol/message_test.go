package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func Test_request_frame_round_trip(t *testing.T) {
	original := &Frame{
		Type: TypeTunnelRequest,
		Request: &RequestFrame{
			ID:      "a4f2c9d1-0000-4000-8000-000000000001",
			Method:  "POST",
			Path:    "/echo?x=1",
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    EncodeBody([]byte(`{"hello":"world"}`)),
		},
	}

	data, err := MarshalFrame(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	decoded, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Type != TypeTunnelRequest {
		t.Errorf("type mismatch: got %q", decoded.Type)
	}
	if decoded.Request == nil {
		t.Fatal("missing nested request record")
	}
	if decoded.Request.ID != original.Request.ID {
		t.Errorf("id mismatch: got %q", decoded.Request.ID)
	}
	if decoded.Request.Path != "/echo?x=1" {
		t.Errorf("path mismatch: got %q", decoded.Request.Path)
	}

	body, err := DecodeBody(decoded.Request.Body)
	if err != nil {
		t.Fatalf("body decode failed: %v", err)
	}
	if !bytes.Equal(body, []byte(`{"hello":"world"}`)) {
		t.Errorf("body mismatch: got %q", body)
	}
}

func Test_empty_body_is_null_on_the_wire(t *testing.T) {
	f := &Frame{
		Type: TypeTunnelResponse,
		Response: &ResponseFrame{
			ID:      "id-1",
			Status:  204,
			Headers: map[string]string{},
			Body:    EncodeBody(nil),
		},
	}

	data, err := MarshalFrame(f)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	if !strings.Contains(string(data), `"body":null`) {
		t.Errorf("expected explicit null body marker, got %s", data)
	}
	if strings.Contains(string(data), `"body":""`) {
		t.Errorf("zero-length body must not serialise as empty string: %s", data)
	}
}

func Test_zero_length_body_encodes_as_null(t *testing.T) {
	if EncodeBody([]byte{}) != nil {
		t.Error("zero-length body should encode as null")
	}
	if EncodeBody(nil) != nil {
		t.Error("absent body should encode as null")
	}

	raw, err := DecodeBody(nil)
	if err != nil {
		t.Fatalf("decoding null body failed: %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("null body should decode to empty bytes, got %d", len(raw))
	}
}

func Test_ping_pong_carry_no_payload(t *testing.T) {
	for _, typ := range []string{TypePing, TypePong} {
		data, err := MarshalFrame(&Frame{Type: typ})
		if err != nil {
			t.Fatalf("marshal %s failed: %v", typ, err)
		}

		var wire map[string]json.RawMessage
		if err := json.Unmarshal(data, &wire); err != nil {
			t.Fatalf("unmarshal %s wire form: %v", typ, err)
		}
		if len(wire) != 1 {
			t.Errorf("%s frame should carry only the type field, got %s", typ, data)
		}
	}
}

func Test_unknown_discriminant_is_rejected(t *testing.T) {
	if _, err := UnmarshalFrame([]byte(`{"type":"tunnel-teleport"}`)); err == nil {
		t.Fatal("expected error for unknown discriminant")
	}
	if _, err := MarshalFrame(&Frame{Type: "bogus"}); err == nil {
		t.Fatal("expected error marshalling unknown discriminant")
	}
}

func Test_garbage_is_rejected(t *testing.T) {
	if _, err := UnmarshalFrame([]byte("not json at all")); err == nil {
		t.Fatal("expected error for unparseable frame")
	}
}

func Test_assigned_frame_fields(t *testing.T) {
	data, err := MarshalFrame(&Frame{
		Type:      TypeTunnelAssigned,
		Subdomain: "myapp",
		URL:       "https://myapp.tunnel.test.local",
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	decoded, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Subdomain != "myapp" {
		t.Errorf("subdomain mismatch: got %q", decoded.Subdomain)
	}
	if decoded.URL != "https://myapp.tunnel.test.local" {
		t.Errorf("url mismatch: got %q", decoded.URL)
	}
}

func Test_body_decode_rejects_invalid_base64(t *testing.T) {
	bad := "!!not base64!!"
	if _, err := DecodeBody(&bad); err == nil {
		t.Fatal("expected error for invalid base64 body")
	}
}
