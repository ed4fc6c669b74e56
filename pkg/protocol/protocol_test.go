package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeRequest_Shape(t *testing.T) {
	line, err := EncodeRequest(7, "plugin/list", map[string]any{"filter": "tts"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.Contains(string(line), "\n") {
		t.Error("encoded line must not contain a newline")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["jsonrpc"]) != `"2.0"` {
		t.Errorf("jsonrpc tag: got %s", raw["jsonrpc"])
	}
	if string(raw["id"]) != "7" {
		t.Errorf("id: got %s", raw["id"])
	}
	if string(raw["method"]) != `"plugin/list"` {
		t.Errorf("method: got %s", raw["method"])
	}
	if _, ok := raw["params"]; !ok {
		t.Error("params missing")
	}
}

func TestEncodeRequest_NilParamsOmitted(t *testing.T) {
	for _, params := range []any{nil, (*struct{})(nil)} {
		line, err := EncodeRequest(1, "ping", params)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if strings.Contains(string(line), "params") {
			t.Errorf("params should be omitted, got %s", line)
		}
	}
}

func TestEncodeRequest_EmptyMethod(t *testing.T) {
	if _, err := EncodeRequest(1, "", nil); err != ErrEmptyMethod {
		t.Errorf("expected ErrEmptyMethod, got %v", err)
	}
}

func TestEncodeNotification_NoID(t *testing.T) {
	line, err := EncodeNotification("log", map[string]any{"level": "info"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["id"]; ok {
		t.Error("notification must omit id")
	}
}

func TestDecodeResponse_Result(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"jsonrpc":"2.0","id":42,"result":{"plugins":[]}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == nil || *resp.ID != 42 {
		t.Errorf("id: got %v", resp.ID)
	}
	if resp.IsError() {
		t.Error("unexpected error envelope")
	}
	if string(resp.Result) != `{"plugins":[]}` {
		t.Errorf("result: got %s", resp.Result)
	}
}

func TestDecodeResponse_Error(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.IsError() {
		t.Fatal("expected error envelope")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("code: got %d", resp.Error.Code)
	}
	if resp.Error.Message != "Method not found" {
		t.Errorf("message: got %q", resp.Error.Message)
	}
}

func TestDecodeResponse_RejectsResultAndError(t *testing.T) {
	_, err := DecodeResponse([]byte(`{"jsonrpc":"2.0","id":1,"result":1,"error":{"code":-1,"message":"x"}}`))
	if err != ErrResultAndError {
		t.Errorf("expected ErrResultAndError, got %v", err)
	}
}

func TestDecodeResponse_NullID(t *testing.T) {
	// The child answers with a null id when it could not parse the request.
	resp, err := DecodeResponse([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != nil {
		t.Errorf("expected nil id, got %v", *resp.ID)
	}
}

func TestDecodeResponse_BadVersion(t *testing.T) {
	if _, err := DecodeResponse([]byte(`{"jsonrpc":"1.0","id":1,"result":1}`)); err == nil {
		t.Error("expected version error")
	}
}

func TestDecodeResponse_NotJSON(t *testing.T) {
	if _, err := DecodeResponse([]byte(`Traceback (most recent call last):`)); err == nil {
		t.Error("expected parse error")
	}
}

func TestRoundTrip(t *testing.T) {
	type params struct {
		Name string `json:"name"`
	}
	line, err := EncodeRequest(3, "plugin/load", params{Name: "tts"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.JSONRPC != Version || req.ID == nil || *req.ID != 3 || req.Method != "plugin/load" {
		t.Errorf("round trip mismatch: %+v", req)
	}
	var p params
	if err := json.Unmarshal(req.Params, &p); err != nil {
		t.Fatalf("params: %v", err)
	}
	if p.Name != "tts" {
		t.Errorf("params round trip: got %q", p.Name)
	}
}
