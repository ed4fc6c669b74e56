package supervisor

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/plugforge/plugforge/pkg/protocol"
)

func TestErrorEnvelopes(t *testing.T) {
	cases := []struct {
		err  *Error
		code string
	}{
		{errNotRunning("x"), "NOT_RUNNING"},
		{errShuttingDown(), "SHUTTING_DOWN"},
		{errTimeout(time.Second), "TIMEOUT"},
		{errCrashed(), "SUBPROCESS_CRASHED"},
		{errChannelClosed(), "CHANNEL_CLOSED"},
		{errResponseMissing(4), "RESPONSE_MISSING"},
		{errRespawnFailed(3), "RESPAWN_FAILED"},
		{errRPC(&protocol.ErrorObject{Code: -32001, Message: "not ready"}), "RPC_ERROR_-32001"},
	}
	for _, tc := range cases {
		if got := tc.err.Envelope().Code; got != tc.code {
			t.Errorf("envelope code: got %q, want %q", got, tc.code)
		}
	}
}

func TestErrorRecoverable(t *testing.T) {
	if !errTimeout(time.Second).Recoverable() {
		t.Error("timeouts should be retryable")
	}
	if !errRPC(&protocol.ErrorObject{Code: protocol.CodePluginNotReady}).Recoverable() {
		t.Error("plugin-not-ready should be retryable")
	}
	if errRPC(&protocol.ErrorObject{Code: protocol.CodePluginNotFound}).Recoverable() {
		t.Error("plugin-not-found is not retryable")
	}
	if errCrashed().Recoverable() {
		t.Error("a crash is not per-call retryable")
	}
}

func TestErrorMessages(t *testing.T) {
	err := errTimeout(1500 * time.Millisecond)
	if !strings.Contains(err.Error(), "1.5s") {
		t.Errorf("timeout message should carry seconds: %q", err.Error())
	}

	rpc := errRPC(&protocol.ErrorObject{Code: -32601, Message: "Method not found"})
	if !strings.Contains(rpc.Error(), "-32601") || !strings.Contains(rpc.Error(), "method not found") {
		t.Errorf("rpc message: %q", rpc.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("pipe broke")
	err := errJSON(cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should survive errors.Is")
	}
}

func TestEnvelopeCarriesRPCData(t *testing.T) {
	data := json.RawMessage(`{"plugin":"tts"}`)
	err := errRPC(&protocol.ErrorObject{Code: -32000, Message: "plugin not found", Data: data})
	env := err.Envelope()
	if string(env.Details) != `{"plugin":"tts"}` {
		t.Errorf("details: got %s", env.Details)
	}
}
