package protocol

import "testing"

func TestKnownCodes(t *testing.T) {
	for _, code := range []int{
		CodeParseError, CodeInvalidRequest, CodeMethodNotFound,
		CodeInvalidParams, CodeInternalError,
		CodePluginNotFound, CodePluginNotReady, CodeHealthCheckTimeout,
		CodeResourceExhausted, CodeModelLoadFailed,
	} {
		if !Known(code) {
			t.Errorf("code %d should be known", code)
		}
	}
	if Known(-31999) {
		t.Error("-31999 should be unknown")
	}
	if Known(0) {
		t.Error("0 should be unknown")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(CodeMethodNotFound); got != "method not found" {
		t.Errorf("describe -32601: got %q", got)
	}
	if got := Describe(12345); got != "unknown error code" {
		t.Errorf("describe unknown: got %q", got)
	}
}

func TestRecoverable(t *testing.T) {
	recoverable := []int{CodePluginNotReady, CodeHealthCheckTimeout, CodeResourceExhausted}
	for _, code := range recoverable {
		if !Recoverable(code) {
			t.Errorf("code %d should be recoverable", code)
		}
	}
	for _, code := range []int{CodeParseError, CodePluginNotFound, CodeHotSwapFailed, 9999} {
		if Recoverable(code) {
			t.Errorf("code %d should not be recoverable", code)
		}
	}
}

func TestSymbol(t *testing.T) {
	if got := Symbol(-32601); got != "RPC_ERROR_-32601" {
		t.Errorf("symbol: got %q", got)
	}
	// Unknown codes still render legibly.
	if got := Symbol(-1); got != "RPC_ERROR_-1" {
		t.Errorf("symbol: got %q", got)
	}
}
