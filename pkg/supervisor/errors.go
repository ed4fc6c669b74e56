package supervisor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/plugforge/plugforge/pkg/protocol"
)

// Kind partitions supervisor failures. Per-call kinds are returned to the
// caller and never change supervisor state; SpawnFailure and RespawnFailed
// are fatal to a start.
type Kind int

const (
	// KindSpawnFailure: child could not be created or its pipes attached.
	KindSpawnFailure Kind = iota
	// KindNotRunning: admission rejected, supervisor not in a serving state.
	KindNotRunning
	// KindShuttingDown: admission rejected, teardown has begun.
	KindShuttingDown
	// KindTimeout: per-call deadline elapsed before a response.
	KindTimeout
	// KindCrashed: child stdout reached EOF while a response was expected.
	KindCrashed
	// KindRPC: the child returned a well-formed error envelope.
	KindRPC
	// KindResponseMissing: a response slot collapsed without a response.
	KindResponseMissing
	// KindIO: low-level pipe failure in the writer or reader.
	KindIO
	// KindJSON: encode or decode failure.
	KindJSON
	// KindRespawnFailed: the respawn policy exhausted its attempts.
	KindRespawnFailed
	// KindChannelClosed: pump teardown observed mid-call.
	KindChannelClosed
	// KindNotInitialised: operation attempted before start completed.
	KindNotInitialised
)

var kindSymbols = map[Kind]string{
	KindSpawnFailure:    "SPAWN_FAILURE",
	KindNotRunning:      "NOT_RUNNING",
	KindShuttingDown:    "SHUTTING_DOWN",
	KindTimeout:         "TIMEOUT",
	KindCrashed:         "SUBPROCESS_CRASHED",
	KindRPC:             "RPC_ERROR",
	KindResponseMissing: "RESPONSE_MISSING",
	KindIO:              "IO_ERROR",
	KindJSON:            "JSON_ERROR",
	KindRespawnFailed:   "RESPAWN_FAILED",
	KindChannelClosed:   "CHANNEL_CLOSED",
	KindNotInitialised:  "NOT_INITIALISED",
}

// Error is the typed failure surface of the supervisor.
type Error struct {
	Kind    Kind
	Message string
	// Code is the child's error code for KindRPC.
	Code int
	// Data is the child's structured error detail for KindRPC, if any.
	Data json.RawMessage
	// Err is the wrapped cause for KindSpawnFailure, KindIO and KindJSON.
	Err error
}

func (e *Error) Error() string {
	if e.Kind == KindRPC {
		return fmt.Sprintf("supervisor: rpc error %d (%s): %s",
			e.Code, protocol.Describe(e.Code), e.Message)
	}
	return "supervisor: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the caller may reasonably retry. RPC errors
// defer to the code registry; timeouts are retryable by nature.
func (e *Error) Recoverable() bool {
	switch e.Kind {
	case KindRPC:
		return protocol.Recoverable(e.Code)
	case KindTimeout:
		return true
	}
	return false
}

// Envelope is the structured error form handed to the UI tier.
type Envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Envelope renders the error for display. RPC errors encode their integer
// code as RPC_ERROR_<n> so standard and application codes stay legible.
func (e *Error) Envelope() Envelope {
	code := kindSymbols[e.Kind]
	if e.Kind == KindRPC {
		code = protocol.Symbol(e.Code)
	}
	return Envelope{
		Code:    code,
		Message: e.Message,
		Details: e.Data,
	}
}

func errSpawnFailure(err error) *Error {
	return &Error{Kind: KindSpawnFailure, Message: err.Error(), Err: err}
}

func errNotRunning(msg string) *Error {
	return &Error{Kind: KindNotRunning, Message: msg}
}

func errShuttingDown() *Error {
	return &Error{Kind: KindShuttingDown, Message: "supervisor is shutting down"}
}

func errTimeout(d time.Duration) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf("request timed out after %gs", d.Seconds())}
}

func errCrashed() *Error {
	return &Error{Kind: KindCrashed, Message: "subprocess crashed (stdout closed)"}
}

func errRPC(obj *protocol.ErrorObject) *Error {
	return &Error{Kind: KindRPC, Code: obj.Code, Message: obj.Message, Data: obj.Data}
}

func errResponseMissing(id uint64) *Error {
	return &Error{Kind: KindResponseMissing, Message: fmt.Sprintf("response slot for id %d collapsed without a response", id)}
}

func errJSON(err error) *Error {
	return &Error{Kind: KindJSON, Message: err.Error(), Err: err}
}

func errRespawnFailed(attempts int) *Error {
	return &Error{Kind: KindRespawnFailed, Message: fmt.Sprintf("respawn failed after %d attempts", attempts)}
}

func errChannelClosed() *Error {
	return &Error{Kind: KindChannelClosed, Message: "request channel closed during call"}
}
