package protocol

import "fmt"

// JSON-RPC 2.0 protocol-level error codes (-32700..-32600).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application error codes (-32000..-32099) assigned by the plugin host.
// The supervisor passes these through; only the recoverability hint is
// interpreted on this side.
const (
	CodePluginNotFound     = -32000
	CodePluginNotReady     = -32001
	CodePluginLoadFailed   = -32002
	CodePluginInitFailed   = -32003
	CodePluginShutdownFail = -32004
	CodePluginAlreadyLoad  = -32005

	CodeContractViolation = -32010
	CodeContractMismatch  = -32011
	CodeManifestInvalid   = -32012
	CodeManifestMissing   = -32013

	CodeHotSwapFailed     = -32020
	CodeHotSwapInProgress = -32021

	CodeDiscoveryFailed = -32030

	CodeHealthCheckTimeout = -32040

	CodeResourceExhausted = -32050
	CodeDependencyMissing = -32051
	CodeModelLoadFailed   = -32052
)

type codeInfo struct {
	name        string
	recoverable bool
}

var codeTable = map[int]codeInfo{
	CodeParseError:     {name: "parse error"},
	CodeInvalidRequest: {name: "invalid request"},
	CodeMethodNotFound: {name: "method not found"},
	CodeInvalidParams:  {name: "invalid params"},
	CodeInternalError:  {name: "internal error"},

	CodePluginNotFound:     {name: "plugin not found"},
	CodePluginNotReady:     {name: "plugin not ready", recoverable: true},
	CodePluginLoadFailed:   {name: "plugin load failed"},
	CodePluginInitFailed:   {name: "plugin initialize failed"},
	CodePluginShutdownFail: {name: "plugin shutdown failed"},
	CodePluginAlreadyLoad:  {name: "plugin already loaded"},

	CodeContractViolation: {name: "contract violation"},
	CodeContractMismatch:  {name: "contract version mismatch"},
	CodeManifestInvalid:   {name: "manifest invalid"},
	CodeManifestMissing:   {name: "manifest missing"},

	CodeHotSwapFailed:     {name: "hot-swap failed"},
	CodeHotSwapInProgress: {name: "hot-swap in progress"},

	CodeDiscoveryFailed: {name: "discovery failed"},

	CodeHealthCheckTimeout: {name: "health check timeout", recoverable: true},

	CodeResourceExhausted: {name: "resource exhausted", recoverable: true},
	CodeDependencyMissing: {name: "dependency unavailable"},
	CodeModelLoadFailed:   {name: "model load failed"},
}

// Known reports whether code belongs to the protocol or application ranges
// this host understands. Unknown codes are still passed through to callers.
func Known(code int) bool {
	_, ok := codeTable[code]
	return ok
}

// Describe returns a short human description of an error code, or "unknown
// error code" for codes outside the registry.
func Describe(code int) string {
	if info, ok := codeTable[code]; ok {
		return info.name
	}
	return "unknown error code"
}

// Recoverable reports whether a caller may reasonably retry after seeing
// this code. Only plugin-not-ready, health-check-timeout and
// resource-exhausted qualify.
func Recoverable(code int) bool {
	return codeTable[code].recoverable
}

// Symbol returns the symbolic string form used in user-facing error
// envelopes, e.g. "RPC_ERROR_-32601". Both standard and application codes
// stay legible this way.
func Symbol(code int) string {
	return fmt.Sprintf("RPC_ERROR_%d", code)
}
