// Package rpcerr defines the stable error code taxonomy for the JSON-RPC
// core and the cockroachdb/errors helpers used to attach it to Go errors.
// file: internal/rpcerr/codes.go
package rpcerr

// Categories for grouping similar errors, attached as an error detail so
// callers can recover it without a type switch.
const (
	CategoryCodec      = "codec"
	CategoryRegistry   = "registry"
	CategoryDispatch   = "dispatch"
	CategoryAuth       = "auth"
	CategoryTransport  = "transport"
	CategoryPlugin     = "plugin"
	CategoryConfig     = "config"
)

// Standard JSON-RPC 2.0 error codes (-32768 to -32000 reserved).
const (
	CodeParseError     = -32700 // document is not valid JSON/YAML.
	CodeInvalidRequest = -32600 // well-formed document, invalid request shape.
	CodeMethodNotFound = -32601 // method name not in registry.
	CodeInvalidParams  = -32602 // params violate a handler's declared schema.
	CodeInternalError  = -32603 // unexpected fault in the engine.
)

// Per-field decode error codes. Small positive integers, distinct from the
// negative JSON-RPC 2.0 codes, matching the original implementation's
// error_code enum (rpc::error::RPCErrorCode).
const (
	CodeInvalidVersion     = 1 // jsonrpc present but not "2.0".
	CodeInvalidVersionType = 2 // jsonrpc present but not a string.
	CodeMissingVersion     = 3 // jsonrpc field absent.
	CodeInvalidMethodType  = 4 // method present but not a string.
	CodeMissingMethod      = 5 // method field absent.
	CodeInvalidParamType   = 6 // params present but neither mapping nor sequence.
	CodeInvalidIDType      = 7 // id present but not a string.
	CodeNullID             = 8 // id present and JSON null.
	CodeExecutionError     = 9  // handler completed but reported failure, or panicked.
	CodeUnauthorized       = 10 // an authorisation checker vetoed the call.
	CodeEmptyID            = 11 // id present and the empty string.
)

// UserFacingMessage returns the wire-visible message for a code, matching
// the original RPCErrorCategory::message() table verbatim.
func UserFacingMessage(code int) string {
	switch code {
	case CodeParseError:
		return "Parse error"
	case CodeInvalidRequest:
		return "Invalid Request"
	case CodeMethodNotFound:
		return "Method not found"
	case CodeInvalidParams:
		return "Invalid params"
	case CodeInternalError:
		return "Internal error"
	case CodeInvalidVersion:
		return "Invalid version, 2.0 only"
	case CodeInvalidVersionType:
		return "Invalid version type, should be a string"
	case CodeMissingVersion:
		return "Missing version field"
	case CodeInvalidMethodType:
		return "Invalid method type, should be a string"
	case CodeMissingMethod:
		return "Missing method field"
	case CodeInvalidParamType:
		return "Invalid params type, should be a structure"
	case CodeInvalidIDType:
		return "Invalid id type"
	case CodeNullID:
		return "Use of null as id is discouraged"
	case CodeEmptyID:
		return "Empty id is not allowed"
	case CodeExecutionError:
		return "Error during execution"
	case CodeUnauthorized:
		return "Not authorized to invoke this method"
	default:
		return "Rpc error"
	}
}
