// file: internal/rpcerr/types.go
package rpcerr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// SubError is one element of a response's "data" array: a handler-supplied
// diagnostic distinct from the top-level {code, message}.
type SubError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Sentinel errors usable with errors.Is, one per decode/dispatch condition
// the original's RPCErrorCode enum distinguishes.
var (
	ErrParseError         = errors.New("parse error")
	ErrMissingVersion     = errors.New("missing version field")
	ErrInvalidVersionType = errors.New("invalid version type, should be a string")
	ErrInvalidVersion     = errors.New("invalid version, 2.0 only")
	ErrMissingMethod      = errors.New("missing method field")
	ErrInvalidMethodType  = errors.New("invalid method type, should be a string")
	ErrNullID             = errors.New("use of null as id is discouraged")
	ErrInvalidIDType      = errors.New("invalid id type")
	ErrEmptyID            = errors.New("empty id is not allowed")
	ErrInvalidParamType   = errors.New("invalid params type, should be a structure")

	ErrMethodNotFound = errors.New("method not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("not authorized")
	ErrExecutionError = errors.New("error during execution")
)

// RPCError is the fully-formed error the engine attaches to a response
// element: a wire code, a message, and optional handler-supplied sub-errors.
type RPCError struct {
	Code    int
	Message string
	Data    []SubError
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// New builds an RPCError carrying the standard wire message for code.
func New(code int) *RPCError {
	return &RPCError{Code: code, Message: UserFacingMessage(code)}
}

// WithData attaches handler sub-errors and returns the same RPCError.
func (e *RPCError) WithData(data []SubError) *RPCError {
	e.Data = data
	return e
}

// ErrorWithDetails tags err with a category and code as cockroachdb/errors
// detail strings, plus any additional properties, mirroring the pattern
// used throughout this codebase's ambient error handling.
func ErrorWithDetails(err error, category string, code int, details map[string]interface{}) error {
	err = errors.WithDetail(err, fmt.Sprintf("category:%s", category))
	err = errors.WithDetail(err, fmt.Sprintf("code:%d", code))
	for key, value := range details {
		err = errors.WithDetail(err, fmt.Sprintf("%s:%v", key, value))
	}
	return err
}

// GetCategory extracts the category detail set by ErrorWithDetails, if any.
func GetCategory(err error) string {
	for _, detail := range errors.GetAllDetails(err) {
		if rest, ok := strings.CutPrefix(detail, "category:"); ok {
			return rest
		}
	}
	return ""
}

// GetCode extracts the code detail set by ErrorWithDetails, defaulting to
// CodeInternalError when absent.
func GetCode(err error) int {
	for _, detail := range errors.GetAllDetails(err) {
		if rest, ok := strings.CutPrefix(detail, "code:"); ok {
			if code, parseErr := strconv.Atoi(rest); parseErr == nil {
				return code
			}
		}
	}
	return CodeInternalError
}

// ToRPCError converts any error into the wire RPCError shape, preferring an
// already-attached *RPCError, falling back to the category/code details, and
// finally to a bare internal error.
func ToRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	code := GetCode(err)
	return New(code)
}
