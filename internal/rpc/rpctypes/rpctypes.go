// Package rpctypes holds the data model shared by every layer of the RPC
// core — request/response elements and batches, handler records, and the
// handler-kind tags the dispatcher matches on. codec and registry depend
// only on this package (and rpcerr) for their shared types; dispatch builds
// on registry, and engine on codec and dispatch.
// file: internal/rpc/rpctypes/rpctypes.go
package rpctypes

import "github.com/trafficctl/rpcmgmt/internal/rpcerr"

// Version is the only protocol version this core accepts.
const Version = "2.0"

// RequestElement is one decoded JSON-RPC request, valid or not. DecodeErr is
// non-nil when extraction of some field failed; the element still carries
// whatever fields were successfully captured (notably ID) so the encoder can
// echo them back.
type RequestElement struct {
	Version   string
	Method    string
	ID        *string // nil means "no id" (notification), distinct from an empty string.
	Params    interface{}
	DecodeErr error
}

// IsNotification reports whether this element carries no identifier.
func (r RequestElement) IsNotification() bool {
	return r.ID == nil
}

// RequestBatch is the decoded form of one inbound message: an ordered list
// of elements plus whether the wire document was a top-level array.
type RequestBatch struct {
	Elements []RequestElement
	IsBatch  bool
	// TopLevelErr is set when the document itself could not be decoded into
	// any elements at all (parse failure, empty array, wrong top-level
	// shape); Elements is empty in that case.
	TopLevelErr error
}

// ResponseElement is one encodable JSON-RPC response. When Err is non-nil
// the element is encoded as an error and Result is left unset; Result and
// Err must never both be populated (spec invariant: a response never
// carries both).
type ResponseElement struct {
	ID     *string
	Result interface{}
	Err    *rpcerr.RPCError
}

// ResponseBatch mirrors RequestBatch's shape so single-object input yields
// single-object output and array input yields array output.
type ResponseBatch struct {
	Elements []ResponseElement
	IsBatch  bool
}

// HandlerKind tags which of the three callable variants a Handler wraps.
// The registry stores the tag alongside the callable itself so the
// dispatcher can reject a kind mismatch without attempting invocation.
type HandlerKind int

const (
	// KindMethod is a synchronous (id, params) -> (result, subErrors, error) callable.
	KindMethod HandlerKind = iota
	// KindNotification is a synchronous (params) -> error callable whose
	// outcome is never reported to the caller.
	KindNotification
	// KindPluginMethod is a (id, params) -> error callable that signals
	// completion out of band via the rendezvous in package dispatch.
	KindPluginMethod
)

func (k HandlerKind) String() string {
	switch k {
	case KindMethod:
		return "method"
	case KindNotification:
		return "notification"
	case KindPluginMethod:
		return "method" // plugin methods present as ordinary methods to introspection.
	default:
		return "unknown"
	}
}

// MethodFunc is the Method handler variant: runs inline, returns a result or
// a failure description.
type MethodFunc func(ctx Context, id string, params interface{}) (result interface{}, subErrors []rpcerr.SubError, err error)

// NotificationFunc is the Notification handler variant: runs inline, best
// effort, its outcome is discarded by the dispatcher.
type NotificationFunc func(ctx Context, params interface{}) error

// PluginMethodFunc is the Plugin-method handler variant: invoked inline but
// expected to hand its result to the rendezvous from another goroutine
// before returning control to the dispatcher's wait.
type PluginMethodFunc func(ctx Context, id string, params interface{}) error

// HandlerOptions carries per-handler metadata the dispatcher and
// introspection handlers consult. Unknown/extra fields are deliberately not
// modelled: this core only ever reads Restricted, per spec.
type HandlerOptions struct {
	Restricted bool
}

// Handler is one registry entry: exactly one of the three callables is set,
// matching Kind.
type Handler struct {
	Kind         HandlerKind
	Method       MethodFunc
	Notification NotificationFunc
	Plugin       PluginMethodFunc
	ProviderInfo string
	Options      HandlerOptions
}

// Context is the per-call authorisation container the engine threads
// through dispatch. Defined here (rather than in its own package) so both
// rpctypes' function signatures and package rpccontext's constructors share
// one type without an import cycle.
type Context struct {
	Checkers []AuthChecker
}

// AuthChecker vets a handler's options before invocation, returning a
// non-nil error to veto the call.
type AuthChecker func(opts HandlerOptions) error

// Authorize runs every checker in order, stopping at (and returning) the
// first failure.
func (c Context) Authorize(opts HandlerOptions) error {
	for _, check := range c.Checkers {
		if err := check(opts); err != nil {
			return err
		}
	}
	return nil
}
