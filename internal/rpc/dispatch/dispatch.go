// Package dispatch matches a decoded request element against its
// registered handler and invokes the correct variant (spec §4.3). Plugin
// handlers hand off to a process-wide rendezvous: one mutex, one condition
// variable, one result slot, exactly as the original's single-worker
// transport assumed was safe to share.
// file: internal/rpc/dispatch/dispatch.go
package dispatch

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/trafficctl/rpcmgmt/internal/rpc/registry"
	"github.com/trafficctl/rpcmgmt/internal/rpc/rpctypes"
	"github.com/trafficctl/rpcmgmt/internal/rpcerr"
)

// pluginResult is the single deposit slot a plugin's completion call fills.
type pluginResult struct {
	value     interface{}
	subErrors []rpcerr.SubError
	err       error
}

// Dispatcher owns a Registry and the plugin-completion rendezvous. Safe for
// one in-flight dispatch at a time, which is exactly what the transport's
// single worker guarantees (spec §5).
type Dispatcher struct {
	registry *registry.Registry

	mu        sync.Mutex
	cond      *sync.Cond
	completed bool
	result    pluginResult
}

// New builds a Dispatcher over reg.
func New(reg *registry.Registry) *Dispatcher {
	d := &Dispatcher{registry: reg}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Dispatch runs the algorithm in spec §4.3 step 1-5 for one request element,
// returning the response element to encode or nil when no response should
// be produced (successful notification, or any kind of failure against a
// true notification — spec §7: "Notifications never produce a response,
// even on error").
func (d *Dispatcher) Dispatch(ctx rpctypes.Context, elem rpctypes.RequestElement) *rpctypes.ResponseElement {
	handler, found := d.registry.Lookup(elem.Method)
	notification := elem.IsNotification()

	if !found {
		if notification {
			return nil
		}
		return errorResponse(elem.ID, rpcerr.CodeMethodNotFound)
	}

	if notification {
		if handler.Kind != rpctypes.KindNotification {
			return nil
		}
	} else if handler.Kind == rpctypes.KindNotification {
		return errorResponse(elem.ID, rpcerr.CodeInvalidRequest)
	}

	if err := ctx.Authorize(handler.Options); err != nil {
		if notification {
			return nil
		}
		return errorResponse(elem.ID, rpcerr.CodeUnauthorized)
	}

	if handler.Kind == rpctypes.KindMethod {
		if schema, ok := d.registry.Schema(elem.Method); ok {
			if err := validateParams(schema, elem.Params); err != nil {
				return errorResponse(elem.ID, rpcerr.CodeInvalidParams)
			}
		}
	}

	switch handler.Kind {
	case rpctypes.KindNotification:
		d.invokeNotification(ctx, elem, handler)
		return nil
	case rpctypes.KindMethod:
		return d.invokeMethod(ctx, elem, handler)
	case rpctypes.KindPluginMethod:
		return d.invokePlugin(ctx, elem, handler)
	default:
		return errorResponse(elem.ID, rpcerr.CodeInternalError)
	}
}

// validateParams checks params against schema (spec §6: the Dispatcher
// validates inbound params before invoking a Method handler). params comes
// from the codec's YAML-superset decode, which can produce Go types (e.g.
// plain int) the schema library's JSON-shaped type checks don't recognise;
// round-tripping through encoding/json first normalises it the same way the
// original schema validator normalises raw wire bytes before Validate.
func validateParams(schema *jsonschema.Schema, params interface{}) error {
	encoded, err := json.Marshal(params)
	if err != nil {
		return err
	}
	var normalised interface{}
	if err := json.Unmarshal(encoded, &normalised); err != nil {
		return err
	}
	return schema.Validate(normalised)
}

func (d *Dispatcher) invokeNotification(ctx rpctypes.Context, elem rpctypes.RequestElement, handler rpctypes.Handler) {
	defer func() { _ = recover() }() // best effort: any fault is swallowed, per spec §4.3 step 4.
	_ = handler.Notification(ctx, elem.Params)
}

func (d *Dispatcher) invokeMethod(ctx rpctypes.Context, elem rpctypes.RequestElement, handler rpctypes.Handler) (resp *rpctypes.ResponseElement) {
	defer func() {
		if recover() != nil {
			resp = errorResponse(elem.ID, rpcerr.CodeExecutionError)
		}
	}()

	result, subErrors, err := handler.Method(ctx, idString(elem.ID), elem.Params)
	if err != nil {
		return &rpctypes.ResponseElement{ID: elem.ID, Err: rpcerr.New(rpcerr.CodeExecutionError).WithData(subErrors)}
	}
	return &rpctypes.ResponseElement{ID: elem.ID, Result: result}
}

func (d *Dispatcher) invokePlugin(ctx rpctypes.Context, elem rpctypes.RequestElement, handler rpctypes.Handler) (resp *rpctypes.ResponseElement) {
	defer func() {
		if recover() != nil {
			resp = errorResponse(elem.ID, rpcerr.CodeExecutionError)
		}
	}()

	if err := handler.Plugin(ctx, idString(elem.ID), elem.Params); err != nil {
		return errorResponse(elem.ID, rpcerr.CodeExecutionError)
	}

	res := d.awaitPluginResult()

	if res.err != nil {
		return &rpctypes.ResponseElement{ID: elem.ID, Err: rpcerr.New(rpcerr.CodeExecutionError).WithData(res.subErrors)}
	}
	return &rpctypes.ResponseElement{ID: elem.ID, Result: res.value}
}

// awaitPluginResult blocks until CompletePlugin deposits a value, then
// consumes and clears it. Exactly one dispatcher goroutine waits at a time
// because the transport's accept loop is single-threaded (spec §5).
func (d *Dispatcher) awaitPluginResult() pluginResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	for !d.completed {
		d.cond.Wait()
	}
	res := d.result
	d.completed = false
	d.result = pluginResult{}
	return res
}

// CompletePlugin is the rendezvous' producer side, exposed to plugins as
// "plugin_result_ready" (spec §6 "Plugin completion API"). A plugin must
// call this exactly once per plugin-method invocation; failing to do so
// leaves the dispatcher blocked until the server stops.
func (d *Dispatcher) CompletePlugin(value interface{}, subErrors []rpcerr.SubError, err error) {
	d.mu.Lock()
	d.result = pluginResult{value: value, subErrors: subErrors, err: err}
	d.completed = true
	d.mu.Unlock()
	d.cond.Signal()
}

func idString(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

func errorResponse(id *string, code int) *rpctypes.ResponseElement {
	return &rpctypes.ResponseElement{ID: id, Err: rpcerr.New(code)}
}
