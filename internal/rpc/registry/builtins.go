// file: internal/rpc/registry/builtins.go
package registry

import (
	"github.com/trafficctl/rpcmgmt/internal/rpc/rpctypes"
	"github.com/trafficctl/rpcmgmt/internal/rpcerr"
)

// serviceDescriptor is one entry of get_service_descriptor's result list
// (spec §6 "Built-in methods"). Schema carries the handler's declared
// params schema document, or an empty mapping when none was registered.
type serviceDescriptor struct {
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Provider   string                 `json:"provider"`
	Privileged bool                   `json:"privileged"`
	Schema     map[string]interface{} `json:"schema"`
}

// registerBuiltins installs show_registered_handlers and
// get_service_descriptor, both non-restricted. Registration failure here
// would only ever mean a name collision with itself at construction time and
// is impossible on a fresh Registry, but is logged rather than treated as
// fatal to match spec §4.2's "logged but non-fatal" policy for built-ins.
func (r *Registry) registerBuiltins() {
	ok := r.Register("show_registered_handlers", rpctypes.Handler{
		Kind:         rpctypes.KindMethod,
		ProviderInfo: "core",
		Method:       r.showRegisteredHandlers,
	})
	if !ok {
		r.logger.Warn("failed to register built-in handler", "method", "show_registered_handlers")
	}

	ok = r.Register("get_service_descriptor", rpctypes.Handler{
		Kind:         rpctypes.KindMethod,
		ProviderInfo: "core",
		Method:       r.getServiceDescriptor,
	})
	if !ok {
		r.logger.Warn("failed to register built-in handler", "method", "get_service_descriptor")
	}
}

func (r *Registry) showRegisteredHandlers(_ rpctypes.Context, _ string, _ interface{}) (interface{}, []rpcerr.SubError, error) {
	var methods, notifications []string
	for _, entry := range r.Enumerate() {
		if entry.Kind == rpctypes.KindNotification {
			notifications = append(notifications, entry.Name)
		} else {
			methods = append(methods, entry.Name)
		}
	}
	return map[string]interface{}{
		"methods":       methods,
		"notifications": notifications,
	}, nil, nil
}

func (r *Registry) getServiceDescriptor(_ rpctypes.Context, _ string, _ interface{}) (interface{}, []rpcerr.SubError, error) {
	descriptors := make([]serviceDescriptor, 0, len(r.Enumerate()))
	for _, entry := range r.Enumerate() {
		schema := entry.Schema
		if schema == nil {
			schema = map[string]interface{}{}
		}
		descriptors = append(descriptors, serviceDescriptor{
			Name:       entry.Name,
			Type:       entry.Kind.String(),
			Provider:   entry.Provider,
			Privileged: entry.Restricted,
			Schema:     schema,
		})
	}
	return map[string]interface{}{"methods": descriptors}, nil, nil
}
