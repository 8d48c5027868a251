// Package rpccontext builds the per-call rpctypes.Context the transport
// populates before handing a request to the dispatcher (spec §3 "Context",
// §4.6 "Credential checker").
// file: internal/rpc/rpccontext/rpccontext.go
package rpccontext

import (
	"fmt"

	"github.com/trafficctl/rpcmgmt/internal/rpc/rpctypes"
	"github.com/trafficctl/rpcmgmt/internal/rpcerr"
)

// New builds a Context carrying the given checkers, run in order by
// rpctypes.Context.Authorize.
func New(checkers ...rpctypes.AuthChecker) rpctypes.Context {
	return rpctypes.Context{Checkers: checkers}
}

// PeerCredentials describes the identity of the peer the transport accepted
// a connection from, as read from the socket (spec §4.6).
type PeerCredentials struct {
	UID uint32
	GID uint32
}

// CredentialChecker returns an AuthChecker that vets a restricted handler's
// invocation against the connected peer's uid: a mismatch with the serving
// process's own uid is rejected. Non-restricted handlers are always allowed
// through regardless of peer identity.
func CredentialChecker(peer PeerCredentials, serverUID uint32) rpctypes.AuthChecker {
	return func(opts rpctypes.HandlerOptions) error {
		if !opts.Restricted {
			return nil
		}
		if peer.UID != serverUID {
			return rpcerr.ErrorWithDetails(
				rpcerr.ErrUnauthorized,
				rpcerr.CategoryAuth,
				rpcerr.CodeUnauthorized,
				map[string]interface{}{
					"reason": fmt.Sprintf("peer uid %d does not match server uid %d", peer.UID, serverUID),
				},
			)
		}
		return nil
	}
}

// AllowAll is the permissive Context used by tooling paths (e.g. the
// introspection built-ins invoked outside of a live connection) that never
// need to enforce the restricted flag.
func AllowAll() rpctypes.Context {
	return rpctypes.Context{}
}
