// Package engine orchestrates one inbound message end to end: decode, per-
// element dispatch, response assembly, encode (spec §4.4). It is the only
// package the transport talks to; everything else in internal/rpc is wired
// together here.
// file: internal/rpc/engine/engine.go
package engine

import (
	"github.com/trafficctl/rpcmgmt/internal/rpc/codec"
	"github.com/trafficctl/rpcmgmt/internal/rpc/dispatch"
	"github.com/trafficctl/rpcmgmt/internal/rpc/rpctypes"
	"github.com/trafficctl/rpcmgmt/internal/rpcerr"
)

// Engine ties the Codec to a Dispatcher.
type Engine struct {
	dispatcher *dispatch.Dispatcher
}

// New builds an Engine over dispatcher.
func New(dispatcher *dispatch.Dispatcher) *Engine {
	return &Engine{dispatcher: dispatcher}
}

// Handle runs spec §4.4 steps 1-5 for one inbound message, returning the
// bytes to write back, or nil when nothing should be written (pure
// notification traffic).
func (e *Engine) Handle(ctx rpctypes.Context, message []byte) ([]byte, error) {
	batch := codec.Decode(message)

	if batch.TopLevelErr != nil {
		out := rpctypes.ResponseBatch{
			Elements: []rpctypes.ResponseElement{{Err: rpcerr.ToRPCError(batch.TopLevelErr)}},
		}
		return codec.Encode(out)
	}

	responses := make([]rpctypes.ResponseElement, 0, len(batch.Elements))
	for _, elem := range batch.Elements {
		if elem.DecodeErr != nil {
			responses = append(responses, rpctypes.ResponseElement{
				ID:  elem.ID,
				Err: rpcerr.ToRPCError(elem.DecodeErr),
			})
			continue
		}
		if resp := e.dispatcher.Dispatch(ctx, elem); resp != nil {
			responses = append(responses, *resp)
		}
	}

	if len(responses) == 0 {
		return nil, nil
	}

	return codec.Encode(rpctypes.ResponseBatch{Elements: responses, IsBatch: batch.IsBatch})
}
