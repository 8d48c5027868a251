// Package codec turns wire bytes into an rpctypes.RequestBatch and an
// rpctypes.ResponseBatch back into wire bytes (spec §4.1). Decoding is built
// on a YAML-superset parser since valid JSON is a syntactic subset of YAML
// 1.2 (spec §9 "Codec boundary"); encoding always emits compact JSON with
// double-quoted keys, matching the wire contract regardless of what the
// decoder tolerated.
// file: internal/rpc/codec/codec.go
package codec

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/trafficctl/rpcmgmt/internal/rpc/rpctypes"
	"github.com/trafficctl/rpcmgmt/internal/rpcerr"
)

// Decode parses data into a RequestBatch. A document that fails to parse at
// all, or whose top-level shape is neither a mapping nor a non-empty
// sequence, yields a batch with no elements and a non-nil TopLevelErr.
func Decode(data []byte) rpctypes.RequestBatch {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return rpctypes.RequestBatch{TopLevelErr: topLevelErr(rpcerr.ErrParseError, rpcerr.CodeParseError)}
	}

	switch v := normalise(doc).(type) {
	case map[string]interface{}:
		return rpctypes.RequestBatch{
			Elements: []rpctypes.RequestElement{decodeElement(v)},
			IsBatch:  false,
		}
	case []interface{}:
		if len(v) == 0 {
			return rpctypes.RequestBatch{TopLevelErr: topLevelErr(rpcerr.ErrInvalidRequest, rpcerr.CodeInvalidRequest)}
		}
		elems := make([]rpctypes.RequestElement, 0, len(v))
		for _, item := range v {
			elems = append(elems, decodeElement(normalise(item)))
		}
		return rpctypes.RequestBatch{Elements: elems, IsBatch: true}
	default:
		return rpctypes.RequestBatch{TopLevelErr: topLevelErr(rpcerr.ErrInvalidRequest, rpcerr.CodeInvalidRequest)}
	}
}

// CanParse reports whether data parses as a complete document, the
// completeness probe the transport's read loop uses in place of length
// framing (spec §4.6).
func CanParse(data []byte) bool {
	var doc interface{}
	return yaml.Unmarshal(data, &doc) == nil
}

// normalise recursively converts yaml.v3's map[interface{}]interface{}-free
// decode output (it already yields map[string]interface{} for string keys)
// into the plain interface{} tree this package switches on. yaml.v3 decodes
// JSON-shaped documents directly into map[string]interface{}, so this is
// close to a no-op; it exists to guard against non-string-keyed YAML maps
// reaching the switch in Decode as an unrecognised type.
func normalise(v interface{}) interface{} {
	switch m := v.(type) {
	case map[string]interface{}:
		return m
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out
	default:
		return v
	}
}

func decodeElement(item interface{}) rpctypes.RequestElement {
	m, ok := item.(map[string]interface{})
	if !ok {
		return rpctypes.RequestElement{DecodeErr: elementErr(rpcerr.ErrInvalidRequest, rpcerr.CodeInvalidRequest)}
	}

	version, versionErr := extractVersion(m)
	method, methodErr := extractMethod(m)
	id, idErr := extractID(m)
	params, paramsErr := extractParams(m)

	elem := rpctypes.RequestElement{
		Version: version,
		Method:  method,
		ID:      id,
		Params:  params,
	}

	// Only the first detected error (in field order: version, method, id,
	// params) is recorded, but every independently-valid field above is
	// still populated so the encoder can echo the id back.
	switch {
	case versionErr != nil:
		elem.DecodeErr = versionErr
	case methodErr != nil:
		elem.DecodeErr = methodErr
	case idErr != nil:
		elem.DecodeErr = idErr
	case paramsErr != nil:
		elem.DecodeErr = paramsErr
	}

	return elem
}

func extractVersion(m map[string]interface{}) (string, error) {
	raw, ok := m["jsonrpc"]
	if !ok {
		return "", elementErr(rpcerr.ErrMissingVersion, rpcerr.CodeMissingVersion)
	}
	s, ok := raw.(string)
	if !ok {
		return "", elementErr(rpcerr.ErrInvalidVersionType, rpcerr.CodeInvalidVersionType)
	}
	if s != rpctypes.Version {
		return "", elementErr(rpcerr.ErrInvalidVersion, rpcerr.CodeInvalidVersion)
	}
	return s, nil
}

func extractMethod(m map[string]interface{}) (string, error) {
	raw, ok := m["method"]
	if !ok {
		return "", elementErr(rpcerr.ErrMissingMethod, rpcerr.CodeMissingMethod)
	}
	s, ok := raw.(string)
	if !ok {
		return "", elementErr(rpcerr.ErrInvalidMethodType, rpcerr.CodeInvalidMethodType)
	}
	return s, nil
}

func extractID(m map[string]interface{}) (*string, error) {
	raw, ok := m["id"]
	if !ok {
		return nil, nil
	}
	if raw == nil {
		return nil, elementErr(rpcerr.ErrNullID, rpcerr.CodeNullID)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, elementErr(rpcerr.ErrInvalidIDType, rpcerr.CodeInvalidIDType)
	}
	if s == "" {
		return nil, elementErr(rpcerr.ErrEmptyID, rpcerr.CodeEmptyID)
	}
	return &s, nil
}

func extractParams(m map[string]interface{}) (interface{}, error) {
	raw, ok := m["params"]
	if !ok {
		return nil, nil
	}
	switch raw.(type) {
	case map[string]interface{}, []interface{}:
		return raw, nil
	default:
		return nil, elementErr(rpcerr.ErrInvalidParamType, rpcerr.CodeInvalidParamType)
	}
}

func elementErr(sentinel error, code int) error {
	return rpcerr.ErrorWithDetails(sentinel, rpcerr.CategoryCodec, code, nil)
}

func topLevelErr(sentinel error, code int) error {
	return elementErr(sentinel, code)
}

// wire* mirror the exact JSON shape the encoder must produce: field order
// comes from struct field order, and id is omitted (not written as null)
// whenever it is nil.
type wireSubError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wireErrorBody struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    []wireSubError `json:"data,omitempty"`
}

type wireResultResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result"`
	ID      *string     `json:"id,omitempty"`
}

type wireErrorResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Error   wireErrorBody `json:"error"`
	ID      *string       `json:"id,omitempty"`
}

// Encode renders batch as wire bytes: a JSON object when IsBatch is false, a
// JSON array otherwise. A batch with no elements (pure notifications) yields
// nil, nil, signalling "no output" per spec §4.4 step 4.
func Encode(batch rpctypes.ResponseBatch) ([]byte, error) {
	if len(batch.Elements) == 0 {
		return nil, nil
	}

	docs := make([]json.RawMessage, 0, len(batch.Elements))
	for _, elem := range batch.Elements {
		raw, err := encodeElement(elem)
		if err != nil {
			return nil, err
		}
		docs = append(docs, raw)
	}

	if !batch.IsBatch {
		return docs[0], nil
	}
	return json.Marshal(docs)
}

func encodeElement(elem rpctypes.ResponseElement) (json.RawMessage, error) {
	if elem.Err != nil {
		data := make([]wireSubError, 0, len(elem.Err.Data))
		for _, d := range elem.Err.Data {
			data = append(data, wireSubError{Code: d.Code, Message: d.Message})
		}
		return json.Marshal(wireErrorResponse{
			JSONRPC: rpctypes.Version,
			Error:   wireErrorBody{Code: elem.Err.Code, Message: elem.Err.Message, Data: data},
			ID:      elem.ID,
		})
	}
	return json.Marshal(wireResultResponse{
		JSONRPC: rpctypes.Version,
		Result:  elem.Result,
		ID:      elem.ID,
	})
}
