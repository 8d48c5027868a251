// file: internal/rpc/codec/codec_test.go
package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficctl/rpcmgmt/internal/rpc/rpctypes"
	"github.com/trafficctl/rpcmgmt/internal/rpcerr"
)

func strp(s string) *string { return &s }

func TestDecodeSingleObjectIsNotBatch(t *testing.T) {
	batch := Decode([]byte(`{"jsonrpc":"2.0","method":"subtract","params":[42,23],"id":"1"}`))

	require.NoError(t, batch.TopLevelErr)
	require.Len(t, batch.Elements, 1)
	assert.False(t, batch.IsBatch)

	elem := batch.Elements[0]
	assert.NoError(t, elem.DecodeErr)
	assert.Equal(t, "2.0", elem.Version)
	assert.Equal(t, "subtract", elem.Method)
	require.NotNil(t, elem.ID)
	assert.Equal(t, "1", *elem.ID)
}

func TestDecodeBatchArray(t *testing.T) {
	batch := Decode([]byte(`[{"jsonrpc":"2.0","method":"m","id":"1"},{"jsonrpc":"2.0","method":"n"}]`))

	require.NoError(t, batch.TopLevelErr)
	assert.True(t, batch.IsBatch)
	require.Len(t, batch.Elements, 2)
	assert.True(t, batch.Elements[1].IsNotification())
}

func TestDecodeEmptyArrayIsInvalidRequest(t *testing.T) {
	batch := Decode([]byte(`[]`))

	require.Error(t, batch.TopLevelErr)
	assert.Equal(t, rpcerr.CodeInvalidRequest, rpcerr.GetCode(batch.TopLevelErr))
	assert.Empty(t, batch.Elements)
}

func TestDecodeMalformedDocumentIsParseError(t *testing.T) {
	batch := Decode([]byte(`{"jsonrpc":"2.0","method":"foobar, "params":"bar","baz]`))

	require.Error(t, batch.TopLevelErr)
	assert.Equal(t, rpcerr.CodeParseError, rpcerr.GetCode(batch.TopLevelErr))
}

func TestDecodeMissingVersionField(t *testing.T) {
	batch := Decode([]byte(`{"method":"m","id":"1"}`))

	elem := batch.Elements[0]
	require.Error(t, elem.DecodeErr)
	assert.Equal(t, rpcerr.CodeMissingVersion, rpcerr.GetCode(elem.DecodeErr))
}

func TestDecodeNullIDIsRejectedButOtherFieldsCaptured(t *testing.T) {
	batch := Decode([]byte(`{"jsonrpc":"2.0","method":"m","params":{},"id":null}`))

	elem := batch.Elements[0]
	require.Error(t, elem.DecodeErr)
	assert.Equal(t, rpcerr.CodeNullID, rpcerr.GetCode(elem.DecodeErr))
	assert.Equal(t, "m", elem.Method)
	assert.Nil(t, elem.ID)
}

func TestDecodeEmptyStringIDRejected(t *testing.T) {
	batch := Decode([]byte(`{"jsonrpc":"2.0","method":"m","id":""}`))

	elem := batch.Elements[0]
	require.Error(t, elem.DecodeErr)
	assert.Equal(t, rpcerr.CodeEmptyID, rpcerr.GetCode(elem.DecodeErr))
}

func TestDecodeInvalidParamType(t *testing.T) {
	batch := Decode([]byte(`{"jsonrpc":"2.0","method":"m","id":"1","params":"not-a-structure"}`))

	elem := batch.Elements[0]
	require.Error(t, elem.DecodeErr)
	assert.Equal(t, rpcerr.CodeInvalidParamType, rpcerr.GetCode(elem.DecodeErr))
}

func TestEncodeResultResponseOmitsIDWhenAbsent(t *testing.T) {
	out, err := Encode(rpctypes.ResponseBatch{
		Elements: []rpctypes.ResponseElement{{Result: "19"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"19"}`, string(out))
}

func TestEncodeResultResponseWithID(t *testing.T) {
	out, err := Encode(rpctypes.ResponseBatch{
		Elements: []rpctypes.ResponseElement{{Result: "19", ID: strp("1")}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"19","id":"1"}`, string(out))
}

func TestEncodeMethodNotFound(t *testing.T) {
	out, err := Encode(rpctypes.ResponseBatch{
		Elements: []rpctypes.ResponseElement{{
			ID:  strp("1"),
			Err: rpcerr.New(rpcerr.CodeMethodNotFound),
		}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":"1"}`, string(out))
}

func TestEncodeBatchWithExecutionErrorSubErrors(t *testing.T) {
	out, err := Encode(rpctypes.ResponseBatch{
		IsBatch: true,
		Elements: []rpctypes.ResponseElement{
			{Result: map[string]interface{}{"ran": "ok"}, ID: strp("13")},
			{
				ID:  strp("14"),
				Err: rpcerr.New(rpcerr.CodeExecutionError).WithData([]rpcerr.SubError{{Code: 9999, Message: "msg"}}),
			},
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"jsonrpc":"2.0","result":{"ran":"ok"},"id":"13"},
		{"jsonrpc":"2.0","error":{"code":9,"message":"Error during execution","data":[{"code":9999,"message":"msg"}]},"id":"14"}
	]`, string(out))
}

func TestEncodeEmptyBatchYieldsNoOutput(t *testing.T) {
	out, err := Encode(rpctypes.ResponseBatch{IsBatch: true})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCanParseRejectsIncompleteDocument(t *testing.T) {
	assert.False(t, CanParse([]byte(`{"jsonrpc":"2.0","method":`)))
	assert.True(t, CanParse([]byte(`{"jsonrpc":"2.0","method":"m"}`)))
}
