// file: internal/rpc/dispatch/dispatch_test.go
package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficctl/rpcmgmt/internal/rpc/registry"
	"github.com/trafficctl/rpcmgmt/internal/rpc/rpctypes"
	"github.com/trafficctl/rpcmgmt/internal/rpcerr"
)

func strp(s string) *string { return &s }

func newTestDispatcher(t *testing.T) (*Dispatcher, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	return New(reg), reg
}

func TestDispatchMethodNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.Dispatch(rpctypes.Context{}, rpctypes.RequestElement{Method: "foobar", ID: strp("1")})

	require.NotNil(t, resp)
	assert.Equal(t, rpcerr.CodeMethodNotFound, resp.Err.Code)
	assert.Equal(t, "1", *resp.ID)
}

func TestDispatchUnknownNotificationProducesNoResponse(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.Dispatch(rpctypes.Context{}, rpctypes.RequestElement{Method: "foobar"})

	assert.Nil(t, resp)
}

func TestDispatchMethodCallAgainstNotificationHandlerIsInvalidRequest(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register("n", rpctypes.Handler{Kind: rpctypes.KindNotification, Notification: func(rpctypes.Context, interface{}) error { return nil }})

	resp := d.Dispatch(rpctypes.Context{}, rpctypes.RequestElement{Method: "n", ID: strp("1")})

	require.NotNil(t, resp)
	assert.Equal(t, rpcerr.CodeInvalidRequest, resp.Err.Code)
}

func TestDispatchNotificationAgainstMethodHandlerIsDropped(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register("m", rpctypes.Handler{Kind: rpctypes.KindMethod, Method: func(rpctypes.Context, string, interface{}) (interface{}, []rpcerr.SubError, error) {
		return "should not run", nil, nil
	}})

	resp := d.Dispatch(rpctypes.Context{}, rpctypes.RequestElement{Method: "m"})

	assert.Nil(t, resp)
}

func TestDispatchMethodSuccess(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register("subtract", rpctypes.Handler{Kind: rpctypes.KindMethod, Method: func(_ rpctypes.Context, id string, params interface{}) (interface{}, []rpcerr.SubError, error) {
		return "19", nil, nil
	}})

	resp := d.Dispatch(rpctypes.Context{}, rpctypes.RequestElement{Method: "subtract", ID: strp("1")})

	require.NotNil(t, resp)
	assert.Nil(t, resp.Err)
	assert.Equal(t, "19", resp.Result)
}

func TestDispatchMethodFailureCarriesSubErrors(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register("m", rpctypes.Handler{Kind: rpctypes.KindMethod, Method: func(rpctypes.Context, string, interface{}) (interface{}, []rpcerr.SubError, error) {
		return nil, []rpcerr.SubError{{Code: 9999, Message: "msg"}}, rpcerr.ErrExecutionError
	}})

	resp := d.Dispatch(rpctypes.Context{}, rpctypes.RequestElement{Method: "m", ID: strp("14")})

	require.NotNil(t, resp)
	require.NotNil(t, resp.Err)
	assert.Equal(t, rpcerr.CodeExecutionError, resp.Err.Code)
	assert.Equal(t, []rpcerr.SubError{{Code: 9999, Message: "msg"}}, resp.Err.Data)
}

func TestDispatchMethodPanicBecomesExecutionError(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register("boom", rpctypes.Handler{Kind: rpctypes.KindMethod, Method: func(rpctypes.Context, string, interface{}) (interface{}, []rpcerr.SubError, error) {
		panic("kaboom")
	}})

	resp := d.Dispatch(rpctypes.Context{}, rpctypes.RequestElement{Method: "boom", ID: strp("1")})

	require.NotNil(t, resp)
	assert.Equal(t, rpcerr.CodeExecutionError, resp.Err.Code)
}

func TestDispatchRejectsParamsViolatingRegisteredSchema(t *testing.T) {
	d, reg := newTestDispatcher(t)
	ok, err := reg.RegisterWithSchema("subtract", rpctypes.Handler{
		Kind:   rpctypes.KindMethod,
		Method: func(rpctypes.Context, string, interface{}) (interface{}, []rpcerr.SubError, error) { return "19", nil, nil },
	}, map[string]interface{}{
		"type":     "object",
		"required": []string{"minuend", "subtrahend"},
	})
	require.NoError(t, err)
	require.True(t, ok)

	resp := d.Dispatch(rpctypes.Context{}, rpctypes.RequestElement{
		Method: "subtract",
		ID:     strp("1"),
		Params: map[string]interface{}{"minuend": 42}, // missing subtrahend
	})

	require.NotNil(t, resp)
	require.NotNil(t, resp.Err)
	assert.Equal(t, rpcerr.CodeInvalidParams, resp.Err.Code)
}

func TestDispatchAllowsParamsSatisfyingRegisteredSchema(t *testing.T) {
	d, reg := newTestDispatcher(t)
	ok, err := reg.RegisterWithSchema("subtract", rpctypes.Handler{
		Kind:   rpctypes.KindMethod,
		Method: func(rpctypes.Context, string, interface{}) (interface{}, []rpcerr.SubError, error) { return "19", nil, nil },
	}, map[string]interface{}{
		"type":     "object",
		"required": []string{"minuend", "subtrahend"},
	})
	require.NoError(t, err)
	require.True(t, ok)

	resp := d.Dispatch(rpctypes.Context{}, rpctypes.RequestElement{
		Method: "subtract",
		ID:     strp("1"),
		Params: map[string]interface{}{"minuend": 42, "subtrahend": 23},
	})

	require.NotNil(t, resp)
	assert.Nil(t, resp.Err)
	assert.Equal(t, "19", resp.Result)
}

func TestDispatchUnauthorizedMethodCall(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register("m", rpctypes.Handler{
		Kind:    rpctypes.KindMethod,
		Method:  func(rpctypes.Context, string, interface{}) (interface{}, []rpcerr.SubError, error) { return "ok", nil, nil },
		Options: rpctypes.HandlerOptions{Restricted: true},
	})
	denyAll := rpctypes.Context{Checkers: []rpctypes.AuthChecker{func(rpctypes.HandlerOptions) error {
		return rpcerr.ErrorWithDetails(rpcerr.ErrUnauthorized, rpcerr.CategoryAuth, rpcerr.CodeUnauthorized, nil)
	}}}

	resp := d.Dispatch(denyAll, rpctypes.RequestElement{Method: "m", ID: strp("1")})

	require.NotNil(t, resp)
	assert.Equal(t, rpcerr.CodeUnauthorized, resp.Err.Code)
}

func TestDispatchPluginMethodWaitsForCompletion(t *testing.T) {
	d, reg := newTestDispatcher(t)
	var wg sync.WaitGroup
	reg.Register("plugin_call", rpctypes.Handler{
		Kind: rpctypes.KindPluginMethod,
		Plugin: func(rpctypes.Context, string, interface{}) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				time.Sleep(5 * time.Millisecond)
				d.CompletePlugin("plugin-result", nil, nil)
			}()
			return nil
		},
	})

	resp := d.Dispatch(rpctypes.Context{}, rpctypes.RequestElement{Method: "plugin_call", ID: strp("1")})
	wg.Wait()

	require.NotNil(t, resp)
	assert.Nil(t, resp.Err)
	assert.Equal(t, "plugin-result", resp.Result)
}

func TestDispatchPluginMethodPropagatesErrorResult(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register("plugin_call", rpctypes.Handler{
		Kind: rpctypes.KindPluginMethod,
		Plugin: func(rpctypes.Context, string, interface{}) error {
			go d.CompletePlugin(nil, []rpcerr.SubError{{Code: 1, Message: "plugin failed"}}, rpcerr.ErrExecutionError)
			return nil
		},
	})

	resp := d.Dispatch(rpctypes.Context{}, rpctypes.RequestElement{Method: "plugin_call", ID: strp("1")})

	require.NotNil(t, resp)
	require.NotNil(t, resp.Err)
	assert.Equal(t, rpcerr.CodeExecutionError, resp.Err.Code)
	assert.Len(t, resp.Err.Data, 1)
}
