// file: internal/rpc/serverfsm/serverfsm_test.go
package serverfsm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficctl/rpcmgmt/internal/fsm"
)

func TestLifecycleStartsStopped(t *testing.T) {
	l := New(nil, nil, nil)
	require.NoError(t, l.Build())

	assert.Equal(t, Stopped, l.State())
}

func TestLifecycleFullRunThenStop(t *testing.T) {
	var enteredRunning, enteredStopped bool

	l := New(nil,
		func(context.Context, fsm.Event, interface{}) error { enteredRunning = true; return nil },
		func(context.Context, fsm.Event, interface{}) error { enteredStopped = true; return nil },
	)
	require.NoError(t, l.Build())

	require.NoError(t, l.Fire(context.Background(), EventStart, nil))
	assert.Equal(t, Starting, l.State())

	require.NoError(t, l.Fire(context.Background(), EventStarted, nil))
	assert.Equal(t, Running, l.State())
	assert.True(t, enteredRunning)

	require.NoError(t, l.Fire(context.Background(), EventStop, nil))
	assert.Equal(t, Stopping, l.State())

	require.NoError(t, l.Fire(context.Background(), EventStopped, nil))
	assert.Equal(t, Stopped, l.State())
	assert.True(t, enteredStopped)
}

func TestLifecycleRejectsInvalidTransition(t *testing.T) {
	l := New(nil, nil, nil)
	require.NoError(t, l.Build())

	assert.False(t, l.CanFire(EventStop))
	assert.Error(t, l.Fire(context.Background(), EventStop, nil))
}
