// file: internal/rpc/client/client_test.go
package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectFailsAfterRetriesWhenSocketMissing(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "missing.sock"), Options{ConnectAttempts: 2, ConnectWait: time.Millisecond})

	err := c.Connect(context.Background())
	assert.Error(t, err)
}

func TestConnectSendReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "rpc.sock")

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockPath, Net: "unix"})
	require.NoError(t, err)
	defer ln.Close()
	defer os.Remove(sockPath)

	go func() {
		conn, err := ln.AcceptUnix()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		_ = n
		conn.Write([]byte(`{"jsonrpc":"2.0","result":"ok","id":"1"}`))
	}()

	c := New(sockPath, DefaultOptions())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.NoError(t, c.Send([]byte(`{"jsonrpc":"2.0","method":"m","id":"1"}`)))

	out, err := c.Read()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"result":"ok"`)
}

func TestReadReturnsErrorWhenNothingArrives(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "rpc.sock")

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockPath, Net: "unix"})
	require.NoError(t, err)
	defer ln.Close()
	defer os.Remove(sockPath)

	go func() {
		conn, err := ln.AcceptUnix()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(200 * time.Millisecond) // never writes anything.
	}()

	c := New(sockPath, Options{ConnectAttempts: 1, ReadAttempts: 2, ReadTimeout: 20 * time.Millisecond, TotalReadBudget: 100 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.NoError(t, c.Send([]byte(`{"jsonrpc":"2.0","method":"m"}`)))

	_, err = c.Read()
	assert.Error(t, err)
}
