// Package client implements the complementary connect/send/read helper
// tooling and tests use to talk to the transport's socket (spec §4.8),
// grounded on the original IPCSocketClient's connect-retry and
// read_all-with-attempts loops.
// file: internal/rpc/client/client.go
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/trafficctl/rpcmgmt/internal/rpc/accumulator"
)

// Options configures the retry/timeout budgets for each client operation.
type Options struct {
	ConnectAttempts int
	ConnectWait     time.Duration
	ReadAttempts    int
	ReadTimeout     time.Duration
	TotalReadBudget time.Duration
}

// DefaultOptions mirrors the original's call-site defaults: a handful of
// quick connect retries and a read budget generous enough for one
// request/response round trip.
func DefaultOptions() Options {
	return Options{
		ConnectAttempts: 5,
		ConnectWait:     50 * time.Millisecond,
		ReadAttempts:    10,
		ReadTimeout:     200 * time.Millisecond,
		TotalReadBudget: 5 * time.Second,
	}
}

var errReadTimedOut = errors.New("read_all: exhausted attempts with no data")

// Client is a single-use connection to the management socket: Connect,
// Send one request, Read the reply (Read returns once the peer closes),
// then Close.
type Client struct {
	path string
	opts Options
	conn *net.UnixConn
}

// New builds a Client for the socket at path.
func New(path string, opts Options) *Client {
	return &Client{path: path, opts: opts}
}

// Connect dials the socket, retrying on the transient conditions the
// original distinguishes (connection refused or a missing socket file
// because the server hasn't bound yet, or the kernel asking us to retry) up
// to ConnectAttempts times.
func (c *Client) Connect(ctx context.Context) error {
	attempts := c.opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := net.Dial("unix", c.path)
		if err == nil {
			c.conn = conn.(*net.UnixConn)
			return nil
		}
		lastErr = err

		if !isTransientConnectErr(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.ConnectWait):
		}
	}
	return fmt.Errorf("connect: exhausted %d attempts against %s: %w", attempts, c.path, lastErr)
}

// Send writes the full request byte string, retrying on partial writes
// until everything is written or an error occurs.
func (c *Client) Send(data []byte) error {
	total := 0
	for total < len(data) {
		n, err := c.conn.Write(data[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// Read loops until the peer closes the connection, returning whatever was
// accumulated. It retries on a per-read timeout up to ReadAttempts times and
// enforces an overall TotalReadBudget across all attempts.
func (c *Client) Read() ([]byte, error) {
	acc := accumulator.New(accumulator.DefaultCapacity)
	deadline := time.Now().Add(c.opts.TotalReadBudget)
	attemptsLeft := c.opts.ReadAttempts
	if attemptsLeft <= 0 {
		attemptsLeft = 1
	}

	for {
		if time.Now().After(deadline) {
			return finishOrTimeout(acc)
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		buf := acc.Reserve()
		n, err := c.conn.Read(buf)
		if n > 0 {
			acc.Commit(n)
			continue
		}

		if err == nil {
			continue
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			attemptsLeft--
			if attemptsLeft <= 0 {
				return finishOrTimeout(acc)
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			if acc.Stored() > 0 {
				return acc.Finalise(), nil
			}
			return nil, errReadTimedOut
		}
		return nil, err
	}
}

func finishOrTimeout(acc *accumulator.Accumulator) ([]byte, error) {
	if acc.Stored() > 0 {
		return acc.Finalise(), nil
	}
	return nil, errReadTimedOut
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func isTransientConnectErr(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.ENOENT)
}
