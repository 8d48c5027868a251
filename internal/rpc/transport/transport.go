// Package transport implements the local stream socket server: create,
// lock, bind, listen, accept one connection at a time, read until a
// complete message or a size limit, invoke the engine, write the reply,
// close (spec §4.6). Grounded on the original LocalUnixSocket's init/run/
// accept/read_all/write sequence, translated from poll(2)+flock(2) onto
// net.UnixListener deadlines and golang.org/x/sys/unix's flock wrapper.
// file: internal/rpc/transport/transport.go
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/trafficctl/rpcmgmt/internal/config"
	"github.com/trafficctl/rpcmgmt/internal/logging"
	"github.com/trafficctl/rpcmgmt/internal/rpc/accumulator"
	"github.com/trafficctl/rpcmgmt/internal/rpc/codec"
	"github.com/trafficctl/rpcmgmt/internal/rpc/rpccontext"
	"github.com/trafficctl/rpcmgmt/internal/rpc/rpctypes"
)

// pollInterval bounds how long a single Accept/Read call blocks before the
// worker re-checks the running flag, standing in for the original's
// poll(listen_fd, POLLIN, 1s).
const pollInterval = 1 * time.Second

var (
	errFullBuffer      = errors.New("accumulator reached incoming_request_max_size")
	errNoData          = errors.New("connection produced no data before timeout")
	errLockHeld        = errors.New("lock file already held by another instance")
	errListenerNotUnix = errors.New("file listener did not produce a unix socket listener")
	errTransientBudget = errors.New("exhausted max_retry_on_transient_errors for this operation")
)

// Engine is the subset of engine.Engine the transport depends on, kept as
// an interface so the transport can be tested without a real dispatcher.
type Engine interface {
	Handle(ctx rpctypes.Context, message []byte) ([]byte, error)
}

// Transport owns the listening socket and its lock file for the lifetime of
// one server run. The zero value is not usable; construct with New.
type Transport struct {
	cfg       config.CommConfig
	engine    Engine
	logger    logging.Logger
	serverUID uint32

	listener *net.UnixListener
	lockFile *os.File
	running  int32
}

// New builds a Transport. It does not touch the filesystem; call Init to
// create the socket and acquire the lock.
func New(cfg config.CommConfig, eng Engine, logger logging.Logger) *Transport {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	return &Transport{
		cfg:       cfg,
		engine:    eng,
		logger:    logger.WithField("component", "rpc_transport"),
		serverUID: uint32(os.Getuid()),
	}
}

// Init performs spec §4.6's start-up sequence: acquire the exclusive lock,
// remove any stale socket file, create and bind the listening socket, and
// apply the configured permissions.
func (t *Transport) Init() error {
	lockFile, err := os.OpenFile(t.cfg.LockPathName, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		return errLockHeld
	}
	t.lockFile = lockFile

	_ = os.Remove(t.cfg.SockPathName) // stale socket from a prior unclean shutdown.

	listener, err := t.listen()
	if err != nil {
		return err
	}
	t.listener = listener

	perm := os.FileMode(0o777)
	if t.cfg.RestrictedAPI {
		perm = 0o700
	}
	if err := os.Chmod(t.cfg.SockPathName, perm); err != nil {
		return err
	}

	return nil
}

// listen builds the listening socket with a raw socket/bind/listen sequence
// instead of net.ListenUnix, which has no way to override the kernel's
// default listen backlog. This mirrors the original's own create_socket/
// bind/listen sequence, with cfg.Backlog taking the place of _conf.backlog
// at the listen(2) call (spec §4.6 "begin listening with the configured
// backlog").
func (t *Transport) listen() (*net.UnixListener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: t.cfg.SockPathName}); err != nil {
		unix.Close(fd)
		return nil, err
	}

	backlog := t.cfg.Backlog
	if backlog <= 0 {
		backlog = 1
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// os.NewFile takes ownership of fd; net.FileListener dups it for its own
	// use, so closing file afterwards releases our original copy without
	// touching the listener's.
	file := os.NewFile(uintptr(fd), t.cfg.SockPathName)
	defer file.Close()

	ln, err := net.FileListener(file)
	if err != nil {
		return nil, err
	}
	unixLn, ok := ln.(*net.UnixListener)
	if !ok {
		ln.Close()
		return nil, errListenerNotUnix
	}
	return unixLn, nil
}

// Run executes the single-worker accept loop until ctx is cancelled or Stop
// is called, whichever comes first (spec §4.6 "Run loop").
func (t *Transport) Run(ctx context.Context) {
	atomic.StoreInt32(&t.running, 1)
	defer t.cleanup()

	go func() {
		<-ctx.Done()
		t.Stop()
	}()

	retries := 0
	for atomic.LoadInt32(&t.running) == 1 {
		_ = t.listener.SetDeadline(time.Now().Add(pollInterval))
		conn, err := t.listener.AcceptUnix()
		if err != nil {
			if atomic.LoadInt32(&t.running) == 0 {
				return
			}
			if isPollTimeout(err) {
				continue // deadline tripped to re-check running, not a fault.
			}
			if isTransientSocketError(err) {
				retries++
				if retries > t.cfg.MaxRetryOnTransientErrors {
					t.logger.Warn("accept exhausted its transient-error retry budget, stopping worker",
						"err", err, "max_retry_on_transient_errors", t.cfg.MaxRetryOnTransientErrors)
					return
				}
				continue
			}
			t.logger.Warn("accept failed, stopping worker", "err", err)
			return
		}
		retries = 0 // the retry counter resets once an operation succeeds (spec §4.6).
		t.handleConn(conn)
	}
}

// Stop requests shutdown; the worker exits at its next poll boundary (spec
// §4.6 "Shutdown").
func (t *Transport) Stop() {
	if !atomic.CompareAndSwapInt32(&t.running, 1, 0) {
		return
	}
	if t.listener != nil {
		_ = t.listener.Close()
	}
}

func (t *Transport) cleanup() {
	if t.listener != nil {
		_ = t.listener.Close()
	}
	_ = os.Remove(t.cfg.SockPathName)
	if t.lockFile != nil {
		_ = t.lockFile.Close()
	}
}

func (t *Transport) handleConn(conn *net.UnixConn) {
	defer conn.Close()

	connLogger := t.logger.WithField("conn_id", uuid.NewString())
	connLogger.Debug("accepted connection")

	acc := accumulator.New(accumulator.DefaultCapacity)
	if err := t.readAll(conn, acc); err != nil {
		connLogger.Debug("read_all did not produce a complete message", "err", err)
		return
	}

	peer, err := peerCredentials(conn)
	checker := rpccontext.CredentialChecker(peer, t.serverUID)
	if err != nil {
		connLogger.Warn("failed to read peer credentials, restricted methods will be rejected", "err", err)
		checker = func(opts rpctypes.HandlerOptions) error {
			if opts.Restricted {
				return errors.New("peer credentials unavailable")
			}
			return nil
		}
	}

	callCtx := rpccontext.New(checker)

	out, err := t.engine.Handle(callCtx, acc.Finalise())
	if err != nil {
		connLogger.Error("engine returned an unexpected fault", "err", err)
		return
	}
	if out == nil {
		return // notification-only traffic: no reply, matching spec §4.4 step 4.
	}

	if _, err := conn.Write(out); err != nil {
		connLogger.Debug("failed writing response, peer likely closed first", "err", err)
	}
}

// readAll implements spec §4.6's read_all: read into the accumulator until
// the codec can parse a complete document, the peer closes with data
// pending, a read times out with data pending, or the buffer limit is hit.
func (t *Transport) readAll(conn *net.UnixConn, acc *accumulator.Accumulator) error {
	retries := 0
	for {
		if acc.Full(t.cfg.IncomingRequestMaxSize) {
			return errFullBuffer
		}

		window := acc.Reserve()
		if len(window) == 0 {
			return errFullBuffer
		}
		if limit := t.cfg.IncomingRequestMaxSize; limit > 0 && len(window) > limit-acc.Stored() {
			window = window[:limit-acc.Stored()]
		}

		_ = conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := conn.Read(window)
		if n > 0 {
			acc.Commit(n)
			retries = 0
			if codec.CanParse(acc.Finalise()) {
				return nil
			}
			continue
		}

		if err == nil {
			continue
		}

		if isPollTimeout(err) {
			if acc.Stored() > 0 {
				return nil
			}
			return errNoData
		}
		if errors.Is(err, io.EOF) {
			if acc.Stored() > 0 {
				return nil
			}
			return errNoData
		}
		if isTransientSocketError(err) {
			retries++
			if retries > t.cfg.MaxRetryOnTransientErrors {
				return errTransientBudget
			}
			continue
		}
		return err
	}
}

// isPollTimeout reports the deadline-induced timeout used to re-check the
// running flag (the Go analogue of the original's poll(fd, POLLIN, 1s)
// returning 0). It is expected, ordinary traffic, not a fault to retry-count.
func isPollTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// isTransientSocketError reports the errnos the worker retries. The
// original's check_for_transient_errors() retries EINTR, EAGAIN, ENOMEM and
// EWOULDBLOCK; Go's runtime netpoller already retries EINTR/EAGAIN/
// EWOULDBLOCK internally and never surfaces them to callers, so this set is
// instead the errnos that do reach accept: descriptor exhaustion (EMFILE,
// ENFILE) and a connection aborted before it was accepted (ECONNABORTED).
func isTransientSocketError(err error) bool {
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// peerCredentials reads the connected peer's uid/gid via SO_PEERCRED (spec
// §4.6 "Credential checker").
func peerCredentials(conn *net.UnixConn) (rpccontext.PeerCredentials, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return rpccontext.PeerCredentials{}, err
	}

	var ucred *unix.Ucred
	var sockErr error
	ctrlErr := sc.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return rpccontext.PeerCredentials{}, ctrlErr
	}
	if sockErr != nil {
		return rpccontext.PeerCredentials{}, sockErr
	}
	return rpccontext.PeerCredentials{UID: ucred.Uid, GID: ucred.Gid}, nil
}
