// Package server owns the Transport and a single worker goroutine, exposing
// the start/stop lifecycle described in spec §4.7. State is tracked through
// serverfsm rather than a bare flag so illegal call sequences (stopping a
// server that never started, starting one twice) surface as errors instead
// of silent no-ops.
// file: internal/rpc/server/server.go
package server

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/trafficctl/rpcmgmt/internal/fsm"
	"github.com/trafficctl/rpcmgmt/internal/logging"
	"github.com/trafficctl/rpcmgmt/internal/rpc/serverfsm"
	"github.com/trafficctl/rpcmgmt/internal/rpc/transport"
)

// Callback lets the host program attach per-run state when the worker
// starts or stops (spec §4.7: "optional callbacks let the host program
// attach per-thread state").
type Callback func(ctx context.Context) error

// Server wraps a Transport's accept loop in a lifecycle state machine and a
// single worker goroutine.
type Server struct {
	transport *transport.Transport
	lifecycle *serverfsm.Lifecycle
	logger    logging.Logger

	initCB    Callback
	destroyCB Callback

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Server over tr. initCB runs once the worker is about to
// start serving; destroyCB runs once it has fully stopped. Either may be
// nil.
func New(tr *transport.Transport, logger logging.Logger, initCB, destroyCB Callback) (*Server, error) {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	s := &Server{
		transport: tr,
		logger:    logger.WithField("component", "rpc_server"),
		initCB:    initCB,
		destroyCB: destroyCB,
	}

	s.lifecycle = serverfsm.New(logger, s.onEnterRunning, s.onEnterStopped)
	if err := s.lifecycle.Build(); err != nil {
		return nil, errors.Wrap(err, "failed to build server lifecycle")
	}
	return s, nil
}

// Start transitions stopped -> starting -> running, initialises the
// transport, and spawns the accept-loop worker. Returns an error if the
// server is not currently stopped, or if transport initialisation fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lifecycle.Fire(ctx, serverfsm.EventStart, nil); err != nil {
		return errors.Wrap(err, "server is not in a startable state")
	}

	if err := s.transport.Init(); err != nil {
		return errors.Wrap(err, "transport initialisation failed")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.transport.Run(workerCtx)
	}()

	return s.lifecycle.Fire(ctx, serverfsm.EventStarted, nil)
}

// Stop requests shutdown and joins the worker, transitioning
// running -> stopping -> stopped. The destructor-equivalent cleanup
// (destroyCB) always runs once the worker has actually exited.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lifecycle.Fire(ctx, serverfsm.EventStop, nil); err != nil {
		return errors.Wrap(err, "server is not in a stoppable state")
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.transport.Stop()
	s.wg.Wait()

	return s.lifecycle.Fire(ctx, serverfsm.EventStopped, nil)
}

// State returns the server's current lifecycle state, mainly for tests and
// introspection.
func (s *Server) State() fsm.State {
	return s.lifecycle.State()
}

func (s *Server) onEnterRunning(ctx context.Context, _ fsm.Event, _ interface{}) error {
	if s.initCB == nil {
		return nil
	}
	if err := s.initCB(ctx); err != nil {
		s.logger.Error("init callback failed", "err", err)
		return err
	}
	return nil
}

func (s *Server) onEnterStopped(ctx context.Context, _ fsm.Event, _ interface{}) error {
	if s.destroyCB == nil {
		return nil
	}
	if err := s.destroyCB(ctx); err != nil {
		s.logger.Error("destroy callback failed", "err", err)
		return err
	}
	return nil
}
