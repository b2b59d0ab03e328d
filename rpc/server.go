// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/imagecraft/internal/animation"
	"github.com/kortschak/imagecraft/internal/policy"
	"github.com/kortschak/imagecraft/internal/slogext"
	"github.com/kortschak/imagecraft/internal/store"
	"github.com/kortschak/imagecraft/internal/version"
	"github.com/kortschak/imagecraft/internal/xdg"
)

// RuntimeDir is the path within XDG_RUNTIME_DIR that unix sockets
// are created in if the unix network is used without an address.
const RuntimeDir = "imagecraft"

var serverUID = UID{Module: "imagecraft", Service: "plan"}

// Options holds the Server configuration.
type Options struct {
	// Store is the plan cache. If Store is nil, plans are
	// not cached.
	Store *store.DB
	// Policy is the initial fidelity policy. If Policy is
	// nil all frames are retained.
	Policy *policy.Policy
	// Budget is the initial decode budget.
	Budget animation.Budget
	// Metrics records plan call outcomes. It may be nil.
	Metrics *Metrics
	// Stop is called when a stop request is received.
	Stop func()

	Listen jsonrpc2.NetListenOptions
}

// Server is a JSON RPC 2 frame planning server.
type Server struct {
	listener *netListener
	server   *jsonrpc2.Server
	network  string

	planner Planner
	store   *store.DB
	stop    func()

	log *slog.Logger

	mu     sync.Mutex
	policy *policy.Policy
	budget animation.Budget
}

// NewServer returns a new Server listening on the provided network which
// may be either "unix" or "tcp". If addr is empty, a unix socket is created
// in a temporary directory within RuntimeDir, or a tcp socket is opened on
// an ephemeral localhost port.
func NewServer(ctx context.Context, network, addr string, opts Options, log *slog.Logger) (*Server, error) {
	s := Server{
		network: network,
		store:   opts.Store,
		stop:    opts.Stop,
		log:     log.With(slog.String("component", serverUID.String())),
		policy:  opts.Policy,
		budget:  opts.Budget,
	}
	s.planner = Planner{Store: opts.Store, Metrics: opts.Metrics, Log: s.log}
	if s.policy == nil {
		s.policy = policy.Const(1)
	}

	var sock string
	switch network {
	case "unix":
		if addr != "" {
			break
		}
		dir, err := xdg.Dir(xdg.Runtime, RuntimeDir)
		if err != nil {
			return nil, err
		}
		sock, err = os.MkdirTemp(dir, fmt.Sprintf("sock-%d-*", os.Getpid()))
		if err != nil {
			return nil, err
		}
		addr = filepath.Join(sock, "plan")
		s.log.LogAttrs(ctx, slog.LevelDebug, "server socket", slog.String("path", addr))
	case "tcp":
		if addr == "" {
			addr = "localhost:0"
		}
	default:
		return nil, fmt.Errorf("invalid network: %q", network)
	}

	var err error
	s.listener, err = newNetListener(ctx, network, addr, sock, opts.Listen)
	if err != nil {
		if sock != "" {
			os.RemoveAll(sock)
		}
		return nil, err
	}
	s.server = jsonrpc2.NewServer(ctx, s.listener, &s)

	s.log.LogAttrs(ctx, slog.LevelInfo, "new server", slog.String("network", s.network), slog.Any("addr", slogext.Stringer{Stringer: s.listener.Addr()}))
	return &s, nil
}

// Addr returns the listener address of the server.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Configure replaces the fidelity policy and decode budget used for
// subsequent plan calls. A nil policy retains all frames.
func (s *Server) Configure(p *policy.Policy, budget animation.Budget) {
	if p == nil {
		p = policy.Const(1)
	}
	s.log.LogAttrs(context.Background(), slog.LevelInfo, "configure", slog.Any("policy", slogext.Stringer{Stringer: p}), slog.Int64("max_byte_count", budget.MaxByteCount), slog.Any("max_size", budget.MaxSize))
	s.mu.Lock()
	s.policy = p
	s.budget = budget
	s.mu.Unlock()
}

func (s *Server) config() (*policy.Policy, animation.Budget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy, s.budget
}

// Bind binds the server's handler to a connection.
func (s *Server) Bind(ctx context.Context, conn *jsonrpc2.Connection) jsonrpc2.ConnectionOptions {
	s.log.LogAttrs(ctx, slog.LevelDebug, "binding")
	return jsonrpc2.ConnectionOptions{
		Handler: s,
	}
}

// Handle implements the jsonrpc2.Handler interface.
func (s *Server) Handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	s.log.LogAttrs(ctx, slog.LevelDebug, "handle", slog.Any("req", slogext.Request{Request: req}))

	switch req.Method {
	case Who:
		if !req.IsCall() {
			return nil, jsonrpc2.ErrNotHandled
		}
		var m Message[None]
		err := UnmarshalMessage(req.Params, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		v, err := version.String()
		if err != nil {
			v = err.Error()
		}
		return NewMessage(serverUID, v), nil

	case Plan:
		if !req.IsCall() {
			s.log.LogAttrs(ctx, slog.LevelWarn, "plan notification", slog.Any("id", req.ID))
			return nil, jsonrpc2.ErrNotHandled
		}
		var m Message[PlanRequest]
		err := UnmarshalMessage(req.Params, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			s.planner.Metrics.count(sourceError)
			return nil, err
		}
		resp, err := s.plan(ctx, m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.String("id", m.Body.ID), slog.Any("error", err))
			return nil, err
		}
		return resp, nil

	case Dump:
		if !req.IsCall() {
			return nil, jsonrpc2.ErrNotHandled
		}
		var m Message[None]
		err := UnmarshalMessage(req.Params, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		return s.dump(ctx)

	case Stop:
		s.log.LogAttrs(ctx, slog.LevelInfo, "stop requested")
		if s.stop != nil {
			go s.stop()
		}
		if req.IsCall() {
			return NewMessage(serverUID, "ok"), nil
		}
		return nil, nil

	default:
		return nil, jsonrpc2.ErrNotHandled
	}
}

func (s *Server) plan(ctx context.Context, m Message[PlanRequest]) (*Message[PlanResult], error) {
	pol, budget := s.config()
	res, err := s.planner.Plan(ctx, m.Body, pol, budget)
	if err != nil {
		return nil, AddWireErrorDetail(err, map[string]any{"uid": m.UID.String()})
	}
	return NewMessage(serverUID, res), nil
}

func (s *Server) dump(ctx context.Context) (*Message[[]store.Entry], error) {
	if s.store == nil {
		return nil, NewError(ErrCodeNoStore, "no plan store", nil)
	}
	entries, err := s.store.Dump()
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelError, "dump", slog.Any("error", err))
		return nil, NewError(ErrCodeStoreErr, err.Error(), nil)
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	return NewMessage(serverUID, entries), nil
}

// Close shuts down the server and waits for active connections to finish.
func (s *Server) Close() error {
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "close")
	s.server.Shutdown()
	return s.server.Wait()
}
