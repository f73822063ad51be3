package grpcnet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/heatgrid/internal/comm"
)

// maxMsgSize bounds a single halo row or gather slice. A 10000-column row
// is 80 kB; gathers of a full partition need considerably more.
const maxMsgSize = 256 * 1024 * 1024

// abortTimeout bounds the best-effort Abort fan-out to peers.
const abortTimeout = 2 * time.Second

// Config describes one rank of a multi-process run.
type Config struct {
	// Rank is this process's rank.
	Rank int
	// Peers holds the dial target of every rank, indexed by rank. The
	// entry at Rank is also the listen address unless Listener is set.
	Peers []string
	// Listener overrides the listening socket (tests use bufconn).
	Listener net.Listener
	// DialOptions are appended to the client options for every peer.
	DialOptions []grpc.DialOption
}

// Node is a comm.Communicator whose peers live in other processes.
type Node struct {
	rank  int
	size  int
	inbox *comm.Inbox
	seq   *comm.Sequencer

	server   *grpc.Server
	listener net.Listener
	conns    []*grpc.ClientConn
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu       sync.Mutex
	abortErr error
	closed   bool
}

var _ comm.Communicator = (*Node)(nil)

// Start listens for peers and prepares client connections to them.
// Connections are established lazily; sends wait until the peer is up.
func Start(cfg Config) (*Node, error) {
	size := len(cfg.Peers)
	if cfg.Rank < 0 || cfg.Rank >= size {
		return nil, fmt.Errorf("rank %d out of range for %d peers", cfg.Rank, size)
	}

	lis := cfg.Listener
	if lis == nil {
		var err error
		log.Printf("[grpcnet] rank %d binding to %s", cfg.Rank, cfg.Peers[cfg.Rank])
		lis, err = net.Listen("tcp", cfg.Peers[cfg.Rank])
		if err != nil {
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	n := &Node{
		rank:     cfg.Rank,
		size:     size,
		inbox:    comm.NewInbox(),
		seq:      comm.NewSequencer(),
		listener: lis,
		conns:    make([]*grpc.ClientConn, size),
		ctx:      ctx,
		cancel:   cancel,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
	}, cfg.DialOptions...)
	for r, target := range cfg.Peers {
		if r == cfg.Rank {
			continue
		}
		cc, err := grpc.NewClient(target, dialOpts...)
		if err != nil {
			n.closeConns()
			lis.Close()
			cancel(err)
			return nil, fmt.Errorf("client for rank %d (%s): %w", r, target, err)
		}
		n.conns[r] = cc
	}

	n.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterTransportServer(n.server, &transportServer{node: n})

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Printf("[grpcnet] rank %d server error: %v", n.rank, err)
		}
	}()
	return n, nil
}

func (n *Node) Rank() int                     { return n.rank }
func (n *Node) Size() int                     { return n.size }
func (n *Node) ThreadLevel() comm.ThreadLevel { return comm.ThreadMultiple }

// Isend copies data and delivers it to dst in the background.
func (n *Node) Isend(ctx context.Context, data []float64, dst, tag int) *comm.Request {
	req, complete := comm.NewPendingRequest()
	if dst < 0 || dst >= n.size {
		complete(fmt.Errorf("destination rank %d out of range", dst))
		return req
	}
	env := envelope{src: n.rank, tag: tag, seq: n.seq.Next(dst, tag)}
	if dst == n.rank {
		payload := make([]float64, len(data))
		copy(payload, data)
		n.inbox.Deliver(env.src, env.tag, env.seq, payload)
		complete(nil)
		return req
	}

	msg := wrapperspb.Bytes(encodeFloats(data))
	cc := n.conns[dst]
	go func() {
		callCtx, stop := n.linked(ctx)
		defer stop()
		err := cc.Invoke(env.outgoing(callCtx), "/"+serviceName+"/Deliver", msg, new(emptypb.Empty), grpc.WaitForReady(true))
		if err != nil {
			if cause := context.Cause(callCtx); cause != nil {
				err = cause
			}
			err = fmt.Errorf("send to rank %d tag %d: %w", dst, tag, err)
		}
		complete(err)
	}()
	return req
}

// Irecv posts a receive that is also cancelled when the run is aborted.
func (n *Node) Irecv(ctx context.Context, buf []float64, src, tag int) *comm.Request {
	if src < 0 || src >= n.size {
		req, complete := comm.NewPendingRequest()
		complete(fmt.Errorf("source rank %d out of range", src))
		return req
	}
	req, complete := comm.NewPendingRequest()
	recvCtx, stop := n.linked(ctx)
	inner := n.inbox.Irecv(recvCtx, buf, src, tag)
	go func() {
		defer stop()
		complete(inner.Wait(context.Background()))
	}()
	return req
}

// Abort cancels this rank and asks every peer to do the same.
func (n *Node) Abort(err error) {
	if err == nil {
		err = comm.ErrAborted
	}
	if !n.abortLocal(err) {
		return
	}
	log.Printf("[grpcnet] rank %d aborting run: %v", n.rank, err)

	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	var wg sync.WaitGroup
	for r, cc := range n.conns {
		if cc == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rpcErr := callAbort(ctx, cc, err.Error()); rpcErr != nil {
				log.Printf("[grpcnet] rank %d could not notify rank %d of abort: %v", n.rank, r, rpcErr)
			}
		}()
	}
	wg.Wait()
}

func callAbort(ctx context.Context, cc *grpc.ClientConn, reason string) error {
	return cc.Invoke(ctx, "/"+serviceName+"/Abort", wrapperspb.String(reason), new(emptypb.Empty), grpc.WaitForReady(true))
}

// abortLocal records err and cancels local work. It reports whether this
// call was the first abort.
func (n *Node) abortLocal(err error) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.abortErr != nil {
		return false
	}
	n.abortErr = err
	n.cancel(err)
	return true
}

// Err returns the abort error, if any.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.abortErr
}

// Run calls fn with a context that is cancelled when any rank aborts.
// An abort takes precedence over fn's own error.
func (n *Node) Run(ctx context.Context, fn func(ctx context.Context, c comm.Communicator) error) error {
	runCtx, stop := n.linked(ctx)
	defer stop()
	err := fn(runCtx, n)
	if abortErr := n.Err(); abortErr != nil {
		return abortErr
	}
	return err
}

// Close stops serving and closes peer connections.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.server.GracefulStop()
	n.wg.Wait()
	n.closeConns()
	n.cancel(context.Canceled)
	return nil
}

func (n *Node) closeConns() {
	for _, cc := range n.conns {
		if cc != nil {
			cc.Close()
		}
	}
}

// linked derives a context from ctx that is also cancelled, with the same
// cause, when the node aborts.
func (n *Node) linked(ctx context.Context) (context.Context, func()) {
	out, cancel := context.WithCancelCause(ctx)
	stopAfter := context.AfterFunc(n.ctx, func() {
		cancel(context.Cause(n.ctx))
	})
	return out, func() {
		stopAfter()
		cancel(nil)
	}
}

type transportServer struct {
	node *Node
}

func (s *transportServer) Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	env, err := envelopeFromIncoming(ctx)
	if err != nil {
		return nil, err
	}
	if env.src < 0 || env.src >= s.node.size {
		return nil, status.Errorf(codes.InvalidArgument, "source rank %d out of range", env.src)
	}
	data, err := decodeFloats(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.node.inbox.Deliver(env.src, env.tag, env.seq, data)
	return &emptypb.Empty{}, nil
}

func (s *transportServer) Abort(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	reason := in.GetValue()
	log.Printf("[grpcnet] rank %d received abort: %s", s.node.rank, reason)
	s.node.abortLocal(&RemoteAbortError{Reason: reason})
	return &emptypb.Empty{}, nil
}

// RemoteAbortError is the cause seen by ranks that were told to abort by
// a peer.
type RemoteAbortError struct {
	Reason string
}

func (e *RemoteAbortError) Error() string {
	return "run aborted by peer: " + e.Reason
}

func (e *RemoteAbortError) Unwrap() error { return comm.ErrAborted }
