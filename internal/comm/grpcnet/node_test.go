package grpcnet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/heatgrid/internal/comm"
	"github.com/banshee-data/heatgrid/internal/config"
	"github.com/banshee-data/heatgrid/internal/grid"
	"github.com/banshee-data/heatgrid/internal/solver"
)

const bufSize = 1 << 20

// startCluster brings up size nodes wired together over in-memory
// listeners.
func startCluster(t *testing.T, size int) []*Node {
	t.Helper()
	listeners := make(map[string]*bufconn.Listener, size)
	peers := make([]string, size)
	for r := range peers {
		name := fmt.Sprintf("rank%d", r)
		listeners[name] = bufconn.Listen(bufSize)
		peers[r] = "passthrough:///" + name
	}
	dialer := grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		lis, ok := listeners[addr]
		if !ok {
			return nil, fmt.Errorf("unknown address %q", addr)
		}
		return lis.DialContext(ctx)
	})

	nodes := make([]*Node, size)
	for r := range nodes {
		n, err := Start(Config{
			Rank:        r,
			Peers:       peers,
			Listener:    listeners[fmt.Sprintf("rank%d", r)],
			DialOptions: []grpc.DialOption{dialer},
		})
		require.NoError(t, err)
		nodes[r] = n
	}
	t.Cleanup(func() {
		for _, n := range nodes {
			n.Close()
		}
	})
	return nodes
}

// runAll runs fn on every node concurrently and returns the per-rank errors.
func runAll(ctx context.Context, nodes []*Node, fn func(ctx context.Context, c comm.Communicator) error) []error {
	errs := make([]error, len(nodes))
	var wg sync.WaitGroup
	for r, n := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[r] = n.Run(ctx, fn)
		}()
	}
	wg.Wait()
	return errs
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEncodeDecodeFloats(t *testing.T) {
	in := []float64{0, -1.5, math.Pi, math.MaxFloat64, math.SmallestNonzeroFloat64}
	out, err := decodeFloats(encodeFloats(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeFloats([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestEnvelopeMetadata(t *testing.T) {
	env := envelope{src: 3, tag: 1, seq: 42}
	out := env.outgoing(context.Background())
	md, ok := metadata.FromOutgoingContext(out)
	require.True(t, ok)

	got, err := envelopeFromIncoming(metadata.NewIncomingContext(context.Background(), md))
	require.NoError(t, err)
	assert.Equal(t, env, got)

	_, err = envelopeFromIncoming(context.Background())
	assert.Error(t, err)
}

func TestStartRejectsBadRank(t *testing.T) {
	_, err := Start(Config{Rank: 2, Peers: []string{"a", "b"}})
	assert.Error(t, err)
}

func TestNodeHaloStyleExchange(t *testing.T) {
	nodes := startCluster(t, 3)
	ctx := testContext(t)

	errs := runAll(ctx, nodes, func(ctx context.Context, c comm.Communicator) error {
		r, size := c.Rank(), c.Size()
		row := []float64{float64(r), float64(r) + 0.25, float64(r) + 0.5}
		var reqs []*comm.Request
		above := make([]float64, 3)
		below := make([]float64, 3)
		if r > 0 {
			reqs = append(reqs, c.Irecv(ctx, above, r-1, 0), c.Isend(ctx, row, r-1, 1))
		}
		if r < size-1 {
			reqs = append(reqs, c.Irecv(ctx, below, r+1, 1), c.Isend(ctx, row, r+1, 0))
		}
		for _, req := range reqs {
			if err := req.Wait(ctx); err != nil {
				return err
			}
		}
		if r > 0 && above[0] != float64(r-1) {
			return fmt.Errorf("rank %d: upper halo %v", r, above)
		}
		if r < size-1 && below[2] != float64(r+1)+0.5 {
			return fmt.Errorf("rank %d: lower halo %v", r, below)
		}
		return nil
	})
	for r, err := range errs {
		assert.NoError(t, err, "rank %d", r)
	}
}

func TestNodeCollectives(t *testing.T) {
	nodes := startCluster(t, 4)
	ctx := testContext(t)

	errs := runAll(ctx, nodes, func(ctx context.Context, c comm.Communicator) error {
		for round := 0; round < 3; round++ {
			got, err := comm.IallreduceMax(ctx, c, float64(c.Rank()+round)).Wait(ctx)
			if err != nil {
				return err
			}
			if want := float64(c.Size() - 1 + round); got != want {
				return fmt.Errorf("round %d: got %v want %v", round, got, want)
			}
		}
		return comm.Barrier(ctx, c)
	})
	for r, err := range errs {
		assert.NoError(t, err, "rank %d", r)
	}
}

func TestNodeAbortPropagates(t *testing.T) {
	nodes := startCluster(t, 2)
	ctx := testContext(t)
	fatal := errors.New("bad configuration")

	errs := runAll(ctx, nodes, func(ctx context.Context, c comm.Communicator) error {
		if c.Rank() == 1 {
			c.Abort(fatal)
			return nil
		}
		return c.Irecv(ctx, make([]float64, 1), 1, 0).Wait(ctx)
	})

	assert.ErrorIs(t, errs[1], fatal)
	require.Error(t, errs[0])
	var remote *RemoteAbortError
	require.ErrorAs(t, errs[0], &remote)
	assert.Equal(t, "bad configuration", remote.Reason)
	assert.ErrorIs(t, errs[0], comm.ErrAborted)
}

// cancelAt cancels a rank's context once it reaches an iteration.
type cancelAt struct {
	iteration int
	cancel    context.CancelFunc
}

func (o cancelAt) ObserveIteration(st solver.IterationState) {
	if st.Iteration == o.iteration {
		o.cancel()
	}
}

func TestSolverPeerAbortsWhenRankStops(t *testing.T) {
	nodes := startCluster(t, 2)
	settings := solver.Settings{
		GlobalRows:     40,
		Columns:        16,
		Threshold:      1e-12,
		MaxIterations:  1_000_000,
		PrintFrequency: 1000,
		Workers:        2,
		InitialDelta:   config.InitialGlobalDelta,
	}

	errs := make([]error, len(nodes))
	returned := make([]time.Duration, len(nodes))
	start := time.Now()
	var wg sync.WaitGroup
	for r, n := range nodes {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		ctrl := &solver.Controller{
			Settings:    settings,
			Initialiser: grid.FieldInitialiser{Field: grid.Ramp{Max: 100}},
		}
		if r == 0 {
			ctrl.Observer = cancelAt{iteration: 20, cancel: cancel}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[r] = n.Run(ctx, func(ctx context.Context, c comm.Communicator) error {
				ctrl.Comm = c
				_, err := ctrl.Run(ctx)
				return err
			})
			returned[r] = time.Since(start)
		}()
	}
	wg.Wait()

	require.Error(t, errs[0])
	assert.ErrorIs(t, errs[0], context.Canceled)
	require.Error(t, errs[1])
	assert.ErrorIs(t, errs[1], comm.ErrAborted)
	assert.NotErrorIs(t, errs[1], context.DeadlineExceeded)
	assert.Less(t, returned[1], 10*time.Second)
}
