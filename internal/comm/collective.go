package comm

import (
	"context"
	"fmt"
	"math"
)

const collectiveRoot = 0

// IallreduceMax launches a global maximum of v over every rank. Each rank
// must call it with the same sequence of collectives. Receives are posted
// before IallreduceMax returns, so the caller may keep computing while
// the reduction travels.
func IallreduceMax(ctx context.Context, c Communicator, v float64) *Future[float64] {
	f := newFuture[float64]()
	size := c.Size()
	if size == 1 {
		f.complete(v, nil)
		return f
	}

	if c.Rank() != collectiveRoot {
		send := c.Isend(ctx, []float64{v}, collectiveRoot, tagReduce)
		buf := make([]float64, 1)
		recv := c.Irecv(ctx, buf, collectiveRoot, tagBroadcast)
		go func() {
			if err := send.Wait(ctx); err != nil {
				f.complete(0, fmt.Errorf("allreduce send: %w", err))
				return
			}
			if err := recv.Wait(ctx); err != nil {
				f.complete(0, fmt.Errorf("allreduce broadcast: %w", err))
				return
			}
			f.complete(buf[0], nil)
		}()
		return f
	}

	bufs := make([][]float64, size)
	recvs := make([]*Request, size)
	for r := 0; r < size; r++ {
		if r == collectiveRoot {
			continue
		}
		bufs[r] = make([]float64, 1)
		recvs[r] = c.Irecv(ctx, bufs[r], r, tagReduce)
	}
	go func() {
		best := v
		for r := 0; r < size; r++ {
			if r == collectiveRoot {
				continue
			}
			if err := recvs[r].Wait(ctx); err != nil {
				f.complete(0, fmt.Errorf("allreduce from rank %d: %w", r, err))
				return
			}
			best = math.Max(best, bufs[r][0])
		}
		out := []float64{best}
		sends := make([]*Request, 0, size-1)
		for r := 0; r < size; r++ {
			if r == collectiveRoot {
				continue
			}
			sends = append(sends, c.Isend(ctx, out, r, tagBroadcast))
		}
		for _, s := range sends {
			if err := s.Wait(ctx); err != nil {
				f.complete(0, fmt.Errorf("allreduce broadcast: %w", err))
				return
			}
		}
		f.complete(best, nil)
	}()
	return f
}

// Barrier blocks until every rank has entered it.
func Barrier(ctx context.Context, c Communicator) error {
	_, err := IallreduceMax(ctx, c, 0).Wait(ctx)
	return err
}

// Gatherv collects a variable-length slice from every rank at root.
// counts[r] is the length rank r contributes. The future yields the
// per-rank slices at root and nil elsewhere.
func Gatherv(ctx context.Context, c Communicator, root int, send []float64, counts []int) *Future[[][]float64] {
	f := newFuture[[][]float64]()
	size := c.Size()
	if len(counts) != size {
		f.complete(nil, fmt.Errorf("%w: %d counts for %d ranks", ErrSizeMismatch, len(counts), size))
		return f
	}
	if len(send) != counts[c.Rank()] {
		f.complete(nil, fmt.Errorf("%w: rank %d sends %d values, counts say %d",
			ErrSizeMismatch, c.Rank(), len(send), counts[c.Rank()]))
		return f
	}

	if c.Rank() != root {
		req := c.Isend(ctx, send, root, tagGather)
		go func() {
			if err := req.Wait(ctx); err != nil {
				f.complete(nil, fmt.Errorf("gather send: %w", err))
				return
			}
			f.complete(nil, nil)
		}()
		return f
	}

	out := make([][]float64, size)
	recvs := make([]*Request, size)
	for r := 0; r < size; r++ {
		out[r] = make([]float64, counts[r])
		if r == root {
			copy(out[r], send)
			continue
		}
		recvs[r] = c.Irecv(ctx, out[r], r, tagGather)
	}
	go func() {
		for r, req := range recvs {
			if err := req.Wait(ctx); err != nil {
				f.complete(nil, fmt.Errorf("gather from rank %d: %w", r, err))
				return
			}
		}
		f.complete(out, nil)
	}()
	return f
}
