package testutil

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/banshee-data/heatgrid/internal/comm"
)

func TestAssertStatusCode(t *testing.T) {
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestContextHasDeadline(t *testing.T) {
	ctx := Context(t)
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("expected a deadline")
	}
}

func TestRunWorldRunsEveryRank(t *testing.T) {
	var seen atomic.Int32
	err := RunWorld(t, 3, func(ctx context.Context, c comm.Communicator) error {
		seen.Add(1 << c.Rank())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := seen.Load(); got != 0b111 {
		t.Errorf("ranks seen = %b, want 111", got)
	}
}

func TestRunWorldReturnsRankError(t *testing.T) {
	boom := errors.New("boom")
	err := RunWorld(t, 2, func(ctx context.Context, c comm.Communicator) error {
		if c.Rank() == 1 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRunWorldPassesOptions(t *testing.T) {
	err := RunWorld(t, 1, func(ctx context.Context, c comm.Communicator) error {
		if c.ThreadLevel() != comm.ThreadFunneled {
			return errors.New("thread level not applied")
		}
		return nil
	}, comm.WithThreadLevel(comm.ThreadFunneled))
	if err != nil {
		t.Fatal(err)
	}
}
