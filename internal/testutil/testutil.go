// Package testutil provides shared test helpers for running ranks in
// process and checking HTTP responses.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/heatgrid/internal/comm"
)

// DefaultTimeout bounds a multi-rank test so a deadlock fails instead of
// hanging the suite.
const DefaultTimeout = 30 * time.Second

// Context returns a context cancelled after DefaultTimeout or at test end.
func Context(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}

// RunWorld runs fn on every rank of a fresh in-process world of the given
// size and returns the world's error. Failures to build the world fail t.
func RunWorld(t testing.TB, size int, fn func(ctx context.Context, c comm.Communicator) error, opts ...comm.WorldOption) error {
	t.Helper()
	world, err := comm.NewWorld(size, opts...)
	if err != nil {
		t.Fatalf("NewWorld(%d): %v", size, err)
	}
	return world.Run(Context(t), fn)
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
