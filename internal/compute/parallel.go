package compute

import "sync"

// ParallelRows splits the half-open row range [start, end) into at most
// workers contiguous chunks and runs task on each in its own goroutine.
// chunk is the zero-based chunk index, so callers can keep per-chunk
// results without locking. With one worker or one row the task runs on
// the calling goroutine.
func ParallelRows(start, end, workers int, task func(lo, hi, chunk int)) {
	total := end - start
	if total <= 0 {
		return
	}
	if workers <= 1 || total == 1 {
		task(start, end, 0)
		return
	}

	chunkSize := (total + workers - 1) / workers
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		lo := start + i*chunkSize
		if lo >= end {
			break
		}
		hi := min(lo+chunkSize, end)

		wg.Add(1)
		go func() {
			defer wg.Done()
			task(lo, hi, i)
		}()
	}
	wg.Wait()
}
