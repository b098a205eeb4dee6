// Package filter implements the image filters used by registration and
// segmentation: Gaussian smoothing, shrinking, thresholding, gradients,
// binary morphology, hole filling and resampling.
package filter

import (
	"runtime"
	"sync"
)

// Workers is the number of goroutines a filter fans out to. Zero means
// runtime.NumCPU().
var Workers = 0

func workerCount(n int) int {
	w := Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

// parallelFor splits [0, n) into contiguous chunks and runs fn on each
// chunk concurrently.
func parallelFor(n int, fn func(start, end int)) {
	workers := workerCount(n)
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}
