package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("Pool should be running after creation")
	}
}

func TestWorkerPool_CreateDefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -5} {
		pool := NewWorkerPool(n)
		if got, want := pool.Workers(), runtime.GOMAXPROCS(0); got != want {
			t.Errorf("NewWorkerPool(%d).Workers() = %d, want %d", n, got, want)
		}
		pool.Close()
	}
}

func TestWorkerPool_ExecuteAll(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var counter atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}

	if err := pool.ExecuteAll(work); err != nil {
		t.Fatalf("ExecuteAll() error = %v", err)
	}
	if counter.Load() != 100 {
		t.Errorf("counter = %d, want 100", counter.Load())
	}
}

func TestWorkerPool_ExecuteAll_Empty(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	if err := pool.ExecuteAll(nil); err != nil {
		t.Errorf("ExecuteAll(nil) error = %v", err)
	}
}

func TestWorkerPool_ExecuteAll_RecoversPanic(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	var ran atomic.Int64
	err := pool.ExecuteAll([]func(){
		func() { ran.Add(1) },
		func() { panic("index out of range") },
		func() { ran.Add(1) },
	})
	if err == nil {
		t.Fatal("ExecuteAll() error = nil, want recovered panic")
	}
	if ran.Load() != 2 {
		t.Errorf("ran = %d, want 2", ran.Load())
	}
	if !pool.IsRunning() {
		t.Error("pool stopped after a panicking work item")
	}
}

func TestWorkerPool_ExecuteAll_AfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()

	var ran atomic.Bool
	if err := pool.ExecuteAll([]func(){func() { ran.Store(true) }}); err != nil {
		t.Fatalf("ExecuteAll() error = %v", err)
	}
	if !ran.Load() {
		t.Error("work did not run on a closed pool")
	}
}

func TestWorkerPool_ExecuteAll_ConcurrentClose(t *testing.T) {
	for round := range 200 {
		pool := NewWorkerPool(2)
		var ran atomic.Int64
		work := make([]func(), 32)
		for i := range work {
			work[i] = func() { ran.Add(1) }
		}

		finished := make(chan error, 1)
		go func() { finished <- pool.ExecuteAll(work) }()
		pool.Close()

		select {
		case err := <-finished:
			if err != nil {
				t.Fatalf("round %d: ExecuteAll() error = %v", round, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("round %d: ExecuteAll() did not return after Close", round)
		}
		if got := ran.Load(); got != int64(len(work)) {
			t.Fatalf("round %d: ran %d items, want %d", round, got, len(work))
		}
	}
}

func TestWorkerPool_ForRange(t *testing.T) {
	pool := NewWorkerPool(3)
	defer pool.Close()

	tests := []int{0, 1, 5, 6, 7, 100}
	for _, n := range tests {
		var mu sync.Mutex
		seen := make([]int, n)
		err := pool.ForRange(n, func(lo, hi int) {
			mu.Lock()
			defer mu.Unlock()
			for i := lo; i < hi; i++ {
				seen[i]++
			}
		})
		if err != nil {
			t.Fatalf("ForRange(%d) error = %v", n, err)
		}
		for i, c := range seen {
			if c != 1 {
				t.Errorf("ForRange(%d): index %d visited %d times, want 1", n, i, c)
			}
		}
	}
}

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()
	if pool.IsRunning() {
		t.Error("IsRunning() = true after Close")
	}
}

func BenchmarkWorkerPool_ForRange(b *testing.B) {
	pool := NewWorkerPool(0)
	defer pool.Close()

	data := make([]float32, 130*130)
	b.ReportAllocs()
	for b.Loop() {
		_ = pool.ForRange(130, func(lo, hi int) {
			for row := lo; row < hi; row++ {
				for col := range 130 {
					data[row*130+col] += 1
				}
			}
		})
	}
}
