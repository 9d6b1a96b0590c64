package media

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

type countingEngine struct {
	mu     sync.Mutex
	closed int
}

func (e *countingEngine) CreatePipeline(ctx context.Context) (Pipeline, error) {
	return nil, fmt.Errorf("not implemented")
}

func (e *countingEngine) Close() error {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
	return nil
}

func (e *countingEngine) closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func TestRefDialsLazily(t *testing.T) {
	dials := 0
	ref := NewRef(func(ctx context.Context) (Engine, error) {
		dials++
		return &countingEngine{}, nil
	})

	if dials != 0 {
		t.Fatal("dialed before first Acquire")
	}

	e1, err := ref.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	e2, err := ref.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if e1 != e2 {
		t.Fatal("second Acquire returned a different engine")
	}
	if dials != 1 {
		t.Fatalf("dialed %d times, want 1", dials)
	}
	if ref.Refs() != 2 {
		t.Fatalf("refs = %d, want 2", ref.Refs())
	}
}

func TestRefClosesAtZeroAndRedials(t *testing.T) {
	var engines []*countingEngine
	ref := NewRef(func(ctx context.Context) (Engine, error) {
		e := &countingEngine{}
		engines = append(engines, e)
		return e, nil
	})

	ref.Acquire(context.Background())
	ref.Acquire(context.Background())

	ref.Release()
	if engines[0].closes() != 0 {
		t.Fatal("engine closed while a reference was still held")
	}

	ref.Release()
	if engines[0].closes() != 1 {
		t.Fatalf("engine closed %d times at zero refs, want 1", engines[0].closes())
	}

	// Over-release must not underflow or close again.
	ref.Release()
	if engines[0].closes() != 1 {
		t.Fatal("over-release closed the engine again")
	}

	// Next Acquire dials fresh.
	if _, err := ref.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after close: %v", err)
	}
	if len(engines) != 2 {
		t.Fatalf("dialed %d engines, want 2", len(engines))
	}
}

func TestRefDialFailureHoldsNoReference(t *testing.T) {
	ref := NewRef(func(ctx context.Context) (Engine, error) {
		return nil, fmt.Errorf("engine unreachable")
	})

	if _, err := ref.Acquire(context.Background()); err == nil {
		t.Fatal("Acquire succeeded despite dial failure")
	}
	if ref.Refs() != 0 {
		t.Fatalf("refs = %d after failed dial, want 0", ref.Refs())
	}
}

func TestRefConcurrentAcquireRelease(t *testing.T) {
	engine := &countingEngine{}
	ref := NewRef(func(ctx context.Context) (Engine, error) {
		return engine, nil
	})

	const workers = 16
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := ref.Acquire(context.Background()); err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				ref.Release()
			}
		}()
	}
	wg.Wait()

	if ref.Refs() != 0 {
		t.Fatalf("refs = %d after all released, want 0", ref.Refs())
	}
}
