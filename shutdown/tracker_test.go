package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestOperationTracker_StartDone(t *testing.T) {
	tr := NewOperationTracker()

	if !tr.Start() || !tr.Start() {
		t.Fatal("Start should succeed on an open tracker")
	}
	if got := tr.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount() = %d, want 2", got)
	}
	tr.Done()
	tr.Done()
	if got := tr.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d, want 0", got)
	}
}

func TestOperationTracker_CloseRejects(t *testing.T) {
	tr := NewOperationTracker()
	tr.Close()

	if !tr.IsClosed() {
		t.Fatal("tracker should be closed")
	}
	if tr.Start() {
		t.Error("Start should fail after Close")
	}
}

func TestOperationTracker_WaitCompletes(t *testing.T) {
	tr := NewOperationTracker()
	tr.Start()

	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.Done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestOperationTracker_WaitTimeout(t *testing.T) {
	tr := NewOperationTracker()
	tr.Start()
	defer tr.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tr.Wait(ctx); err != ErrWaitTimeout {
		t.Fatalf("Wait() = %v, want ErrWaitTimeout", err)
	}
}

func TestOperationTracker_Concurrent(t *testing.T) {
	tr := NewOperationTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Start() {
				tr.Done()
			}
		}()
	}
	wg.Wait()

	if got := tr.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d, want 0", got)
	}
}
