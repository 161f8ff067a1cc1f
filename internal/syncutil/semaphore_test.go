package syncutil

import (
	"sync"
	"testing"
	"time"
)

func newLocalSemaphore(t *testing.T, initial uint32) (*Region, *Semaphore) {
	t.Helper()
	region, f, err := NewRegion(semaphoreWordSize)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	t.Cleanup(func() {
		region.Close()
		f.Close()
	})
	return region, region.Semaphore(0, initial)
}

func TestSemaphoreTryWait(t *testing.T) {
	_, sem := newLocalSemaphore(t, 1)

	ok, err := sem.TryWait()
	if err != nil || !ok {
		t.Fatalf("TryWait: got (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = sem.TryWait()
	if err != nil || ok {
		t.Fatalf("TryWait on empty semaphore: got (%v, %v), want (false, nil)", ok, err)
	}
}

func TestSemaphorePostWait(t *testing.T) {
	_, sem := newLocalSemaphore(t, 0)

	done := make(chan struct{})
	go func() {
		if err := sem.Wait(); err != nil {
			t.Errorf("Wait: %v", err)
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := sem.Post(); err != nil {
		t.Fatalf("Post: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Post")
	}
}

func TestSemaphoreTimedWaitTimesOut(t *testing.T) {
	_, sem := newLocalSemaphore(t, 0)

	start := time.Now()
	ok, err := sem.TimedWait(50 * time.Millisecond)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("TimedWait: %v", err)
	}
	if ok {
		t.Fatal("TimedWait: expected timeout (false), got true")
	}
	if elapsed < 40*time.Millisecond {
		t.Fatalf("TimedWait returned too early: %v", elapsed)
	}
}

func TestSemaphoreTimedWaitSucceeds(t *testing.T) {
	_, sem := newLocalSemaphore(t, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		sem.Post()
	}()

	ok, err := sem.TimedWait(time.Second)
	wg.Wait()
	if err != nil {
		t.Fatalf("TimedWait: %v", err)
	}
	if !ok {
		t.Fatal("TimedWait: expected success, got timeout")
	}
}

func TestSemaphoreCounting(t *testing.T) {
	_, sem := newLocalSemaphore(t, 3)

	for i := 0; i < 3; i++ {
		ok, err := sem.TryWait()
		if err != nil || !ok {
			t.Fatalf("TryWait #%d: got (%v, %v)", i, ok, err)
		}
	}
	ok, err := sem.TryWait()
	if err != nil || ok {
		t.Fatalf("TryWait after draining: got (%v, %v), want (false, nil)", ok, err)
	}
}
