package dedup

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroup_ConcurrentCallersShareOneFactoryCall(t *testing.T) {
	g := New[int]()
	var calls int32
	start := make(chan struct{})

	const n = 50
	results := make([]int, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			<-start
			v, err := g.GetOrCreate("k", func() (int, error) {
				atomic.AddInt32(&calls, 1)
				// keep the call in flight long enough for every caller to join it
				time.Sleep(50 * time.Millisecond)
				return 42, nil
			})
			results[idx] = v
			errs[idx] = err
		}(i)
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("dedup:dedup_test - factory called %d times, want 1", got)
	}
	for i, v := range results {
		if v != 42 || errs[i] != nil {
			t.Errorf("dedup:dedup_test - caller %d got (%d, %v), want (42, nil)", i, v, errs[i])
		}
	}
}

func TestGroup_FactoryErrorPropagatesToAllCallers(t *testing.T) {
	g := New[string]()
	wantErr := errors.New("boom")
	start := make(chan struct{})

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			<-start
			_, err := g.GetOrCreate("k", func() (string, error) {
				return "", wantErr
			})
			errs[idx] = err
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Errorf("dedup:dedup_test - caller %d got err %v, want %v", i, err, wantErr)
		}
	}
}

func TestGroup_SubsequentCallAfterSettleRunsAgain(t *testing.T) {
	g := New[int]()
	var calls int32

	v1, err := g.GetOrCreate("k", func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	})
	if err != nil || v1 != 1 {
		t.Fatalf("dedup:dedup_test - unexpected first result: %d, %v", v1, err)
	}

	v2, err := g.GetOrCreate("k", func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 2, nil
	})
	if err != nil || v2 != 2 {
		t.Fatalf("dedup:dedup_test - unexpected second result: %d, %v", v2, err)
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("dedup:dedup_test - factory called %d times across two settled calls, want 2", got)
	}
}
