package waiter

import (
	"sync"
	"testing"
)

func TestEnterLeave(t *testing.T) {
	s := New()

	if !s.Enter(100) {
		t.Fatal("first Enter should succeed")
	}
	if s.Enter(100) {
		t.Fatal("second concurrent Enter should fail")
	}
	s.Leave(100)
	if s.Contains(100) {
		t.Fatal("job should no longer be present after Leave")
	}
	if !s.Enter(100) {
		t.Fatal("Enter should succeed again after Leave")
	}
}

func TestLeaveIdempotent(t *testing.T) {
	s := New()
	s.Leave(999) // never entered
	s.Enter(999)
	s.Leave(999)
	s.Leave(999) // called twice, must not panic or corrupt state
	if s.Contains(999) {
		t.Fatal("job should not be present after repeated Leave")
	}
}

func TestDuplicateTerminateRace(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	results := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Enter(42)
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for r := range results {
		if r {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("exactly one Enter should win a race, got %d", winners)
	}
}
