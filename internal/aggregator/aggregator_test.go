package aggregator

import (
	"sync"
	"testing"
)

func Test_Tracker_HasCandidate_StartsFalse(t *testing.T) {
	tr := NewTracker(1)
	if tr.HasCandidate() {
		t.Fatal("HasCandidate() = true before any Observe call")
	}
}

func Test_Tracker_KeepsLowestScore(t *testing.T) {
	tr := NewTracker(1)

	tr.Observe(10, 111, 500)
	tr.Observe(11, 111, 200)
	tr.Observe(12, 111, 900)

	if !tr.HasCandidate() {
		t.Fatal("HasCandidate() = false after Observe calls")
	}
	if tr.BestScore() != 200 {
		t.Errorf("BestScore() = %d, want 200", tr.BestScore())
	}
	if tr.BestNonce() != 11 {
		t.Errorf("BestNonce() = %d, want 11", tr.BestNonce())
	}
}

func Test_Tracker_TiesKeepFirstObserved(t *testing.T) {
	tr := NewTracker(1)

	tr.Observe(5, 1, 100)
	tr.Observe(6, 1, 100)

	if tr.BestNonce() != 5 {
		t.Errorf("BestNonce() = %d, want 5 (first observed on tie)", tr.BestNonce())
	}
}

func Test_Tracker_TracksAccountID(t *testing.T) {
	tr := NewTracker(1)

	tr.Observe(1, 999, 50)

	if tr.BestAccountID() != 999 {
		t.Errorf("BestAccountID() = %d, want 999", tr.BestAccountID())
	}
}

// Test_Tracker_ConcurrentObserveAndRead exercises the concurrency contract a
// scan's dedicated result-collector goroutine relies on: Observe from one
// goroutine racing with Best*/HasCandidate reads from another must never
// trip the race detector and must converge on the true minimum.
func Test_Tracker_ConcurrentObserveAndRead(t *testing.T) {
	tr := NewTracker(1)

	var wg sync.WaitGroup
	const writers = 8
	const perWriter = 200

	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				score := uint64(writers*perWriter - (base*perWriter + i))
				tr.Observe(uint64(base*perWriter+i), 1, score)
			}
		}(w)
	}

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			tr.HasCandidate()
			tr.BestScore()
			tr.BestNonce()
			tr.BestAccountID()
		}
	}()

	wg.Wait()
	close(stop)
	<-readerDone

	if !tr.HasCandidate() {
		t.Fatal("HasCandidate() = false after concurrent Observe calls")
	}
	if tr.BestScore() != 1 {
		t.Errorf("BestScore() = %d, want 1 (the lowest score written)", tr.BestScore())
	}
}
