// Package aggregator tracks the best (lowest-score) nonce a plot-folder
// worker has hashed for the round currently in progress.
//
// Grounded on original_source/src/miner.rs's per-round best-deadline
// bookkeeping (a folder keeps only the single best candidate it has seen,
// never a full ranked list), expressed as a small stateful type in the
// teacher's style of narrow, single-purpose helper types (miner/share.go).
package aggregator

import "sync"

// Tracker retains the best-scoring nonce observed so far for one height.
// A lower score corresponds to a shorter deadline, which is better.
//
// Tracker is safe for concurrent use: internal/worker's hasher-result
// collector goroutine calls Observe continuously while the folder's scan
// goroutine reads Best* at checkpoints, in the same mutex-guarded-state
// style as internal/pool.Client.
type Tracker struct {
	Height uint64

	mu            sync.Mutex
	bestScore     uint64
	bestNonce     uint64
	bestAccountID uint64
	has           bool
}

// NewTracker starts a fresh tracker for the given round height with no
// candidate observed yet.
func NewTracker(height uint64) *Tracker {
	return &Tracker{Height: height}
}

// Observe records a hashed nonce's score, replacing the current best only
// if score is strictly lower.
func (t *Tracker) Observe(nonce, accountID, score uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.has || score < t.bestScore {
		t.has = true
		t.bestScore = score
		t.bestNonce = nonce
		t.bestAccountID = accountID
	}
}

// HasCandidate reports whether Observe has been called at least once.
func (t *Tracker) HasCandidate() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.has
}

// BestScore returns the current best score. Only meaningful when
// HasCandidate reports true.
func (t *Tracker) BestScore() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bestScore
}

// BestNonce returns the nonce belonging to the current best score.
func (t *Tracker) BestNonce() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bestNonce
}

// BestAccountID returns the account ID belonging to the current best score.
func (t *Tracker) BestAccountID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bestAccountID
}
