// Package scoop derives per-round mining parameters from a pool's mining
// info: which of the 4096 scoops this round selects, and the 32-byte hasher
// prefix every nonce's scoop bytes get appended to before hashing.
//
// Grounded on original_source/src/miner.rs's MinerWork and the derivation
// formula in spec.md §3.
package scoop

import (
	"encoding/binary"
	"fmt"

	"github.com/Polyomino/burst-rminer/internal/shabal256"
)

// ScoopCount is the number of scoops (and thus possible ScoopNum values)
// per nonce.
const ScoopCount = 4096

// MiningInfo is the subset of a pool.MiningInfo the deriver needs. Declared
// here (rather than importing internal/pool) to keep scoop a leaf package
// with no dependency on the HTTP client; internal/pool converts its own
// MiningInfo (hex-string signature) into this shape before deriving work.
type MiningInfo struct {
	GenerationSignature [32]byte
	Height              uint64
	BaseTarget          uint64
	TargetDeadline      uint64
}

// Work is the per-round parameters broadcast to every plot-folder worker.
type Work struct {
	HasherPrefix   [32]byte
	ScoopNum       uint16
	Height         uint64
	BaseTarget     uint64
	TargetDeadline uint64
}

// DeriveWork computes the scoop index for a round from its generation
// signature and height: shabal256(sig ‖ be64(height)), last two bytes read
// as a big-endian uint16, mod 4096.
func DeriveWork(info MiningInfo) (Work, error) {
	var buf [40]byte
	copy(buf[:32], info.GenerationSignature[:])
	binary.BigEndian.PutUint64(buf[32:], info.Height)

	digest := shabal256.Sum256(buf[:])

	scoopNum := binary.BigEndian.Uint16(digest[30:32]) % ScoopCount

	return Work{
		HasherPrefix:   info.GenerationSignature,
		ScoopNum:       scoopNum,
		Height:         info.Height,
		BaseTarget:     info.BaseTarget,
		TargetDeadline: info.TargetDeadline,
	}, nil
}

// EffectiveDeadlineCap resolves spec.md §9 Open Question #2: when maxDeadline
// is non-zero it acts as a local lower cap on the pool's target deadline;
// otherwise the pool's target deadline alone governs what is worth
// submitting.
func EffectiveDeadlineCap(work Work, maxDeadline uint32) uint64 {
	if maxDeadline == 0 {
		return work.TargetDeadline
	}
	if uint64(maxDeadline) < work.TargetDeadline {
		return uint64(maxDeadline)
	}
	return work.TargetDeadline
}

// Deadline converts a raw nonce score into a deadline in seconds: smaller
// is better, and a score of 0 with a base target of 0 is nonsensical input.
func Deadline(score, baseTarget uint64) (uint64, error) {
	if baseTarget == 0 {
		return 0, fmt.Errorf("base target must be non-zero")
	}
	return score / baseTarget, nil
}
