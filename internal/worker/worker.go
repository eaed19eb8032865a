// Package worker implements one plot-folder mining worker: it streams
// scoop windows from every plot in its folder, hashes them across a pool
// of hasher goroutines, tracks the folder-local best deadline via
// internal/aggregator, and submits the winner to the pool with retry. One
// Folder runs per configured plot folder.
//
// Grounded on stratum/job.go's job.miner/job.mine (goroutine-per-lane
// fan-out feeding a shared result channel) and miner/btcMiner.go's
// Mine/Stop lifecycle, generalized from a fixed 32-bit nonce range to
// streaming plot files. The reader/hasher split follows
// original_source/src/miner.rs's mine/hashulator split, which spec.md §9
// explicitly allows as an internal optimization so long as externally
// observable ordering is preserved.
package worker

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"

	"github.com/Polyomino/burst-rminer/internal/aggregator"
	"github.com/Polyomino/burst-rminer/internal/config"
	"github.com/Polyomino/burst-rminer/internal/plots"
	"github.com/Polyomino/burst-rminer/internal/pool"
	"github.com/Polyomino/burst-rminer/internal/scoop"
	"github.com/Polyomino/burst-rminer/internal/shabal256"
)

// checkInterval is how often a scanning folder checks for new work and
// considers submitting its current best, per spec.md §4.4.
const checkInterval = 500 * time.Millisecond

// maxSubmitRetries bounds how many times a single check point retries a
// failing submit before deferring to the next check point.
const maxSubmitRetries = 3

// hashJob is the work item sent to a hasher goroutine: the 96-byte Shabal
// input (32-byte round prefix, concatenated with a 64-byte scoop) plus the
// nonce/account it belongs to.
type hashJob struct {
	input     [96]byte
	nonce     uint64
	accountID uint64
}

// Folder mines one plot folder. Its inbox receives new round work from the
// pool client; it runs until its context is cancelled.
type Folder struct {
	path  string
	plots []plots.Plot

	inbox chan scoop.Work
	pool  *pool.Client
	cfg   *config.Config

	log *logrus.Entry
}

// NewFolder constructs a worker for one discovered plot folder and
// subscribes it to the pool client.
func NewFolder(folder plots.Folder, p *pool.Client, cfg *config.Config) *Folder {
	f := &Folder{
		path:  folder.Path,
		plots: folder.Plots,
		inbox: make(chan scoop.Work, 4),
		pool:  p,
		cfg:   cfg,
		log:   logrus.WithField("folder", folder.Path),
	}
	p.Subscribe(f.inbox)
	return f
}

// Run blocks, alternating between idling for work and scanning the
// folder's plots for the current round, until ctx is cancelled.
func (f *Folder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case work := <-f.inbox:
			// Preemption re-enters this loop with the newer round instead of
			// scan calling itself: a long-running miner preempts many times
			// over its lifetime, and a self-recursive scan would grow the
			// goroutine's stack by one frame per preemption forever.
			for {
				preempted, newWork := f.scan(ctx, work)
				if !preempted {
					break
				}
				work = newWork
			}
		}
	}
}

// scan runs one round's full pass over the folder's plots, preemptible at
// each 500ms check point by a newer round arriving on the inbox. It reports
// whether a newer round preempted it and, if so, that round's work.
func (f *Folder) scan(ctx context.Context, work scoop.Work) (preempted bool, newWork scoop.Work) {
	tracker := aggregator.NewTracker(work.Height)
	lastCheck := time.Now()
	var lastSubmit *uint64

	hashIn, scoresOut := f.startHasherPool(ctx)

	// The collector drains scoresOut continuously for the whole round,
	// rather than scan draining it itself only at check points. Checkpoint-
	// only draining deadlocks on any plot whose StaggerSize pushes more jobs
	// than scoresOut's buffer between check points: once scoresOut fills,
	// every hasher goroutine blocks sending its result, which stops them
	// draining hashIn, which fills and blocks the producer below — and
	// nothing can reach the check point that would have drained it.
	// Continuous draining removes that backpressure path entirely.
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for c := range scoresOut {
			tracker.Observe(c.nonce, c.accountID, c.score)
		}
	}()

	// finishHashing closes hashIn, which lets every hasher goroutine drain
	// it and exit, which closes scoresOut (see startHasherPool), which lets
	// the collector above finish and return. Once finishHashing returns,
	// tracker reflects every job pushed before the call.
	finishHashing := func() {
		close(hashIn)
		<-collectorDone
	}

	submitIfWorthwhile := func() {
		if !tracker.HasCandidate() {
			return
		}
		deadlineCap := scoop.EffectiveDeadlineCap(work, f.cfg.MaxDeadline)
		if tracker.BestScore() < deadlineCap*work.BaseTarget {
			f.maybeSubmit(ctx, tracker, &lastSubmit)
		}
	}

	// checkPoint non-blockingly checks for a newer round; if none has
	// arrived it considers submitting the current best. It never blocks the
	// scan.
	checkPoint := func() (bool, scoop.Work) {
		select {
		case nw := <-f.inbox:
			return true, nw
		default:
		}

		submitIfWorthwhile()
		return false, scoop.Work{}
	}

	for _, plot := range f.plots {
		p, nw, err := f.scanPlot(ctx, plot, work, hashIn, &lastCheck, checkPoint)
		if p {
			finishHashing()
			return true, nw
		}
		if err != nil {
			f.log.WithError(err).WithField("plot", plot.Path).
				Warn("error scanning plot, skipping to next")
		}
	}

	finishHashing()
	submitIfWorthwhile()
	return false, scoop.Work{}
}

// scanPlot streams every stagger window of one plot, feeding each nonce's
// prefixed scoop into the hasher pool's input channel. If a
// check point during the scan observes new work, it returns
// preempted=true and the new work to resume with.
func (f *Folder) scanPlot(
	ctx context.Context,
	plot plots.Plot,
	work scoop.Work,
	hashIn chan<- hashJob,
	lastCheck *time.Time,
	checkPoint func() (bool, scoop.Work),
) (preempted bool, newWork scoop.Work, err error) {
	file, err := os.Open(plot.Path)
	if err != nil {
		return false, scoop.Work{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return false, scoop.Work{}, err
	}
	fileSize := info.Size()

	pageSize := int64(os.Getpagesize())
	staggerCount := plot.StaggerCount()
	nonce := plot.StartNonce

	for stagger := uint64(0); stagger < staggerCount; stagger++ {
		if ctx.Err() != nil {
			return false, scoop.Work{}, nil
		}

		// Offset of this stagger's window for the round's scoop, within the
		// interleaved-stagger plot layout: each stagger block holds every
		// scoop for StaggerSize consecutive nonces, back to back.
		offset := int64(stagger)*int64(plot.StaggerSize)*plots.PlotSize +
			int64(work.ScoopNum)*int64(plot.StaggerSize)*plots.ScoopSize
		windowLen := int64(plot.StaggerSize) * plots.ScoopSize

		aligned := offset - (offset % pageSize)
		extra := offset - aligned
		mapLen := windowLen + extra

		if aligned+mapLen > fileSize {
			f.log.WithFields(logrus.Fields{
				"plot":    plot.Path,
				"stagger": stagger,
			}).Warn("stagger window runs past end of file, skipping remainder")
			return false, scoop.Work{}, nil
		}

		window, raw, err := f.mapWindow(file, aligned, mapLen, extra, windowLen)
		if err != nil {
			return false, scoop.Work{}, err
		}

		for i := uint64(0); i < plot.StaggerSize; i++ {
			var job hashJob
			copy(job.input[:32], work.HasherPrefix[:])
			copy(job.input[32:], window[i*plots.ScoopSize:(i+1)*plots.ScoopSize])
			job.nonce = nonce
			job.accountID = plot.AccountID

			select {
			case hashIn <- job:
			case <-ctx.Done():
				_ = raw.Unmap()
				return false, scoop.Work{}, nil
			}

			nonce++
		}

		_ = raw.Unmap()

		if time.Since(*lastCheck) >= checkInterval {
			*lastCheck = time.Now()
			if p, nw := checkPoint(); p {
				return true, nw, nil
			}
		}
	}

	return false, scoop.Work{}, nil
}

// mapWindow maps mapLen bytes at the page-aligned offset aligned, and
// returns the windowLen-byte slice starting extra bytes into that mapping
// (the scoop-aligned window the caller actually wants) plus the raw mapping
// for the caller to Unmap once done.
func (f *Folder) mapWindow(file *os.File, aligned, mapLen, extra, windowLen int64) ([]byte, mmap.MMap, error) {
	raw, err := mmap.MapRegion(file, int(mapLen), mmap.RDONLY, 0, aligned)
	if err != nil {
		return nil, nil, err
	}
	return raw[extra : extra+windowLen], raw, nil
}

// candidate is one hashed nonce's score, passed from the reader to the
// folder's best tracker via the hasher pool's output channel.
type candidate struct {
	nonce     uint64
	accountID uint64
	score     uint64
}

// startHasherPool spins up cfg.ThreadsPerFolder goroutines that hash
// incoming scoop windows and emit candidate scores. out is closed once every
// hasher goroutine has exited (whether by in closing or ctx being done), so
// a caller ranging over out can tell when the round's hashing is fully
// drained.
func (f *Folder) startHasherPool(ctx context.Context) (chan<- hashJob, <-chan candidate) {
	threads := int(f.cfg.ThreadsPerFolder)
	if threads < 1 {
		threads = 1
	}

	in := make(chan hashJob, threads*4)
	out := make(chan candidate, threads*4)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range in {
				digest := shabal256.Sum256(job.input[:])
				score := uint64(digest[0]) | uint64(digest[1])<<8 |
					uint64(digest[2])<<16 | uint64(digest[3])<<24 |
					uint64(digest[4])<<32 | uint64(digest[5])<<40 |
					uint64(digest[6])<<48 | uint64(digest[7])<<56

				select {
				case out <- candidate{nonce: job.nonce, accountID: job.accountID, score: score}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return in, out
}

// maybeSubmit submits the tracker's current best nonce, retrying up to
// maxSubmitRetries times, and records it in lastSubmit on success so a
// later check point with an unchanged best does not resubmit.
func (f *Folder) maybeSubmit(ctx context.Context, tracker *aggregator.Tracker, lastSubmit **uint64) {
	best := tracker.BestNonce()
	if *lastSubmit != nil && **lastSubmit == best {
		return
	}

	var lastErr error
	for attempt := 0; attempt < maxSubmitRetries; attempt++ {
		_, err := f.pool.Submit(ctx, best, tracker.BestAccountID(), f.cfg.SecretPhrase)
		if err == nil {
			nonce := best
			*lastSubmit = &nonce
			return
		}
		lastErr = err
		f.log.WithError(err).WithField("attempt", attempt+1).Warn("submit failed, retrying")
	}

	f.log.WithError(lastErr).Warn("submit failed after retries, deferring to next check point")
}
