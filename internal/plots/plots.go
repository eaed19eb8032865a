// Package plots discovers Burst plot files in configured directories and
// parses their filename-encoded metadata.
//
// Grounded on original_source/src/plots.rs (the Rust get_plots function):
// same regex, same is-a-directory check, same silent skip of names that
// don't match. Expressed in the teacher's small-pure-helper style
// (miner/util.go).
package plots

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"
)

// HashSize is the width, in bytes, of one Shabal-256 digest.
const HashSize = 32

// HashCap is the number of scoops stored per nonce.
const HashCap = 4096

// ScoopSize is the size, in bytes, of a single scoop (two concatenated
// hashes).
const ScoopSize = HashSize * 2

// PlotSize is the number of bytes one nonce occupies on disk.
const PlotSize = HashCap * ScoopSize

var filenamePattern = regexp.MustCompile(`^(\d+)_(\d+)_(\d+)_(\d+)$`)

// Plot is one immutable, already-discovered plot file.
type Plot struct {
	Path        string
	AccountID   uint64
	StartNonce  uint64
	NonceCount  uint64
	StaggerSize uint64
}

// StaggerCount is the number of interleaved stagger blocks in the plot.
func (p Plot) StaggerCount() uint64 {
	return p.NonceCount / p.StaggerSize
}

// Folder is a configured plot directory and the plots discovered within it.
type Folder struct {
	Path  string
	Plots []Plot
}

// ErrNotADirectory is returned by Discover when a configured plot folder
// path does not refer to a directory.
type ErrNotADirectory struct {
	Path string
}

func (e *ErrNotADirectory) Error() string {
	return fmt.Sprintf("plot folder %q is not a directory", e.Path)
}

// Discover enumerates every configured folder path and parses the plot
// files it finds. A folder that is not a directory is a fatal error for
// the whole call (the caller treats a missing plot folder as a startup
// failure, per the miner's failure semantics). A folder that contains zero
// matching files is retained empty, with a warning logged — its worker
// will simply idle.
func Discover(folderPaths []string) ([]Folder, error) {
	folders := make([]Folder, 0, len(folderPaths))

	for _, path := range folderPaths {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return nil, &ErrNotADirectory{Path: path}
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("reading plot folder %q: %w", path, err)
		}

		folder := Folder{Path: path}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			plot, ok, err := parsePlotFilename(path, entry.Name())
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"folder": path,
					"file":   entry.Name(),
					"error":  err,
				}).Warn("skipping plot file with invalid metadata")
				continue
			}
			if !ok {
				continue
			}

			folder.Plots = append(folder.Plots, plot)
		}

		if len(folder.Plots) == 0 {
			logrus.WithField("folder", path).Warn("plot folder contains no plot files")
		}

		folders = append(folders, folder)
	}

	return folders, nil
}

// parsePlotFilename parses a single directory entry name against the plot
// filename convention. ok is false (with a nil error) when the name simply
// doesn't match the pattern and should be skipped silently; err is non-nil
// when the name matches but one of its four integers overflows uint64 or
// nonce_count isn't a multiple of stagger_size.
func parsePlotFilename(folder, name string) (Plot, bool, error) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return Plot{}, false, nil
	}

	accountID, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return Plot{}, false, fmt.Errorf("account id: %w", err)
	}
	startNonce, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return Plot{}, false, fmt.Errorf("start nonce: %w", err)
	}
	nonceCount, err := strconv.ParseUint(m[3], 10, 64)
	if err != nil {
		return Plot{}, false, fmt.Errorf("nonce count: %w", err)
	}
	staggerSize, err := strconv.ParseUint(m[4], 10, 64)
	if err != nil {
		return Plot{}, false, fmt.Errorf("stagger size: %w", err)
	}

	if staggerSize == 0 || nonceCount%staggerSize != 0 {
		return Plot{}, false, fmt.Errorf(
			"nonce count %d is not a multiple of stagger size %d", nonceCount, staggerSize)
	}

	return Plot{
		Path:        filepath.Join(folder, name),
		AccountID:   accountID,
		StartNonce:  startNonce,
		NonceCount:  nonceCount,
		StaggerSize: staggerSize,
	}, true, nil
}
