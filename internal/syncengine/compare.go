package syncengine

import (
	"context"
	"fmt"

	"github.com/rescale/blindbackup/internal/constants"
	"github.com/rescale/blindbackup/internal/filecrypto"
	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
)

// Plan is the work Compare schedules for a subsequent Sync: every path
// is in the plaintext namespace, relative to src's and dst's respective
// roots.
type Plan struct {
	Deletes    []pathutil.RelPath
	DirCopies  []pathutil.RelPath
	FileCopies []pathutil.RelPath
}

// Compare walks src's and dst's trees in lockstep, starting at their
// respective roots, and schedules deletes (if enabled), new directories
// and files to copy, and existing files whose mtime/size disagree enough
// to warrant a re-copy. srcKey/dstKey, when non-nil, are the encryption
// keys under which src's and dst's names and sizes are stored; Compare
// decrypts names for comparison and re-encrypts scheduled paths back
// into each side's own ciphertext namespace before querying it.
func Compare(ctx context.Context, src, dst provider.Provider, opts Options, srcKey, dstKey *filecrypto.Key) (*Plan, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	plan := &Plan{}
	if err := compareDir(ctx, src, dst, pathutil.Root, opts, srcKey, dstKey, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func compareDir(ctx context.Context, src, dst provider.Provider, relpath pathutil.RelPath, opts Options, srcKey, dstKey *filecrypto.Key, plan *Plan) error {
	srcQuery, err := encryptPath(srcKey, relpath)
	if err != nil {
		return err
	}
	dstQuery, err := encryptPath(dstKey, relpath)
	if err != nil {
		return err
	}

	srcDirsRaw, srcFilesRaw, err := src.ListDir(ctx, srcQuery)
	if err != nil {
		return fmt.Errorf("syncengine: listdir src %s: %w", relpath, err)
	}
	dstDirsRaw, dstFilesRaw, err := dst.ListDir(ctx, dstQuery)
	if err != nil {
		return fmt.Errorf("syncengine: listdir dst %s: %w", relpath, err)
	}

	srcDirs, err := decryptNames(srcKey, srcDirsRaw)
	if err != nil {
		return err
	}
	srcFiles, err := decryptNames(srcKey, srcFilesRaw)
	if err != nil {
		return err
	}
	dstDirs, err := decryptNames(dstKey, dstDirsRaw)
	if err != nil {
		return err
	}
	dstFiles, err := decryptNames(dstKey, dstFilesRaw)
	if err != nil {
		return err
	}

	srcDirSet := toSet(srcDirs)
	srcFileSet := toSet(srcFiles)
	dstDirSet := toSet(dstDirs)
	dstFileSet := toSet(dstFiles)

	if opts.SyncDeletes {
		for name := range union(dstDirSet, dstFileSet) {
			if !srcDirSet[name] && !srcFileSet[name] {
				plan.Deletes = append(plan.Deletes, relpath.Join(pathutil.RelPath{name}))
			}
		}
	}

	for name := range srcDirSet {
		if !dstDirSet[name] {
			plan.DirCopies = append(plan.DirCopies, relpath.Join(pathutil.RelPath{name}))
		}
	}
	for name := range srcFileSet {
		if !dstFileSet[name] {
			plan.FileCopies = append(plan.FileCopies, relpath.Join(pathutil.RelPath{name}))
		}
	}

	var common []pathutil.RelPath
	for name := range srcFileSet {
		if dstFileSet[name] {
			common = append(common, relpath.Join(pathutil.RelPath{name}))
		}
	}
	if len(common) > 0 {
		srcItems := make([]pathutil.RelPath, len(common))
		dstItems := make([]pathutil.RelPath, len(common))
		for i, item := range common {
			srcItems[i], err = encryptPath(srcKey, item)
			if err != nil {
				return err
			}
			dstItems[i], err = encryptPath(dstKey, item)
			if err != nil {
				return err
			}
		}
		srcInfos, err := src.GetInfo(ctx, srcItems, srcKey != nil)
		if err != nil {
			return fmt.Errorf("syncengine: getinfo src: %w", err)
		}
		dstInfos, err := dst.GetInfo(ctx, dstItems, dstKey != nil)
		if err != nil {
			return fmt.Errorf("syncengine: getinfo dst: %w", err)
		}
		for i, item := range common {
			if infoCompare(srcInfos[i], dstInfos[i], opts) {
				plan.FileCopies = append(plan.FileCopies, item)
			}
		}
	}

	for name := range srcDirSet {
		if dstDirSet[name] {
			if err := compareDir(ctx, src, dst, relpath.Join(pathutil.RelPath{name}), opts, srcKey, dstKey, plan); err != nil {
				return err
			}
		}
	}
	return nil
}

// infoCompare decides whether a file present on both sides needs
// copying. A CompareNewer mtime win takes precedence over size, even
// when the file shrank; CompareChanged mtime and size are each checked
// independently.
func infoCompare(src, dst provider.Stat, opts Options) bool {
	switch opts.MtimeMode {
	case CompareNewer:
		if src.Mtime.Sub(dst.Mtime) > constants.MtimeTolerance {
			return true
		}
	case CompareChanged:
		if src.Mtime.Sub(dst.Mtime).Abs() > constants.MtimeTolerance {
			return true
		}
	}
	switch opts.SizeMode {
	case CompareBigger:
		if src.Size > dst.Size {
			return true
		}
	case CompareChanged:
		if src.Size != dst.Size {
			return true
		}
	}
	return false
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for n := range a {
		out[n] = true
	}
	for n := range b {
		out[n] = true
	}
	return out
}
