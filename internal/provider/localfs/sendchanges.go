package localfs

import (
	"context"
	"fmt"
	"os"

	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
)

// SendChanges produces a lazy stream of change records: all deletes
// first, then directories in top-down order with each directory
// immediately followed by its entire recursive content, then remaining
// loose files. Every record is SENDER-owned since bodies sit at their
// natural place on disk.
func (p *Provider) SendChanges(ctx context.Context, deletes, dirCopies, fileCopies []pathutil.RelPath) (<-chan provider.Change, <-chan error) {
	changes := make(chan provider.Change)
	errs := make(chan error, 1)

	go func() {
		defer close(changes)
		defer close(errs)

		for _, d := range deletes {
			select {
			case changes <- provider.DeleteChange{RelPath: d}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		if err := p.sendDirectories(ctx, dirCopies, changes); err != nil {
			errs <- err
			return
		}

		for _, f := range fileCopies {
			fc, err := p.fileChange(f)
			if err != nil {
				errs <- err
				return
			}
			select {
			case changes <- fc:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return changes, errs
}

func (p *Provider) sendDirectories(ctx context.Context, dirCopies []pathutil.RelPath, changes chan<- provider.Change) error {
	for _, d := range dirCopies {
		localPath := p.localPath(d)
		info, err := os.Stat(localPath)
		if err != nil {
			return fmt.Errorf("localfs: stat %s: %w", d, err)
		}

		dc := provider.DirectoryChange{
			RelPath: d,
			Atime:   accessTime(info),
			Mtime:   info.ModTime(),
		}
		select {
		case changes <- dc:
		case <-ctx.Done():
			return ctx.Err()
		}

		subdirs, subfiles, err := p.ListDir(ctx, d)
		if err != nil {
			return err
		}
		if err := p.sendDirectories(ctx, prefixed(d, subdirs), changes); err != nil {
			return err
		}
		for _, name := range subfiles {
			fc, err := p.fileChange(prefixedOne(d, name))
			if err != nil {
				return err
			}
			select {
			case changes <- fc:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (p *Provider) fileChange(rel pathutil.RelPath) (provider.FileChange, error) {
	localPath := p.localPath(rel)
	info, err := os.Stat(localPath)
	if err != nil {
		return provider.FileChange{}, fmt.Errorf("localfs: stat %s: %w", rel, err)
	}
	return provider.FileChange{
		RelPath:   rel,
		Atime:     accessTime(info),
		Mtime:     info.ModTime(),
		Size:      info.Size(),
		BodyRef:   localPath,
		Ownership: provider.SenderOwned,
	}, nil
}

func prefixed(base pathutil.RelPath, names []string) []pathutil.RelPath {
	out := make([]pathutil.RelPath, len(names))
	for i, n := range names {
		out[i] = prefixedOne(base, n)
	}
	return out
}

func prefixedOne(base pathutil.RelPath, name string) pathutil.RelPath {
	out := make(pathutil.RelPath, len(base)+1)
	copy(out, base)
	out[len(base)] = name
	return out
}
