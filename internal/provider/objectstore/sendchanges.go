package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
)

// SendChanges mirrors remote's shape: directory and file metadata come
// from Stat/List, and every file body is downloaded into a local temp
// file before being emitted as a RECEIVER-owned FileChange.
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
		if err := p.sendFiles(ctx, fileCopies, changes); err != nil {
			errs <- err
			return
		}
	}()

	return changes, errs
}

func (p *Provider) sendDirectories(ctx context.Context, dirCopies []pathutil.RelPath, changes chan<- provider.Change) error {
	for _, d := range dirCopies {
		infos, err := p.GetInfo(ctx, []pathutil.RelPath{d}, false)
		if err != nil {
			return fmt.Errorf("objectstore: stat directory %s: %w", d, err)
		}
		dc := provider.DirectoryChange{RelPath: d, Atime: infos[0].Atime, Mtime: infos[0].Mtime}
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
		if err := p.sendFiles(ctx, prefixed(d, subfiles), changes); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) sendFiles(ctx context.Context, fileCopies []pathutil.RelPath, changes chan<- provider.Change) error {
	if len(fileCopies) == 0 {
		return nil
	}
	infos, err := p.GetInfo(ctx, fileCopies, false)
	if err != nil {
		return fmt.Errorf("objectstore: getinfo for file copies: %w", err)
	}

	for i, rel := range fileCopies {
		localPath, err := p.downloadToTemp(ctx, p.key(rel))
		if err != nil {
			return err
		}
		fc := provider.FileChange{
			RelPath:   rel,
			Atime:     infos[i].Atime,
			Mtime:     infos[i].Mtime,
			Size:      infos[i].Size,
			BodyRef:   localPath,
			Ownership: provider.ReceiverOwned,
		}
		select {
		case changes <- fc:
		case <-ctx.Done():
			os.Remove(localPath)
			return ctx.Err()
		}
	}
	return nil
}

func (p *Provider) downloadToTemp(ctx context.Context, key string) (string, error) {
	body, err := p.client.Open(ctx, key)
	if err != nil {
		return "", fmt.Errorf("objectstore: open %s: %w", key, err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(p.tmpDir, "blindbackup-recv-*")
	if err != nil {
		return "", fmt.Errorf("objectstore: create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("objectstore: stage %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func prefixed(base pathutil.RelPath, names []string) []pathutil.RelPath {
	out := make([]pathutil.RelPath, len(names))
	for i, n := range names {
		full := make(pathutil.RelPath, len(base)+1)
		copy(full, base)
		full[len(base)] = n
		out[i] = full
	}
	return out
}
