package remote

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
)

// SendChanges mirrors localfs's ordering (deletes, then directories
// top-down with recursive content, then loose files), but directory and
// file metadata come from the server's getinfo/listdir actions, and
// every file body is downloaded into a local temp file before being
// emitted as a RECEIVER-owned FileChange — the caller (ReceiveChanges on
// the other side) is responsible for deleting it afterward.
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
	if len(dirCopies) == 0 {
		return nil
	}
	infos, err := p.GetInfo(ctx, dirCopies, p.decryptionKeySet())
	if err != nil {
		return fmt.Errorf("remote: getinfo for directory copies: %w", err)
	}

	for i, d := range dirCopies {
		dc := provider.DirectoryChange{RelPath: d, Atime: infos[i].Atime, Mtime: infos[i].Mtime}
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
	infos, err := p.GetInfo(ctx, fileCopies, p.decryptionKeySet())
	if err != nil {
		return fmt.Errorf("remote: getinfo for file copies: %w", err)
	}

	for i, rel := range fileCopies {
		localPath, err := p.downloadToTemp(ctx, p.remotePath(rel))
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

func (p *Provider) downloadToTemp(ctx context.Context, rel pathutil.RelPath) (string, error) {
	body, err := p.client.Download(ctx, rel.String())
	if err != nil {
		return "", fmt.Errorf("remote: download %s: %w", rel, err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(p.tmpDir, "blindbackup-recv-*")
	if err != nil {
		return "", fmt.Errorf("remote: create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("remote: stage %s: %w", rel, err)
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

// decryptionKeySet reports whether this provider currently has a
// decryption key configured, which getinfo needs to know since it
// changes whether file size is read from the plaintext header or the
// physical size. The remote provider has no persistent key state of its
// own (keys are passed per-call via KeyPolicy to ReceiveChanges), so
// SendChanges always requests the physical size; re-cryption for
// outbound sync happens on the receiving side.
func (p *Provider) decryptionKeySet() bool {
	return false
}
