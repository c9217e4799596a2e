package remote

import (
	"context"
	"fmt"
	"os"

	"github.com/rescale/blindbackup/internal/constants"
	"github.com/rescale/blindbackup/internal/filecrypto"
	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
)

// wireDelete/wireDirectory/wireFile are the JSON shapes the receivechanges
// RPC expects, matching the server's delet/dcopy/fcopy parameters.
type wireDelete struct {
	Path string `json:"path"`
}
type wireDirectory struct {
	Path  string  `json:"path"`
	Atime float64 `json:"atime"`
	Mtime float64 `json:"mtime"`
}
type wireFile struct {
	Path  string  `json:"path"`
	Atime float64 `json:"atime"`
	Mtime float64 `json:"mtime"`
	Size  int64   `json:"size"`
}

// batch accumulates one receivechanges RPC's worth of records.
type batch struct {
	deletes    []wireDelete
	dirs       []wireDirectory
	files      []wireFile
	fileParts  []namedFile
	ownedFiles []string // ReceiverOwned BodyRef paths to unlink after flush
	encFiles   []string // re-crypted temp files to unlink after flush
	count      int
	totalSize  int64
}

// ReceiveChanges consumes a change stream, applies policy's re-cryption
// to paths and (for FILE records) bodies, and batches records into
// receivechanges RPC calls once either 1000 records or 1MiB of
// cumulative file size has accumulated.
func (p *Provider) ReceiveChanges(ctx context.Context, changes <-chan provider.Change, policy provider.KeyPolicy) error {
	b := &batch{}

	flush := func() error {
		if b.count == 0 {
			return nil
		}
		err := p.flushBatch(ctx, b)
		cleanupBatchFiles(b)
		*b = batch{}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			cleanupBatchFiles(b)
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				return flush()
			}
			if err := p.accumulate(b, change, policy); err != nil {
				cleanupBatchFiles(b)
				return err
			}
			if b.count > constants.ReceiveChangesBatchRecords || b.totalSize > constants.ReceiveChangesBatchBytes {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

// cleanupBatchFiles unlinks every temp file a batch owns, on both the
// success and failure paths out of ReceiveChanges.
func cleanupBatchFiles(b *batch) {
	for _, f := range b.encFiles {
		os.Remove(f)
	}
	for _, f := range b.ownedFiles {
		os.Remove(f)
	}
}

func (p *Provider) accumulate(b *batch, change provider.Change, policy provider.KeyPolicy) error {
	switch c := change.(type) {
	case provider.DeleteChange:
		rel, err := recryptPathComponents(c.RelPath, policy)
		if err != nil {
			return err
		}
		b.deletes = append(b.deletes, wireDelete{Path: rel.String()})
		b.count++

	case provider.DirectoryChange:
		rel, err := recryptPathComponents(c.RelPath, policy)
		if err != nil {
			return err
		}
		b.dirs = append(b.dirs, wireDirectory{
			Path:  rel.String(),
			Atime: float64(c.Atime.Unix()),
			Mtime: float64(c.Mtime.Unix()),
		})
		b.count++

	case provider.FileChange:
		rel, err := recryptPathComponents(c.RelPath, policy)
		if err != nil {
			return err
		}
		bodyPath, err := p.materializeFileBody(c, policy)
		if err != nil {
			return err
		}
		if bodyPath != c.BodyRef {
			b.encFiles = append(b.encFiles, bodyPath)
		}
		if c.Ownership == provider.ReceiverOwned && bodyPath == c.BodyRef {
			b.ownedFiles = append(b.ownedFiles, c.BodyRef)
		}
		b.files = append(b.files, wireFile{
			Path:  rel.String(),
			Atime: float64(c.Atime.Unix()),
			Mtime: float64(c.Mtime.Unix()),
			Size:  c.Size,
		})
		b.fileParts = append(b.fileParts, namedFile{Name: rel.String(), Path: bodyPath})
		b.count++
		b.totalSize += c.Size

	default:
		return fmt.Errorf("remote: %w: %T", provider.ErrProtocol, change)
	}
	return nil
}

// materializeFileBody re-crypts c's body per policy into a new temp file,
// or returns c.BodyRef unchanged when no re-cryption is needed.
func (p *Provider) materializeFileBody(c provider.FileChange, policy provider.KeyPolicy) (string, error) {
	if policy.DecryptKey == nil && policy.EncryptKey == nil {
		return c.BodyRef, nil
	}

	tmp, err := os.CreateTemp(p.tmpDir, "blindbackup-send-*")
	if err != nil {
		return "", fmt.Errorf("remote: create temp file: %w", err)
	}
	defer tmp.Close()

	src, err := os.Open(c.BodyRef)
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("remote: open %s: %w", c.BodyRef, err)
	}
	defer src.Close()

	ctx := context.Background()
	switch {
	case policy.DecryptKey != nil && policy.EncryptKey != nil:
		err = filecrypto.Recrypt(ctx, *policy.DecryptKey, *policy.EncryptKey, src, tmp)
	case policy.EncryptKey != nil:
		err = filecrypto.EncryptFile(ctx, *policy.EncryptKey, c.Size, src, tmp)
	case policy.DecryptKey != nil:
		err = filecrypto.DecryptFile(ctx, *policy.DecryptKey, src, tmp)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("remote: re-crypt body for %s: %w", c.RelPath, err)
	}
	return tmp.Name(), nil
}

func (p *Provider) flushBatch(ctx context.Context, b *batch) error {
	params := map[string]interface{}{
		"root":  p.root.String(),
		"uid":   p.uid,
		"delet": b.deletes,
		"dcopy": b.dirs,
		"fcopy": b.files,
	}
	var ignored interface{}
	if err := p.client.Call(ctx, "receivechanges", params, b.fileParts, &ignored); err != nil {
		return fmt.Errorf("remote: receivechanges: %w", err)
	}
	return nil
}

// recryptPathComponents mirrors localfs's component-wise re-cryption.
func recryptPathComponents(rel pathutil.RelPath, policy provider.KeyPolicy) (pathutil.RelPath, error) {
	if policy.DecryptKey == nil && policy.EncryptKey == nil {
		return rel, nil
	}
	out := make(pathutil.RelPath, len(rel))
	for i, c := range rel {
		name := c
		var err error
		if policy.DecryptKey != nil {
			name, err = filecrypto.DecryptFilename(*policy.DecryptKey, name)
			if err != nil {
				return nil, fmt.Errorf("remote: decrypt path component %q: %w", c, err)
			}
		}
		if policy.EncryptKey != nil {
			name, err = filecrypto.EncryptFilename(*policy.EncryptKey, name)
			if err != nil {
				return nil, fmt.Errorf("remote: encrypt path component %q: %w", c, err)
			}
		}
		out[i] = name
	}
	return out, nil
}
