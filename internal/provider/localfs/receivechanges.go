package localfs

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rescale/blindbackup/internal/filecrypto"
	"github.com/rescale/blindbackup/internal/provider"
)

const tmpSuffix = ".~tmp"

// ReceiveChanges consumes a change stream, applying policy's re-cryption
// to paths and (for FILE records) bodies, writing atomically: material
// lands at "<target>.~tmp", is transformed, then renamed over the final
// name, with mtime/atime restored after rename.
func (p *Provider) ReceiveChanges(ctx context.Context, changes <-chan provider.Change, policy provider.KeyPolicy) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			if err := p.applyChange(ctx, change, policy); err != nil {
				return err
			}
		}
	}
}

func (p *Provider) applyChange(ctx context.Context, change provider.Change, policy provider.KeyPolicy) error {
	switch c := change.(type) {
	case provider.DeleteChange:
		rel, err := recryptPathComponents(c.RelPath, policy)
		if err != nil {
			return err
		}
		return removeAll(p.localPath(rel))

	case provider.DirectoryChange:
		rel, err := recryptPathComponents(c.RelPath, policy)
		if err != nil {
			return err
		}
		localPath := p.localPath(rel)
		if err := removeAll(localPath); err != nil {
			return fmt.Errorf("localfs: clear %s before mkdir: %w", rel, err)
		}
		if err := os.MkdirAll(localPath, 0o755); err != nil {
			return fmt.Errorf("localfs: mkdir %s: %w", rel, err)
		}
		return os.Chtimes(localPath, c.Atime, c.Mtime)

	case provider.FileChange:
		return p.applyFile(ctx, c, policy)

	default:
		return fmt.Errorf("localfs: %w: %T", provider.ErrProtocol, change)
	}
}

func (p *Provider) applyFile(ctx context.Context, c provider.FileChange, policy provider.KeyPolicy) error {
	rel, err := recryptPathComponents(c.RelPath, policy)
	if err != nil {
		return err
	}
	dst := p.localPath(rel)
	tmp := dst + tmpSuffix

	needsRecryption := policy.DecryptKey != nil || policy.EncryptKey != nil
	deleteOrig := c.Ownership == provider.ReceiverOwned

	if !needsRecryption && c.Ownership == provider.ReceiverOwned {
		// Zero-copy path: the body is already a receiver-owned temp file
		// and no byte transform is required, so move it into place.
		if err := os.Rename(c.BodyRef, tmp); err != nil {
			return fmt.Errorf("localfs: stage %s: %w", rel, err)
		}
		deleteOrig = false
	} else if err := p.materializeBody(ctx, c, policy, tmp); err != nil {
		return err
	}

	if deleteOrig {
		defer os.Remove(c.BodyRef)
	}

	if err := removeAll(dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("localfs: clear %s before rename: %w", rel, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("localfs: finalize %s: %w", rel, err)
	}
	return os.Chtimes(dst, c.Atime, c.Mtime)
}

// materializeBody writes c's (possibly re-crypted) body to tmp.
func (p *Provider) materializeBody(ctx context.Context, c provider.FileChange, policy provider.KeyPolicy, tmp string) error {
	src, err := os.Open(c.BodyRef)
	if err != nil {
		return fmt.Errorf("localfs: open source body %s: %w", c.BodyRef, err)
	}
	defer src.Close()

	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("localfs: create %s: %w", tmp, err)
	}
	defer out.Close()

	switch {
	case policy.DecryptKey != nil && policy.EncryptKey != nil:
		err = filecrypto.Recrypt(ctx, *policy.DecryptKey, *policy.EncryptKey, src, out)
	case policy.EncryptKey != nil:
		err = filecrypto.EncryptFile(ctx, *policy.EncryptKey, c.Size, src, out)
	case policy.DecryptKey != nil:
		err = filecrypto.DecryptFile(ctx, *policy.DecryptKey, src, out)
	default:
		_, err = io.Copy(out, src)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("localfs: materialize body for %s: %w", c.RelPath, err)
	}
	return nil
}
