package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/rescale/blindbackup/internal/filecrypto"
	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
)

// ReceiveChanges consumes a change stream, applying policy's re-cryption
// to paths and file bodies, and uploads one object per record. Unlike
// the remote provider's batched RPC, each object-store write is already
// a single network call, so there is no benefit to accumulating records
// before flushing.
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
		return p.deleteRecursive(ctx, p.key(rel))

	case provider.DirectoryChange:
		rel, err := recryptPathComponents(c.RelPath, policy)
		if err != nil {
			return err
		}
		key := dirMarkerKey(p.key(rel))
		if key == "" {
			return nil // the root itself needs no marker
		}
		return p.client.Put(ctx, key, 0, bytes.NewReader(nil))

	case provider.FileChange:
		rel, err := recryptPathComponents(c.RelPath, policy)
		if err != nil {
			return err
		}
		bodyPath, size, err := p.materializeFileBody(c, policy)
		if err != nil {
			return err
		}
		defer func() {
			if bodyPath != c.BodyRef {
				os.Remove(bodyPath)
			}
			if c.Ownership == provider.ReceiverOwned {
				os.Remove(c.BodyRef)
			}
		}()

		f, err := os.Open(bodyPath)
		if err != nil {
			return fmt.Errorf("objectstore: open staged body %s: %w", bodyPath, err)
		}
		defer f.Close()

		return p.client.Put(ctx, p.key(rel), size, f)

	default:
		return fmt.Errorf("objectstore: %w: %T", provider.ErrProtocol, change)
	}
}

// deleteRecursive removes key and, if it names a directory, every
// object nested beneath it: object stores have no atomic subtree
// delete, so this lists and deletes one key at a time.
func (p *Provider) deleteRecursive(ctx context.Context, key string) error {
	if err := p.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("objectstore: delete %s: %w", key, err)
	}
	if err := p.client.Delete(ctx, dirMarkerKey(key)); err != nil {
		return fmt.Errorf("objectstore: delete marker for %s: %w", key, err)
	}

	prefix := key + "/"
	dirs, objects, err := p.client.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("objectstore: list %s for delete: %w", prefix, err)
	}
	for _, o := range objects {
		if err := p.client.Delete(ctx, o.Key); err != nil {
			return fmt.Errorf("objectstore: delete %s: %w", o.Key, err)
		}
	}
	for _, d := range dirs {
		if err := p.deleteRecursive(ctx, d[:len(d)-1]); err != nil { // trim trailing "/"
			return err
		}
	}
	return nil
}

// materializeFileBody re-crypts c's body per policy into a new temp
// file, or returns c.BodyRef unchanged when no re-cryption is needed.
func (p *Provider) materializeFileBody(c provider.FileChange, policy provider.KeyPolicy) (path string, size int64, err error) {
	if policy.DecryptKey == nil && policy.EncryptKey == nil {
		return c.BodyRef, c.Size, nil
	}

	tmp, err := os.CreateTemp(p.tmpDir, "blindbackup-send-*")
	if err != nil {
		return "", 0, fmt.Errorf("objectstore: create temp file: %w", err)
	}
	defer tmp.Close()

	src, err := os.Open(c.BodyRef)
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("objectstore: open %s: %w", c.BodyRef, err)
	}
	defer src.Close()

	switch {
	case policy.DecryptKey != nil && policy.EncryptKey != nil:
		err = filecrypto.Recrypt(context.Background(), *policy.DecryptKey, *policy.EncryptKey, src, tmp)
	case policy.EncryptKey != nil:
		err = filecrypto.EncryptFile(context.Background(), *policy.EncryptKey, c.Size, src, tmp)
	case policy.DecryptKey != nil:
		err = filecrypto.DecryptFile(context.Background(), *policy.DecryptKey, src, tmp)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("objectstore: re-crypt body for %s: %w", c.RelPath, err)
	}
	info, err := tmp.Stat()
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, err
	}
	return tmp.Name(), info.Size(), nil
}

// recryptPathComponents mirrors localfs's and remote's component-wise
// re-cryption.
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
				return nil, fmt.Errorf("objectstore: decrypt path component %q: %w", c, err)
			}
		}
		if policy.EncryptKey != nil {
			name, err = filecrypto.EncryptFilename(*policy.EncryptKey, name)
			if err != nil {
				return nil, fmt.Errorf("objectstore: encrypt path component %q: %w", c, err)
			}
		}
		out[i] = name
	}
	return out, nil
}
