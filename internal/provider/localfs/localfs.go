// Package localfs implements provider.Provider against the local
// filesystem, rooted at a directory on disk.
package localfs

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/rescale/blindbackup/internal/filecrypto"
	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
)

// Provider is a provider.Provider rooted at a directory on the local
// filesystem.
type Provider struct {
	uid     string
	baseDir string
	root    pathutil.RelPath
	isClone bool
}

// New creates a Provider rooted at dir, which must already exist. uid is
// this provider's stable identifier.
func New(uid, dir string) (*Provider, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("localfs: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("localfs: not a directory: %s", abs)
	}
	return &Provider{uid: uid, baseDir: abs}, nil
}

func (p *Provider) UID() string              { return p.uid }
func (p *Provider) Root() pathutil.RelPath   { return p.root }
func (p *Provider) IsCaseSensitive() bool    { return runtime.GOOS != "windows" }

// Clone returns a new Provider sharing this one's UID and base
// directory but with an independent, initially-empty root, ready to be
// Drill-ed into a subtree.
func (p *Provider) Clone() provider.Provider {
	return &Provider{uid: p.uid, baseDir: p.baseDir, isClone: true}
}

// Drill extends root by subpath. Only legal on a clone.
func (p *Provider) Drill(subpath pathutil.RelPath) error {
	if !p.isClone {
		return fmt.Errorf("localfs: Drill called on a non-clone provider")
	}
	p.root = p.root.Join(subpath)
	return nil
}

// localPath converts a root-relative path into an absolute OS path.
func (p *Provider) localPath(rel pathutil.RelPath) string {
	full := p.root.Join(rel)
	return filepath.Join(p.baseDir, filepath.Join(full...))
}

// EventRelpath converts an absolute backing-store path into a relative
// path under this provider's root.
func (p *Provider) EventRelpath(fullPath string) (pathutil.RelPath, error) {
	rootDir := filepath.Join(p.baseDir, filepath.Join(p.root...))
	rel, err := filepath.Rel(rootDir, fullPath)
	if err != nil {
		return nil, fmt.Errorf("localfs: %w", err)
	}
	if rel == "." {
		return pathutil.RelPath(nil), nil
	}
	return pathutil.Parse(filepath.ToSlash(rel))
}

// ListDir lists localPath's entries, omitting ".", "..", and symlinks.
func (p *Provider) ListDir(ctx context.Context, dir pathutil.RelPath) (dirs, files []string, err error) {
	localPath := p.localPath(dir)
	info, err := os.Stat(localPath)
	if err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("localfs: %w: %s", provider.ErrInvalidPath, dir)
	}

	entries, err := os.ReadDir(localPath)
	if err != nil {
		return nil, nil, err
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		entryPath := filepath.Join(localPath, name)
		fi, statErr := os.Lstat(entryPath)
		if statErr != nil {
			continue
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if fi.IsDir() {
			dirs = append(dirs, name)
		} else if fi.Mode().IsRegular() {
			files = append(files, name)
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)
	return dirs, files, nil
}

// GetInfo returns a Stat per item, in input order. When encrypted is
// true, each file's Size is read from the body header rather than its
// physical size.
func (p *Provider) GetInfo(ctx context.Context, items []pathutil.RelPath, encrypted bool) ([]provider.Stat, error) {
	stats := make([]provider.Stat, len(items))
	for i, item := range items {
		localPath := p.localPath(item)
		info, err := os.Stat(localPath)
		if err != nil {
			return nil, fmt.Errorf("localfs: stat %s: %w", item, err)
		}

		size := info.Size()
		if encrypted && !info.IsDir() {
			size, err = readPlaintextSize(localPath)
			if err != nil {
				return nil, fmt.Errorf("localfs: read size header for %s: %w", item, err)
			}
		}

		stats[i] = provider.Stat{
			Atime: accessTime(info),
			Mtime: info.ModTime(),
			Size:  size,
		}
	}
	return stats, nil
}

// readPlaintextSize reads the 8-byte little-endian original size from
// the start of a body-encrypted file's header, per filecrypto's wire
// format.
func readPlaintextSize(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var header [8]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(header[:])), nil
}

// recryptPathComponents re-crypts each component of rel per policy: if
// both keys are set, decrypt-then-encrypt; if only one is set, apply
// just that transform; if neither is set, components pass through
// unchanged.
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
				return nil, fmt.Errorf("localfs: decrypt path component %q: %w", c, err)
			}
		}
		if policy.EncryptKey != nil {
			name, err = filecrypto.EncryptFilename(*policy.EncryptKey, name)
			if err != nil {
				return nil, fmt.Errorf("localfs: encrypt path component %q: %w", c, err)
			}
		}
		out[i] = name
	}
	return out, nil
}

func removeAll(localPath string) error {
	info, err := os.Lstat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return os.RemoveAll(localPath)
	}
	return os.Remove(localPath)
}
