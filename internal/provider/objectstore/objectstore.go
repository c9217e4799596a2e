// Package objectstore implements provider.Provider against third-party
// object stores (S3, Azure Blob Storage). Both backends share one
// Provider built on a small blobClient interface, since the two SDKs
// differ only in how they name the handful of operations a flat key/value
// store needs: list-by-prefix, head, get, put, delete.
package objectstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
)

// blobObject is what blobClient.List returns for one entry under a prefix.
type blobObject struct {
	Key     string
	IsDir   bool
	Size    int64
	Mtime   time.Time
}

// blobClient abstracts the object-store operations Provider needs.
// s3Client and azureClient each implement it against their own SDK.
type blobClient interface {
	// List returns the immediate children of prefix: "directories" (keys
	// that share a "/"-delimited segment beyond prefix) and objects,
	// mirroring a delimiter-based ListObjectsV2/ListBlobs call.
	List(ctx context.Context, prefix string) (dirs []string, objects []blobObject, err error)

	// Stat returns an object's size and last-modified time.
	Stat(ctx context.Context, key string) (blobObject, error)

	// Open returns the object's full body.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// OpenRange returns the first n bytes of the object's body, used to
	// read the plaintext size header without downloading the whole file.
	OpenRange(ctx context.Context, key string, n int64) (io.ReadCloser, error)

	// Put uploads body as key's content, replacing any existing object.
	Put(ctx context.Context, key string, size int64, body io.Reader) error

	// Delete removes a single object. Deleting a non-existent key is not
	// an error.
	Delete(ctx context.Context, key string) error
}

// Provider is a provider.Provider backed by an object-store blobClient,
// rooted at a key prefix within one bucket/container.
type Provider struct {
	uid     string
	client  blobClient
	root    pathutil.RelPath
	tmpDir  string
	isClone bool
}

func newProvider(uid string, client blobClient, tmpDir string) (*Provider, error) {
	if tmpDir == "" {
		return nil, fmt.Errorf("objectstore: tmpDir is required")
	}
	info, err := os.Stat(tmpDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("objectstore: tmpDir %q is not a directory", tmpDir)
	}
	return &Provider{uid: uid, client: client, tmpDir: tmpDir}, nil
}

func (p *Provider) UID() string            { return p.uid }
func (p *Provider) Root() pathutil.RelPath { return p.root }

// Clone returns a new Provider sharing this one's UID, client, and temp
// directory, with an independent, initially-empty root.
func (p *Provider) Clone() provider.Provider {
	return &Provider{uid: p.uid, client: p.client, tmpDir: p.tmpDir, isClone: true}
}

// Drill extends root by subpath. Only legal on a clone.
func (p *Provider) Drill(subpath pathutil.RelPath) error {
	if !p.isClone {
		return fmt.Errorf("objectstore: Drill called on a non-clone provider")
	}
	p.root = p.root.Join(subpath)
	return nil
}

// IsCaseSensitive is always true: both S3 and Azure Blob Storage treat
// keys as opaque byte strings.
func (p *Provider) IsCaseSensitive() bool { return true }

// EventRelpath is not meaningful for a polled object store; it exists to
// satisfy the Provider interface when a Registry entry is built for one,
// but ListenChanges never calls it since object stores push no events.
func (p *Provider) EventRelpath(fullPath string) (pathutil.RelPath, error) {
	return pathutil.Parse(strings.TrimPrefix(fullPath, "/"))
}

// ListenChanges is unsupported: object stores in this system are synced
// by polling the comparator, not by push notification (wiring
// bucket/queue event notifications is out of scope).
func (p *Provider) ListenChanges(ctx context.Context, onChange func(provider.Event)) (*provider.ListenerHandle, error) {
	return nil, fmt.Errorf("objectstore: ListenChanges is not supported; use periodic syncengine.Compare instead")
}

func (p *Provider) key(rel pathutil.RelPath) string {
	full := p.root.Join(rel)
	return full.String()
}

// dirMarkerKey is the zero-byte object that records an otherwise-empty
// directory's existence and metadata, since object stores have no
// native directory concept.
func dirMarkerKey(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

// ListDir lists dir's immediate children.
func (p *Provider) ListDir(ctx context.Context, dir pathutil.RelPath) (dirs, files []string, err error) {
	prefix := p.key(dir)
	if prefix != "" {
		prefix += "/"
	}
	rawDirs, objects, err := p.client.List(ctx, prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("objectstore: list %s: %w", prefix, err)
	}
	for _, d := range rawDirs {
		dirs = append(dirs, strings.TrimSuffix(strings.TrimPrefix(d, prefix), "/"))
	}
	for _, o := range objects {
		name := strings.TrimPrefix(o.Key, prefix)
		if name == "" {
			continue // the directory's own marker object
		}
		files = append(files, name)
	}
	return dirs, files, nil
}

// GetInfo returns a Stat per item. When encrypted is true, Size is read
// from the plaintext size header rather than the object's content length.
func (p *Provider) GetInfo(ctx context.Context, items []pathutil.RelPath, encrypted bool) ([]provider.Stat, error) {
	stats := make([]provider.Stat, len(items))
	for i, item := range items {
		key := p.key(item)
		obj, err := p.client.Stat(ctx, key)
		if err != nil {
			// Directories often have no marker object; report zero
			// metadata rather than fail the whole batch.
			stats[i] = provider.Stat{}
			continue
		}
		size := obj.Size
		if encrypted && !obj.IsDir {
			plainSize, err := p.readPlaintextSize(ctx, key)
			if err == nil {
				size = plainSize
			}
		}
		stats[i] = provider.Stat{Atime: obj.Mtime, Mtime: obj.Mtime, Size: size}
	}
	return stats, nil
}

func (p *Provider) readPlaintextSize(ctx context.Context, key string) (int64, error) {
	body, err := p.client.OpenRange(ctx, key, 8)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	var header [8]byte
	if _, err := io.ReadFull(body, header[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(header[:])), nil
}
