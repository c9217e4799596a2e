// Package provider defines the uniform Provider abstraction that every
// backing store (local filesystem, remote blind-backup server,
// third-party object store) implements: listing, stat, change-stream
// transfer, and change notification over a rooted relative-path tree.
package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/blindbackup/internal/filecrypto"
	"github.com/rescale/blindbackup/internal/pathutil"
)

// Key is a provider's symmetric key, produced by filecrypto.DeriveKey.
type Key = filecrypto.Key

// ErrProtocol is returned when a Change value does not match any known
// concrete type; the switch dispatch over Change is meant to be
// exhaustive, and this is the catch-all default case.
var ErrProtocol = errors.New("provider: unrecognized change record")

// ErrInvalidPath is returned by operations given a relative path outside
// the provider's root, or otherwise unsafe (contains "..", a leading
// separator, etc).
var ErrInvalidPath = pathutil.ErrInvalidPath

// Ownership describes who is responsible for a FILE record's body after
// a receive_changes call consumes it.
type Ownership int

const (
	// SenderOwned bodies are immutable for the duration of the sync; the
	// receiver must copy them, never move or unlink them.
	SenderOwned Ownership = iota
	// ReceiverOwned bodies are temp files materialized for this transfer;
	// the receiver (or, on error, the sender) must unlink them after use.
	ReceiverOwned
)

func (o Ownership) String() string {
	if o == ReceiverOwned {
		return "RECEIVER"
	}
	return "SENDER"
}

// Stat is the (atime, mtime, size) tuple returned by GetInfo. For
// directories, Size is 0 and ignored. For encrypted files, Size is the
// plaintext size read from the body header, not the physical size.
type Stat struct {
	Atime time.Time
	Mtime time.Time
	Size  int64
}

// EventKind classifies a change notification delivered by ListenChanges
// or carried by a server notify call.
type EventKind int

const (
	EventFile EventKind = iota
	EventDirectory
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventFile:
		return "FILE"
	case EventDirectory:
		return "DIRECTORY"
	case EventDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Event is a single underlying change observed by ListenChanges: an
// absolute path in the backing store, what kind of change occurred, and
// who originated it (so a provider can filter out changes it caused
// itself and avoid feedback loops).
type Event struct {
	FullPath      string
	Kind          EventKind
	OriginatorUID string
}

// Change is a closed tagged union of the three change-record shapes a
// sender emits and a receiver consumes: Delete, Directory, File. Switch
// dispatch over Change is exhaustive; an unrecognized concrete type is a
// protocol error (ErrProtocol).
type Change interface {
	isChange()
	Path() pathutil.RelPath
}

// DeleteChange removes whatever sits at Path, recursively if it is a
// directory.
type DeleteChange struct {
	RelPath pathutil.RelPath
}

func (DeleteChange) isChange()                  {}
func (c DeleteChange) Path() pathutil.RelPath    { return c.RelPath }

// DirectoryChange creates a directory. Its children, if any, follow as
// subsequent records in the same stream (top-down, directory then its
// entire recursive content).
type DirectoryChange struct {
	RelPath    pathutil.RelPath
	Atime      time.Time
	Mtime      time.Time
}

func (DirectoryChange) isChange()               {}
func (c DirectoryChange) Path() pathutil.RelPath { return c.RelPath }

// FileChange carries a file's metadata and a reference to its body.
// BodyRef locates the bytes: a local filesystem path for SenderOwned
// records sitting at their natural place, or a receiver-managed temp
// file for ReceiverOwned records the sender had to materialize (e.g.
// staged from a remote store).
type FileChange struct {
	RelPath   pathutil.RelPath
	Atime     time.Time
	Mtime     time.Time
	Size      int64
	BodyRef   string
	Ownership Ownership
}

func (FileChange) isChange()                  {}
func (c FileChange) Path() pathutil.RelPath    { return c.RelPath }

// KeyPolicy carries the per-sync keys a receive_changes call applies to
// an inbound stream. It is passed explicitly through ReceiveChanges
// rather than mutated on the provider, so that the same provider
// instance can be cloned and used in overlapping subtree syncs (the
// continuous-sync listener reentrancy hazard) without one sync's key
// state leaking into another's.
type KeyPolicy struct {
	// DecryptKey strips the sender's encryption from an inbound path or
	// body before further processing. Nil means "inbound data is not
	// encrypted under this provider's scheme".
	DecryptKey *Key
	// EncryptKey applies this provider's encryption before a path or
	// body is written. Nil means "write plaintext".
	EncryptKey *Key
}

// ListenerHandle is a background change-watcher worker. It exposes
// cooperative shutdown (RequestStop/IsStopping) and join semantics
// without exposing the underlying goroutine or channel.
type ListenerHandle struct {
	uid       string
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	stopReq   atomic.Bool
	stopped   atomic.Bool
}

// NewListenerHandle creates a handle wrapping a not-yet-started
// listener. Callers that implement ListenChanges should construct one,
// run their watch loop in a goroutine that closes done when it exits,
// and return the handle.
func NewListenerHandle(uid string) *ListenerHandle {
	return &ListenerHandle{
		uid:  uid,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// UID returns the listener's identifier.
func (h *ListenerHandle) UID() string { return h.uid }

// StopChannel returns the channel a watch loop should select on to
// learn it has been asked to stop.
func (h *ListenerHandle) StopChannel() <-chan struct{} { return h.stop }

// MarkDone must be called by the watch loop exactly once, after it has
// finished, so Join can unblock.
func (h *ListenerHandle) MarkDone() {
	h.stopped.Store(true)
	close(h.done)
}

// RequestStop asks the watch loop to exit. Idempotent.
func (h *ListenerHandle) RequestStop() {
	h.stopOnce.Do(func() {
		h.stopReq.Store(true)
		close(h.stop)
	})
}

// IsStopping reports whether RequestStop has been called.
func (h *ListenerHandle) IsStopping() bool { return h.stopReq.Load() }

// IsStopped reports whether the watch loop has finished.
func (h *ListenerHandle) IsStopped() bool { return h.stopped.Load() }

// Join blocks until the watch loop has finished, or ctx is done,
// whichever comes first.
func (h *ListenerHandle) Join(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Provider is the uniform handle over a rooted file tree. Local
// filesystem, remote blind-backup server, and object-store backends all
// implement it, so the comparator and continuous-sync control plane
// never need to know which kind of store they are driving.
type Provider interface {
	// UID is this provider's stable, opaque identifier. Clones share
	// their parent's UID.
	UID() string

	// Root returns the provider's relative-path prefix within its
	// backing store.
	Root() pathutil.RelPath

	// ListDir lists a directory's raw entries (no encrypt/decrypt
	// applied), omitting ".", "..", and symlinks.
	ListDir(ctx context.Context, dir pathutil.RelPath) (dirs, files []string, err error)

	// GetInfo returns a Stat per item, in input order. When encrypted is
	// true, each file's Size is the plaintext size read from its body
	// header rather than its physical size.
	GetInfo(ctx context.Context, items []pathutil.RelPath, encrypted bool) ([]Stat, error)

	// SendChanges produces a lazy stream of change records for the given
	// deletes, directory copies, and file copies. Ordering: all deletes
	// first, then directories top-down (each immediately followed by its
	// entire recursive content), then remaining loose files. The
	// returned error channel carries at most one error, after which the
	// change channel is closed.
	SendChanges(ctx context.Context, deletes, dirCopies, fileCopies []pathutil.RelPath) (<-chan Change, <-chan error)

	// ReceiveChanges consumes a change stream, applying policy's
	// re-cryption to paths and (for FILE records) bodies, writing
	// atomically.
	ReceiveChanges(ctx context.Context, changes <-chan Change, policy KeyPolicy) error

	// Clone returns a new Provider with the same UID and key
	// configuration but an independent root, for continuous-sync
	// drilling into subtrees.
	Clone() Provider

	// Drill extends root by subpath. Legal only on a clone.
	Drill(subpath pathutil.RelPath) error

	// EventRelpath converts an absolute backing-store path into a
	// relative path under this provider's root.
	EventRelpath(fullPath string) (pathutil.RelPath, error)

	// IsCaseSensitive reports whether the backing store distinguishes
	// filenames by case.
	IsCaseSensitive() bool

	// ListenChanges starts a background worker that invokes onChange for
	// each underlying change. Implementations should filter out changes
	// they originated themselves to avoid feedback loops.
	ListenChanges(ctx context.Context, onChange func(Event)) (*ListenerHandle, error)
}
