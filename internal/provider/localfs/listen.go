package localfs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rescale/blindbackup/internal/provider"
)

// ListenChanges watches this provider's root recursively and invokes
// onChange for each underlying filesystem change. Events are tagged with
// this provider's UID as the originator, so a caller driving both sides
// of a sync can filter out changes it caused itself.
func (p *Provider) ListenChanges(ctx context.Context, onChange func(provider.Event)) (*provider.ListenerHandle, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	rootDir := filepath.Join(p.baseDir, filepath.Join(p.root...))
	if err := addRecursive(watcher, rootDir); err != nil {
		watcher.Close()
		return nil, err
	}

	handle := provider.NewListenerHandle(p.uid)

	go func() {
		defer handle.MarkDone()
		defer watcher.Close()

		for {
			select {
			case <-handle.StopChannel():
				return
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				p.handleFsEvent(watcher, event, onChange)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				_ = err // best-effort watcher; a single failed event is not fatal
			}
		}
	}()

	return handle, nil
}

func (p *Provider) handleFsEvent(watcher *fsnotify.Watcher, event fsnotify.Event, onChange func(provider.Event)) {
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		onChange(provider.Event{FullPath: event.Name, Kind: provider.EventDelete, OriginatorUID: p.uid})

	case event.Op&fsnotify.Create != 0:
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			addRecursive(watcher, event.Name)
			onChange(provider.Event{FullPath: event.Name, Kind: provider.EventDirectory, OriginatorUID: p.uid})
		} else {
			onChange(provider.Event{FullPath: event.Name, Kind: provider.EventFile, OriginatorUID: p.uid})
		}

	case event.Op&fsnotify.Write != 0:
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if !info.IsDir() {
			onChange(provider.Event{FullPath: event.Name, Kind: provider.EventFile, OriginatorUID: p.uid})
		}
	}
}

// addRecursive adds a watch for root and every directory beneath it.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
