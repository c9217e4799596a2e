package remote

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
)

// secondsToTime converts a Unix timestamp in seconds, as returned by the
// server's getinfo action, to a time.Time.
func secondsToTime(seconds float64) time.Time {
	return time.Unix(int64(seconds), 0).UTC()
}

// Provider is a provider.Provider backed by a remote blind-backup
// server, rooted at a path within that server's backup_root/<prefix>
// tree.
type Provider struct {
	uid       string
	client    *Client
	root      pathutil.RelPath
	tmpDir    string
	caseSens  *bool
	isClone   bool
}

// New creates a Provider against client, rooted at the server's prefix
// root (empty for the server's whole tree). tmpDir holds staged file
// bodies during SendChanges/ReceiveChanges and must already exist.
func New(uid string, client *Client, tmpDir string) (*Provider, error) {
	if tmpDir == "" {
		return nil, fmt.Errorf("remote: tmpDir is required")
	}
	info, err := os.Stat(tmpDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("remote: tmpDir %q is not a directory", tmpDir)
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
		return fmt.Errorf("remote: Drill called on a non-clone provider")
	}
	p.root = p.root.Join(subpath)
	return nil
}

// EventRelpath converts a server-side absolute event path into a
// relative path under this provider's root.
func (p *Provider) EventRelpath(fullPath string) (pathutil.RelPath, error) {
	myRoot := p.root.String()
	if myRoot == "" {
		return pathutil.Parse(fullPath)
	}
	if !strings.HasPrefix(fullPath, myRoot+"/") && fullPath != myRoot {
		return nil, fmt.Errorf("remote: event path %q is outside root %q", fullPath, myRoot)
	}
	return pathutil.Parse(strings.TrimPrefix(fullPath, myRoot+"/"))
}

// IsCaseSensitive asks the server once and caches the answer.
func (p *Provider) IsCaseSensitive() bool {
	if p.caseSens != nil {
		return *p.caseSens
	}
	var sensitive bool
	if err := p.client.Call(context.Background(), "iscasesensitive", nil, nil, &sensitive); err != nil {
		sensitive = true // conservative default
	}
	p.caseSens = &sensitive
	return sensitive
}

func (p *Provider) remotePath(rel pathutil.RelPath) pathutil.RelPath {
	return p.root.Join(rel)
}

// ListDir lists a remote directory's entries.
func (p *Provider) ListDir(ctx context.Context, dir pathutil.RelPath) (dirs, files []string, err error) {
	var raw [2][]string
	params := map[string]interface{}{"relpath": []string(p.remotePath(dir))}
	if err := p.client.Call(ctx, "listdir", params, nil, &raw); err != nil {
		return nil, nil, err
	}
	return raw[0], raw[1], nil
}

// GetInfo fetches (atime, mtime, size) for each item.
func (p *Provider) GetInfo(ctx context.Context, items []pathutil.RelPath, encrypted bool) ([]provider.Stat, error) {
	itemStrs := make([][]string, len(items))
	for i, item := range items {
		itemStrs[i] = []string(p.remotePath(item))
	}
	params := map[string]interface{}{
		"root":      p.root.String(),
		"items":     itemStrs,
		"encrypted": encrypted,
	}
	var raw [][3]float64
	if err := p.client.Call(ctx, "getinfo", params, nil, &raw); err != nil {
		return nil, err
	}
	stats := make([]provider.Stat, len(raw))
	for i, tup := range raw {
		stats[i] = provider.Stat{
			Atime: secondsToTime(tup[0]),
			Mtime: secondsToTime(tup[1]),
			Size:  int64(tup[2]),
		}
	}
	return stats, nil
}
