package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescale/blindbackup/internal/pathutil"
)

// decodeRelPath accepts either of the two wire shapes the remote
// provider sends: a single "/"-joined string (listenchanges' root,
// receivechanges' per-record path) or an array of path components
// (listdir/getinfo's relpath/items) — both are validated identically by
// pathutil.Parse once rejoined, so there is exactly one path-safety
// check in the whole server.
func decodeRelPath(v interface{}) (pathutil.RelPath, error) {
	switch t := v.(type) {
	case nil:
		return pathutil.RelPath(nil), nil
	case string:
		p, err := pathutil.Parse(t)
		if err != nil {
			return nil, abort(400, "Invalid filename.")
		}
		return p, nil
	case []interface{}:
		parts := make([]string, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, abort(400, "Invalid filename.")
			}
			parts[i] = s
		}
		p, err := pathutil.Parse(strings.Join(parts, "/"))
		if err != nil {
			return nil, abort(400, "Invalid filename.")
		}
		return p, nil
	default:
		return nil, abort(400, "Invalid filename.")
	}
}

// homeDir returns prefix's directory under root, creating it (and any
// missing parents) if it does not yet exist — mirroring the teacher
// action layer's auto-create-on-first-use behavior for a user's home
// directory.
func homeDir(root, prefix string) (string, error) {
	dir := filepath.Join(root, filepath.FromSlash(prefix))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("server: create home directory: %w", err)
	}
	return dir, nil
}

// localPath resolves rel against dir. Since rel is a validated
// pathutil.RelPath (no "..", no leading separator, no "?"/"*"), the
// result can never escape dir.
func localPath(dir string, rel pathutil.RelPath) string {
	return filepath.Join(dir, filepath.Join(rel...))
}
