package server

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
	"github.com/rescale/blindbackup/internal/userstore"
)

func actionBackup(s *Server, r *request) (interface{}, error) {
	if len(r.form.File) == 0 {
		return nil, abort(400, "Bad number of files posted.")
	}
	response := make(map[string]string, len(r.form.File))
	for selpath := range r.form.File {
		rel, err := pathutil.Parse(selpath)
		if err != nil {
			return nil, abort(400, "Invalid filename.")
		}
		dst := localPath(r.homeDir, rel)
		if info, err := os.Stat(dst); err == nil && !info.IsDir() {
			if !r.user.HasPerm("D") {
				return nil, abort(403, "Not authorized to overwrite.")
			}
			if err := os.Remove(dst); err != nil {
				response[selpath] = err.Error()
				continue
			}
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			response[selpath] = err.Error()
			continue
		}
		staged, err := r.filePart("", selpath)
		if err != nil {
			response[selpath] = err.Error()
			continue
		}
		if err := os.Rename(staged, dst); err != nil {
			os.Remove(staged)
			response[selpath] = err.Error()
			continue
		}
		response[selpath] = ""
	}
	return response, nil
}

func actionRestore(s *Server, r *request) (interface{}, error) {
	rel, err := r.relPath("fname")
	if err != nil {
		return nil, err
	}
	local := localPath(r.homeDir, rel)
	info, statErr := os.Stat(local)
	if statErr != nil {
		return nil, abort(404, "Not found.")
	}
	if info.IsDir() {
		return nil, abort(400, "Cannot restore data from a directory.")
	}
	f, err := os.Open(local)
	if err != nil {
		return nil, abort(404, "Not found.")
	}
	return &rawResponse{body: f}, nil
}

func actionCheckExists(s *Server, r *request) (interface{}, error) {
	rel, err := r.relPath("fname")
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(localPath(r.homeDir, rel))
	return statErr == nil, nil
}

func actionFileExists(s *Server, r *request) (interface{}, error) {
	rel, err := r.relPath("fname")
	if err != nil {
		return nil, err
	}
	info, statErr := os.Stat(localPath(r.homeDir, rel))
	return statErr == nil && info.Mode().IsRegular(), nil
}

func actionDirectoryExists(s *Server, r *request) (interface{}, error) {
	rel, err := r.relPath("fname")
	if err != nil {
		return nil, err
	}
	info, statErr := os.Stat(localPath(r.homeDir, rel))
	return statErr == nil && info.IsDir(), nil
}

func actionMkdir(s *Server, r *request) (interface{}, error) {
	rel, err := r.relPath("relpath")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(localPath(r.homeDir, rel), 0o755); err != nil {
		return nil, abort(500, "%s", err.Error())
	}
	return 0, nil
}

func actionIsCaseSensitive(s *Server, r *request) (interface{}, error) {
	p, err := providerFor("server", r.homeDir)
	if err != nil {
		return nil, abort(500, "%s", err.Error())
	}
	return p.IsCaseSensitive(), nil
}

func actionListDir(s *Server, r *request) (interface{}, error) {
	rel, err := r.relPath("relpath")
	if err != nil {
		return nil, err
	}
	p, err := providerFor("server", r.homeDir)
	if err != nil {
		return nil, abort(500, "%s", err.Error())
	}
	dirs, files, err := p.ListDir(r.ctx, rel)
	if err != nil {
		return nil, abort(404, "Not found.")
	}
	return [2][]string{dirs, files}, nil
}

func actionGetInfo(s *Server, r *request) (interface{}, error) {
	rootRel, err := r.relPath("root")
	if err != nil {
		return nil, err
	}
	rawItems, ok := r.params["items"].([]interface{})
	if !ok {
		return nil, errBadRequest
	}
	items := make([]pathutil.RelPath, len(rawItems))
	for i, raw := range rawItems {
		rel, err := decodeRelPath(raw)
		if err != nil {
			return nil, err
		}
		items[i] = rel
	}
	encrypted := r.boolVal("encrypted")

	rootDir := localPath(r.homeDir, rootRel)
	p, err := providerFor("server", rootDir)
	if err != nil {
		return nil, abort(500, "%s", err.Error())
	}
	stats, err := p.GetInfo(r.ctx, items, encrypted)
	if err != nil {
		return nil, abort(404, "Not found.")
	}
	out := make([][3]float64, len(stats))
	for i, st := range stats {
		out[i] = [3]float64{float64(st.Atime.Unix()), float64(st.Mtime.Unix()), float64(st.Size)}
	}
	return out, nil
}

type wireRecord struct {
	Path  pathutil.RelPath
	Atime time.Time
	Mtime time.Time
	Size  int64
}

func decodeWireRecord(raw interface{}) (wireRecord, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return wireRecord{}, errBadRequest
	}
	rel, err := decodeRelPath(m["path"])
	if err != nil {
		return wireRecord{}, err
	}
	rec := wireRecord{Path: rel}
	if v, ok := m["atime"].(float64); ok {
		rec.Atime = time.Unix(int64(v), 0).UTC()
	}
	if v, ok := m["mtime"].(float64); ok {
		rec.Mtime = time.Unix(int64(v), 0).UTC()
	}
	if v, ok := m["size"].(float64); ok {
		rec.Size = int64(v)
	}
	return rec, nil
}

func actionReceiveChanges(s *Server, r *request) (interface{}, error) {
	rootRel, err := r.relPath("root")
	if err != nil {
		return nil, err
	}
	uid, _ := r.str("uid")

	rawDelet, _ := r.params["delet"].([]interface{})
	rawDcopy, _ := r.params["dcopy"].([]interface{})
	rawFcopy, _ := r.params["fcopy"].([]interface{})

	type pending struct {
		change provider.Change
		kind   string
		path   pathutil.RelPath
	}
	var records []pending

	for _, raw := range rawDelet {
		rec, err := decodeWireRecord(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, pending{
			change: provider.DeleteChange{RelPath: rec.Path},
			kind:   "DELETE",
			path:   rec.Path,
		})
	}
	for _, raw := range rawDcopy {
		rec, err := decodeWireRecord(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, pending{
			change: provider.DirectoryChange{RelPath: rec.Path, Atime: rec.Atime, Mtime: rec.Mtime},
			kind:   "DIRECTORY",
			path:   rec.Path,
		})
	}
	for _, raw := range rawFcopy {
		rec, err := decodeWireRecord(raw)
		if err != nil {
			return nil, err
		}
		staged, err := r.filePart("", rec.Path.String())
		if err != nil {
			return nil, err
		}
		records = append(records, pending{
			change: provider.FileChange{
				RelPath:   rec.Path,
				Atime:     rec.Atime,
				Mtime:     rec.Mtime,
				Size:      rec.Size,
				BodyRef:   staged,
				Ownership: provider.ReceiverOwned,
			},
			kind: "FILE",
			path: rec.Path,
		})
	}

	rootDir := localPath(r.homeDir, rootRel)
	p, err := providerFor("server", rootDir)
	if err != nil {
		return nil, abort(500, "%s", err.Error())
	}

	changes := make(chan provider.Change, len(records))
	for _, rec := range records {
		changes <- rec.change
	}
	close(changes)

	if err := p.ReceiveChanges(r.ctx, changes, provider.KeyPolicy{}); err != nil {
		return nil, abort(500, "%s", err.Error())
	}

	for _, rec := range records {
		s.observers.Notify(rootRel.Join(rec.path), rec.kind, uid)
	}

	return 0, nil
}

func actionGetUsers(s *Server, r *request) (interface{}, error) {
	users, err := s.users.Users()
	if err != nil {
		return nil, abort(500, "%s", err.Error())
	}
	out := make(map[string]map[string]string, len(users))
	for login, u := range users {
		out[login] = map[string]string{"name": u.Login, "prefix": u.Prefix, "perms": u.Perms}
	}
	return out, nil
}

func actionSaveUser(s *Server, r *request) (interface{}, error) {
	login, _ := r.params["save_login"].(string)
	prefix, _ := r.params["save_prefix"].(string)
	perms, _ := r.params["save_perms"].(string)
	password, hasPassword := r.params["save_password"].(string)

	if login == r.user.Login {
		return nil, abort(400, "You should not change yourself.")
	}

	existing, found, err := s.users.Lookup(login)
	if err != nil {
		return nil, abort(500, "%s", err.Error())
	}
	if !hasPassword || password == "" {
		if found {
			password = existing.Password
		}
	}
	if password != "" {
		if len(password) < 6 {
			return nil, abort(403, "Minimum password length is 6.")
		}
		if password == login {
			return nil, abort(403, "Password and login must not match.")
		}
	}

	u := userstore.User{Login: login, Prefix: prefix, Perms: perms, Password: password}
	if err := s.users.Save(u); err != nil {
		return nil, abort(400, "%s", err.Error())
	}
	return 0, nil
}

func actionDeleteUser(s *Server, r *request) (interface{}, error) {
	login, _ := r.params["delete_login"].(string)
	if login == r.user.Login {
		return nil, abort(400, "You should not delete yourself.")
	}
	if err := s.users.Delete(login); err != nil {
		return nil, abort(404, "Cannot delete, user does not exist.")
	}
	return 0, nil
}

func actionUTCNow(s *Server, r *request) (interface{}, error) {
	return float64(time.Now().UTC().Unix()), nil
}

func actionListenChanges(s *Server, r *request) (interface{}, error) {
	rel, err := r.relPath("root")
	if err != nil {
		return nil, err
	}
	return s.observers.Add(rel), nil
}

func actionPollChanges(s *Server, r *request) (interface{}, error) {
	uid, _ := r.str("uid")
	started := time.Now()
	for {
		events, ok := s.observers.Drain(uid)
		if !ok {
			return nil, abort(404, "Invalid event notification request.")
		}
		if len(events) > 0 {
			out := make([][3]string, len(events))
			for i, e := range events {
				out[i] = [3]string{e.Path, e.Kind, e.OriginatorUID}
			}
			return out, nil
		}
		if time.Since(started)+s.cfg.PollGranularity > s.cfg.PollTTL {
			return [][3]string{}, nil
		}
		select {
		case <-r.ctx.Done():
			return nil, r.ctx.Err()
		case <-time.After(s.cfg.PollGranularity):
		}
	}
}
