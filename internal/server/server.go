// Package server implements the blind-backup remote action layer: the
// multipart-POST, permission-checked dispatch table that
// internal/provider/remote's Client talks to.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/rescale/blindbackup/internal/constants"
	"github.com/rescale/blindbackup/internal/logging"
	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
	"github.com/rescale/blindbackup/internal/provider/localfs"
	"github.com/rescale/blindbackup/internal/userstore"
)

// Config holds the server's deployment-wide settings.
type Config struct {
	// BackupRoot is the directory every user's home directory
	// (BackupRoot/<user.Prefix>) is confined beneath.
	BackupRoot string
	// MaxFileSize bounds a single multipart request body. Zero selects
	// a generous default, matching the teacher's MAX_FILE_SIZE_DEFAULT.
	MaxFileSize int64
	// PollTTL and PollGranularity tune the long-poll observer table.
	PollTTL         time.Duration
	PollGranularity time.Duration
}

const defaultMaxFileSize = 10 * 1024 * 1024 * 1024 * 1024 // 10 TiB, matches the teacher's default

func (c Config) withDefaults() Config {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = defaultMaxFileSize
	}
	if c.PollTTL == 0 {
		c.PollTTL = constants.DefaultPollTTL
	}
	if c.PollGranularity == 0 {
		c.PollGranularity = constants.DefaultPollGranularity
	}
	return c
}

// Server dispatches blind-backup wire actions against a user store and a
// backup root directory.
type Server struct {
	cfg       Config
	users     *userstore.Store
	observers *observerTable
	logger    *logging.Logger
}

// New creates a Server. logger may be nil, in which case a default CLI
// logger is used.
func New(cfg Config, users *userstore.Store, logger *logging.Logger) *Server {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return &Server{
		cfg:       cfg,
		users:     users,
		observers: newObserverTable(cfg.PollTTL),
		logger:    logger,
	}
}

// request bundles one decoded action call with its authenticated
// context, threaded through every handler.
type request struct {
	ctx     context.Context
	form    *multipart.Form
	params  map[string]interface{}
	user    userstore.User
	homeDir string
}

func (r *request) str(key string) (string, error) {
	v, ok := r.params[key]
	if !ok {
		return "", errBadRequest
	}
	s, ok := v.(string)
	if !ok {
		return "", errBadRequest
	}
	return s, nil
}

func (r *request) relPath(key string) (pathutil.RelPath, error) {
	v, ok := r.params[key]
	if !ok {
		return nil, errBadRequest
	}
	return decodeRelPath(v)
}

func (r *request) boolVal(key string) bool {
	v, _ := r.params[key].(bool)
	return v
}

// filePart returns the uploaded body for name, copied into a private
// temp file under dir so ownership is unambiguous regardless of how the
// multipart decoder staged it.
func (r *request) filePart(dir, name string) (string, error) {
	headers := r.form.File[name]
	if len(headers) != 1 {
		return "", abort(400, "Bad number of files posted.")
	}
	src, err := headers[0].Open()
	if err != nil {
		return "", fmt.Errorf("server: open uploaded part %s: %w", name, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, "blindbackup-upload-*")
	if err != nil {
		return "", fmt.Errorf("server: stage uploaded part %s: %w", name, err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("server: stage uploaded part %s: %w", name, err)
	}
	tmp.Close()
	return tmp.Name(), nil
}

// ServeHTTP implements the single-endpoint multipart-POST dispatch: a
// "params" field carries the JSON action envelope, other fields carry
// file bodies keyed by wire relpath.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if err := req.ParseMultipartForm(s.cfg.MaxFileSize); err != nil {
		s.writeError(w, abort(400, "Bad request."))
		return
	}
	defer func() {
		if req.MultipartForm != nil {
			req.MultipartForm.RemoveAll()
		}
	}()

	paramsRaw := req.MultipartForm.Value["params"]
	if len(paramsRaw) != 1 {
		s.writeError(w, errBadRequest)
		return
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(paramsRaw[0]), &params); err != nil {
		s.writeError(w, errBadRequest)
		return
	}

	login, _ := params["login"].(string)
	pwd, _ := params["pwd"].(string)
	action, _ := params["action"].(string)

	user, ok, err := s.users.Lookup(login)
	if err != nil {
		s.logger.Error().Err(err).Msg("load user store")
		s.writeError(w, abort(500, "Internal error."))
		return
	}
	if !ok {
		s.writeError(w, errAuthFailure)
		return
	}
	authenticated, err := s.users.CheckPassword(login, pwd)
	if err != nil {
		s.logger.Error().Err(err).Msg("check password")
		s.writeError(w, abort(500, "Internal error."))
		return
	}
	if !authenticated {
		s.writeError(w, errAuthFailure)
		return
	}
	if user.Perms == "" {
		s.writeError(w, errPermissionDenied("Unauthorized to do anything."))
		return
	}

	homeDir, err := homeDir(s.cfg.BackupRoot, user.Prefix)
	if err != nil {
		s.logger.Error().Err(err).Str("login", login).Msg("resolve home directory")
		s.writeError(w, abort(500, "Internal error."))
		return
	}

	r := &request{
		ctx:     req.Context(),
		form:    req.MultipartForm,
		params:  params,
		user:    user,
		homeDir: homeDir,
	}

	entry, ok := actionTable[action]
	if !ok {
		s.writeError(w, abort(400, "Invalid action."))
		return
	}
	if !user.HasPerm(entry.perm) {
		s.writeError(w, errPermissionDenied(""))
		return
	}

	result, err := entry.fn(s, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeResult(w, result)
}

type actionFunc func(s *Server, r *request) (interface{}, error)

var actionTable = map[string]struct {
	fn   actionFunc
	perm string
}{}

func registerAction(name, perm string, fn actionFunc) {
	actionTable[name] = struct {
		fn   actionFunc
		perm string
	}{fn: fn, perm: perm}
}

// rawResponse marks an action result whose body must be written
// unencoded (the "restore" action streams raw file bytes, not JSON).
type rawResponse struct {
	body io.ReadCloser
}

func (s *Server) writeResult(w http.ResponseWriter, v interface{}) {
	if raw, ok := v.(*rawResponse); ok {
		defer raw.body.Close()
		io.Copy(w, raw.body)
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=UTF-8")
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal error.", http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	if re, ok := err.(*RequestError); ok {
		status = re.Status
		msg = re.Msg
	}
	w.Header().Set("Content-Type", "text/javascript; charset=UTF-8")
	w.WriteHeader(status)
	data, _ := json.Marshal(msg)
	w.Write(data)
}

// providerFor builds a localfs.Provider rooted at dir, creating dir
// first if missing (the same auto-create-on-first-use behavior as
// homeDir, extended to a sync root nested under it).
func providerFor(uid, dir string) (*localfs.Provider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("server: create %s: %w", dir, err)
	}
	return localfs.New(uid, dir)
}

var _ provider.Provider = (*localfs.Provider)(nil)

func init() {
	registerAction("backup", "W", actionBackup)
	registerAction("restore", "R", actionRestore)
	registerAction("check_exists", "S", actionCheckExists)
	registerAction("file_exists", "S", actionFileExists)
	registerAction("directory_exists", "S", actionDirectoryExists)
	registerAction("mkdir", "W", actionMkdir)
	registerAction("iscasesensitive", "S", actionIsCaseSensitive)
	registerAction("listdir", "S", actionListDir)
	registerAction("getinfo", "S", actionGetInfo)
	registerAction("receivechanges", "DWS", actionReceiveChanges)
	registerAction("getusers", "A", actionGetUsers)
	registerAction("saveuser", "A", actionSaveUser)
	registerAction("deleteuser", "A", actionDeleteUser)
	registerAction("utcnow", "T", actionUTCNow)
	registerAction("listenchanges", "N", actionListenChanges)
	registerAction("pollchanges", "N", actionPollChanges)
}
