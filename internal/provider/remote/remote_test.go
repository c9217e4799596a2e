package remote

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
)

// fakeServer is a minimal stand-in for a blind-backup server, enough to
// exercise the RPC client's request construction and response decoding.
type fakeServer struct {
	mu      sync.Mutex
	actions map[string]func(params map[string]interface{}, files map[string][]byte) (interface{}, int)
}

func newFakeServer() *fakeServer {
	return &fakeServer{actions: make(map[string]func(map[string]interface{}, map[string][]byte) (interface{}, int))}
}

func (s *fakeServer) handle(action string, fn func(map[string]interface{}, map[string][]byte) (interface{}, int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

func (s *fakeServer) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		w.WriteHeader(nethttp.StatusBadRequest)
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	var reqParams map[string]interface{}
	files := make(map[string][]byte)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.WriteHeader(nethttp.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(part)
		if part.FormName() == "params" {
			json.Unmarshal(data, &reqParams)
		} else {
			files[part.FormName()] = data
		}
	}

	action, _ := reqParams["action"].(string)
	s.mu.Lock()
	fn := s.actions[action]
	s.mu.Unlock()
	if fn == nil {
		w.WriteHeader(nethttp.StatusNotFound)
		return
	}
	result, status := fn(reqParams, files)
	w.WriteHeader(status)
	if action == "restore" {
		w.Write(result.([]byte))
		return
	}
	json.NewEncoder(w).Encode(result)
}

func newTestProvider(t *testing.T, srv *fakeServer) *Provider {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	client := NewClient(ts.Client(), ts.URL, "alice", "secret")
	tmpDir := t.TempDir()
	p, err := New("uid-remote", client, tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestListDir(t *testing.T) {
	srv := newFakeServer()
	srv.handle("listdir", func(params map[string]interface{}, files map[string][]byte) (interface{}, int) {
		return [2][]string{{"sub"}, {"a.txt"}}, nethttp.StatusOK
	})

	p := newTestProvider(t, srv)
	dirs, files, err := p.ListDir(context.Background(), pathutil.RelPath(nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 1 || dirs[0] != "sub" {
		t.Fatalf("dirs = %v", dirs)
	}
	if len(files) != 1 || files[0] != "a.txt" {
		t.Fatalf("files = %v", files)
	}
}

func TestGetInfo(t *testing.T) {
	srv := newFakeServer()
	srv.handle("getinfo", func(params map[string]interface{}, files map[string][]byte) (interface{}, int) {
		return [][3]float64{{1000, 2000, 42}}, nethttp.StatusOK
	})

	p := newTestProvider(t, srv)
	stats, err := p.GetInfo(context.Background(), []pathutil.RelPath{pathutil.MustParse("a.txt")}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 || stats[0].Size != 42 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSendChangesDownloadsFileBodies(t *testing.T) {
	srv := newFakeServer()
	srv.handle("getinfo", func(params map[string]interface{}, files map[string][]byte) (interface{}, int) {
		return [][3]float64{{1000, 2000, 5}}, nethttp.StatusOK
	})
	srv.handle("restore", func(params map[string]interface{}, files map[string][]byte) (interface{}, int) {
		return []byte("hello"), nethttp.StatusOK
	})

	p := newTestProvider(t, srv)
	changes, errs := p.SendChanges(context.Background(), nil, nil, []pathutil.RelPath{pathutil.MustParse("a.txt")})

	var got []provider.Change
	for c := range changes {
		got = append(got, c)
	}
	if err := <-errs; err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 change, got %d", len(got))
	}
	fc, ok := got[0].(provider.FileChange)
	if !ok {
		t.Fatalf("expected FileChange, got %T", got[0])
	}
	if fc.Ownership != provider.ReceiverOwned {
		t.Fatal("downloaded file bodies must be ReceiverOwned")
	}
	data, err := os.ReadFile(fc.BodyRef)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("body = %q", data)
	}
	os.Remove(fc.BodyRef)
}

func TestReceiveChangesFlushesOnClose(t *testing.T) {
	srv := newFakeServer()
	var received map[string]interface{}
	srv.handle("receivechanges", func(params map[string]interface{}, files map[string][]byte) (interface{}, int) {
		received = params
		return map[string]interface{}{}, nethttp.StatusOK
	})

	p := newTestProvider(t, srv)
	bodyPath := filepath.Join(p.tmpDir, "src.txt")
	if err := os.WriteFile(bodyPath, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	changes := make(chan provider.Change, 1)
	changes <- provider.FileChange{
		RelPath:   pathutil.MustParse("src.txt"),
		Size:      int64(len("payload")),
		BodyRef:   bodyPath,
		Ownership: provider.SenderOwned,
	}
	close(changes)

	if err := p.ReceiveChanges(context.Background(), changes, provider.KeyPolicy{}); err != nil {
		t.Fatal(err)
	}
	if received == nil {
		t.Fatal("expected a receivechanges call")
	}
	fcopy, _ := received["fcopy"].([]interface{})
	if len(fcopy) != 1 {
		t.Fatalf("fcopy = %v", fcopy)
	}
}

func TestCloneAndDrill(t *testing.T) {
	srv := newFakeServer()
	p := newTestProvider(t, srv)

	clone := p.Clone()
	lp, ok := clone.(*Provider)
	if !ok {
		t.Fatal("Clone did not return a *Provider")
	}
	if err := lp.Drill(pathutil.MustParse("sub")); err != nil {
		t.Fatal(err)
	}
	if lp.Root().String() != "sub" {
		t.Fatalf("Root() = %q", lp.Root().String())
	}
	if err := p.Drill(pathutil.MustParse("sub")); err == nil {
		t.Fatal("expected Drill on non-clone to fail")
	}
}
