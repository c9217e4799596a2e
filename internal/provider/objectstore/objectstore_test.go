package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
)

// fakeBlobStore is an in-memory blobClient, enough to exercise Provider's
// key-prefix bookkeeping without a real S3/Azure account.
type fakeBlobStore struct {
	objects map[string][]byte
	mtimes  map[string]time.Time
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte), mtimes: make(map[string]time.Time)}
}

func (s *fakeBlobStore) put(key string, data []byte) {
	s.objects[key] = data
	s.mtimes[key] = time.Now()
}

func (s *fakeBlobStore) List(ctx context.Context, prefix string) ([]string, []blobObject, error) {
	dirSet := make(map[string]bool)
	var objects []blobObject
	for key, data := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if slash := strings.Index(rest, "/"); slash >= 0 {
			dirSet[prefix+rest[:slash+1]] = true
			continue
		}
		objects = append(objects, blobObject{Key: key, Size: int64(len(data)), Mtime: s.mtimes[key]})
	}
	var dirs []string
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return dirs, objects, nil
}

func (s *fakeBlobStore) Stat(ctx context.Context, key string) (blobObject, error) {
	data, ok := s.objects[key]
	if !ok {
		return blobObject{}, fmt.Errorf("not found: %s", key)
	}
	return blobObject{Key: key, Size: int64(len(data)), Mtime: s.mtimes[key]}, nil
}

func (s *fakeBlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeBlobStore) OpenRange(ctx context.Context, key string, n int64) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("not found: %s", key)
	}
	if int64(len(data)) > n {
		data = data[:n]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeBlobStore) Put(ctx context.Context, key string, size int64, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.put(key, data)
	return nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	delete(s.objects, key)
	delete(s.mtimes, key)
	return nil
}

func newTestProvider(t *testing.T, store *fakeBlobStore) *Provider {
	t.Helper()
	p, err := newProvider("uid-objectstore", store, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestListDirSplitsFilesAndPrefixes(t *testing.T) {
	store := newFakeBlobStore()
	store.put("a.txt", []byte("a"))
	store.put("sub/b.txt", []byte("b"))

	p := newTestProvider(t, store)
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

func TestSendReceiveChangesRoundTrip(t *testing.T) {
	srcStore := newFakeBlobStore()
	srcStore.put("hello.txt", []byte("hello world"))
	srcStore.put("sub/nested.txt", []byte("nested"))

	src := newTestProvider(t, srcStore)
	dst := newTestProvider(t, newFakeBlobStore())

	ctx := context.Background()
	changes, errs := src.SendChanges(ctx, nil,
		[]pathutil.RelPath{pathutil.MustParse("sub")},
		[]pathutil.RelPath{pathutil.MustParse("hello.txt")})

	if err := dst.ReceiveChanges(ctx, changes, provider.KeyPolicy{}); err != nil {
		t.Fatalf("ReceiveChanges: %v", err)
	}
	if err := <-errs; err != nil {
		t.Fatalf("SendChanges: %v", err)
	}

	dstStore := dst.client.(*fakeBlobStore)
	if string(dstStore.objects["hello.txt"]) != "hello world" {
		t.Fatalf("hello.txt = %q", dstStore.objects["hello.txt"])
	}
	if string(dstStore.objects["sub/nested.txt"]) != "nested" {
		t.Fatalf("sub/nested.txt = %q", dstStore.objects["sub/nested.txt"])
	}
}

func TestDeleteChangeRemovesNestedObjects(t *testing.T) {
	store := newFakeBlobStore()
	store.put("a/b.txt", []byte("x"))
	store.put("a/c.txt", []byte("y"))

	p := newTestProvider(t, store)
	changes := make(chan provider.Change, 1)
	changes <- provider.DeleteChange{RelPath: pathutil.MustParse("a")}
	close(changes)

	if err := p.ReceiveChanges(context.Background(), changes, provider.KeyPolicy{}); err != nil {
		t.Fatal(err)
	}
	if len(store.objects) != 0 {
		t.Fatalf("expected all nested objects removed, got %v", store.objects)
	}
}

func TestCloneAndDrill(t *testing.T) {
	store := newFakeBlobStore()
	p := newTestProvider(t, store)

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
		t.Fatal("expected Drill on a non-clone to fail")
	}
}

func TestListenChangesIsUnsupported(t *testing.T) {
	p := newTestProvider(t, newFakeBlobStore())
	if _, err := p.ListenChanges(context.Background(), func(provider.Event) {}); err == nil {
		t.Fatal("expected ListenChanges to report unsupported")
	}
}
