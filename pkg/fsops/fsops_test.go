package fsops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/blobfm/pkg/models"
)

var errInjected = errors.New("injected failure")

// fakeGateway is an in-memory Gateway with per-name failure injection.
type fakeGateway struct {
	mu         sync.Mutex
	objects    map[string][]byte
	staged     map[string]map[int][]byte
	failCopy   map[string]bool
	failDelete map[string]bool
	mints      int
	deletes    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		objects:    map[string][]byte{},
		staged:     map[string]map[int][]byte{},
		failCopy:   map[string]bool{},
		failDelete: map[string]bool{},
	}
}

func (g *fakeGateway) put(name, data string) {
	g.objects[name] = []byte(data)
}

func (g *fakeGateway) names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for k := range g.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (g *fakeGateway) List(_ context.Context, prefix string) ([]models.ObjectEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.ObjectEntry
	for name, data := range g.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, models.ObjectEntry{Name: name, Length: int64(len(data)), LastModified: time.Unix(0, 0)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g *fakeGateway) CreateDirectory(_ context.Context, path, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	marker := models.MarkerName(models.JoinPath(path, name))
	if _, ok := g.objects[marker]; ok {
		return errors.New("exists")
	}
	g.objects[marker] = nil
	return nil
}

func (g *fakeGateway) Delete(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failDelete[name] {
		return errInjected
	}
	if _, ok := g.objects[name]; !ok {
		return fmt.Errorf("%s: not found", name)
	}
	g.deletes++
	delete(g.objects, name)
	return nil
}

func (g *fakeGateway) Copy(_ context.Context, src, dst string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCopy[src] {
		return errInjected
	}
	data, ok := g.objects[src]
	if !ok {
		return fmt.Errorf("%s: not found", src)
	}
	g.objects[dst] = append([]byte(nil), data...)
	return nil
}

func (g *fakeGateway) UploadAccessURL(_ context.Context, name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mints++
	g.staged[name] = map[int][]byte{}
	return "upload:" + name, nil
}

func (g *fakeGateway) PutBlock(_ context.Context, url string, index int, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := strings.TrimPrefix(url, "upload:")
	g.staged[name][index] = append([]byte(nil), data...)
	return nil
}

func (g *fakeGateway) PutBlockList(_ context.Context, url string, count int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := strings.TrimPrefix(url, "upload:")
	var b bytes.Buffer
	for i := 0; i < count; i++ {
		block, ok := g.staged[name][i]
		if !ok {
			return fmt.Errorf("block %d not staged", i)
		}
		b.Write(block)
	}
	g.objects[name] = b.Bytes()
	delete(g.staged, name)
	return nil
}

func (g *fakeGateway) DownloadURL(_ context.Context, name string) (string, error) {
	return "download:" + name, nil
}

func TestGetItems(t *testing.T) {
	gw := newFakeGateway()
	gw.put("docs/readme.txt", "abc")
	gw.put("docs/sub/"+models.DirectoryMarker, "")
	fs := New(gw, Options{})

	nodes, err := fs.GetItems(context.Background(), "docs")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "sub", nodes[0].Name)
	assert.Equal(t, "readme.txt", nodes[1].Name)
}

func TestDeleteDirectory(t *testing.T) {
	gw := newFakeGateway()
	gw.put("a/x", "1")
	gw.put("a/b/y", "2")
	gw.put("a/"+models.DirectoryMarker, "")
	gw.put("ab", "keep")
	fs := New(gw, Options{})

	results, err := fs.DeleteDirectory(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, []string{"ab"}, gw.names())
}

func TestDeleteDirectoryPartialFailure(t *testing.T) {
	gw := newFakeGateway()
	for i := 0; i < 5; i++ {
		gw.put(fmt.Sprintf("d/f%d", i), "x")
	}
	gw.failDelete["d/f1"] = true
	gw.failDelete["d/f3"] = true
	fs := New(gw, Options{Parallelism: 2})

	results, err := fs.DeleteDirectory(context.Background(), "d")
	require.Error(t, err)
	assert.Len(t, results, 5)

	var fe *FanoutError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "delete", fe.Op)
	assert.Equal(t, "d", fe.Path)
	failed := fe.Failed()
	require.Len(t, failed, 2)
	assert.ElementsMatch(t, []string{"d/f1", "d/f3"}, []string{failed[0].Source, failed[1].Source})
	assert.ErrorIs(t, err, errInjected)

	assert.Equal(t, []string{"d/f1", "d/f3"}, gw.names(), "siblings of failed entries are still deleted")
}

func TestCopyDirectory(t *testing.T) {
	gw := newFakeGateway()
	gw.put("src/a.txt", "A")
	gw.put("src/n/b.txt", "B")
	fs := New(gw, Options{})

	results, err := fs.CopyDirectory(context.Background(), "src", "dst/inner")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "A", string(gw.objects["dst/inner/a.txt"]))
	assert.Equal(t, "B", string(gw.objects["dst/inner/n/b.txt"]))
	assert.Contains(t, gw.objects, "src/a.txt")
}

func TestMoveDirectorySkipsDeleteWhenCopyFails(t *testing.T) {
	gw := newFakeGateway()
	gw.put("a/1", "1")
	gw.put("a/2", "2")
	gw.failCopy["a/2"] = true
	fs := New(gw, Options{})

	_, err := fs.MoveDirectory(context.Background(), "a", "b")
	var fe *FanoutError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "copy", fe.Op)
	assert.Zero(t, gw.deletes)
	assert.Equal(t, []string{"a/1", "a/2", "b/1"}, gw.names())
}

func TestMoveDirectoryDeletesOnlyListedSet(t *testing.T) {
	gw := newFakeGateway()
	gw.put("a/x.txt", "x")
	fs := New(gw, Options{})

	results, err := fs.MoveDirectory(context.Background(), "a", "b")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"b/x.txt"}, gw.names())
}

func TestRootAndSamePathGuards(t *testing.T) {
	fs := New(newFakeGateway(), Options{})
	ctx := context.Background()

	_, err := fs.DeleteDirectory(ctx, "")
	assert.ErrorIs(t, err, ErrRootPath)
	_, err = fs.DeleteDirectory(ctx, "/")
	assert.ErrorIs(t, err, ErrRootPath)
	_, err = fs.CopyDirectory(ctx, "", "b")
	assert.ErrorIs(t, err, ErrRootPath)
	_, err = fs.MoveDirectory(ctx, "a", "")
	assert.ErrorIs(t, err, ErrRootPath)
	_, err = fs.MoveDirectory(ctx, "a", "a/")
	assert.ErrorIs(t, err, ErrSamePath)
	assert.ErrorIs(t, fs.MoveFile(ctx, "f", "f"), ErrSamePath)
}

func TestRename(t *testing.T) {
	gw := newFakeGateway()
	gw.put("docs/old.txt", "content")
	gw.put("docs/dir/x", "x")
	fs := New(gw, Options{})
	ctx := context.Background()

	require.NoError(t, fs.RenameFile(ctx, "docs/old.txt", "new.txt"))
	_, err := fs.RenameDirectory(ctx, "docs/dir", "renamed")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/new.txt", "docs/renamed/x"}, gw.names())
}

func TestCopyAndMoveItem(t *testing.T) {
	gw := newFakeGateway()
	gw.put("a/f.txt", "f")
	gw.put("dir/x", "x")
	fs := New(gw, Options{})
	ctx := context.Background()

	_, err := fs.CopyItem(ctx, "a/f.txt", false, "b")
	require.NoError(t, err)
	_, err = fs.MoveItem(ctx, "dir", true, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/f.txt", "b/dir/x", "b/f.txt"}, gw.names())

	results, err := fs.MoveItem(ctx, "missing.txt", false, "b")
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b/missing.txt", results[0].Target)
}

func TestUploadChunkMintsOnce(t *testing.T) {
	gw := newFakeGateway()
	fs := New(gw, Options{})
	ctx := context.Background()

	s := NewUploadSession("up/file.bin")
	chunks := []string{"aa", "bb", "c"}
	for i, c := range chunks {
		require.NoError(t, fs.UploadChunk(ctx, s, i, []byte(c), len(chunks)))
	}
	assert.Equal(t, 1, gw.mints)
	assert.Equal(t, "aabbc", string(gw.objects["up/file.bin"]))
}

func TestUploadChunkRequiresFirstChunk(t *testing.T) {
	fs := New(newFakeGateway(), Options{})
	err := fs.UploadChunk(context.Background(), NewUploadSession("x"), 1, []byte("b"), 2)
	assert.ErrorIs(t, err, ErrUploadNotStarted)
}

func TestUploadFile(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunkSize int
	}{
		{"empty", 0, 4},
		{"single partial chunk", 3, 4},
		{"exact multiple", 8, 4},
		{"remainder", 10, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			fs := New(gw, Options{})
			data := bytes.Repeat([]byte("z"), tt.size)

			n, err := fs.UploadFile(context.Background(), "f.bin", bytes.NewReader(data), tt.chunkSize)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.size), n)
			assert.Equal(t, data, append([]byte{}, gw.objects["f.bin"]...))
			assert.Equal(t, 1, gw.mints)
		})
	}
}
