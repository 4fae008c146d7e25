package testing

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockFS is an in-memory filesystem implementing remote.FS.
type MockFS struct {
	mu     sync.Mutex
	files  map[string][]byte
	dirs   map[string]bool
	closed bool
}

// NewMockFS creates an empty in-memory filesystem with a root directory.
func NewMockFS() *MockFS {
	return &MockFS{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true},
	}
}

// AddFile seeds a file, creating parent directories implicitly.
func (f *MockFS) AddFile(p string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = path.Clean(p)
	f.files[p] = data
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		f.dirs[dir] = true
	}
}

// FileContent returns the current content of a file, or nil if absent.
func (f *MockFS) FileContent(p string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[path.Clean(p)]
}

func (f *MockFS) ReadDir(dir string) ([]os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir = path.Clean(dir)
	if !f.dirs[dir] {
		return nil, errors.New("no such directory: " + dir)
	}

	var infos []os.FileInfo
	seen := make(map[string]bool)
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	for p, data := range f.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		infos = append(infos, mockFileInfo{name: rest, size: int64(len(data))})
		seen[rest] = true
	}
	for d := range f.dirs {
		if !strings.HasPrefix(d, prefix) {
			continue
		}
		rest := strings.TrimPrefix(d, prefix)
		if rest == "" || strings.Contains(rest, "/") || seen[rest] {
			continue
		}
		infos = append(infos, mockFileInfo{name: rest, dir: true})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

func (f *MockFS) Mkdir(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir = path.Clean(dir)
	if f.dirs[dir] {
		return errors.New("directory exists: " + dir)
	}
	f.dirs[dir] = true
	return nil
}

func (f *MockFS) Remove(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = path.Clean(p)
	if _, ok := f.files[p]; ok {
		delete(f.files, p)
		return nil
	}
	if f.dirs[p] {
		delete(f.dirs, p)
		return nil
	}
	return errors.New("no such file: " + p)
}

func (f *MockFS) Rename(oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldPath, newPath = path.Clean(oldPath), path.Clean(newPath)
	data, ok := f.files[oldPath]
	if !ok {
		return errors.New("no such file: " + oldPath)
	}
	delete(f.files, oldPath)
	f.files[newPath] = data
	return nil
}

func (f *MockFS) Create(p string) (io.WriteCloser, error) {
	return &mockFileWriter{fs: f, path: path.Clean(p)}, nil
}

func (f *MockFS) Open(p string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.files[path.Clean(p)]
	if !ok {
		return nil, errors.New("no such file: " + p)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *MockFS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// mockFileWriter buffers writes and commits on Close.
type mockFileWriter struct {
	fs   *MockFS
	path string
	buf  bytes.Buffer
}

func (w *mockFileWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *mockFileWriter) Close() error {
	w.fs.AddFile(w.path, w.buf.Bytes())
	return nil
}

type mockFileInfo struct {
	name string
	size int64
	dir  bool
}

func (i mockFileInfo) Name() string       { return i.name }
func (i mockFileInfo) Size() int64        { return i.size }
func (i mockFileInfo) ModTime() time.Time { return time.Time{} }
func (i mockFileInfo) IsDir() bool        { return i.dir }
func (i mockFileInfo) Sys() interface{}   { return nil }

func (i mockFileInfo) Mode() os.FileMode {
	if i.dir {
		return os.ModeDir | 0755
	}
	return 0644
}
