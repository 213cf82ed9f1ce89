package archive

import (
	"bytes"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheEntries is the default capacity of an FS entry cache.
const DefaultCacheEntries = 32

// FS exposes a seekable archive as an fs.FS. Each Open rewinds the source
// and replays the event stream up to the requested entry; decoded payloads
// are kept in a bounded LRU so repeated opens of the same entries do not
// re-decode. The FS serializes access to the shared source, so it is safe
// for concurrent Open calls, but payloads are held fully in memory: this is
// meant for configuration bundles and similar small archives, not media.
type FS struct {
	mu     sync.Mutex
	source io.ReadSeeker
	cache  *lru.Cache[string, []byte]
}

// NewFS wraps source in an FS caching up to cacheEntries decoded entries.
// A cacheEntries of zero or less uses DefaultCacheEntries.
func NewFS(source io.ReadSeeker, cacheEntries int) (*FS, error) {
	if cacheEntries <= 0 {
		cacheEntries = DefaultCacheEntries
	}
	cache, err := lru.New[string, []byte](cacheEntries)
	if err != nil {
		return nil, err
	}
	return &FS{source: source, cache: cache}, nil
}

// Open implements fs.FS. Directory entries are not materialized; only file
// entries resolve.
func (a *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if data, ok := a.cache.Get(name); ok {
		return newMemFile(name, data), nil
	}

	data, found, err := a.scanFor(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if !found {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return newMemFile(name, data), nil
}

// scanFor replays the archive, caching completed entries as they stream by,
// and stops as soon as the wanted entry is complete.
func (a *FS) scanFor(want string) ([]byte, bool, error) {
	if _, err := a.source.Seek(0, io.SeekStart); err != nil {
		return nil, false, err
	}
	it, err := FromReadSeeker(a.source)
	if err != nil {
		return nil, false, err
	}
	defer it.Close()

	var cur string
	var buf []byte
	isDir := false
	for ev := range it.Events() {
		switch ev.Kind {
		case EventStartOfEntry:
			cur = path.Clean(ev.Name)
			isDir = strings.HasSuffix(ev.Name, "/")
			buf = nil
		case EventDataChunk:
			buf = append(buf, ev.Data...)
		case EventEndOfEntry:
			if isDir {
				// Directory entries do not resolve as files.
				continue
			}
			a.cache.Add(cur, buf)
			if cur == want {
				return buf, true, nil
			}
		case EventError:
			return nil, false, ev.Err
		}
	}
	return nil, false, nil
}

// memFile is an in-memory fs.File over one decoded entry.
type memFile struct {
	*bytes.Reader
	info memFileInfo
}

func newMemFile(name string, data []byte) *memFile {
	return &memFile{
		Reader: bytes.NewReader(data),
		info:   memFileInfo{name: path.Base(name), size: int64(len(data))},
	}
}

func (f *memFile) Stat() (fs.FileInfo, error) { return &f.info, nil }
func (f *memFile) Close() error               { return nil }

type memFileInfo struct {
	name string
	size int64
}

func (fi *memFileInfo) Name() string       { return fi.name }
func (fi *memFileInfo) Size() int64        { return fi.size }
func (fi *memFileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi *memFileInfo) ModTime() time.Time { return time.Time{} }
func (fi *memFileInfo) IsDir() bool        { return false }
func (fi *memFileInfo) Sys() any           { return nil }
