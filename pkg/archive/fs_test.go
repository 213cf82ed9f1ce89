package archive

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"testing"
)

func TestFSOpen(t *testing.T) {
	raw := makeTar(t, []tarEntry{
		{name: "a.txt", data: []byte("alpha")},
		{name: "sub/b.txt", data: []byte("beta")},
	})

	afs, err := NewFS(bytes.NewReader(raw), 0)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	for name, want := range map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"} {
		f, err := afs.Open(name)
		if err != nil {
			t.Fatalf("Open(%s): %v", name, err)
		}
		got, err := io.ReadAll(f)
		if err != nil {
			t.Fatalf("ReadAll(%s): %v", name, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
		info, err := f.Stat()
		if err != nil || info.Size() != int64(len(want)) {
			t.Errorf("Stat(%s) = %v, %v", name, info, err)
		}
		f.Close()
	}

	if _, err := afs.Open("missing.txt"); err == nil {
		t.Error("Open of a missing entry did not fail")
	}
	var pathErr *fs.PathError
	if _, err := afs.Open("../invalid"); err == nil || !errors.As(err, &pathErr) {
		t.Errorf("invalid name error = %v, want fs.PathError", err)
	}
}

func TestFSDirectoryEntriesDoNotResolve(t *testing.T) {
	raw := makeTar(t, []tarEntry{
		{name: "docs", dir: true},
		{name: "docs/a.txt", data: []byte("alpha")},
	})

	afs, err := NewFS(bytes.NewReader(raw), 0)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	// Directory entries carry no data; handing them out as empty files
	// would make Open("docs") succeed with zero bytes.
	if _, err := afs.Open("docs"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open(docs) = %v, want fs.ErrNotExist", err)
	}

	f, err := afs.Open("docs/a.txt")
	if err != nil {
		t.Fatalf("Open(docs/a.txt): %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil || string(got) != "alpha" {
		t.Fatalf("docs/a.txt = %q, %v", got, err)
	}
}

func TestFSCachesEntries(t *testing.T) {
	raw := makeTar(t, []tarEntry{
		{name: "a.txt", data: []byte("alpha")},
		{name: "b.txt", data: []byte("beta")},
	})

	src := &countingSeeker{Reader: bytes.NewReader(raw)}
	afs, err := NewFS(src, 8)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	// First open scans once and caches everything up to b.txt, which is
	// the whole archive.
	if _, err := afs.Open("b.txt"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	rewinds := src.rewinds
	if rewinds == 0 {
		t.Fatal("first Open never touched the source")
	}

	if _, err := afs.Open("a.txt"); err != nil {
		t.Fatalf("cached Open: %v", err)
	}
	if _, err := afs.Open("b.txt"); err != nil {
		t.Fatalf("cached Open: %v", err)
	}
	if src.rewinds != rewinds {
		t.Errorf("cached opens rescanned the source (%d -> %d rewinds)", rewinds, src.rewinds)
	}
}

type countingSeeker struct {
	*bytes.Reader
	rewinds int
}

func (c *countingSeeker) Seek(offset int64, whence int) (int64, error) {
	if offset == 0 && whence == io.SeekStart {
		c.rewinds++
	}
	return c.Reader.Seek(offset, whence)
}
