package archive

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Thin convenience layers over the event stream. Each one is a single
// forward pass; the source is consumed.

// ListFiles returns the names of all entries in the archive, in archive
// order.
func ListFiles(source io.ReadSeeker) ([]string, error) {
	it, err := FromReadSeeker(source)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var names []string
	for ev := range it.Events() {
		switch ev.Kind {
		case EventStartOfEntry:
			names = append(names, ev.Name)
		case EventError:
			return nil, ev.Err
		}
	}
	return names, it.Close()
}

// ExtractFile streams the decoded content of the named entry to w and
// returns the number of bytes written. The name must match the
// engine-reported entry path exactly.
func ExtractFile(source io.ReadSeeker, w io.Writer, name string) (int64, error) {
	it, err := FromReadSeeker(source)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var written int64
	found := false
	for ev := range it.Events() {
		switch ev.Kind {
		case EventStartOfEntry:
			found = ev.Name == name
		case EventDataChunk:
			if !found {
				continue
			}
			n, err := w.Write(ev.Data)
			written += int64(n)
			if err != nil {
				return written, err
			}
		case EventEndOfEntry:
			if found {
				return written, it.Close()
			}
		case EventError:
			return written, ev.Err
		}
	}
	if !found {
		return 0, fmt.Errorf("%q not found in archive", name)
	}
	return written, it.Close()
}

// ExtractAll unpacks every entry into dir on fsys, creating directories as
// needed, and returns the total number of content bytes written. Entry
// paths are sanitized so no entry can escape dir.
func ExtractAll(source io.ReadSeeker, fsys afero.Fs, dir string) (int64, error) {
	it, err := FromReadSeeker(source)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var total int64
	var cur afero.File
	closeCur := func() error {
		if cur == nil {
			return nil
		}
		err := cur.Close()
		cur = nil
		return err
	}
	defer closeCur()

	for ev := range it.Events() {
		switch ev.Kind {
		case EventStartOfEntry:
			target, ok := sanitizePath(dir, ev.Name)
			if !ok {
				return total, fmt.Errorf("entry %q escapes extraction root", ev.Name)
			}
			if strings.HasSuffix(ev.Name, "/") {
				if err := fsys.MkdirAll(target, 0o755); err != nil {
					return total, err
				}
				continue
			}
			if err := fsys.MkdirAll(path.Dir(target), 0o755); err != nil {
				return total, err
			}
			f, err := fsys.Create(target)
			if err != nil {
				return total, err
			}
			cur = f
		case EventDataChunk:
			if cur == nil {
				continue
			}
			n, err := cur.Write(ev.Data)
			total += int64(n)
			if err != nil {
				return total, err
			}
		case EventEndOfEntry:
			if err := closeCur(); err != nil {
				return total, err
			}
		case EventError:
			return total, ev.Err
		}
	}
	return total, it.Close()
}

// DecompressData decodes a bare compressed blob (no container format) from
// source into w, returning the number of bytes written.
func DecompressData(source io.ReadSeeker, w io.Writer) (int64, error) {
	it, err := newIterator(source, true)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var written int64
	for ev := range it.Events() {
		switch ev.Kind {
		case EventDataChunk:
			n, err := w.Write(ev.Data)
			written += int64(n)
			if err != nil {
				return written, err
			}
		case EventError:
			return written, ev.Err
		}
	}
	return written, it.Close()
}

// sanitizePath joins an entry name under dir, rejecting absolute paths and
// parent traversal.
func sanitizePath(dir, name string) (string, bool) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if clean == "." {
		return "", false
	}
	if path.IsAbs(clean) {
		clean = clean[1:]
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return path.Join(dir, clean), true
}
