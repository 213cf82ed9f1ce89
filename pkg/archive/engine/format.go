package engine

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/javi11/sevenzip"
	"github.com/klauspost/compress/zip"
	"github.com/nwaples/rardecode/v2"
)

var (
	zipMagic      = []byte{'P', 'K', 0x03, 0x04}
	zipEmptyMagic = []byte{'P', 'K', 0x05, 0x06}
	sevenZipMagic = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}
	rarMagic      = []byte{'R', 'a', 'r', '!', 0x1a, 0x07}
	tarMagic      = []byte("ustar")
)

const tarMagicOffset = 257

// detectFormat sniffs the container format at the head of stream and builds
// the matching backend. filtered marks a stream that already went through a
// decompression layer and therefore lost seekability.
func (s *Session) detectFormat(stream io.Reader, filtered bool) (backend, error) {
	br := bufio.NewReaderSize(stream, 4096)
	head, err := br.Peek(tarMagicOffset + len(tarMagic))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("format detection: %w", err)
	}

	if s.formatAll {
		switch {
		case bytes.HasPrefix(head, zipMagic) || bytes.HasPrefix(head, zipEmptyMagic):
			return s.openZip(filtered)
		case bytes.HasPrefix(head, sevenZipMagic):
			return s.openSevenZip(filtered)
		case bytes.HasPrefix(head, rarMagic):
			return s.openRar(br)
		case isTar(head):
			return &tarBackend{tr: tar.NewReader(br)}, nil
		}
	}

	if s.formatRaw {
		return &rawBackend{r: br}, nil
	}
	if len(head) == 0 {
		return nil, errors.New("empty source: unrecognized archive format")
	}
	return nil, errors.New("unrecognized archive format")
}

func isTar(head []byte) bool {
	if len(head) < tarMagicOffset+len(tarMagic) {
		return false
	}
	return bytes.Equal(head[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic)
}

func (s *Session) openZip(filtered bool) (backend, error) {
	ra, size, err := s.randomAccess(filtered, "zip")
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("zip: %w", err)
	}
	return &zipBackend{files: zr.File, idx: -1}, nil
}

func (s *Session) openSevenZip(filtered bool) (backend, error) {
	ra, size, err := s.randomAccess(filtered, "7z")
	if err != nil {
		return nil, err
	}
	szr, err := sevenzip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("7z: %w", err)
	}
	return &sevenZipBackend{files: szr.File, idx: -1}, nil
}

func (s *Session) openRar(r io.Reader) (backend, error) {
	rr, err := rardecode.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("rar: %w", err)
	}
	return &rarBackend{rr: rr}, nil
}

// randomAccess turns the callback source back into an io.ReaderAt for
// central-directory formats. Only possible on an unfiltered, seekable source.
func (s *Session) randomAccess(filtered bool, format string) (io.ReaderAt, int64, error) {
	if filtered {
		return nil, 0, fmt.Errorf("%s: cannot read a %s archive through a compression filter", format, format)
	}
	if s.seekCB == nil {
		return nil, 0, fmt.Errorf("%s: %w", format, errNotSeekable)
	}
	size, err := s.src.size()
	if err != nil {
		return nil, 0, fmt.Errorf("%s: sizing source: %w", format, err)
	}
	return &sourceReaderAt{src: s.src}, size, nil
}

// dirName marks a directory entry with a trailing slash. Formats that carry
// the flag out of band (tar typeflag, rar/7z headers) would otherwise hand
// out a bare name indistinguishable from a regular file.
func dirName(name string, isDir bool) string {
	if isDir && !strings.HasSuffix(name, "/") {
		return name + "/"
	}
	return name
}

// --- tar ---

type tarBackend struct {
	tr *tar.Reader
}

func (b *tarBackend) next() (string, error) {
	hdr, err := b.tr.Next()
	if err != nil {
		return "", err
	}
	return dirName(hdr.Name, hdr.Typeflag == tar.TypeDir), nil
}

func (b *tarBackend) read(p []byte) (int, error) {
	return b.tr.Read(p)
}

// --- rar ---

type rarBackend struct {
	rr *rardecode.Reader
}

func (b *rarBackend) next() (string, error) {
	hdr, err := b.rr.Next()
	if err != nil {
		return "", err
	}
	return dirName(hdr.Name, hdr.IsDir), nil
}

func (b *rarBackend) read(p []byte) (int, error) {
	return b.rr.Read(p)
}

// --- zip ---

type zipBackend struct {
	files []*zip.File
	idx   int
	cur   io.ReadCloser
}

func (b *zipBackend) next() (string, error) {
	if b.cur != nil {
		b.cur.Close()
		b.cur = nil
	}
	b.idx++
	if b.idx >= len(b.files) {
		return "", io.EOF
	}
	f := b.files[b.idx]
	if f.FileInfo().IsDir() {
		// No data stream behind a directory entry.
		return dirName(f.Name, true), nil
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("zip entry %q: %w", f.Name, err)
	}
	b.cur = rc
	return f.Name, nil
}

func (b *zipBackend) read(p []byte) (int, error) {
	if b.cur == nil {
		return 0, io.EOF
	}
	return b.cur.Read(p)
}

// --- 7z ---

type sevenZipBackend struct {
	files []*sevenzip.File
	idx   int
	cur   io.ReadCloser
}

func (b *sevenZipBackend) next() (string, error) {
	if b.cur != nil {
		b.cur.Close()
		b.cur = nil
	}
	b.idx++
	if b.idx >= len(b.files) {
		return "", io.EOF
	}
	f := b.files[b.idx]
	if f.FileInfo().IsDir() {
		// No data stream behind a directory entry.
		return dirName(f.Name, true), nil
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("7z entry %q: %w", f.Name, err)
	}
	b.cur = rc
	return f.Name, nil
}

func (b *sevenZipBackend) read(p []byte) (int, error) {
	if b.cur == nil {
		return 0, io.EOF
	}
	return b.cur.Read(p)
}

// --- raw ---

// rawBackend exposes arbitrary (possibly filter-decoded) bytes as a single
// entry named "data", the classic raw-format convention.
type rawBackend struct {
	r       io.Reader
	emitted bool
}

func (b *rawBackend) next() (string, error) {
	if b.emitted {
		return "", io.EOF
	}
	b.emitted = true
	return "data", nil
}

func (b *rawBackend) read(p []byte) (int, error) {
	return b.r.Read(p)
}
