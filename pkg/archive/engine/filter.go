package engine

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// filter is one compression layer, matched by magic bytes at the current
// stream position.
type filter struct {
	name  string
	magic []byte
	open  func(r io.Reader) (io.Reader, func() error, error)
}

var filters = []filter{
	{
		name:  "gzip",
		magic: []byte{0x1f, 0x8b},
		open: func(r io.Reader) (io.Reader, func() error, error) {
			gr, err := gzip.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return gr, gr.Close, nil
		},
	},
	{
		name:  "bzip2",
		magic: []byte{'B', 'Z', 'h'},
		open: func(r io.Reader) (io.Reader, func() error, error) {
			return bzip2.NewReader(r), nil, nil
		},
	},
	{
		name:  "xz",
		magic: []byte{0xfd, '7', 'z', 'X', 'Z', 0x00},
		open: func(r io.Reader) (io.Reader, func() error, error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return xr, nil, nil
		},
	},
	{
		name:  "zstd",
		magic: []byte{0x28, 0xb5, 0x2f, 0xfd},
		open: func(r io.Reader) (io.Reader, func() error, error) {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return zr, func() error { zr.Close(); return nil }, nil
		},
	},
	{
		name:  "lz4",
		magic: []byte{0x04, 0x22, 0x4d, 0x18},
		open: func(r io.Reader) (io.Reader, func() error, error) {
			return lz4.NewReader(r), nil, nil
		},
	},
}

// applyFilters peels compression layers off the source until no filter
// magic matches, returning the innermost stream. filtered reports whether
// at least one layer was removed; a filtered stream is no longer seekable.
func (s *Session) applyFilters(src io.Reader) (stream io.Reader, filtered bool, err error) {
	r := src
	if !s.filterAll {
		return r, false, nil
	}

	for depth := 0; depth < maxFilterDepth; depth++ {
		br := bufio.NewReader(r)
		head, _ := br.Peek(8)

		f := matchFilter(head)
		if f == nil {
			return br, filtered, nil
		}

		dec, closeFn, err := f.open(br)
		if err != nil {
			return nil, filtered, fmt.Errorf("%s filter: %w", f.name, err)
		}
		if closeFn != nil {
			s.closers = append(s.closers, closeFn)
		}
		r = dec
		filtered = true
	}
	return r, filtered, nil
}

func matchFilter(head []byte) *filter {
	for i := range filters {
		if bytes.HasPrefix(head, filters[i].magic) {
			return &filters[i]
		}
	}
	return nil
}
