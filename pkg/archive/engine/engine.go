// Package engine implements the pull-based decoding session that feeds
// archive iteration. It owns format and filter auto-detection and hands out
// decoded entry headers and data blocks one pull at a time. All input bytes
// arrive through caller-registered read/seek callbacks; the engine never
// touches the underlying source directly.
package engine

import (
	"fmt"
	"io"
)

// Status codes returned by session operations. Zero is success, one signals
// end of data (end of archive for NextHeader, end of entry for
// ReadDataBlock), negatives are failures of increasing severity.
const (
	StatusOK     = 0
	StatusEOF    = 1
	StatusRetry  = -10
	StatusWarn   = -20
	StatusFailed = -25
	StatusFatal  = -30
)

// BlockSize is the capacity of the engine-owned buffer returned by
// ReadDataBlock. The returned slice is only valid until the next pull.
const BlockSize = 16 * 1024

// maxFilterDepth bounds filter stacking (e.g. tar.gz.zst) so a malicious
// input cannot recurse forever.
const maxFilterDepth = 4

// ReadFunc is the read callback registered with Open. It fills the client's
// staging buffer from the source and returns it along with the byte count.
// A count of zero signals end of source. A negative count signals failure;
// the callback records details with SetError before returning, never by
// panicking across the boundary.
type ReadFunc func(s *Session, client any) ([]byte, int)

// SeekFunc is the seek callback registered with SetSeekCallback. whence is
// 0 (start), 1 (current) or 2 (end). It returns the new absolute position,
// or -1 on an unrecognized whence value or a failed seek.
type SeekFunc func(s *Session, client any, offset int64, whence int) int64

// backend is one container format driver. next advances to the following
// entry (io.EOF at end of archive); read yields the current entry's decoded
// bytes (io.EOF at end of entry).
type backend interface {
	next() (string, error)
	read(p []byte) (int, error)
}

// Session is a single-use decoding session. It is not safe for concurrent
// use; drive it from one goroutine at a time.
type Session struct {
	filterAll bool
	formatAll bool
	formatRaw bool

	seekCB SeekFunc
	readCB ReadFunc
	client any

	src     *clientSource
	back    backend
	closers []func() error

	opened  bool
	inEntry bool

	errNum int
	errMsg string

	block [BlockSize]byte
}

// NewSession returns an idle session with no filters or formats enabled.
func NewSession() *Session {
	return &Session{}
}

// SupportFilterAll enables auto-detection of every known compression filter
// (gzip, bzip2, xz, zstd, lz4). Filters may stack.
func (s *Session) SupportFilterAll() int {
	if s.opened {
		s.SetError(StatusFatal, "filters must be enabled before open")
		return StatusFatal
	}
	s.filterAll = true
	return StatusOK
}

// SupportFormatAll enables auto-detection of every known container format
// (tar, zip, 7z, rar).
func (s *Session) SupportFormatAll() int {
	if s.opened {
		s.SetError(StatusFatal, "formats must be enabled before open")
		return StatusFatal
	}
	s.formatAll = true
	return StatusOK
}

// SupportFormatRaw enables the raw pseudo-format: input that matches no
// container format is exposed as a single entry named "data" holding the
// filter-decoded byte stream. Raw only bids when nothing else matches.
func (s *Session) SupportFormatRaw() int {
	if s.opened {
		s.SetError(StatusFatal, "formats must be enabled before open")
		return StatusFatal
	}
	s.formatRaw = true
	return StatusOK
}

// SetSeekCallback registers the seek callback. Without one the source is
// treated as forward-only and random-access formats (zip, 7z) are rejected.
func (s *Session) SetSeekCallback(cb SeekFunc) int {
	if s.opened {
		s.SetError(StatusFatal, "seek callback must be registered before open")
		return StatusFatal
	}
	s.seekCB = cb
	return StatusOK
}

// Open binds the session to a source via the read callback and runs filter
// and format detection. client is opaque to the engine and handed back to
// every callback invocation unchanged.
func (s *Session) Open(client any, read ReadFunc) int {
	if s.opened {
		s.SetError(StatusFatal, "session already open")
		return StatusFatal
	}
	if read == nil {
		s.SetError(StatusFatal, "no read callback registered")
		return StatusFatal
	}
	if !s.formatAll && !s.formatRaw {
		s.SetError(StatusFatal, "no formats enabled")
		return StatusFatal
	}

	s.client = client
	s.readCB = read
	s.src = &clientSource{s: s}

	stream, filtered, err := s.applyFilters(s.src)
	if err != nil {
		s.SetError(StatusFatal, err.Error())
		return StatusFatal
	}

	back, err := s.detectFormat(stream, filtered)
	if err != nil {
		s.SetError(StatusFatal, err.Error())
		return StatusFatal
	}

	s.back = back
	s.opened = true
	return StatusOK
}

// NextHeader advances to the next entry and returns its name. Unread data
// from the previous entry is skipped. Returns StatusEOF at end of archive.
func (s *Session) NextHeader() (string, int) {
	if !s.opened || s.back == nil {
		s.SetError(StatusFatal, "session is not open")
		return "", StatusFatal
	}

	if s.inEntry {
		if err := s.drainEntry(); err != nil {
			s.SetError(StatusFatal, err.Error())
			return "", StatusFatal
		}
	}

	name, err := s.back.next()
	if err == io.EOF {
		return "", StatusEOF
	}
	if err != nil {
		s.SetError(StatusFatal, err.Error())
		return "", StatusFatal
	}
	s.inEntry = true
	return name, StatusOK
}

// ReadDataBlock returns the next decoded block of the current entry. The
// slice aliases the engine-owned block buffer and is only valid until the
// next NextHeader or ReadDataBlock call. Returns StatusEOF when the entry
// has been read to completion.
func (s *Session) ReadDataBlock() ([]byte, int) {
	if !s.opened || s.back == nil {
		s.SetError(StatusFatal, "session is not open")
		return nil, StatusFatal
	}
	if !s.inEntry {
		return nil, StatusEOF
	}

	for {
		n, err := s.back.read(s.block[:])
		if n > 0 {
			return s.block[:n], StatusOK
		}
		if err == io.EOF {
			s.inEntry = false
			return nil, StatusEOF
		}
		if err != nil {
			s.SetError(StatusFatal, err.Error())
			return nil, StatusFatal
		}
	}
}

func (s *Session) drainEntry() error {
	for {
		// A transient (0, nil) read is legal; keep pulling until EOF or
		// a real error, same as ReadDataBlock.
		_, err := s.back.read(s.block[:])
		if err == io.EOF {
			s.inEntry = false
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Close shuts the decode pipeline down, releasing any filter state. This
// includes filter state left behind by a failed Open. Closing an already
// closed or never-opened session is a no-op.
func (s *Session) Close() int {
	s.opened = false
	s.inEntry = false

	code := StatusOK
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && code == StatusOK {
			s.SetError(StatusFailed, err.Error())
			code = StatusFailed
		}
	}
	s.closers = nil
	return code
}

// Free releases the session's remaining references. The session must not be
// used afterwards.
func (s *Session) Free() int {
	s.back = nil
	s.src = nil
	s.client = nil
	s.readCB = nil
	s.seekCB = nil
	return StatusOK
}

// SetError records a diagnostic for the most recent failure. errNum carries
// an OS error number where one is available, otherwise a status code.
func (s *Session) SetError(errNum int, msg string) {
	s.errNum = errNum
	s.errMsg = msg
}

// LastError returns the recorded diagnostic for the most recent failure, or
// nil if none has been recorded.
func (s *Session) LastError() error {
	if s.errMsg == "" {
		return nil
	}
	return &Error{Num: s.errNum, Msg: s.errMsg}
}

// Error is the diagnostic recorded on a session by a failing operation or a
// failing callback.
type Error struct {
	Num int
	Msg string
}

func (e *Error) Error() string {
	if e.Num != 0 {
		return fmt.Sprintf("%s (code %d)", e.Msg, e.Num)
	}
	return e.Msg
}
