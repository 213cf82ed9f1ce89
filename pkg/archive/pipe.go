package archive

import (
	"errors"
	"io"
	"syscall"

	"streamarc/pkg/archive/engine"
)

// ReaderBufferSize is the staging buffer capacity: one read-ahead block
// pulled from the source per read callback, matching the engine's block
// size for chunk copy-out.
const ReaderBufferSize = 16 * 1024

// sourcePipe owns the caller's byte source plus the fixed staging buffer
// the read callback fills. Its address is handed to the engine as opaque
// client data for the iterator's entire lifetime, so it must not move and
// must outlive the session.
type sourcePipe struct {
	reader io.ReadSeeker
	buffer [ReaderBufferSize]byte
}

// readChunkCallback fills the pipe's staging buffer with one read from the
// source. Returns the filled buffer and the byte count; zero means end of
// source. On failure it records the description (and OS error number where
// available) on the session and returns the engine's negative sentinel; a
// failure must never escape across the callback boundary.
func readChunkCallback(s *engine.Session, client any) ([]byte, int) {
	pipe, ok := client.(*sourcePipe)
	if !ok {
		return nil, -1
	}

	n, err := pipe.reader.Read(pipe.buffer[:])
	if n > 0 {
		return pipe.buffer[:n], n
	}
	if err == nil || err == io.EOF {
		return pipe.buffer[:0], 0
	}
	s.SetError(osErrno(err), err.Error())
	return nil, -1
}

// seekCallback maps the engine's whence codes (0 start, 1 current, 2 end)
// onto the source's seek primitive, returning the new position or -1 on an
// unrecognized whence or a failed seek.
func seekCallback(_ *engine.Session, client any, offset int64, whence int) int64 {
	pipe, ok := client.(*sourcePipe)
	if !ok {
		return -1
	}

	var w int
	switch whence {
	case 0:
		w = io.SeekStart
	case 1:
		w = io.SeekCurrent
	case 2:
		w = io.SeekEnd
	default:
		return -1
	}

	pos, err := pipe.reader.Seek(offset, w)
	if err != nil {
		return -1
	}
	return pos
}

func osErrno(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}
