package engine

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// clientSource adapts the registered callbacks into an io.ReadSeeker for the
// format and filter drivers. Read hands out bytes from the most recent
// callback fill; the callback's buffer is consumed before it is invoked
// again, so aliasing the caller's staging buffer is safe.
type clientSource struct {
	s       *Session
	pending []byte
}

var errNotSeekable = errors.New("source is not seekable (no seek callback registered)")

func (c *clientSource) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		buf, n := c.s.readCB(c.s, c.s.client)
		if n < 0 {
			if err := c.s.LastError(); err != nil {
				return 0, err
			}
			return 0, errors.New("read callback failed")
		}
		if n == 0 {
			return 0, io.EOF
		}
		c.pending = buf[:n]
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *clientSource) Seek(offset int64, whence int) (int64, error) {
	if c.s.seekCB == nil {
		return 0, errNotSeekable
	}
	pos := c.s.seekCB(c.s, c.s.client, offset, whence)
	if pos < 0 {
		return 0, fmt.Errorf("seek failed (offset=%d whence=%d)", offset, whence)
	}
	c.pending = nil
	return pos, nil
}

// size reports the total length of the source, restoring the current
// position afterwards.
func (c *clientSource) size() (int64, error) {
	cur, err := c.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := c.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := c.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}

// sourceReaderAt provides the io.ReaderAt view random-access formats need,
// serializing seek+read pairs on the shared source.
type sourceReaderAt struct {
	mu  sync.Mutex
	src *clientSource
}

func (r *sourceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.src.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(r.src, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}
