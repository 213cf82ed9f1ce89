package archive

import (
	"fmt"
	"io"
	"iter"
	"runtime"
	"strings"
	"sync"

	"streamarc/pkg/archive/engine"
)

// Iterator streams the contents of an archive as a sequence of events. It
// is a single forward pass over the source: finite, not restartable, and
// not safe for concurrent use.
type Iterator struct {
	session *engine.Session
	// pipe is referenced to pin the staging buffer for as long as the
	// session may invoke the callbacks.
	pipe    *sourcePipe
	td      *teardown
	cleanup runtime.Cleanup

	inFile  bool
	errored bool
}

// FromReadSeeker opens an archive read from source, with filter and format
// auto-detection, and returns a ready-to-pull iterator. Call Close when
// done; an abandoned iterator still releases its resources, but any
// teardown failure is then lost.
//
//	it, err := archive.FromReadSeeker(f)
//	if err != nil {
//		return err
//	}
//	for ev := range it.Events() {
//		switch ev.Kind {
//		case archive.EventStartOfEntry:
//			name = ev.Name
//		case archive.EventDataChunk:
//			size += len(ev.Data)
//		case archive.EventEndOfEntry:
//			fmt.Printf("%s: %d bytes\n", name, size)
//			size = 0
//		case archive.EventError:
//			return ev.Err
//		}
//	}
//	return it.Close()
func FromReadSeeker(source io.ReadSeeker) (*Iterator, error) {
	return newIterator(source, false)
}

// newIterator performs the full construction sequence. rawOnly restricts
// the session to the raw pseudo-format (filter-only decompression) instead
// of container auto-detection.
func newIterator(source io.ReadSeeker, rawOnly bool) (*Iterator, error) {
	guard := acquireUTF8Locale()
	pipe := &sourcePipe{reader: source}
	session := engine.NewSession()

	err := func() error {
		if session == nil {
			return ErrNullSession
		}
		if err := statusErr(session.SupportFilterAll(), session); err != nil {
			return fmt.Errorf("enabling filters: %w", err)
		}
		if rawOnly {
			if err := statusErr(session.SupportFormatRaw(), session); err != nil {
				return fmt.Errorf("enabling raw format: %w", err)
			}
		} else {
			if err := statusErr(session.SupportFormatAll(), session); err != nil {
				return fmt.Errorf("enabling formats: %w", err)
			}
		}
		if err := statusErr(session.SetSeekCallback(seekCallback), session); err != nil {
			return fmt.Errorf("registering seek callback: %w", err)
		}
		if err := statusErr(session.Open(pipe, readChunkCallback), session); err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		return nil
	}()
	if err != nil {
		// Release any partial native state before surfacing the error.
		if session != nil {
			session.Close()
			session.Free()
		}
		guard.release()
		return nil, err
	}

	it := &Iterator{
		session: session,
		pipe:    pipe,
		td:      &teardown{session: session, guard: guard},
	}
	it.cleanup = runtime.AddCleanup(it, func(td *teardown) { td.free() }, it.td)
	return it, nil
}

// Next pulls the next event from the stream. The second return is false
// once the stream is exhausted: after end of archive, after a terminal
// EventError, or after Close.
func (it *Iterator) Next() (Event, bool) {
	if it.errored || it.td.closed() {
		return Event{}, false
	}

	var ev Event
	if it.inFile {
		ev = it.nextDataChunk()
	} else {
		ev = it.nextHeader()
	}

	switch ev.Kind {
	case EventStartOfEntry:
		it.inFile = true
		return ev, true
	case EventDataChunk:
		return ev, true
	case EventEndOfEntry:
		if it.inFile {
			it.inFile = false
			return ev, true
		}
		// End of archive: an end-of-data signal outside an entry.
		return Event{}, false
	default:
		it.errored = true
		return ev, true
	}
}

// Events adapts the iterator to a range-over-func sequence. Breaking out of
// the range leaves the iterator usable for further Next calls.
func (it *Iterator) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, ok := it.Next()
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// Close releases the iterator's native resources and reports any teardown
// failure. It is idempotent: further calls return nil. Resources are freed
// on abandonment if Close is never called, but errors are then lost.
func (it *Iterator) Close() error {
	it.cleanup.Stop()
	return it.td.free()
}

func (it *Iterator) nextHeader() Event {
	name, code := it.session.NextHeader()
	switch code {
	case engine.StatusOK:
		// Lenient decode: a bad filename must not abort a readable archive.
		return Event{Kind: EventStartOfEntry, Name: strings.ToValidUTF8(name, "�")}
	case engine.StatusEOF:
		return Event{Kind: EventEndOfEntry}
	default:
		return Event{Kind: EventError, Err: statusErr(code, it.session)}
	}
}

func (it *Iterator) nextDataChunk() Event {
	block, code := it.session.ReadDataBlock()
	switch code {
	case engine.StatusOK:
		// The engine's block buffer is only valid until the next pull;
		// copy into caller-owned storage.
		data := make([]byte, len(block))
		copy(data, block)
		return Event{Kind: EventDataChunk, Data: data}
	case engine.StatusEOF:
		return Event{Kind: EventEndOfEntry}
	default:
		return Event{Kind: EventError, Err: statusErr(code, it.session)}
	}
}

// teardown owns the release-exactly-once protocol shared by Close and the
// abandonment cleanup. It must not reference the Iterator, or the cleanup
// would keep it alive.
type teardown struct {
	mu      sync.Mutex
	session *engine.Session
	guard   *utf8Guard
	done    bool
}

func (t *teardown) closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *teardown) free() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	defer t.guard.release()

	if err := statusErr(t.session.Close(), t.session); err != nil {
		t.session.Free()
		return err
	}
	return statusErr(t.session.Free(), t.session)
}
