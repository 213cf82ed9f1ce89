package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

type tarEntry struct {
	name string
	data []byte
	dir  bool
}

func makeTar(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.data))}
		if e.dir {
			hdr.Name += "/"
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header: %v", err)
		}
		if _, err := tw.Write(e.data); err != nil {
			t.Fatalf("write tar data: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

func makeZip(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		name := e.name
		if e.dir {
			name += "/"
		}
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// collect drains the iterator and returns every produced event.
func collect(t *testing.T, it *Iterator) []Event {
	t.Helper()
	var events []Event
	for ev := range it.Events() {
		events = append(events, ev)
	}
	return events
}

func TestSingleEntrySequence(t *testing.T) {
	raw := makeTar(t, []tarEntry{{name: "a.txt", data: []byte("hi")}})

	it, err := FromReadSeeker(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("FromReadSeeker: %v", err)
	}
	defer it.Close()

	events := collect(t, it)
	if len(events) < 2 {
		t.Fatalf("got %d events, want at least StartOfEntry and EndOfEntry", len(events))
	}

	if events[0].Kind != EventStartOfEntry || events[0].Name != "a.txt" {
		t.Errorf("first event = %v (%q), want StartOfEntry(a.txt)", events[0].Kind, events[0].Name)
	}
	var content []byte
	for _, ev := range events[1 : len(events)-1] {
		if ev.Kind != EventDataChunk {
			t.Fatalf("middle event = %v, want DataChunk", ev.Kind)
		}
		content = append(content, ev.Data...)
	}
	if string(content) != "hi" {
		t.Errorf("content = %q, want %q", content, "hi")
	}
	if events[len(events)-1].Kind != EventEndOfEntry {
		t.Errorf("last event = %v, want EndOfEntry", events[len(events)-1].Kind)
	}

	// Exhaustion is idempotent.
	for i := 0; i < 3; i++ {
		if _, ok := it.Next(); ok {
			t.Fatalf("Next after exhaustion produced an event")
		}
	}

	if err := it.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestFramingInvariant(t *testing.T) {
	entries := []tarEntry{
		{name: "dir", dir: true},
		{name: "dir/empty.txt"},
		{name: "dir/big.bin", data: bytes.Repeat([]byte("streamarc!"), 5000)},
		{name: "z.txt", data: []byte("last")},
	}

	tests := []struct {
		name string
		blob []byte
	}{
		{"tar", makeTar(t, entries)},
		{"tar.gz", gzipBytes(t, makeTar(t, entries))},
		{"tar.zst", zstdBytes(t, makeTar(t, entries))},
		{"zip", makeZip(t, entries)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := FromReadSeeker(bytes.NewReader(tt.blob))
			if err != nil {
				t.Fatalf("FromReadSeeker: %v", err)
			}
			defer it.Close()

			inFile := false
			got := map[string][]byte{}
			var cur string
			var names []string
			for _, ev := range collect(t, it) {
				switch ev.Kind {
				case EventStartOfEntry:
					if inFile {
						t.Fatalf("StartOfEntry inside an open entry")
					}
					inFile = true
					cur = ev.Name
					names = append(names, ev.Name)
					got[cur] = nil
				case EventDataChunk:
					if !inFile {
						t.Fatalf("DataChunk outside an open entry")
					}
					got[cur] = append(got[cur], ev.Data...)
				case EventEndOfEntry:
					if !inFile {
						t.Fatalf("EndOfEntry without an open entry")
					}
					inFile = false
				case EventError:
					t.Fatalf("unexpected error event: %v", ev.Err)
				}
			}
			if inFile {
				t.Fatalf("stream ended inside an open entry")
			}
			if len(names) != len(entries) {
				t.Fatalf("saw %d entries %v, want %d", len(names), names, len(entries))
			}
			for _, e := range entries {
				if e.dir {
					continue
				}
				var content []byte
				for name, data := range got {
					if name == e.name {
						content = data
					}
				}
				if !bytes.Equal(content, e.data) {
					t.Errorf("entry %s: got %d bytes, want %d", e.name, len(content), len(e.data))
				}
			}
			if err := it.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
	}
}

func TestChunkConcatenationLargeEntry(t *testing.T) {
	want := make([]byte, 3*ReaderBufferSize+123)
	for i := range want {
		want[i] = byte(i * 31)
	}
	raw := makeTar(t, []tarEntry{{name: "big.bin", data: want}})

	it, err := FromReadSeeker(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("FromReadSeeker: %v", err)
	}
	defer it.Close()

	chunks := 0
	var content []byte
	for ev := range it.Events() {
		switch ev.Kind {
		case EventDataChunk:
			chunks++
			content = append(content, ev.Data...)
		case EventError:
			t.Fatalf("error event: %v", ev.Err)
		}
	}
	if chunks < 2 {
		t.Errorf("entry larger than the staging buffer arrived in %d chunk(s)", chunks)
	}
	if !bytes.Equal(content, want) {
		t.Fatalf("concatenated chunks differ from original content")
	}
}

func TestChunkDataIsCallerOwned(t *testing.T) {
	raw := makeTar(t, []tarEntry{
		{name: "a", data: bytes.Repeat([]byte{0xaa}, 100)},
		{name: "b", data: bytes.Repeat([]byte{0xbb}, 100)},
	})

	it, err := FromReadSeeker(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("FromReadSeeker: %v", err)
	}
	defer it.Close()

	var first []byte
	for ev := range it.Events() {
		if ev.Kind == EventDataChunk && first == nil {
			first = ev.Data
		}
	}
	if !bytes.Equal(first, bytes.Repeat([]byte{0xaa}, 100)) {
		t.Fatalf("first chunk was clobbered by later pulls")
	}
}

func TestCorruptedArchiveTerminalError(t *testing.T) {
	// Valid gzip+tar header, truncated compressed body: incompressible
	// content guarantees the cut lands mid-entry.
	big := make([]byte, 64*1024)
	state := uint32(0x9e3779b9)
	for i := range big {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		big[i] = byte(state)
	}
	blob := gzipBytes(t, makeTar(t, []tarEntry{{name: "payload.bin", data: big}}))
	truncated := blob[:2048]

	it, err := FromReadSeeker(bytes.NewReader(truncated))
	if err != nil {
		t.Fatalf("FromReadSeeker: %v", err)
	}
	defer it.Close()

	events := collect(t, it)
	if len(events) == 0 {
		t.Fatal("no events from truncated archive")
	}
	if events[0].Kind != EventStartOfEntry {
		t.Fatalf("first event = %v, want StartOfEntry", events[0].Kind)
	}
	last := events[len(events)-1]
	if last.Kind != EventError || last.Err == nil {
		t.Fatalf("last event = %v, want terminal Error", last.Kind)
	}
	for _, ev := range events[1 : len(events)-1] {
		if ev.Kind == EventEndOfEntry {
			t.Fatalf("EndOfEntry emitted for a truncated entry")
		}
	}

	// Terminal means terminal.
	for i := 0; i < 3; i++ {
		if _, ok := it.Next(); ok {
			t.Fatal("Next produced an event after a terminal error")
		}
	}
}

func TestSourceReadErrorSurfaces(t *testing.T) {
	raw := makeTar(t, []tarEntry{{name: "a.txt", data: bytes.Repeat([]byte("x"), 40*1024)}})
	src := &faultyReader{Reader: bytes.NewReader(raw), failAfter: 20 * 1024}

	it, err := FromReadSeeker(src)
	if err != nil {
		// The fault may land during construction; that is a valid surface.
		if !errors.Is(err, errBoom) && !containsBoom(err) {
			t.Fatalf("construction error lost the source description: %v", err)
		}
		return
	}
	defer it.Close()

	events := collect(t, it)
	last := events[len(events)-1]
	if last.Kind != EventError {
		t.Fatalf("last event = %v, want Error", last.Kind)
	}
	if !containsBoom(last.Err) {
		t.Errorf("error event lost the source description: %v", last.Err)
	}
}

func TestSeekFailureIsNotACrash(t *testing.T) {
	blob := makeZip(t, []tarEntry{{name: "a.txt", data: []byte("hi")}})
	src := &brokenSeeker{Reader: bytes.NewReader(blob)}

	it, err := FromReadSeeker(src)
	if err != nil {
		return // construction failure is the expected surface for zip
	}
	defer it.Close()

	for ev := range it.Events() {
		if ev.Kind == EventError {
			return
		}
	}
	t.Fatal("seek failure produced neither a construction error nor an Error event")
}

func TestCloseIsIdempotent(t *testing.T) {
	raw := makeTar(t, []tarEntry{{name: "a.txt", data: []byte("hi")}})
	it, err := FromReadSeeker(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("FromReadSeeker: %v", err)
	}

	if err := it.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := it.Next(); ok {
		t.Fatal("Next produced an event after Close")
	}
}

func TestUnrecognizedFormat(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"garbage", []byte("this is not an archive, not even close, promise")},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := FromReadSeeker(bytes.NewReader(tt.blob))
			if err == nil {
				it.Close()
				t.Fatal("expected a construction error")
			}
			var engErr *EngineError
			if !errors.As(err, &engErr) {
				t.Errorf("error %v does not wrap an EngineError", err)
			}
		})
	}
}

func TestAbandonedIteratorsReleaseResources(t *testing.T) {
	raw := makeTar(t, []tarEntry{{name: "a.txt", data: []byte("hi")}})
	for i := 0; i < 50; i++ {
		it, err := FromReadSeeker(bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("FromReadSeeker: %v", err)
		}
		it.Next() // partially consumed, then abandoned
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		utf8Locale.mu.Lock()
		count := utf8Locale.count
		utf8Locale.mu.Unlock()
		if count == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("abandoned iterators never released the locale guard")
}

var errBoom = errors.New("boom: source read failed")

type faultyReader struct {
	*bytes.Reader
	read      int
	failAfter int
}

func (f *faultyReader) Read(p []byte) (int, error) {
	if f.read >= f.failAfter {
		return 0, errBoom
	}
	n, err := f.Reader.Read(p)
	f.read += n
	return n, err
}

type brokenSeeker struct {
	*bytes.Reader
}

func (b *brokenSeeker) Seek(offset int64, whence int) (int64, error) {
	return 0, fmt.Errorf("seek out of range (offset=%d whence=%d)", offset, whence)
}

func containsBoom(err error) bool {
	return err != nil && bytes.Contains([]byte(err.Error()), []byte("boom"))
}
