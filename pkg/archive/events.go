// Package archive streams the logical contents of an archive (tar, zip, 7z,
// rar, with transparent decompression) from a seekable byte source, as a
// sequence of discrete events. Nothing is materialized: entries are decoded
// one block at a time, pulled on demand.
//
// Every entry produces exactly one EventStartOfEntry, zero or more
// EventDataChunk, and one EventEndOfEntry. Concatenating the chunks of one
// entry reproduces its decoded content byte-for-byte. A decode failure ends
// the stream with a single terminal EventError.
package archive

// EventKind discriminates the variants of Event.
type EventKind int

const (
	// EventStartOfEntry marks the start of an entry, either a file or a
	// directory. Name carries the entry path.
	EventStartOfEntry EventKind = iota
	// EventDataChunk carries a chunk of the current entry's decoded data.
	EventDataChunk
	// EventEndOfEntry marks the end of the entry opened by the previous
	// EventStartOfEntry.
	EventEndOfEntry
	// EventError is terminal: no further events follow it.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStartOfEntry:
		return "StartOfEntry"
	case EventDataChunk:
		return "DataChunk"
	case EventEndOfEntry:
		return "EndOfEntry"
	case EventError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Event is one element of the archive content stream. Exactly one payload
// field is meaningful, selected by Kind.
type Event struct {
	Kind EventKind

	// Name is the entry path for EventStartOfEntry, decoded leniently:
	// invalid bytes are replaced, never a failure.
	Name string

	// Data is the chunk payload for EventDataChunk. It is caller-owned and
	// remains valid after the next pull.
	Data []byte

	// Err is the terminal failure for EventError.
	Err error
}
