// Package journal implements the append-only event log (spec.md §4.8):
// canonical encoding, CRC32C-framed records, and a reader that verifies
// sequence density and halts (rather than silently skips) on the first
// corrupt or out-of-order record.
package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"matchcore/internal/event"
	"matchcore/internal/market"
	"matchcore/internal/metrics"

	"github.com/rs/zerolog"
)

// magic identifies a journal file; version lets the format evolve without
// breaking readers of older files outright (spec.md §4.8 "File header").
const (
	magic         = "XJNL"
	formatVersion = uint32(1)
)

var crcTable = crc32.MakeTable(crc32.Castagnoli) // CRC32C

// Header is the fixed file header written once at the start of a journal
// file (spec.md §4.8).
type Header struct {
	Version  uint32
	MarketID market.ID
}

// Writer appends encoded events to one journal file, with a configurable
// fsync tier (spec.md §4.8 "Durability tiers": fsync per record, or
// batched every N records/per flush call).
type Writer struct {
	f        *os.File
	w        *bufio.Writer
	fsyncN   int
	since    int
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewWriter creates or truncates path, writes the header, and returns a
// Writer that fsyncs every fsyncEvery records (1 means every record).
func NewWriter(path string, marketID market.ID, fsyncEvery int, m *metrics.Metrics, log zerolog.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	w := &Writer{f: f, w: bufio.NewWriter(f), fsyncN: fsyncEvery, metrics: m, log: log.With().Str("component", "journal").Logger()}
	if w.fsyncN <= 0 {
		w.fsyncN = 1
	}
	if err := w.writeHeader(marketID); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader(marketID market.ID) error {
	if _, err := w.w.WriteString(magic); err != nil {
		return err
	}
	if err := binary.Write(w.w, binary.BigEndian, formatVersion); err != nil {
		return err
	}
	mid := []byte(marketID.String())
	if err := binary.Write(w.w, binary.BigEndian, uint32(len(mid))); err != nil {
		return err
	}
	if _, err := w.w.Write(mid); err != nil {
		return err
	}
	return w.w.Flush()
}

// Append encodes ev canonically, frames it as
// {length, sequence, payload, crc32c}, and writes the frame. It fsyncs
// once every fsyncN records (spec.md §4.8).
func (w *Writer) Append(ev event.Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}
	if err := binary.Write(w.w, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	if err := binary.Write(w.w, binary.BigEndian, ev.Sequence); err != nil {
		return err
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}
	crc := crc32.Checksum(payload, crcTable)
	if err := binary.Write(w.w, binary.BigEndian, crc); err != nil {
		return err
	}

	w.since++
	if w.since >= w.fsyncN {
		return w.Flush()
	}
	return nil
}

// Flush writes buffered bytes to the OS and fsyncs the file, recording
// the latency (spec.md §6 "journal fsync latency").
func (w *Writer) Flush() error {
	start := time.Now()
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("journal: fsync: %w", err)
	}
	w.since = 0
	if w.metrics != nil {
		w.metrics.JournalFsyncLatency.Observe(time.Since(start).Seconds())
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// Record is one decoded, CRC-verified journal entry.
type Record struct {
	Sequence uint64
	Event    event.Event
}

// ErrCorrupt is returned by Read when a frame's CRC doesn't match its
// payload, or the frame is truncated — per spec.md §4.8, the reader halts
// rather than skipping: "a corrupt record truncates replay at that point,
// it does not cause the reader to skip ahead".
var ErrCorrupt = fmt.Errorf("journal: corrupt record")

// Reader streams Records from a journal file in order, stopping at EOF or
// at the first corrupt/out-of-order record.
type Reader struct {
	r        *bufio.Reader
	f        *os.File
	header   Header
	lastSeq  uint64
	hasLast  bool
}

// OpenReader opens path, reads and validates the header, and returns a
// Reader positioned at the first record.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	r := &Reader{r: bufio.NewReader(f), f: f}
	if err := r.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readHeader() error {
	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(r.r, magicBuf); err != nil {
		return fmt.Errorf("journal: read magic: %w", err)
	}
	if string(magicBuf) != magic {
		return fmt.Errorf("journal: bad magic %q", magicBuf)
	}
	var version uint32
	if err := binary.Read(r.r, binary.BigEndian, &version); err != nil {
		return fmt.Errorf("journal: read version: %w", err)
	}
	var midLen uint32
	if err := binary.Read(r.r, binary.BigEndian, &midLen); err != nil {
		return fmt.Errorf("journal: read market id length: %w", err)
	}
	mid := make([]byte, midLen)
	if _, err := io.ReadFull(r.r, mid); err != nil {
		return fmt.Errorf("journal: read market id: %w", err)
	}
	r.header = Header{Version: version, MarketID: market.ID(mid)}
	return nil
}

// Header returns the file header read at open time.
func (r *Reader) Header() Header { return r.header }

// Next returns the next record, io.EOF at a clean end of file, or
// ErrCorrupt at a damaged or out-of-sequence frame.
func (r *Reader) Next() (Record, error) {
	var length uint32
	if err := binary.Read(r.r, binary.BigEndian, &length); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("%w: read length: %v", ErrCorrupt, err)
	}
	var seq uint64
	if err := binary.Read(r.r, binary.BigEndian, &seq); err != nil {
		return Record{}, fmt.Errorf("%w: read sequence: %v", ErrCorrupt, err)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return Record{}, fmt.Errorf("%w: read payload: %v", ErrCorrupt, err)
	}
	var storedCRC uint32
	if err := binary.Read(r.r, binary.BigEndian, &storedCRC); err != nil {
		return Record{}, fmt.Errorf("%w: read crc: %v", ErrCorrupt, err)
	}
	if crc32.Checksum(payload, crcTable) != storedCRC {
		return Record{}, fmt.Errorf("%w: crc mismatch at sequence %d", ErrCorrupt, seq)
	}
	if r.hasLast && seq != r.lastSeq+1 {
		return Record{}, fmt.Errorf("%w: sequence gap: expected %d, got %d", ErrCorrupt, r.lastSeq+1, seq)
	}
	r.lastSeq = seq
	r.hasLast = true

	ev, err := Decode(payload)
	if err != nil {
		return Record{}, fmt.Errorf("%w: decode: %v", ErrCorrupt, err)
	}
	return Record{Sequence: seq, Event: ev}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }
