// Package journal persists a compact per-round event trail so operators can
// reconstruct what happened in a round after the fact. Each round gets its
// own snappy-compressed file of msgpack records.
package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Record kinds written to the journal.
const (
	KindRoundStart = "round_start"
	KindRoundEnd   = "round_end"
	KindDeath      = "death"
	KindWin        = "win"
	KindEntity     = "entity_taken"
	KindSomersault = "somersault"
	KindKick       = "inactivity_kick"
)

// Header opens every journal file.
type Header struct {
	RoundID   string    `msgpack:"round_id"`
	LevelID   string    `msgpack:"level_id"`
	Players   []int     `msgpack:"players"`
	StartedAt time.Time `msgpack:"started_at"`
}

// Record is one journaled occurrence within the round.
type Record struct {
	Kind     string        `msgpack:"kind"`
	At       time.Duration `msgpack:"at"`
	ClientID int           `msgpack:"client_id"`
	Seat     int           `msgpack:"seat"`
	Entity   int           `msgpack:"entity,omitempty"`
	Points   int           `msgpack:"points,omitempty"`
}

// Writer streams one round's records to disk.
type Writer struct {
	roundID string
	path    string
	file    *os.File
	stream  *snappy.Writer
	enc     *msgpack.Encoder
}

// Open creates the journal file for a new round and writes its header. The
// round id is generated here and reused by the caller for logging.
func Open(dir, levelID string, players []int, startedAt time.Time) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("journal directory must be provided")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	roundID := uuid.NewString()
	path := filepath.Join(dir, fmt.Sprintf("round-%s.journal", roundID))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create journal file: %w", err)
	}
	stream := snappy.NewBufferedWriter(file)
	enc := msgpack.NewEncoder(stream)

	header := Header{RoundID: roundID, LevelID: levelID, Players: players, StartedAt: startedAt.UTC()}
	if err := enc.Encode(header); err != nil {
		stream.Close()
		file.Close()
		return nil, fmt.Errorf("write journal header: %w", err)
	}
	return &Writer{roundID: roundID, path: path, file: file, stream: stream, enc: enc}, nil
}

// RoundID returns the generated identifier of this round.
func (w *Writer) RoundID() string {
	if w == nil {
		return ""
	}
	return w.roundID
}

// Path returns the journal file location.
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Append writes one record. Journal failures are reported but callers treat
// them as non-fatal; the round continues without its trail.
func (w *Writer) Append(record Record) error {
	if w == nil || w.enc == nil {
		return errors.New("journal writer closed")
	}
	if err := w.enc.Encode(record); err != nil {
		return fmt.Errorf("append journal record: %w", err)
	}
	return nil
}

// Close flushes the compressed stream and releases the file.
func (w *Writer) Close() error {
	if w == nil || w.file == nil {
		return nil
	}
	streamErr := w.stream.Close()
	fileErr := w.file.Close()
	w.enc = nil
	w.stream = nil
	w.file = nil
	if streamErr != nil {
		return streamErr
	}
	return fileErr
}

// Read loads a journal file back into its header and records, for tooling
// and tests.
func Read(path string) (Header, []Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	dec := msgpack.NewDecoder(snappy.NewReader(file))
	var header Header
	if err := dec.Decode(&header); err != nil {
		return Header{}, nil, fmt.Errorf("read journal header: %w", err)
	}
	var records []Record
	for {
		var record Record
		if err := dec.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				return header, records, nil
			}
			return Header{}, nil, fmt.Errorf("read journal record: %w", err)
		}
		records = append(records, record)
	}
}
