package recorder

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/srg/myoctl/internal/protocol"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("recorder closed")

// FileRecorder appends CBOR records to a file. Safe for concurrent use.
type FileRecorder struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// NewFileRecorder opens path for appending, creating it with 0644 if needed.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileRecorder{
		file:    f,
		encoder: recordEncMode.NewEncoder(f),
	}, nil
}

func (r *FileRecorder) Write(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	return r.encoder.Encode(rec)
}

// Close closes the file. Idempotent.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	Session   string
	Endpoints []protocol.Endpoint
	TimeStart *time.Time // inclusive
	TimeEnd   *time.Time // exclusive
}

// Match reports whether rec passes the filter.
func (f *Filter) Match(rec Record) bool {
	if f.Session != "" && rec.Session != f.Session {
		return false
	}
	if len(f.Endpoints) > 0 {
		found := false
		for _, e := range f.Endpoints {
			if rec.Endpoint == e {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.TimeStart != nil && rec.Time.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !rec.Time.Before(*f.TimeEnd) {
		return false
	}
	return true
}

// Reader iterates the records of a recording file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens a recording and reads every record.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a recording and reads the records matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:    f,
		decoder: recordDecMode.NewDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching record, or io.EOF at the end.
func (r *Reader) Next() (Record, error) {
	for {
		var rec Record
		if err := r.decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, err
		}
		if r.filter.Match(rec) {
			return rec, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
