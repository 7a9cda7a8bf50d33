// Package recorder persists raw notifications so sessions can be replayed.
//
// Records keep the undecoded payload together with the handle and endpoint
// it arrived on. Readings are decoded again on replay, so a recording stays
// valid when decoding changes.
package recorder

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/oklog/ulid/v2"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
)

// Record is one recorded notification.
type Record struct {
	ID       string            `cbor:"1,keyasint" json:"id"`
	Session  string            `cbor:"2,keyasint" json:"session"`
	Time     time.Time         `cbor:"3,keyasint" json:"time"`
	Handle   protocol.Handle   `cbor:"4,keyasint" json:"handle"`
	Endpoint protocol.Endpoint `cbor:"5,keyasint" json:"endpoint"`
	Payload  []byte            `cbor:"6,keyasint" json:"payload"`
}

// Reading decodes the recorded payload.
func (r Record) Reading() (protocol.Reading, error) {
	return protocol.Decode(r.Endpoint, r.Payload)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a ULID for t. IDs from one process sort in creation order.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewRecord builds a record for a stream event.
func NewRecord(sessionID string, ev session.Event) Record {
	return Record{
		ID:       NewID(ev.Time),
		Session:  sessionID,
		Time:     ev.Time,
		Handle:   ev.Handle,
		Endpoint: ev.Endpoint,
		Payload:  append([]byte(nil), ev.Payload...),
	}
}

// NewErrorRecord builds a record for a notification that failed to decode.
// It reports false when the handle belongs to no known endpoint, since such a
// record could not be decoded or filtered on replay.
func NewErrorRecord(sessionID string, nerr *session.NotificationError) (Record, bool) {
	e := protocol.EndpointFor(nerr.Handle)
	if e == protocol.Unrecognized {
		return Record{}, false
	}
	return Record{
		ID:       NewID(nerr.Time),
		Session:  sessionID,
		Time:     nerr.Time,
		Handle:   nerr.Handle,
		Endpoint: e,
		Payload:  append([]byte(nil), nerr.Payload...),
	}, true
}

// Sink stores records.
type Sink interface {
	Write(rec Record) error
	Close() error
}

// MultiSink writes every record to all sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a MultiSink over sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write stops at the first failing sink.
func (m *MultiSink) Write(rec Record) error {
	for _, s := range m.sinks {
		if err := s.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and returns the first error.
func (m *MultiSink) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	recordEncMode cbor.EncMode
	recordDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	recordEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	recordDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR decoder mode: %v", err))
	}
}

var (
	_ Sink = (*FileRecorder)(nil)
	_ Sink = (*SQLiteStore)(nil)
	_ Sink = (*MultiSink)(nil)
)
