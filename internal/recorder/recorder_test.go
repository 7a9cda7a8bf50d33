package recorder_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/recorder"
	"github.com/srg/myoctl/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)

func events() []session.Event {
	return []session.Event{
		{Time: start, Handle: protocol.BatteryHandle, Endpoint: protocol.Battery, Payload: []byte{80}},
		{Time: start.Add(time.Millisecond), Handle: protocol.EmgRaw0Handle, Endpoint: protocol.EmgRaw0, Payload: make([]byte, 16)},
		{Time: start.Add(2 * time.Millisecond), Handle: protocol.BatteryHandle, Endpoint: protocol.Battery, Payload: []byte{79}},
	}
}

func readAll(t *testing.T, r *recorder.Reader) []recorder.Record {
	t.Helper()
	var out []recorder.Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestFileRecorder_RoundTrip(t *testing.T) {
	// GOAL: Verify recorded notifications replay with identical payloads and decode again
	//
	// TEST SCENARIO: three events recorded → read back in order → battery reading decodes to the recorded level

	path := filepath.Join(t.TempDir(), "session.myo")
	rec, err := recorder.NewFileRecorder(path)
	require.NoError(t, err)

	for _, ev := range events() {
		require.NoError(t, rec.Write(recorder.NewRecord("S1", ev)))
	}
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close(), "Close MUST be idempotent")
	assert.ErrorIs(t, rec.Write(recorder.Record{}), recorder.ErrClosed)

	r, err := recorder.NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	records := readAll(t, r)
	require.Len(t, records, 3)
	assert.Equal(t, "S1", records[0].Session)
	assert.True(t, start.Equal(records[0].Time), "time MUST keep nanosecond precision")
	assert.Equal(t, protocol.EmgRaw0, records[1].Endpoint)
	assert.Equal(t, protocol.EmgRaw0Handle, records[1].Handle)
	assert.Less(t, records[0].ID, records[2].ID, "IDs MUST sort in recording order")

	reading, err := records[2].Reading()
	require.NoError(t, err)
	assert.Equal(t, &protocol.BatteryReading{Level: 79}, reading)
}

func TestFileRecorder_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "append.myo")
	for i := 0; i < 2; i++ {
		rec, err := recorder.NewFileRecorder(path)
		require.NoError(t, err)
		require.NoError(t, rec.Write(recorder.NewRecord("S", events()[0])))
		require.NoError(t, rec.Close())
	}

	r, err := recorder.NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Len(t, readAll(t, r), 2, "reopening MUST append")
}

func TestFileRecorder_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.myo")
	rec, err := recorder.NewFileRecorder(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, ev := range events() {
				assert.NoError(t, rec.Write(recorder.NewRecord("S", ev)))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, rec.Close())

	r, err := recorder.NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Len(t, readAll(t, r), 24, "no record MUST be interleaved or lost")
}

func TestReader_Filter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.myo")
	rec, err := recorder.NewFileRecorder(path)
	require.NoError(t, err)
	for _, ev := range events() {
		require.NoError(t, rec.Write(recorder.NewRecord("S1", ev)))
	}
	require.NoError(t, rec.Write(recorder.NewRecord("S2", events()[0])))
	require.NoError(t, rec.Close())

	t.Run("by endpoint", func(t *testing.T) {
		r, err := recorder.NewFilteredReader(path, recorder.Filter{Endpoints: []protocol.Endpoint{protocol.EmgRaw0}})
		require.NoError(t, err)
		defer r.Close()
		records := readAll(t, r)
		require.Len(t, records, 1)
		assert.Equal(t, protocol.EmgRaw0, records[0].Endpoint)
	})

	t.Run("by session", func(t *testing.T) {
		r, err := recorder.NewFilteredReader(path, recorder.Filter{Session: "S2"})
		require.NoError(t, err)
		defer r.Close()
		assert.Len(t, readAll(t, r), 1)
	})

	t.Run("by time", func(t *testing.T) {
		from := start.Add(time.Millisecond)
		to := start.Add(2 * time.Millisecond)
		r, err := recorder.NewFilteredReader(path, recorder.Filter{Session: "S1", TimeStart: &from, TimeEnd: &to})
		require.NoError(t, err)
		defer r.Close()
		records := readAll(t, r)
		require.Len(t, records, 1, "start MUST be inclusive, end exclusive")
		assert.Equal(t, protocol.EmgRaw0, records[0].Endpoint)
	})
}

func TestSQLiteStore(t *testing.T) {
	// GOAL: Verify records survive a round trip through SQLite and are listed per session
	//
	// TEST SCENARIO: two sessions inserted → ListBySession returns only that session, in order

	store, err := recorder.NewSQLiteStore(filepath.Join(t.TempDir(), "readings.db"))
	require.NoError(t, err)
	defer store.Close()

	for _, ev := range events() {
		require.NoError(t, store.Write(recorder.NewRecord("S1", ev)))
	}
	require.NoError(t, store.Write(recorder.NewRecord("S2", events()[1])))

	ctx := context.Background()
	records, err := store.ListBySession(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, protocol.Battery, records[0].Endpoint)
	assert.Equal(t, protocol.BatteryHandle, records[0].Handle)
	assert.Equal(t, []byte{80}, records[0].Payload)
	assert.True(t, start.Equal(records[0].Time))

	sessions, err := store.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2"}, sessions)

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Write(recorder.Record{}), recorder.ErrClosed)
}

func TestMultiSink(t *testing.T) {
	dir := t.TempDir()
	file, err := recorder.NewFileRecorder(filepath.Join(dir, "multi.myo"))
	require.NoError(t, err)
	store, err := recorder.NewSQLiteStore(filepath.Join(dir, "multi.db"))
	require.NoError(t, err)

	sink := recorder.NewMultiSink(file, store)
	require.NoError(t, sink.Write(recorder.NewRecord("S", events()[0])))

	records, err := store.ListBySession(context.Background(), "S")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.NoError(t, sink.Close())
}

func TestNewErrorRecord(t *testing.T) {
	now := time.Now()
	rec, ok := recorder.NewErrorRecord("S1", &session.NotificationError{
		Time:    now,
		Handle:  protocol.BatteryHandle,
		Payload: []byte{0x01, 0x02},
		Err:     errors.New("malformed"),
	})
	require.True(t, ok, "known handles MUST be recordable")
	assert.Equal(t, protocol.Battery, rec.Endpoint)
	assert.Equal(t, []byte{0x01, 0x02}, rec.Payload)

	_, err := rec.Reading()
	assert.Error(t, err, "the recorded payload MUST fail to decode again")

	_, ok = recorder.NewErrorRecord("S1", &session.NotificationError{Time: now, Handle: 0x7f, Payload: []byte{0x01}})
	assert.False(t, ok, "unknown handles MUST NOT be recorded")
}
