package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/groutine"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/ringchan"
)

// Event is one decoded notification.
type Event struct {
	Time     time.Time         `json:"time"`
	Handle   protocol.Handle   `json:"handle"`
	Endpoint protocol.Endpoint `json:"endpoint"`
	Payload  []byte            `json:"-"`
	Reading  protocol.Reading  `json:"reading"`
}

// NotificationError is a notification that could not be decoded. The stream
// keeps running after one.
type NotificationError struct {
	Time    time.Time
	Handle  protocol.Handle
	Payload []byte
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification %s: %v", e.Handle, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// StreamMetrics counts stream traffic.
type StreamMetrics struct {
	Queues        ringchan.Metrics `json:"queues"`
	Readings      int64            `json:"readings"`
	DecodeErrors  int64            `json:"decode_errors"`
	DroppedErrors int64            `json:"dropped_errors"`
}

type notification struct {
	at   time.Time
	data []byte
}

// Stream forwards decoded notifications in arrival order per handle. There is
// no ordering between different handles.
type Stream struct {
	session *Session
	logger  *logrus.Entry
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex // guards closed and err; held for reading while dispatching
	closed bool
	err    error

	queueSize int
	queues    *hashmap.Map[protocol.Handle, *ringchan.RingChannel[notification]]
	workers   groutine.Group

	readings chan Event
	errs     chan error
	done     chan struct{}

	readingCount  atomic.Int64
	decodeErrors  atomic.Int64
	droppedErrors atomic.Int64
}

func newStream(s *Session, queueSize int) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	st := &Stream{
		session:   s,
		logger:    s.log(),
		ctx:       ctx,
		cancel:    cancel,
		queueSize: queueSize,
		queues:    hashmap.New[protocol.Handle, *ringchan.RingChannel[notification]](),
		readings:  make(chan Event, queueSize),
		errs:      make(chan error, queueSize),
		done:      make(chan struct{}),
	}
	st.workers.OnPanic = func(name string, err error) {
		st.logger.WithField("worker", name).WithError(err).Error("Stream worker crashed")
		st.reportError(err)
	}
	return st
}

// Readings delivers decoded notifications. It is closed when the stream ends.
func (st *Stream) Readings() <-chan Event {
	return st.readings
}

// Errors delivers *NotificationError values. It is closed when the stream
// ends. Errors are dropped, and counted, when nobody drains the channel.
func (st *Stream) Errors() <-chan error {
	return st.errs
}

// Done is closed once the stream has fully stopped.
func (st *Stream) Done() <-chan struct{} {
	return st.done
}

// Err returns why the stream ended: nil for Close, ErrConnectionLost or a
// transport error otherwise. Valid after Done is closed.
func (st *Stream) Err() error {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.err
}

// Close stops the stream and returns the session to Configured. Idempotent.
func (st *Stream) Close() error {
	st.shutdown(nil)
	st.session.streamClosed(st)
	return nil
}

// Metrics returns a snapshot of the stream counters.
func (st *Stream) Metrics() StreamMetrics {
	m := StreamMetrics{
		Readings:      st.readingCount.Load(),
		DecodeErrors:  st.decodeErrors.Load(),
		DroppedErrors: st.droppedErrors.Load(),
	}
	st.queues.Range(func(_ protocol.Handle, q *ringchan.RingChannel[notification]) bool {
		m.Queues.Add(q.Metrics())
		return true
	})
	return m
}

// dispatch queues one notification on its handle's worker, starting the
// worker on first use. It never blocks the transport.
func (st *Stream) dispatch(h protocol.Handle, data []byte) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		return
	}

	q, ok := st.queues.Get(h)
	if !ok {
		var loaded bool
		q, loaded = st.queues.GetOrInsert(h, ringchan.New[notification](st.queueSize))
		if !loaded {
			st.workers.Go(st.ctx, fmt.Sprintf("endpoint-%s", h), func(ctx context.Context) {
				st.work(ctx, h, q)
			})
		}
	}

	if q.Send(notification{at: time.Now(), data: data}) {
		st.logger.WithField("handle", h.String()).Debug("Queue full, oldest notification dropped")
	}
}

func (st *Stream) work(ctx context.Context, h protocol.Handle, q *ringchan.RingChannel[notification]) {
	for {
		n, ok := q.Receive()
		if !ok {
			return
		}

		reading, err := protocol.DecodeHandle(h, n.data)
		if err != nil {
			st.decodeErrors.Add(1)
			st.logger.WithFields(logrus.Fields{
				"worker":  groutine.GetName(ctx),
				"handle":  h.String(),
				"payload": fmt.Sprintf("%x", n.data),
			}).WithError(err).Debug("Notification discarded")
			st.reportError(&NotificationError{Time: n.at, Handle: h, Payload: n.data, Err: err})
			continue
		}

		ev := Event{
			Time:     n.at,
			Handle:   h,
			Endpoint: reading.Endpoint(),
			Payload:  n.data,
			Reading:  reading,
		}
		select {
		case st.readings <- ev:
			st.readingCount.Add(1)
		case <-ctx.Done():
			return
		}
	}
}

func (st *Stream) reportError(err error) {
	select {
	case st.errs <- err:
	default:
		st.droppedErrors.Add(1)
	}
}

// shutdown stops the workers and closes the output channels. Idempotent.
func (st *Stream) shutdown(cause error) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	st.err = cause
	st.mu.Unlock()

	st.cancel()
	st.queues.Range(func(_ protocol.Handle, q *ringchan.RingChannel[notification]) bool {
		q.Close()
		return true
	})
	st.workers.Wait()

	close(st.readings)
	close(st.errs)
	close(st.done)

	entry := st.logger.WithField("readings", st.readingCount.Load())
	if cause != nil {
		entry.WithError(cause).Warn("Stream ended")
	} else {
		entry.Debug("Stream closed")
	}
}
