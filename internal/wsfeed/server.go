// Package wsfeed broadcasts stream events to WebSocket clients.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/session"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Path is where clients connect.
const Path = "/readings"

// Frame types.
const (
	FrameReading = "reading"
	FrameError   = "error"
)

// Frame is one JSON message sent to clients.
type Frame struct {
	Type    string         `json:"type"`
	Session string         `json:"session,omitempty"`
	Event   *session.Event `json:"event,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type client struct {
	id        uint64
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// close aborts any pending write and ends the client's write loop.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// Server fans frames out to every connected client. A client whose queue
// fills up is disconnected; the producer never waits for it.
type Server struct {
	logger    *logrus.Logger
	addr      string
	sessionID string
	queueSize int

	clients *hashmap.Map[uint64, *client]
	nextID  atomic.Uint64

	httpSrv   *http.Server
	boundAddr atomic.Value
	ready     chan struct{}
	dropped   atomic.Int64
}

// NewServer creates a server listening on addr once started. sessionID is
// stamped on every frame.
func NewServer(addr, sessionID string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		logger:    logger,
		addr:      addr,
		sessionID: sessionID,
		queueSize: 64,
		clients:   hashmap.New[uint64, *client](),
		ready:     make(chan struct{}),
	}
}

// Handler returns the HTTP handler serving Path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleUpgrade)
	return mux
}

// Start listens and serves until ctx ends or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("feed listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	close(s.ready)

	s.logger.WithField("addr", s.BoundAddr()).Info("Reading feed started")

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("feed serve: %w", err)
	}
	return nil
}

// Ready is closed once Start has bound its listener.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// BoundAddr returns the listening address, empty before Start.
func (s *Server) BoundAddr() string {
	v, _ := s.boundAddr.Load().(string)
	return v
}

// Stop disconnects all clients and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.clients.Range(func(id uint64, c *client) bool {
		c.close()
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Del(id)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	return s.clients.Len()
}

// Dropped returns how many clients were disconnected for falling behind.
func (s *Server) Dropped() int64 {
	return s.dropped.Load()
}

// Publish sends a reading to every client.
func (s *Server) Publish(ev session.Event) {
	s.broadcast(Frame{Type: FrameReading, Session: s.sessionID, Event: &ev})
}

// PublishError sends a decode error to every client.
func (s *Server) PublishError(err error) {
	s.broadcast(Frame{Type: FrameError, Session: s.sessionID, Error: err.Error()})
}

func (s *Server) broadcast(f Frame) {
	s.clients.Range(func(_ uint64, c *client) bool {
		select {
		case c.sendCh <- f:
		default:
			s.dropped.Add(1)
			s.logger.WithField("client", c.id).Warn("Feed client too slow, disconnecting")
			c.close()
		}
		return true
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket accept failed")
		return
	}

	// Clients only listen; CloseRead handles their control frames.
	ctx, cancel := context.WithCancel(ws.CloseRead(r.Context()))
	c := &client{
		id:     s.nextID.Add(1),
		ws:     ws,
		sendCh: make(chan Frame, s.queueSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	s.clients.Set(c.id, c)
	log := s.logger.WithFields(logrus.Fields{"client": c.id, "remote": r.RemoteAddr})
	log.Info("Feed client connected")

	status, reason := s.writeLoop(ctx, c)

	c.close()
	s.clients.Del(c.id)
	_ = ws.Close(status, reason)
	log.Info("Feed client disconnected")
}

func (s *Server) writeLoop(ctx context.Context, c *client) (websocket.StatusCode, string) {
	for {
		select {
		case <-c.done:
			return websocket.StatusPolicyViolation, "client too slow"
		case <-ctx.Done():
			return websocket.StatusNormalClosure, ""
		case f := <-c.sendCh:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, c.ws, f)
			cancel()
			if err != nil {
				return websocket.StatusInternalError, "write failed"
			}
		}
	}
}
