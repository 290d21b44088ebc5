package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ValentinKolb/dSearch/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("server")

// maxRequestBytes bounds the request line
const maxRequestBytes = 64 * 1024

// Server is a storage node answering author lookups over TCP
type Server struct {
	config  common.ServerConfig
	node    *Node
	dedup   *suppressor
	metrics *serverMetrics

	// lookup resolves an author, node.Lookup outside of tests
	lookup func(author string) ([]byte, error)

	mu        sync.Mutex
	listener  net.Listener
	listenErr error
	ready     chan struct{}
	readyOnce sync.Once
}

// NewServer validates the configuration and loads the primary indexes of the data directory.
//
// Usage:
//
//	s, err := server.NewServer(config)
//	if err != nil {
//		return err
//	}
//	return s.Serve(ctx)
func NewServer(config common.ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	node, err := OpenNode(config.DataDir)
	if err != nil {
		return nil, err
	}

	dedup := newSuppressor(config.DedupWindow)
	return &Server{
		config:  config,
		node:    node,
		dedup:   dedup,
		metrics: newServerMetrics(node, dedup),
		lookup:  node.Lookup,
		ready:   make(chan struct{}),
	}, nil
}

// Node returns the indexes of the server
func (s *Server) Node() *Node {
	return s.node
}

// WritePrometheus writes the metrics of the server in Prometheus text format
func (s *Server) WritePrometheus(w io.Writer) {
	s.metrics.WritePrometheus(w)
}

// Addr blocks until the server is listening and returns the listen address.
// It returns nil and the listen error if Serve could not listen.
func (s *Server) Addr() (net.Addr, error) {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil, s.listenErr
	}
	return s.listener.Addr(), nil
}

// Serve listens on the configured endpoint and handles connections until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Endpoint)
	if err != nil {
		err = fmt.Errorf("failed to create listener: %w", err)
		s.mu.Lock()
		if s.listener == nil {
			s.listenErr = err
		}
		s.mu.Unlock()
		s.readyOnce.Do(func() { close(s.ready) })
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener handles connections accepted by ln until ctx is cancelled. The
// listener is closed on return, in-flight connections are drained first.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("server is already serving")
	}
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	if s.config.MetricsEndpoint != "" {
		if err := s.metrics.serveMetrics(ctx, s.config.MetricsEndpoint); err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to serve metrics: %w", err)
		}
	}

	Logger.Infof("storage node listening on %s", ln.Addr())
	Logger.Infof("%s", s.config.String())

	// Close the listener on cancellation or return, this ends the accept loop
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = ln.Close()
	}()

	// The buffered channel acts as a counting semaphore
	semaphore := make(chan struct{}, s.config.MaxConns)
	var wg sync.WaitGroup

	defer func() {
		close(done)
		wg.Wait()
		s.node.Close()
		Logger.Infof("storage node on %s stopped", ln.Addr())
	}()

	for {
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			<-semaphore
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			Logger.Errorf("accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		wg.Add(1)
		go func() {
			defer func() {
				<-semaphore
				wg.Done()
			}()
			s.handleConnection(conn)
		}()
	}
}

// --------------------------------------------------------------------------
// Connection handling
// --------------------------------------------------------------------------

// handleConnection answers exactly one request. Panics are recovered here, a
// failing connection never affects the accept loop or other connections.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.panics.Inc()
			Logger.Errorf("panic while handling %s: %v\n%s", conn.RemoteAddr(), r, debug.Stack())
		}
	}()

	timeout := s.config.Timeout()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		Logger.Errorf("failed to set read deadline: %v", err)
		return
	}

	line, err := bufio.NewReader(io.LimitReader(conn, maxRequestBytes)).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		Logger.Debugf("failed to read request from %s: %v", conn.RemoteAddr(), err)
		return
	}

	author, ok := common.ParseRequest([]byte(line))
	if !ok {
		// health probes connect and close without sending anything
		s.metrics.probes.Inc()
		return
	}

	resp, kind := s.answer(author)
	s.metrics.count(kind)

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		Logger.Errorf("failed to set write deadline: %v", err)
		return
	}
	if _, err := conn.Write(resp); err != nil {
		Logger.Warningf("failed to write response to %s: %v", conn.RemoteAddr(), err)
	}
}

// answer computes the response line for author
func (s *Server) answer(author string) ([]byte, common.ResponseKind) {
	if !s.dedup.admit(author) {
		Logger.Debugf("suppressed duplicate query for %q", author)
		return common.NewDuplicateResponse(author), common.RespDuplicate
	}

	start := time.Now()
	line, err := s.lookup(author)
	s.metrics.lookups.UpdateDuration(start)

	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.metrics.failures.Inc()
			Logger.Warningf("failed to fetch record of %q: %v", author, err)
		}
		return common.NewNotFoundResponse(author), common.RespNotFound
	}
	return common.NewRecordResponse(line), common.RespRecord
}
