// Package control serves pause, resume, trigger and status commands to a
// running triage loop over a unix domain socket.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Command types
const (
	CommandPause   = "pause"
	CommandResume  = "resume"
	CommandTrigger = "trigger"
	CommandStatus  = "status"
)

// Command is one request from the CLI
type Command struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is the reply to one command
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Handler executes commands against the running loop
type Handler interface {
	Pause(reason string) error
	Resume() error
	Trigger() error
	// Status returns a JSON-encodable snapshot
	Status() any
}

// Server manages the control socket
type Server struct {
	socketPath string
	handler    Handler
	logger     *slog.Logger

	listener net.Listener
	mu       sync.RWMutex
	running  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewServer creates a control server. A stale socket file left by a crashed
// process is removed; the instance lock guarantees no live owner.
func NewServer(socketPath string, handler Handler, logger *slog.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("control: handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	return &Server{
		socketPath: socketPath,
		handler:    handler,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins listening for control commands
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("control server already running")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create control socket: %w", err)
	}
	s.listener = listener
	s.running = true

	s.logger.Debug("control server listening", "socket", s.socketPath)
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ul := s.listener.(*net.UnixListener)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		// Wake up every second to notice ctx and stop
		if err := ul.SetDeadline(time.Now().Add(time.Second)); err != nil {
			s.logger.Warn("control: failed to set deadline", "err", err)
			return
		}

		conn, err := ul.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("control: accept error", "err", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		s.logger.Warn("control: failed to set connection deadline", "err", err)
		return
	}

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		s.sendResponse(conn, failure(fmt.Errorf("failed to decode command: %w", err)))
		return
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}

	s.logger.Info("control command", "type", cmd.Type, "reason", cmd.Reason)
	s.sendResponse(conn, s.dispatch(cmd))
}

func (s *Server) dispatch(cmd Command) Response {
	var err error
	switch cmd.Type {
	case CommandPause:
		err = s.handler.Pause(cmd.Reason)
	case CommandResume:
		err = s.handler.Resume()
	case CommandTrigger:
		err = s.handler.Trigger()
	case CommandStatus:
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}
	if err != nil {
		return failure(err)
	}

	// Every successful reply carries the resulting status
	data, err := json.Marshal(s.handler.Status())
	if err != nil {
		return failure(fmt.Errorf("failed to encode status: %w", err))
	}
	return Response{
		Success: true,
		Message: fmt.Sprintf("%s ok", cmd.Type),
		Data:    data,
	}
}

func failure(err error) Response {
	return Response{Success: false, Message: err.Error(), Error: err.Error()}
}

func (s *Server) sendResponse(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn("control: failed to send response", "err", err)
	}
}

// Stop closes the socket and waits for the accept loop to exit. It is safe
// to call more than once.
func (s *Server) Stop() error {
	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()
	if listener == nil {
		return nil
	}

	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			s.logger.Warn("control: error closing listener", "err", cerr)
		}

		select {
		case <-s.doneCh:
		case <-time.After(5 * time.Second):
			s.logger.Warn("control: timeout waiting for server shutdown")
		}

		if rerr := os.RemoveAll(s.socketPath); rerr != nil {
			err = fmt.Errorf("failed to remove socket file: %w", rerr)
		}
	})
	return err
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SocketPath returns the path to the control socket
func (s *Server) SocketPath() string {
	return s.socketPath
}
