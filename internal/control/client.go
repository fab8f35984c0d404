package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNotRunning means nothing is listening on the socket
var ErrNotRunning = errors.New("triage loop is not running")

// Client sends control commands to a running loop
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new control client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    10 * time.Second,
	}
}

// SetTimeout sets the client timeout for commands
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SendCommand sends a command and waits for the reply. A rejected command
// is returned as an error carrying the server's message.
func (c *Client) SendCommand(cmd Command) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if !resp.Success {
		return &resp, errors.New(resp.Error)
	}
	return &resp, nil
}

// Pause stops scheduled ticks
func (c *Client) Pause(reason string) (*Response, error) {
	return c.SendCommand(Command{Type: CommandPause, Reason: reason, Timestamp: time.Now()})
}

// Resume re-enables scheduled ticks
func (c *Client) Resume() (*Response, error) {
	return c.SendCommand(Command{Type: CommandResume, Timestamp: time.Now()})
}

// Trigger requests a tick now
func (c *Client) Trigger() (*Response, error) {
	return c.SendCommand(Command{Type: CommandTrigger, Timestamp: time.Now()})
}

// Status decodes the loop's status into v
func (c *Client) Status(v any) error {
	resp, err := c.SendCommand(Command{Type: CommandStatus, Timestamp: time.Now()})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Data, v); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}
	return nil
}
