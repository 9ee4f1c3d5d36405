// Package device talks to the exposure-capable camera: a line-protocol
// client for the wire connection and the worker that serializes access to it.
package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
)

// ErrProtocol marks a malformed response from the device. The connection is
// still usable after a protocol error; callers decide whether to retry the
// command or give up. Transport errors are anything not wrapping this.
var ErrProtocol = errors.New("device: protocol error")

// ErrNotConnected is returned by commands issued before Connect or after Close.
var ErrNotConnected = errors.New("device: not connected")

// Client is a persistent line-protocol connection to the camera. Every
// command performs exactly one write of a newline-terminated request followed
// by exactly one response-line read; the protocol has no pipelining and no
// unsolicited pushes.
//
// A Client must not be used for overlapping commands. The camera worker's
// receive loop provides that serialization; nothing else should hold one.
type Client struct {
	host string
	port int

	conn   net.Conn
	reader *bufio.Reader
}

// NewClient returns an unconnected client for the camera at host:port.
func NewClient(host string, port int) *Client {
	return &Client{host: host, port: port}
}

// Connect opens the connection. It must complete before any command is used.
func (c *Client) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("device: connect %s: %w", addr, err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)

	slog.Info("camera connection established", "addr", addr)
	return nil
}

// Close shuts the connection down. Subsequent commands fail with
// ErrNotConnected. Safe to call on a never-connected client.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil

	slog.Info("camera connection closed", "host", c.host, "port", c.port)
	if err != nil {
		return fmt.Errorf("device: close: %w", err)
	}
	return nil
}

// StartExposure instructs the camera to begin an exposure.
func (c *Client) StartExposure() error {
	_, err := c.roundTrip("start_exposure")
	return err
}

// StopExposure instructs the camera to end the current exposure.
func (c *Client) StopExposure() error {
	_, err := c.roundTrip("stop_exposure")
	return err
}

// State queries the camera's own notion of its state: "idle", "exposing", or
// "unknown".
func (c *Client) State() (string, error) {
	return c.roundTrip("get_state")
}

// ExposingTime queries the elapsed exposure time in seconds. A non-numeric
// response is a protocol error wrapping ErrProtocol.
func (c *Client) ExposingTime() (float64, error) {
	line, err := c.roundTrip("get_exposing_time")
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: get_exposing_time reply %q is not a number", ErrProtocol, line)
	}
	return seconds, nil
}

// roundTrip writes one command line and reads one response line, trimmed of
// surrounding whitespace.
func (c *Client) roundTrip(command string) (string, error) {
	if c.conn == nil {
		return "", fmt.Errorf("%w: %s", ErrNotConnected, command)
	}

	if _, err := fmt.Fprintf(c.conn, "%s\n", command); err != nil {
		return "", fmt.Errorf("device: write %s: %w", command, err)
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("device: read %s response: %w", command, err)
	}

	response := strings.TrimSpace(line)
	slog.Debug("camera round trip", "command", command, "response", response)
	return response, nil
}
