// Package gdbremote implements probe.Memory over the GDB remote serial
// protocol, as served by OpenOCD, probe-rs, pyOCD and J-Link GDB servers.
package gdbremote

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/probeplot/probeplot-go/pkg/probe"
)

// Client errors.
var (
	// ErrUnsupported indicates the server replied with an empty packet.
	ErrUnsupported = errors.New("command not supported by server")

	// ErrNoAck indicates the server rejected a packet repeatedly.
	ErrNoAck = errors.New("packet not acknowledged")
)

// ReplyError is an "Exx" error reply.
type ReplyError struct {
	Command string
	Code    int
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("gdb server error E%02x for %s", e.Code, e.Command)
}

// Config configures a Client.
type Config struct {
	// Timeout bounds a single command when ctx has no deadline. Default 2s.
	Timeout time.Duration

	// DialTimeout bounds connection setup. Default 5s.
	DialTimeout time.Duration

	// MaxChunk bounds the bytes moved by one memory command. Default 1024.
	MaxChunk int

	// Retries is the number of times a rejected packet is resent. Default 3.
	Retries int

	// Logger receives protocol debug messages. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:     2 * time.Second,
		DialTimeout: 5 * time.Second,
		MaxChunk:    1024,
		Retries:     3,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.MaxChunk <= 0 {
		c.MaxChunk = d.MaxChunk
	}
	if c.Retries <= 0 {
		c.Retries = d.Retries
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Client is a GDB remote protocol memory client. Commands are serialized.
type Client struct {
	conn   net.Conn
	r      *bufio.Reader
	config Config
	logger *slog.Logger

	mu        sync.Mutex
	closeOnce sync.Once
}

// Dial connects to a GDB server at address (host:port).
func Dial(ctx context.Context, address string, config Config) (*Client, error) {
	config.applyDefaults()
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial gdb server: %w", err)
	}
	return NewClient(conn, config), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, config Config) *Client {
	config.applyDefaults()
	return &Client{
		conn:   conn,
		r:      bufio.NewReader(conn),
		config: config,
		logger: config.Logger,
	}
}

// ReadMemory implements probe.Memory with "m addr,length" commands.
func (c *Client) ReadMemory(ctx context.Context, addr uint64, p []byte) error {
	for off := 0; off < len(p); off += c.config.MaxChunk {
		n := min(c.config.MaxChunk, len(p)-off)
		cmd := fmt.Sprintf("m%x,%x", addr+uint64(off), n)
		reply, err := c.exchange(ctx, cmd)
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(reply)
		if err != nil {
			return fmt.Errorf("%s: %w: %v", cmd, ErrMalformed, err)
		}
		if len(data) != n {
			return fmt.Errorf("%s: short read %d of %d bytes", cmd, len(data), n)
		}
		copy(p[off:], data)
	}
	return nil
}

// WriteMemory implements probe.Memory with "M addr,length:data" commands.
func (c *Client) WriteMemory(ctx context.Context, addr uint64, p []byte) error {
	for off := 0; off < len(p); off += c.config.MaxChunk {
		n := min(c.config.MaxChunk, len(p)-off)
		cmd := fmt.Sprintf("M%x,%x:%s", addr+uint64(off), n, hex.EncodeToString(p[off:off+n]))
		reply, err := c.exchange(ctx, cmd)
		if err != nil {
			return err
		}
		if reply != "OK" {
			return fmt.Errorf("M%x,%x: unexpected reply %q", addr+uint64(off), n, reply)
		}
	}
	return nil
}

// Close detaches from the server and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.SetDeadline(time.Now().Add(c.config.Timeout))
		if werr := writePacket(c.conn, "D"); werr == nil {
			// The detach reply is best effort.
			_, _ = c.r.ReadByte()
		}
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// exchange sends cmd and returns the reply payload.
func (c *Client) exchange(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	if err := c.send(cmd); err != nil {
		return "", err
	}

	var reply string
	for attempt := 0; ; attempt++ {
		var err error
		reply, err = readPacket(c.r)
		if errors.Is(err, ErrChecksum) && attempt < c.config.Retries {
			c.logger.Debug("gdb reply checksum mismatch", slog.String("cmd", cmd))
			if _, err := c.conn.Write([]byte{'-'}); err != nil {
				return "", err
			}
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%s: read reply: %w", verb(cmd), err)
		}
		break
	}
	if _, err := c.conn.Write([]byte{'+'}); err != nil {
		return "", err
	}

	switch {
	case reply == "":
		return "", fmt.Errorf("%s: %w", verb(cmd), ErrUnsupported)
	case len(reply) == 3 && reply[0] == 'E':
		code, err := strconv.ParseUint(reply[1:], 16, 8)
		if err == nil {
			return "", &ReplyError{Command: verb(cmd), Code: int(code)}
		}
	}
	return reply, nil
}

// send writes cmd until the server acknowledges it.
func (c *Client) send(cmd string) error {
	for attempt := 0; attempt <= c.config.Retries; attempt++ {
		if err := writePacket(c.conn, cmd); err != nil {
			return fmt.Errorf("%s: write: %w", verb(cmd), err)
		}
		ack, err := c.r.ReadByte()
		if err != nil {
			return fmt.Errorf("%s: read ack: %w", verb(cmd), err)
		}
		switch ack {
		case '+':
			return nil
		case '-':
			c.logger.Debug("gdb packet rejected", slog.String("cmd", verb(cmd)), slog.Int("attempt", attempt))
		default:
			return fmt.Errorf("%s: %w: unexpected ack %q", verb(cmd), ErrMalformed, ack)
		}
	}
	return fmt.Errorf("%s: %w", verb(cmd), ErrNoAck)
}

// verb trims the data part of a memory write for error messages.
func verb(cmd string) string {
	if i := strings.IndexByte(cmd, ':'); i >= 0 {
		return cmd[:i]
	}
	return cmd
}

var _ probe.Memory = (*Client)(nil)
