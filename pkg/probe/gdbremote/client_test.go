package gdbremote

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers m/M packets from an in-memory byte map.
type fakeServer struct {
	mu       sync.Mutex
	mem      map[uint64]byte
	commands []string

	// corruptNext sends one reply with a bad checksum before the real one.
	corruptNext bool
	// rejectNext nacks the next packet once.
	rejectNext bool
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		cmd, err := readPacket(r)
		if err != nil {
			return
		}
		s.mu.Lock()
		reject := s.rejectNext
		s.rejectNext = false
		s.mu.Unlock()
		if reject {
			if _, err := conn.Write([]byte{'-'}); err != nil {
				return
			}
			continue
		}
		if _, err := conn.Write([]byte{'+'}); err != nil {
			return
		}

		reply := s.handle(cmd)

		s.mu.Lock()
		corrupt := s.corruptNext
		s.corruptNext = false
		s.mu.Unlock()
		for {
			if corrupt {
				fmt.Fprintf(conn, "$%s#00", reply)
			} else if err := writePacket(conn, reply); err != nil {
				return
			}
			ack, err := r.ReadByte()
			if err != nil {
				return
			}
			if ack == '+' {
				break
			}
			corrupt = false
		}
	}
}

func (s *fakeServer) handle(cmd string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)

	switch {
	case cmd == "D":
		return "OK"
	case strings.HasPrefix(cmd, "m"):
		addr, n := parseRange(cmd[1:])
		if addr >= 0xE0000000 {
			return "E14"
		}
		out := make([]byte, n)
		for i := range out {
			out[i] = s.mem[addr+uint64(i)]
		}
		return hex.EncodeToString(out)
	case strings.HasPrefix(cmd, "M"):
		head, data, _ := strings.Cut(cmd[1:], ":")
		addr, _ := parseRange(head)
		b, _ := hex.DecodeString(data)
		for i, v := range b {
			s.mem[addr+uint64(i)] = v
		}
		return "OK"
	default:
		return ""
	}
}

func parseRange(s string) (uint64, int) {
	a, l, _ := strings.Cut(s, ",")
	addr, _ := strconv.ParseUint(a, 16, 64)
	n, _ := strconv.ParseUint(l, 16, 32)
	return addr, int(n)
}

func newPair(t *testing.T, config Config) (*Client, *fakeServer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	srv := &fakeServer{mem: make(map[uint64]byte)}
	go srv.serve(serverConn)
	config.Timeout = time.Second
	c := NewClient(clientConn, config)
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func TestReadWriteMemory(t *testing.T) {
	c, srv := newPair(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.WriteMemory(ctx, 0x20000000, []byte{0x15, 0, 0, 0}))
	p := make([]byte, 4)
	require.NoError(t, c.ReadMemory(ctx, 0x20000000, p))
	assert.Equal(t, []byte{0x15, 0, 0, 0}, p)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"M20000000,4:15000000", "m20000000,4"}, srv.commands)
}

func TestChunking(t *testing.T) {
	c, srv := newPair(t, Config{MaxChunk: 3})
	ctx := context.Background()

	data := []byte{1, 2, 3, 4, 5, 6, 7}
	require.NoError(t, c.WriteMemory(ctx, 0x100, data))
	p := make([]byte, len(data))
	require.NoError(t, c.ReadMemory(ctx, 0x100, p))
	assert.Equal(t, data, p)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Len(t, srv.commands, 6)
	assert.Equal(t, "m106,1", srv.commands[5])
}

func TestErrorReply(t *testing.T) {
	c, _ := newPair(t, Config{})
	err := c.ReadMemory(context.Background(), 0xE000ED00, make([]byte, 4))
	var re *ReplyError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 0x14, re.Code)
	assert.Equal(t, "me000ed00,4", re.Command)
}

func TestRetransmission(t *testing.T) {
	c, srv := newPair(t, Config{})
	ctx := context.Background()

	srv.mu.Lock()
	srv.mem[0x10] = 0xAB
	srv.corruptNext = true
	srv.mu.Unlock()
	p := make([]byte, 1)
	require.NoError(t, c.ReadMemory(ctx, 0x10, p))
	assert.Equal(t, byte(0xAB), p[0])

	srv.mu.Lock()
	srv.rejectNext = true
	srv.mu.Unlock()
	require.NoError(t, c.ReadMemory(ctx, 0x10, p))
	assert.Equal(t, byte(0xAB), p[0])
}

func TestTimeout(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	c := NewClient(clientConn, Config{Timeout: 20 * time.Millisecond})
	defer clientConn.Close()

	// Nobody reads the server end, so the write times out.
	err := c.ReadMemory(context.Background(), 0, make([]byte, 1))
	var ne net.Error
	require.True(t, errors.As(err, &ne), "got %v", err)
	assert.True(t, ne.Timeout())
}

func TestCanceledContext(t *testing.T) {
	c, _ := newPair(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.ReadMemory(ctx, 0, make([]byte, 1)), context.Canceled)
}

func TestPacketDecode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"OK", "OK"},
		{"0* ", "0000"},
		{"a}]b", "a}b"},
		{"}\x03", "#"},
	}
	for _, tt := range tests {
		got, err := decode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := decode("*a")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = decode("ab}")
	assert.ErrorIs(t, err, ErrMalformed)

	assert.Equal(t, "}\x03}\x04", escape("#$"))
}

func TestReadPacket(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("+$OK#9a"))
	got, err := readPacket(r)
	require.NoError(t, err)
	assert.Equal(t, "OK", got)

	r = bufio.NewReader(strings.NewReader("$OK#00"))
	_, err = readPacket(r)
	assert.ErrorIs(t, err, ErrChecksum)
}
