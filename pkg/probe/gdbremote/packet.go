package gdbremote

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Packet errors.
var (
	// ErrChecksum indicates a packet whose checksum does not match.
	ErrChecksum = errors.New("packet checksum mismatch")

	// ErrMalformed indicates bytes that do not form a packet.
	ErrMalformed = errors.New("malformed packet")
)

func checksum(s string) byte {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return sum
}

// escape applies the binary escape to the characters with protocol meaning.
func escape(data string) string {
	if !strings.ContainsAny(data, "#$}*") {
		return data
	}
	var b strings.Builder
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch c {
		case '#', '$', '}', '*':
			b.WriteByte('}')
			b.WriteByte(c ^ 0x20)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// writePacket frames data as $data#cs and writes it in one call.
func writePacket(w io.Writer, data string) error {
	body := escape(data)
	_, err := fmt.Fprintf(w, "$%s#%02x", body, checksum(body))
	return err
}

// readPacket reads the next packet, skipping stray bytes before '$', and
// returns its decoded payload.
func readPacket(r *bufio.Reader) (string, error) {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if c == '$' {
			break
		}
	}
	body, err := r.ReadString('#')
	if err != nil {
		return "", err
	}
	body = body[:len(body)-1]

	var cs [2]byte
	if _, err := io.ReadFull(r, cs[:]); err != nil {
		return "", err
	}
	want, err := strconv.ParseUint(string(cs[:]), 16, 8)
	if err != nil {
		return "", fmt.Errorf("%w: checksum %q", ErrMalformed, cs[:])
	}
	if byte(want) != checksum(body) {
		return "", fmt.Errorf("%w: got %02x want %02x", ErrChecksum, checksum(body), want)
	}
	return decode(body)
}

// decode undoes binary escapes and run-length encoding.
func decode(body string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch c {
		case '}':
			if i+1 >= len(body) {
				return "", fmt.Errorf("%w: dangling escape", ErrMalformed)
			}
			i++
			b.WriteByte(body[i] ^ 0x20)
		case '*':
			if i+1 >= len(body) || b.Len() == 0 {
				return "", fmt.Errorf("%w: bad run length", ErrMalformed)
			}
			i++
			n := int(body[i]) - 29
			if n < 0 {
				return "", fmt.Errorf("%w: bad run length", ErrMalformed)
			}
			prev := b.String()[b.Len()-1]
			for j := 0; j < n; j++ {
				b.WriteByte(prev)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}
