package capture

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileExt is the conventional capture file extension.
const FileExt = ".pplog"

// FileSink writes events to a capture file in CBOR format.
// It is safe for concurrent use from multiple goroutines.
type FileSink struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	errors  int
}

// NewFileSink creates a FileSink writing to path. Events are appended to an
// existing file.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Emit writes an event to the file. Encoding failures are counted, not
// returned, so a full disk never stops the session.
func (s *FileSink) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if err := s.encoder.Encode(event); err != nil {
		s.errors++
	}
}

// Errors returns the number of events that failed to encode.
func (s *FileSink) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// Close closes the file. It is safe to call more than once; later Emit
// calls are ignored.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

var _ Sink = (*FileSink)(nil)
