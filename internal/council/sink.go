package council

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Placeholder stands in for a member whose sink is missing or empty.
const Placeholder = "[no output captured]"

// Sink is the per-member output file. It keeps the first maxLines lines, up
// to maxBytes bytes, and counts the rest. Writes never fail from the writer's
// point of view so a chatty agent is never blocked or killed by its own output.
type Sink struct {
	mu           sync.Mutex
	path         string
	file         *os.File
	buf          *bufio.Writer
	maxLines     int
	maxBytes     int
	lines        int
	written      int
	dropped      int
	droppedBytes int
	byteLimited  bool
	pending      bool
	err          error
	closed       bool
}

func newSink(path string, maxLines, maxBytes int) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("council: open sink: %w", err)
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxCapturedLines
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCapturedBytes
	}
	return &Sink{path: path, file: f, buf: bufio.NewWriter(f), maxLines: maxLines, maxBytes: maxBytes}, nil
}

// Path returns the backing file.
func (s *Sink) Path() string {
	return s.path
}

func (s *Sink) Write(p []byte) (int, error) {
	n := len(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return n, nil
	}
	for len(p) > 0 {
		if s.lines >= s.maxLines {
			s.drop(p)
			break
		}
		room := s.maxBytes - s.written
		if room <= 0 {
			s.byteLimited = true
			s.drop(p)
			break
		}
		line := p
		if i := bytes.IndexByte(p, '\n'); i >= 0 {
			line = p[:i+1]
		}
		if len(line) > room {
			s.write(line[:room])
			s.byteLimited = true
			s.drop(p[room:])
			break
		}
		s.write(line)
		if line[len(line)-1] == '\n' {
			s.lines++
		}
		p = p[len(line):]
	}
	return n, nil
}

func (s *Sink) write(p []byte) {
	s.written += len(p)
	if s.err != nil {
		return
	}
	if _, err := s.buf.Write(p); err != nil {
		s.err = err
	}
}

func (s *Sink) drop(p []byte) {
	s.droppedBytes += len(p)
	s.dropped += bytes.Count(p, []byte{'\n'})
	s.pending = p[len(p)-1] != '\n'
}

// Dropped is the number of lines discarded past the cap.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.dropped
	if s.pending {
		n++
	}
	return n
}

// DroppedBytes is the number of bytes discarded past either cap.
func (s *Sink) DroppedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedBytes
}

// Flush pushes buffered bytes to the file.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Sink) flushLocked() error {
	if s.closed {
		return s.err
	}
	if err := s.buf.Flush(); err != nil && s.err == nil {
		s.err = err
	}
	return s.err
}

// Close flushes and releases the file. It is safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.err
	}
	flushErr := s.flushLocked()
	s.closed = true
	return errors.Join(flushErr, s.file.Close())
}

// Content returns everything captured so far, with a truncation marker when
// output was dropped.
func (s *Sink) Content() (string, error) {
	if err := s.Flush(); err != nil {
		return "", fmt.Errorf("council: sink %s: %w", s.path, err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("council: read sink: %w", err)
	}
	text := string(data)
	s.mu.Lock()
	marker := s.truncationMarker()
	s.mu.Unlock()
	if marker != "" {
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += marker
	}
	return text, nil
}

func (s *Sink) truncationMarker() string {
	if s.droppedBytes == 0 {
		return ""
	}
	if s.byteLimited {
		return fmt.Sprintf("[output truncated: %d more bytes dropped after %d bytes]", s.droppedBytes, s.maxBytes)
	}
	lines := s.dropped
	if s.pending {
		lines++
	}
	return fmt.Sprintf("[output truncated: %d more lines dropped after %d]", lines, s.maxLines)
}
