// Package events implements the framed NDJSON stream protocol for turn output.
package events

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

// Stream is a handle over an open push transport. One stream serves exactly one
// turn: records are written in the order produced, the terminal record is
// followed by the end sentinel, and every call after Close is a no-op.
//
// Stream is safe for concurrent use; writes are serialized by an internal mutex
// so record frames never interleave.
type Stream struct {
	mu           sync.Mutex
	w            io.Writer
	flusher      http.Flusher
	closed       bool
	lastActivity time.Time
}

// Open wraps a writer into a stream handle. If w implements http.Flusher the
// stream flushes after every record so the client receives bytes as produced.
func Open(w io.Writer) *Stream {
	s := &Stream{w: w, lastActivity: time.Now()}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// SendContent emits one content record. Callers are expected to invoke this
// many times per turn with small strings (single tokens or short groups).
func (s *Stream) SendContent(text string) error {
	if text == "" {
		return nil
	}
	return s.SendEvent(models.ContentRecord{Content: text})
}

// SendEvent emits one structured record.
func (s *Stream) SendEvent(payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.writeRecord(payload)
}

// SendError emits one error record.
func (s *Stream) SendError(message string) error {
	return s.SendEvent(models.ErrorRecord{Error: message})
}

// SendErrorCode emits an error record carrying a machine-readable code so
// clients can distinguish rate limiting from other failures.
func (s *Stream) SendErrorCode(message, code string) error {
	return s.SendEvent(models.ErrorRecord{Error: message, Code: code})
}

// Close writes the optional final record followed by the end sentinel and
// seals the stream. Closing twice is harmless: the second and later calls do
// nothing and emit no duplicate terminal record.
func (s *Stream) Close(final any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if final != nil {
		if err := s.writeRecord(final); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(s.w, models.StreamEndSentinel+"\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Closed reports whether the stream has been sealed.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LastActivity returns the time of the most recent write. Idle-timeout
// watchdogs poll this to detect stalled turns.
func (s *Stream) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// writeRecord marshals payload as one newline-delimited frame. Must be called
// with the mutex held.
func (s *Stream) writeRecord(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	s.lastActivity = time.Now()
	s.flush()
	return nil
}

func (s *Stream) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
