// Package audit records tool-execution bookkeeping as JSON lines. Writes are
// buffered and asynchronous; when the buffer is full records are dropped and
// counted rather than blocking a turn.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/tools"
)

// Config controls the audit sink.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Output is "stdout", "stderr", or "file:<path>".
	Output string `yaml:"output"`

	// BufferSize is the channel capacity before records are dropped.
	// Default: 1000
	BufferSize int `yaml:"buffer_size"`
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Output:     "stdout",
		BufferSize: 1000,
	}
}

// Sink implements tools.AuditSink with an async buffered writer.
type Sink struct {
	config  Config
	output  io.WriteCloser
	logger  *slog.Logger
	buffer  chan tools.AuditRecord
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// NewSink opens the configured output and starts the writer goroutine.
func NewSink(config Config, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !config.Enabled {
		return &Sink{config: config}, nil
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}

	s := &Sink{
		config: config,
		output: output,
		logger: logger.With("component", "audit"),
		buffer: make(chan tools.AuditRecord, config.BufferSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// Record implements tools.AuditSink. Never blocks: records beyond the buffer
// capacity are dropped and counted.
func (s *Sink) Record(rec tools.AuditRecord) {
	if !s.config.Enabled {
		return
	}
	select {
	case s.buffer <- rec:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns the number of records lost to buffer overflow.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close drains buffered records and closes the output.
func (s *Sink) Close() error {
	if !s.config.Enabled {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	if s.output != os.Stdout && s.output != os.Stderr {
		return s.output.Close()
	}
	return nil
}

func (s *Sink) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case rec := <-s.buffer:
			s.write(rec)
		case <-s.done:
			// Drain what's left before exiting.
			for {
				select {
				case rec := <-s.buffer:
					s.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(rec tools.AuditRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("failed to marshal audit record", "tool", rec.Tool, "error", err)
		return
	}
	line = append(line, '\n')
	if _, err := s.output.Write(line); err != nil {
		s.logger.Warn("failed to write audit record", "tool", rec.Tool, "error", err)
	}
}
