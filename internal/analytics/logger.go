// Package analytics writes one NDJSON line per processed event.
package analytics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
)

const globalFile = "events.ndjson"

// Config configures the analytics logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
	// Global also appends every record to Dir/events.ndjson.
	Global bool
}

// Record is one analytics line.
type Record struct {
	Timestamp      string           `json:"timestamp"`
	UserID         string           `json:"user_id"`
	EventID        string           `json:"event_id"`
	EventType      domain.EventType `json:"event_type"`
	Topic          string           `json:"topic"`
	Action         domain.Action    `json:"action"`
	Reason         domain.Reason    `json:"reason,omitempty"`
	InterventionID string           `json:"intervention_id,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// Logger receives analytics records. Log must not block.
type Logger interface {
	Log(rec Record)
	Track(ev domain.Event, res domain.Result)
	Dropped() int64
	Close() error
}

type noopLogger struct{}

func (noopLogger) Log(Record)                        {}
func (noopLogger) Track(domain.Event, domain.Result) {}
func (noopLogger) Dropped() int64                    { return 0 }
func (noopLogger) Close() error                      { return nil }

// FileLogger writes records asynchronously to Dir/<user>.ndjson.
type FileLogger struct {
	dir     string
	global  bool
	queue   chan Record
	done    chan struct{}
	dropped atomic.Int64
	logger  *slog.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// New creates a logger. A disabled config yields a no-op logger.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return noopLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("analytics log dir is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create analytics log dir: %w", err)
	}

	l := &FileLogger{
		dir:    cfg.Dir,
		global: cfg.Global,
		queue:  make(chan Record, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l, nil
}

// Track builds a record from a processed event.
func (l *FileLogger) Track(ev domain.Event, res domain.Result) {
	l.Log(Record{
		Timestamp:      res.Timestamp.UTC().Format(time.RFC3339Nano),
		UserID:         ev.UserID,
		EventID:        ev.ID,
		EventType:      ev.Type,
		Topic:          ev.Topic,
		Action:         res.Action,
		Reason:         res.Reason,
		InterventionID: res.InterventionID,
		Error:          res.Error,
	})
}

// Log enqueues a record, dropping it when the queue is full.
func (l *FileLogger) Log(rec Record) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.queue <- rec:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("Analytics queue full, dropping records", "dropped_total", n)
		}
	}
}

// Dropped returns how many records were dropped.
func (l *FileLogger) Dropped() int64 { return l.dropped.Load() }

// Close drains queued records and closes all files.
func (l *FileLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	<-l.done
	return nil
}

type sink struct {
	f *os.File
	w *bufio.Writer
}

func (l *FileLogger) run() {
	defer close(l.done)
	sinks := make(map[string]*sink)
	defer func() {
		for path, s := range sinks {
			if err := s.w.Flush(); err != nil {
				l.logger.Warn("failed to flush analytics log", "path", path, "error", err)
			}
			if err := s.f.Close(); err != nil {
				l.logger.Warn("failed to close analytics log", "path", path, "error", err)
			}
		}
	}()

	for rec := range l.queue {
		line, err := json.Marshal(rec)
		if err != nil {
			l.logger.Warn("failed to marshal analytics record", "error", err)
			continue
		}
		line = append(line, '\n')

		paths := []string{filepath.Join(l.dir, safeName(rec.UserID)+".ndjson")}
		if l.global {
			paths = append(paths, filepath.Join(l.dir, globalFile))
		}
		for _, path := range paths {
			s, ok := sinks[path]
			if !ok {
				f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
				if err != nil {
					l.logger.Warn("failed to open analytics log", "path", path, "error", err)
					continue
				}
				s = &sink{f: f, w: bufio.NewWriter(f)}
				sinks[path] = s
			}
			if _, err := s.w.Write(line); err != nil {
				l.logger.Warn("failed to write analytics record", "path", path, "error", err)
				continue
			}
			// Flush when the queue is idle so tail -f stays current.
			if len(l.queue) == 0 {
				_ = s.w.Flush()
			}
		}
	}
}

// safeName maps a user ID to a file name without path separators.
func safeName(userID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, userID)
	name = strings.Trim(name, ".")
	if name == "" {
		return "_"
	}
	return name
}
