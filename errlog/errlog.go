// Package errlog keeps the ordered, append-only history of human-readable
// error messages that a server or client accumulates over its lifetime.
package errlog

import (
	"fmt"
	"sync"

	"github.com/cyberinferno/timewarp/logger"
)

// Log is an append-only list of error messages. Every entry is also written
// to the attached logger at error level. It is safe for concurrent use;
// readers get a copy and never block writers for longer than the copy.
type Log struct {
	mu      sync.RWMutex
	entries []string
	logger  logger.Logger
}

// New creates an empty Log that mirrors entries to l. A nil l discards the
// mirrored output.
func New(l logger.Logger) *Log {
	return &Log{logger: logger.OrNop(l)}
}

// Add appends msg, followed by ": err" when err is non-nil.
//
// Parameters:
//   - msg: Description of what failed
//   - err: The underlying error, may be nil
//   - fields: Extra structured fields for the mirrored log entry
func (l *Log) Add(msg string, err error, fields ...logger.Field) {
	entry := msg
	if err != nil {
		entry = fmt.Sprintf("%s: %v", msg, err)
		fields = append(fields, logger.F("error", err.Error()))
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.logger.Error(msg, fields...)
}

// Addf appends a formatted message.
func (l *Log) Addf(format string, args ...any) {
	l.Add(fmt.Sprintf(format, args...), nil)
}

// Entries returns a copy of all messages in the order they were added.
func (l *Log) Entries() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of messages recorded so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
