package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	logSuffix = ".audit.jsonl"
	logMode   = 0o600
)

const (
	OpBunkerSet     = "bunker_set"
	OpBunkerClear   = "bunker_clear"
	OpBunkerConnect = "bunker_connect"
)

type Entry struct {
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	Details   string `json:"details"`
}

func (e Entry) Time() time.Time {
	t, _ := time.Parse(time.RFC3339, e.Timestamp)
	return t
}

// Log is the append-only record of signer operations kept next to the engine database.
type Log struct {
	log  *zap.Logger
	path string
	now  func() time.Time
}

func Path(dbPath string) string {
	return strings.TrimSuffix(dbPath, filepath.Ext(dbPath)) + logSuffix
}

func New(log *zap.Logger, dbPath string) *Log {
	return &Log{
		log:  log,
		path: Path(dbPath),
		now:  time.Now,
	}
}

func (l *Log) Path() string {
	return l.path
}

// Record appends one entry. It is best effort: a failure is logged and the
// operation being audited goes on.
func (l *Log) Record(operation, details string) {
	line, err := json.Marshal(Entry{
		Timestamp: l.now().UTC().Format(time.RFC3339),
		Operation: operation,
		Details:   details,
	})
	if err != nil {
		l.log.Warn("Failed to encode audit entry", zap.String("operation", operation), zap.Error(err))
		return
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logMode)
	if err != nil {
		l.log.Warn("Failed to open audit log", zap.String("path", l.path), zap.Error(err))
		return
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(append(line, '\n')); err != nil {
		l.log.Warn("Failed to append audit entry", zap.String("path", l.path), zap.Error(err))
	}
}

// Tail returns the last n entries, oldest first. Lines that do not parse are skipped.
func (l *Log) Tail(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	ring := make([]Entry, 0, n)

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}

		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, e)
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	return ring, nil
}
