package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/model"
)

const (
	DefaultLogFile = "marmot-messages.jsonl"
	logFileMode    = 0o600
)

type LogFileService struct {
	log  *zap.Logger
	path string
	out  io.Writer
	now  func() time.Time
}

func NewLogFileService(log *zap.Logger, path string, out io.Writer) *LogFileService {
	if path == "" {
		path = DefaultLogFile
	}

	return &LogFileService{
		log:  log,
		path: path,
		out:  out,
		now:  time.Now,
	}
}

func (s *LogFileService) Name() string {
	return "log"
}

// Handle appends one JSON line per notification. The line is built before the file
// is touched and written with a single write on an O_APPEND descriptor, so concurrent
// handlers never interleave and a rejected notification leaves the file as it was.
func (s *LogFileService) Handle(_ context.Context, env *model.Envelope) error {
	line, err := env.Logged(s.now())
	if err != nil {
		return apperrors.Input(err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFileMode)
	if err != nil {
		return apperrors.Downstream(fmt.Errorf("open log file: %w", err))
	}

	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return apperrors.Downstream(fmt.Errorf("append to log file: %w", err))
	}

	if err := f.Close(); err != nil {
		return apperrors.Downstream(fmt.Errorf("close log file: %w", err))
	}

	s.log.Debug("Notification logged", zap.String("file", s.path), zap.Int("bytes", len(line)))

	if s.out != nil {
		fmt.Fprintln(s.out, env.Summary())
	}

	return nil
}
