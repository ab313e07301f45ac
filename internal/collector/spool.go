package collector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// SpoolSource reads observations from a JSON-lines spool file written by an
// external platform collector. Each poll consumes only lines appended since
// the previous poll, so redelivery happens only when the file is truncated
// and rewritten (which the engine tolerates anyway).
type SpoolSource struct {
	path   string
	offset int64
	logger *slog.Logger
}

// NewSpoolSource creates a SpoolSource for the given file path. The file
// does not need to exist yet.
func NewSpoolSource(path string, logger *slog.Logger) *SpoolSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpoolSource{path: path, logger: logger}
}

// Poll reads newly appended observation lines. Malformed lines are logged
// and skipped rather than failing the batch. The offset only advances past
// newline-terminated lines: trailing bytes without a newline are a line the
// writer has not finished yet, and consuming them would lose the
// observation for good once it completes.
func (s *SpoolSource) Poll(ctx context.Context) ([]Observation, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("spool: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("spool: stat: %w", err)
	}
	if info.Size() < s.offset {
		// File was truncated; start over from the beginning.
		s.logger.Warn("Spool file truncated, rereading", "path", s.path)
		s.offset = 0
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("spool: seek: %w", err)
	}

	var observations []Observation
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return observations, fmt.Errorf("spool: read: %w", err)
		}
		s.offset += int64(len(line))
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var obs Observation
		if err := json.Unmarshal(line, &obs); err != nil {
			s.logger.Warn("Skipping malformed spool line", "error", err)
			continue
		}
		observations = append(observations, obs)
	}
	return observations, nil
}
