package logcollection

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/core-tools/hsu-dash/pkg/errors"
)

const (
	maxLineLength  = 1024 * 1024
	readBufferSize = 64 * 1024
)

// TruncatedMarker is appended to a line cut at the maximum line length.
const TruncatedMarker = " [truncated]"

// LineFunc receives each line with its arrival time. It must not block: a
// stalled reader would stall the producing process on a full pipe.
type LineFunc func(stream Stream, line string, at time.Time)

// ReadLines reads stream line by line until EOF or ctx is done. Lines longer
// than the maximum are cut, marked with TruncatedMarker, and the remainder of
// the line is skipped.
func ReadLines(ctx context.Context, stream io.Reader, streamType Stream, fn LineFunc) error {
	reader := bufio.NewReaderSize(stream, readBufferSize)
	line := make([]byte, 0, readBufferSize)
	truncated := false

	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return errors.NewAdapterError("failed to read output stream", err).WithContext("stream", string(streamType))
		}

		if room := maxLineLength - len(line); len(chunk) > room {
			line = append(line, chunk[:room]...)
			truncated = true
		} else {
			line = append(line, chunk...)
		}
		if isPrefix {
			continue
		}

		if ctx.Err() != nil {
			return nil
		}
		text := string(line)
		if truncated {
			text += TruncatedMarker
		}
		fn(streamType, text, time.Now())

		line = line[:0]
		truncated = false
	}
}
