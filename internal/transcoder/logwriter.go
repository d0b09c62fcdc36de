package transcoder

import (
	"bytes"
	"log/slog"
)

// logWriter adapts an ffmpeg stdout/stderr pipe into line-oriented slog
// records, attributing every line to the stream id and the pipe (stdout or
// stderr) that produced it.
type logWriter struct {
	logger   *slog.Logger
	streamID string
	stream   string
}

func newLogWriter(logger *slog.Logger, streamID, stream string) *logWriter {
	return &logWriter{logger: logger, streamID: streamID, stream: stream}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("encoder output", "stream_id", w.streamID, "pipe", w.stream, "line", string(line))
	}
	return total, nil
}
