// Package transcoder supervises external encoder processes: one ffmpeg
// invocation per live stream, converting an input source into a sliding
// window of HLS segments on disk.
package transcoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"signalmesh/internal/kv"
)

const (
	defaultSegmentDuration = 4
	defaultPlaylistSize    = 5
	forcedKillGrace        = 3 * time.Second
)

// Config controls where encoder output lands and how many concurrent
// transcodes a single worker will run.
type Config struct {
	Store          kv.Store
	Logger         *slog.Logger
	StorageRoot    string
	FFmpegPath     string
	MaxConcurrent  int
	SegmentSeconds int
	PlaylistSize   int
	WorkerID       string
}

// Supervisor tracks one external encoder process per live stream.
type Supervisor struct {
	store          kv.Store
	logger         *slog.Logger
	storageRoot    string
	ffmpegPath     string
	maxConcurrent  int
	segmentSeconds int
	playlistSize   int
	workerID       string

	mu        sync.Mutex
	processes map[string]*trackedProcess
}

// trackedProcess with a nil cmd is a reservation: a Start call has claimed
// the stream's slot and the concurrency budget but has not finished
// spawning ffmpeg yet. Every other method that walks the map treats a
// reservation as not-yet-running rather than as a crashed process.
type trackedProcess struct {
	tenantID  string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	// exited is closed by the goroutine that owns cmd.Wait() once the
	// process has been reaped, so Stop's forced-kill timer can wait for
	// exit without calling Wait a second time on the same *os.Process.
	exited chan struct{}
}

// New constructs a Supervisor. Store may be nil, in which case job
// registration (the reaper's cross-worker visibility aid) is skipped.
func New(cfg Config) (*Supervisor, error) {
	root := strings.TrimSpace(cfg.StorageRoot)
	if root == "" {
		return nil, fmt.Errorf("transcoder: storage root is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("transcoder: resolve storage root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("transcoder: prepare storage root: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ffmpegPath := strings.TrimSpace(cfg.FFmpegPath)
	if ffmpegPath == "" {
		ffmpegPath = "/usr/bin/ffmpeg"
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	segmentSeconds := cfg.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = defaultSegmentDuration
	}
	playlistSize := cfg.PlaylistSize
	if playlistSize <= 0 {
		playlistSize = defaultPlaylistSize
	}
	return &Supervisor{
		store:          cfg.Store,
		logger:         logger,
		storageRoot:    absRoot,
		ffmpegPath:     ffmpegPath,
		maxConcurrent:  maxConcurrent,
		segmentSeconds: segmentSeconds,
		playlistSize:   playlistSize,
		workerID:       cfg.WorkerID,
		processes:      make(map[string]*trackedProcess),
	}, nil
}

// Start spawns an encoder for streamID reading from inputURL. It refuses if
// an encoder is already running (or starting) for this stream or the worker
// is already at its concurrency cap.
//
// Both the guard check and the spawn itself need the lock held to be atomic
// with each other, but MkdirAll and cmd.Start are suspension points we can't
// hold the lock across. Start therefore reserves the stream's slot (and the
// concurrency budget) under the lock with a placeholder entry before doing
// any of that blocking work, so a second, concurrent Start call for the same
// or another stream sees the reservation and can't also pass the guard.
func (s *Supervisor) Start(ctx context.Context, tenantID, streamID, inputURL string) bool {
	s.mu.Lock()
	if _, exists := s.processes[streamID]; exists {
		s.mu.Unlock()
		return false
	}
	if len(s.processes) >= s.maxConcurrent {
		s.mu.Unlock()
		return false
	}
	s.processes[streamID] = &trackedProcess{tenantID: tenantID}
	s.mu.Unlock()

	streamDir := s.streamDir(streamID)
	if err := os.MkdirAll(streamDir, 0o755); err != nil {
		s.logger.Error("failed to create stream output directory", "stream_id", streamID, "error", err)
		s.mu.Lock()
		delete(s.processes, streamID)
		s.mu.Unlock()
		return false
	}

	args := s.buildArgs(inputURL, streamDir)
	cmd := exec.Command(s.ffmpegPath, args...)
	cmd.Stdout = newLogWriter(s.logger, streamID, "stdout")
	cmd.Stderr = newLogWriter(s.logger, streamID, "stderr")
	if err := cmd.Start(); err != nil {
		s.logger.Error("failed to start encoder", "stream_id", streamID, "error", err)
		s.mu.Lock()
		delete(s.processes, streamID)
		s.mu.Unlock()
		return false
	}

	proc := &trackedProcess{tenantID: tenantID, cmd: cmd, pid: cmd.Process.Pid, startedAt: time.Now().UTC(), exited: make(chan struct{})}
	s.mu.Lock()
	s.processes[streamID] = proc
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		close(proc.exited)
		if err != nil {
			s.logger.Warn("encoder exited", "stream_id", streamID, "error", err)
		} else {
			s.logger.Info("encoder exited", "stream_id", streamID)
		}
	}()

	if s.store != nil {
		s.registerJob(context.Background(), tenantID, streamID, proc)
	}
	s.logger.Info("encoder started", "stream_id", streamID, "pid", proc.pid)
	return true
}

// Stop sends SIGTERM to the tracked process and, if it has not exited within
// forcedKillGrace, follows up with SIGKILL on a detached goroutine. The map
// entry is removed immediately; further liveness checks against streamID are
// irrelevant once Stop has been called.
func (s *Supervisor) Stop(streamID string) bool {
	s.mu.Lock()
	proc, ok := s.processes[streamID]
	if ok && proc.cmd != nil {
		delete(s.processes, streamID)
	}
	s.mu.Unlock()
	if !ok || proc.cmd == nil {
		return false
	}

	if err := proc.cmd.Process.Signal(unix.SIGTERM); err != nil {
		s.logger.Warn("failed to send SIGTERM", "stream_id", streamID, "pid", proc.pid, "error", err)
	}

	go func() {
		timer := time.NewTimer(forcedKillGrace)
		defer timer.Stop()
		select {
		case <-proc.exited:
		case <-timer.C:
			if err := proc.cmd.Process.Kill(); err != nil {
				s.logger.Warn("failed to force-kill encoder", "stream_id", streamID, "pid", proc.pid, "error", err)
			}
		}
	}()

	if s.store != nil {
		if err := s.store.Del(context.Background(), jobKey(proc.tenantID, streamID)); err != nil {
			s.logger.Warn("failed to remove transcode job record", "stream_id", streamID, "error", err)
		}
	}
	s.logger.Info("encoder stop requested", "stream_id", streamID, "pid", proc.pid)
	return true
}

// IsActive reports whether a tracked process exists and is still alive,
// probed via a signal-0 liveness check. A probe failure evicts the entry.
func (s *Supervisor) IsActive(streamID string) bool {
	s.mu.Lock()
	proc, ok := s.processes[streamID]
	s.mu.Unlock()
	if !ok || proc.cmd == nil {
		return false
	}
	if err := unix.Kill(proc.pid, 0); err != nil {
		s.mu.Lock()
		delete(s.processes, streamID)
		s.mu.Unlock()
		if s.store != nil {
			_ = s.store.Del(context.Background(), jobKey(proc.tenantID, streamID))
		}
		return false
	}
	return true
}

// Cleanup removes every file in the stream's output directory and the
// directory itself. It is idempotent: a missing directory is not an error.
func (s *Supervisor) Cleanup(streamID string) error {
	dir := s.streamDir(streamID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("transcoder: cleanup %s: %w", streamID, err)
	}
	return nil
}

// StopAll stops every tracked process, used during worker shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.processes))
	for id, proc := range s.processes {
		if proc.cmd != nil {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Stop(id)
	}
}

// Stats reports the number of tracked processes.
func (s *Supervisor) Stats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processes)
}

// TrackedStreamIDs returns every stream id this supervisor currently tracks,
// used by the reaper to drive lazy liveness probing.
func (s *Supervisor) TrackedStreamIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.processes))
	for id, proc := range s.processes {
		if proc.cmd != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Supervisor) streamDir(streamID string) string {
	return filepath.Join(s.storageRoot, streamID)
}

func (s *Supervisor) buildArgs(inputURL, outputDir string) []string {
	playlist := filepath.ToSlash(filepath.Join(outputDir, "playlist.m3u8"))
	segmentPattern := filepath.ToSlash(filepath.Join(outputDir, "segment_%05d.ts"))
	return []string{
		"-y",
		"-i", inputURL,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "44100",
		"-f", "hls",
		"-hls_time", strconv.Itoa(s.segmentSeconds),
		"-hls_list_size", strconv.Itoa(s.playlistSize),
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_filename", segmentPattern,
		playlist,
	}
}

func (s *Supervisor) registerJob(ctx context.Context, tenantID, streamID string, proc *trackedProcess) {
	value := fmt.Sprintf(`{"pid":%d,"startedAt":"%s","workerId":"%s"}`,
		proc.pid, proc.startedAt.Format(time.RFC3339), s.workerID)
	if err := s.store.SetEX(ctx, jobKey(tenantID, streamID), value, 0); err != nil {
		s.logger.Warn("failed to register transcode job", "stream_id", streamID, "error", err)
	}
}

func jobKey(tenantID, streamID string) string {
	return fmt.Sprintf("transcode_job:%s:%s", tenantID, streamID)
}
