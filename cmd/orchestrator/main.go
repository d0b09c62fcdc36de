// Command orchestrator starts the signaling, chat, HLS origin, and
// stream-lifecycle HTTP surface: the real-time control plane for one worker
// of the live-streaming service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"signalmesh/internal/chatmod"
	"signalmesh/internal/hlsorigin"
	"signalmesh/internal/kv"
	"signalmesh/internal/observability/logging"
	"signalmesh/internal/observability/metrics"
	"signalmesh/internal/reaper"
	"signalmesh/internal/server"
	"signalmesh/internal/serverutil"
	"signalmesh/internal/signaling"
	"signalmesh/internal/streammgr"
	"signalmesh/internal/transcoder"
	"signalmesh/internal/viewers"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")

	redisAddr := flag.String("redis-addr", "", "Redis address backing the shared KV store")
	redisAddrs := flag.String("redis-addrs", "", "comma-separated Redis addresses for sentinel/cluster mode")
	redisPassword := flag.String("redis-password", "", "Redis password")
	redisMasterName := flag.String("redis-master-name", "", "Redis Sentinel master name")

	streamKeyTTL := flag.Duration("stream-key-ttl", 24*time.Hour, "stream key TTL")
	viewerTTL := flag.Duration("viewer-ttl", 30*time.Second, "viewer presence TTL")

	storageRoot := flag.String("hls-storage-root", "", "directory transcoded HLS output is written to and served from")
	ffmpegPath := flag.String("ffmpeg-path", "", "path to the ffmpeg binary")
	maxConcurrentTranscodes := flag.Int("max-concurrent-transcodes", 0, "maximum concurrent transcodes per worker (0 = default of 4)")
	segmentSeconds := flag.Int("segment-seconds", 0, "HLS segment duration in seconds")
	playlistSize := flag.Int("playlist-size", 0, "number of segments retained in the live playlist")
	workerID := flag.String("worker-id", "", "identifier for this worker, recorded alongside transcode job registrations")

	chatSlowModeSeconds := flag.Int("chat-slow-mode-seconds", 0, "minimum seconds between chat messages from one user (0 = off)")
	chatMaxMessageLength := flag.Int("chat-max-message-length", 500, "maximum chat message length")

	reaperInterval := flag.Duration("reaper-interval", 30*time.Second, "interval between reaper sweeps")

	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	createStreamLimit := flag.Int("rate-create-stream-limit", 10, "maximum stream-creation attempts per window for a single IP")
	createStreamWindow := flag.Duration("rate-create-stream-window", time.Minute, "window over which rate-create-stream-limit is enforced")

	adminOrigins := flag.String("cors-admin-origins", "", "comma-separated origins allowed for admin/broadcaster requests")
	viewerOrigins := flag.String("cors-viewer-origins", "", "comma-separated origins allowed for viewer requests")

	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("SIGNALMESH_LOG_LEVEL")),
		Format: string(logging.FormatJSON),
	})
	recorder := metrics.Default()

	store, err := buildStore(*redisAddr, *redisAddrs, *redisPassword, *redisMasterName)
	if err != nil {
		logger.Error("build kv store", "error", err)
		os.Exit(1)
	}

	streams, err := streammgr.New(streammgr.Config{Store: store, Logger: logger, StreamKeyTTL: *streamKeyTTL})
	if err != nil {
		logger.Error("build stream manager", "error", err)
		os.Exit(1)
	}

	signalingRouter, err := signaling.New(signaling.Config{Validator: streams, Logger: logger})
	if err != nil {
		logger.Error("build signaling router", "error", err)
		os.Exit(1)
	}

	chatQueue, err := buildChatQueue(*redisAddr, *redisPassword, *workerID, logger)
	if err != nil {
		logger.Error("build chat event queue", "error", err)
		os.Exit(1)
	}

	moderator, err := chatmod.New(chatmod.Config{
		Store:            store,
		Logger:           logger,
		Sink:             chatQueue,
		MaxMessageLength: *chatMaxMessageLength,
		SlowModeSeconds:  *chatSlowModeSeconds,
	})
	if err != nil {
		logger.Error("build chat moderator", "error", err)
		os.Exit(1)
	}
	chatGateway := chatmod.NewGateway(moderator, logger)
	chatWorker := chatmod.NewEventWorker(chatQueue, recorder, logger)

	root := firstNonEmpty(*storageRoot, os.Getenv("SIGNALMESH_HLS_STORAGE_ROOT"), "./data/hls")
	hlsServer := hlsorigin.New(root)

	viewerTracker, err := viewers.New(store, *viewerTTL)
	if err != nil {
		logger.Error("build viewer tracker", "error", err)
		os.Exit(1)
	}

	supervisor, err := transcoder.New(transcoder.Config{
		Store:          store,
		Logger:         logger,
		StorageRoot:    root,
		FFmpegPath:     firstNonEmpty(*ffmpegPath, os.Getenv("SIGNALMESH_FFMPEG_PATH")),
		MaxConcurrent:  *maxConcurrentTranscodes,
		SegmentSeconds: *segmentSeconds,
		PlaylistSize:   *playlistSize,
		WorkerID:       firstNonEmpty(*workerID, os.Getenv("SIGNALMESH_WORKER_ID")),
	})
	if err != nil {
		logger.Error("build transcoder supervisor", "error", err)
		os.Exit(1)
	}

	streamReaper, err := reaper.New(reaper.Config{
		Supervisor: supervisor,
		Ender:      streams,
		Logger:     logger,
		Interval:   *reaperInterval,
	})
	if err != nil {
		logger.Error("build reaper", "error", err)
		os.Exit(1)
	}

	httpSrv, err := server.New(server.Config{
		Addr:   firstNonEmpty(*addr, os.Getenv("SIGNALMESH_ADDR"), ":8443"),
		TLS:    server.TLSConfig{CertFile: *tlsCert, KeyFile: *tlsKey},
		Logger: logger,
		Metrics: recorder,
		RateLimit: server.RateLimitConfig{
			GlobalRPS:          resolveFloat(*globalRPS, "SIGNALMESH_RATE_GLOBAL_RPS"),
			GlobalBurst:        resolveInt(*globalBurst, "SIGNALMESH_RATE_GLOBAL_BURST"),
			CreateStreamLimit:  *createStreamLimit,
			CreateStreamWindow: *createStreamWindow,
			RedisAddr:          *redisAddr,
			RedisPassword:      *redisPassword,
		},
		CORS: server.CORSConfig{
			AdminOrigins:  splitAndTrim(firstNonEmpty(*adminOrigins, os.Getenv("SIGNALMESH_CORS_ADMIN_ORIGINS"))),
			ViewerOrigins: splitAndTrim(firstNonEmpty(*viewerOrigins, os.Getenv("SIGNALMESH_CORS_VIEWER_ORIGINS"))),
		},
		Streams:   streams,
		Signaling: signalingRouter,
		Chat:      chatGateway,
		HLS:       hlsServer,
		Viewers:   viewerTracker,
	})
	if err != nil {
		logger.Error("build http server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	certFile, keyFile := httpSrv.TLS()
	group.Go(func() error {
		return serverutil.Run(groupCtx, serverutil.Config{
			Server:          httpSrv.HTTPServer(),
			TLS:             serverutil.TLSConfig{CertFile: certFile, KeyFile: keyFile},
			ShutdownTimeout: serverutil.DefaultShutdownTimeout,
		})
	})
	group.Go(func() error {
		return streamReaper.Run(groupCtx)
	})
	group.Go(func() error {
		return chatWorker.Run(groupCtx)
	})

	logger.Info("orchestrator listening", "addr", *addr)
	if err := group.Wait(); err != nil && groupCtx.Err() == nil {
		logger.Error("orchestrator exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("orchestrator stopped")
}

func buildChatQueue(redisAddr, redisPassword, workerID string, logger *slog.Logger) (chatmod.Queue, error) {
	addr := firstNonEmpty(redisAddr, os.Getenv("SIGNALMESH_REDIS_ADDR"))
	if addr == "" {
		return chatmod.NewMemoryQueue(), nil
	}
	return chatmod.NewRedisQueue(chatmod.RedisQueueConfig{
		Addr:       addr,
		Password:   firstNonEmpty(redisPassword, os.Getenv("SIGNALMESH_REDIS_PASSWORD")),
		ConsumerID: firstNonEmpty(workerID, os.Getenv("SIGNALMESH_WORKER_ID")),
		Logger:     logger,
	})
}

func buildStore(addr, addrs, password, masterName string) (kv.Store, error) {
	addr = firstNonEmpty(addr, os.Getenv("SIGNALMESH_REDIS_ADDR"))
	addrList := splitAndTrim(firstNonEmpty(addrs, os.Getenv("SIGNALMESH_REDIS_ADDRS")))
	if addr == "" && len(addrList) == 0 {
		return kv.NewMemoryStore(), nil
	}
	return kv.NewRedisStore(kv.RedisConfig{
		Addr:       addr,
		Addrs:      addrList,
		Password:   firstNonEmpty(password, os.Getenv("SIGNALMESH_REDIS_PASSWORD")),
		MasterName: firstNonEmpty(masterName, os.Getenv("SIGNALMESH_REDIS_MASTER_NAME")),
	})
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			return parsed
		}
	}
	return flagValue
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return flagValue
}
