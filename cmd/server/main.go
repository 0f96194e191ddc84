package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/skijbal/ytdlp2strm/internal/platform/config"
	"github.com/skijbal/ytdlp2strm/internal/platform/logger"
	"github.com/skijbal/ytdlp2strm/internal/platform/metrics"
	"github.com/skijbal/ytdlp2strm/internal/probe"
	"github.com/skijbal/ytdlp2strm/internal/relay"
	"github.com/skijbal/ytdlp2strm/internal/stream"
	"github.com/skijbal/ytdlp2strm/internal/ytdlp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	client := ytdlp.NewClient(ytdlp.Options{
		Bin:              config.GetEnv("YTDLP_BIN", "yt-dlp"),
		CookiesFlag:      config.GetEnv("YTDLP_COOKIES_FLAG", "cookies-from-browser"),
		CookieValue:      config.GetEnv("YTDLP_COOKIE_VALUE", ""),
		ProxyURL:         config.GetEnv("YTDLP_PROXY_URL", ""),
		Lang:             config.GetEnv("YTDLP_LANG", ""),
		SponsorBlock:     config.GetEnvBool("SPONSORBLOCK", false),
		SponsorBlockCats: config.GetEnv("SPONSORBLOCK_CATS", "sponsor"),
	})

	cache := probe.NewCache(client.Probe,
		config.GetEnvInt("PROBE_CACHE_CAPACITY", probe.DefaultCapacity),
		config.GetEnvDuration("PROBE_CACHE_TTL", probe.DefaultTTL),
	)
	dedupe := probe.NewDedupe(
		config.GetEnvInt("REQUEST_DEDUPE_CAPACITY", probe.DefaultDedupeCapacity),
		config.GetEnvDuration("REQUEST_DEDUPE_TTL", probe.DefaultDedupeTTL),
	)

	svc := stream.NewService(client, cache, logger.WithComponent(log, "stream"))
	defaults := relay.DefaultOptions()
	svc.SetRelayOptions(relay.Options{
		ChunkSize: config.GetEnvInt("RELAY_CHUNK_SIZE", defaults.ChunkSize),
		WarmUp:    config.GetEnvDuration("RELAY_WARMUP", defaults.WarmUp),
		Holdback:  config.GetEnvInt("RELAY_HOLDBACK", defaults.Holdback),
	})

	met := metrics.New()
	h := stream.NewHandler(svc, logger.WithComponent(log, "http"), met, dedupe)

	bridgeRateLimit := config.GetEnvInt("BRIDGE_RATE_LIMIT_PER_MINUTE", 30)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			s := cache.Stats()
			met.SetProbeCacheStats(s.Hits, s.Misses, s.Size)
		}).ServeHTTP(w, r)
	})
	h.Routes(r, httprate.LimitByIP(bridgeRateLimit, time.Minute))

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
