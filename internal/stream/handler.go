package stream

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/skijbal/ytdlp2strm/internal/platform/metrics"
	"github.com/skijbal/ytdlp2strm/internal/probe"
)

const (
	manifestContentType = "application/vnd.apple.mpegurl; charset=utf-8"
	relayContentType    = "video/mp4"
)

// Handler exposes the delivery endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
	dedupe  *probe.Dedupe
}

// NewHandler returns a Handler that uses the given Service, Logger, optional
// Metrics, and optional request de-duplication cache. Metrics and dedupe may
// be nil (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics, dedupe *probe.Dedupe) *Handler {
	return &Handler{svc: svc, log: log, metrics: m, dedupe: dedupe}
}

// Routes mounts the delivery endpoints on r. The relay route may carry extra
// middleware (e.g. a per-IP rate limit) supplied by the caller.
func (h *Handler) Routes(r chi.Router, relayMiddleware ...func(http.Handler) http.Handler) {
	r.Route("/youtube", func(r chi.Router) {
		r.Get("/direct/{video_id}", h.Direct)
		r.Options("/direct/{video_id}", h.Preflight)
		r.With(relayMiddleware...).Get("/bridge/{video_id}", h.Bridge)
	})
}

// Direct handles GET /youtube/direct/{video_id}: a rewritten manifest for
// video requests, a 301 redirect for audio-only requests or when no manifest
// is available.
func (h *Handler) Direct(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	if videoID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.logPlaying(r, videoID)

	ctx := r.Context()
	raw, audioOnly := SplitAudioID(videoID)

	if audioOnly {
		url, err := h.svc.AudioURL(ctx, raw)
		if err != nil || url == "" {
			h.log.Error("audio url resolution failed",
				slog.String("video_id", videoID), slog.Any("error", err))
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Redirect(w, r, url, http.StatusMovedPermanently)
		return
	}

	content, err := h.svc.Manifest(ctx, videoID)
	switch {
	case err == nil:
		writeManifestHeaders(w.Header())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(content))
		if h.metrics != nil {
			h.metrics.IncManifestsRewritten()
		}

	case errors.Is(err, ErrNoManifest):
		h.log.Warn("no manifest detected, serving single-stream fallback; "+
			"configure cookies to access the full-quality manifest",
			slog.String("video_id", videoID))
		url, ferr := h.svc.FallbackURL(ctx, videoID)
		if ferr != nil || url == "" {
			h.log.Error("fallback url resolution failed",
				slog.String("video_id", videoID), slog.Any("error", ferr))
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Redirect(w, r, url, http.StatusMovedPermanently)

	default:
		h.log.Error("manifest fetch failed",
			slog.String("video_id", videoID), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusNotFound)
	}
}

// Preflight answers CORS preflight requests for the manifest endpoint.
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	writeCORSHeaders(w.Header())
	w.WriteHeader(http.StatusNoContent)
}

// Bridge handles GET /youtube/bridge/{video_id}: spawns the external
// producer and relays its output. A producer that fails to start or produces
// nothing yields an empty response, not an error status; retry policy
// belongs to the caller.
func (h *Handler) Bridge(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	if videoID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.logPlaying(r, videoID)

	sessionID := uuid.NewString()
	sessionLog := h.log.With(
		slog.String("session_id", sessionID),
		slog.String("video_id", videoID),
	)

	sess, err := h.svc.NewRelay(r.Context(), videoID)
	if err != nil {
		sessionLog.Error("producer failed to start", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", relayContentType)
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", relayContentType)
	if h.metrics != nil {
		h.metrics.RelaySessionStarted()
		defer h.metrics.RelaySessionEnded()
	}
	sessionLog.Debug("relay session started")

	if err := sess.Stream(r.Context(), &flushWriter{w: w}); err != nil {
		// Client disconnects and producer deaths both land here; the
		// session has already terminated the producer.
		sessionLog.Debug("relay session ended", slog.String("error", err.Error()))
		return
	}
	sessionLog.Debug("relay session drained")
}

// logPlaying logs the first sighting of a client/video pair; rapid repeats
// within the de-dup TTL stay quiet.
func (h *Handler) logPlaying(r *http.Request, videoID string) {
	addr := clientAddr(r)
	if h.dedupe != nil && h.dedupe.Seen(addr+"_"+videoID) {
		return
	}
	h.log.Info("playing", slog.String("client", addr), slog.String("video_id", videoID))
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeManifestHeaders(h http.Header) {
	h.Set("Content-Type", manifestContentType)
	h.Set("Content-Disposition", `inline; filename="index.m3u8"`)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Accept-Ranges", "bytes")
	writeCORSHeaders(h)
}

func writeCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range")
}

// flushWriter flushes the response after every chunk so relayed bytes reach
// the player immediately instead of sitting in the server's write buffer.
type flushWriter struct {
	w io.Writer
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}
