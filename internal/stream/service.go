package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/skijbal/ytdlp2strm/internal/manifest"
	"github.com/skijbal/ytdlp2strm/internal/probe"
	"github.com/skijbal/ytdlp2strm/internal/relay"
	"github.com/skijbal/ytdlp2strm/internal/selector"
	"github.com/skijbal/ytdlp2strm/internal/ytdlp"
)

// ErrNoManifest is returned when the probe exposes no multivariant manifest
// for a video, typically because the extractor ran without authentication.
var ErrNoManifest = errors.New("no manifest available")

// Prober is the subset of the yt-dlp client the service depends on.
type Prober interface {
	Probe(ctx context.Context, videoID string) (*ytdlp.Info, error)
	ResolveURL(ctx context.Context, videoID, format string) (string, error)
	StreamCommand(videoID, format string) (string, []string)
}

// SourceStarter spawns an external producer process; relay.StartSource in
// production.
type SourceStarter func(ctx context.Context, name string, args ...string) (io.ReadCloser, error)

// Service resolves video ids to playable output: a rewritten manifest, a
// direct URL, or a relay session. It applies the language preference policy
// through the probe cache.
type Service struct {
	prober    Prober
	cache     *probe.Cache
	log       *slog.Logger
	client    *http.Client
	start     SourceStarter
	relayOpts relay.Options
}

// NewService returns a Service with production defaults for the manifest
// fetch client and the relay tuning.
func NewService(prober Prober, cache *probe.Cache, log *slog.Logger) *Service {
	return &Service{
		prober: prober,
		cache:  cache,
		log:    log,
		client: &http.Client{Timeout: 15 * time.Second},
		start: func(ctx context.Context, name string, args ...string) (io.ReadCloser, error) {
			return relay.StartSource(ctx, name, args...)
		},
		relayOpts: relay.DefaultOptions(),
	}
}

// SetRelayOptions overrides the relay buffering defaults.
func (s *Service) SetRelayOptions(opts relay.Options) {
	s.relayOpts = opts
}

// Manifest probes the video fresh (manifest URLs are short-lived), fetches
// the multivariant manifest, and rewrites it to a single choice driven by
// the original audio language. ErrNoManifest means the caller should fall
// back to a direct URL.
func (s *Service) Manifest(ctx context.Context, videoID string) (string, error) {
	info, err := s.prober.Probe(ctx, videoID)
	if err != nil {
		s.log.Debug("probe failed", slog.String("video_id", videoID), slog.String("error", err.Error()))
		return "", ErrNoManifest
	}

	manifestURL := info.ManifestURL()
	if manifestURL == "" {
		return "", ErrNoManifest
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("manifest fetch: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return manifest.Rewrite(string(body), info.OriginalAudioLang()), nil
}

// FallbackURL resolves a single progressive stream URL, used when no
// manifest is available. The language hint comes from the probe cache; a
// missing hint degrades to the English-first tier.
func (s *Service) FallbackURL(ctx context.Context, videoID string) (string, error) {
	orig := s.cache.GetOrProbe(ctx, videoID).OriginalAudioLang()
	return s.prober.ResolveURL(ctx, videoID, selector.BestSingle(orig))
}

// AudioURL resolves a direct audio-only URL for the raw (marker-stripped)
// video id.
func (s *Service) AudioURL(ctx context.Context, rawID string) (string, error) {
	orig := s.cache.GetOrProbe(ctx, rawID).OriginalAudioLang()
	return s.prober.ResolveURL(ctx, rawID, selector.BestAudio(orig))
}

// NewRelay spawns the external producer for videoID and wraps it in a relay
// session. The "-audio" marker selects the audio-only selector expression.
func (s *Service) NewRelay(ctx context.Context, videoID string) (*relay.Session, error) {
	raw, audioOnly := SplitAudioID(videoID)

	orig := s.cache.GetOrProbe(ctx, raw).OriginalAudioLang()
	format := selector.BestAV(orig)
	if audioOnly {
		format = selector.BestAudio(orig)
	}

	name, args := s.prober.StreamCommand(raw, format)
	src, err := s.start(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return relay.NewSession(src, s.relayOpts), nil
}
