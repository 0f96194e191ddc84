// Package ytdlp is the boundary to the external yt-dlp tool. It models an
// invocation as a structured value that is serialized to argument strings
// only here, keeping tool syntax out of the rest of the service.
package ytdlp

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/skijbal/ytdlp2strm/internal/lang"
)

// probeExtractorArgs keeps the probe on player clients that expose HLS
// manifests.
const probeExtractorArgs = "youtube:player-client=default,web_safari"

// Options apply to every invocation: binary location, authentication, proxy,
// extractor language, and SponsorBlock trimming for streamed output.
type Options struct {
	Bin              string // defaults to "yt-dlp"
	CookiesFlag      string // "cookies-from-browser" or "cookies"
	CookieValue      string // browser name or cookie file; empty disables cookies
	ProxyURL         string
	Lang             string
	SponsorBlock     bool
	SponsorBlockCats string
}

// Runner executes a command and returns its standard output. Tests substitute
// a fake; production uses os/exec.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Client issues yt-dlp invocations.
type Client struct {
	opts   Options
	runner Runner
}

// NewClient returns a Client using os/exec with the given options.
func NewClient(opts Options) *Client {
	if opts.Bin == "" {
		opts.Bin = "yt-dlp"
	}
	if opts.CookiesFlag == "" {
		opts.CookiesFlag = "cookies-from-browser"
	}
	return &Client{opts: opts, runner: execRunner{}}
}

// NewClientWithRunner is NewClient with an injected Runner, for tests.
func NewClientWithRunner(opts Options, r Runner) *Client {
	c := NewClient(opts)
	c.runner = r
	return c
}

// Info is the subset of the yt-dlp JSON probe output this service consumes.
// yt-dlp exposes the original language under different keys depending on
// extractor and version.
type Info struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	OriginalLanguage     string   `json:"original_language"`
	OriginalLanguageCode string   `json:"original_language_code"`
	Language             string   `json:"language"`
	Formats              []Format `json:"formats"`
}

// Format is one downloadable format advertised by the probe.
type Format struct {
	FormatID    string `json:"format_id"`
	ManifestURL string `json:"manifest_url"`
}

// OriginalAudioLang returns the normalized original audio language, trying
// the candidate fields in precedence order. Empty when unknown.
func (i *Info) OriginalAudioLang() string {
	if i == nil {
		return ""
	}
	for _, v := range []string{i.OriginalLanguage, i.OriginalLanguageCode, i.Language} {
		if l := lang.Normalize(v); l != "" {
			return l
		}
	}
	return ""
}

// ManifestURL returns the multivariant manifest URL of the first format that
// carries one, or "" when the probe exposed no manifest.
func (i *Info) ManifestURL() string {
	if i == nil {
		return ""
	}
	for _, f := range i.Formats {
		if f.ManifestURL != "" {
			return f.ManifestURL
		}
	}
	return ""
}

// WatchURL expands a raw video id to a full watch URL. Inputs that are
// already URLs pass through unchanged.
func WatchURL(id string) string {
	if strings.HasPrefix(id, "http") {
		return id
	}
	return "https://www.youtube.com/watch?v=" + id
}

// Invocation describes one yt-dlp run. It is serialized to argv by args;
// nothing outside this package deals in flag strings.
type Invocation struct {
	Target            string
	Format            string
	DumpJSON          bool
	GetURL            bool
	StreamToStdout    bool
	RestrictFilenames bool
	SponsorBlock      bool
	SponsorBlockCats  string
	ExtractorArgs     []string
}

func (inv Invocation) args(o Options) []string {
	var args []string
	if inv.DumpJSON {
		args = append(args, "-j")
	}
	args = append(args, "--no-warnings")
	if inv.StreamToStdout {
		args = append(args, "-o", "-")
	}
	if inv.Format != "" {
		args = append(args, "-f", inv.Format)
	}
	if inv.GetURL {
		args = append(args, "--get-url")
	}
	if inv.SponsorBlock && inv.SponsorBlockCats != "" {
		args = append(args, "--sponsorblock-remove", inv.SponsorBlockCats)
	}
	if inv.RestrictFilenames {
		args = append(args, "--restrict-filenames")
	}
	if len(inv.ExtractorArgs) > 0 {
		args = append(args, "--extractor-args", strings.Join(inv.ExtractorArgs, ";"))
	}
	if strings.TrimSpace(o.CookieValue) != "" {
		args = append(args, "--"+o.CookiesFlag, o.CookieValue)
	}
	if o.ProxyURL != "" {
		args = append(args, "--proxy", o.ProxyURL)
	}
	return append(args, inv.Target)
}

// langExtractorArgs mirrors the extractor arguments used for listing and
// streaming: UI language plus skipping the playlist auth check.
func (o Options) langExtractorArgs() []string {
	var ea []string
	if strings.TrimSpace(o.Lang) != "" {
		ea = append(ea, "youtube:lang="+o.Lang)
	}
	return append(ea, "youtubetab:skip=authcheck")
}

// Probe runs a lightweight metadata probe (-j) for the given video id or URL.
func (c *Client) Probe(ctx context.Context, videoID string) (*Info, error) {
	inv := Invocation{
		Target:        WatchURL(videoID),
		DumpJSON:      true,
		ExtractorArgs: []string{probeExtractorArgs},
	}
	out, err := c.runner.Output(ctx, c.opts.Bin, inv.args(c.opts)...)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ResolveURL resolves a direct media URL for the given format selector.
func (c *Client) ResolveURL(ctx context.Context, videoID, format string) (string, error) {
	inv := Invocation{
		Target: WatchURL(videoID),
		Format: format,
		GetURL: true,
	}
	out, err := c.runner.Output(ctx, c.opts.Bin, inv.args(c.opts)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// StreamCommand returns the binary and argv for a streaming invocation that
// writes media bytes to stdout. The caller owns process lifecycle.
func (c *Client) StreamCommand(videoID, format string) (string, []string) {
	inv := Invocation{
		Target:            WatchURL(videoID),
		Format:            format,
		StreamToStdout:    true,
		RestrictFilenames: true,
		SponsorBlock:      c.opts.SponsorBlock,
		SponsorBlockCats:  c.opts.SponsorBlockCats,
		ExtractorArgs:     c.opts.langExtractorArgs(),
	}
	return c.opts.Bin, inv.args(c.opts)
}
