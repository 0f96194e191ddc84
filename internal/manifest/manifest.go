// Package manifest rewrites HLS multivariant playlists down to a single
// deterministic audio+video choice. Video picks the highest advertised
// bandwidth; audio is scored by a language preference policy (original
// language, then English, then tie-breaker attributes).
package manifest

import (
	"strconv"
	"strings"

	"github.com/skijbal/ytdlp2strm/internal/lang"
)

// MaskedBandwidth is the bandwidth value advertised for the chosen video
// rendition. A modest, stable value keeps players from attempting to
// ladder-switch away from the only rendition left in the playlist.
const MaskedBandwidth = 279001

// scoreFloor is below any reachable score, so the first parsed audio
// rendition always becomes the running best.
const scoreFloor = -1 << 30

// Rendition is one playable alternative parsed from a manifest line.
type Rendition struct {
	Bandwidth  int
	Language   string
	Name       string
	Default    bool
	Autoselect bool
	GroupID    string
	URI        string

	// Line is the original manifest line; URL is the following URL line for
	// video (stream-inf) entries.
	Line string
	URL  string
}

// Rewrite parses an HLS multivariant playlist and emits a minimal playlist
// containing at most one audio and one video rendition. originalLang is an
// optional language hint (any tag form; it is normalized internally).
// Structurally odd input never fails; the worst case is a header-only
// playlist.
func Rewrite(content, originalLang string) string {
	orig := lang.Normalize(originalLang)
	lines := splitLines(content)

	var bestVideo Rendition
	var bestAudio, fallbackAudio Rendition
	bestScore := scoreFloor

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			// A stream-inf entry carries its URL on the following line; an
			// entry with no following line is not selectable.
			if i+1 >= len(lines) {
				continue
			}
			r := parseStreamInf(line, lines[i+1])
			if r.Bandwidth > bestVideo.Bandwidth {
				bestVideo = r
			}

		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			r, ok := parseMedia(line)
			if !ok {
				continue
			}
			if fallbackAudio.Line == "" {
				fallbackAudio = r
			}
			if s := r.score(orig); s > bestScore {
				bestScore = s
				bestAudio = r
			}
		}
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")

	switch {
	case bestAudio.Line != "":
		b.WriteString(bestAudio.Line)
		b.WriteString("\n")
	case fallbackAudio.Line != "":
		b.WriteString(fallbackAudio.Line)
		b.WriteString("\n")
	}

	if bestVideo.Line != "" && bestVideo.URL != "" {
		b.WriteString(bestVideo.Line)
		b.WriteString("\n")
		b.WriteString(bestVideo.URL)
		b.WriteString("\n")
	}

	return b.String()
}

// parseStreamInf parses a video entry. A missing or unparsable BANDWIDTH
// yields 0. When the bandwidth is known, the stored line advertises
// MaskedBandwidth instead.
func parseStreamInf(line, url string) Rendition {
	attrs := parseAttrs(line)
	bw, err := strconv.Atoi(attrs["BANDWIDTH"])
	if err != nil || bw < 0 {
		bw = 0
	}
	stored := line
	if bw > 0 {
		stored = maskBandwidth(line)
	}
	return Rendition{Bandwidth: bw, Line: stored, URL: url}
}

// parseMedia parses an audio entry. It returns ok=false for entries that are
// not selectable: no URI attribute, or a TYPE other than AUDIO (an absent
// TYPE is accepted; some manifests omit it).
func parseMedia(line string) (Rendition, bool) {
	if !strings.Contains(line, "URI=") {
		return Rendition{}, false
	}
	attrs := parseAttrs(line)
	if t := strings.ToUpper(attrs["TYPE"]); t != "" && t != "AUDIO" {
		return Rendition{}, false
	}
	return Rendition{
		Language:   strings.ToLower(attrs["LANGUAGE"]),
		Name:       strings.ToLower(attrs["NAME"]),
		Default:    strings.ToUpper(attrs["DEFAULT"]) == "YES",
		Autoselect: strings.ToUpper(attrs["AUTOSELECT"]) == "YES",
		GroupID:    attrs["GROUP-ID"],
		URI:        attrs["URI"],
		Line:       line,
	}, true
}

// score ranks an audio rendition: original language first, English next,
// then default/autoselect flags. Ties keep the first-seen candidate, so
// callers must compare with strictly-greater-than.
func (r Rendition) score(origLang string) int {
	score := 0
	if origLang != "" && strings.HasPrefix(r.Language, origLang) {
		score += 400
	}
	if strings.HasPrefix(r.Language, "en") {
		score += 200
	}
	if strings.Contains(r.Name, "english") {
		score += 200
	}
	if r.Default {
		score += 40
	}
	if r.Autoselect {
		score += 10
	}
	// Legacy tie-break: one known source reuses group id "234" for a
	// well-formed default track.
	if strings.Contains(r.Line, "234") || r.GroupID == "234" {
		score += 3
	}
	return score
}

// parseAttrs parses the attribute list after the first colon of a tag line.
// Commas inside double-quoted values are not separators; fragments without
// an "=" are ignored. Keys are uppercased, values stripped of quotes.
func parseAttrs(line string) map[string]string {
	attrs := make(map[string]string)
	_, raw, found := strings.Cut(line, ":")
	if !found {
		return attrs
	}
	for _, part := range splitAttrList(raw) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		attrs[strings.ToUpper(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return attrs
}

// splitAttrList splits on commas that are not inside double quotes.
func splitAttrList(raw string) []string {
	var parts []string
	start := 0
	inQuotes := false
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				parts = append(parts, raw[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, raw[start:])
}

// maskBandwidth rewrites the BANDWIDTH attribute value to MaskedBandwidth,
// leaving every other attribute (including AVERAGE-BANDWIDTH) untouched.
func maskBandwidth(line string) string {
	prefix, raw, found := strings.Cut(line, ":")
	if !found {
		return line
	}
	parts := splitAttrList(raw)
	for i, part := range parts {
		k, _, ok := strings.Cut(part, "=")
		if ok && strings.ToUpper(strings.TrimSpace(k)) == "BANDWIDTH" {
			parts[i] = strings.TrimSpace(k) + "=" + strconv.Itoa(MaskedBandwidth)
		}
	}
	return prefix + ":" + strings.Join(parts, ",")
}

// splitLines splits on newlines, tolerating CRLF line endings.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
