// Package selector builds yt-dlp format-selection expressions that encode the
// language preference policy: original audio language first, then English,
// then best available. The expressions are ordered fallback chains; matching
// is performed by yt-dlp itself when it is handed the expression.
package selector

import (
	"fmt"

	"github.com/skijbal/ytdlp2strm/internal/lang"
)

// BestSingle returns the selector for a single combined stream, used when
// falling back to a direct progressive URL.
func BestSingle(origLang string) string {
	if l := lang.Normalize(origLang); l != "" {
		return fmt.Sprintf("best[language^=%s]/best[language^=en]/best", l)
	}
	return "best[language^=en]/best"
}

// BestAudio returns the selector for an audio-only stream.
func BestAudio(origLang string) string {
	if l := lang.Normalize(origLang); l != "" {
		return fmt.Sprintf("bestaudio[language^=%s]/bestaudio[language^=en]/bestaudio", l)
	}
	return "bestaudio[language^=en]/bestaudio"
}

// BestAV returns the selector for best video combined with preferred audio,
// degrading tier by tier down to any single best stream.
func BestAV(origLang string) string {
	if l := lang.Normalize(origLang); l != "" {
		return fmt.Sprintf(
			"bestvideo*+bestaudio[language^=%s]/bestvideo*+bestaudio[language^=en]/bestvideo*+bestaudio/best", l)
	}
	return "bestvideo*+bestaudio[language^=en]/bestvideo*+bestaudio/best"
}
