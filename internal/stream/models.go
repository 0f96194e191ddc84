package stream

import "strings"

// audioMarker in a video id selects the audio-only delivery path. Library
// entries for audio extraction are written as "<video-id>-audio".
const audioMarker = "-audio"

// SplitAudioID splits the audio marker off a video id, returning the raw id
// and whether the request is audio-only.
func SplitAudioID(id string) (raw string, audioOnly bool) {
	raw, _, audioOnly = strings.Cut(id, audioMarker)
	return raw, audioOnly
}
