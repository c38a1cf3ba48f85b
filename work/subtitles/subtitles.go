// Package subtitles converts upstream subtitle files into browser-ready
// WebVTT. Upstreams serve a mix of SRT and VTT, often under wrong
// content types, so normalization keys off the content itself.
package subtitles

import (
	"strings"

	"github.com/grafana/regexp"
)

// srtTimestampPattern matches the comma-separated millisecond part of an
// SRT timestamp (00:01:02,345).
var srtTimestampPattern = regexp.MustCompile(`(\d{2}:\d{2}:\d{2}),(\d{3})`)

// Normalize converts a subtitle file to WebVTT. Files already carrying
// the WEBVTT header pass through unchanged; everything else is treated
// as SRT: timestamps get period milliseconds and the header is
// prepended.
func Normalize(b []byte) []byte {
	text := string(b)
	if strings.HasPrefix(text, "WEBVTT") {
		return b
	}
	vtt := "WEBVTT\n\n" + srtTimestampPattern.ReplaceAllString(text, "$1.$2")
	return []byte(vtt)
}
