package proxy

import (
	"bytes"
	"strings"

	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"

	"streamvault/work/token"
	"streamvault/work/utils"
)

// uriAttrPattern matches the URI attribute carried by tags like
// EXT-X-KEY and EXT-X-MAP.
var uriAttrPattern = regexp.MustCompile(`URI="([^"]+)"`)

// isPlaylistURL reports whether the URL itself marks an HLS playlist.
// Some CDNs serve master playlists from extension-less "cf-master"
// paths.
func isPlaylistURL(u string) bool {
	return strings.Contains(u, ".m3u8") || strings.Contains(u, "cf-master")
}

// isPlaylistContentType reports whether the response content type marks
// an HLS playlist.
func isPlaylistContentType(ct string) bool {
	return strings.Contains(ct, "mpegurl") || strings.Contains(ct, "m3u8")
}

// sniffPlaylist decides whether an ambiguous small body is an HLS
// playlist by actually decoding it.
func sniffPlaylist(body []byte) bool {
	if !bytes.HasPrefix(bytes.TrimLeft(body, " \t\r\n"), []byte("#EXTM3U")) {
		return false
	}
	_, _, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	return err == nil
}

// rewritePlaylist rewrites every reference in an HLS playlist to point
// back at this proxy. Each non-comment non-blank line is a segment or
// variant reference regardless of its extension, and tag URI attributes
// are references too. refSuffix propagates the caller's referer token to
// sub-requests; it is either empty or "?r=<token>".
func rewritePlaylist(codec *token.Codec, manifestURL string, body []byte, refSuffix string) []byte {
	encode := func(ref string) string {
		abs := utils.ResolveReference(manifestURL, ref)
		return "/stream/" + codec.EncodeURL(abs) + refSuffix
	}

	lines := strings.Split(string(body), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if strings.Contains(trimmed, "URI=") {
				lines[i] = uriAttrPattern.ReplaceAllStringFunc(line, func(m string) string {
					uri := uriAttrPattern.FindStringSubmatch(m)[1]
					return `URI="` + encode(uri) + `"`
				})
			}
			continue
		}
		lines[i] = encode(trimmed)
	}
	return []byte(strings.Join(lines, "\n"))
}
