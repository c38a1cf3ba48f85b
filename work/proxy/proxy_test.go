package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"streamvault/work/client"
	"streamvault/work/config"
	"streamvault/work/token"
)

func testProxy(t *testing.T) *StreamProxy {
	t.Helper()

	cfg := &config.Config{
		UserAgent:           "test-agent",
		PinnedReferer:       "https://pinned.example/",
		PinnedRefererHosts:  []string{"pinnedcdn"},
		PlaylistCacheMaxAge: 300,
		SegmentCacheMaxAge:  86400,
	}
	codec, err := token.NewCodec()
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return NewStreamProxy(cfg, client.NewHeaderSettingClient(cfg), codec, NewNoRefererHostSet(nil))
}

func serveStream(t *testing.T, sp *StreamProxy, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := mux.NewRouter()
	router.HandleFunc("/stream/{token}", sp.HandleStream())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSegmentPassthroughByteIdentity(t *testing.T) {
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i * 31)
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CDN disguising a segment as an image
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(payload)
	}))
	defer upstream.Close()

	sp := testProxy(t)
	rec := serveStream(t, sp, "/stream/"+sp.codec.EncodeURL(upstream.URL+"/seg-1.ts"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Error("segment body must pass through unmodified")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/MP2T" {
		t.Errorf("content type must be forced to video/MP2T, got %s", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "immutable") {
		t.Errorf("segments must be cached immutably, got %s", cc)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
}

func TestPlaylistRewriteCompleteness(t *testing.T) {
	var upstreamHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		fmt.Fprintf(w, `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="enc.key",IV=0x1234
#EXTINF:4.0,
seg-relative.ts
#EXTINF:4.0,
/root/seg-rooted.ts
#EXTINF:4.0,
%s/seg-absolute.html
#EXTINF:4.0,
sub/dir/seg-nested.bin
#EXT-X-ENDLIST`, upstreamHost)
	}))
	defer upstream.Close()
	upstreamHost = upstream.URL

	sp := testProxy(t)
	refTok := sp.codec.EncodeURL("https://player.example/")
	rec := serveStream(t, sp, "/stream/"+sp.codec.EncodeURL(upstream.URL+"/hls/master.m3u8")+"?r="+refTok)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	wantTargets := map[string]bool{
		upstream.URL + "/hls/enc.key":             false,
		upstream.URL + "/hls/seg-relative.ts":     false,
		upstream.URL + "/root/seg-rooted.ts":      false,
		upstream.URL + "/seg-absolute.html":       false,
		upstream.URL + "/hls/sub/dir/seg-nested.bin": false,
	}

	for _, line := range strings.Split(rec.Body.String(), "\n") {
		line = strings.TrimSpace(line)
		var ref string
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#"):
			idx := strings.Index(line, `URI="`)
			if idx < 0 {
				continue
			}
			rest := line[idx+len(`URI="`):]
			ref = rest[:strings.Index(rest, `"`)]
		default:
			ref = line
		}

		if !strings.HasPrefix(ref, "/stream/") {
			t.Errorf("reference not proxied: %q", ref)
			continue
		}
		u, err := url.Parse(ref)
		if err != nil {
			t.Fatalf("bad rewritten ref %q: %v", ref, err)
		}
		if u.Query().Get("r") != refTok {
			t.Errorf("referer token not propagated on %q", ref)
		}
		tok := strings.TrimPrefix(u.Path, "/stream/")
		target, err := sp.codec.DecodeURL(tok)
		if err != nil {
			t.Fatalf("rewritten token does not decode: %v", err)
		}
		if _, ok := wantTargets[target]; !ok {
			t.Errorf("unexpected rewrite target %q", target)
		}
		wantTargets[target] = true
	}

	for target, seen := range wantTargets {
		if !seen {
			t.Errorf("reference never rewritten: %q", target)
		}
	}

	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("playlist cache control: %s", cc)
	}
}

func TestRefererRetryConvergence(t *testing.T) {
	var withReferer, withoutReferer int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "" {
			withReferer++
			w.WriteHeader(http.StatusForbidden)
			return
		}
		withoutReferer++
		w.Write([]byte("segment-data"))
	}))
	defer upstream.Close()

	sp := testProxy(t)
	segURL := upstream.URL + "/seg.ts"

	rec := serveStream(t, sp, "/stream/"+sp.codec.EncodeURL(segURL))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status %d", rec.Code)
	}
	if withReferer != 1 || withoutReferer != 1 {
		t.Fatalf("first request should pay exactly one retry, got with=%d without=%d", withReferer, withoutReferer)
	}

	// The host is now remembered; subsequent requests skip the Referer
	// proactively.
	rec = serveStream(t, sp, "/stream/"+sp.codec.EncodeURL(segURL))
	if rec.Code != http.StatusOK {
		t.Fatalf("second request: status %d", rec.Code)
	}
	if withReferer != 1 {
		t.Errorf("second request must not send a Referer, upstream saw %d referer requests", withReferer)
	}
	if withoutReferer != 2 {
		t.Errorf("expected 2 no-referer fetches, got %d", withoutReferer)
	}
}

func TestNonOKPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer upstream.Close()

	sp := testProxy(t)
	rec := serveStream(t, sp, "/stream/"+sp.codec.EncodeURL(upstream.URL+"/dead.ts"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("upstream status must pass through, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "Stream unavailable" {
		t.Errorf("got body %q", body)
	}
}

func TestMalformedTokenRejected(t *testing.T) {
	sp := testProxy(t)
	rec := serveStream(t, sp, "/stream/not-a-real-token")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed token, got %d", rec.Code)
	}
}

func TestAmbiguousContentTypeSniffing(t *testing.T) {
	playlist := "#EXTM3U\n#EXT-X-VERSION:3\n#EXTINF:4.0,\nseg-1.ts\n#EXT-X-ENDLIST\n"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		io.WriteString(w, playlist)
	}))
	defer upstream.Close()

	sp := testProxy(t)
	// extension-less playlist URL with a lying content type
	rec := serveStream(t, sp, "/stream/"+sp.codec.EncodeURL(upstream.URL+"/playlist"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Errorf("sniffed playlist must be served as mpegurl, got %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "/stream/") {
		t.Error("sniffed playlist must still be rewritten")
	}
}
