// Package proxy relays upstream stream traffic to the client. Every URL
// the client sees is an encrypted token minted here; manifests are
// rewritten on the way through so sub-requests come back to this proxy
// too, and segments stream straight from the upstream socket.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"streamvault/work/client"
	"streamvault/work/config"
	"streamvault/work/logger"
	"streamvault/work/metrics"
	"streamvault/work/token"
	"streamvault/work/utils"
)

// sniffLimit caps how large an ambiguous body may be and still get
// playlist sniffing. Anything larger streams as binary.
const sniffLimit = 2 << 20

// StreamProxy serves /stream/{token}: decode the token, fetch the
// upstream with the right browser identity, and relay the result.
type StreamProxy struct {
	config    *config.Config
	client    *client.HeaderSettingClient
	codec     *token.Codec
	noReferer *NoRefererHostSet
}

// NewStreamProxy wires the proxy with its collaborators.
func NewStreamProxy(cfg *config.Config, hc *client.HeaderSettingClient, codec *token.Codec, noReferer *NoRefererHostSet) *StreamProxy {
	return &StreamProxy{
		config:    cfg,
		client:    hc,
		codec:     codec,
		noReferer: noReferer,
	}
}

// HandleStream returns the handler for GET /stream/{token}.
func (sp *StreamProxy) HandleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		upstreamURL, err := sp.codec.DecodeURL(mux.Vars(r)["token"])
		if err != nil {
			http.Error(w, "Invalid stream token", http.StatusBadRequest)
			return
		}

		callerReferer := ""
		if rt := r.URL.Query().Get("r"); rt != "" {
			callerReferer, err = sp.codec.DecodeURL(rt)
			if err != nil {
				http.Error(w, "Invalid referer token", http.StatusBadRequest)
				return
			}
		}

		sp.serve(w, r, upstreamURL, callerReferer, r.URL.Query().Get("r"))
	}
}

func (sp *StreamProxy) serve(w http.ResponseWriter, r *http.Request, upstreamURL, callerReferer, rawRefToken string) {
	parsed, err := url.Parse(upstreamURL)
	if err != nil {
		http.Error(w, "Invalid stream token", http.StatusBadRequest)
		return
	}

	metrics.ActiveProxyFetches.Inc()
	defer metrics.ActiveProxyFetches.Dec()

	resp, err := sp.fetch(r, upstreamURL, parsed.Hostname(), callerReferer)
	if err != nil {
		logger.Error("{proxy/proxy.go - serve} fetch failed for %s: %v", utils.LogURL(sp.config, upstreamURL), err)
		metrics.ProxyRequests.WithLabelValues("error").Inc()
		http.Error(w, "Stream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	metrics.ProxyRequests.WithLabelValues(strconv.Itoa(resp.StatusCode / 100 * 100)).Inc()

	writeCORS(w)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.WriteHeader(resp.StatusCode)
		fmt.Fprint(w, "Stream unavailable")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	refSuffix := ""
	if rawRefToken != "" {
		refSuffix = "?r=" + rawRefToken
	}

	if isPlaylistURL(upstreamURL) || isPlaylistContentType(contentType) {
		sp.servePlaylist(w, resp, upstreamURL, refSuffix)
		return
	}

	// Ambiguous content type on a small body may still be a playlist;
	// CDNs routinely mislabel both directions.
	if ambiguousType(contentType) && resp.ContentLength >= 0 && resp.ContentLength <= sniffLimit {
		body, err := io.ReadAll(io.LimitReader(resp.Body, sniffLimit))
		if err != nil {
			logger.Error("{proxy/proxy.go - serve} body read failed: %v", err)
			return
		}
		if sniffPlaylist(body) {
			sp.writePlaylist(w, rewritePlaylist(sp.codec, upstreamURL, body, refSuffix))
			return
		}
		sp.writeSegmentHeaders(w, int64(len(body)))
		n, _ := w.Write(body)
		metrics.ProxyBytes.WithLabelValues("segment").Add(float64(n))
		return
	}

	sp.writeSegmentHeaders(w, resp.ContentLength)
	n, err := io.Copy(w, resp.Body)
	if err != nil && !errors.Is(err, r.Context().Err()) {
		logger.Debug("{proxy/proxy.go - serve} segment relay ended early: %v", err)
	}
	metrics.ProxyBytes.WithLabelValues("segment").Add(float64(n))
}

// fetch performs the upstream request, applying the referer policy and
// the single no-Referer retry after a 403.
func (sp *StreamProxy) fetch(r *http.Request, upstreamURL, hostname, callerReferer string) (*http.Response, error) {
	referer, origin := sp.refererFor(upstreamURL, hostname, callerReferer)

	skip := sp.noReferer.Has(hostname)
	if skip {
		referer, origin = "", ""
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstreamURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := sp.client.DoWithReferer(req, referer, origin)
	if err != nil {
		return nil, err
	}

	// One immediate retry without Referer; some segment CDNs reject any
	// Referer at all.
	if resp.StatusCode == http.StatusForbidden && !skip && referer != "" {
		resp.Body.Close()

		req, err = http.NewRequestWithContext(r.Context(), http.MethodGet, upstreamURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err = sp.client.Do(req)
		if err != nil {
			metrics.RefererRetries.WithLabelValues("false").Inc()
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			metrics.RefererRetries.WithLabelValues("true").Inc()
			sp.noReferer.Observe(hostname)
		} else {
			metrics.RefererRetries.WithLabelValues("false").Inc()
		}
	}

	return resp, nil
}

// refererFor picks the Referer/Origin pair for an upstream host. The
// caller's own referer wins; pinned CDN hosts and bare-IP hosts get the
// configured pinned referer; everything else gets the URL's own origin.
func (sp *StreamProxy) refererFor(upstreamURL, hostname, callerReferer string) (string, string) {
	if callerReferer != "" {
		if u, err := url.Parse(callerReferer); err == nil && u.Scheme != "" {
			return callerReferer, u.Scheme + "://" + u.Host
		}
		return callerReferer, ""
	}

	if sp.isPinnedHost(hostname) {
		return sp.config.PinnedReferer, strings.TrimSuffix(sp.config.PinnedReferer, "/")
	}

	if u, err := url.Parse(upstreamURL); err == nil {
		origin := u.Scheme + "://" + u.Host
		return origin + "/", origin
	}
	return "", ""
}

func (sp *StreamProxy) isPinnedHost(hostname string) bool {
	if utils.IsIPLiteralHost(hostname) {
		return true
	}
	for _, marker := range sp.config.PinnedRefererHosts {
		if strings.Contains(hostname, marker) {
			return true
		}
	}
	return false
}

func (sp *StreamProxy) servePlaylist(w http.ResponseWriter, resp *http.Response, upstreamURL, refSuffix string) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, sniffLimit))
	if err != nil {
		logger.Error("{proxy/proxy.go - servePlaylist} playlist read failed: %v", err)
		return
	}
	sp.writePlaylist(w, rewritePlaylist(sp.codec, upstreamURL, body, refSuffix))
}

func (sp *StreamProxy) writePlaylist(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", sp.config.PlaylistCacheMaxAge))
	n, _ := w.Write(body)
	metrics.ProxyBytes.WithLabelValues("playlist").Add(float64(n))
}

// writeSegmentHeaders forces the video content type regardless of what
// the CDN claims; some hosts disguise segments as images.
func (sp *StreamProxy) writeSegmentHeaders(w http.ResponseWriter, contentLength int64) {
	if contentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	}
	w.Header().Set("Content-Type", "video/MP2T")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", sp.config.SegmentCacheMaxAge))
}

func writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Range")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Content-Length")
}

func ambiguousType(ct string) bool {
	return ct == "" ||
		strings.Contains(ct, "octet-stream") ||
		strings.Contains(ct, "text/plain")
}

// EncodeStreamPath builds the proxied path for an upstream URL, with an
// optional referer to propagate. Extraction handlers use this to hand
// the client a playable URL.
func (sp *StreamProxy) EncodeStreamPath(upstreamURL, referer string) string {
	p := "/stream/" + sp.codec.EncodeURL(upstreamURL)
	if referer != "" {
		p += "?r=" + sp.codec.EncodeURL(referer)
	}
	return p
}
