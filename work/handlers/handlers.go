// Package handlers holds the inbound HTTP surface: provider discovery,
// stream extraction, subtitle proxying and the playback session API.
// Each handler is a closure over its collaborators, wired up in main.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"streamvault/work/client"
	"streamvault/work/config"
	"streamvault/work/extract"
	"streamvault/work/logger"
	"streamvault/work/proxy"
	"streamvault/work/session"
	"streamvault/work/subtitles"
	"streamvault/work/types"
)

// maxSubtitleSize caps proxied subtitle files. Real subtitle files top
// out in the hundreds of kilobytes.
const maxSubtitleSize = 5 << 20

// HandleSources serves the provider roster for the client UI.
func HandleSources(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cfg.Descriptors())
	}
}

type extractResponse struct {
	Success   bool             `json:"success"`
	HLSURL    string           `json:"hlsUrl,omitempty"`
	Subtitles []types.Subtitle `json:"subtitles,omitempty"`
	Source    string           `json:"source,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// HandleExtractStream resolves a stream and hands back a proxied URL.
// Missing or malformed identifiers are a 400; an extraction that merely
// failed is a 200 with success=false so the player can present the error
// and offer a provider switch.
func HandleExtractStream(o *extract.Orchestrator, sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := parseContentRef(r)
		if !ok {
			http.Error(w, "id required", http.StatusBadRequest)
			return
		}

		res, err := o.Resolve(r.Context(), ref, r.URL.Query().Get("provider"))
		if err != nil {
			logger.Warn("{handlers/handlers.go - HandleExtractStream} extraction failed for %s: %v", ref.Key(), err)
			writeJSON(w, http.StatusOK, extractResponse{Success: false, Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, extractResponse{
			Success:   true,
			HLSURL:    sp.EncodeStreamPath(res.StreamURL, res.UpstreamReferer),
			Subtitles: proxySubtitles(res.Subtitles),
			Source:    res.SourceID,
		})
	}
}

// proxySubtitles swaps upstream subtitle URLs for proxied ones so the
// browser never fetches cross-origin.
func proxySubtitles(subs []types.Subtitle) []types.Subtitle {
	out := make([]types.Subtitle, len(subs))
	for i, s := range subs {
		out[i] = types.Subtitle{
			Lang:  s.Lang,
			Label: s.Label,
			URL:   "/api/subtitle-file?url=" + url.QueryEscape(s.URL),
		}
	}
	return out
}

// HandleSubtitleFile fetches an upstream subtitle file and serves it as
// WebVTT. Only http and https targets are allowed.
func HandleSubtitleFile(hc *client.HeaderSettingClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("url")
		if raw == "" {
			http.Error(w, "url required", http.StatusBadRequest)
			return
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			http.Error(w, "invalid url", http.StatusBadRequest)
			return
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, raw, nil)
		if err != nil {
			http.Error(w, "invalid url", http.StatusBadRequest)
			return
		}
		resp, err := hc.Do(req)
		if err != nil {
			http.Error(w, "subtitle fetch failed", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			http.Error(w, "subtitle fetch failed", http.StatusBadGateway)
			return
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxSubtitleSize))
		if err != nil {
			http.Error(w, "subtitle fetch failed", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Write(subtitles.Normalize(body))
	}
}

// session API request bodies

type sessionEnterRequest struct {
	SessionID string `json:"sessionId"`
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Season    uint   `json:"season"`
	Episode   uint   `json:"episode"`
}

type sessionProviderRequest struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
}

type sessionPositionRequest struct {
	SessionID string  `json:"sessionId"`
	Position  float64 `json:"position"`
	Duration  float64 `json:"duration"`
}

type sessionIDRequest struct {
	SessionID string `json:"sessionId"`
}

// HandleSessionEnter starts playback of new content in a session.
func HandleSessionEnter(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionEnterRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.SessionID == "" || req.ID == "" {
			http.Error(w, "sessionId and id required", http.StatusBadRequest)
			return
		}

		ref := types.ContentRef{
			ID:      req.ID,
			Kind:    types.ParseMediaKind(req.Kind),
			Season:  req.Season,
			Episode: req.Episode,
		}
		v, err := m.Enter(r.Context(), req.SessionID, ref)
		writeSessionResult(w, v, err)
	}
}

// HandleSessionFail reports the current provider broke; the session
// moves on to the next candidate.
func HandleSessionFail(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionProviderRequest
		if !decodeBody(w, r, &req) {
			return
		}
		v, err := m.Fail(r.Context(), req.SessionID, req.Provider)
		writeSessionResult(w, v, err)
	}
}

// HandleSessionSwitch moves to a provider the user picked.
func HandleSessionSwitch(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionProviderRequest
		if !decodeBody(w, r, &req) {
			return
		}
		v, err := m.Switch(r.Context(), req.SessionID, req.Provider)
		writeSessionResult(w, v, err)
	}
}

// HandleSessionRetry revives an exhausted session.
func HandleSessionRetry(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionIDRequest
		if !decodeBody(w, r, &req) {
			return
		}
		v, err := m.Retry(r.Context(), req.SessionID)
		writeSessionResult(w, v, err)
	}
}

// HandleSessionLeave tears a session down, persisting the playhead.
func HandleSessionLeave(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionIDRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := m.Leave(req.SessionID); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// HandleSessionPosition records the playhead.
func HandleSessionPosition(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionPositionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := m.UpdatePosition(req.SessionID, req.Position, req.Duration); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// HandleSessionState serves the session's current view.
func HandleSessionState(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := m.State(r.URL.Query().Get("sessionId"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func parseContentRef(r *http.Request) (types.ContentRef, bool) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		return types.ContentRef{}, false
	}

	ref := types.ContentRef{
		ID:   id,
		Kind: types.ParseMediaKind(q.Get("kind")),
	}
	if ref.Kind == types.KindSeries {
		season, err1 := strconv.ParseUint(q.Get("season"), 10, 32)
		episode, err2 := strconv.ParseUint(q.Get("episode"), 10, 32)
		if err1 != nil || err2 != nil || season == 0 || episode == 0 {
			return types.ContentRef{}, false
		}
		ref.Season = uint(season)
		ref.Episode = uint(episode)
	}
	return ref, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeSessionResult maps session outcomes onto the wire: state machine
// violations and unknown sessions are client errors; an exhausted
// resolve still returns the view so the UI can show the terminal state.
func writeSessionResult(w http.ResponseWriter, v *session.View, err error) {
	if err != nil && v == nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
			"session": v,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": v,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers/handlers.go - writeJSON} encode failed: %v", err)
	}
}
