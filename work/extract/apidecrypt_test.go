package extract

import (
	"testing"

	"streamvault/work/config"
)

func TestPickStreamFieldPriority(t *testing.T) {
	s := &apiDecryptStrategy{provider: &config.ProviderConfig{PayloadURL: "https://payload.example"}}

	tests := []struct {
		name    string
		payload decryptPayload
		want    string
	}{
		{
			name:    "direct source wins over everything",
			payload: decryptPayload{Source: "https://1.2.3.4/hls/a.m3u8", HLSVideoCDN: "/v/b.m3u8", CF: "https://cf.example/c.m3u8"},
			want:    "https://1.2.3.4/hls/a.m3u8",
		},
		{
			name:    "relative CDN path resolved against payload host",
			payload: decryptPayload{HLSVideoCDN: "/v/b.m3u8", CF: "https://cf.example/c.m3u8"},
			want:    "https://payload.example/v/b.m3u8",
		},
		{
			name:    "absolute CDN path passes through",
			payload: decryptPayload{HLSVideoCDN: "https://tiktokcdn.example/v/b.m3u8"},
			want:    "https://tiktokcdn.example/v/b.m3u8",
		},
		{
			name:    "fallback mirror last",
			payload: decryptPayload{CF: "https://cf.example/c.m3u8"},
			want:    "https://cf.example/c.m3u8",
		},
		{
			name:    "nothing usable",
			payload: decryptPayload{},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.pickStream(&tt.payload); got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestCollectSubtitlesMergesBothSources(t *testing.T) {
	s := &apiDecryptStrategy{provider: &config.ProviderConfig{PayloadURL: "https://payload.example"}}

	payload := decryptPayload{Subtitle: map[string]string{"en": "/subs/en.vtt"}}
	meta := decryptMeta{Subs: []struct {
		Lang  string `json:"lang"`
		Label string `json:"label"`
		URL   string `json:"url"`
	}{
		{Lang: "es", Label: "Spanish", URL: "https://subs.example/es.srt"},
		{URL: "https://subs.example/unlabeled.srt"},
		{Lang: "fr"}, // no URL, dropped
	}}

	subs := s.collectSubtitles(&payload, &meta)
	if len(subs) != 3 {
		t.Fatalf("expected 3 subtitles, got %d: %v", len(subs), subs)
	}

	byURL := make(map[string]string)
	for _, sub := range subs {
		byURL[sub.URL] = sub.Lang
	}
	if byURL["https://payload.example/subs/en.vtt"] != "en" {
		t.Error("relative payload subtitle path must resolve against the payload host")
	}
	if byURL["https://subs.example/unlabeled.srt"] != "en" {
		t.Error("missing lang must default to en")
	}
}
